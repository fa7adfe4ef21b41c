package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

const (
	UserHeader     = "X-User-ID"
	SessionHeader  = "X-Session-ID"
	UserCookie     = "user_id"
	SessionCookie  = "session_id"
	devUserPrefix  = "devuser-"
	devUserIDBytes = 4
)

// userFromRequest resolves identity: explicit value, then header, then cookie.
func userFromRequest(r *http.Request, explicit string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.Header.Get(UserHeader)); v != "" {
		return v
	}
	if c, err := r.Cookie(UserCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func sessionFromRequest(r *http.Request, explicit string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.Header.Get(SessionHeader)); v != "" {
		return v
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func newDevUserID() (string, error) {
	b := make([]byte, devUserIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return devUserPrefix + hex.EncodeToString(b), nil
}

func setCookie(w http.ResponseWriter, name, value string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.DevAuth {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "login is not enabled")
		return
	}

	userID, err := newDevUserID()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sessionID, err := s.turns.CreateSession(r.Context(), userID, r.RemoteAddr, r.UserAgent())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	secure := !s.cfg.Debug
	setCookie(w, UserCookie, userID, s.cfg.SessionTTL, secure)
	setCookie(w, SessionCookie, sessionID, s.cfg.SessionTTL, secure)
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":    userID,
		"session_id": sessionID,
		"expires_in": int(s.cfg.SessionTTL.Seconds()),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID := userFromRequest(r, "")
	sessionID := sessionFromRequest(r, "")
	if userID != "" && sessionID != "" {
		if err := s.turns.DeleteSession(r.Context(), userID, sessionID); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	clearCookie(w, UserCookie)
	clearCookie(w, SessionCookie)
	respondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
