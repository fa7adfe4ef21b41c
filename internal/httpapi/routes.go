package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/avvvet/defibuddy-intent/internal/handlers"
	"github.com/avvvet/defibuddy-intent/internal/models"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.TurnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, models.ErrorInvalidInput, "request body must be a JSON object with a query")
		return
	}
	req.UserID = userFromRequest(r, req.UserID)
	req.SessionID = sessionFromRequest(r, req.SessionID)
	req.ClientIP = r.RemoteAddr
	req.UserAgent = r.UserAgent()

	resp, err := s.turns.ProcessTurn(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, r, http.StatusBadRequest, models.ErrorInvalidInput, err.Error())
		return
	}

	userID := userFromRequest(r, req.UserID)
	id, err := s.turns.CreateSession(r.Context(), userID, r.RemoteAddr, r.UserAgent())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"session_id": id,
		"user_id":    userID,
		"expires_in": int(s.cfg.SessionTTL.Seconds()),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	n, err := s.turns.LiveSessions(r.Context(), userFromRequest(r, ""))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"live_sessions":         n,
		"max_sessions_per_user": s.cfg.MaxSessionsPerUser,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.turns.DeleteSession(r.Context(), userFromRequest(r, ""), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleConfirmation(w http.ResponseWriter, r *http.Request) {
	summary, err := s.exec.Confirmation(r.Context(), userFromRequest(r, ""), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"confirmation": summary,
		"next_steps": []string{
			"Review the transaction details",
			"Confirm to execute",
			"Sign the transaction in your wallet",
		},
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	entry, err := s.exec.Execute(r.Context(), userFromRequest(r, ""), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

type pendingRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Service   string `json:"service"`
	Amount    string `json:"amount"`
	Token     string `json:"token"`
	Recipient string `json:"recipient"`
}

// decodePending reads the body and fills identity from headers or cookies.
func (s *Server) decodePending(w http.ResponseWriter, r *http.Request) (*pendingRequest, bool) {
	var req pendingRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, r, http.StatusBadRequest, models.ErrorInvalidInput, err.Error())
		return nil, false
	}
	req.UserID = userFromRequest(r, req.UserID)
	req.SessionID = sessionFromRequest(r, req.SessionID)
	if req.SessionID == "" {
		respondError(w, r, http.StatusBadRequest, models.ErrorInvalidInput, "session_id is required")
		return nil, false
	}
	return &req, true
}

func (s *Server) handleProposePayment(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodePending(w, r)
	if !ok {
		return
	}
	p, err := s.exec.ProposePayment(r.Context(), req.UserID, req.SessionID, req.Service, req.Amount, req.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "pending_confirmation",
		"payment": p,
		"message": "Confirm this payment within " + strconv.Itoa(int(p.ExpiresAt.Sub(p.CreatedAt).Minutes())) + " minutes.",
	})
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodePending(w, r)
	if !ok {
		return
	}
	entry, err := s.exec.ConfirmPayment(r.Context(), req.UserID, req.SessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleCancelPayment(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodePending(w, r)
	if !ok {
		return
	}
	if err := s.exec.CancelPayment(r.Context(), req.UserID, req.SessionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleProposeTransfer(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodePending(w, r)
	if !ok {
		return
	}
	t, err := s.exec.ProposeTransfer(r.Context(), req.UserID, req.SessionID, req.Amount, req.Token, req.Recipient)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "pending_confirmation",
		"transfer": t,
	})
}

func (s *Server) handleConfirmTransfer(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodePending(w, r)
	if !ok {
		return
	}
	entry, err := s.exec.ConfirmTransfer(r.Context(), req.UserID, req.SessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodePending(w, r)
	if !ok {
		return
	}
	if err := s.exec.CancelTransfer(r.Context(), req.UserID, req.SessionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleConnectWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     string          `json:"user_id"`
		Address    string          `json:"address"`
		Network    string          `json:"network"`
		WalletData json.RawMessage `json:"wallet_data"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, models.ErrorInvalidInput, "request body must include an address")
		return
	}
	userID := userFromRequest(r, req.UserID)
	if userID == "" {
		s.writeError(w, r, handlers.ErrUnauthenticated)
		return
	}

	c, err := s.exec.ConnectWallet(r.Context(), userID, req.Address, req.Network, req.WalletData)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "connected", "wallet": c})
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	userID := userFromRequest(r, "")
	if userID == "" {
		s.writeError(w, r, handlers.ErrUnauthenticated)
		return
	}
	info, err := s.exec.Wallet(r.Context(), userID, r.URL.Query().Get("asset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	price, err := s.exec.Price(r.Context(), symbol)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "price_usd": price})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	userID := userFromRequest(r, "")
	if userID == "" {
		s.writeError(w, r, handlers.ErrUnauthenticated)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.exec.Transactions(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"transactions": entries})
}
