package memory

import (
	"context"
	"errors"
	"time"

	"github.com/avvvet/defibuddy-intent/internal/slots"
)

// MaxHistory caps the number of turns kept per session.
const MaxHistory = 10

var (
	ErrQuotaExceeded   = errors.New("maximum sessions per user exceeded")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionLocked   = errors.New("session is busy")
)

// ConversationTurn is one query/response exchange.
type ConversationTurn struct {
	Query      string    `json:"query"`
	Response   string    `json:"response"`
	Intent     string    `json:"intent"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
	Source     string    `json:"source,omitempty"`
}

// Metadata describes where a session came from
type Metadata struct {
	CreatedAt    time.Time `json:"created_at"`
	ClientIP     string    `json:"client_ip"`
	UserAgent    string    `json:"user_agent"`
	LastActivity time.Time `json:"last_activity"`
}

// PendingPayment is a proposed service payment waiting for user confirmation.
type PendingPayment struct {
	slots.Record
	Service          string    `json:"service"`
	ServiceName      string    `json:"service_name"`
	RecipientAddress string    `json:"recipient_address"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// PendingTransfer is a proposed token transfer waiting for user confirmation.
type PendingTransfer struct {
	slots.Record
	RecipientAddress string    `json:"recipient_address"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Expired reports whether the payment can no longer be confirmed.
func (p *PendingPayment) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Expired reports whether the transfer can no longer be confirmed.
func (p *PendingTransfer) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Session is the full per-conversation state persisted in the store.
type Session struct {
	SessionID           string             `json:"session_id"`
	UserID              string             `json:"user_id"`
	LastQuery           string             `json:"last_query"`
	LastUpdated         time.Time          `json:"last_updated"`
	ConversationHistory []ConversationTurn `json:"conversation_history"`
	Metadata            Metadata           `json:"metadata"`
	Action              *slots.Record      `json:"action,omitempty"`
	PendingPayment      *PendingPayment    `json:"pending_payment,omitempty"`
	PendingTransfer     *PendingTransfer   `json:"pending_transfer,omitempty"`
}

// AddTurn appends a turn, dropping the oldest beyond MaxHistory.
func (s *Session) AddTurn(turn ConversationTurn) {
	s.ConversationHistory = append(s.ConversationHistory, turn)
	if n := len(s.ConversationHistory); n > MaxHistory {
		s.ConversationHistory = append([]ConversationTurn(nil), s.ConversationHistory[n-MaxHistory:]...)
	}
}

// RecentTurns returns up to n of the most recent turns, oldest first.
func (s *Session) RecentTurns(n int) []ConversationTurn {
	h := s.ConversationHistory
	if len(h) > n {
		h = h[len(h)-n:]
	}
	return h
}

// Store defines the session persistence contract.
// Implementations must be safe for concurrent use by many processes.
type Store interface {
	// Create registers a new session for userID, enforcing the per-user quota.
	Create(ctx context.Context, userID, clientIP, userAgent string) (string, error)

	// Get returns (nil, nil) when the session is absent or expired.
	Get(ctx context.Context, userID, sessionID string) (*Session, error)

	// Update persists s and refreshes its TTL. Returns ErrSessionNotFound
	// without writing when the session no longer exists.
	Update(ctx context.Context, userID, sessionID string, s *Session) error

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, userID, sessionID string) error

	// Ping checks the backing store is reachable.
	Ping(ctx context.Context) error
}

// Locker serializes turns on one session across processes.
type Locker interface {
	Lock(ctx context.Context, sessionID string) (unlock func(context.Context) error, err error)
}
