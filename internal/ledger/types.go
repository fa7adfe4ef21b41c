// Package ledger records executed transactions per user.
package ledger

import (
	"context"
	"time"
)

// Kind of executed transaction.
const (
	KindAction   = "action"
	KindPayment  = "payment"
	KindTransfer = "transfer"
)

// Entry is one executed transaction.
type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Action    string    `json:"action,omitempty"`
	Amount    string    `json:"amount"`
	Token     string    `json:"token"`
	Recipient string    `json:"recipient,omitempty"`
	TxHash    string    `json:"tx_hash"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and lists ledger entries.
type Store interface {
	Record(ctx context.Context, e Entry) (Entry, error)
	Recent(ctx context.Context, userID string, limit int) ([]Entry, error)
	Ping(ctx context.Context) error
	Close() error
}

const defaultLimit = 20
