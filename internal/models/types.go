package models

import (
	"encoding/json"

	"github.com/avvvet/defibuddy-intent/internal/readiness"
	"github.com/avvvet/defibuddy-intent/internal/slots"
)

// Intent classifies a user message.
type Intent string

const (
	IntentGeneralQuery  Intent = "general_query"
	IntentActionRequest Intent = "action_request"
	IntentClarification Intent = "clarification"
)

// ParseIntent accepts the three known intents; anything else is a clarification.
func ParseIntent(s string) Intent {
	switch Intent(s) {
	case IntentGeneralQuery, IntentActionRequest, IntentClarification:
		return Intent(s)
	default:
		return IntentClarification
	}
}

// TurnRequest is one user message, over HTTP or NATS.
type TurnRequest struct {
	Query     string `json:"query"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	NewChat   bool   `json:"new_chat,omitempty"`
	ClientIP  string `json:"-"`
	UserAgent string `json:"-"`
}

// Question is the next clarifying question for a transaction.
type Question struct {
	Question    string      `json:"question"`
	Field       slots.Field `json:"field,omitempty"`
	Type        string      `json:"type"`
	Suggestions []string    `json:"suggestions"`
	HelpText    string      `json:"help_text,omitempty"`
	Source      string      `json:"source"`
}

// Question types.
const (
	QuestionTypeChoice       = "choice"
	QuestionTypeInput        = "input"
	QuestionTypeConfirmation = "confirmation"
)

// Question sources.
const (
	SourceLLM      = "llm"
	SourceTemplate = "template"
	SourceVectorDB = "vector_db"
	SourceRefined  = "vector_db + llm"
	SourceFallback = "llm_fallback"
	SourceStatic   = "static"
)

// Match is one knowledge-base hit.
type Match struct {
	Text  string  `json:"text"`
	Score float32 `json:"score"`
}

// TurnResponse is the reply to a TurnRequest. Intent decides which of the
// optional blocks is populated and which keys are written on the wire.
type TurnResponse struct {
	Intent    Intent `json:"intent"`
	SessionID string `json:"session_id"`
	Source    string `json:"source,omitempty"`

	// action_request
	Message              string              `json:"message,omitempty"`
	ActionDetails        *slots.Record       `json:"action_details,omitempty"`
	TransactionReadiness *readiness.Analysis `json:"transaction_readiness,omitempty"`
	NextStep             string              `json:"next_step,omitempty"`
	ConfirmationRequired bool                `json:"confirmation_required,omitempty"`
	NextQuestion         *Question           `json:"next_question,omitempty"`

	// general_query
	Answer     string   `json:"answer,omitempty"`
	Sources    []string `json:"sources,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Matches    []Match  `json:"matches,omitempty"`

	// clarification
	ClarificationQuestion string   `json:"clarification_question,omitempty"`
	SuggestedQueries      []string `json:"suggested_queries,omitempty"`
}

// Text is the user-facing reply for the turn's intent.
func (r TurnResponse) Text() string {
	switch r.Intent {
	case IntentGeneralQuery:
		return r.Answer
	case IntentActionRequest:
		return r.Message
	default:
		if r.Message != "" {
			return r.Message
		}
		return r.ClarificationQuestion
	}
}

// MarshalJSON writes only the keys belonging to r.Intent. The keys of that
// intent are always present, even when zero.
func (r TurnResponse) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"intent":     r.Intent,
		"session_id": r.SessionID,
	}
	if r.Source != "" {
		out["source"] = r.Source
	}
	if r.Message != "" {
		out["message"] = r.Message
	}

	switch r.Intent {
	case IntentActionRequest:
		out["action_details"] = r.ActionDetails
		out["transaction_readiness"] = r.TransactionReadiness
		out["next_step"] = r.NextStep
		out["confirmation_required"] = r.ConfirmationRequired
		if r.NextQuestion != nil {
			out["next_question"] = r.NextQuestion
		}
	case IntentGeneralQuery:
		out["answer"] = r.Answer
		out["sources"] = nonNil(r.Sources)
		out["confidence"] = r.Confidence
		if len(r.Matches) > 0 {
			out["matches"] = r.Matches
		}
	default:
		out["clarification_question"] = r.ClarificationQuestion
		out["suggested_queries"] = nonNil(r.SuggestedQueries)
	}
	return json.Marshal(out)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ErrorResponse is returned for any failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// Error codes
const (
	ErrorInvalidInput    = "INVALID_INPUT"
	ErrorUnauthenticated = "UNAUTHENTICATED"
	ErrorQuotaExceeded   = "QUOTA_EXCEEDED"
	ErrorNotFound        = "NOT_FOUND"
	ErrorNotReady        = "NOT_READY"
	ErrorExpired         = "EXPIRED"
	ErrorSessionBusy     = "SESSION_BUSY"
	ErrorInsufficient    = "INSUFFICIENT_FUNDS"
	ErrorInternal        = "INTERNAL_ERROR"
	ErrorUpstream        = "UPSTREAM_FAILED"
)

// ExecutionEvent is published after a transaction is executed.
type ExecutionEvent struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Action    string `json:"action,omitempty"`
	Amount    string `json:"amount"`
	Token     string `json:"token"`
	Recipient string `json:"recipient,omitempty"`
	TxHash    string `json:"tx_hash"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}
