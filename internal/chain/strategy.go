package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Reason classifies why a strategy failed.
type Reason string

const (
	ReasonUnsupported  Reason = "unsupported"
	ReasonInsufficient Reason = "insufficient_funds"
	ReasonCanceled     Reason = "canceled"
	ReasonFailed       Reason = "failed"
)

// Strategy is one named way of performing an operation.
type Strategy struct {
	Name string
	Run  func(ctx context.Context) (string, error)
}

// Attempt records one failed strategy.
type Attempt struct {
	Name   string
	Reason Reason
	Err    error
}

// StrategyError lists every attempt made, in order.
type StrategyError struct {
	Attempts []Attempt
}

func (e *StrategyError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s (%v)", a.Name, a.Reason, a.Err))
	}
	return "all strategies failed: " + strings.Join(parts, "; ")
}

func (e *StrategyError) Unwrap() []error {
	out := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		out = append(out, a.Err)
	}
	return out
}

// Last returns the final attempt's reason.
func (e *StrategyError) Last() Reason {
	if len(e.Attempts) == 0 {
		return ReasonFailed
	}
	return e.Attempts[len(e.Attempts)-1].Reason
}

// RunStrategies tries each strategy in order. Only ErrUnsupported moves on to
// the next one; any other failure stops the chain. It returns the result and
// the name of the strategy that produced it.
func RunStrategies(ctx context.Context, strategies ...Strategy) (string, string, error) {
	var attempts []Attempt
	for _, s := range strategies {
		out, err := s.Run(ctx)
		if err == nil {
			return out, s.Name, nil
		}

		reason := classify(err)
		attempts = append(attempts, Attempt{Name: s.Name, Reason: reason, Err: err})
		if reason != ReasonUnsupported {
			break
		}
	}
	if len(attempts) == 0 {
		attempts = append(attempts, Attempt{Name: "none", Reason: ReasonUnsupported, Err: ErrUnsupported})
	}
	return "", "", &StrategyError{Attempts: attempts}
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, ErrUnsupported):
		return ReasonUnsupported
	case errors.Is(err, ErrInsufficientFunds):
		return ReasonInsufficient
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCanceled
	default:
		return ReasonFailed
	}
}
