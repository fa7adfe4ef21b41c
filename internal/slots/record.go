package slots

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount format")
	ErrNonPositiveAmount = errors.New("amount must be greater than zero")
)

// Record is one in-progress DeFi transaction intent. Every field is optional
// until filled; nil means "not provided".
type Record struct {
	Action   *Action  `json:"action"`
	Amount   *string  `json:"amount"`
	TokenIn  *string  `json:"token_in"`
	TokenOut *string  `json:"token_out"`
	Protocol *string  `json:"protocol"`
	Slippage *float64 `json:"slippage"`
	Deadline *int     `json:"deadline"`
	GasPrice *string  `json:"gas_price"`
}

// Has reports whether field f holds a value.
func (r Record) Has(f Field) bool {
	switch f {
	case FieldAction:
		return r.Action != nil
	case FieldAmount:
		return r.Amount != nil
	case FieldTokenIn:
		return r.TokenIn != nil
	case FieldTokenOut:
		return r.TokenOut != nil
	case FieldProtocol:
		return r.Protocol != nil
	case FieldSlippage:
		return r.Slippage != nil
	case FieldDeadline:
		return r.Deadline != nil
	case FieldGasPrice:
		return r.GasPrice != nil
	default:
		return false
	}
}

// IsEmpty reports whether no field is set.
func (r Record) IsEmpty() bool {
	for _, f := range allFields {
		if r.Has(f) {
			return false
		}
	}
	return true
}

var allFields = []Field{
	FieldAction, FieldAmount, FieldTokenIn, FieldTokenOut,
	FieldProtocol, FieldSlippage, FieldDeadline, FieldGasPrice,
}

// Value renders field f for display; empty when unset.
func (r Record) Value(f Field) string {
	switch f {
	case FieldAction:
		if r.Action != nil {
			return string(*r.Action)
		}
	case FieldAmount:
		if r.Amount != nil {
			return *r.Amount
		}
	case FieldTokenIn:
		if r.TokenIn != nil {
			return *r.TokenIn
		}
	case FieldTokenOut:
		if r.TokenOut != nil {
			return *r.TokenOut
		}
	case FieldProtocol:
		if r.Protocol != nil {
			return *r.Protocol
		}
	case FieldSlippage:
		if r.Slippage != nil {
			return strconv.FormatFloat(*r.Slippage, 'f', -1, 64)
		}
	case FieldDeadline:
		if r.Deadline != nil {
			return strconv.Itoa(*r.Deadline)
		}
	case FieldGasPrice:
		if r.GasPrice != nil {
			return *r.GasPrice
		}
	}
	return ""
}

// AmountValue parses the amount as a finite positive decimal.
func (r Record) AmountValue() (decimal.Decimal, error) {
	if r.Amount == nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return ParseAmount(*r.Amount)
}

// ParseAmount parses a numeric string and requires it to be positive.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrNonPositiveAmount
	}
	return d, nil
}

// Summary formats the filled fields for prompts and logs.
func (r Record) Summary() string {
	labels := []struct {
		field Field
		label string
	}{
		{FieldAction, "Action"},
		{FieldAmount, "Amount"},
		{FieldTokenIn, "From"},
		{FieldTokenOut, "To"},
		{FieldProtocol, "Protocol"},
		{FieldSlippage, "Slippage"},
		{FieldDeadline, "Deadline"},
		{FieldGasPrice, "Gas price"},
	}

	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		if !r.Has(l.field) {
			continue
		}
		v := r.Value(l.field)
		if l.field == FieldSlippage {
			v += "%"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", l.label, v))
	}
	if len(parts) == 0 {
		return "No details collected yet"
	}
	return strings.Join(parts, ", ")
}

// Normalize upper-cases token symbols, canonicalizes known protocol names and
// drops blank strings so they never count as filled.
func (r Record) Normalize() Record {
	r.Amount = trimmed(r.Amount)
	r.TokenIn = upper(trimmed(r.TokenIn))
	r.TokenOut = upper(trimmed(r.TokenOut))
	r.GasPrice = trimmed(r.GasPrice)
	r.Protocol = trimmed(r.Protocol)
	if r.Protocol != nil {
		if canonical, ok := CanonicalProtocol(*r.Protocol); ok {
			r.Protocol = &canonical
		}
	}
	return r
}

// PruneFor keeps only the fields relevant to action, dropping values left over
// from a previous action.
func (r Record) PruneFor(action *Action) Record {
	keep := make(map[Field]bool)
	for _, f := range RelevantFields(action) {
		keep[f] = true
	}
	out := r
	if !keep[FieldAmount] {
		out.Amount = nil
	}
	if !keep[FieldTokenIn] {
		out.TokenIn = nil
	}
	if !keep[FieldTokenOut] {
		out.TokenOut = nil
	}
	if !keep[FieldProtocol] {
		out.Protocol = nil
	}
	return out
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" || strings.EqualFold(v, "null") {
		return nil
	}
	return &v
}

func upper(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.ToUpper(*s)
	return &v
}

// Ptr returns a pointer to v. Handy for building records in tests and parsers.
func Ptr[T any](v T) *T {
	return &v
}
