package readiness

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/avvvet/defibuddy-intent/internal/slots"
	"github.com/shopspring/decimal"
)

// ErrNotReady is returned when a confirmation is requested for a record that
// still has missing fields or validation errors.
var ErrNotReady = errors.New("transaction is not ready for confirmation")

// RiskLevel grades a ready transaction.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

var highRiskAmount = decimal.NewFromInt(100_000)

// ConfirmationSummary is what the user reviews before execution.
type ConfirmationSummary struct {
	Action          string    `json:"action"`
	Amount          string    `json:"amount"`
	TokenIn         string    `json:"token_in,omitempty"`
	TokenOut        string    `json:"token_out,omitempty"`
	Protocol        string    `json:"protocol"`
	Slippage        string    `json:"slippage"`
	Deadline        string    `json:"deadline"`
	GasPrice        string    `json:"gas_price"`
	EstimatedGas    string    `json:"estimated_gas,omitempty"`
	RiskLevel       RiskLevel `json:"risk_level"`
	Warnings        []string  `json:"warnings"`
	Recommendations []string  `json:"recommendations"`
}

// Confirmation builds the review summary for a ready record.
func Confirmation(r slots.Record) (*ConfirmationSummary, error) {
	a := Analyze(r)
	if !a.IsReady {
		return nil, ErrNotReady
	}

	s := &ConfirmationSummary{
		Action:          r.Value(slots.FieldAction),
		Amount:          r.Value(slots.FieldAmount),
		TokenIn:         r.Value(slots.FieldTokenIn),
		TokenOut:        r.Value(slots.FieldTokenOut),
		Protocol:        r.Value(slots.FieldProtocol),
		Slippage:        "Default (0.5%)",
		Deadline:        "Default (1200s)",
		GasPrice:        "Market rate",
		EstimatedGas:    a.EstimatedGasHint,
		RiskLevel:       assessRisk(r, a.RiskWarnings),
		Warnings:        a.RiskWarnings,
		Recommendations: recommendations(r),
	}
	if r.Slippage != nil {
		s.Slippage = strconv.FormatFloat(*r.Slippage, 'f', -1, 64) + "%"
	}
	if r.Deadline != nil {
		s.Deadline = fmt.Sprintf("%ds", *r.Deadline)
	}
	if r.GasPrice != nil {
		s.GasPrice = *r.GasPrice + " gwei"
	}
	if s.Warnings == nil {
		s.Warnings = []string{}
	}
	return s, nil
}

func assessRisk(r slots.Record, warnings []string) RiskLevel {
	amount, err := r.AmountValue()
	big := err == nil && amount.GreaterThan(highRiskAmount)
	switch {
	case len(warnings) >= 2 || big:
		return RiskHigh
	case len(warnings) == 1:
		return RiskMedium
	default:
		return RiskLow
	}
}

func recommendations(r slots.Record) []string {
	var out []string
	if r.Slippage != nil && *r.Slippage > riskySlippage {
		out = append(out, "Consider lowering slippage tolerance to reduce price impact")
	}
	if amount, err := r.AmountValue(); err == nil && amount.GreaterThan(largeAmount) {
		out = append(out, "Consider splitting the transaction into smaller amounts")
	}
	if isSwap(r) && r.Slippage == nil {
		out = append(out, "Set a slippage tolerance for more predictable swaps")
	}
	out = append(out, "Double-check token and protocol before signing")
	return out
}
