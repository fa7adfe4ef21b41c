// Package readiness scores a slot record: what is missing, what is risky and
// whether the transaction can move to confirmation.
package readiness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/avvvet/defibuddy-intent/internal/slots"
	"github.com/shopspring/decimal"
)

// Level is a discrete bucket summarizing how complete a transaction is.
type Level string

const (
	LevelNeedsMoreInfo        Level = "NEEDS_MORE_INFO"
	LevelPartiallyComplete    Level = "PARTIALLY_COMPLETE"
	LevelAlmostReady          Level = "ALMOST_READY"
	LevelReadyForConfirmation Level = "READY_FOR_CONFIRMATION"
)

// Thresholds on required-field progress.
const (
	AlmostReadyThreshold = 70
	PartialThreshold     = 40
)

// Rank orders levels; higher is closer to execution.
func (l Level) Rank() int {
	switch l {
	case LevelReadyForConfirmation:
		return 3
	case LevelAlmostReady:
		return 2
	case LevelPartiallyComplete:
		return 1
	default:
		return 0
	}
}

// Next-step labels returned to clients.
const (
	StepReadyForConfirmation = "ready_for_confirmation"
	StepGatherFinalDetails   = "gather_final_details"
	StepGatherMoreInfo       = "gather_more_information"
)

// NextStep maps a level onto the client-facing next step.
func NextStep(l Level) string {
	switch l {
	case LevelReadyForConfirmation:
		return StepReadyForConfirmation
	case LevelAlmostReady:
		return StepGatherFinalDetails
	default:
		return StepGatherMoreInfo
	}
}

var (
	largeAmount   = decimal.NewFromInt(10_000)
	hugeAmount    = decimal.NewFromInt(1_000_000)
	maxSlippage   = 50.0
	minSlippage   = 0.1
	riskySlippage = 5.0
)

// Guidance is a short UI hint for the current state.
type Guidance struct {
	Message    string `json:"message"`
	Action     string `json:"action"`
	ButtonText string `json:"button_text"`
}

// Analysis is the full readiness report for a record.
type Analysis struct {
	IsReady              bool          `json:"is_ready"`
	CompletionPercentage int           `json:"completion_percentage"`
	RequiredProgress     int           `json:"required_progress"`
	MissingRequired      []slots.Field `json:"missing_required"`
	MissingOptional      []slots.Field `json:"missing_optional"`
	NextQuestions        []string      `json:"next_questions"`
	RiskWarnings         []string      `json:"risk_warnings"`
	ValidationErrors     []string      `json:"validation_errors"`
	EstimatedGasHint     string        `json:"estimated_gas_hint,omitempty"`
	ReadinessLevel       Level         `json:"readiness_level"`
	UserGuidance         Guidance      `json:"user_guidance"`
	WizardStep           int           `json:"wizard_step"`
}

// Analyze computes the readiness report for r.
func Analyze(r slots.Record) Analysis {
	required := slots.RequiredFields(r.Action)
	optional := slots.OptionalFields()

	missingRequired := missing(r, required)
	missingOptional := missing(r, optional)

	filledRequired := len(required) - len(missingRequired)
	filled := filledRequired + len(optional) - len(missingOptional)
	completion := filled * 100 / (len(required) + len(optional))
	progress := filledRequired * 100 / len(required)

	validation := Validate(r)
	ready := len(missingRequired) == 0 && len(validation) == 0

	a := Analysis{
		IsReady:              ready,
		CompletionPercentage: completion,
		RequiredProgress:     progress,
		MissingRequired:      missingRequired,
		MissingOptional:      missingOptional,
		NextQuestions:        nextQuestions(missingRequired),
		RiskWarnings:         RiskWarnings(r),
		ValidationErrors:     validation,
		EstimatedGasHint:     gasHint(r.Action),
		ReadinessLevel:       levelFor(ready, progress),
		WizardStep:           wizardStep(missingRequired),
	}
	a.UserGuidance = guidanceFor(a)
	return a
}

// MissingRequired returns the unfilled required fields of r in canonical order.
func MissingRequired(r slots.Record) []slots.Field {
	return missing(r, slots.RequiredFields(r.Action))
}

func missing(r slots.Record, fields []slots.Field) []slots.Field {
	out := make([]slots.Field, 0, len(fields))
	for _, f := range fields {
		if !r.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

func levelFor(ready bool, progress int) Level {
	switch {
	case ready:
		return LevelReadyForConfirmation
	case progress >= AlmostReadyThreshold:
		return LevelAlmostReady
	case progress >= PartialThreshold:
		return LevelPartiallyComplete
	default:
		return LevelNeedsMoreInfo
	}
}

// Issue is a blocking validation error and the field it concerns.
type Issue struct {
	Field   slots.Field
	Message string
}

// Issues returns the blocking validation errors of r in a fixed order:
// amount, then token pair, then slippage.
func Issues(r slots.Record) []Issue {
	var issues []Issue

	if r.Amount != nil {
		if _, err := r.AmountValue(); err != nil {
			msg := "Invalid amount format"
			if errors.Is(err, slots.ErrNonPositiveAmount) {
				msg = "Amount must be greater than zero"
			}
			issues = append(issues, Issue{Field: slots.FieldAmount, Message: msg})
		}
	}

	if isSwap(r) && r.TokenIn != nil && r.TokenOut != nil && strings.EqualFold(*r.TokenIn, *r.TokenOut) {
		issues = append(issues, Issue{Field: slots.FieldTokenOut, Message: "Cannot swap a token for itself"})
	}

	if r.Slippage != nil {
		switch {
		case *r.Slippage < minSlippage:
			issues = append(issues, Issue{Field: slots.FieldSlippage, Message: "Slippage tolerance too low - transaction may fail"})
		case *r.Slippage > maxSlippage:
			issues = append(issues, Issue{Field: slots.FieldSlippage, Message: "Slippage tolerance too high - risk of significant loss"})
		}
	}

	return issues
}

// Validate returns blocking validation errors. Any entry prevents confirmation.
func Validate(r slots.Record) []string {
	issues := Issues(r)
	if len(issues) == 0 {
		return nil
	}
	errs := make([]string, 0, len(issues))
	for _, is := range issues {
		errs = append(errs, is.Message)
	}
	return errs
}

// RiskWarnings returns non-blocking heuristics worth showing to the user.
func RiskWarnings(r slots.Record) []string {
	var warnings []string

	if isSwap(r) {
		if r.Slippage == nil {
			warnings = append(warnings, "No slippage tolerance set - the swap may fail in volatile markets")
		} else if *r.Slippage > riskySlippage {
			warnings = append(warnings, fmt.Sprintf("High slippage tolerance (%g%%) may result in significant losses", *r.Slippage))
		}
	}

	if amount, err := r.AmountValue(); err == nil {
		if amount.GreaterThan(hugeAmount) {
			warnings = append(warnings, "Amount seems unusually large - please verify")
		} else if amount.GreaterThan(largeAmount) {
			warnings = append(warnings, "Large transaction amount - consider splitting into smaller transactions")
		}
	}

	return warnings
}

func isSwap(r slots.Record) bool {
	return r.Action != nil && *r.Action == slots.ActionSwap
}

var fieldQuestions = map[slots.Field]string{
	slots.FieldAction:   "What DeFi action would you like to perform?",
	slots.FieldAmount:   "How much would you like to use?",
	slots.FieldTokenIn:  "Which token would you like to use?",
	slots.FieldTokenOut: "Which token would you like to receive?",
	slots.FieldProtocol: "Which protocol would you prefer?",
}

func nextQuestions(missingRequired []slots.Field) []string {
	out := make([]string, 0, len(missingRequired))
	for _, f := range missingRequired {
		if q, ok := fieldQuestions[f]; ok {
			out = append(out, q)
			continue
		}
		out = append(out, fmt.Sprintf("Please provide the %s for your transaction.", f))
	}
	return out
}

func gasHint(action *slots.Action) string {
	if action == nil {
		return ""
	}
	switch *action {
	case slots.ActionSwap:
		return "~150,000 gas"
	case slots.ActionDeposit, slots.ActionLend:
		return "~120,000 gas"
	case slots.ActionWithdraw:
		return "~100,000 gas"
	case slots.ActionStake, slots.ActionUnstake:
		return "~90,000 gas"
	case slots.ActionBorrow:
		return "~250,000 gas"
	case slots.ActionClaimRewards:
		return "~80,000 gas"
	default:
		return ""
	}
}

func wizardStep(missingRequired []slots.Field) int {
	has := func(f slots.Field) bool {
		for _, m := range missingRequired {
			if m == f {
				return true
			}
		}
		return false
	}
	switch {
	case has(slots.FieldAction):
		return 1
	case has(slots.FieldAmount):
		return 2
	case has(slots.FieldTokenIn), has(slots.FieldTokenOut):
		return 3
	case has(slots.FieldProtocol):
		return 4
	default:
		return 5
	}
}

func guidanceFor(a Analysis) Guidance {
	if a.IsReady {
		return Guidance{
			Message:    "All required information collected! Ready to proceed.",
			Action:     "show_confirmation",
			ButtonText: "Review & Confirm Transaction",
		}
	}
	if len(a.MissingRequired) == 0 {
		return Guidance{
			Message:    "Please fix the highlighted issues before continuing.",
			Action:     "fix_errors",
			ButtonText: "Edit Details",
		}
	}
	switch n := len(a.MissingRequired); {
	case n == 1:
		return Guidance{
			Message:    "Just need one more detail: " + a.NextQuestions[0],
			Action:     "ask_question",
			ButtonText: "Continue",
		}
	case n <= 3:
		return Guidance{
			Message:    fmt.Sprintf("Need %d more details to proceed.", n),
			Action:     "ask_questions",
			ButtonText: "Continue Setup",
		}
	default:
		return Guidance{
			Message:    "Let's gather the transaction details step by step.",
			Action:     "start_wizard",
			ButtonText: "Start Transaction Setup",
		}
	}
}
