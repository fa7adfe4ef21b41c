// Package questions picks the next clarifying question for an in-progress
// transaction.
package questions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avvvet/defibuddy-intent/internal/llm"
	"github.com/avvvet/defibuddy-intent/internal/memory"
	"github.com/avvvet/defibuddy-intent/internal/models"
	"github.com/avvvet/defibuddy-intent/internal/prompts"
	"github.com/avvvet/defibuddy-intent/internal/readiness"
	"github.com/avvvet/defibuddy-intent/internal/slots"
	"go.uber.org/zap"
)

// HistoryTurns is how many recent turns feed the adaptive question.
const HistoryTurns = 3

const (
	ConfirmationQuestion = "All required information collected! Ready to proceed?"
	maxClarifications    = 3
)

var confirmationSuggestions = []string{"Yes, proceed", "Let me review", "Make changes"}

// Generator produces questions. The provider may be nil, in which case only
// templates are used.
type Generator struct {
	provider llm.LLMProvider
	timeout  time.Duration
	logger   *zap.Logger
}

func NewGenerator(provider llm.LLMProvider, timeout time.Duration, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{provider: provider, timeout: timeout, logger: logger}
}

// Next returns the question for the first missing required field. With
// nothing missing it asks the user to fix the first validation error, and only
// a clean record gets the confirmation prompt. It never fails.
func (g *Generator) Next(ctx context.Context, record slots.Record, history []memory.ConversationTurn) models.Question {
	missing := readiness.MissingRequired(record)
	if len(missing) == 0 {
		if issues := readiness.Issues(record); len(issues) > 0 {
			return Fix(issues[0], record)
		}
		return models.Question{
			Question:    ConfirmationQuestion,
			Type:        models.QuestionTypeConfirmation,
			Suggestions: append([]string(nil), confirmationSuggestions...),
			HelpText:    "Review the details before the transaction is executed.",
			Source:      models.SourceTemplate,
		}
	}

	field := missing[0]
	if g.provider != nil {
		q, err := g.adaptive(ctx, field, record, history)
		if err == nil {
			return q
		}
		g.logger.Warn("adaptive question failed, using template",
			zap.String("field", string(field)),
			zap.Error(err))
	}
	return Template(field, record.Action)
}

func (g *Generator) adaptive(ctx context.Context, field slots.Field, record slots.Record, history []memory.ConversationTurn) (models.Question, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if len(history) > HistoryTurns {
		history = history[len(history)-HistoryTurns:]
	}
	transcript, err := memory.HistoryContext(ctx, history)
	if err != nil {
		return models.Question{}, err
	}

	prompt, err := prompts.QuestionPrompt(string(field), transcript, record.Summary())
	if err != nil {
		return models.Question{}, err
	}

	resp, err := g.provider.Complete(ctx, &llm.LLMRequest{
		System:      prompts.QuestionSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   300,
		Temperature: 0.3,
	})
	if err != nil {
		return models.Question{}, err
	}

	reply, err := prompts.ParseQuestion(resp.Content)
	if err != nil {
		return models.Question{}, err
	}

	// The model only words the question; the target field stays ours.
	base := Template(field, record.Action)
	q := models.Question{
		Question:    reply.Question,
		Field:       field,
		Type:        base.Type,
		Suggestions: reply.Suggestions,
		HelpText:    reply.HelpText,
		Source:      models.SourceLLM,
	}
	if len(q.Suggestions) == 0 {
		q.Suggestions = base.Suggestions
	}
	if q.HelpText == "" {
		q.HelpText = base.HelpText
	}
	return q, nil
}

// Clarifications returns up to three template questions for the record's
// missing required fields.
func Clarifications(record slots.Record) []models.Question {
	missing := readiness.MissingRequired(record)
	if len(missing) > maxClarifications {
		missing = missing[:maxClarifications]
	}
	out := make([]models.Question, 0, len(missing))
	for _, f := range missing {
		out = append(out, Template(f, record.Action))
	}
	return out
}

// Fix asks the user to correct the field behind a validation error.
func Fix(issue readiness.Issue, record slots.Record) models.Question {
	q := Template(issue.Field, record.Action)
	q.HelpText = issue.Message + "."
	if issue.Field == slots.FieldTokenOut && record.TokenIn != nil {
		q.Question = fmt.Sprintf("Which token would you like to receive instead of %s?", *record.TokenIn)
		q.Suggestions = without(q.Suggestions, *record.TokenIn)
	}
	return q
}

func without(list []string, drop string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if !strings.EqualFold(s, drop) {
			out = append(out, s)
		}
	}
	return out
}

// Template is the static question for field.
func Template(field slots.Field, action *slots.Action) models.Question {
	q := models.Question{Field: field, Source: models.SourceTemplate}
	switch field {
	case slots.FieldAction:
		q.Question = "What DeFi action would you like to perform?"
		q.Type = models.QuestionTypeChoice
		q.Suggestions = []string{"Swap tokens", "Stake tokens", "Lend/Deposit", "Borrow"}
		q.HelpText = "Choose the type of transaction you want to make."
	case slots.FieldAmount:
		verb := "use"
		if action != nil {
			verb = actionVerb(*action)
		}
		q.Question = fmt.Sprintf("How much would you like to %s?", verb)
		q.Type = models.QuestionTypeInput
		q.Suggestions = []string{"100", "500", "1000", "Max available"}
		q.HelpText = "Enter the amount of tokens."
	case slots.FieldTokenIn:
		q.Question = "Which token would you like to use?"
		q.Type = models.QuestionTypeChoice
		q.Suggestions = []string{"ETH", "USDC", "USDT", "DAI"}
		q.HelpText = "Select the token you want to spend or supply."
	case slots.FieldTokenOut:
		q.Question = "Which token would you like to receive?"
		q.Type = models.QuestionTypeChoice
		q.Suggestions = []string{"ETH", "USDC", "USDT", "WBTC"}
		q.HelpText = "Select the token you want to get back."
	case slots.FieldProtocol:
		q.Question = "Which protocol would you prefer?"
		q.Type = models.QuestionTypeChoice
		q.Suggestions = protocolSuggestions(action)
		q.HelpText = "Different protocols offer different rates and fees."
	case slots.FieldSlippage:
		q.Question = "What slippage tolerance would you accept?"
		q.Type = models.QuestionTypeChoice
		q.Suggestions = []string{"0.5%", "1%", "2%"}
		q.HelpText = "Slippage must be between 0.1% and 50%."
	default:
		q.Question = fmt.Sprintf("Please provide the %s for your transaction.", field)
		q.Type = models.QuestionTypeInput
		q.Suggestions = []string{}
	}
	return q
}

func actionVerb(a slots.Action) string {
	switch a {
	case slots.ActionClaimRewards:
		return "claim"
	default:
		return string(a)
	}
}

func protocolSuggestions(action *slots.Action) []string {
	if action == nil {
		return []string{"Uniswap", "Aave", "Compound", "Curve"}
	}
	switch *action {
	case slots.ActionSwap:
		return []string{"Uniswap", "Curve", "SushiSwap", "1inch"}
	case slots.ActionDeposit, slots.ActionWithdraw, slots.ActionBorrow, slots.ActionLend:
		return []string{"Aave", "Compound", "Maker", "Venus"}
	default:
		return []string{"Aave", "Curve", "Yearn", "Balancer"}
	}
}
