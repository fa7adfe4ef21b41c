package prompts

import (
	"fmt"

	lcprompts "github.com/tmc/langchaingo/prompts"
)

const IntentSystemPrompt = `You are the intent classifier for DeFiBuddy, a conversational DeFi assistant.
Classify the user's latest message into exactly one intent:
- "general_query": a question about DeFi concepts, protocols, tokens or how things work
- "action_request": the user wants to perform or continue setting up a transaction (deposit, withdraw, swap, stake, unstake, borrow, lend, claim_rewards), including follow-up messages that only supply details such as an amount, a token or a protocol
- "clarification": the message is ambiguous, off-topic or cannot be classified

Respond with a valid JSON object only:
{"intent": "general_query | action_request | clarification", "confidence": 0.0-1.0}`

var intentTemplate = lcprompts.NewPromptTemplate(`Conversation so far:
{{.history}}
Transaction in progress: {{.summary}}

Latest message: {{.query}}`, []string{"history", "summary", "query"})

const ExtractionSystemPrompt = `You extract DeFi transaction parameters from user messages.

RULES:
1. Only extract values the user actually stated in the latest message; use null for everything else
2. action must be one of: deposit, withdraw, swap, stake, unstake, borrow, lend, claim_rewards
3. amount is a plain number without units
4. token_in is the token the user spends or supplies, token_out the token they receive (swaps only)
5. slippage is a percentage number, deadline is in seconds, gas_price is in gwei

Respond with a valid JSON object only:
{"action": null, "amount": null, "token_in": null, "token_out": null, "protocol": null, "slippage": null, "deadline": null, "gas_price": null}`

var extractionTemplate = lcprompts.NewPromptTemplate(`Conversation so far:
{{.history}}
Already collected: {{.summary}}

Latest message: {{.query}}`, []string{"history", "summary", "query"})

const QuestionSystemPrompt = `You help users finish setting up a DeFi transaction by asking one short, friendly question.
Ask only about the field you are given. Offer up to four concrete suggestions.

Respond with a valid JSON object only:
{"question": "...", "suggestions": ["..."], "help_text": "..."}`

var questionTemplate = lcprompts.NewPromptTemplate(`Recent conversation:
{{.history}}
Collected so far: {{.summary}}
Field to ask about: {{.field}}`, []string{"history", "summary", "field"})

const AnswerSystemPrompt = `You are DeFiBuddy, a concise and accurate DeFi assistant.
Answer the user's question in plain language. Never invent protocol facts; when unsure, say so.`

var refineTemplate = lcprompts.NewPromptTemplate(`Use the knowledge base entries below to answer the question.

Knowledge base:
{{range .matches}}- {{.}}
{{end}}
Question: {{.query}}`, []string{"matches", "query"})

var fallbackTemplate = lcprompts.NewPromptTemplate(`The knowledge base had no close match for this question.
Answer from general DeFi knowledge. If the question is too vague to answer, ask one clarifying question instead.

Recent conversation:
{{.history}}
Question: {{.query}}`, []string{"history", "query"})

const ClarifySystemPrompt = `You are DeFiBuddy. The user's message was ambiguous or could not be classified.
Ask one short clarifying question and suggest up to four example requests they could send instead.

Respond with a valid JSON object only:
{"clarifying_question": "...", "suggested_queries": ["..."]}`

var clarifyTemplate = lcprompts.NewPromptTemplate(`Recent conversation:
{{.history}}
Ambiguous message: {{.query}}`, []string{"history", "query"})

const FallbackMessage = "I didn't understand your request clearly. Could you please rephrase what you'd like to do, for example swapping tokens, staking, or learning about a protocol?"

// IntentPrompt renders the classification prompt.
func IntentPrompt(query, history, summary string) (string, error) {
	return format(intentTemplate, map[string]any{"query": query, "history": history, "summary": summary})
}

// ExtractionPrompt renders the slot extraction prompt.
func ExtractionPrompt(query, history, summary string) (string, error) {
	return format(extractionTemplate, map[string]any{"query": query, "history": history, "summary": summary})
}

// QuestionPrompt renders the adaptive question prompt for field.
func QuestionPrompt(field, history, summary string) (string, error) {
	return format(questionTemplate, map[string]any{"field": field, "history": history, "summary": summary})
}

// RefinePrompt renders an answer prompt grounded on knowledge-base matches.
func RefinePrompt(query string, matches []string) (string, error) {
	return format(refineTemplate, map[string]any{"query": query, "matches": matches})
}

// FallbackPrompt renders an answer prompt with no knowledge-base grounding.
func FallbackPrompt(query, history string) (string, error) {
	return format(fallbackTemplate, map[string]any{"query": query, "history": history})
}

// ClarifyPrompt renders the clarifying-question prompt.
func ClarifyPrompt(query, history string) (string, error) {
	return format(clarifyTemplate, map[string]any{"query": query, "history": history})
}

func format(t lcprompts.PromptTemplate, values map[string]any) (string, error) {
	out, err := t.Format(values)
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return out, nil
}
