package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
)

// NoHistory is rendered when a session has no prior turns.
const NoHistory = "No previous conversation."

// Buffer loads stored turns into a langchaingo conversation buffer. The buffer
// is built per call; sessions are never cached in process.
func Buffer(ctx context.Context, turns []ConversationTurn) (*memory.ConversationBuffer, error) {
	buf := memory.NewConversationBuffer()
	for _, t := range turns {
		if err := buf.ChatHistory.AddUserMessage(ctx, t.Query); err != nil {
			return nil, fmt.Errorf("failed to add user message to memory: %w", err)
		}
		if t.Response == "" {
			continue
		}
		if err := buf.ChatHistory.AddAIMessage(ctx, t.Response); err != nil {
			return nil, fmt.Errorf("failed to add AI message to memory: %w", err)
		}
	}
	return buf, nil
}

// HistoryContext renders turns as a "User:/Assistant:" transcript for prompts.
func HistoryContext(ctx context.Context, turns []ConversationTurn) (string, error) {
	buf, err := Buffer(ctx, turns)
	if err != nil {
		return "", err
	}

	messages, err := buf.ChatHistory.Messages(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get messages: %w", err)
	}
	if len(messages) == 0 {
		return NoHistory, nil
	}

	var b strings.Builder
	for _, msg := range messages {
		switch m := msg.(type) {
		case llms.HumanChatMessage:
			fmt.Fprintf(&b, "User: %s\n", m.Content)
		case llms.AIChatMessage:
			fmt.Fprintf(&b, "Assistant: %s\n", m.Content)
		case llms.SystemChatMessage:
			fmt.Fprintf(&b, "System: %s\n", m.Content)
		}
	}
	return b.String(), nil
}
