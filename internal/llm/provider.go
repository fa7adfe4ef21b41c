// Package llm wraps langchaingo chat models behind a small completion API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

var ErrEmptyResponse = errors.New("empty response from model")

// LLMProvider defines the interface for LLM providers
type LLMProvider interface {
	Complete(ctx context.Context, request *LLMRequest) (*LLMResponse, error)
}

// LLMRequest represents the structured request to LLM
type LLMRequest struct {
	System              string
	Prompt              string
	ConversationHistory []llms.ChatMessage
	MaxTokens           int
	Temperature         float64
}

// LLMResponse represents the raw response from LLM
type LLMResponse struct {
	Content string
	Usage   *Usage
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ProviderFunc adapts a function to LLMProvider.
type ProviderFunc func(ctx context.Context, request *LLMRequest) (*LLMResponse, error)

func (f ProviderFunc) Complete(ctx context.Context, request *LLMRequest) (*LLMResponse, error) {
	return f(ctx, request)
}

// LangChainProvider calls any langchaingo model with a per-call timeout.
type LangChainProvider struct {
	model   llms.Model
	timeout time.Duration
	logger  *zap.Logger
}

// NewLangChainProvider wraps model. A zero timeout means the caller's context
// alone bounds the call.
func NewLangChainProvider(model llms.Model, timeout time.Duration, logger *zap.Logger) *LangChainProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LangChainProvider{
		model:   model,
		timeout: timeout,
		logger:  logger,
	}
}

func (p *LangChainProvider) Complete(ctx context.Context, request *LLMRequest) (*LLMResponse, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	messages := make([]llms.MessageContent, 0, len(request.ConversationHistory)+2)
	if request.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, request.System))
	}
	for _, m := range request.ConversationHistory {
		messages = append(messages, llms.TextParts(m.GetType(), m.GetContent()))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, request.Prompt))

	var opts []llms.CallOption
	if request.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(request.MaxTokens))
	}
	opts = append(opts, llms.WithTemperature(request.Temperature))

	start := time.Now()
	resp, err := p.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm call failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return nil, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	usage := usageFrom(choice.GenerationInfo)
	p.logger.Debug("llm call complete",
		zap.Duration("latency", time.Since(start)),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens))

	return &LLMResponse{Content: choice.Content, Usage: usage}, nil
}

// usageFrom reads token counts; anthropic and openai use different keys.
func usageFrom(info map[string]any) *Usage {
	u := &Usage{}
	for _, k := range []string{"InputTokens", "PromptTokens"} {
		if v, ok := info[k].(int); ok {
			u.InputTokens = v
		}
	}
	for _, k := range []string{"OutputTokens", "CompletionTokens"} {
		if v, ok := info[k].(int); ok {
			u.OutputTokens = v
		}
	}
	return u
}
