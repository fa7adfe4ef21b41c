// Package knowledge answers general DeFi questions from a vector store,
// refining or replacing hits with a language model depending on score.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/avvvet/defibuddy-intent/internal/llm"
	"github.com/avvvet/defibuddy-intent/internal/memory"
	"github.com/avvvet/defibuddy-intent/internal/models"
	"github.com/avvvet/defibuddy-intent/internal/prompts"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"go.uber.org/zap"
)

// Score tiers.
const (
	DirectThreshold = 0.98
	RefineThreshold = 0.90
)

const defaultTopK = 3

var ErrNoProvider = errors.New("no language model configured")

// StaticSuggestions are offered when nothing better is available.
var StaticSuggestions = []string{
	"What is DeFi?",
	"How do I swap tokens?",
	"Swap 100 USDC to ETH on Uniswap",
	"What are the risks of providing liquidity?",
}

// DefaultClarifyingQuestion is used when the model cannot produce one.
const DefaultClarifyingQuestion = "Could you tell me a bit more about what you'd like to do? For example, ask about a protocol or describe a transaction."

// Apology is returned when the knowledge lookup fails outright.
const Apology = "Sorry, I couldn't look that up right now. Please try again in a moment."

// Searcher is the read side of a langchaingo vector store.
type Searcher interface {
	SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error)
}

// Answer is the result of a general query.
type Answer struct {
	Text       string
	Source     string
	Confidence float64
	Matches    []models.Match
}

// Clarification is a clarifying question plus example queries.
type Clarification struct {
	Question         string
	SuggestedQueries []string
	Source           string
}

// Lookup combines a vector store with an optional language model. Either may
// be nil.
type Lookup struct {
	searcher Searcher
	provider llm.LLMProvider
	topK     int
	timeout  time.Duration
	logger   *zap.Logger
}

func NewLookup(searcher Searcher, provider llm.LLMProvider, timeout time.Duration, logger *zap.Logger) *Lookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lookup{
		searcher: searcher,
		provider: provider,
		topK:     defaultTopK,
		timeout:  timeout,
		logger:   logger,
	}
}

// Answer resolves a general question through the score tiers.
func (l *Lookup) Answer(ctx context.Context, query string, history []memory.ConversationTurn) (*Answer, error) {
	var docs []schema.Document
	if l.searcher != nil {
		var err error
		docs, err = l.search(ctx, query)
		if err != nil {
			return nil, err
		}
	}

	if len(docs) > 0 {
		top := docs[0]
		matches := toMatches(docs)

		if top.Score >= DirectThreshold {
			return &Answer{
				Text:       top.PageContent,
				Source:     models.SourceVectorDB,
				Confidence: float64(top.Score),
				Matches:    matches,
			}, nil
		}

		if top.Score >= RefineThreshold {
			text, err := l.refine(ctx, query, docs)
			if err != nil {
				l.logger.Warn("refinement failed, returning best match", zap.Error(err))
				return &Answer{
					Text:       top.PageContent,
					Source:     models.SourceVectorDB,
					Confidence: float64(top.Score),
					Matches:    matches,
				}, nil
			}
			return &Answer{
				Text:       text,
				Source:     models.SourceRefined,
				Confidence: float64(top.Score),
				Matches:    matches,
			}, nil
		}
	}

	text, err := l.fallback(ctx, query, history)
	if err != nil {
		return nil, err
	}
	a := &Answer{Text: text, Source: models.SourceFallback}
	if len(docs) > 0 {
		a.Confidence = float64(docs[0].Score)
		a.Matches = toMatches(docs)
	}
	return a, nil
}

// Clarify produces a clarifying question with example queries. It never
// returns an empty question or an empty suggestion list.
func (l *Lookup) Clarify(ctx context.Context, query string, history []memory.ConversationTurn) *Clarification {
	c, err := l.clarify(ctx, query, history)
	if err != nil {
		l.logger.Warn("clarification fell back to static suggestions", zap.Error(err))
		return StaticClarification()
	}
	if len(c.SuggestedQueries) == 0 {
		c.SuggestedQueries = append([]string(nil), StaticSuggestions...)
	}
	return c
}

// StaticClarification is the last-resort clarification.
func StaticClarification() *Clarification {
	return &Clarification{
		Question:         DefaultClarifyingQuestion,
		SuggestedQueries: append([]string(nil), StaticSuggestions...),
		Source:           models.SourceStatic,
	}
}

// Ping checks the vector store answers a trivial query.
func (l *Lookup) Ping(ctx context.Context) error {
	if l.searcher == nil {
		return errors.New("knowledge store not configured")
	}
	_, err := l.searcher.SimilaritySearch(ctx, "health check", 1)
	return err
}

func (l *Lookup) search(ctx context.Context, query string) ([]schema.Document, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	docs, err := l.searcher.SimilaritySearch(ctx, query, l.topK)
	if err != nil {
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	return docs, nil
}

func (l *Lookup) refine(ctx context.Context, query string, docs []schema.Document) (string, error) {
	var texts []string
	for _, d := range docs {
		if d.Score >= RefineThreshold {
			texts = append(texts, d.PageContent)
		}
	}
	prompt, err := prompts.RefinePrompt(query, texts)
	if err != nil {
		return "", err
	}
	return l.complete(ctx, prompts.AnswerSystemPrompt, prompt)
}

func (l *Lookup) fallback(ctx context.Context, query string, history []memory.ConversationTurn) (string, error) {
	transcript, err := memory.HistoryContext(ctx, history)
	if err != nil {
		return "", err
	}
	prompt, err := prompts.FallbackPrompt(query, transcript)
	if err != nil {
		return "", err
	}
	return l.complete(ctx, prompts.AnswerSystemPrompt, prompt)
}

func (l *Lookup) clarify(ctx context.Context, query string, history []memory.ConversationTurn) (*Clarification, error) {
	transcript, err := memory.HistoryContext(ctx, history)
	if err != nil {
		return nil, err
	}
	prompt, err := prompts.ClarifyPrompt(query, transcript)
	if err != nil {
		return nil, err
	}
	content, err := l.complete(ctx, prompts.ClarifySystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	parsed, err := prompts.ParseClarification(content)
	if err != nil {
		return nil, err
	}
	return &Clarification{
		Question:         parsed.Question,
		SuggestedQueries: parsed.SuggestedQueries,
		Source:           models.SourceFallback,
	}, nil
}

func (l *Lookup) complete(ctx context.Context, system, prompt string) (string, error) {
	if l.provider == nil {
		return "", ErrNoProvider
	}
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	resp, err := l.provider.Complete(ctx, &llm.LLMRequest{
		System:      system,
		Prompt:      prompt,
		MaxTokens:   800,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func (l *Lookup) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout > 0 {
		return context.WithTimeout(ctx, l.timeout)
	}
	return context.WithCancel(ctx)
}

func toMatches(docs []schema.Document) []models.Match {
	out := make([]models.Match, 0, len(docs))
	for _, d := range docs {
		out = append(out, models.Match{Text: d.PageContent, Score: d.Score})
	}
	return out
}
