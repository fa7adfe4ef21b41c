package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avvvet/defibuddy-intent/internal/knowledge"
	"github.com/avvvet/defibuddy-intent/internal/llm"
	"github.com/avvvet/defibuddy-intent/internal/memory"
	"github.com/avvvet/defibuddy-intent/internal/models"
	"github.com/avvvet/defibuddy-intent/internal/observability"
	"github.com/avvvet/defibuddy-intent/internal/prompts"
	"github.com/avvvet/defibuddy-intent/internal/questions"
	"github.com/avvvet/defibuddy-intent/internal/readiness"
	"github.com/avvvet/defibuddy-intent/internal/sanitize"
	"github.com/avvvet/defibuddy-intent/internal/slots"
	"go.uber.org/zap"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("user id is required")
)

// TurnDeps wires a TurnHandler. Provider, Knowledge, Locker and Metrics may
// be nil.
type TurnDeps struct {
	Store            memory.Store
	Locker           memory.Locker
	Provider         llm.LLMProvider
	Questions        *questions.Generator
	Knowledge        *knowledge.Lookup
	Metrics          *observability.Metrics
	Logger           *zap.Logger
	ClearStaleFields bool
	Timeout          time.Duration
	Now              func() time.Time
}

// TurnHandler runs one conversation turn end to end.
type TurnHandler struct {
	store      memory.Store
	locker     memory.Locker
	provider   llm.LLMProvider
	questions  *questions.Generator
	knowledge  *knowledge.Lookup
	metrics    *observability.Metrics
	logger     *zap.Logger
	clearStale bool
	timeout    time.Duration
	now        func() time.Time
}

func NewTurnHandler(deps TurnDeps) *TurnHandler {
	h := &TurnHandler{
		store:      deps.Store,
		locker:     deps.Locker,
		provider:   deps.Provider,
		questions:  deps.Questions,
		knowledge:  deps.Knowledge,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		clearStale: deps.ClearStaleFields,
		timeout:    deps.Timeout,
		now:        deps.Now,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.questions == nil {
		h.questions = questions.NewGenerator(deps.Provider, deps.Timeout, h.logger)
	}
	return h
}

// ProcessTurn validates the request, resolves the session, routes the message
// by intent and persists the updated session.
func (h *TurnHandler) ProcessTurn(ctx context.Context, req *models.TurnRequest) (*models.TurnResponse, error) {
	start := h.now()

	query, err := sanitize.Query(req.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	session, err := h.resolveSession(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	if h.locker != nil {
		unlock, err := h.locker.Lock(ctx, session.SessionID)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				h.logger.Warn("failed to release session lock",
					zap.String("session_id", memory.ShortID(session.SessionID)),
					zap.Error(err))
			}
		}()
		fresh, err := h.store.Get(ctx, userID, session.SessionID)
		if err != nil {
			return nil, err
		}
		if fresh != nil {
			session = fresh
		}
	}

	transcript, err := memory.HistoryContext(ctx, session.RecentTurns(memory.MaxHistory))
	if err != nil {
		h.logger.Warn("failed to render history", zap.Error(err))
		transcript = memory.NoHistory
	}

	intent, confidence := h.classify(ctx, query, transcript, session)

	var resp *models.TurnResponse
	switch intent {
	case models.IntentActionRequest:
		resp = h.handleAction(ctx, session, query, transcript)
	case models.IntentGeneralQuery:
		resp = h.handleGeneral(ctx, session, query)
	default:
		resp = h.handleClarification(ctx, session, query)
	}
	resp.SessionID = session.SessionID
	if resp.Confidence == 0 {
		resp.Confidence = confidence
	}

	now := h.now()
	session.AddTurn(memory.ConversationTurn{
		Query:      query,
		Response:   resp.Text(),
		Intent:     string(resp.Intent),
		Timestamp:  now,
		Confidence: resp.Confidence,
		Source:     resp.Source,
	})
	session.LastQuery = query
	session.Metadata.LastActivity = now

	if err := h.store.Update(ctx, userID, session.SessionID, session); err != nil {
		if !errors.Is(err, memory.ErrSessionNotFound) {
			return nil, err
		}
		h.logger.Warn("session vanished during turn",
			zap.String("session_id", memory.ShortID(session.SessionID)))
	}

	h.metrics.Turn(string(resp.Intent))
	h.metrics.ObserveTurnLatency(h.now().Sub(start))
	h.logger.Info("turn processed",
		zap.String("session_id", memory.ShortID(session.SessionID)),
		zap.String("user_id", userID),
		zap.String("intent", string(resp.Intent)))

	return resp, nil
}

// CreateSession starts an empty session for userID.
func (h *TurnHandler) CreateSession(ctx context.Context, userID, clientIP, userAgent string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrUnauthenticated
	}
	id, err := h.store.Create(ctx, userID, clientIP, userAgent)
	if err != nil {
		if errors.Is(err, memory.ErrQuotaExceeded) {
			h.metrics.SessionEvent("quota_exceeded")
		}
		return "", err
	}
	h.metrics.SessionEvent("created")
	return id, nil
}

// SessionCounter is implemented by stores that can count a user's live
// sessions.
type SessionCounter interface {
	LiveSessions(ctx context.Context, userID string) (int64, error)
}

// LiveSessions reports how many unexpired sessions userID holds.
func (h *TurnHandler) LiveSessions(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrUnauthenticated
	}
	counter, ok := h.store.(SessionCounter)
	if !ok {
		return 0, errors.New("session store cannot count sessions")
	}
	return counter.LiveSessions(ctx, userID)
}

func (h *TurnHandler) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUnauthenticated
	}
	if err := h.store.Delete(ctx, userID, sessionID); err != nil {
		return err
	}
	h.metrics.SessionEvent("deleted")
	return nil
}

func (h *TurnHandler) resolveSession(ctx context.Context, userID string, req *models.TurnRequest) (*memory.Session, error) {
	if !req.NewChat && req.SessionID != "" {
		s, err := h.store.Get(ctx, userID, req.SessionID)
		if err != nil {
			return nil, err
		}
		if s != nil {
			return s, nil
		}
		h.metrics.SessionEvent("expired")
	}

	id, err := h.CreateSession(ctx, userID, req.ClientIP, req.UserAgent)
	if err != nil {
		return nil, err
	}
	s, err := h.store.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("session %s missing right after create: %w", memory.ShortID(id), memory.ErrSessionNotFound)
	}
	return s, nil
}

func (h *TurnHandler) classify(ctx context.Context, query, transcript string, session *memory.Session) (models.Intent, float64) {
	summary := ""
	if session.Action != nil {
		summary = session.Action.Summary()
	}

	content, err := h.complete(ctx, prompts.IntentSystemPrompt, func() (string, error) {
		return prompts.IntentPrompt(query, transcript, summary)
	}, 200)
	if err == nil {
		var res *prompts.IntentResult
		if res, err = prompts.ParseIntent(content); err == nil {
			return res.Intent, res.Confidence
		}
	}

	h.metrics.Fallback("classify")
	h.logger.Warn("intent classification failed, asking for clarification", zap.Error(err))
	return models.IntentClarification, 0
}

func (h *TurnHandler) extract(ctx context.Context, query, transcript string, prev slots.Record) slots.Record {
	content, err := h.complete(ctx, prompts.ExtractionSystemPrompt, func() (string, error) {
		return prompts.ExtractionPrompt(query, transcript, prev.Summary())
	}, 400)
	if err == nil {
		var fragment slots.Record
		if fragment, err = prompts.ParseSlots(content); err == nil {
			return fragment
		}
	}

	h.metrics.Fallback("extract")
	h.logger.Warn("slot extraction failed, keeping previous record", zap.Error(err))
	return slots.Record{}
}

func (h *TurnHandler) handleAction(ctx context.Context, session *memory.Session, query, transcript string) *models.TurnResponse {
	var prev slots.Record
	if session.Action != nil {
		prev = *session.Action
	}

	fragment := h.extract(ctx, query, transcript, prev)
	if fragment.Protocol == nil {
		if p, ok := slots.DetectProtocol(query); ok {
			fragment.Protocol = &p
		}
	}

	merged := slots.Merge(prev, fragment)
	if h.clearStale && slots.ActionChanged(prev, fragment) {
		merged = merged.PruneFor(merged.Action)
	}
	session.Action = &merged

	analysis := readiness.Analyze(merged)
	question := h.questions.Next(ctx, merged, session.RecentTurns(questions.HistoryTurns))

	text := question.Question
	if len(analysis.ValidationErrors) > 0 {
		text = strings.Join(analysis.ValidationErrors, ". ") + ". " + text
	}

	return &models.TurnResponse{
		Intent:               models.IntentActionRequest,
		Message:              text,
		ActionDetails:        &merged,
		TransactionReadiness: &analysis,
		NextStep:             readiness.NextStep(analysis.ReadinessLevel),
		ConfirmationRequired: analysis.ReadinessLevel == readiness.LevelReadyForConfirmation,
		NextQuestion:         &question,
		Source:               question.Source,
	}
}

func (h *TurnHandler) handleGeneral(ctx context.Context, session *memory.Session, query string) *models.TurnResponse {
	if h.knowledge == nil {
		return h.lookupFailed(knowledge.ErrNoProvider)
	}

	answer, err := h.knowledge.Answer(ctx, query, session.RecentTurns(memory.MaxHistory))
	if err != nil {
		return h.lookupFailed(err)
	}
	return &models.TurnResponse{
		Intent:     models.IntentGeneralQuery,
		Answer:     answer.Text,
		Source:     answer.Source,
		Sources:    []string{answer.Source},
		Confidence: answer.Confidence,
		Matches:    answer.Matches,
	}
}

func (h *TurnHandler) lookupFailed(err error) *models.TurnResponse {
	h.metrics.Fallback("knowledge")
	h.metrics.CollaboratorError("knowledge")
	h.logger.Warn("knowledge lookup failed", zap.Error(err))

	c := knowledge.StaticClarification()
	return &models.TurnResponse{
		Intent:                models.IntentClarification,
		Message:               knowledge.Apology,
		Source:                c.Source,
		ClarificationQuestion: c.Question,
		SuggestedQueries:      c.SuggestedQueries,
	}
}

func (h *TurnHandler) handleClarification(ctx context.Context, session *memory.Session, query string) *models.TurnResponse {
	var c *knowledge.Clarification
	if h.knowledge != nil {
		c = h.knowledge.Clarify(ctx, query, session.RecentTurns(memory.MaxHistory))
	} else {
		c = knowledge.StaticClarification()
	}
	return &models.TurnResponse{
		Intent:                models.IntentClarification,
		Source:                c.Source,
		ClarificationQuestion: c.Question,
		SuggestedQueries:      c.SuggestedQueries,
	}
}

func (h *TurnHandler) complete(ctx context.Context, system string, render func() (string, error), maxTokens int) (string, error) {
	if h.provider == nil {
		return "", knowledge.ErrNoProvider
	}
	prompt, err := render()
	if err != nil {
		return "", err
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	resp, err := h.provider.Complete(ctx, &llm.LLMRequest{
		System:      system,
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: 0.1,
	})
	if err != nil {
		h.metrics.CollaboratorError("llm")
		return "", err
	}
	return resp.Content, nil
}
