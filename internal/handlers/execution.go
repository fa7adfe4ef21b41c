package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avvvet/defibuddy-intent/internal/chain"
	"github.com/avvvet/defibuddy-intent/internal/ledger"
	"github.com/avvvet/defibuddy-intent/internal/memory"
	"github.com/avvvet/defibuddy-intent/internal/models"
	"github.com/avvvet/defibuddy-intent/internal/observability"
	"github.com/avvvet/defibuddy-intent/internal/readiness"
	"github.com/avvvet/defibuddy-intent/internal/slots"
	"github.com/avvvet/defibuddy-intent/internal/wallet"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Publisher announces executed transactions.
type Publisher interface {
	PublishExecution(ctx context.Context, event models.ExecutionEvent) error
}

// ExecutionDeps wires an ExecutionHandler. Ledger, Publisher, Wallets, Oracle
// and Metrics may be nil. A nil Locker serializes sessions in-process only.
type ExecutionDeps struct {
	Store      memory.Store
	Locker     memory.Locker
	Executor   *chain.Executor
	Oracle     chain.Oracle
	Ledger     ledger.Store
	Wallets    wallet.Store
	Publisher  Publisher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	PendingTTL time.Duration
	Now        func() time.Time
}

// ExecutionHandler turns confirmed intents into wallet transactions. All
// pending state lives in the session.
type ExecutionHandler struct {
	store      memory.Store
	locker     memory.Locker
	executor   *chain.Executor
	oracle     chain.Oracle
	ledger     ledger.Store
	wallets    wallet.Store
	publisher  Publisher
	metrics    *observability.Metrics
	logger     *zap.Logger
	pendingTTL time.Duration
	now        func() time.Time
}

func NewExecutionHandler(deps ExecutionDeps) *ExecutionHandler {
	h := &ExecutionHandler{
		store:      deps.Store,
		locker:     deps.Locker,
		executor:   deps.Executor,
		oracle:     deps.Oracle,
		ledger:     deps.Ledger,
		wallets:    deps.Wallets,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		pendingTTL: deps.PendingTTL,
		now:        deps.Now,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.pendingTTL <= 0 {
		h.pendingTTL = chain.DefaultPendingTTL
	}
	if h.locker == nil {
		h.locker = memory.NewLocalLocker()
	}
	return h
}

// WalletInfo pairs the balance of the executing wallet with the user's
// connected wallet, if any. Balance always belongs to Address.
type WalletInfo struct {
	Address          string          `json:"address"`
	Asset            string          `json:"asset"`
	Balance          decimal.Decimal `json:"balance"`
	Connected        bool            `json:"connected"`
	ConnectedAddress string          `json:"connected_address,omitempty"`
	Network          string          `json:"network,omitempty"`
}

// Confirmation returns the confirm-transaction payload for the session's
// record, or readiness.ErrNotReady.
func (h *ExecutionHandler) Confirmation(ctx context.Context, userID, sessionID string) (*readiness.ConfirmationSummary, error) {
	session, err := h.load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Action == nil {
		return nil, readiness.ErrNotReady
	}
	return readiness.Confirmation(*session.Action)
}

// Execute submits the session's ready record and clears it.
func (h *ExecutionHandler) Execute(ctx context.Context, userID, sessionID string) (*ledger.Entry, error) {
	session, unlock, err := h.claim(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if session.Action == nil || !readiness.Analyze(*session.Action).IsReady {
		return nil, readiness.ErrNotReady
	}
	record := *session.Action

	receipt, err := h.executor.Execute(ctx, record)
	if err != nil {
		h.metrics.Execution(ledger.KindAction, "failed")
		return nil, err
	}

	entry := h.record(ctx, ledger.Entry{
		UserID:    userID,
		SessionID: sessionID,
		Kind:      ledger.KindAction,
		Action:    record.Value(slots.FieldAction),
		Amount:    record.Value(slots.FieldAmount),
		Token:     record.Value(slots.FieldTokenIn),
		TxHash:    receipt.TxHash,
	})

	session.Action = nil
	if err := h.store.Update(ctx, userID, sessionID, session); err != nil {
		h.logger.Warn("failed to clear executed record", zap.Error(err))
	}
	return entry, nil
}

// ProposePayment stores a pending service payment in the session.
func (h *ExecutionHandler) ProposePayment(ctx context.Context, userID, sessionID, service, amount, token string) (*memory.PendingPayment, error) {
	session, unlock, err := h.claim(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	p, err := chain.ProposePayment(service, amount, token, h.now(), h.pendingTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	session.PendingPayment = p
	if err := h.store.Update(ctx, userID, sessionID, session); err != nil {
		return nil, err
	}
	return p, nil
}

// ConfirmPayment executes the pending payment. An expired payment is cleared
// and chain.ErrPaymentExpired returned.
func (h *ExecutionHandler) ConfirmPayment(ctx context.Context, userID, sessionID string) (*ledger.Entry, error) {
	session, unlock, err := h.claim(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	p := session.PendingPayment
	if p == nil {
		return nil, chain.ErrNothingPending
	}
	if p.Expired(h.now()) {
		session.PendingPayment = nil
		if err := h.store.Update(ctx, userID, sessionID, session); err != nil {
			return nil, err
		}
		return nil, chain.ErrPaymentExpired
	}

	receipt, err := h.executor.Pay(ctx, p)
	if err != nil {
		h.metrics.Execution(ledger.KindPayment, "failed")
		return nil, err
	}

	entry := h.record(ctx, ledger.Entry{
		UserID:    userID,
		SessionID: sessionID,
		Kind:      ledger.KindPayment,
		Action:    p.Service,
		Amount:    p.Value(slots.FieldAmount),
		Token:     p.Value(slots.FieldTokenIn),
		Recipient: p.RecipientAddress,
		TxHash:    receipt.TxHash,
	})

	session.PendingPayment = nil
	if err := h.store.Update(ctx, userID, sessionID, session); err != nil {
		h.logger.Warn("failed to clear confirmed payment", zap.Error(err))
	}
	return entry, nil
}

func (h *ExecutionHandler) CancelPayment(ctx context.Context, userID, sessionID string) error {
	session, unlock, err := h.claim(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	defer unlock()
	if session.PendingPayment == nil {
		return chain.ErrNothingPending
	}
	session.PendingPayment = nil
	return h.store.Update(ctx, userID, sessionID, session)
}

// ProposeTransfer stores a pending transfer in the session.
func (h *ExecutionHandler) ProposeTransfer(ctx context.Context, userID, sessionID, amount, token, recipient string) (*memory.PendingTransfer, error) {
	session, unlock, err := h.claim(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	t, err := chain.ProposeTransfer(amount, token, recipient, h.now(), h.pendingTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	session.PendingTransfer = t
	if err := h.store.Update(ctx, userID, sessionID, session); err != nil {
		return nil, err
	}
	return t, nil
}

// ConfirmTransfer executes the pending transfer.
func (h *ExecutionHandler) ConfirmTransfer(ctx context.Context, userID, sessionID string) (*ledger.Entry, error) {
	session, unlock, err := h.claim(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	t := session.PendingTransfer
	if t == nil {
		return nil, chain.ErrNothingPending
	}
	if t.Expired(h.now()) {
		session.PendingTransfer = nil
		if err := h.store.Update(ctx, userID, sessionID, session); err != nil {
			return nil, err
		}
		return nil, chain.ErrPaymentExpired
	}

	amount, err := t.AmountValue()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	token := t.Value(slots.FieldTokenIn)

	receipt, err := h.executor.Transfer(ctx, token, amount, t.RecipientAddress)
	if err != nil {
		h.metrics.Execution(ledger.KindTransfer, "failed")
		return nil, err
	}

	entry := h.record(ctx, ledger.Entry{
		UserID:    userID,
		SessionID: sessionID,
		Kind:      ledger.KindTransfer,
		Amount:    amount.String(),
		Token:     token,
		Recipient: t.RecipientAddress,
		TxHash:    receipt.TxHash,
	})

	session.PendingTransfer = nil
	if err := h.store.Update(ctx, userID, sessionID, session); err != nil {
		h.logger.Warn("failed to clear confirmed transfer", zap.Error(err))
	}
	return entry, nil
}

func (h *ExecutionHandler) CancelTransfer(ctx context.Context, userID, sessionID string) error {
	session, unlock, err := h.claim(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	defer unlock()
	if session.PendingTransfer == nil {
		return chain.ErrNothingPending
	}
	session.PendingTransfer = nil
	return h.store.Update(ctx, userID, sessionID, session)
}

// ConnectWallet validates and stores the user's wallet.
func (h *ExecutionHandler) ConnectWallet(ctx context.Context, userID, address, network string, data []byte) (*wallet.Connection, error) {
	if h.wallets == nil {
		return nil, errors.New("wallet storage not configured")
	}
	c := wallet.Connection{UserID: userID, Address: strings.TrimSpace(address), Network: network, Data: data}
	if err := h.wallets.Save(ctx, c); err != nil {
		if errors.Is(err, wallet.ErrInvalidAddress) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return nil, err
	}
	return h.wallets.Get(ctx, userID)
}

// Wallet reports the executing wallet's balance of asset together with the
// user's connected wallet.
func (h *ExecutionHandler) Wallet(ctx context.Context, userID, asset string) (*WalletInfo, error) {
	if asset == "" {
		asset = "ETH"
	}
	address, balance, err := h.executor.Balance(ctx, asset)
	if err != nil {
		return nil, err
	}
	info := &WalletInfo{Address: address, Asset: strings.ToUpper(asset), Balance: balance}

	if h.wallets != nil {
		c, err := h.wallets.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		if c != nil {
			info.Connected, info.ConnectedAddress, info.Network = true, c.Address, c.Network
		}
	}
	return info, nil
}

// Price quotes symbol in USD.
func (h *ExecutionHandler) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if h.oracle == nil {
		return decimal.Zero, errors.New("price oracle not configured")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return decimal.Zero, fmt.Errorf("%w: symbol is required", ErrInvalidInput)
	}
	return h.oracle.Price(ctx, symbol)
}

// Transactions lists the user's most recent ledger entries.
func (h *ExecutionHandler) Transactions(ctx context.Context, userID string, limit int) ([]ledger.Entry, error) {
	if h.ledger == nil {
		return []ledger.Entry{}, nil
	}
	return h.ledger.Recent(ctx, userID, limit)
}

func (h *ExecutionHandler) load(ctx context.Context, userID, sessionID string) (*memory.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUnauthenticated
	}
	session, err := h.store.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, memory.ErrSessionNotFound
	}
	return session, nil
}

// claim returns the session as read under its lock. The first load checks
// ownership before the lock is taken.
func (h *ExecutionHandler) claim(ctx context.Context, userID, sessionID string) (*memory.Session, func(), error) {
	if _, err := h.load(ctx, userID, sessionID); err != nil {
		return nil, nil, err
	}
	release, err := h.locker.Lock(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	unlock := func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			h.logger.Warn("failed to release session lock",
				zap.String("session_id", memory.ShortID(sessionID)),
				zap.Error(err))
		}
	}

	session, err := h.load(ctx, userID, sessionID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return session, unlock, nil
}

// record writes the ledger entry and publishes the event. Failures here are
// logged; the transaction already happened.
func (h *ExecutionHandler) record(ctx context.Context, e ledger.Entry) *ledger.Entry {
	h.metrics.Execution(e.Kind, "success")

	if h.ledger != nil {
		saved, err := h.ledger.Record(ctx, e)
		if err != nil {
			h.logger.Error("failed to record ledger entry",
				zap.String("tx_hash", e.TxHash),
				zap.Error(err))
		} else {
			e = saved
		}
	}
	if e.Status == "" {
		e.Status = "success"
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = h.now().UTC()
	}

	if h.publisher != nil {
		event := models.ExecutionEvent{
			ID:        e.ID,
			UserID:    e.UserID,
			SessionID: e.SessionID,
			Kind:      e.Kind,
			Action:    e.Action,
			Amount:    e.Amount,
			Token:     e.Token,
			Recipient: e.Recipient,
			TxHash:    e.TxHash,
			Status:    e.Status,
			Timestamp: e.CreatedAt.Unix(),
		}
		if err := h.publisher.PublishExecution(ctx, event); err != nil {
			h.logger.Warn("failed to publish execution event",
				zap.String("tx_hash", e.TxHash),
				zap.Error(err))
		}
	}

	h.logger.Info("transaction executed",
		zap.String("user_id", e.UserID),
		zap.String("kind", e.Kind),
		zap.String("tx_hash", e.TxHash))
	return &e
}
