package handlers

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/avvvet/defibuddy-intent/internal/chain"
	"github.com/avvvet/defibuddy-intent/internal/ledger"
	"github.com/avvvet/defibuddy-intent/internal/memory"
	"github.com/avvvet/defibuddy-intent/internal/models"
	"github.com/avvvet/defibuddy-intent/internal/readiness"
	"github.com/avvvet/defibuddy-intent/internal/slots"
	"github.com/avvvet/defibuddy-intent/internal/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	recipient      = "0x742d35Cc6634C0532925a3b8D4C9db96590c6C87"
	serviceAddress = "0x0000000000000000000000000000000000000001"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ExecutionEvent
	err    error
}

func (p *recordingPublisher) PublishExecution(_ context.Context, e models.ExecutionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

type execFixture struct {
	store     *fakeStore
	ledger    *ledger.InMemoryStore
	publisher *recordingPublisher
	handler   *ExecutionHandler
	clock     time.Time
	sessionID string
}

func newExecFixture(t *testing.T, opts ...chain.MockOption) *execFixture {
	t.Helper()
	f := &execFixture{
		store:     newFakeStore(10),
		ledger:    ledger.NewInMemoryStore(),
		publisher: &recordingPublisher{},
		clock:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	mock := chain.NewMockWallet(serviceAddress, opts...)
	f.handler = NewExecutionHandler(ExecutionDeps{
		Store:     f.store,
		Executor:  chain.NewExecutor(mock, nil),
		Oracle:    mock,
		Ledger:    f.ledger,
		Publisher: f.publisher,
		Now:       func() time.Time { return f.clock },
	})

	id, err := f.store.Create(context.Background(), "alice", "", "")
	require.NoError(t, err)
	f.sessionID = id
	return f
}

func (f *execFixture) setAction(t *testing.T, r slots.Record) {
	t.Helper()
	ctx := context.Background()
	s, err := f.store.Get(ctx, "alice", f.sessionID)
	require.NoError(t, err)
	s.Action = &r
	require.NoError(t, f.store.Update(ctx, "alice", f.sessionID, s))
}

func readySwap() slots.Record {
	return slots.Record{
		Action:   slots.Ptr(slots.ActionSwap),
		Amount:   slots.Ptr("100"),
		TokenIn:  slots.Ptr("USDC"),
		TokenOut: slots.Ptr("ETH"),
		Protocol: slots.Ptr("Uniswap"),
	}
}

func TestConfirmationNotReady(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()

	_, err := f.handler.Confirmation(ctx, "alice", f.sessionID)
	assert.ErrorIs(t, err, readiness.ErrNotReady)

	r := readySwap()
	r.Protocol = nil
	f.setAction(t, r)
	_, err = f.handler.Confirmation(ctx, "alice", f.sessionID)
	assert.ErrorIs(t, err, readiness.ErrNotReady)

	_, err = f.handler.Execute(ctx, "alice", f.sessionID)
	assert.ErrorIs(t, err, readiness.ErrNotReady)
	assert.Empty(t, f.publisher.events)
}

func TestConfirmationUnknownSession(t *testing.T) {
	f := newExecFixture(t)
	_, err := f.handler.Confirmation(context.Background(), "alice", "nope")
	assert.ErrorIs(t, err, memory.ErrSessionNotFound)

	_, err = f.handler.Confirmation(context.Background(), "", f.sessionID)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestExecuteReadyAction(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()
	f.setAction(t, readySwap())

	summary, err := f.handler.Confirmation(ctx, "alice", f.sessionID)
	require.NoError(t, err)
	assert.Equal(t, "swap", summary.Action)

	entry, err := f.handler.Execute(ctx, "alice", f.sessionID)
	require.NoError(t, err)
	assert.Equal(t, chain.HashAction, entry.TxHash)
	assert.Equal(t, ledger.KindAction, entry.Kind)
	assert.NotEmpty(t, entry.ID)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, entry.ID, f.publisher.events[0].ID)
	assert.Equal(t, "swap", f.publisher.events[0].Action)

	s, err := f.store.Get(ctx, "alice", f.sessionID)
	require.NoError(t, err)
	assert.Nil(t, s.Action)

	txs, err := f.handler.Transactions(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

// slowStore widens the read-then-write window of every execution path.
type slowStore struct {
	*fakeStore
	delay time.Duration
}

func (s slowStore) Get(ctx context.Context, userID, sessionID string) (*memory.Session, error) {
	time.Sleep(s.delay)
	return s.fakeStore.Get(ctx, userID, sessionID)
}

func racingConfirms(t *testing.T, run func() (*ledger.Entry, error)) (successes int, errs []error) {
	t.Helper()
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := run()
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				errs = append(errs, err)
			}
		}()
	}
	close(start)
	wg.Wait()
	return successes, errs
}

func TestConcurrentExecuteRunsOnce(t *testing.T) {
	f := newExecFixture(t)
	f.handler.store = slowStore{fakeStore: f.store, delay: 20 * time.Millisecond}
	f.setAction(t, readySwap())
	ctx := context.Background()

	successes, errs := racingConfirms(t, func() (*ledger.Entry, error) {
		return f.handler.Execute(ctx, "alice", f.sessionID)
	})
	assert.Equal(t, 1, successes)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], readiness.ErrNotReady)

	txs, err := f.ledger.Recent(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Len(t, f.publisher.events, 1)
}

func TestConcurrentConfirmPaymentRunsOnce(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()
	_, err := f.handler.ProposePayment(ctx, "alice", f.sessionID, "oracle", "1", "USDC")
	require.NoError(t, err)
	f.handler.store = slowStore{fakeStore: f.store, delay: 20 * time.Millisecond}

	successes, errs := racingConfirms(t, func() (*ledger.Entry, error) {
		return f.handler.ConfirmPayment(ctx, "alice", f.sessionID)
	})
	assert.Equal(t, 1, successes)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], chain.ErrNothingPending)

	txs, err := f.ledger.Recent(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestExecuteReleasesSessionLock(t *testing.T) {
	locker := &countingLocker{}
	f := newExecFixture(t)
	f.handler.locker = locker
	f.setAction(t, readySwap())

	_, err := f.handler.Execute(context.Background(), "alice", f.sessionID)
	require.NoError(t, err)
	_, err = f.handler.Execute(context.Background(), "alice", f.sessionID)
	assert.ErrorIs(t, err, readiness.ErrNotReady)
	assert.Equal(t, int32(2), locker.locks.Load())
	assert.Equal(t, int32(2), locker.unlocks.Load())
}

func TestPaymentLifecycle(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()

	p, err := f.handler.ProposePayment(ctx, "alice", f.sessionID, "oracle", "2.5", "usdc")
	require.NoError(t, err)
	assert.Equal(t, "oracle_query", p.Service)
	assert.Equal(t, f.clock.Add(chain.DefaultPendingTTL), p.ExpiresAt)

	s, err := f.store.Get(ctx, "alice", f.sessionID)
	require.NoError(t, err)
	require.NotNil(t, s.PendingPayment)

	entry, err := f.handler.ConfirmPayment(ctx, "alice", f.sessionID)
	require.NoError(t, err)
	assert.Equal(t, chain.HashPay, entry.TxHash)
	assert.Equal(t, "2.5", entry.Amount)
	assert.Equal(t, "USDC", entry.Token)

	_, err = f.handler.ConfirmPayment(ctx, "alice", f.sessionID)
	assert.ErrorIs(t, err, chain.ErrNothingPending)
}

func TestPaymentExpires(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()

	_, err := f.handler.ProposePayment(ctx, "alice", f.sessionID, "api_access", "1", "ETH")
	require.NoError(t, err)

	f.clock = f.clock.Add(6 * time.Minute)
	_, err = f.handler.ConfirmPayment(ctx, "alice", f.sessionID)
	assert.ErrorIs(t, err, chain.ErrPaymentExpired)

	s, err := f.store.Get(ctx, "alice", f.sessionID)
	require.NoError(t, err)
	assert.Nil(t, s.PendingPayment)
	assert.Empty(t, f.publisher.events)
}

func TestPaymentCancelAndValidation(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()

	_, err := f.handler.ProposePayment(ctx, "alice", f.sessionID, "weather", "1", "ETH")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, err, chain.ErrUnknownService)

	assert.ErrorIs(t, f.handler.CancelPayment(ctx, "alice", f.sessionID), chain.ErrNothingPending)

	_, err = f.handler.ProposePayment(ctx, "alice", f.sessionID, "data", "1", "DAI")
	require.NoError(t, err)
	require.NoError(t, f.handler.CancelPayment(ctx, "alice", f.sessionID))

	s, err := f.store.Get(ctx, "alice", f.sessionID)
	require.NoError(t, err)
	assert.Nil(t, s.PendingPayment)
}

func TestTransferUsesFallbackStrategy(t *testing.T) {
	f := newExecFixture(t, chain.WithUnsupported(chain.StrategySendTransaction))
	ctx := context.Background()

	_, err := f.handler.ProposeTransfer(ctx, "alice", f.sessionID, "0.01", "ETH", recipient)
	require.NoError(t, err)

	entry, err := f.handler.ConfirmTransfer(ctx, "alice", f.sessionID)
	require.NoError(t, err)
	assert.Equal(t, chain.HashNative, entry.TxHash)
	assert.Equal(t, recipient, entry.Recipient)
	assert.Equal(t, ledger.KindTransfer, entry.Kind)
}

func TestTransferInsufficientFundsKeepsPending(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()

	_, err := f.handler.ProposeTransfer(ctx, "alice", f.sessionID, "3", "ETH", recipient)
	require.NoError(t, err)

	_, err = f.handler.ConfirmTransfer(ctx, "alice", f.sessionID)
	assert.ErrorIs(t, err, chain.ErrInsufficientFunds)

	s, err := f.store.Get(ctx, "alice", f.sessionID)
	require.NoError(t, err)
	assert.NotNil(t, s.PendingTransfer)

	require.NoError(t, f.handler.CancelTransfer(ctx, "alice", f.sessionID))
	assert.ErrorIs(t, f.handler.CancelTransfer(ctx, "alice", f.sessionID), chain.ErrNothingPending)
}

func TestTransferRejectsBadRecipient(t *testing.T) {
	f := newExecFixture(t)
	_, err := f.handler.ProposeTransfer(context.Background(), "alice", f.sessionID, "1", "ETH", "0xdead")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPublishFailureDoesNotFailExecution(t *testing.T) {
	f := newExecFixture(t)
	f.publisher.err = errors.New("nats down")
	f.setAction(t, readySwap())

	entry, err := f.handler.Execute(context.Background(), "alice", f.sessionID)
	require.NoError(t, err)
	assert.Equal(t, chain.HashAction, entry.TxHash)
}

func TestWalletAndPrice(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()

	info, err := f.handler.Wallet(ctx, "alice", "")
	require.NoError(t, err)
	assert.False(t, info.Connected)
	assert.Empty(t, info.ConnectedAddress)
	assert.Equal(t, serviceAddress, info.Address)
	assert.Equal(t, "ETH", info.Asset)
	assert.True(t, info.Balance.Equal(decimal.RequireFromString("0.1")))

	price, err := f.handler.Price(ctx, "eth")
	require.NoError(t, err)
	assert.Equal(t, "3500.5", price.String())

	_, err = f.handler.Price(ctx, " ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestConnectWallet(t *testing.T) {
	cipher, err := wallet.NewCipher("test-secret")
	require.NoError(t, err)
	wallets, err := wallet.NewSQLiteStore(filepath.Join(t.TempDir(), "w.db"), cipher)
	require.NoError(t, err)
	t.Cleanup(func() { wallets.Close() })

	f := newExecFixture(t)
	f.handler.wallets = wallets
	ctx := context.Background()

	_, err = f.handler.ConnectWallet(ctx, "alice", "not-an-address", "", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	c, err := f.handler.ConnectWallet(ctx, "alice", recipient, "base-sepolia", []byte(`{"id":"w1"}`))
	require.NoError(t, err)
	assert.Equal(t, recipient, c.Address)

	info, err := f.handler.Wallet(ctx, "alice", "USDC")
	require.NoError(t, err)
	assert.True(t, info.Connected)
	assert.Equal(t, recipient, info.ConnectedAddress)
	assert.Equal(t, "base-sepolia", info.Network)
	// the balance is the executing wallet's, so it keeps that address
	assert.Equal(t, serviceAddress, info.Address)
	assert.True(t, info.Balance.Equal(decimal.NewFromInt(1000)))
}
