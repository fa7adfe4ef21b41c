package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avvvet/defibuddy-intent/internal/slots"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRecipient = "0x742d35Cc6634C0532925a3b8D4C9db96590c6C87"

func TestTransferNativeFirstStrategy(t *testing.T) {
	exec := NewExecutor(NewMockWallet("0xabc"), nil)

	receipt, err := exec.Transfer(context.Background(), "eth", decimal.RequireFromString("0.01"), testRecipient)
	require.NoError(t, err)
	assert.Equal(t, HashNative, receipt.TxHash)
	assert.Equal(t, StrategySendTransaction, receipt.Strategy)
}

func TestTransferNativeFallsBack(t *testing.T) {
	w := NewMockWallet("0xabc", WithUnsupported(StrategySendTransaction, StrategyTransferWei))
	exec := NewExecutor(w, nil)

	receipt, err := exec.Transfer(context.Background(), "ETH", decimal.RequireFromString("0.05"), testRecipient)
	require.NoError(t, err)
	assert.Equal(t, StrategyTransferDecimal, receipt.Strategy)
}

func TestTransferAllStrategiesUnsupported(t *testing.T) {
	w := NewMockWallet("0xabc", WithUnsupported(StrategySendTransaction, StrategyTransferWei, StrategyTransferDecimal))
	exec := NewExecutor(w, nil)

	_, err := exec.Transfer(context.Background(), "ETH", decimal.RequireFromString("0.01"), testRecipient)
	require.Error(t, err)

	var se *StrategyError
	require.True(t, errors.As(err, &se))
	assert.Len(t, se.Attempts, 3)
	assert.Equal(t, ReasonUnsupported, se.Last())
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestTransferInsufficientFundsStopsChain(t *testing.T) {
	exec := NewExecutor(NewMockWallet("0xabc"), nil)

	_, err := exec.Transfer(context.Background(), "ETH", decimal.NewFromInt(5), testRecipient)
	require.Error(t, err)

	var se *StrategyError
	require.True(t, errors.As(err, &se))
	assert.Len(t, se.Attempts, 1)
	assert.Equal(t, ReasonInsufficient, se.Last())
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestTransferERC20(t *testing.T) {
	exec := NewExecutor(NewMockWallet("0xabc"), nil)

	receipt, err := exec.Transfer(context.Background(), "usdc", decimal.NewFromInt(25), testRecipient)
	require.NoError(t, err)
	assert.Equal(t, HashERC20, receipt.TxHash)
	assert.Equal(t, StrategyERC20Transfer, receipt.Strategy)
}

func TestTransferCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExecutor(NewMockWallet("0xabc"), nil).Transfer(ctx, "ETH", decimal.RequireFromString("0.01"), testRecipient)
	var se *StrategyError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ReasonCanceled, se.Last())
}

func TestPayAndExecute(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	exec := NewExecutor(NewMockWallet("0xabc"), nil)

	p, err := ProposePayment("api", "10", "usdc", now, 0)
	require.NoError(t, err)

	receipt, err := exec.Pay(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, HashPay, receipt.TxHash)

	swap := slots.ActionSwap
	receipt, err = exec.Execute(context.Background(), slots.Record{Action: &swap})
	require.NoError(t, err)
	assert.Equal(t, HashAction, receipt.TxHash)
}

func TestBalance(t *testing.T) {
	exec := NewExecutor(NewMockWallet("0xabc", WithBalance("dai", decimal.NewFromInt(42))), nil)

	addr, bal, err := exec.Balance(context.Background(), "DAI")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", addr)
	assert.True(t, bal.Equal(decimal.NewFromInt(42)))

	_, bal, err = exec.Balance(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("0.1")))
}

func TestMockPrices(t *testing.T) {
	w := NewMockWallet("0xabc")
	p, err := w.Price(context.Background(), "eth")
	require.NoError(t, err)
	assert.Equal(t, "3500.5", p.String())

	p, err = w.Price(context.Background(), "DOGE")
	require.NoError(t, err)
	assert.Equal(t, "100", p.String())
}

func TestProposePayment(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name    string
		service string
		amount  string
		token   string
		wantErr error
		wantID  string
	}{
		{name: "exact id", service: "data_feed", amount: "1.5", token: "eth", wantID: "data_feed"},
		{name: "short name", service: "Oracle", amount: "2", token: "", wantID: "oracle_query"},
		{name: "feed alias", service: "feed", amount: "2", token: "DAI", wantID: "data_feed"},
		{name: "unknown service", service: "weather", amount: "1", token: "ETH", wantErr: ErrUnknownService},
		{name: "bad token", service: "api", amount: "1", token: "DOGE", wantErr: ErrUnsupportedToken},
		{name: "zero amount", service: "api", amount: "0", token: "ETH", wantErr: slots.ErrNonPositiveAmount},
		{name: "garbage amount", service: "api", amount: "lots", token: "ETH", wantErr: slots.ErrInvalidAmount},
		{name: "too large", service: "api", amount: "1000001", token: "ETH", wantErr: ErrAmountTooLarge},
		{name: "missing service", service: " ", amount: "1", token: "ETH", wantErr: ErrMissingParameters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ProposePayment(tt.service, tt.amount, tt.token, now, 0)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, p.Service)
			assert.NotEmpty(t, p.RecipientAddress)
			assert.Equal(t, now.Add(DefaultPendingTTL), p.ExpiresAt)
			assert.False(t, p.Expired(now.Add(4*time.Minute)))
			assert.True(t, p.Expired(now.Add(6*time.Minute)))
		})
	}
}

func TestProposeTransfer(t *testing.T) {
	now := time.Now()

	tr, err := ProposeTransfer("0.25", "eth", testRecipient, now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "ETH", tr.Value(slots.FieldTokenIn))
	assert.Equal(t, "0.25", tr.Value(slots.FieldAmount))
	assert.Equal(t, now.Add(time.Minute), tr.ExpiresAt)

	_, err = ProposeTransfer("1", "ETH", "0x1234", now, 0)
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	_, err = ProposeTransfer("", "ETH", testRecipient, now, 0)
	assert.ErrorIs(t, err, ErrMissingParameters)
}

func TestToWei(t *testing.T) {
	assert.Equal(t, "1000000000000000000", ToWei(decimal.NewFromInt(1)).String())
	assert.Equal(t, "10000000000000000", ToWei(decimal.RequireFromString("0.01")).String())
}
