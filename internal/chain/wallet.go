// Package chain is the adapter between confirmed intents and the wallet SDK:
// transfers, service payments, balances and prices.
package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/avvvet/defibuddy-intent/internal/slots"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnsupported means the wallet provider lacks this operation; callers
	// may try another strategy.
	ErrUnsupported       = errors.New("operation not supported by wallet provider")
	ErrInsufficientFunds = errors.New("insufficient balance")
)

// Wallet is the subset of a wallet SDK the service drives.
type Wallet interface {
	Address() string
	Balance(ctx context.Context, asset string) (decimal.Decimal, error)
	SendTransaction(ctx context.Context, to string, valueWei *big.Int) (string, error)
	TransferWei(ctx context.Context, to string, valueWei *big.Int) (string, error)
	TransferDecimal(ctx context.Context, to string, amount decimal.Decimal) (string, error)
	ERC20Transfer(ctx context.Context, token string, amount decimal.Decimal, to string) (string, error)
	Pay(ctx context.Context, serviceID string, amount decimal.Decimal, token, to string) (string, error)
	SubmitAction(ctx context.Context, record slots.Record) (string, error)
}

// Oracle quotes token prices in USD.
type Oracle interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Mock transaction hashes.
var (
	HashNative = "0x" + strings.Repeat("a", 64)
	HashERC20  = "0x" + strings.Repeat("b", 64)
	HashPay    = "0x" + strings.Repeat("c", 64)
	HashAction = "0x" + strings.Repeat("d", 64)
)

var mockPrices = map[string]decimal.Decimal{
	"ETH":  decimal.RequireFromString("3500.50"),
	"BTC":  decimal.RequireFromString("65000.25"),
	"USDC": decimal.RequireFromString("1.00"),
	"USDT": decimal.RequireFromString("0.999"),
	"LINK": decimal.RequireFromString("25.75"),
}

var defaultMockPrice = decimal.NewFromInt(100)

// MockWallet simulates a funded wallet for development and tests.
type MockWallet struct {
	address     string
	balances    map[string]decimal.Decimal
	unsupported map[string]bool
}

// MockOption customizes a MockWallet.
type MockOption func(*MockWallet)

// WithBalance overrides the balance of asset.
func WithBalance(asset string, amount decimal.Decimal) MockOption {
	return func(w *MockWallet) { w.balances[strings.ToUpper(asset)] = amount }
}

// WithUnsupported disables the named operations, e.g. "send_transaction".
func WithUnsupported(ops ...string) MockOption {
	return func(w *MockWallet) {
		for _, op := range ops {
			w.unsupported[op] = true
		}
	}
}

func NewMockWallet(address string, opts ...MockOption) *MockWallet {
	w := &MockWallet{
		address: address,
		balances: map[string]decimal.Decimal{
			"ETH":  decimal.RequireFromString("0.1"),
			"USDC": decimal.NewFromInt(1000),
		},
		unsupported: map[string]bool{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *MockWallet) Address() string {
	return w.address
}

func (w *MockWallet) Balance(_ context.Context, asset string) (decimal.Decimal, error) {
	if asset == "" {
		asset = "ETH"
	}
	if b, ok := w.balances[strings.ToUpper(asset)]; ok {
		return b, nil
	}
	return decimal.NewFromInt(500), nil
}

func (w *MockWallet) SendTransaction(ctx context.Context, _ string, valueWei *big.Int) (string, error) {
	return w.native(ctx, "send_transaction", decimal.NewFromBigInt(valueWei, -18))
}

func (w *MockWallet) TransferWei(ctx context.Context, _ string, valueWei *big.Int) (string, error) {
	return w.native(ctx, "transfer_wei", decimal.NewFromBigInt(valueWei, -18))
}

func (w *MockWallet) TransferDecimal(ctx context.Context, _ string, amount decimal.Decimal) (string, error) {
	return w.native(ctx, "transfer_decimal", amount)
}

func (w *MockWallet) native(ctx context.Context, op string, amount decimal.Decimal) (string, error) {
	if w.unsupported[op] {
		return "", ErrUnsupported
	}
	if err := w.spend(ctx, "ETH", amount); err != nil {
		return "", err
	}
	return HashNative, nil
}

func (w *MockWallet) ERC20Transfer(ctx context.Context, token string, amount decimal.Decimal, _ string) (string, error) {
	if w.unsupported["erc20_transfer"] {
		return "", ErrUnsupported
	}
	if err := w.spend(ctx, token, amount); err != nil {
		return "", err
	}
	return HashERC20, nil
}

func (w *MockWallet) Pay(ctx context.Context, _ string, amount decimal.Decimal, token, _ string) (string, error) {
	if w.unsupported["pay"] {
		return "", ErrUnsupported
	}
	if err := w.spend(ctx, token, amount); err != nil {
		return "", err
	}
	return HashPay, nil
}

func (w *MockWallet) SubmitAction(ctx context.Context, _ slots.Record) (string, error) {
	if w.unsupported["submit_action"] {
		return "", ErrUnsupported
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return HashAction, nil
}

func (w *MockWallet) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	if p, ok := mockPrices[strings.ToUpper(symbol)]; ok {
		return p, nil
	}
	return defaultMockPrice, nil
}

func (w *MockWallet) spend(ctx context.Context, asset string, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bal, err := w.Balance(ctx, asset)
	if err != nil {
		return err
	}
	if amount.GreaterThan(bal) {
		return ErrInsufficientFunds
	}
	return nil
}

// ToWei converts an ETH amount to wei, truncating below 1 wei.
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(18).BigInt()
}
