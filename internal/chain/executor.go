package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/avvvet/defibuddy-intent/internal/memory"
	"github.com/avvvet/defibuddy-intent/internal/slots"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Strategy names.
const (
	StrategySendTransaction = "send_transaction"
	StrategyTransferWei     = "transfer_wei"
	StrategyTransferDecimal = "transfer_decimal"
	StrategyERC20Transfer   = "erc20_transfer"
	StrategyPay             = "pay"
	StrategySubmitAction    = "submit_action"
)

// Receipt describes an executed transaction.
type Receipt struct {
	TxHash   string
	Strategy string
}

// Executor drives a Wallet for confirmed intents.
type Executor struct {
	wallet Wallet
	logger *zap.Logger
}

func NewExecutor(wallet Wallet, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{wallet: wallet, logger: logger}
}

// Transfer sends amount of token to recipient. Native ETH walks the
// send_transaction, transfer_wei, transfer_decimal chain.
func (e *Executor) Transfer(ctx context.Context, token string, amount decimal.Decimal, recipient string) (*Receipt, error) {
	token = strings.ToUpper(token)

	var strategies []Strategy
	if token == "ETH" {
		wei := ToWei(amount)
		strategies = []Strategy{
			{Name: StrategySendTransaction, Run: func(ctx context.Context) (string, error) {
				return e.wallet.SendTransaction(ctx, recipient, wei)
			}},
			{Name: StrategyTransferWei, Run: func(ctx context.Context) (string, error) {
				return e.wallet.TransferWei(ctx, recipient, wei)
			}},
			{Name: StrategyTransferDecimal, Run: func(ctx context.Context) (string, error) {
				return e.wallet.TransferDecimal(ctx, recipient, amount)
			}},
		}
	} else {
		strategies = []Strategy{
			{Name: StrategyERC20Transfer, Run: func(ctx context.Context) (string, error) {
				return e.wallet.ERC20Transfer(ctx, token, amount, recipient)
			}},
		}
	}

	return e.run(ctx, "transfer", strategies)
}

// Pay executes a confirmed service payment.
func (e *Executor) Pay(ctx context.Context, p *memory.PendingPayment) (*Receipt, error) {
	amount, err := p.AmountValue()
	if err != nil {
		return nil, err
	}
	token := p.Value(slots.FieldTokenIn)
	return e.run(ctx, "payment", []Strategy{
		{Name: StrategyPay, Run: func(ctx context.Context) (string, error) {
			return e.wallet.Pay(ctx, p.Service, amount, token, p.RecipientAddress)
		}},
	})
}

// Execute submits a ready DeFi action.
func (e *Executor) Execute(ctx context.Context, record slots.Record) (*Receipt, error) {
	return e.run(ctx, "action", []Strategy{
		{Name: StrategySubmitAction, Run: func(ctx context.Context) (string, error) {
			return e.wallet.SubmitAction(ctx, record)
		}},
	})
}

// Balance returns the wallet address and its balance of asset.
func (e *Executor) Balance(ctx context.Context, asset string) (string, decimal.Decimal, error) {
	bal, err := e.wallet.Balance(ctx, asset)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("failed to read balance: %w", err)
	}
	return e.wallet.Address(), bal, nil
}

func (e *Executor) run(ctx context.Context, kind string, strategies []Strategy) (*Receipt, error) {
	hash, name, err := RunStrategies(ctx, strategies...)
	if err != nil {
		var se *StrategyError
		if errors.As(err, &se) {
			e.logger.Warn("chain execution failed",
				zap.String("kind", kind),
				zap.String("reason", string(se.Last())),
				zap.Error(err))
		}
		return nil, err
	}
	e.logger.Info("chain execution succeeded",
		zap.String("kind", kind),
		zap.String("strategy", name),
		zap.String("tx_hash", hash))
	return &Receipt{TxHash: hash, Strategy: name}, nil
}
