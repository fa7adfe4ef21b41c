package chain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avvvet/defibuddy-intent/internal/memory"
	"github.com/avvvet/defibuddy-intent/internal/sanitize"
	"github.com/avvvet/defibuddy-intent/internal/slots"
	"github.com/shopspring/decimal"
)

// DefaultPendingTTL is how long a proposal waits for confirmation.
const DefaultPendingTTL = 5 * time.Minute

var (
	ErrUnknownService    = errors.New("unknown service")
	ErrUnsupportedToken  = errors.New("unsupported token")
	ErrAmountTooLarge    = errors.New("amount too large")
	ErrInvalidRecipient  = errors.New("invalid recipient address")
	ErrPaymentExpired    = errors.New("pending request has expired")
	ErrNothingPending    = errors.New("no pending request")
	ErrMissingParameters = errors.New("missing required parameters")
)

var maxPaymentAmount = decimal.NewFromInt(1_000_000)

// Service is a payable catalog entry.
type Service struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Recipient string `json:"recipient_address"`
}

var catalog = map[string]Service{
	"api_access":   {ID: "api_access", Name: "Premium API Access", Recipient: "0x742d35Cc6634C0532925a3b8D4C9db96590c6C87"},
	"data_feed":    {ID: "data_feed", Name: "Real-time Data Feed", Recipient: "0x8ba1f109551bD432803012645E136c22C501e5b5"},
	"oracle_query": {ID: "oracle_query", Name: "Oracle Query Service", Recipient: "0x1a5F9352Af8Af974bFC03399e3767DF6370d82e4"},
}

var serviceCorrections = map[string]string{
	"api":    "api_access",
	"data":   "data_feed",
	"feed":   "data_feed",
	"oracle": "oracle_query",
}

// SupportedTokens may be used for payments and transfers.
var SupportedTokens = []string{"ETH", "USDC", "USDT", "DAI"}

// ServiceIDs lists the catalog in stable order.
var ServiceIDs = []string{"api_access", "data_feed", "oracle_query"}

// LookupService resolves a service id, accepting common short names.
func LookupService(id string) (Service, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	if c, ok := serviceCorrections[id]; ok {
		id = c
	}
	s, ok := catalog[id]
	return s, ok
}

// NormalizeToken upper-cases token and checks it is supported.
func NormalizeToken(token string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(token))
	if t == "" {
		t = "ETH"
	}
	for _, s := range SupportedTokens {
		if s == t {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w %q, supported tokens: %s", ErrUnsupportedToken, token, strings.Join(SupportedTokens, ", "))
}

func validateAmount(amount string) (decimal.Decimal, error) {
	d, err := slots.ParseAmount(amount)
	if err != nil {
		return decimal.Zero, err
	}
	if d.GreaterThan(maxPaymentAmount) {
		return decimal.Zero, ErrAmountTooLarge
	}
	return d, nil
}

// ProposePayment validates a payment request and returns the pending record.
func ProposePayment(service, amount, token string, now time.Time, ttl time.Duration) (*memory.PendingPayment, error) {
	if strings.TrimSpace(service) == "" || strings.TrimSpace(amount) == "" {
		return nil, ErrMissingParameters
	}
	svc, ok := LookupService(service)
	if !ok {
		return nil, fmt.Errorf("%w %q, available services: %s", ErrUnknownService, service, strings.Join(ServiceIDs, ", "))
	}
	d, err := validateAmount(amount)
	if err != nil {
		return nil, err
	}
	tok, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}

	amt := d.String()
	return &memory.PendingPayment{
		Record:           slots.Record{Amount: &amt, TokenIn: &tok},
		Service:          svc.ID,
		ServiceName:      svc.Name,
		RecipientAddress: svc.Recipient,
		CreatedAt:        now,
		ExpiresAt:        now.Add(ttl),
	}, nil
}

// ProposeTransfer validates a transfer request and returns the pending record.
func ProposeTransfer(amount, token, recipient string, now time.Time, ttl time.Duration) (*memory.PendingTransfer, error) {
	if strings.TrimSpace(amount) == "" || strings.TrimSpace(recipient) == "" {
		return nil, ErrMissingParameters
	}
	if !sanitize.Address(recipient) {
		return nil, ErrInvalidRecipient
	}
	d, err := validateAmount(amount)
	if err != nil {
		return nil, err
	}
	tok, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}

	amt := d.String()
	return &memory.PendingTransfer{
		Record:           slots.Record{Amount: &amt, TokenIn: &tok},
		RecipientAddress: recipient,
		CreatedAt:        now,
		ExpiresAt:        now.Add(ttl),
	}, nil
}
