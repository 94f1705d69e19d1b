package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gearmarket-backend/pkg/config"
	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
	apperrors "github.com/angelmondragon/gearmarket-backend/pkg/errors"
)

// ChargeRequest carries everything an adapter needs to attempt a charge.
// IdempotencyKey is stable per payment so a retried call cannot double-charge.
type ChargeRequest struct {
	PaymentID      uuid.UUID
	OrderID        uuid.UUID
	Method         enums.PaymentMethod
	Amount         decimal.Decimal
	Currency       enums.Currency
	IdempotencyKey string
}

// ChargeResult is the successful outcome of a charge attempt.
type ChargeResult struct {
	TransactionID string
	Raw           json.RawMessage
}

// ReversalResult is the successful outcome of a reversal.
type ReversalResult struct {
	ReversalID string
	Raw        json.RawMessage
}

// DeclinedError reports a charge the provider rejected. Declines are final
// for the attempt; the caller records the failure instead of retrying.
type DeclinedError struct {
	Reason string
}

// Error implements error.
func (e *DeclinedError) Error() string {
	if e.Reason == "" {
		return "charge declined"
	}
	return fmt.Sprintf("charge declined: %s", e.Reason)
}

// IsDeclined reports whether err is a provider decline.
func IsDeclined(err error) bool {
	var declined *DeclinedError
	return errors.As(err, &declined)
}

// Gateway is the provider-agnostic charging surface.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Reverse(ctx context.Context, transactionID string, amount decimal.Decimal) (*ReversalResult, error)
}

// New selects the adapter named by the configuration. An empty provider is an
// error so a processor cannot boot without an explicit gateway choice.
func New(cfg config.GatewayConfig) (Gateway, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "":
		return nil, fmt.Errorf("gateway provider is required")
	case "sandbox":
		return WithTimeouts(NewSandbox(), cfg.ChargeTimeout, cfg.ReverseTimeout), nil
	default:
		return nil, fmt.Errorf("unknown gateway provider %q", cfg.Provider)
	}
}

// WithTimeouts bounds every adapter call and maps deadline hits to the
// gateway-timeout error code so callers can schedule reconciliation.
func WithTimeouts(next Gateway, chargeTimeout, reverseTimeout time.Duration) Gateway {
	return &timeoutGateway{
		next:           next,
		chargeTimeout:  chargeTimeout,
		reverseTimeout: reverseTimeout,
	}
}

type timeoutGateway struct {
	next           Gateway
	chargeTimeout  time.Duration
	reverseTimeout time.Duration
}

func (g *timeoutGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	callCtx, cancel := boundContext(ctx, g.chargeTimeout)
	defer cancel()

	result, err := g.next.Charge(callCtx, req)
	if err != nil {
		return nil, mapTimeout(callCtx, err, "charge")
	}
	return result, nil
}

func (g *timeoutGateway) Reverse(ctx context.Context, transactionID string, amount decimal.Decimal) (*ReversalResult, error) {
	callCtx, cancel := boundContext(ctx, g.reverseTimeout)
	defer cancel()

	result, err := g.next.Reverse(callCtx, transactionID, amount)
	if err != nil {
		return nil, mapTimeout(callCtx, err, "reverse")
	}
	return result, nil
}

func boundContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func mapTimeout(ctx context.Context, err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.Wrap(
			apperrors.CodeGatewayTimeout,
			err,
			fmt.Sprintf("gateway %s timed out, outcome unknown", op),
		)
	}
	return err
}
