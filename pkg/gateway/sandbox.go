package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sandbox is an in-process adapter for development and tests. Outcomes are
// amount-triggered the way hosted sandboxes do it: a fractional part of .13
// declines the charge and .31 hangs until the caller's deadline fires.
// Repeating an idempotency key replays the stored result without a new charge.
type Sandbox struct {
	mtx     sync.Mutex
	charges map[string]*ChargeResult
}

var (
	declineCents = decimal.RequireFromString("0.13")
	hangCents    = decimal.RequireFromString("0.31")
)

// NewSandbox builds an empty sandbox adapter.
func NewSandbox() *Sandbox {
	return &Sandbox{charges: make(map[string]*ChargeResult)}
}

// Charge simulates a provider charge.
func (s *Sandbox) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, &DeclinedError{Reason: "amount must be positive"}
	}

	if req.IdempotencyKey != "" {
		s.mtx.Lock()
		prior, seen := s.charges[req.IdempotencyKey]
		s.mtx.Unlock()
		if seen {
			return prior, nil
		}
	}

	cents := req.Amount.Sub(req.Amount.Floor())
	switch {
	case cents.Equal(hangCents):
		<-ctx.Done()
		return nil, ctx.Err()
	case cents.Equal(declineCents):
		return nil, &DeclinedError{Reason: "card declined"}
	}

	result := &ChargeResult{
		TransactionID: "sbx_" + uuid.NewString(),
		Raw: mustRawJSON(map[string]any{
			"provider":   "sandbox",
			"status":     "approved",
			"payment_id": req.PaymentID.String(),
			"order_id":   req.OrderID.String(),
			"amount":     req.Amount.StringFixed(2),
			"currency":   string(req.Currency),
			"charged_at": time.Now().UTC().Format(time.RFC3339Nano),
		}),
	}

	if req.IdempotencyKey != "" {
		s.mtx.Lock()
		s.charges[req.IdempotencyKey] = result
		s.mtx.Unlock()
	}
	return result, nil
}

// Reverse simulates returning funds for a prior charge.
func (s *Sandbox) Reverse(ctx context.Context, transactionID string, amount decimal.Decimal) (*ReversalResult, error) {
	if transactionID == "" {
		return nil, fmt.Errorf("transaction id is required")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("reversal amount must be positive")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return &ReversalResult{
		ReversalID: "sbxrev_" + uuid.NewString(),
		Raw: mustRawJSON(map[string]any{
			"provider":       "sandbox",
			"status":         "reversed",
			"transaction_id": transactionID,
			"amount":         amount.StringFixed(2),
			"reversed_at":    time.Now().UTC().Format(time.RFC3339Nano),
		}),
	}, nil
}

func mustRawJSON(v map[string]any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return json.RawMessage(data)
}
