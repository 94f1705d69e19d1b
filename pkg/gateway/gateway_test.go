package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/gearmarket-backend/pkg/config"
	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
	apperrors "github.com/angelmondragon/gearmarket-backend/pkg/errors"
)

func chargeRequest(amount string) ChargeRequest {
	return ChargeRequest{
		PaymentID:      uuid.New(),
		OrderID:        uuid.New(),
		Method:         enums.PaymentMethodCreditCard,
		Amount:         decimal.RequireFromString(amount),
		Currency:       enums.CurrencyUSD,
		IdempotencyKey: uuid.NewString(),
	}
}

func TestNewRequiresProvider(t *testing.T) {
	_, err := New(config.GatewayConfig{})
	require.Error(t, err)

	_, err = New(config.GatewayConfig{Provider: "acme"})
	require.Error(t, err)

	gw, err := New(config.GatewayConfig{Provider: "sandbox", ChargeTimeout: time.Second})
	require.NoError(t, err)
	require.NotNil(t, gw)
}

func TestSandboxChargeApproves(t *testing.T) {
	sbx := NewSandbox()

	result, err := sbx.Charge(context.Background(), chargeRequest("120.00"))
	require.NoError(t, err)
	assert.NotEmpty(t, result.TransactionID)
	assert.Contains(t, string(result.Raw), "approved")
}

func TestSandboxChargeDeclines(t *testing.T) {
	sbx := NewSandbox()

	_, err := sbx.Charge(context.Background(), chargeRequest("120.13"))
	require.Error(t, err)
	assert.True(t, IsDeclined(err))
}

func TestSandboxChargeIdempotent(t *testing.T) {
	sbx := NewSandbox()
	req := chargeRequest("55.00")

	first, err := sbx.Charge(context.Background(), req)
	require.NoError(t, err)

	second, err := sbx.Charge(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.TransactionID, second.TransactionID)
}

func TestTimeoutGatewayMapsDeadline(t *testing.T) {
	gw := WithTimeouts(NewSandbox(), 20*time.Millisecond, 20*time.Millisecond)

	_, err := gw.Charge(context.Background(), chargeRequest("40.31"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeGatewayTimeout))
}

func TestSandboxReverse(t *testing.T) {
	sbx := NewSandbox()

	result, err := sbx.Reverse(context.Background(), "sbx_txn", decimal.RequireFromString("10.00"))
	require.NoError(t, err)
	assert.NotEmpty(t, result.ReversalID)

	_, err = sbx.Reverse(context.Background(), "", decimal.RequireFromString("10.00"))
	require.Error(t, err)

	_, err = sbx.Reverse(context.Background(), "sbx_txn", decimal.Zero)
	require.Error(t, err)
}
