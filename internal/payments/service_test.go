package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/gearmarket-backend/internal/wallets"
	"github.com/angelmondragon/gearmarket-backend/pkg/config"
	"github.com/angelmondragon/gearmarket-backend/pkg/db/models"
	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
	apperrors "github.com/angelmondragon/gearmarket-backend/pkg/errors"
	"github.com/angelmondragon/gearmarket-backend/pkg/gateway"
	"github.com/angelmondragon/gearmarket-backend/pkg/outbox"
)

func setupPaymentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  method TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  status TEXT NOT NULL DEFAULT 'pending',
  transaction_id TEXT UNIQUE,
  gateway_response TEXT,
  error_message TEXT,
  version INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  processed_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS wallets (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL UNIQUE,
  balance NUMERIC NOT NULL DEFAULT 0,
  total_earned NUMERIC NOT NULL DEFAULT 0,
  total_spent NUMERIC NOT NULL DEFAULT 0,
  version INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS wallet_transactions (
  id TEXT PRIMARY KEY,
  wallet_id TEXT NOT NULL,
  type TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  description TEXT NOT NULL,
  order_id TEXT,
  payment_id TEXT,
  created_at DATETIME
);`,
	}
	for _, ddl := range statements {
		require.NoError(t, db.Exec(ddl).Error)
	}
	return db
}

type gormTxRunner struct {
	db *gorm.DB
}

func (g gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return g.db.WithContext(ctx).Transaction(fn)
}

type fakeEmitter struct {
	events []outbox.DomainEvent
}

func (f *fakeEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEmitter) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	for _, existing := range f.events {
		if existing.EventType == event.EventType && existing.AggregateID == event.AggregateID {
			return nil
		}
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEmitter) has(eventType enums.OutboxEventType) bool {
	for _, event := range f.events {
		if event.EventType == eventType {
			return true
		}
	}
	return false
}

type fakeOrders struct {
	order     *models.Order
	confirmed int
}

func (f *fakeOrders) GetOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	if f.order == nil || f.order.ID != orderID {
		return nil, nil
	}
	return f.order, nil
}

func (f *fakeOrders) ConfirmTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	f.confirmed++
	f.order.Status = enums.OrderStatusConfirmed
	return f.order, nil
}

type fakeInvoices struct {
	applied  []decimal.Decimal
	applyErr error
}

func (f *fakeInvoices) ApplyPaymentTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, amount decimal.Decimal) (*models.Invoice, error) {
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	f.applied = append(f.applied, amount)
	return &models.Invoice{ID: uuid.New(), OrderID: orderID}, nil
}

type fakeGateway struct {
	result  *gateway.ChargeResult
	err     error
	charges int
}

func (f *fakeGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	f.charges++
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &gateway.ChargeResult{
		TransactionID: "txn-" + req.IdempotencyKey[:8],
		Raw:           json.RawMessage(`{"status":"approved"}`),
	}, nil
}

func (f *fakeGateway) Reverse(ctx context.Context, transactionID string, amount decimal.Decimal) (*gateway.ReversalResult, error) {
	return &gateway.ReversalResult{ReversalID: "rev-1"}, nil
}

type paymentFixture struct {
	db       *gorm.DB
	svc      Service
	emitter  *fakeEmitter
	orders   *fakeOrders
	invoices *fakeInvoices
	wallet   wallets.Service
	gateway  *fakeGateway
}

func newPaymentFixture(t *testing.T, gw gateway.Gateway) *paymentFixture {
	t.Helper()
	db := setupPaymentsTestDB(t)

	walletSvc, err := wallets.NewService(wallets.NewRepository(db))
	require.NoError(t, err)

	f := &paymentFixture{
		db:       db,
		emitter:  &fakeEmitter{},
		orders:   &fakeOrders{},
		invoices: &fakeInvoices{},
		wallet:   walletSvc,
	}
	if gw == nil {
		f.gateway = &fakeGateway{}
		gw = f.gateway
	}
	svc, err := NewService(Deps{
		Repo:     NewRepository(db),
		Tx:       gormTxRunner{db: db},
		Orders:   f.orders,
		Wallet:   walletSvc,
		Invoices: f.invoices,
		Outbox:   f.emitter,
		Gateway:  gw,
		Config:   config.PaymentsConfig{SellerPayout: string(enums.PayoutOnPayment), PlatformFeeBps: 0},
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *paymentFixture) seedOrder(amount string) *models.Order {
	order := &models.Order{
		ID:          uuid.New(),
		OrderNumber: "ORD-PAYTEST1",
		BuyerID:     uuid.New(),
		SellerID:    uuid.New(),
		Status:      enums.OrderStatusPending,
		TotalAmount: decimal.RequireFromString(amount),
	}
	f.orders.order = order
	return order
}

func (f *paymentFixture) createPayment(t *testing.T, order *models.Order, method enums.PaymentMethod) *models.Payment {
	t.Helper()
	payment, err := f.svc.Create(context.Background(), CreateInput{
		OrderID:  order.ID,
		Method:   method,
		Amount:   order.TotalAmount,
		Currency: enums.CurrencyUSD,
	})
	require.NoError(t, err)
	return payment
}

func TestCreatePaymentGuards(t *testing.T) {
	f := newPaymentFixture(t, nil)
	ctx := context.Background()
	order := f.seedOrder("405.42")

	_, err := f.svc.Create(ctx, CreateInput{OrderID: uuid.New(), Method: enums.PaymentMethodCreditCard, Amount: order.TotalAmount})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = f.svc.Create(ctx, CreateInput{OrderID: order.ID, Method: "cash", Amount: order.TotalAmount})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = f.svc.Create(ctx, CreateInput{OrderID: order.ID, Method: enums.PaymentMethodCreditCard, Amount: decimal.RequireFromString("400.00")})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAmountMismatch))

	payment := f.createPayment(t, order, enums.PaymentMethodCreditCard)
	assert.Equal(t, enums.PaymentStatusPending, payment.Status)

	_, err = f.svc.Create(ctx, CreateInput{OrderID: order.ID, Method: enums.PaymentMethodCreditCard, Amount: order.TotalAmount})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeDuplicatePayment))

	order.Status = enums.OrderStatusCancelled
	other := f.seedOrder("10.00")
	other.Status = enums.OrderStatusCancelled
	_, err = f.svc.Create(ctx, CreateInput{OrderID: other.ID, Method: enums.PaymentMethodCreditCard, Amount: other.TotalAmount})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStateConflict))
}

func TestProcessGatewaySuccessSettlesEverything(t *testing.T) {
	f := newPaymentFixture(t, nil)
	ctx := context.Background()
	order := f.seedOrder("405.42")
	payment := f.createPayment(t, order, enums.PaymentMethodCreditCard)

	processed, err := f.svc.Process(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, processed.Status)
	require.NotNil(t, processed.TransactionID)
	require.NotNil(t, processed.ProcessedAt)

	assert.Equal(t, 1, f.orders.confirmed)
	assert.Equal(t, enums.OrderStatusConfirmed, order.Status)
	require.Len(t, f.invoices.applied, 1)
	assert.True(t, f.invoices.applied[0].Equal(order.TotalAmount))
	assert.True(t, f.emitter.has(enums.EventPaymentCompleted))
	assert.True(t, f.emitter.has(enums.EventSellerPayout))

	sellerWallet, err := f.wallet.GetOrCreate(ctx, order.SellerID)
	require.NoError(t, err)
	assert.True(t, sellerWallet.Balance.Equal(order.TotalAmount))
}

func TestProcessGatewayDecline(t *testing.T) {
	gw, err := gateway.New(config.GatewayConfig{Provider: "sandbox", ChargeTimeout: time.Second, ReverseTimeout: time.Second})
	require.NoError(t, err)
	f := newPaymentFixture(t, gw)
	ctx := context.Background()

	// the sandbox declines any amount ending in .13
	order := f.seedOrder("50.13")
	payment := f.createPayment(t, order, enums.PaymentMethodCreditCard)

	_, err = f.svc.Process(ctx, payment.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeGatewayError))

	stored, err := f.svc.GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.True(t, f.emitter.has(enums.EventPaymentFailed))
	assert.Empty(t, f.invoices.applied)
	assert.Equal(t, 0, f.orders.confirmed)
}

func TestProcessGatewayTimeoutLeavesProcessing(t *testing.T) {
	f := newPaymentFixture(t, nil)
	f.gateway.err = apperrors.New(apperrors.CodeGatewayTimeout, "gateway charge timed out, outcome unknown")
	ctx := context.Background()
	order := f.seedOrder("405.42")
	payment := f.createPayment(t, order, enums.PaymentMethodCreditCard)

	_, err := f.svc.Process(ctx, payment.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeGatewayTimeout))

	stored, err := f.svc.GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusProcessing, stored.Status)
	assert.Empty(t, f.invoices.applied)
	assert.False(t, f.emitter.has(enums.EventPaymentFailed))
}

func TestProcessWalletPayment(t *testing.T) {
	f := newPaymentFixture(t, nil)
	ctx := context.Background()
	order := f.seedOrder("405.42")
	payment := f.createPayment(t, order, enums.PaymentMethodWallet)

	_, err := f.wallet.CreditTx(ctx, f.db, wallets.MovementInput{
		UserID:      order.BuyerID,
		Amount:      decimal.RequireFromString("500.00"),
		Description: "top up",
	})
	require.NoError(t, err)

	processed, err := f.svc.Process(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, processed.Status)
	require.NotNil(t, processed.TransactionID)
	assert.Contains(t, *processed.TransactionID, "wallet-")
	assert.Equal(t, 0, f.gateway.charges, "wallet payments bypass the gateway")

	buyerWallet, err := f.wallet.GetOrCreate(ctx, order.BuyerID)
	require.NoError(t, err)
	assert.True(t, buyerWallet.Balance.Equal(decimal.RequireFromString("94.58")))

	sellerWallet, err := f.wallet.GetOrCreate(ctx, order.SellerID)
	require.NoError(t, err)
	assert.True(t, sellerWallet.Balance.Equal(decimal.RequireFromString("405.42")))

	// the reconciliation invariant holds for both wallets
	for _, userID := range []uuid.UUID{order.BuyerID, order.SellerID} {
		result, err := f.wallet.Reconcile(ctx, userID)
		require.NoError(t, err)
		assert.True(t, result.Consistent)
	}
}

func TestProcessWalletInsufficientFunds(t *testing.T) {
	f := newPaymentFixture(t, nil)
	ctx := context.Background()
	order := f.seedOrder("405.42")
	payment := f.createPayment(t, order, enums.PaymentMethodWallet)

	_, err := f.svc.Process(ctx, payment.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientFunds))

	stored, err := f.svc.GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, stored.Status)
	assert.True(t, f.emitter.has(enums.EventPaymentFailed))
	assert.Equal(t, 0, f.orders.confirmed)
	assert.Empty(t, f.invoices.applied)
}

func TestCompletionIsAtomic(t *testing.T) {
	f := newPaymentFixture(t, nil)
	f.invoices.applyErr = fmt.Errorf("invoice store unavailable")
	ctx := context.Background()
	order := f.seedOrder("405.42")
	payment := f.createPayment(t, order, enums.PaymentMethodCreditCard)

	_, err := f.svc.Process(ctx, payment.ID)
	require.Error(t, err)

	// the charge succeeded but settlement rolled back whole: the payment
	// stays in processing for reconciliation and no money moved
	stored, err := f.svc.GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusProcessing, stored.Status)

	sellerWallet, err := f.wallet.GetOrCreate(ctx, order.SellerID)
	require.NoError(t, err)
	assert.True(t, sellerWallet.Balance.IsZero())
	assert.False(t, f.emitter.has(enums.EventPaymentCompleted))

	// once the collaborator recovers, reconciliation completes the payment
	f.invoices.applyErr = nil
	time.Sleep(20 * time.Millisecond)
	resolved, err := f.svc.ReconcileStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	stored, err = f.svc.GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, stored.Status)
}

func TestWalletPaymentIsAtomic(t *testing.T) {
	f := newPaymentFixture(t, nil)
	f.invoices.applyErr = fmt.Errorf("invoice store unavailable")
	ctx := context.Background()
	order := f.seedOrder("100.00")
	payment := f.createPayment(t, order, enums.PaymentMethodWallet)

	_, err := f.wallet.CreditTx(ctx, f.db, wallets.MovementInput{
		UserID:      order.BuyerID,
		Amount:      decimal.RequireFromString("200.00"),
		Description: "top up",
	})
	require.NoError(t, err)

	_, err = f.svc.Process(ctx, payment.ID)
	require.Error(t, err)

	// debit, completion, and settlement all rolled back together
	buyerWallet, err := f.wallet.GetOrCreate(ctx, order.BuyerID)
	require.NoError(t, err)
	assert.True(t, buyerWallet.Balance.Equal(decimal.RequireFromString("200.00")))

	stored, err := f.svc.GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, stored.Status)
}

func TestRetryFailedPayment(t *testing.T) {
	f := newPaymentFixture(t, nil)
	ctx := context.Background()
	order := f.seedOrder("405.42")
	payment := f.createPayment(t, order, enums.PaymentMethodWallet)

	_, err := f.svc.Process(ctx, payment.ID)
	require.Error(t, err)

	retried, err := f.svc.Retry(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, retried.Status)
	assert.Nil(t, retried.ErrorMessage)

	_, err = f.svc.Retry(ctx, payment.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStateConflict))

	// with funds in place the retried payment settles
	_, err = f.wallet.CreditTx(ctx, f.db, wallets.MovementInput{
		UserID:      order.BuyerID,
		Amount:      decimal.RequireFromString("500.00"),
		Description: "top up",
	})
	require.NoError(t, err)

	processed, err := f.svc.Process(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, processed.Status)
}

func TestReconcileStaleDecline(t *testing.T) {
	f := newPaymentFixture(t, nil)
	f.gateway.err = apperrors.New(apperrors.CodeGatewayTimeout, "gateway charge timed out, outcome unknown")
	ctx := context.Background()
	order := f.seedOrder("405.42")
	payment := f.createPayment(t, order, enums.PaymentMethodCreditCard)

	_, err := f.svc.Process(ctx, payment.ID)
	require.Error(t, err)

	// the provider later reports the charge was declined
	f.gateway.err = &gateway.DeclinedError{Reason: "card expired"}
	time.Sleep(20 * time.Millisecond)
	resolved, err := f.svc.ReconcileStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	stored, err := f.svc.GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, stored.Status)
	assert.True(t, f.emitter.has(enums.EventPaymentFailed))
}

func TestCancelledOrderCannotBeChargedAgain(t *testing.T) {
	gw, err := gateway.New(config.GatewayConfig{Provider: "sandbox", ChargeTimeout: time.Second, ReverseTimeout: time.Second})
	require.NoError(t, err)
	f := newPaymentFixture(t, gw)
	ctx := context.Background()

	// decline, then the buyer cancels the order with the payment failed
	order := f.seedOrder("50.13")
	payment := f.createPayment(t, order, enums.PaymentMethodCreditCard)
	_, err = f.svc.Process(ctx, payment.ID)
	require.Error(t, err)
	order.Status = enums.OrderStatusCancelled

	_, err = f.svc.Retry(ctx, payment.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStateConflict))

	stored, err := f.svc.GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, stored.Status)
}

func TestProcessRefusesCancelledOrder(t *testing.T) {
	f := newPaymentFixture(t, nil)
	ctx := context.Background()
	order := f.seedOrder("405.42")
	payment := f.createPayment(t, order, enums.PaymentMethodCreditCard)
	order.Status = enums.OrderStatusCancelled

	_, err := f.svc.Process(ctx, payment.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStateConflict))

	// no charge reached the gateway, the payment never entered processing
	assert.Equal(t, 0, f.gateway.charges)
	stored, err := f.svc.GetByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, stored.Status)
}

func TestReconcileSinglePayment(t *testing.T) {
	f := newPaymentFixture(t, nil)
	ctx := context.Background()
	order := f.seedOrder("405.42")
	payment := f.createPayment(t, order, enums.PaymentMethodCreditCard)

	// a pending payment has nothing to reconcile
	_, err := f.svc.Reconcile(ctx, payment.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStateConflict))

	f.gateway.err = apperrors.New(apperrors.CodeGatewayTimeout, "gateway charge timed out, outcome unknown")
	_, err = f.svc.Process(ctx, payment.ID)
	require.Error(t, err)

	// replaying under the same key surfaces the charge that actually landed
	f.gateway.err = nil
	reconciled, err := f.svc.Reconcile(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, reconciled.Status)
	require.NotNil(t, reconciled.TransactionID)
	assert.Equal(t, 1, f.orders.confirmed)
	assert.True(t, f.emitter.has(enums.EventPaymentCompleted))
}

func TestCancelPendingTx(t *testing.T) {
	f := newPaymentFixture(t, nil)
	ctx := context.Background()
	order := f.seedOrder("405.42")
	payment := f.createPayment(t, order, enums.PaymentMethodCreditCard)

	require.NoError(t, f.svc.CancelPendingTx(ctx, f.db, payment))
	assert.Equal(t, enums.PaymentStatusCancelled, payment.Status)

	err := f.svc.CancelPendingTx(ctx, f.db, payment)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStateConflict))
}

func TestProcessGuards(t *testing.T) {
	f := newPaymentFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Process(ctx, uuid.New())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	f.gateway.err = apperrors.New(apperrors.CodeGatewayTimeout, "gateway charge timed out, outcome unknown")
	order := f.seedOrder("405.42")
	payment := f.createPayment(t, order, enums.PaymentMethodCreditCard)
	_, err = f.svc.Process(ctx, payment.ID)
	require.Error(t, err)

	// a payment stuck in processing cannot be processed again
	_, err = f.svc.Process(ctx, payment.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStateConflict))
}
