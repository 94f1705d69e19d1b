package refunds

import (
	"context"
	"fmt"
	"testing"

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
	"github.com/angelmondragon/gearmarket-backend/pkg/outbox/payloads"
)

func setupRefundsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS refunds (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  payment_id TEXT NOT NULL,
  reason TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  percentage INTEGER,
  status TEXT NOT NULL DEFAULT 'pending',
  description TEXT NOT NULL,
  admin_notes TEXT,
  approved_by TEXT,
  reversal_id TEXT,
  version INTEGER NOT NULL DEFAULT 1,
  requested_at DATETIME,
  approved_at DATETIME,
  completed_at DATETIME,
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

func (f *fakeEmitter) last() *outbox.DomainEvent {
	if len(f.events) == 0 {
		return nil
	}
	return &f.events[len(f.events)-1]
}

type fakeOrders struct {
	order        *models.Order
	markedRefund int
}

func (f *fakeOrders) GetOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	if f.order == nil || f.order.ID != orderID {
		return nil, nil
	}
	return f.order, nil
}

func (f *fakeOrders) MarkRefundedTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	f.markedRefund++
	f.order.Status = enums.OrderStatusRefunded
	return f.order, nil
}

type fakePayments struct {
	payment *models.Payment
}

func (f *fakePayments) GetByOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Payment, error) {
	if f.payment == nil || f.payment.OrderID != orderID {
		return nil, nil
	}
	return f.payment, nil
}

func (f *fakePayments) MarkRefundedTx(ctx context.Context, tx *gorm.DB, payment *models.Payment) error {
	payment.Status = enums.PaymentStatusRefunded
	return nil
}

type fakeGateway struct {
	reversals  []decimal.Decimal
	reverseErr error
}

func (f *fakeGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	return nil, fmt.Errorf("unexpected charge")
}

func (f *fakeGateway) Reverse(ctx context.Context, transactionID string, amount decimal.Decimal) (*gateway.ReversalResult, error) {
	if f.reverseErr != nil {
		return nil, f.reverseErr
	}
	f.reversals = append(f.reversals, amount)
	return &gateway.ReversalResult{ReversalID: "rev-" + transactionID}, nil
}

type refundFixture struct {
	db       *gorm.DB
	svc      Service
	emitter  *fakeEmitter
	orders   *fakeOrders
	payments *fakePayments
	wallet   wallets.Service
	gateway  *fakeGateway
	buyer    Actor
	admin    Actor
}

type fixtureConfig struct {
	refunds config.RefundsConfig
	payout  string
}

func newRefundFixture(t *testing.T, cfg fixtureConfig) *refundFixture {
	t.Helper()
	db := setupRefundsTestDB(t)

	walletSvc, err := wallets.NewService(wallets.NewRepository(db))
	require.NoError(t, err)

	if cfg.payout == "" {
		cfg.payout = string(enums.PayoutOnPayment)
	}

	f := &refundFixture{
		db:       db,
		emitter:  &fakeEmitter{},
		orders:   &fakeOrders{},
		payments: &fakePayments{},
		wallet:   walletSvc,
		gateway:  &fakeGateway{},
		buyer:    Actor{ID: uuid.New(), Role: enums.UserRoleBuyer},
		admin:    Actor{ID: uuid.New(), Role: enums.UserRoleAdmin},
	}
	svc, err := NewService(Deps{
		Repo:         NewRepository(db),
		Tx:           gormTxRunner{db: db},
		Orders:       f.orders,
		Payments:     f.payments,
		Wallet:       walletSvc,
		Outbox:       f.emitter,
		Gateway:      f.gateway,
		PayoutConfig: config.PaymentsConfig{SellerPayout: cfg.payout},
		Config:       cfg.refunds,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *refundFixture) seedPaidOrder(t *testing.T, amount string, method enums.PaymentMethod) (*models.Order, *models.Payment) {
	t.Helper()
	order := &models.Order{
		ID:          uuid.New(),
		OrderNumber: "ORD-REFTEST1",
		BuyerID:     f.buyer.ID,
		SellerID:    uuid.New(),
		Status:      enums.OrderStatusDelivered,
		TotalAmount: decimal.RequireFromString(amount),
	}
	transactionID := "txn-refund-test"
	payment := &models.Payment{
		ID:            uuid.New(),
		OrderID:       order.ID,
		Method:        method,
		Amount:        order.TotalAmount,
		Currency:      enums.CurrencyUSD,
		Status:        enums.PaymentStatusCompleted,
		TransactionID: &transactionID,
		Version:       1,
	}
	f.orders.order = order
	f.payments.payment = payment
	return order, payment
}

func (f *refundFixture) fundSeller(t *testing.T, order *models.Order, amount string) {
	t.Helper()
	_, err := f.wallet.CreditTx(context.Background(), f.db, wallets.MovementInput{
		UserID:      order.SellerID,
		Amount:      decimal.RequireFromString(amount),
		Description: "payout",
	})
	require.NoError(t, err)
}

func amountPtr(value string) *decimal.Decimal {
	amount := decimal.RequireFromString(value)
	return &amount
}

func intPtr(value int) *int {
	return &value
}

func TestRequestValidations(t *testing.T) {
	f := newRefundFixture(t, fixtureConfig{})
	ctx := context.Background()
	order, payment := f.seedPaidOrder(t, "405.42", enums.PaymentMethodCreditCard)

	cases := []struct {
		name  string
		input RequestInput
		code  apperrors.Code
	}{
		{
			name:  "missing order",
			input: RequestInput{OrderID: uuid.New(), Actor: f.buyer, Reason: enums.RefundReasonOther, Description: "broken", Amount: amountPtr("10.00")},
			code:  apperrors.CodeNotFound,
		},
		{
			name:  "neither amount nor percentage",
			input: RequestInput{OrderID: order.ID, Actor: f.buyer, Reason: enums.RefundReasonOther, Description: "broken"},
			code:  apperrors.CodeValidation,
		},
		{
			name:  "both amount and percentage",
			input: RequestInput{OrderID: order.ID, Actor: f.buyer, Reason: enums.RefundReasonOther, Description: "broken", Amount: amountPtr("10.00"), Percentage: intPtr(10)},
			code:  apperrors.CodeValidation,
		},
		{
			name:  "percentage out of range",
			input: RequestInput{OrderID: order.ID, Actor: f.buyer, Reason: enums.RefundReasonOther, Description: "broken", Percentage: intPtr(101)},
			code:  apperrors.CodeValidation,
		},
		{
			name:  "unknown reason",
			input: RequestInput{OrderID: order.ID, Actor: f.buyer, Reason: "bored", Description: "broken", Amount: amountPtr("10.00")},
			code:  apperrors.CodeValidation,
		},
		{
			name:  "missing description",
			input: RequestInput{OrderID: order.ID, Actor: f.buyer, Reason: enums.RefundReasonOther, Description: "  ", Amount: amountPtr("10.00")},
			code:  apperrors.CodeValidation,
		},
		{
			name:  "stranger cannot request",
			input: RequestInput{OrderID: order.ID, Actor: Actor{ID: uuid.New(), Role: enums.UserRoleBuyer}, Reason: enums.RefundReasonOther, Description: "broken", Amount: amountPtr("10.00")},
			code:  apperrors.CodeForbidden,
		},
		{
			name:  "exceeds payment amount",
			input: RequestInput{OrderID: order.ID, Actor: f.buyer, Reason: enums.RefundReasonOther, Description: "broken", Amount: amountPtr("500.00")},
			code:  apperrors.CodeValidation,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Request(ctx, tc.input)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tc.code), "want %s, got %v", tc.code, err)
		})
	}

	order.Status = enums.OrderStatusShipped
	_, err := f.svc.Request(ctx, RequestInput{OrderID: order.ID, Actor: f.buyer, Reason: enums.RefundReasonOther, Description: "broken", Amount: amountPtr("10.00")})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStateConflict))
	order.Status = enums.OrderStatusDelivered

	payment.Status = enums.PaymentStatusPending
	_, err = f.svc.Request(ctx, RequestInput{OrderID: order.ID, Actor: f.buyer, Reason: enums.RefundReasonOther, Description: "broken", Amount: amountPtr("10.00")})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStateConflict))
}

func TestRequestResolvesPercentage(t *testing.T) {
	f := newRefundFixture(t, fixtureConfig{})
	ctx := context.Background()
	order, _ := f.seedPaidOrder(t, "405.42", enums.PaymentMethodCreditCard)

	refund, err := f.svc.Request(ctx, RequestInput{
		OrderID:     order.ID,
		Actor:       f.buyer,
		Reason:      enums.RefundReasonItemDefective,
		Description: "scratched housing",
		Percentage:  intPtr(25),
	})
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusPending, refund.Status)
	// 25% of 405.42 is 101.355, rounded half-up
	assert.True(t, refund.Amount.Equal(decimal.RequireFromString("101.36")))
	require.NotNil(t, f.emitter.last())
	assert.Equal(t, enums.EventRefundRequested, f.emitter.last().EventType)
}

func TestRefundableSumNeverExceedsPayment(t *testing.T) {
	f := newRefundFixture(t, fixtureConfig{})
	ctx := context.Background()
	order, _ := f.seedPaidOrder(t, "405.42", enums.PaymentMethodCreditCard)

	request := func(amount string) (*models.Refund, error) {
		return f.svc.Request(ctx, RequestInput{
			OrderID:     order.ID,
			Actor:       f.buyer,
			Reason:      enums.RefundReasonOther,
			Description: "partial return",
			Amount:      amountPtr(amount),
		})
	}

	first, err := request("300.00")
	require.NoError(t, err)

	// pending requests do not reserve the remainder yet
	_, err = request("200.00")
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, first.ID, f.admin)
	require.NoError(t, err)

	// with 300.00 approved only 105.42 remains refundable
	_, err = request("150.00")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = request("105.42")
	require.NoError(t, err)
}

func TestApproveAndReject(t *testing.T) {
	f := newRefundFixture(t, fixtureConfig{})
	ctx := context.Background()
	order, _ := f.seedPaidOrder(t, "405.42", enums.PaymentMethodCreditCard)

	refund, err := f.svc.Request(ctx, RequestInput{
		OrderID: order.ID, Actor: f.buyer, Reason: enums.RefundReasonOther,
		Description: "wrong part", Amount: amountPtr("100.00"),
	})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, refund.ID, f.buyer)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	approved, err := f.svc.Approve(ctx, refund.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, f.admin.ID, *approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)
	assert.Equal(t, enums.EventRefundApproved, f.emitter.last().EventType)

	// already reviewed
	_, err = f.svc.Reject(ctx, refund.ID, f.admin, "late")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStateConflict))

	second, err := f.svc.Request(ctx, RequestInput{
		OrderID: order.ID, Actor: f.buyer, Reason: enums.RefundReasonOther,
		Description: "second thoughts", Amount: amountPtr("50.00"),
	})
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, second.ID, f.admin, "")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	rejected, err := f.svc.Reject(ctx, second.ID, f.admin, "outside the return window")
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusRejected, rejected.Status)
	require.NotNil(t, rejected.AdminNotes)
	assert.Equal(t, enums.EventRefundRejected, f.emitter.last().EventType)
}

func TestProcessFullGatewayRefund(t *testing.T) {
	f := newRefundFixture(t, fixtureConfig{})
	ctx := context.Background()
	order, payment := f.seedPaidOrder(t, "405.42", enums.PaymentMethodCreditCard)
	f.fundSeller(t, order, "405.42")

	refund, err := f.svc.Request(ctx, RequestInput{
		OrderID: order.ID, Actor: f.buyer, Reason: enums.RefundReasonItemDefective,
		Description: "does not fit", Amount: amountPtr("405.42"),
	})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, refund.ID, f.admin)
	require.NoError(t, err)

	completed, err := f.svc.Process(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	// the gateway reversal reference is kept on the refund
	require.NotNil(t, completed.ReversalID)
	assert.Equal(t, "rev-txn-refund-test", *completed.ReversalID)
	stored, err := f.svc.GetByID(ctx, refund.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ReversalID)
	assert.Equal(t, "rev-txn-refund-test", *stored.ReversalID)

	// the buyer is repaid through the gateway, not the wallet
	require.Len(t, f.gateway.reversals, 1)
	assert.True(t, f.gateway.reversals[0].Equal(decimal.RequireFromString("405.42")))
	buyerWallet, err := f.wallet.GetOrCreate(ctx, order.BuyerID)
	require.NoError(t, err)
	assert.True(t, buyerWallet.Balance.IsZero())

	// the seller payout is clawed back
	sellerWallet, err := f.wallet.GetOrCreate(ctx, order.SellerID)
	require.NoError(t, err)
	assert.True(t, sellerWallet.Balance.IsZero())

	assert.Equal(t, enums.OrderStatusRefunded, order.Status)
	assert.Equal(t, enums.PaymentStatusRefunded, payment.Status)

	last := f.emitter.last()
	require.NotNil(t, last)
	assert.Equal(t, enums.EventRefundCompleted, last.EventType)
	event, ok := last.Data.(payloads.RefundStatusEvent)
	require.True(t, ok)
	assert.True(t, event.IsFull)
}

func TestProcessPartialWalletRefund(t *testing.T) {
	f := newRefundFixture(t, fixtureConfig{})
	ctx := context.Background()
	order, payment := f.seedPaidOrder(t, "405.42", enums.PaymentMethodWallet)
	f.fundSeller(t, order, "405.42")

	refund, err := f.svc.Request(ctx, RequestInput{
		OrderID: order.ID, Actor: f.buyer, Reason: enums.RefundReasonOther,
		Description: "one of two items returned", Amount: amountPtr("150.00"),
	})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, refund.ID, f.admin)
	require.NoError(t, err)

	completed, err := f.svc.Process(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusCompleted, completed.Status)

	// wallet payments are repaid to the buyer wallet, no gateway involved
	assert.Empty(t, f.gateway.reversals)
	buyerWallet, err := f.wallet.GetOrCreate(ctx, order.BuyerID)
	require.NoError(t, err)
	assert.True(t, buyerWallet.Balance.Equal(decimal.RequireFromString("150.00")))

	sellerWallet, err := f.wallet.GetOrCreate(ctx, order.SellerID)
	require.NoError(t, err)
	assert.True(t, sellerWallet.Balance.Equal(decimal.RequireFromString("255.42")))

	// a partial refund leaves the order and payment in place by default
	assert.Equal(t, enums.OrderStatusDelivered, order.Status)
	assert.Equal(t, enums.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, 0, f.orders.markedRefund)

	event, ok := f.emitter.last().Data.(payloads.RefundStatusEvent)
	require.True(t, ok)
	assert.False(t, event.IsFull)

	// wallet balances stay consistent with their ledgers
	for _, userID := range []uuid.UUID{order.BuyerID, order.SellerID} {
		result, err := f.wallet.Reconcile(ctx, userID)
		require.NoError(t, err)
		assert.True(t, result.Consistent)
	}
}

func TestPartialRefundMarksOrderWhenConfigured(t *testing.T) {
	f := newRefundFixture(t, fixtureConfig{refunds: config.RefundsConfig{PartialMarksOrder: true}})
	ctx := context.Background()
	order, _ := f.seedPaidOrder(t, "405.42", enums.PaymentMethodWallet)
	f.fundSeller(t, order, "405.42")

	refund, err := f.svc.Request(ctx, RequestInput{
		OrderID: order.ID, Actor: f.buyer, Reason: enums.RefundReasonOther,
		Description: "partial return", Amount: amountPtr("100.00"),
	})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, refund.ID, f.admin)
	require.NoError(t, err)
	_, err = f.svc.Process(ctx, refund.ID)
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusRefunded, order.Status)
}

func TestShippedOrderRefundableWhenConfigured(t *testing.T) {
	f := newRefundFixture(t, fixtureConfig{
		refunds: config.RefundsConfig{AllowShipped: true},
		payout:  string(enums.PayoutOnDelivery),
	})
	ctx := context.Background()
	order, _ := f.seedPaidOrder(t, "405.42", enums.PaymentMethodCreditCard)
	order.Status = enums.OrderStatusShipped

	refund, err := f.svc.Request(ctx, RequestInput{
		OrderID: order.ID, Actor: f.buyer, Reason: enums.RefundReasonSellerCancelled,
		Description: "seller cannot ship", Amount: amountPtr("405.42"),
	})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, refund.ID, f.admin)
	require.NoError(t, err)
	_, err = f.svc.Process(ctx, refund.ID)
	require.NoError(t, err)

	// under on-delivery payout the seller was never credited, so nothing
	// is clawed back
	sellerWallet, err := f.wallet.GetOrCreate(ctx, order.SellerID)
	require.NoError(t, err)
	assert.True(t, sellerWallet.Balance.IsZero())
	result, err := f.wallet.Reconcile(ctx, order.SellerID)
	require.NoError(t, err)
	assert.True(t, result.Consistent)
}

func TestReversalFailureLeavesProcessing(t *testing.T) {
	f := newRefundFixture(t, fixtureConfig{})
	ctx := context.Background()
	order, _ := f.seedPaidOrder(t, "405.42", enums.PaymentMethodCreditCard)
	f.fundSeller(t, order, "405.42")

	refund, err := f.svc.Request(ctx, RequestInput{
		OrderID: order.ID, Actor: f.buyer, Reason: enums.RefundReasonOther,
		Description: "full return", Amount: amountPtr("405.42"),
	})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, refund.ID, f.admin)
	require.NoError(t, err)

	f.gateway.reverseErr = apperrors.New(apperrors.CodeGatewayTimeout, "gateway reverse timed out, outcome unknown")
	_, err = f.svc.Process(ctx, refund.ID)
	require.Error(t, err)

	stored, err := f.svc.GetByID(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusProcessing, stored.Status)

	// no money moved while the reversal outcome was unknown
	sellerWallet, err := f.wallet.GetOrCreate(ctx, order.SellerID)
	require.NoError(t, err)
	assert.True(t, sellerWallet.Balance.Equal(decimal.RequireFromString("405.42")))

	// the run resumes once the gateway recovers
	f.gateway.reverseErr = nil
	completed, err := f.svc.Process(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusCompleted, completed.Status)

	sellerWallet, err = f.wallet.GetOrCreate(ctx, order.SellerID)
	require.NoError(t, err)
	assert.True(t, sellerWallet.Balance.IsZero())
}

func TestProcessGuards(t *testing.T) {
	f := newRefundFixture(t, fixtureConfig{})
	ctx := context.Background()
	order, _ := f.seedPaidOrder(t, "405.42", enums.PaymentMethodCreditCard)

	refund, err := f.svc.Request(ctx, RequestInput{
		OrderID: order.ID, Actor: f.buyer, Reason: enums.RefundReasonOther,
		Description: "not approved yet", Amount: amountPtr("50.00"),
	})
	require.NoError(t, err)

	_, err = f.svc.Process(ctx, refund.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStateConflict))

	_, err = f.svc.Process(ctx, uuid.New())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}
