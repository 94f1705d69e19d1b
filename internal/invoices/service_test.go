package invoices

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/gearmarket-backend/pkg/config"
	"github.com/angelmondragon/gearmarket-backend/pkg/db/models"
	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
	apperrors "github.com/angelmondragon/gearmarket-backend/pkg/errors"
	"github.com/angelmondragon/gearmarket-backend/pkg/outbox"
)

func setupInvoicesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	invoices := `
CREATE TABLE IF NOT EXISTS invoices (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  invoice_number TEXT NOT NULL UNIQUE,
  invoice_date DATETIME NOT NULL,
  due_date DATETIME NOT NULL,
  status TEXT NOT NULL DEFAULT 'draft',
  line_items TEXT,
  subtotal NUMERIC NOT NULL,
  tax_amount NUMERIC NOT NULL DEFAULT 0,
  total_amount NUMERIC NOT NULL,
  amount_paid NUMERIC NOT NULL DEFAULT 0,
  amount_due NUMERIC NOT NULL,
  version INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  sent_at DATETIME,
  viewed_at DATETIME,
  paid_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(invoices).Error)
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
	err    error
}

func (f *fakeEmitter) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func newInvoiceService(t *testing.T, db *gorm.DB, emitter *fakeEmitter) Service {
	t.Helper()
	svc, err := NewService(NewRepository(db), gormTxRunner{db: db}, emitter, config.InvoicesConfig{DueInDays: 14}, nil)
	require.NoError(t, err)
	return svc
}

func testOrder() *models.Order {
	return &models.Order{
		ID:          uuid.New(),
		OrderNumber: "ORD-TEST0001",
		BuyerID:     uuid.New(),
		SellerID:    uuid.New(),
		ItemKind:    enums.ItemKindPart,
		ItemName:    "turbocharger",
		Quantity:    2,
		UnitPrice:   decimal.RequireFromString("450.00"),
		Subtotal:    decimal.RequireFromString("900.00"),
		TaxAmount:   decimal.RequireFromString("72.00"),
		TotalAmount: decimal.RequireFromString("972.00"),
	}
}

func TestGenerateTxProjectsOrder(t *testing.T) {
	db := setupInvoicesTestDB(t)
	svc := newInvoiceService(t, db, &fakeEmitter{})
	order := testOrder()

	invoice, err := svc.GenerateTx(context.Background(), db, order)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusDraft, invoice.Status)
	assert.Contains(t, invoice.InvoiceNumber, "INV-")
	assert.True(t, invoice.TotalAmount.Equal(order.TotalAmount))
	assert.True(t, invoice.AmountDue.Equal(order.TotalAmount))
	assert.True(t, invoice.AmountPaid.IsZero())
	require.Len(t, invoice.LineItems, 1)
	assert.Equal(t, "turbocharger", invoice.LineItems[0].Description)
	assert.Equal(t, 2, invoice.LineItems[0].Quantity)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 14), invoice.DueDate, time.Minute)

	_, err = svc.GenerateTx(context.Background(), db, order)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
}

func TestSentViewedProgression(t *testing.T) {
	db := setupInvoicesTestDB(t)
	svc := newInvoiceService(t, db, &fakeEmitter{})
	ctx := context.Background()
	invoice, err := svc.GenerateTx(ctx, db, testOrder())
	require.NoError(t, err)

	// viewed before sent is rejected
	_, err = svc.MarkViewed(ctx, invoice.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStateConflict))

	sent, err := svc.MarkSent(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusSent, sent.Status)
	require.NotNil(t, sent.SentAt)

	_, err = svc.MarkSent(ctx, invoice.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStateConflict))

	viewed, err := svc.MarkViewed(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusViewed, viewed.Status)

	// marking viewed twice is a no-op
	again, err := svc.MarkViewed(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusViewed, again.Status)
}

func TestApplyPaymentFlipsToPaidAtZeroDue(t *testing.T) {
	db := setupInvoicesTestDB(t)
	svc := newInvoiceService(t, db, &fakeEmitter{})
	ctx := context.Background()
	order := testOrder()
	invoice, err := svc.GenerateTx(ctx, db, order)
	require.NoError(t, err)

	partial, err := svc.ApplyPaymentTx(ctx, db, order.ID, decimal.RequireFromString("500.00"))
	require.NoError(t, err)
	assert.Equal(t, invoice.ID, partial.ID)
	assert.Equal(t, enums.InvoiceStatusDraft, partial.Status)
	assert.True(t, partial.AmountDue.Equal(decimal.RequireFromString("472.00")))

	paid, err := svc.ApplyPaymentTx(ctx, db, order.ID, decimal.RequireFromString("472.00"))
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusPaid, paid.Status)
	assert.True(t, paid.AmountDue.IsZero())
	require.NotNil(t, paid.PaidAt)

	// nothing left to pay
	_, err = svc.ApplyPaymentTx(ctx, db, order.ID, decimal.RequireFromString("0.01"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStateConflict))
}

func TestApplyPaymentRejectsOverpayment(t *testing.T) {
	db := setupInvoicesTestDB(t)
	svc := newInvoiceService(t, db, &fakeEmitter{})
	ctx := context.Background()
	order := testOrder()
	_, err := svc.GenerateTx(ctx, db, order)
	require.NoError(t, err)

	_, err = svc.ApplyPaymentTx(ctx, db, order.ID, decimal.RequireFromString("1000.00"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestCancelTx(t *testing.T) {
	db := setupInvoicesTestDB(t)
	svc := newInvoiceService(t, db, &fakeEmitter{})
	ctx := context.Background()
	order := testOrder()
	invoice, err := svc.GenerateTx(ctx, db, order)
	require.NoError(t, err)

	require.NoError(t, svc.CancelTx(ctx, db, order.ID))
	reloaded, err := svc.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusCancelled, reloaded.Status)

	// idempotent
	require.NoError(t, svc.CancelTx(ctx, db, order.ID))

	paidOrder := testOrder()
	_, err = svc.GenerateTx(ctx, db, paidOrder)
	require.NoError(t, err)
	_, err = svc.ApplyPaymentTx(ctx, db, paidOrder.ID, paidOrder.TotalAmount)
	require.NoError(t, err)
	err = svc.CancelTx(ctx, db, paidOrder.ID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStateConflict))
}

func TestSweepOverdue(t *testing.T) {
	db := setupInvoicesTestDB(t)
	emitter := &fakeEmitter{}
	svc := newInvoiceService(t, db, emitter)
	ctx := context.Background()
	repo := NewRepository(db)

	pastDue := testOrder()
	invoice, err := svc.GenerateTx(ctx, db, pastDue)
	require.NoError(t, err)
	_, err = svc.MarkSent(ctx, invoice.ID)
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Invoice{}).
		Where("id = ?", invoice.ID).
		Update("due_date", time.Now().Add(-48*time.Hour)).Error)

	// draft invoice past due is not swept; fully paid invoice is not swept
	draft, err := svc.GenerateTx(ctx, db, testOrder())
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Invoice{}).
		Where("id = ?", draft.ID).
		Update("due_date", time.Now().Add(-48*time.Hour)).Error)

	flipped, err := svc.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flipped)
	require.Len(t, emitter.events, 1)
	assert.Equal(t, enums.EventInvoiceOverdue, emitter.events[0].EventType)
	assert.Equal(t, invoice.ID, emitter.events[0].AggregateID)

	reloaded, err := repo.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusOverdue, reloaded.Status)

	// second sweep finds nothing
	flipped, err = svc.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, flipped)
}
