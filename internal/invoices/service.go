package invoices

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/gearmarket-backend/pkg/config"
	"github.com/angelmondragon/gearmarket-backend/pkg/db/models"
	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
	apperrors "github.com/angelmondragon/gearmarket-backend/pkg/errors"
	"github.com/angelmondragon/gearmarket-backend/pkg/logger"
	"github.com/angelmondragon/gearmarket-backend/pkg/money"
	"github.com/angelmondragon/gearmarket-backend/pkg/outbox"
	"github.com/angelmondragon/gearmarket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/gearmarket-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns the invoice projection. Invoices react to order and payment
// events; they never initiate domain actions themselves.
type Service interface {
	// GenerateTx creates the draft invoice alongside its order, inside the
	// order placement transaction.
	GenerateTx(ctx context.Context, tx *gorm.DB, order *models.Order) (*models.Invoice, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error)
	MarkSent(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error)
	MarkViewed(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error)
	// ApplyPaymentTx records a settled amount against the order's invoice;
	// when nothing remains due the invoice flips to paid.
	ApplyPaymentTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, amount decimal.Decimal) (*models.Invoice, error)
	// CancelTx mirrors order cancellation onto the invoice.
	CancelTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	// SweepOverdue flips past-due sent/viewed invoices to overdue and
	// reports how many it transitioned. Safe to run concurrently; a row
	// another sweep already flipped is skipped.
	SweepOverdue(ctx context.Context) (int, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxEmitter
	cfg    config.InvoicesConfig
	logg   *logger.Logger
	now    func() time.Time
}

const sweepBatchSize = 100

// NewService wires the invoice service.
func NewService(repo Repository, tx txRunner, emitter outboxEmitter, cfg config.InvoicesConfig, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("invoice repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if cfg.DueInDays <= 0 {
		return nil, fmt.Errorf("invoice due window must be positive")
	}
	return &service{repo: repo, tx: tx, outbox: emitter, cfg: cfg, logg: logg, now: time.Now}, nil
}

func newInvoiceNumber() string {
	return "INV-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func (s *service) GenerateTx(ctx context.Context, tx *gorm.DB, order *models.Order) (*models.Invoice, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction handle required")
	}
	if order == nil || order.ID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "order is required")
	}
	repo := s.repo.WithTx(tx)
	existing, err := repo.GetByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.New(apperrors.CodeConflict, "invoice already exists for order")
	}

	now := s.now()
	invoice := &models.Invoice{
		OrderID:       order.ID,
		InvoiceNumber: newInvoiceNumber(),
		InvoiceDate:   now,
		DueDate:       now.AddDate(0, 0, s.cfg.DueInDays),
		Status:        enums.InvoiceStatusDraft,
		LineItems: types.InvoiceLineItems{
			{
				Description: order.ItemName,
				Quantity:    order.Quantity,
				UnitPrice:   order.UnitPrice,
			},
		},
		Subtotal:    order.Subtotal,
		TaxAmount:   order.TaxAmount,
		TotalAmount: order.TotalAmount,
		AmountPaid:  decimal.Zero,
		AmountDue:   order.TotalAmount,
		Version:     1,
	}
	if err := repo.Create(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "invoice not found")
	}
	return invoice, nil
}

func (s *service) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "invoice not found")
	}
	return invoice, nil
}

func (s *service) MarkSent(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != enums.InvoiceStatusDraft {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("invoice cannot be sent from status %s", invoice.Status))
	}
	now := s.now()
	err = s.repo.UpdateVersioned(ctx, invoice, map[string]any{
		"status":  enums.InvoiceStatusSent,
		"sent_at": now,
	})
	if err != nil {
		return nil, err
	}
	invoice.Status = enums.InvoiceStatusSent
	invoice.SentAt = &now
	return invoice, nil
}

func (s *service) MarkViewed(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status == enums.InvoiceStatusViewed {
		return invoice, nil
	}
	if invoice.Status != enums.InvoiceStatusSent {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("invoice cannot be viewed from status %s", invoice.Status))
	}
	now := s.now()
	err = s.repo.UpdateVersioned(ctx, invoice, map[string]any{
		"status":    enums.InvoiceStatusViewed,
		"viewed_at": now,
	})
	if err != nil {
		return nil, err
	}
	invoice.Status = enums.InvoiceStatusViewed
	invoice.ViewedAt = &now
	return invoice, nil
}

var payableStatuses = map[enums.InvoiceStatus]bool{
	enums.InvoiceStatusDraft:   true,
	enums.InvoiceStatusSent:    true,
	enums.InvoiceStatusViewed:  true,
	enums.InvoiceStatusOverdue: true,
}

func (s *service) ApplyPaymentTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, amount decimal.Decimal) (*models.Invoice, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction handle required")
	}
	if !amount.IsPositive() {
		return nil, apperrors.New(apperrors.CodeValidation, "payment amount must be positive")
	}
	repo := s.repo.WithTx(tx)
	invoice, err := repo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "invoice not found")
	}
	if !payableStatuses[invoice.Status] {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("invoice cannot accept payment from status %s", invoice.Status))
	}

	amount = money.Round(amount)
	paid := money.Round(invoice.AmountPaid.Add(amount))
	due := money.Round(invoice.TotalAmount.Sub(paid))
	if due.IsNegative() {
		return nil, apperrors.New(apperrors.CodeValidation, "payment exceeds amount due")
	}

	updates := map[string]any{
		"amount_paid": paid,
		"amount_due":  due,
	}
	status := invoice.Status
	var paidAt *time.Time
	if due.IsZero() {
		now := s.now()
		status = enums.InvoiceStatusPaid
		paidAt = &now
		updates["status"] = status
		updates["paid_at"] = now
	}
	if err := repo.UpdateVersioned(ctx, invoice, updates); err != nil {
		return nil, err
	}
	invoice.AmountPaid = paid
	invoice.AmountDue = due
	invoice.Status = status
	if paidAt != nil {
		invoice.PaidAt = paidAt
	}
	return invoice, nil
}

func (s *service) CancelTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	if tx == nil {
		return fmt.Errorf("transaction handle required")
	}
	repo := s.repo.WithTx(tx)
	invoice, err := repo.GetByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if invoice == nil {
		return apperrors.New(apperrors.CodeNotFound, "invoice not found")
	}
	switch invoice.Status {
	case enums.InvoiceStatusCancelled:
		return nil
	case enums.InvoiceStatusPaid:
		return apperrors.New(apperrors.CodeStateConflict, "paid invoice cannot be cancelled")
	}
	if err := repo.UpdateVersioned(ctx, invoice, map[string]any{
		"status": enums.InvoiceStatusCancelled,
	}); err != nil {
		return err
	}
	invoice.Status = enums.InvoiceStatusCancelled
	return nil
}

func (s *service) SweepOverdue(ctx context.Context) (int, error) {
	candidates, err := s.repo.ListOverdueCandidates(ctx, s.now(), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	flipped := 0
	for i := range candidates {
		invoice := candidates[i]
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			if err := repo.UpdateVersioned(ctx, &invoice, map[string]any{
				"status": enums.InvoiceStatusOverdue,
			}); err != nil {
				return err
			}
			return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventInvoiceOverdue,
				AggregateType: enums.AggregateInvoice,
				AggregateID:   invoice.ID,
				Data: payloads.InvoiceOverdueEvent{
					InvoiceID:     invoice.ID,
					InvoiceNumber: invoice.InvoiceNumber,
					OrderID:       invoice.OrderID,
					DueDate:       invoice.DueDate,
					AmountDue:     invoice.AmountDue,
				},
			})
		})
		if err != nil {
			if apperrors.HasCode(err, apperrors.CodeConflict) {
				continue
			}
			return flipped, err
		}
		flipped++
	}

	if s.logg != nil && flipped > 0 {
		logCtx := s.logg.WithFields(ctx, map[string]any{"flipped": flipped})
		s.logg.Info(logCtx, "overdue invoice sweep complete")
	}
	return flipped, nil
}
