package refunds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/gearmarket-backend/internal/wallets"
	"github.com/angelmondragon/gearmarket-backend/pkg/config"
	"github.com/angelmondragon/gearmarket-backend/pkg/db/models"
	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
	apperrors "github.com/angelmondragon/gearmarket-backend/pkg/errors"
	"github.com/angelmondragon/gearmarket-backend/pkg/gateway"
	"github.com/angelmondragon/gearmarket-backend/pkg/logger"
	"github.com/angelmondragon/gearmarket-backend/pkg/money"
	"github.com/angelmondragon/gearmarket-backend/pkg/outbox"
	"github.com/angelmondragon/gearmarket-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type orderLifecycle interface {
	GetOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	MarkRefundedTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
}

type paymentLifecycle interface {
	GetByOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Payment, error)
	MarkRefundedTx(ctx context.Context, tx *gorm.DB, payment *models.Payment) error
}

type walletEngine interface {
	CreditTx(ctx context.Context, tx *gorm.DB, input wallets.MovementInput) (*models.WalletTransaction, error)
	DebitTx(ctx context.Context, tx *gorm.DB, input wallets.MovementInput) (*models.WalletTransaction, error)
}

// Actor identifies who is acting on a refund and with which capability.
type Actor struct {
	ID   uuid.UUID
	Role enums.UserRole
}

// RequestInput describes a buyer's refund request. Exactly one of Amount or
// Percentage must be set; a percentage resolves against the payment amount.
type RequestInput struct {
	OrderID     uuid.UUID
	Actor       Actor
	Reason      enums.RefundReason
	Description string
	Amount      *decimal.Decimal
	Percentage  *int
}

// Service owns the refund state machine. Completion moves the money back,
// and for full refunds flips the order and payment to refunded, in one
// transaction; only the gateway reversal itself runs outside it.
type Service interface {
	Request(ctx context.Context, input RequestInput) (*models.Refund, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error)
	Approve(ctx context.Context, refundID uuid.UUID, actor Actor) (*models.Refund, error)
	Reject(ctx context.Context, refundID uuid.UUID, actor Actor, notes string) (*models.Refund, error)
	// Process executes an approved refund: reverse the charge (or the
	// wallet movement), claw back the seller payout, and settle the refund
	// record. Safe to call again on a refund left in processing.
	Process(ctx context.Context, refundID uuid.UUID) (*models.Refund, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	orders   orderLifecycle
	payments paymentLifecycle
	wallet   walletEngine
	outbox   outboxEmitter
	gateway  gateway.Gateway
	payout   enums.PayoutPolicy
	cfg      config.RefundsConfig
	logg     *logger.Logger
	now      func() time.Time
}

// Deps bundles the collaborators the refund service is wired with.
type Deps struct {
	Repo     Repository
	Tx       txRunner
	Orders   orderLifecycle
	Payments paymentLifecycle
	Wallet   walletEngine
	Outbox   outboxEmitter
	Gateway  gateway.Gateway
	// PayoutConfig carries the seller payout policy, which decides whether
	// completion claws a payout back from the seller wallet.
	PayoutConfig config.PaymentsConfig
	Config       config.RefundsConfig
	Logger       *logger.Logger
}

// NewService wires the refund service.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("refund repository required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("order collaborator required")
	}
	if deps.Payments == nil {
		return nil, fmt.Errorf("payment collaborator required")
	}
	if deps.Wallet == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}
	policy, err := enums.ParsePayoutPolicy(deps.PayoutConfig.SellerPayout)
	if err != nil {
		return nil, err
	}
	return &service{
		repo:     deps.Repo,
		tx:       deps.Tx,
		orders:   deps.Orders,
		payments: deps.Payments,
		wallet:   deps.Wallet,
		outbox:   deps.Outbox,
		gateway:  deps.Gateway,
		payout:   policy,
		cfg:      deps.Config,
		logg:     deps.Logger,
		now:      time.Now,
	}, nil
}

func (s *service) Request(ctx context.Context, input RequestInput) (*models.Refund, error) {
	if input.OrderID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "order id is required")
	}
	if !input.Reason.IsValid() {
		return nil, apperrors.New(apperrors.CodeValidation, "unknown refund reason")
	}
	if strings.TrimSpace(input.Description) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "description is required")
	}
	if (input.Amount == nil) == (input.Percentage == nil) {
		return nil, apperrors.New(apperrors.CodeValidation, "exactly one of amount or percentage is required")
	}
	if input.Percentage != nil && (*input.Percentage < 1 || *input.Percentage > 100) {
		return nil, apperrors.New(apperrors.CodeValidation, "percentage must be between 1 and 100")
	}

	order, err := s.orders.GetOrderTx(ctx, nil, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "order not found")
	}
	if input.Actor.ID != order.BuyerID && input.Actor.Role != enums.UserRoleAdmin {
		return nil, apperrors.New(apperrors.CodeForbidden, "only the buyer can request a refund")
	}
	if !s.refundableStatus(order.Status) {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("order in status %s is not eligible for refund", order.Status))
	}

	payment, err := s.payments.GetByOrderTx(ctx, nil, order.ID)
	if err != nil {
		return nil, err
	}
	if payment == nil || payment.Status == enums.PaymentStatusRefunded {
		code := apperrors.CodeStateConflict
		msg := "payment is already fully refunded"
		if payment == nil {
			code = apperrors.CodeNotFound
			msg = "order has no payment to refund"
		}
		return nil, apperrors.New(code, msg)
	}
	if payment.Status != enums.PaymentStatusCompleted {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("payment in status %s cannot be refunded", payment.Status))
	}

	amount := decimal.Zero
	if input.Amount != nil {
		amount = money.Round(*input.Amount)
	} else {
		amount = money.Percent(payment.Amount, decimal.NewFromInt(int64(*input.Percentage)))
	}
	if !amount.IsPositive() {
		return nil, apperrors.New(apperrors.CodeValidation, "refund amount must be positive")
	}

	settled, err := s.repo.SumSettledByPayment(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	remaining := money.Round(payment.Amount.Sub(settled))
	if amount.GreaterThan(remaining) {
		return nil, apperrors.New(apperrors.CodeValidation,
			fmt.Sprintf("refund amount %s exceeds refundable remainder %s", amount.StringFixed(2), remaining.StringFixed(2)))
	}

	refund := &models.Refund{
		OrderID:     order.ID,
		PaymentID:   payment.ID,
		Reason:      input.Reason,
		Amount:      amount,
		Percentage:  input.Percentage,
		Status:      enums.RefundStatusPending,
		Description: strings.TrimSpace(input.Description),
		Version:     1,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, refund); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundRequested,
			AggregateType: enums.AggregateRefund,
			AggregateID:   refund.ID,
			Actor:         &outbox.ActorRef{UserID: input.Actor.ID, Role: input.Actor.Role.String()},
			Data:          s.statusEvent(refund, order, false),
		})
	})
	if err != nil {
		return nil, err
	}
	return refund, nil
}

func (s *service) refundableStatus(status enums.OrderStatus) bool {
	if status == enums.OrderStatusDelivered {
		return true
	}
	return s.cfg.AllowShipped && status == enums.OrderStatusShipped
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	refund, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if refund == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "refund not found")
	}
	return refund, nil
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

func (s *service) Approve(ctx context.Context, refundID uuid.UUID, actor Actor) (*models.Refund, error) {
	refund, err := s.adminPending(ctx, refundID, actor)
	if err != nil {
		return nil, err
	}
	now := s.now()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).UpdateVersioned(ctx, refund, map[string]any{
			"status":      enums.RefundStatusApproved,
			"approved_by": actor.ID,
			"approved_at": now,
		}); err != nil {
			return err
		}
		order, err := s.orders.GetOrderTx(ctx, tx, refund.OrderID)
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundApproved,
			AggregateType: enums.AggregateRefund,
			AggregateID:   refund.ID,
			Actor:         &outbox.ActorRef{UserID: actor.ID, Role: actor.Role.String()},
			Data:          s.statusEventWithStatus(refund, order, enums.RefundStatusApproved, false),
		})
	})
	if err != nil {
		return nil, err
	}
	refund.Status = enums.RefundStatusApproved
	refund.ApprovedBy = &actor.ID
	refund.ApprovedAt = &now
	return refund, nil
}

func (s *service) Reject(ctx context.Context, refundID uuid.UUID, actor Actor, notes string) (*models.Refund, error) {
	refund, err := s.adminPending(ctx, refundID, actor)
	if err != nil {
		return nil, err
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "rejection notes are required")
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).UpdateVersioned(ctx, refund, map[string]any{
			"status":      enums.RefundStatusRejected,
			"admin_notes": notes,
		}); err != nil {
			return err
		}
		order, err := s.orders.GetOrderTx(ctx, tx, refund.OrderID)
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundRejected,
			AggregateType: enums.AggregateRefund,
			AggregateID:   refund.ID,
			Actor:         &outbox.ActorRef{UserID: actor.ID, Role: actor.Role.String()},
			Data:          s.statusEventWithStatus(refund, order, enums.RefundStatusRejected, false),
		})
	})
	if err != nil {
		return nil, err
	}
	refund.Status = enums.RefundStatusRejected
	refund.AdminNotes = &notes
	return refund, nil
}

func (s *service) adminPending(ctx context.Context, refundID uuid.UUID, actor Actor) (*models.Refund, error) {
	if actor.Role != enums.UserRoleAdmin {
		return nil, apperrors.New(apperrors.CodeForbidden, "only an admin can review refunds")
	}
	refund, err := s.GetByID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if refund.Status != enums.RefundStatusPending {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("refund has already been reviewed, status is %s", refund.Status))
	}
	return refund, nil
}

func (s *service) Process(ctx context.Context, refundID uuid.UUID) (*models.Refund, error) {
	refund, err := s.GetByID(ctx, refundID)
	if err != nil {
		return nil, err
	}
	switch refund.Status {
	case enums.RefundStatusApproved:
		// commit the processing marker before touching the gateway so an
		// interrupted reversal is visible and resumable
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.repo.WithTx(tx).UpdateVersioned(ctx, refund, map[string]any{
				"status": enums.RefundStatusProcessing,
			})
		})
		if err != nil {
			return nil, err
		}
		refund.Status = enums.RefundStatusProcessing
	case enums.RefundStatusProcessing:
		// resuming an interrupted run
	default:
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("refund cannot be processed from status %s", refund.Status))
	}

	order, err := s.orders.GetOrderTx(ctx, nil, refund.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "order not found")
	}
	payment, err := s.payments.GetByOrderTx(ctx, nil, refund.OrderID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "payment not found")
	}

	var reversalID *string
	if payment.Method.UsesGateway() {
		if payment.TransactionID == nil {
			return nil, apperrors.New(apperrors.CodeInternal, "completed payment has no transaction id")
		}
		reversal, err := s.gateway.Reverse(ctx, *payment.TransactionID, refund.Amount)
		if err != nil {
			// outcome unknown or rejected; the refund stays in processing
			// so the run can be resumed or investigated
			if s.logg != nil {
				logCtx := s.logg.WithOrderID(ctx, order.ID.String())
				s.logg.Error(logCtx, "gateway reversal failed, refund left in processing", err)
			}
			return nil, err
		}
		reversalID = &reversal.ReversalID
	}

	now := s.now()
	var isFull bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if s.payoutIssued(order) {
			if _, err := s.wallet.DebitTx(ctx, tx, wallets.MovementInput{
				UserID:      order.SellerID,
				Amount:      refund.Amount,
				Description: fmt.Sprintf("refund clawback for order %s", order.OrderNumber),
				OrderID:     &order.ID,
				PaymentID:   &payment.ID,
			}); err != nil {
				return err
			}
		}
		if payment.Method == enums.PaymentMethodWallet {
			if _, err := s.wallet.CreditTx(ctx, tx, wallets.MovementInput{
				UserID:      order.BuyerID,
				Amount:      refund.Amount,
				Description: fmt.Sprintf("refund for order %s", order.OrderNumber),
				OrderID:     &order.ID,
				PaymentID:   &payment.ID,
			}); err != nil {
				return err
			}
		}

		updates := map[string]any{
			"status":       enums.RefundStatusCompleted,
			"completed_at": now,
		}
		if reversalID != nil {
			updates["reversal_id"] = *reversalID
		}
		if err := s.repo.WithTx(tx).UpdateVersioned(ctx, refund, updates); err != nil {
			return err
		}

		settled, err := s.repo.WithTx(tx).SumSettledByPayment(ctx, payment.ID)
		if err != nil {
			return err
		}
		isFull = money.Round(settled).GreaterThanOrEqual(payment.Amount)

		if isFull {
			if _, err := s.orders.MarkRefundedTx(ctx, tx, order.ID); err != nil {
				return err
			}
			if err := s.payments.MarkRefundedTx(ctx, tx, payment); err != nil {
				return err
			}
		} else if s.cfg.PartialMarksOrder {
			if _, err := s.orders.MarkRefundedTx(ctx, tx, order.ID); err != nil {
				return err
			}
		}

		event := s.statusEventWithStatus(refund, order, enums.RefundStatusCompleted, isFull)
		event.OccurredAt = now
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundCompleted,
			AggregateType: enums.AggregateRefund,
			AggregateID:   refund.ID,
			Data:          event,
		})
	})
	if err != nil {
		return nil, err
	}

	refund.Status = enums.RefundStatusCompleted
	refund.CompletedAt = &now
	if reversalID != nil {
		refund.ReversalID = reversalID
	}
	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, order.ID.String())
		s.logg.Info(logCtx, "refund completed")
	}
	return refund, nil
}

// payoutIssued reports whether the seller has already been credited for the
// order, which decides whether completion claws the payout back.
func (s *service) payoutIssued(order *models.Order) bool {
	if s.payout == enums.PayoutOnPayment {
		return true
	}
	return order.Status == enums.OrderStatusDelivered || order.Status == enums.OrderStatusRefunded
}

func (s *service) statusEvent(refund *models.Refund, order *models.Order, isFull bool) payloads.RefundStatusEvent {
	return s.statusEventWithStatus(refund, order, refund.Status, isFull)
}

func (s *service) statusEventWithStatus(refund *models.Refund, order *models.Order, status enums.RefundStatus, isFull bool) payloads.RefundStatusEvent {
	event := payloads.RefundStatusEvent{
		RefundID:   refund.ID,
		OrderID:    refund.OrderID,
		PaymentID:  refund.PaymentID,
		Status:     status,
		Reason:     refund.Reason,
		Amount:     refund.Amount,
		IsFull:     isFull,
		OccurredAt: s.now(),
	}
	if order != nil {
		event.BuyerID = order.BuyerID
	}
	return event
}
