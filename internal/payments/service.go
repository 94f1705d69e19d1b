package payments

import (
	"context"
	"fmt"
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
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// orderCollaborator is the slice of the order lifecycle the processor
// drives: reading the order and confirming it when payment settles.
type orderCollaborator interface {
	GetOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	ConfirmTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
}

type walletEngine interface {
	CreditTx(ctx context.Context, tx *gorm.DB, input wallets.MovementInput) (*models.WalletTransaction, error)
	DebitTx(ctx context.Context, tx *gorm.DB, input wallets.MovementInput) (*models.WalletTransaction, error)
}

type invoiceApplier interface {
	ApplyPaymentTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, amount decimal.Decimal) (*models.Invoice, error)
}

// CreateInput describes a payment attempt for an order.
type CreateInput struct {
	OrderID  uuid.UUID
	Method   enums.PaymentMethod
	Amount   decimal.Decimal
	Currency enums.Currency
}

// Service owns the payment state machine. Completion commits the payment,
// the order confirmation, the invoice application, and any wallet movement
// in one transaction; only the external charge itself runs outside it.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Payment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	GetByOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Payment, error)
	CancelPendingTx(ctx context.Context, tx *gorm.DB, payment *models.Payment) error
	// MarkRefundedTx flips a fully refunded payment to refunded inside the
	// refund completion transaction.
	MarkRefundedTx(ctx context.Context, tx *gorm.DB, payment *models.Payment) error
	Process(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	Retry(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	// Reconcile resolves a single payment left in processing by an unknown
	// charge outcome, replaying the charge under the original idempotency
	// key and applying the true result.
	Reconcile(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	// ReconcileStale replays the charge for payments stuck in processing
	// past olderThan. The gateway's idempotency contract makes the replay
	// return the original attempt's true outcome.
	ReconcileStale(ctx context.Context, olderThan time.Duration) (int, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	orders  orderCollaborator
	wallet  walletEngine
	invoice invoiceApplier
	outbox  outboxEmitter
	gateway gateway.Gateway
	payout  enums.PayoutPolicy
	feeBps  int64
	logg    *logger.Logger
	now     func() time.Time
}

// Deps bundles the collaborators the payment service is wired with.
type Deps struct {
	Repo     Repository
	Tx       txRunner
	Orders   orderCollaborator
	Wallet   walletEngine
	Invoices invoiceApplier
	Outbox   outboxEmitter
	Gateway  gateway.Gateway
	Config   config.PaymentsConfig
	Logger   *logger.Logger
}

const reconcileBatchSize = 50

// NewService wires the payment service.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("payment repository required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("order collaborator required")
	}
	if deps.Wallet == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if deps.Invoices == nil {
		return nil, fmt.Errorf("invoice service required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}
	policy, err := enums.ParsePayoutPolicy(deps.Config.SellerPayout)
	if err != nil {
		return nil, err
	}
	return &service{
		repo:    deps.Repo,
		tx:      deps.Tx,
		orders:  deps.Orders,
		wallet:  deps.Wallet,
		invoice: deps.Invoices,
		outbox:  deps.Outbox,
		gateway: deps.Gateway,
		payout:  policy,
		feeBps:  deps.Config.PlatformFeeBps,
		logg:    deps.Logger,
		now:     time.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Payment, error) {
	if input.OrderID == uuid.Nil {
		return nil, apperrors.New(apperrors.CodeValidation, "order id is required")
	}
	if !input.Method.IsValid() {
		return nil, apperrors.New(apperrors.CodeValidation, "unknown payment method")
	}
	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}
	if !currency.IsValid() {
		return nil, apperrors.New(apperrors.CodeValidation, "unknown currency")
	}

	order, err := s.orders.GetOrderTx(ctx, nil, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "order not found")
	}
	if order.Status != enums.OrderStatusPending && order.Status != enums.OrderStatusConfirmed {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("order does not accept payment in status %s", order.Status))
	}
	if !money.Round(input.Amount).Equal(order.TotalAmount) {
		return nil, apperrors.New(apperrors.CodeAmountMismatch,
			fmt.Sprintf("payment amount must equal order total %s", order.TotalAmount))
	}

	existing, err := s.repo.GetByOrderID(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.New(apperrors.CodeDuplicatePayment,
			"a payment already exists for this order; failed payments are retried in place")
	}

	payment := &models.Payment{
		OrderID:  input.OrderID,
		Method:   input.Method,
		Amount:   money.Round(input.Amount),
		Currency: currency,
		Status:   enums.PaymentStatusPending,
		Version:  1,
	}
	if err := s.repo.Create(ctx, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "payment not found")
	}
	return payment, nil
}

func (s *service) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	return s.repo.GetByOrderID(ctx, orderID)
}

func (s *service) GetByOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Payment, error) {
	return s.repo.WithTx(tx).GetByOrderID(ctx, orderID)
}

// CancelPendingTx marks an unsettled payment cancelled. The order
// lifecycle calls this when a not-yet-paid order is cancelled; failed
// attempts are closed too, so a cancelled order can never be retried.
func (s *service) CancelPendingTx(ctx context.Context, tx *gorm.DB, payment *models.Payment) error {
	if payment == nil {
		return apperrors.New(apperrors.CodeValidation, "payment is required")
	}
	if payment.Status != enums.PaymentStatusPending && payment.Status != enums.PaymentStatusFailed {
		return apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("payment cannot be cancelled from status %s", payment.Status))
	}
	if err := s.repo.WithTx(tx).UpdateVersioned(ctx, payment, map[string]any{
		"status": enums.PaymentStatusCancelled,
	}); err != nil {
		return err
	}
	payment.Status = enums.PaymentStatusCancelled
	return nil
}

func (s *service) MarkRefundedTx(ctx context.Context, tx *gorm.DB, payment *models.Payment) error {
	if payment == nil {
		return apperrors.New(apperrors.CodeValidation, "payment is required")
	}
	if payment.Status == enums.PaymentStatusRefunded {
		return nil
	}
	if payment.Status != enums.PaymentStatusCompleted {
		return apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("payment cannot be refunded from status %s", payment.Status))
	}
	if err := s.repo.WithTx(tx).UpdateVersioned(ctx, payment, map[string]any{
		"status": enums.PaymentStatusRefunded,
	}); err != nil {
		return err
	}
	payment.Status = enums.PaymentStatusRefunded
	return nil
}

func (s *service) Process(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	switch payment.Status {
	case enums.PaymentStatusPending:
	case enums.PaymentStatusProcessing:
		return nil, apperrors.New(apperrors.CodeStateConflict, "payment is already in flight")
	case enums.PaymentStatusFailed:
		return nil, apperrors.New(apperrors.CodeStateConflict, "failed payment must be retried first")
	default:
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("payment cannot be processed from status %s", payment.Status))
	}

	order, err := s.orders.GetOrderTx(ctx, nil, payment.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "order not found")
	}
	// the order may have been cancelled between payment creation and
	// processing; never issue a charge it can no longer settle
	if err := orderAcceptsPayment(order); err != nil {
		return nil, err
	}

	if payment.Method == enums.PaymentMethodWallet {
		return s.processWallet(ctx, payment, order)
	}
	return s.processGateway(ctx, payment, order)
}

func orderAcceptsPayment(order *models.Order) error {
	if order.Status != enums.OrderStatusPending && order.Status != enums.OrderStatusConfirmed {
		return apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("order in status %s does not accept payment", order.Status))
	}
	return nil
}

// processWallet settles a wallet payment in a single transaction: buyer
// debit, payment completion, order confirmation, and invoice application
// commit together or not at all.
func (s *service) processWallet(ctx context.Context, payment *models.Payment, order *models.Order) (*models.Payment, error) {
	now := s.now()
	transactionID := "wallet-" + uuid.NewString()

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.wallet.DebitTx(ctx, tx, wallets.MovementInput{
			UserID:      order.BuyerID,
			Amount:      payment.Amount,
			Description: fmt.Sprintf("payment for order %s", order.OrderNumber),
			OrderID:     &order.ID,
			PaymentID:   &payment.ID,
		}); err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).UpdateVersioned(ctx, payment, map[string]any{
			"status":         enums.PaymentStatusCompleted,
			"transaction_id": transactionID,
			"processed_at":   now,
		}); err != nil {
			return err
		}
		return s.settleTx(ctx, tx, payment, order, transactionID, now)
	})
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeInsufficientFunds) {
			if failErr := s.markFailed(ctx, payment, order, "insufficient wallet balance"); failErr != nil {
				return nil, failErr
			}
			return payment, apperrors.Wrap(apperrors.CodeInsufficientFunds, err, "wallet balance too low for payment")
		}
		return nil, err
	}

	payment.Status = enums.PaymentStatusCompleted
	payment.TransactionID = &transactionID
	payment.ProcessedAt = &now
	s.logCompleted(ctx, payment)
	return payment, nil
}

// processGateway commits the processing marker first, charges outside any
// transaction, then commits the outcome. A timeout leaves the payment in
// processing for reconciliation; success or failure is never inferred.
func (s *service) processGateway(ctx context.Context, payment *models.Payment, order *models.Order) (*models.Payment, error) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).UpdateVersioned(ctx, payment, map[string]any{
			"status": enums.PaymentStatusProcessing,
		})
	})
	if err != nil {
		return nil, err
	}
	payment.Status = enums.PaymentStatusProcessing

	result, err := s.gateway.Charge(ctx, gateway.ChargeRequest{
		PaymentID:      payment.ID,
		OrderID:        order.ID,
		Method:         payment.Method,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		IdempotencyKey: payment.ID.String(),
	})
	if err != nil {
		if gateway.IsDeclined(err) {
			if failErr := s.markFailed(ctx, payment, order, err.Error()); failErr != nil {
				return nil, failErr
			}
			return payment, apperrors.Wrap(apperrors.CodeGatewayError, err, "charge declined")
		}
		// Timeout or transport failure: the outcome is unknown, so the
		// payment stays in processing until reconciliation resolves it.
		if s.logg != nil {
			logCtx := s.logg.WithPaymentID(ctx, payment.ID.String())
			s.logg.Warn(logCtx, "charge outcome unknown, payment left in processing")
		}
		return nil, err
	}

	if err := s.complete(ctx, payment, order, result); err != nil {
		return nil, err
	}
	return payment, nil
}

// complete commits the success outcome for a charged payment.
func (s *service) complete(ctx context.Context, payment *models.Payment, order *models.Order, result *gateway.ChargeResult) error {
	now := s.now()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).UpdateVersioned(ctx, payment, map[string]any{
			"status":           enums.PaymentStatusCompleted,
			"transaction_id":   result.TransactionID,
			"gateway_response": result.Raw,
			"processed_at":     now,
		}); err != nil {
			return err
		}
		return s.settleTx(ctx, tx, payment, order, result.TransactionID, now)
	})
	if err != nil {
		return err
	}
	payment.Status = enums.PaymentStatusCompleted
	payment.TransactionID = &result.TransactionID
	payment.GatewayResponse = result.Raw
	payment.ProcessedAt = &now
	s.logCompleted(ctx, payment)
	return nil
}

// settleTx carries the side effects of payment completion: order
// confirmation, invoice application, the on-payment seller payout, and the
// completion event. Runs inside the completion transaction.
func (s *service) settleTx(ctx context.Context, tx *gorm.DB, payment *models.Payment, order *models.Order, transactionID string, at time.Time) error {
	current, err := s.orders.GetOrderTx(ctx, tx, order.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return apperrors.New(apperrors.CodeNotFound, "order not found")
	}
	switch current.Status {
	case enums.OrderStatusPending:
		if _, err := s.orders.ConfirmTx(ctx, tx, order.ID); err != nil {
			return err
		}
	case enums.OrderStatusConfirmed:
		// already confirmed manually by the seller
	default:
		return apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("order in status %s cannot settle a payment", current.Status))
	}

	if _, err := s.invoice.ApplyPaymentTx(ctx, tx, order.ID, payment.Amount); err != nil {
		return err
	}

	if s.payout == enums.PayoutOnPayment {
		if err := s.creditSellerTx(ctx, tx, payment, order, at); err != nil {
			return err
		}
	}

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentCompleted,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Data: payloads.PaymentCompletedEvent{
			PaymentID:     payment.ID,
			OrderID:       order.ID,
			BuyerID:       order.BuyerID,
			SellerID:      order.SellerID,
			Method:        payment.Method,
			Amount:        payment.Amount,
			Currency:      payment.Currency,
			TransactionID: transactionID,
			ProcessedAt:   at,
		},
	})
}

func (s *service) creditSellerTx(ctx context.Context, tx *gorm.DB, payment *models.Payment, order *models.Order, at time.Time) error {
	fee := money.BasisPoints(order.TotalAmount, s.feeBps)
	payoutAmount := money.Round(order.TotalAmount.Sub(fee))
	if !payoutAmount.IsPositive() {
		return nil
	}
	txn, err := s.wallet.CreditTx(ctx, tx, wallets.MovementInput{
		UserID:      order.SellerID,
		Amount:      payoutAmount,
		Description: fmt.Sprintf("payout for order %s", order.OrderNumber),
		OrderID:     &order.ID,
		PaymentID:   &payment.ID,
	})
	if err != nil {
		return err
	}
	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSellerPayout,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.SellerPayoutEvent{
			OrderID:   order.ID,
			SellerID:  order.SellerID,
			WalletID:  txn.WalletID,
			Amount:    payoutAmount,
			Currency:  payment.Currency,
			CreditAt:  at,
			PaymentID: payment.ID,
		},
	})
}

// markFailed records a terminal failure for the attempt in its own
// transaction, after any settlement transaction has rolled back.
func (s *service) markFailed(ctx context.Context, payment *models.Payment, order *models.Order, reason string) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).UpdateVersioned(ctx, payment, map[string]any{
			"status":        enums.PaymentStatusFailed,
			"error_message": reason,
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Data: payloads.PaymentFailedEvent{
				PaymentID:    payment.ID,
				OrderID:      payment.OrderID,
				BuyerID:      order.BuyerID,
				Method:       payment.Method,
				Amount:       payment.Amount,
				ErrorMessage: reason,
			},
		})
	})
	if err != nil {
		return err
	}
	payment.Status = enums.PaymentStatusFailed
	payment.ErrorMessage = &reason
	if s.logg != nil {
		logCtx := s.logg.WithPaymentID(ctx, payment.ID.String())
		s.logg.Warn(logCtx, "payment failed: "+reason)
	}
	return nil
}

func (s *service) Retry(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != enums.PaymentStatusFailed {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("only failed payments can be retried, payment is %s", payment.Status))
	}
	order, err := s.orders.GetOrderTx(ctx, nil, payment.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "order not found")
	}
	if err := orderAcceptsPayment(order); err != nil {
		return nil, err
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).UpdateVersioned(ctx, payment, map[string]any{
			"status":        enums.PaymentStatusPending,
			"error_message": gorm.Expr("NULL"),
		})
	})
	if err != nil {
		return nil, err
	}
	payment.Status = enums.PaymentStatusPending
	payment.ErrorMessage = nil
	return payment, nil
}

func (s *service) Reconcile(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != enums.PaymentStatusProcessing {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("only processing payments can be reconciled, payment is %s", payment.Status))
	}
	order, err := s.orders.GetOrderTx(ctx, nil, payment.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "order not found")
	}

	result, err := s.gateway.Charge(ctx, gateway.ChargeRequest{
		PaymentID:      payment.ID,
		OrderID:        order.ID,
		Method:         payment.Method,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		IdempotencyKey: payment.ID.String(),
	})
	if err != nil {
		if gateway.IsDeclined(err) {
			if failErr := s.markFailed(ctx, payment, order, err.Error()); failErr != nil {
				return nil, failErr
			}
			return payment, apperrors.Wrap(apperrors.CodeGatewayError, err, "charge declined")
		}
		return nil, err
	}
	if err := s.complete(ctx, payment, order, result); err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *service) ReconcileStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	stale, err := s.repo.ListStaleProcessing(ctx, cutoff, reconcileBatchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for i := range stale {
		payment := stale[i]
		order, err := s.orders.GetOrderTx(ctx, nil, payment.OrderID)
		if err != nil {
			return resolved, err
		}
		if order == nil {
			continue
		}

		result, err := s.gateway.Charge(ctx, gateway.ChargeRequest{
			PaymentID:      payment.ID,
			OrderID:        order.ID,
			Method:         payment.Method,
			Amount:         payment.Amount,
			Currency:       payment.Currency,
			IdempotencyKey: payment.ID.String(),
		})
		if err != nil {
			if gateway.IsDeclined(err) {
				if failErr := s.markFailed(ctx, &payment, order, err.Error()); failErr != nil {
					return resolved, failErr
				}
				resolved++
			}
			// still unresolved, leave for the next sweep
			continue
		}
		if err := s.complete(ctx, &payment, order, result); err != nil {
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}

func (s *service) logCompleted(ctx context.Context, payment *models.Payment) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithPaymentID(ctx, payment.ID.String())
	s.logg.Info(logCtx, "payment completed")
}
