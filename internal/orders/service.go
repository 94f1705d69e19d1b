package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/gearmarket-backend/internal/discounts"
	"github.com/angelmondragon/gearmarket-backend/internal/wallets"
	"github.com/angelmondragon/gearmarket-backend/pkg/config"
	"github.com/angelmondragon/gearmarket-backend/pkg/db/models"
	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
	apperrors "github.com/angelmondragon/gearmarket-backend/pkg/errors"
	"github.com/angelmondragon/gearmarket-backend/pkg/logger"
	"github.com/angelmondragon/gearmarket-backend/pkg/money"
	"github.com/angelmondragon/gearmarket-backend/pkg/outbox"
	"github.com/angelmondragon/gearmarket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/gearmarket-backend/pkg/pagination"
	"github.com/angelmondragon/gearmarket-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type discountRedeemer interface {
	Validate(ctx context.Context, code string, userID uuid.UUID, orderSubtotal decimal.Decimal) (*discounts.ValidationResult, error)
	RedeemTx(ctx context.Context, tx *gorm.DB, code string, userID, orderID uuid.UUID, orderSubtotal decimal.Decimal) (*discounts.ValidationResult, error)
}

type invoiceProjector interface {
	GenerateTx(ctx context.Context, tx *gorm.DB, order *models.Order) (*models.Invoice, error)
	CancelTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
}

type sellerCreditor interface {
	CreditTx(ctx context.Context, tx *gorm.DB, input wallets.MovementInput) (*models.WalletTransaction, error)
}

// paymentCollaborator is the narrow slice of the payment processor the
// order lifecycle needs: reading the order's payment and cancelling a
// still-pending one alongside order cancellation.
type paymentCollaborator interface {
	GetByOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Payment, error)
	CancelPendingTx(ctx context.Context, tx *gorm.DB, payment *models.Payment) error
}

// Actor identifies who is driving a transition.
type Actor struct {
	ID   uuid.UUID
	Role enums.UserRole
}

// PlaceOrderInput carries everything needed to create an order.
type PlaceOrderInput struct {
	BuyerID         uuid.UUID
	SellerID        uuid.UUID
	ItemKind        enums.ItemKind
	ItemID          uuid.UUID
	ItemName        string
	Quantity        int
	UnitPrice       decimal.Decimal
	TaxAmount       decimal.Decimal
	ShippingCost    decimal.Decimal
	ShippingAddress types.Address
	BillingAddress  types.Address
	DiscountCode    *string
	BuyerNotes      *string
}

// ShipInput carries the tracking details recorded at shipment.
type ShipInput struct {
	OrderID        uuid.UUID
	Actor          Actor
	TrackingNumber string
	TrackingURL    *string
}

// Service owns the order state machine. Transitions that touch other
// aggregates (invoice, wallet, payment) run inside a single transaction.
type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// GetOrderTx reads the order through tx when one is supplied; a nil
	// order with a nil error means not found.
	GetOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	ListForUser(ctx context.Context, userID uuid.UUID, role enums.UserRole, params pagination.Params) ([]models.Order, string, error)
	Confirm(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error)
	// ConfirmTx is the payment processor's entry point: it confirms the
	// order inside the payment completion transaction.
	ConfirmTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	Ship(ctx context.Context, input ShipInput) (*models.Order, error)
	Deliver(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, actor Actor, reason string) (*models.Order, error)
	// MarkRefundedTx flips the order to refunded inside the refund
	// completion transaction.
	MarkRefundedTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
}

type service struct {
	repo      Repository
	tx        txRunner
	outbox    outboxEmitter
	discounts discountRedeemer
	invoices  invoiceProjector
	wallet    sellerCreditor
	payments  paymentCollaborator
	payout    enums.PayoutPolicy
	feeBps    int64
	logg      *logger.Logger
	now       func() time.Time
}

// Deps bundles the collaborators the order service is wired with.
type Deps struct {
	Repo      Repository
	Tx        txRunner
	Outbox    outboxEmitter
	Discounts discountRedeemer
	Invoices  invoiceProjector
	Wallet    sellerCreditor
	Payments  paymentCollaborator
	Config    config.PaymentsConfig
	Logger    *logger.Logger
}

// NewService wires the order service.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if deps.Discounts == nil {
		return nil, fmt.Errorf("discount service required")
	}
	if deps.Invoices == nil {
		return nil, fmt.Errorf("invoice service required")
	}
	if deps.Wallet == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if deps.Payments == nil {
		return nil, fmt.Errorf("payment collaborator required")
	}
	policy, err := enums.ParsePayoutPolicy(deps.Config.SellerPayout)
	if err != nil {
		return nil, err
	}
	return &service{
		repo:      deps.Repo,
		tx:        deps.Tx,
		outbox:    deps.Outbox,
		discounts: deps.Discounts,
		invoices:  deps.Invoices,
		wallet:    deps.Wallet,
		payments:  deps.Payments,
		payout:    policy,
		feeBps:    deps.Config.PlatformFeeBps,
		logg:      deps.Logger,
		now:       time.Now,
	}, nil
}

func newOrderNumber() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error) {
	if err := validatePlaceOrder(input); err != nil {
		return nil, err
	}

	subtotal := money.Round(input.UnitPrice.Mul(decimal.NewFromInt(int64(input.Quantity))))
	tax := money.Round(input.TaxAmount)
	shipping := money.Round(input.ShippingCost)

	discountAmount := decimal.Zero
	var discountCode *string
	if input.DiscountCode != nil && strings.TrimSpace(*input.DiscountCode) != "" {
		result, err := s.discounts.Validate(ctx, *input.DiscountCode, input.BuyerID, subtotal)
		if err != nil {
			return nil, err
		}
		if !result.Valid {
			return nil, apperrors.New(apperrors.CodeInvalidDiscount, "invalid discount code: "+result.Reason)
		}
		discountAmount = result.DiscountAmount
		code := result.Code
		discountCode = &code
	}

	total := money.Round(subtotal.Add(tax).Add(shipping).Sub(discountAmount))
	if total.IsNegative() {
		return nil, apperrors.New(apperrors.CodeValidation, "order total must not be negative")
	}

	order := &models.Order{
		ID:              uuid.New(),
		OrderNumber:     newOrderNumber(),
		BuyerID:         input.BuyerID,
		SellerID:        input.SellerID,
		ItemKind:        input.ItemKind,
		ItemName:        strings.TrimSpace(input.ItemName),
		Quantity:        input.Quantity,
		UnitPrice:       money.Round(input.UnitPrice),
		Subtotal:        subtotal,
		TaxAmount:       tax,
		ShippingCost:    shipping,
		DiscountAmount:  discountAmount,
		TotalAmount:     total,
		DiscountCode:    discountCode,
		ShippingAddress: input.ShippingAddress,
		BillingAddress:  input.BillingAddress,
		Status:          enums.OrderStatusPending,
		BuyerNotes:      input.BuyerNotes,
		Version:         1,
	}
	itemID := input.ItemID
	if input.ItemKind == enums.ItemKindCar {
		order.CarID = &itemID
	} else {
		order.PartID = &itemID
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		if discountCode != nil {
			if _, err := s.discounts.RedeemTx(ctx, tx, *discountCode, input.BuyerID, order.ID, subtotal); err != nil {
				return err
			}
		}
		if _, err := s.invoices.GenerateTx(ctx, tx, order); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.BuyerID, Role: enums.UserRoleBuyer.String()},
			Data: payloads.OrderPlacedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				BuyerID:     order.BuyerID,
				SellerID:    order.SellerID,
				ItemKind:    order.ItemKind,
				ItemID:      itemID,
				TotalAmount: order.TotalAmount,
				Currency:    enums.CurrencyUSD,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, order.ID.String())
		s.logg.Info(logCtx, "order placed")
	}
	return order, nil
}

func validatePlaceOrder(input PlaceOrderInput) error {
	if input.BuyerID == uuid.Nil || input.SellerID == uuid.Nil {
		return apperrors.New(apperrors.CodeValidation, "buyer and seller are required")
	}
	if input.BuyerID == input.SellerID {
		return apperrors.New(apperrors.CodeValidation, "buyer and seller must differ")
	}
	if !input.ItemKind.IsValid() {
		return apperrors.New(apperrors.CodeValidation, "unknown item kind")
	}
	if input.ItemID == uuid.Nil {
		return apperrors.New(apperrors.CodeValidation, "item id is required")
	}
	if strings.TrimSpace(input.ItemName) == "" {
		return apperrors.New(apperrors.CodeValidation, "item name is required")
	}
	if input.Quantity < 1 {
		return apperrors.New(apperrors.CodeValidation, "quantity must be at least 1")
	}
	if input.UnitPrice.IsNegative() {
		return apperrors.New(apperrors.CodeValidation, "unit price must not be negative")
	}
	if input.TaxAmount.IsNegative() || input.ShippingCost.IsNegative() {
		return apperrors.New(apperrors.CodeValidation, "tax and shipping must not be negative")
	}
	if err := input.ShippingAddress.Validate(); err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, err, "invalid shipping address")
	}
	if err := input.BillingAddress.Validate(); err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, err, "invalid billing address")
	}
	return nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) GetOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	return s.repo.WithTx(tx).GetByID(ctx, orderID)
}

func (s *service) GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	order, err := s.repo.GetByOrderNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, role enums.UserRole, params pagination.Params) ([]models.Order, string, error) {
	if userID == uuid.Nil {
		return nil, "", apperrors.New(apperrors.CodeValidation, "user id is required")
	}
	return s.repo.ListForUser(ctx, userID, role, params)
}

func (s *service) Confirm(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.Role != enums.UserRoleAdmin && actor.ID != order.SellerID {
		return nil, apperrors.New(apperrors.CodeForbidden, "only the seller may confirm the order")
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err = s.ConfirmTx(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) ConfirmTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction handle required")
	}
	repo := s.repo.WithTx(tx)
	order, err := repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "order not found")
	}
	if order.Status != enums.OrderStatusPending {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("order cannot be confirmed from status %s", order.Status))
	}

	now := s.now()
	if err := repo.UpdateVersioned(ctx, order, map[string]any{
		"status":       enums.OrderStatusConfirmed,
		"confirmed_at": now,
	}); err != nil {
		return nil, err
	}
	order.Status = enums.OrderStatusConfirmed
	order.ConfirmedAt = &now

	err = s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderConfirmed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data:          s.statusEvent(order, ""),
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) Ship(ctx context.Context, input ShipInput) (*models.Order, error) {
	if strings.TrimSpace(input.TrackingNumber) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "tracking number is required")
	}
	order, err := s.GetByID(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if input.Actor.Role != enums.UserRoleAdmin && input.Actor.ID != order.SellerID {
		return nil, apperrors.New(apperrors.CodeForbidden, "only the seller may ship the order")
	}
	if order.Status != enums.OrderStatusConfirmed {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("order cannot be shipped from status %s", order.Status))
	}

	now := s.now()
	trackingNumber := strings.TrimSpace(input.TrackingNumber)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateVersioned(ctx, order, map[string]any{
			"status":          enums.OrderStatusShipped,
			"tracking_number": trackingNumber,
			"tracking_url":    input.TrackingURL,
			"shipped_at":      now,
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderShipped,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.Actor.ID, Role: input.Actor.Role.String()},
			Data:          s.statusEventWith(order, enums.OrderStatusShipped, ""),
		})
	})
	if err != nil {
		return nil, err
	}
	order.Status = enums.OrderStatusShipped
	order.TrackingNumber = &trackingNumber
	order.TrackingURL = input.TrackingURL
	order.ShippedAt = &now
	return order, nil
}

func (s *service) Deliver(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.Role != enums.UserRoleAdmin && actor.ID != order.SellerID {
		return nil, apperrors.New(apperrors.CodeForbidden, "only the seller may mark the order delivered")
	}
	if order.Status != enums.OrderStatusShipped {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("order cannot be delivered from status %s", order.Status))
	}

	now := s.now()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateVersioned(ctx, order, map[string]any{
			"status":       enums.OrderStatusDelivered,
			"delivered_at": now,
		}); err != nil {
			return err
		}
		if s.payout == enums.PayoutOnDelivery {
			if err := s.creditSellerTx(ctx, tx, order, now); err != nil {
				return err
			}
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderDelivered,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: actor.ID, Role: actor.Role.String()},
			Data:          s.statusEventWith(order, enums.OrderStatusDelivered, ""),
		})
	})
	if err != nil {
		return nil, err
	}
	order.Status = enums.OrderStatusDelivered
	order.DeliveredAt = &now
	return order, nil
}

// creditSellerTx issues the seller payout for a paid order, net of the
// platform fee, and queues the payout event once per order.
func (s *service) creditSellerTx(ctx context.Context, tx *gorm.DB, order *models.Order, at time.Time) error {
	payment, err := s.payments.GetByOrderTx(ctx, tx, order.ID)
	if err != nil {
		return err
	}
	if payment == nil || payment.Status != enums.PaymentStatusCompleted {
		return apperrors.New(apperrors.CodeStateConflict, "order has no completed payment")
	}

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

func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, actor Actor, reason string) (*models.Order, error) {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.Role != enums.UserRoleAdmin && actor.ID != order.BuyerID && actor.ID != order.SellerID {
		return nil, apperrors.New(apperrors.CodeForbidden, "not a party to the order")
	}
	if order.Status != enums.OrderStatusPending && order.Status != enums.OrderStatusConfirmed {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("order cannot be cancelled from status %s", order.Status))
	}

	now := s.now()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		payment, err := s.payments.GetByOrderTx(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if payment != nil {
			switch payment.Status {
			case enums.PaymentStatusCompleted:
				return apperrors.New(apperrors.CodeRequiresRefund, "paid order must be refunded, not cancelled")
			case enums.PaymentStatusProcessing:
				return apperrors.New(apperrors.CodeStateConflict, "payment is in flight, wait for its outcome")
			case enums.PaymentStatusPending, enums.PaymentStatusFailed:
				if err := s.payments.CancelPendingTx(ctx, tx, payment); err != nil {
					return err
				}
			}
		}
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateVersioned(ctx, order, map[string]any{
			"status":       enums.OrderStatusCancelled,
			"cancelled_at": now,
		}); err != nil {
			return err
		}
		if err := s.invoices.CancelTx(ctx, tx, order.ID); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCanceled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: actor.ID, Role: actor.Role.String()},
			Data:          s.statusEventWith(order, enums.OrderStatusCancelled, reason),
		})
	})
	if err != nil {
		return nil, err
	}
	order.Status = enums.OrderStatusCancelled
	order.CancelledAt = &now
	return order, nil
}

func (s *service) MarkRefundedTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction handle required")
	}
	repo := s.repo.WithTx(tx)
	order, err := repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "order not found")
	}
	if order.Status == enums.OrderStatusRefunded {
		return order, nil
	}
	if order.Status != enums.OrderStatusShipped && order.Status != enums.OrderStatusDelivered {
		return nil, apperrors.New(apperrors.CodeStateConflict,
			fmt.Sprintf("order cannot be refunded from status %s", order.Status))
	}

	now := s.now()
	if err := repo.UpdateVersioned(ctx, order, map[string]any{
		"status":      enums.OrderStatusRefunded,
		"refunded_at": now,
	}); err != nil {
		return nil, err
	}
	order.Status = enums.OrderStatusRefunded
	order.RefundedAt = &now

	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderRefunded,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data:          s.statusEvent(order, ""),
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) statusEvent(order *models.Order, reason string) payloads.OrderStatusEvent {
	return s.statusEventWith(order, order.Status, reason)
}

func (s *service) statusEventWith(order *models.Order, status enums.OrderStatus, reason string) payloads.OrderStatusEvent {
	return payloads.OrderStatusEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		SellerID:    order.SellerID,
		Status:      status,
		OccurredAt:  s.now(),
		Reason:      reason,
	}
}
