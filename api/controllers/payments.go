package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gearmarket-backend/api/responses"
	"github.com/angelmondragon/gearmarket-backend/api/validators"
	internalorders "github.com/angelmondragon/gearmarket-backend/internal/orders"
	internalpayments "github.com/angelmondragon/gearmarket-backend/internal/payments"
	"github.com/angelmondragon/gearmarket-backend/pkg/db/models"
	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gearmarket-backend/pkg/errors"
	"github.com/angelmondragon/gearmarket-backend/pkg/logger"
)

type createPaymentRequest struct {
	OrderID  uuid.UUID       `json:"order_id" validate:"required"`
	Method   string          `json:"method" validate:"required"`
	Amount   decimal.Decimal `json:"amount" validate:"required"`
	Currency string          `json:"currency" validate:"required"`
}

// CreatePayment registers a payment attempt against the caller's order.
func CreatePayment(svc internalpayments.Service, orders internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || orders == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		userID, role, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := enums.ParsePaymentMethod(payload.Method)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}
		currency, err := enums.ParseCurrency(payload.Currency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency"))
			return
		}

		if err := ensureOrderPayer(r, orders, payload.OrderID, userID, role); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Create(r.Context(), internalpayments.CreateInput{
			OrderID:  payload.OrderID,
			Method:   method,
			Amount:   payload.Amount,
			Currency: currency,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, payment)
	}
}

// GetPayment returns one payment after an ownership check against its order.
func GetPayment(svc internalpayments.Service, orders internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || orders == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		userID, role, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paymentID, err := parseUUIDParam(r, "paymentID", "payment id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.GetByID(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if role != enums.UserRoleAdmin {
			order, err := orders.GetByID(r.Context(), payment.OrderID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if order.BuyerID != userID && order.SellerID != userID {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "payment does not belong to caller"))
				return
			}
		}
		responses.WriteSuccess(w, payment)
	}
}

// ProcessPayment executes a pending payment attempt.
func ProcessPayment(svc internalpayments.Service, orders internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return paymentAction(svc, orders, logg, func(r *http.Request, paymentID uuid.UUID) (*models.Payment, error) {
		return svc.Process(r.Context(), paymentID)
	})
}

// RetryPayment resets a failed payment so it can be processed again.
func RetryPayment(svc internalpayments.Service, orders internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return paymentAction(svc, orders, logg, func(r *http.Request, paymentID uuid.UUID) (*models.Payment, error) {
		return svc.Retry(r.Context(), paymentID)
	})
}

// ReconcilePayment resolves a payment stuck in processing by replaying the
// idempotent charge and applying its true outcome.
func ReconcilePayment(svc internalpayments.Service, orders internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return paymentAction(svc, orders, logg, func(r *http.Request, paymentID uuid.UUID) (*models.Payment, error) {
		return svc.Reconcile(r.Context(), paymentID)
	})
}

func paymentAction(
	svc internalpayments.Service,
	orders internalorders.Service,
	logg *logger.Logger,
	run func(r *http.Request, paymentID uuid.UUID) (*models.Payment, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || orders == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		userID, role, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paymentID, err := parseUUIDParam(r, "paymentID", "payment id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.GetByID(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := ensureOrderPayer(r, orders, payment.OrderID, userID, role); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err = run(r, paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

// ensureOrderPayer allows the order's buyer, or an admin, to act on its payment.
func ensureOrderPayer(r *http.Request, orders internalorders.Service, orderID, userID uuid.UUID, role enums.UserRole) error {
	if role == enums.UserRoleAdmin {
		return nil
	}
	order, err := orders.GetByID(r.Context(), orderID)
	if err != nil {
		return err
	}
	if order.BuyerID != userID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller")
	}
	return nil
}
