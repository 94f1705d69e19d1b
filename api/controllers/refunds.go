package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gearmarket-backend/api/responses"
	"github.com/angelmondragon/gearmarket-backend/api/validators"
	internalorders "github.com/angelmondragon/gearmarket-backend/internal/orders"
	internalrefunds "github.com/angelmondragon/gearmarket-backend/internal/refunds"
	"github.com/angelmondragon/gearmarket-backend/pkg/db/models"
	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gearmarket-backend/pkg/errors"
	"github.com/angelmondragon/gearmarket-backend/pkg/logger"
)

type requestRefundRequest struct {
	OrderID     uuid.UUID        `json:"order_id" validate:"required"`
	Reason      string           `json:"reason" validate:"required"`
	Description string           `json:"description" validate:"required"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Percentage  *int             `json:"percentage,omitempty"`
}

type rejectRefundRequest struct {
	Notes string `json:"notes" validate:"required"`
}

// RequestRefund opens a refund case against a paid order.
func RequestRefund(svc internalrefunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		userID, role, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload requestRefundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason, err := enums.ParseRefundReason(payload.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund reason"))
			return
		}

		refund, err := svc.Request(r.Context(), internalrefunds.RequestInput{
			OrderID:     payload.OrderID,
			Actor:       internalrefunds.Actor{ID: userID, Role: role},
			Reason:      reason,
			Description: payload.Description,
			Amount:      payload.Amount,
			Percentage:  payload.Percentage,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, refund)
	}
}

// GetRefund returns one refund after checking the caller can see its order.
func GetRefund(svc internalrefunds.Service, orders internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || orders == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		userID, role, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		refundID, err := parseUUIDParam(r, "refundID", "refund id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		refund, err := svc.GetByID(r.Context(), refundID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if role != enums.UserRoleAdmin {
			order, err := orders.GetByID(r.Context(), refund.OrderID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if order.BuyerID != userID && order.SellerID != userID {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "refund does not belong to caller"))
				return
			}
		}
		responses.WriteSuccess(w, refund)
	}
}

// ApproveRefund lets an admin approve a pending refund.
func ApproveRefund(svc internalrefunds.Service, logg *logger.Logger) http.HandlerFunc {
	return refundDecision(svc, logg, func(r *http.Request, refundID uuid.UUID, actor internalrefunds.Actor) (*models.Refund, error) {
		return svc.Approve(r.Context(), refundID, actor)
	})
}

// RejectRefund lets an admin reject a pending refund with a note.
func RejectRefund(svc internalrefunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		userID, role, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		refundID, err := parseUUIDParam(r, "refundID", "refund id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload rejectRefundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		refund, err := svc.Reject(r.Context(), refundID, internalrefunds.Actor{ID: userID, Role: role}, payload.Notes)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, refund)
	}
}

// ProcessRefund executes an approved refund and moves the money back.
func ProcessRefund(svc internalrefunds.Service, logg *logger.Logger) http.HandlerFunc {
	return refundDecision(svc, logg, func(r *http.Request, refundID uuid.UUID, _ internalrefunds.Actor) (*models.Refund, error) {
		return svc.Process(r.Context(), refundID)
	})
}

// OrderRefunds lists every refund raised against one order.
func OrderRefunds(svc internalrefunds.Service, orders internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || orders == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		order, err := loadOwnedOrder(r, orders)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListByOrder(r.Context(), order.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func refundDecision(
	svc internalrefunds.Service,
	logg *logger.Logger,
	run func(r *http.Request, refundID uuid.UUID, actor internalrefunds.Actor) (*models.Refund, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds service unavailable"))
			return
		}

		userID, role, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		refundID, err := parseUUIDParam(r, "refundID", "refund id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		refund, err := run(r, refundID, internalrefunds.Actor{ID: userID, Role: role})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, refund)
	}
}
