package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gearmarket-backend/api/responses"
	"github.com/angelmondragon/gearmarket-backend/api/validators"
	internaldiscounts "github.com/angelmondragon/gearmarket-backend/internal/discounts"
	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gearmarket-backend/pkg/errors"
	"github.com/angelmondragon/gearmarket-backend/pkg/logger"
)

type createDiscountRequest struct {
	Code              string           `json:"code" validate:"required"`
	Description       string           `json:"description" validate:"required"`
	Type              string           `json:"type" validate:"required"`
	Value             decimal.Decimal  `json:"value" validate:"required"`
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount,omitempty"`
	MinOrderAmount    decimal.Decimal  `json:"min_order_amount"`
	MaxUses           *int             `json:"max_uses,omitempty"`
	MaxUsesPerUser    int              `json:"max_uses_per_user"`
	ValidFrom         time.Time        `json:"valid_from" validate:"required"`
	ValidUntil        time.Time        `json:"valid_until" validate:"required"`
}

type validateDiscountRequest struct {
	Code          string          `json:"code" validate:"required"`
	OrderSubtotal decimal.Decimal `json:"order_subtotal" validate:"required"`
}

// CreateDiscount registers a new promotional code.
func CreateDiscount(svc internaldiscounts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "discounts service unavailable"))
			return
		}

		var payload createDiscountRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		discountType, err := enums.ParseDiscountType(payload.Type)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid discount type"))
			return
		}

		discount, err := svc.Create(r.Context(), internaldiscounts.CreateInput{
			Code:              payload.Code,
			Description:       payload.Description,
			Type:              discountType,
			Value:             payload.Value,
			MaxDiscountAmount: payload.MaxDiscountAmount,
			MinOrderAmount:    payload.MinOrderAmount,
			MaxUses:           payload.MaxUses,
			MaxUsesPerUser:    payload.MaxUsesPerUser,
			ValidFrom:         payload.ValidFrom,
			ValidUntil:        payload.ValidUntil,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, discount)
	}
}

// GetDiscount looks a code up by its public value.
func GetDiscount(svc internaldiscounts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "discounts service unavailable"))
			return
		}

		code := strings.TrimSpace(chi.URLParam(r, "code"))
		if code == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "discount code is required"))
			return
		}
		discount, err := svc.GetByCode(r.Context(), code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, discount)
	}
}

// ValidateDiscount prices a code against the caller's prospective order.
func ValidateDiscount(svc internaldiscounts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "discounts service unavailable"))
			return
		}

		userID, _, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload validateDiscountRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Validate(r.Context(), payload.Code, userID, payload.OrderSubtotal)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
