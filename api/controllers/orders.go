package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gearmarket-backend/api/responses"
	"github.com/angelmondragon/gearmarket-backend/api/validators"
	internalorders "github.com/angelmondragon/gearmarket-backend/internal/orders"
	"github.com/angelmondragon/gearmarket-backend/pkg/db/models"
	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gearmarket-backend/pkg/errors"
	"github.com/angelmondragon/gearmarket-backend/pkg/logger"
	"github.com/angelmondragon/gearmarket-backend/pkg/pagination"
	"github.com/angelmondragon/gearmarket-backend/pkg/types"
)

type placeOrderRequest struct {
	SellerID        uuid.UUID       `json:"seller_id" validate:"required"`
	ItemKind        string          `json:"item_kind" validate:"required"`
	ItemID          uuid.UUID       `json:"item_id" validate:"required"`
	ItemName        string          `json:"item_name" validate:"required"`
	Quantity        int             `json:"quantity" validate:"required,min=1"`
	UnitPrice       decimal.Decimal `json:"unit_price" validate:"required"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	ShippingAddress types.Address   `json:"shipping_address" validate:"required"`
	BillingAddress  types.Address   `json:"billing_address" validate:"required"`
	DiscountCode    *string         `json:"discount_code,omitempty"`
	BuyerNotes      *string         `json:"buyer_notes,omitempty"`
}

type shipOrderRequest struct {
	TrackingNumber string  `json:"tracking_number" validate:"required"`
	TrackingURL    *string `json:"tracking_url,omitempty" validate:"omitempty,url"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type orderListResponse struct {
	Items      []models.Order `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// PlaceOrder creates an order for the authenticated buyer.
func PlaceOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, role, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if role != enums.UserRoleBuyer && role != enums.UserRoleAdmin {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "only buyers can place orders"))
			return
		}

		var payload placeOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		kind, err := enums.ParseItemKind(payload.ItemKind)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid item kind"))
			return
		}

		order, err := svc.PlaceOrder(r.Context(), internalorders.PlaceOrderInput{
			BuyerID:         userID,
			SellerID:        payload.SellerID,
			ItemKind:        kind,
			ItemID:          payload.ItemID,
			ItemName:        payload.ItemName,
			Quantity:        payload.Quantity,
			UnitPrice:       payload.UnitPrice,
			TaxAmount:       payload.TaxAmount,
			ShippingCost:    payload.ShippingCost,
			ShippingAddress: payload.ShippingAddress,
			BillingAddress:  payload.BillingAddress,
			DiscountCode:    payload.DiscountCode,
			BuyerNotes:      payload.BuyerNotes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// ListOrders pages the caller's orders, buyer- or seller-side by role.
func ListOrders(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, role, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))

		items, next, err := svc.ListForUser(r.Context(), userID, role, pagination.Params{Limit: limit, Cursor: cursor})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, orderListResponse{Items: items, NextCursor: next})
	}
}

// GetOrder returns one order after an ownership check.
func GetOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		order, err := loadOwnedOrder(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// ConfirmOrder moves a pending order to confirmed.
func ConfirmOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return orderTransition(svc, logg, func(r *http.Request, orderID uuid.UUID, actor internalorders.Actor) (*models.Order, error) {
		return svc.Confirm(r.Context(), orderID, actor)
	})
}

// ShipOrder records tracking details and moves the order to shipped.
func ShipOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, role, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseUUIDParam(r, "orderID", "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload shipOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Ship(r.Context(), internalorders.ShipInput{
			OrderID:        orderID,
			Actor:          internalorders.Actor{ID: userID, Role: role},
			TrackingNumber: payload.TrackingNumber,
			TrackingURL:    payload.TrackingURL,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// DeliverOrder marks a shipped order as delivered.
func DeliverOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return orderTransition(svc, logg, func(r *http.Request, orderID uuid.UUID, actor internalorders.Actor) (*models.Order, error) {
		return svc.Deliver(r.Context(), orderID, actor)
	})
}

// CancelOrder cancels an order that has not shipped.
func CancelOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, role, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseUUIDParam(r, "orderID", "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Cancel(r.Context(), orderID, internalorders.Actor{ID: userID, Role: role}, payload.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

func orderTransition(
	svc internalorders.Service,
	logg *logger.Logger,
	run func(r *http.Request, orderID uuid.UUID, actor internalorders.Actor) (*models.Order, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, role, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseUUIDParam(r, "orderID", "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := run(r, orderID, internalorders.Actor{ID: userID, Role: role})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// loadOwnedOrder fetches the order and verifies the caller is its buyer,
// its seller, or an admin.
func loadOwnedOrder(r *http.Request, svc internalorders.Service) (*models.Order, error) {
	userID, role, err := requestActor(r)
	if err != nil {
		return nil, err
	}
	orderID, err := parseUUIDParam(r, "orderID", "order id")
	if err != nil {
		return nil, err
	}
	order, err := svc.GetByID(r.Context(), orderID)
	if err != nil {
		return nil, err
	}
	if role != enums.UserRoleAdmin && order.BuyerID != userID && order.SellerID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller")
	}
	return order, nil
}
