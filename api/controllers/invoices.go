package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/gearmarket-backend/api/responses"
	internalinvoices "github.com/angelmondragon/gearmarket-backend/internal/invoices"
	internalorders "github.com/angelmondragon/gearmarket-backend/internal/orders"
	"github.com/angelmondragon/gearmarket-backend/pkg/db/models"
	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gearmarket-backend/pkg/errors"
	"github.com/angelmondragon/gearmarket-backend/pkg/logger"
)

// GetInvoice returns one invoice after checking the caller can see its order.
func GetInvoice(svc internalinvoices.Service, orders internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || orders == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoices service unavailable"))
			return
		}

		invoiceID, err := parseUUIDParam(r, "invoiceID", "invoice id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		invoice, err := svc.GetByID(r.Context(), invoiceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := ensureInvoiceAccess(r, orders, invoice); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, invoice)
	}
}

// OrderInvoice returns the invoice generated for one order.
func OrderInvoice(svc internalinvoices.Service, orders internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || orders == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoices service unavailable"))
			return
		}

		order, err := loadOwnedOrder(r, orders)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		invoice, err := svc.GetByOrderID(r.Context(), order.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, invoice)
	}
}

// SendInvoice marks a draft invoice as sent to the buyer.
func SendInvoice(svc internalinvoices.Service, orders internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return invoiceTransition(svc, orders, logg, func(r *http.Request, invoiceID uuid.UUID) (*models.Invoice, error) {
		return svc.MarkSent(r.Context(), invoiceID)
	})
}

// ViewInvoice records that the buyer opened the invoice.
func ViewInvoice(svc internalinvoices.Service, orders internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return invoiceTransition(svc, orders, logg, func(r *http.Request, invoiceID uuid.UUID) (*models.Invoice, error) {
		return svc.MarkViewed(r.Context(), invoiceID)
	})
}

func invoiceTransition(
	svc internalinvoices.Service,
	orders internalorders.Service,
	logg *logger.Logger,
	run func(r *http.Request, invoiceID uuid.UUID) (*models.Invoice, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || orders == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoices service unavailable"))
			return
		}

		invoiceID, err := parseUUIDParam(r, "invoiceID", "invoice id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		invoice, err := svc.GetByID(r.Context(), invoiceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := ensureInvoiceAccess(r, orders, invoice); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		invoice, err = run(r, invoiceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, invoice)
	}
}

func ensureInvoiceAccess(r *http.Request, orders internalorders.Service, invoice *models.Invoice) error {
	userID, role, err := requestActor(r)
	if err != nil {
		return err
	}
	if role == enums.UserRoleAdmin {
		return nil
	}
	order, err := orders.GetByID(r.Context(), invoice.OrderID)
	if err != nil {
		return err
	}
	if order.BuyerID != userID && order.SellerID != userID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "invoice does not belong to caller")
	}
	return nil
}
