package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/gearmarket-backend/api/controllers"
	"github.com/angelmondragon/gearmarket-backend/api/middleware"
	"github.com/angelmondragon/gearmarket-backend/internal/discounts"
	"github.com/angelmondragon/gearmarket-backend/internal/invoices"
	"github.com/angelmondragon/gearmarket-backend/internal/orders"
	"github.com/angelmondragon/gearmarket-backend/internal/payments"
	"github.com/angelmondragon/gearmarket-backend/internal/refunds"
	"github.com/angelmondragon/gearmarket-backend/internal/wallets"
	"github.com/angelmondragon/gearmarket-backend/pkg/config"
	"github.com/angelmondragon/gearmarket-backend/pkg/db"
	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
	"github.com/angelmondragon/gearmarket-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/gearmarket-backend/pkg/redis"
)

// Services bundles everything the HTTP surface depends on.
type Services struct {
	Orders    orders.Service
	Payments  payments.Service
	Refunds   refunds.Service
	Invoices  invoices.Service
	Wallets   wallets.Service
	Discounts discounts.Service
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *pkgredis.Client,
	svcs Services,
) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	apiPolicy := middleware.NewRateLimitPolicy(
		"api",
		cfg.RateLimit.APIWindow,
		cfg.RateLimit.APIIPLimit,
		cfg.RateLimit.APIUserLimit,
	)
	moneyPolicy := middleware.NewRateLimitPolicy(
		"money",
		cfg.RateLimit.MoneyWindow,
		cfg.RateLimit.MoneyIPLimit,
		cfg.RateLimit.MoneyUserLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	// A nil redis client disables throttling and replay protection rather
	// than failing every request; the API core still works.
	moneyLimit := func(r chi.Router) chi.Router { return r }
	if redisClient != nil {
		moneyLimit = func(r chi.Router) chi.Router {
			return r.With(middleware.RateLimit(moneyPolicy, redisClient, logg))
		}
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		if redisClient != nil {
			r.Use(middleware.RateLimit(apiPolicy, redisClient, logg))
			r.Use(middleware.Idempotency(redisClient, logg))
		}

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.ListOrders(svcs.Orders, logg))
			moneyLimit(r).Post("/", controllers.PlaceOrder(svcs.Orders, logg))
			r.Route("/{orderID}", func(r chi.Router) {
				r.Get("/", controllers.GetOrder(svcs.Orders, logg))
				r.Post("/confirm", controllers.ConfirmOrder(svcs.Orders, logg))
				r.Post("/ship", controllers.ShipOrder(svcs.Orders, logg))
				r.Post("/deliver", controllers.DeliverOrder(svcs.Orders, logg))
				moneyLimit(r).Post("/cancel", controllers.CancelOrder(svcs.Orders, logg))
				r.Get("/invoice", controllers.OrderInvoice(svcs.Invoices, svcs.Orders, logg))
				r.Get("/refunds", controllers.OrderRefunds(svcs.Refunds, svcs.Orders, logg))
			})
		})

		r.Route("/payments", func(r chi.Router) {
			if redisClient != nil {
				r.Use(middleware.RateLimit(moneyPolicy, redisClient, logg))
			}
			r.Post("/", controllers.CreatePayment(svcs.Payments, svcs.Orders, logg))
			r.Route("/{paymentID}", func(r chi.Router) {
				r.Get("/", controllers.GetPayment(svcs.Payments, svcs.Orders, logg))
				r.Post("/process", controllers.ProcessPayment(svcs.Payments, svcs.Orders, logg))
				r.Post("/retry", controllers.RetryPayment(svcs.Payments, svcs.Orders, logg))
				r.Post("/reconcile", controllers.ReconcilePayment(svcs.Payments, svcs.Orders, logg))
			})
		})

		r.Route("/refunds", func(r chi.Router) {
			if redisClient != nil {
				r.Use(middleware.RateLimit(moneyPolicy, redisClient, logg))
			}
			r.Post("/", controllers.RequestRefund(svcs.Refunds, logg))
			r.Route("/{refundID}", func(r chi.Router) {
				r.Get("/", controllers.GetRefund(svcs.Refunds, svcs.Orders, logg))
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(enums.UserRoleAdmin.String(), logg))
					r.Post("/approve", controllers.ApproveRefund(svcs.Refunds, logg))
					r.Post("/reject", controllers.RejectRefund(svcs.Refunds, logg))
					r.Post("/process", controllers.ProcessRefund(svcs.Refunds, logg))
				})
			})
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Route("/{invoiceID}", func(r chi.Router) {
				r.Get("/", controllers.GetInvoice(svcs.Invoices, svcs.Orders, logg))
				r.Post("/send", controllers.SendInvoice(svcs.Invoices, svcs.Orders, logg))
				r.Post("/view", controllers.ViewInvoice(svcs.Invoices, svcs.Orders, logg))
			})
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", controllers.GetWallet(svcs.Wallets, logg))
			r.Get("/transactions", controllers.WalletTransactions(svcs.Wallets, logg))
			r.Get("/reconcile", controllers.ReconcileWallet(svcs.Wallets, logg))
		})

		r.Route("/discounts", func(r chi.Router) {
			r.With(middleware.RequireRole(enums.UserRoleAdmin.String(), logg)).
				Post("/", controllers.CreateDiscount(svcs.Discounts, logg))
			r.Post("/validate", controllers.ValidateDiscount(svcs.Discounts, logg))
			r.Get("/{code}", controllers.GetDiscount(svcs.Discounts, logg))
		})
	})

	return r
}
