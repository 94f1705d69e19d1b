package main

import (
	"context"
	"net/http"
	"os"

	"gorm.io/gorm"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/angelmondragon/gearmarket-backend/api/routes"
	"github.com/angelmondragon/gearmarket-backend/internal/discounts"
	"github.com/angelmondragon/gearmarket-backend/internal/invoices"
	"github.com/angelmondragon/gearmarket-backend/internal/orders"
	"github.com/angelmondragon/gearmarket-backend/internal/payments"
	"github.com/angelmondragon/gearmarket-backend/internal/refunds"
	"github.com/angelmondragon/gearmarket-backend/internal/wallets"
	"github.com/angelmondragon/gearmarket-backend/pkg/config"
	"github.com/angelmondragon/gearmarket-backend/pkg/db"
	"github.com/angelmondragon/gearmarket-backend/pkg/db/models"
	"github.com/angelmondragon/gearmarket-backend/pkg/gateway"
	"github.com/angelmondragon/gearmarket-backend/pkg/logger"
	"github.com/angelmondragon/gearmarket-backend/pkg/migrate"
	"github.com/angelmondragon/gearmarket-backend/pkg/outbox"
	"github.com/angelmondragon/gearmarket-backend/pkg/redis"
)

// paymentsBridge breaks the construction cycle between the order and
// payment services: orders needs the payment collaborator at wiring time,
// but payments needs orders first. The bridge is handed to orders empty
// and pointed at the payment service once it exists.
type paymentsBridge struct {
	svc payments.Service
}

func (b *paymentsBridge) GetByOrderTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Payment, error) {
	return b.svc.GetByOrderTx(ctx, tx, orderID)
}

func (b *paymentsBridge) CancelPendingTx(ctx context.Context, tx *gorm.DB, payment *models.Payment) error {
	return b.svc.CancelPendingTx(ctx, tx, payment)
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gw, err := gateway.New(cfg.Gateway)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway", err)
		os.Exit(1)
	}

	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	walletsSvc, err := wallets.NewService(wallets.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create wallets service", err)
		os.Exit(1)
	}

	discountsSvc, err := discounts.NewService(discounts.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create discounts service", err)
		os.Exit(1)
	}

	invoicesSvc, err := invoices.NewService(invoices.NewRepository(dbClient.DB()), dbClient, emitter, cfg.Invoices, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create invoices service", err)
		os.Exit(1)
	}

	bridge := &paymentsBridge{}
	ordersSvc, err := orders.NewService(orders.Deps{
		Repo:      orders.NewRepository(dbClient.DB()),
		Tx:        dbClient,
		Outbox:    emitter,
		Discounts: discountsSvc,
		Invoices:  invoicesSvc,
		Wallet:    walletsSvc,
		Payments:  bridge,
		Config:    cfg.Payments,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	paymentsSvc, err := payments.NewService(payments.Deps{
		Repo:     payments.NewRepository(dbClient.DB()),
		Tx:       dbClient,
		Orders:   ordersSvc,
		Wallet:   walletsSvc,
		Invoices: invoicesSvc,
		Outbox:   emitter,
		Gateway:  gw,
		Config:   cfg.Payments,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}
	bridge.svc = paymentsSvc

	refundsSvc, err := refunds.NewService(refunds.Deps{
		Repo:         refunds.NewRepository(dbClient.DB()),
		Tx:           dbClient,
		Orders:       ordersSvc,
		Payments:     paymentsSvc,
		Wallet:       walletsSvc,
		Outbox:       emitter,
		Gateway:      gw,
		PayoutConfig: cfg.Payments,
		Config:       cfg.Refunds,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refunds service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, routes.Services{
			Orders:    ordersSvc,
			Payments:  paymentsSvc,
			Refunds:   refundsSvc,
			Invoices:  invoicesSvc,
			Wallets:   walletsSvc,
			Discounts: discountsSvc,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
