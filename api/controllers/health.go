package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/gearmarket-backend/api/responses"
	"github.com/angelmondragon/gearmarket-backend/pkg/config"
	"github.com/angelmondragon/gearmarket-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/gearmarket-backend/pkg/errors"
	"github.com/angelmondragon/gearmarket-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/gearmarket-backend/pkg/redis"
)

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-GearMarket-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the datastores a request would touch. A failed ping
// reports the service as not ready so the load balancer stops routing.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisClient *pkgredis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-GearMarket-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"database": "ok", "redis": "ok"}

		if dbP == nil {
			checks["database"] = "unavailable"
		} else if err := dbP.Ping(ctx); err != nil {
			logg.Error(ctx, "database ping failed", err)
			checks["database"] = "failed"
		}

		if redisClient == nil {
			checks["redis"] = "unavailable"
		} else if err := redisClient.Ping(ctx); err != nil {
			logg.Error(ctx, "redis ping failed", err)
			checks["redis"] = "failed"
		}

		for _, status := range checks {
			if status != "ok" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies not ready").WithDetails(checks))
				return
			}
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
