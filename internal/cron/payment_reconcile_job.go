package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/gearmarket-backend/pkg/logger"
)

const defaultReconcileAge = 15 * time.Minute

type paymentReconciler interface {
	ReconcileStale(ctx context.Context, olderThan time.Duration) (int, error)
}

type PaymentReconcileJobParams struct {
	Logger   *logger.Logger
	Payments paymentReconciler
	// MinAge guards against reconciling payments whose gateway call may
	// still be in flight.
	MinAge time.Duration
}

// NewPaymentReconcileJob re-queries the gateway for payments stuck in
// processing after a timeout left their outcome unknown.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment service required")
	}
	minAge := params.MinAge
	if minAge <= 0 {
		minAge = defaultReconcileAge
	}
	return &paymentReconcileJob{
		logg:     params.Logger,
		payments: params.Payments,
		minAge:   minAge,
	}, nil
}

type paymentReconcileJob struct {
	logg     *logger.Logger
	payments paymentReconciler
	minAge   time.Duration
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

func (j *paymentReconcileJob) Run(ctx context.Context) error {
	reconciled, err := j.payments.ReconcileStale(ctx, j.minAge)
	if err != nil {
		return fmt.Errorf("payment reconcile: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"payments_reconciled": reconciled,
		"min_age":             j.minAge.String(),
	})
	j.logg.Info(logCtx, "payment reconcile sweep complete")
	return nil
}
