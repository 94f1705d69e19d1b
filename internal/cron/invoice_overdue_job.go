package cron

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/gearmarket-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type overdueSweeper interface {
	SweepOverdue(ctx context.Context) (int, error)
}

type InvoiceOverdueJobParams struct {
	Logger   *logger.Logger
	Invoices overdueSweeper
}

// NewInvoiceOverdueJob flips sent/viewed invoices past their due date to overdue.
func NewInvoiceOverdueJob(params InvoiceOverdueJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice service required")
	}
	return &invoiceOverdueJob{
		logg:     params.Logger,
		invoices: params.Invoices,
	}, nil
}

type invoiceOverdueJob struct {
	logg     *logger.Logger
	invoices overdueSweeper
}

func (j *invoiceOverdueJob) Name() string { return "invoice-overdue" }

func (j *invoiceOverdueJob) Run(ctx context.Context) error {
	flipped, err := j.invoices.SweepOverdue(ctx)
	if err != nil {
		return fmt.Errorf("invoice overdue sweep: %w", err)
	}
	logCtx := j.logg.WithField(ctx, "invoices_flipped", flipped)
	j.logg.Info(logCtx, "invoice overdue sweep complete")
	return nil
}
