package invoices

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/gearmarket-backend/pkg/db/models"
	"github.com/angelmondragon/gearmarket-backend/pkg/enums"
	apperrors "github.com/angelmondragon/gearmarket-backend/pkg/errors"
)

// Repository manages persistence for invoice projections.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invoice *models.Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error)
	// UpdateVersioned applies updates guarded by the optimistic version
	// check and bumps the in-memory version on success.
	UpdateVersioned(ctx context.Context, invoice *models.Invoice, updates map[string]any) error
	// ListOverdueCandidates returns sent or viewed invoices whose due date
	// has passed and which still carry an outstanding balance.
	ListOverdueCandidates(ctx context.Context, asOf time.Time, limit int) ([]models.Invoice, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an invoice repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, invoice *models.Invoice) error {
	if invoice.ID == uuid.Nil {
		invoice.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) UpdateVersioned(ctx context.Context, invoice *models.Invoice, updates map[string]any) error {
	currentVersion := invoice.Version
	merged := make(map[string]any, len(updates)+1)
	for column, value := range updates {
		merged[column] = value
	}
	merged["version"] = currentVersion + 1

	result := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND version = ?", invoice.ID, currentVersion).
		Updates(merged)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeConflict, "invoice was modified concurrently")
	}
	invoice.Version = currentVersion + 1
	return nil
}

func (r *repository) ListOverdueCandidates(ctx context.Context, asOf time.Time, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	query := r.db.WithContext(ctx).
		Where("status IN ?", []string{
			string(enums.InvoiceStatusSent),
			string(enums.InvoiceStatusViewed),
		}).
		Where("due_date < ?", asOf).
		Where("amount_due > 0").
		Order("due_date ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}
