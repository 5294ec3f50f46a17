package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// ListFilter narrows a ledger read. SubOrderID is required.
type ListFilter struct {
	SubOrderID uuid.UUID
	Type       *enums.LedgerEventType
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.LedgerEvent) error
	List(ctx context.Context, filter ListFilter) ([]models.LedgerEvent, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create appends a row. Ledger rows are never updated or deleted.
func (r *repository) Create(ctx context.Context, event *models.LedgerEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]models.LedgerEvent, error) {
	q := r.db.WithContext(ctx).Where("sub_order_id = ?", filter.SubOrderID)
	if filter.Type != nil {
		q = q.Where("type = ?", *filter.Type)
	}

	var events []models.LedgerEvent
	if err := q.Order("created_at ASC").Order("id ASC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
