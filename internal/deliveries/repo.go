package deliveries

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// Repository persists deliveries. Status changes go through Transition.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, delivery *models.Delivery) error
	Find(ctx context.Context, id uuid.UUID) (*models.Delivery, error)
	FindActiveForSubOrder(ctx context.Context, subOrderID uuid.UUID) (*models.Delivery, error)
	ListActiveForCourier(ctx context.Context, courierID uuid.UUID) ([]models.Delivery, error)
	Transition(ctx context.Context, id uuid.UUID, from []enums.DeliveryStatus, updates map[string]any) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the delivery repository to a gorm connection.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, delivery *models.Delivery) error {
	if delivery.ID == uuid.Nil {
		delivery.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(delivery).Error
}

func (r *repository) Find(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	var delivery models.Delivery
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&delivery).Error; err != nil {
		return nil, err
	}
	return &delivery, nil
}

// FindActiveForSubOrder returns the non-exception delivery of a sub order or nil.
func (r *repository) FindActiveForSubOrder(ctx context.Context, subOrderID uuid.UUID) (*models.Delivery, error) {
	var delivery models.Delivery
	err := r.db.WithContext(ctx).
		Where("sub_order_id = ?", subOrderID).
		Where("status <> ?", enums.DeliveryStatusException).
		First(&delivery).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

func (r *repository) ListActiveForCourier(ctx context.Context, courierID uuid.UUID) ([]models.Delivery, error) {
	var rows []models.Delivery
	err := r.db.WithContext(ctx).
		Where("courier_id = ?", courierID).
		Where("status IN ?", []enums.DeliveryStatus{
			enums.DeliveryStatusAssigned, enums.DeliveryStatusPickedUp, enums.DeliveryStatusInTransit,
		}).
		Order("assigned_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from []enums.DeliveryStatus, updates map[string]any) error {
	return dbpkg.CompareAndSwap(ctx, r.db, &models.Delivery{}, id, "status", from, updates)
}
