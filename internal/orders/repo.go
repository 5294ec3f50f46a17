package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Omit("SubOrders").Create(order).Error
}

func (r *repository) CreateSubOrder(ctx context.Context, subOrder *models.SubOrder) error {
	if subOrder.ID == uuid.Nil {
		subOrder.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Omit("Items").Create(subOrder).Error
}

func (r *repository) CreateItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		if items[i].ID == uuid.Nil {
			items[i].ID = uuid.New()
		}
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) SumSubtotals(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.SubOrder{}).
		Where("order_id = ?", orderID).
		Select("COALESCE(SUM(subtotal_cents), 0)").
		Scan(&total).Error
	return total, err
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrderDetail(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("SubOrders", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Preload("SubOrders.Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindSubOrder(ctx context.Context, id uuid.UUID) (*models.SubOrder, error) {
	var sub models.SubOrder
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListSubOrders(ctx context.Context, orderID uuid.UUID) ([]models.SubOrder, error) {
	var subs []models.SubOrder
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListDeliveries(ctx context.Context, orderID uuid.UUID) ([]models.Delivery, error) {
	var deliveries []models.Delivery
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("assigned_at ASC, id ASC").
		Find(&deliveries).Error
	if err != nil {
		return nil, err
	}
	return deliveries, nil
}

func (r *repository) ListOrders(ctx context.Context, filters ListFilters, params pagination.Params) (*OrderList, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if filters.ClientID != nil {
		query = query.Where("client_id = ?", *filters.ClientID)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	query, limit, err := pagination.Keyset(query, "created_at", "id", params)
	if err != nil {
		return nil, err
	}

	var rows []models.Order
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	rows, next := pagination.Trim(rows, limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{SortAt: o.CreatedAt, ID: o.ID}
	})
	list := &OrderList{Orders: make([]OrderSummary, 0, len(rows)), NextCursor: next}
	for _, o := range rows {
		list.Orders = append(list.Orders, OrderSummary{
			ID:          o.ID,
			OrderNumber: o.OrderNumber,
			ClientID:    o.ClientID,
			Status:      o.Status,
			TotalCents:  o.TotalCents,
			Currency:    o.Currency,
			CreatedAt:   o.CreatedAt,
		})
	}
	return list, nil
}

func (r *repository) TransitionOrder(ctx context.Context, id uuid.UUID, from []enums.OrderStatus, updates map[string]any) error {
	return dbpkg.CompareAndSwap(ctx, r.db, &models.Order{}, id, "status", from, updates)
}

func (r *repository) TransitionPayment(ctx context.Context, subOrderID uuid.UUID, from []enums.PaymentStatus, updates map[string]any) error {
	return dbpkg.CompareAndSwap(ctx, r.db, &models.SubOrder{}, subOrderID, "payment_status", from, updates)
}

func (r *repository) TransitionFulfillment(ctx context.Context, subOrderID uuid.UUID, from []enums.FulfillmentStatus, updates map[string]any) error {
	return dbpkg.CompareAndSwap(ctx, r.db, &models.SubOrder{}, subOrderID, "fulfillment_status", from, updates)
}

func (r *repository) UpdateSubOrder(ctx context.Context, subOrderID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.SubOrder{}).
		Where("id = ?", subOrderID).
		Updates(updates).Error
}

// SoftDeleteOrder stamps deleted_at on the order and everything it owns.
func (r *repository) SoftDeleteOrder(ctx context.Context, id uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("order_id = ?", id).Delete(&models.OrderItem{}).Error; err != nil {
		return fmt.Errorf("delete order items: %w", err)
	}
	if err := db.Where("order_id = ?", id).Delete(&models.SubOrder{}).Error; err != nil {
		return fmt.Errorf("delete sub orders: %w", err)
	}
	res := db.Where("id = ?", id).Delete(&models.Order{})
	if res.Error != nil {
		return fmt.Errorf("delete order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
