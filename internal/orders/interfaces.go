package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
)

// Repository defines persistence operations for orders, sub orders and items.
// Every status change goes through a conditional update on the current state.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateOrder(ctx context.Context, order *models.Order) error
	CreateSubOrder(ctx context.Context, subOrder *models.SubOrder) error
	CreateItems(ctx context.Context, items []models.OrderItem) error
	SumSubtotals(ctx context.Context, orderID uuid.UUID) (int64, error)

	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindOrderDetail(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindSubOrder(ctx context.Context, id uuid.UUID) (*models.SubOrder, error)
	ListSubOrders(ctx context.Context, orderID uuid.UUID) ([]models.SubOrder, error)
	ListDeliveries(ctx context.Context, orderID uuid.UUID) ([]models.Delivery, error)
	ListOrders(ctx context.Context, filters ListFilters, params pagination.Params) (*OrderList, error)

	TransitionOrder(ctx context.Context, id uuid.UUID, from []enums.OrderStatus, updates map[string]any) error
	TransitionPayment(ctx context.Context, subOrderID uuid.UUID, from []enums.PaymentStatus, updates map[string]any) error
	TransitionFulfillment(ctx context.Context, subOrderID uuid.UUID, from []enums.FulfillmentStatus, updates map[string]any) error
	UpdateSubOrder(ctx context.Context, subOrderID uuid.UUID, updates map[string]any) error

	SoftDeleteOrder(ctx context.Context, id uuid.UUID) error
}
