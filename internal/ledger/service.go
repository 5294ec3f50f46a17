package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service records money lifecycle events. Writes happen inside the caller's
// transaction so the event commits together with the state change it describes.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.LedgerEvent, error)
	ListForSubOrder(ctx context.Context, subOrderID uuid.UUID, eventType *enums.LedgerEventType) ([]models.LedgerEvent, error)
}

type service struct {
	repo Repository
}

// RecordInput captures the immutable data a ledger event requires.
type RecordInput struct {
	SubOrder    *models.SubOrder
	ActorID     *uuid.UUID
	Type        enums.LedgerEventType
	AmountCents int64
	GatewayRef  string
	Metadata    map[string]any
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.LedgerEvent, error) {
	if input.SubOrder == nil || input.SubOrder.ID == uuid.Nil {
		return nil, fmt.Errorf("sub order is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger event type %q", input.Type)
	}
	if input.AmountCents < 0 {
		return nil, fmt.Errorf("ledger amount must not be negative")
	}

	event := &models.LedgerEvent{
		OrderID:     input.SubOrder.OrderID,
		SubOrderID:  input.SubOrder.ID,
		VendorID:    input.SubOrder.VendorID,
		ActorID:     input.ActorID,
		Type:        input.Type,
		AmountCents: input.AmountCents,
	}
	if input.GatewayRef != "" {
		ref := input.GatewayRef
		event.GatewayRef = &ref
	}
	if len(input.Metadata) > 0 {
		raw, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode ledger metadata: %w", err)
		}
		event.Metadata = raw
	}

	if err := s.repo.WithTx(tx).Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// ListForSubOrder returns the sub order's money history, oldest first,
// optionally narrowed to one event type.
func (s *service) ListForSubOrder(ctx context.Context, subOrderID uuid.UUID, eventType *enums.LedgerEventType) ([]models.LedgerEvent, error) {
	if subOrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sub order id is required")
	}
	if eventType != nil && !eventType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid ledger event type")
	}
	events, err := s.repo.List(ctx, ListFilter{SubOrderID: subOrderID, Type: eventType})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger events")
	}
	return events, nil
}
