package db

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
)

// CompareAndSwap applies updates to the row identified by id only while
// column still holds one of the values in from. A row that moved on, or
// never existed, yields a STATE_CONFLICT "transition not allowed" error.
func CompareAndSwap(ctx context.Context, conn *gorm.DB, model any, id uuid.UUID, column string, from any, updates map[string]any) error {
	res := conn.WithContext(ctx).
		Model(model).
		Where("id = ?", id).
		Where(column+" IN ?", from).
		Updates(updates)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "conditional update")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "transition not allowed").
			WithDetails(map[string]any{"id": id.String(), "expected_" + column: from})
	}
	return nil
}

// IsTransitionConflict reports whether err came from a lost CompareAndSwap.
func IsTransitionConflict(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodeStateConflict)
}
