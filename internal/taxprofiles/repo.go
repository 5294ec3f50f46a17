package taxprofiles

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// Repository reads tax profiles and their product/category assignments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindAssigned(ctx context.Context, scope enums.TaxScope, subjectID uuid.UUID) (*models.TaxProfile, error)
	FindDefault(ctx context.Context) (*models.TaxProfile, error)
	Create(ctx context.Context, profile *models.TaxProfile) error
	Assign(ctx context.Context, assignment *models.TaxProfileAssignment) error
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

// FindAssigned returns nil when no assignment exists for the subject.
func (r *repository) FindAssigned(ctx context.Context, scope enums.TaxScope, subjectID uuid.UUID) (*models.TaxProfile, error) {
	var profile models.TaxProfile
	err := r.db.WithContext(ctx).
		Joins("JOIN tax_profile_assignments a ON a.tax_profile_id = tax_profiles.id").
		Where("a.scope = ? AND a.subject_id = ?", scope, subjectID).
		First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// FindDefault returns nil when no global default is configured.
func (r *repository) FindDefault(ctx context.Context) (*models.TaxProfile, error) {
	var profile models.TaxProfile
	err := r.db.WithContext(ctx).Where("is_default = ?", true).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *repository) Create(ctx context.Context, profile *models.TaxProfile) error {
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(profile).Error
}

func (r *repository) Assign(ctx context.Context, assignment *models.TaxProfileAssignment) error {
	if assignment.ID == uuid.Nil {
		assignment.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(assignment).Error
}
