package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// TaxProfile is a named VAT rate. At most one profile is the global default.
type TaxProfile struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	RateBps   int64     `gorm:"column:rate_bps;not null"`
	IsDefault bool      `gorm:"column:is_default;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (TaxProfile) TableName() string { return "tax_profiles" }

// TaxProfileAssignment binds a profile to a product or a category.
type TaxProfileAssignment struct {
	ID           uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TaxProfileID uuid.UUID      `gorm:"column:tax_profile_id;type:uuid;not null"`
	Scope        enums.TaxScope `gorm:"column:scope;not null"`
	SubjectID    uuid.UUID      `gorm:"column:subject_id;type:uuid;not null"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (TaxProfileAssignment) TableName() string { return "tax_profile_assignments" }
