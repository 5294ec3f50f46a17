package models

import (
	"time"

	"github.com/google/uuid"
)

// VendorPaymentAccount is the merchant location a vendor's holds are placed against.
type VendorPaymentAccount struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VendorID         uuid.UUID `gorm:"column:vendor_id;type:uuid;not null;uniqueIndex"`
	SquareLocationID string    `gorm:"column:square_location_id;not null"`
	Payable          bool      `gorm:"column:payable;not null;default:true"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (VendorPaymentAccount) TableName() string { return "vendor_payment_accounts" }

// ClientPaymentMethod is a stored card on file for a client.
type ClientPaymentMethod struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ClientID         uuid.UUID `gorm:"column:client_id;type:uuid;not null;index"`
	SquareCustomerID string    `gorm:"column:square_customer_id;not null"`
	SquareCardID     string    `gorm:"column:square_card_id;not null"`
	IsDefault        bool      `gorm:"column:is_default;not null;default:false"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (ClientPaymentMethod) TableName() string { return "client_payment_methods" }
