package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	"github.com/angelmondragon/fulfillment-engine/pkg/types"
)

// SubOrderSeed describes one vendor slice to insert with SeedOrder.
type SubOrderSeed struct {
	VendorID          uuid.UUID
	GrossCents        int64
	PaymentStatus     enums.PaymentStatus
	FulfillmentStatus enums.FulfillmentStatus
	HoldRef           string
	ExpiresAt         *time.Time
}

// SeedOrder inserts an order with one sub order per seed. Amounts use a 22%
// split so the net + vat == gross check holds.
func SeedOrder(t testing.TB, conn *gorm.DB, status enums.OrderStatus, clientID uuid.UUID, seeds ...SubOrderSeed) (*models.Order, []models.SubOrder) {
	t.Helper()

	order := &models.Order{
		ID:                uuid.New(),
		OrderNumber:       "ORD-TEST-" + uuid.NewString()[:8],
		ClientID:          clientID,
		SubmittedBy:       clientID,
		Status:            status,
		Currency:          "EUR",
		PricingConvention: enums.PricingGrossInclusive,
		DeliveryAddress:   types.Address{Line1: "Via Roma 1", City: "Milano", PostalCode: "20100", Country: "IT"},
	}
	for _, seed := range seeds {
		order.TotalCents += seed.GrossCents
	}
	if err := conn.Omit("SubOrders").Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	subs := make([]models.SubOrder, 0, len(seeds))
	for i, seed := range seeds {
		vendor := seed.VendorID
		if vendor == uuid.Nil {
			vendor = uuid.New()
		}
		paymentStatus := seed.PaymentStatus
		if paymentStatus == "" {
			paymentStatus = enums.PaymentStatusNone
		}
		fulfillment := seed.FulfillmentStatus
		if fulfillment == "" {
			fulfillment = enums.FulfillmentStatusPending
		}
		net := seed.GrossCents * 10000 / 12200
		sub := models.SubOrder{
			ID:                     uuid.New(),
			OrderID:                order.ID,
			VendorID:               vendor,
			Currency:               "EUR",
			SubtotalCents:          seed.GrossCents,
			NetTotalCents:          net,
			VATTotalCents:          seed.GrossCents - net,
			GrossTotalCents:        seed.GrossCents,
			VATRateBps:             2200,
			PaymentStatus:          paymentStatus,
			FulfillmentStatus:      fulfillment,
			AuthorizationExpiresAt: seed.ExpiresAt,
			CreatedAt:              time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		}
		if seed.HoldRef != "" {
			ref := seed.HoldRef
			sub.PaymentHoldRef = &ref
		}
		if err := conn.Omit("Items").Create(&sub).Error; err != nil {
			t.Fatalf("seed sub order %d: %v", i, err)
		}
		subs = append(subs, sub)
	}
	order.SubOrders = subs
	return order, subs
}

// SeedPaymentSetup stores a default card for the client and a payable account
// for every vendor.
func SeedPaymentSetup(t testing.TB, conn *gorm.DB, clientID uuid.UUID, vendorIDs ...uuid.UUID) {
	t.Helper()
	card := &models.ClientPaymentMethod{
		ID:               uuid.New(),
		ClientID:         clientID,
		SquareCustomerID: "cust_" + clientID.String()[:8],
		SquareCardID:     "ccof_" + clientID.String()[:8],
		IsDefault:        true,
	}
	if err := conn.Create(card).Error; err != nil {
		t.Fatalf("seed payment method: %v", err)
	}
	for i, vendorID := range vendorIDs {
		account := &models.VendorPaymentAccount{
			ID:               uuid.New(),
			VendorID:         vendorID,
			SquareLocationID: fmt.Sprintf("LOC_%d", i+1),
			Payable:          true,
		}
		if err := conn.Create(account).Error; err != nil {
			t.Fatalf("seed vendor account: %v", err)
		}
	}
}
