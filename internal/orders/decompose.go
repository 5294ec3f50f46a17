package orders

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/taxprofiles"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/money"
)

const maxLineQuantity = 100000

type vendorGroup struct {
	vendorID uuid.UUID
	lines    []CartLine
}

// groupByVendor keeps vendors in first-seen cart order so sub orders are
// created deterministically.
func groupByVendor(lines []CartLine) []vendorGroup {
	index := map[uuid.UUID]int{}
	groups := []vendorGroup{}
	for _, line := range lines {
		i, ok := index[line.VendorID]
		if !ok {
			i = len(groups)
			index[line.VendorID] = i
			groups = append(groups, vendorGroup{vendorID: line.VendorID})
		}
		groups[i].lines = append(groups[i].lines, line)
	}
	return groups
}

func validateDecomposeInput(input DecomposeInput) error {
	if input.ClientID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "client id required")
	}
	if len(input.Lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart has no lines")
	}
	if err := input.DeliveryAddress.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery address")
	}
	for i, line := range input.Lines {
		details := map[string]any{"line": i}
		switch {
		case line.VendorID == uuid.Nil:
			return pkgerrors.New(pkgerrors.CodeValidation, "line vendor required").WithDetails(details)
		case line.ProductID == uuid.Nil:
			return pkgerrors.New(pkgerrors.CodeValidation, "line product required").WithDetails(details)
		case line.Quantity <= 0 || line.Quantity > maxLineQuantity:
			return pkgerrors.New(pkgerrors.CodeValidation, "line quantity out of range").WithDetails(details)
		case line.UnitPriceCents < 0:
			return pkgerrors.New(pkgerrors.CodeValidation, "line price must not be negative").WithDetails(details)
		case strings.TrimSpace(line.Name) == "":
			return pkgerrors.New(pkgerrors.CodeValidation, "line name required").WithDetails(details)
		}
	}
	return nil
}

// splitLine applies the pricing convention to one line amount.
func splitLine(convention enums.PricingConvention, amountCents, rateBps int64) (money.Breakdown, error) {
	if convention == enums.PricingNetExclusive {
		return money.VATFromNet(amountCents, rateBps)
	}
	return money.VATFromGross(amountCents, rateBps)
}

// buildSubOrder computes the immutable snapshot for one vendor group. The
// dominant profile is the one carrying the largest gross share; ties keep the
// first profile seen.
func (s *service) buildSubOrder(ctx context.Context, resolver taxprofiles.Resolver, order *models.Order, group vendorGroup) (*models.SubOrder, error) {
	sub := &models.SubOrder{
		ID:                uuid.New(),
		OrderID:           order.ID,
		VendorID:          group.vendorID,
		Currency:          order.Currency,
		PaymentStatus:     enums.PaymentStatusNone,
		FulfillmentStatus: enums.FulfillmentStatusPending,
		FeeRateBps:        s.settings.PlatformFeeBps,
	}

	var total money.Breakdown
	grossByProfile := map[uuid.UUID]int64{}
	rateByProfile := map[uuid.UUID]int64{}
	profileOrder := []uuid.UUID{}

	for _, line := range group.lines {
		profile, err := resolver.Resolve(ctx, line.ProductID, line.CategoryID)
		if err != nil {
			return nil, err
		}
		amount, err := money.LineAmount(line.UnitPriceCents, line.Quantity)
		if err != nil {
			return nil, err
		}
		breakdown, err := splitLine(order.PricingConvention, amount, profile.RateBps)
		if err != nil {
			return nil, err
		}
		sub.Items = append(sub.Items, models.OrderItem{
			ID:             uuid.New(),
			OrderID:        order.ID,
			SubOrderID:     sub.ID,
			ProductID:      line.ProductID,
			CategoryID:     line.CategoryID,
			Name:           strings.TrimSpace(line.Name),
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			NetCents:       breakdown.NetCents,
			VATCents:       breakdown.VATCents,
			GrossCents:     breakdown.GrossCents,
			VATRateBps:     breakdown.RateBps,
			TaxProfileID:   profile.ProfileID,
		})
		total = total.Add(breakdown)
		if err := money.CheckTotal("sub order gross", total.GrossCents); err != nil {
			return nil, err
		}

		if _, seen := grossByProfile[profile.ProfileID]; !seen {
			profileOrder = append(profileOrder, profile.ProfileID)
		}
		grossByProfile[profile.ProfileID] += breakdown.GrossCents
		rateByProfile[profile.ProfileID] = profile.RateBps
	}

	if err := total.Verify(); err != nil {
		return nil, err
	}

	dominant := profileOrder[0]
	for _, id := range profileOrder[1:] {
		if grossByProfile[id] > grossByProfile[dominant] {
			dominant = id
		}
	}

	fee, err := money.Fee(total.GrossCents, s.settings.PlatformFeeBps)
	if err != nil {
		return nil, err
	}

	sub.NetTotalCents = total.NetCents
	sub.VATTotalCents = total.VATCents
	sub.GrossTotalCents = total.GrossCents
	sub.SubtotalCents = total.GrossCents
	sub.VATRateBps = rateByProfile[dominant]
	sub.TaxProfileID = &dominant
	sub.FeeCents = fee
	return sub, nil
}

// verifyTotals checks the order total against its sub orders in memory.
func verifyTotals(order *models.Order) error {
	var sum int64
	for _, sub := range order.SubOrders {
		if err := (money.Breakdown{NetCents: sub.NetTotalCents, VATCents: sub.VATTotalCents, GrossCents: sub.GrossTotalCents}).Verify(); err != nil {
			return err
		}
		sum += sub.SubtotalCents
	}
	if sum != order.TotalCents {
		return pkgerrors.New(pkgerrors.CodeInvariant, "order total does not equal sum of sub order subtotals").
			WithDetails(map[string]int64{"total_cents": order.TotalCents, "sum_cents": sum})
	}
	return nil
}

func (s *service) decomposeTx(ctx context.Context, tx *gorm.DB, input DecomposeInput, groups []vendorGroup) (*models.Order, error) {
	repo := s.repo.WithTx(tx)
	resolver, err := taxprofiles.NewResolver(s.taxRepo, tx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	number, err := newOrderNumber(now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order number")
	}

	submittedBy := input.Actor.UserID
	if submittedBy == uuid.Nil {
		submittedBy = input.ClientID
	}
	order := &models.Order{
		ID:                uuid.New(),
		OrderNumber:       number,
		ClientID:          input.ClientID,
		SubmittedBy:       submittedBy,
		Status:            enums.OrderStatusPendingConfirmation,
		Currency:          input.Currency,
		PricingConvention: input.PricingConvention,
		DeliveryAddress:   input.DeliveryAddress,
	}

	for _, group := range groups {
		sub, err := s.buildSubOrder(ctx, resolver, order, group)
		if err != nil {
			return nil, err
		}
		order.SubOrders = append(order.SubOrders, *sub)
		order.TotalCents += sub.SubtotalCents
		if err := money.CheckTotal("order total", order.TotalCents); err != nil {
			return nil, err
		}
	}
	if err := verifyTotals(order); err != nil {
		return nil, err
	}

	if err := repo.CreateOrder(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	for i := range order.SubOrders {
		sub := &order.SubOrders[i]
		if err := repo.CreateSubOrder(ctx, sub); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create sub order")
		}
		if err := repo.CreateItems(ctx, sub.Items); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order items")
		}
	}

	persisted, err := repo.SumSubtotals(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum sub order subtotals")
	}
	if persisted != order.TotalCents {
		return nil, pkgerrors.New(pkgerrors.CodeInvariant, "persisted subtotals do not match order total").
			WithDetails(map[string]int64{"total_cents": order.TotalCents, "persisted_cents": persisted})
	}

	if err := s.emitOrderCreated(ctx, tx, input.Actor, order); err != nil {
		return nil, err
	}
	return order, nil
}
