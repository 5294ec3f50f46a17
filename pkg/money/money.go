// Package money computes net/VAT/gross splits and platform fees in integer
// minor currency units. All rounding is banker's rounding to the nearest unit.
package money

import (
	"fmt"

	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	// BasisPointsScale is 100% expressed in basis points.
	BasisPointsScale int64 = 10000
	// MaxAmountCents caps any single amount. Sums of capped values stay
	// inside int64 as long as each running total is checked against it.
	MaxAmountCents int64 = 1_000_000_000_000_000
)

var (
	bpsScale  = decimal.NewFromInt(BasisPointsScale)
	maxAmount = decimal.NewFromInt(MaxAmountCents)
)

// Breakdown is a tax split for one amount. NetCents + VATCents always equals GrossCents.
type Breakdown struct {
	NetCents   int64 `json:"net_cents"`
	VATCents   int64 `json:"vat_cents"`
	GrossCents int64 `json:"gross_cents"`
	RateBps    int64 `json:"vat_rate_bps"`
}

// VATFromGross splits a tax-inclusive amount into net and VAT.
func VATFromGross(grossCents, rateBps int64) (Breakdown, error) {
	if err := validateInputs("gross", grossCents, rateBps); err != nil {
		return Breakdown{}, err
	}
	net := decimal.NewFromInt(grossCents).
		Mul(bpsScale).
		DivRound(bpsScale.Add(decimal.NewFromInt(rateBps)), 16).
		RoundBank(0).
		IntPart()

	b := Breakdown{NetCents: net, VATCents: grossCents - net, GrossCents: grossCents, RateBps: rateBps}
	mustHold(b)
	return b, nil
}

// VATFromNet adds VAT on top of a tax-exclusive amount.
func VATFromNet(netCents, rateBps int64) (Breakdown, error) {
	if err := validateInputs("net", netCents, rateBps); err != nil {
		return Breakdown{}, err
	}
	vat, err := applyBps("vat", netCents, rateBps)
	if err != nil {
		return Breakdown{}, err
	}
	if vat > MaxAmountCents-netCents {
		return Breakdown{}, outOfRange("gross", netCents+vat)
	}

	b := Breakdown{NetCents: netCents, VATCents: vat, GrossCents: netCents + vat, RateBps: rateBps}
	mustHold(b)
	return b, nil
}

// Fee returns the platform fee for a gross amount. The fee is informational
// and never deducted from the captured amount.
func Fee(grossCents, feeBps int64) (int64, error) {
	if err := validateInputs("gross", grossCents, feeBps); err != nil {
		return 0, err
	}
	return applyBps("fee", grossCents, feeBps)
}

// LineAmount multiplies a unit price by a quantity, rejecting products
// beyond MaxAmountCents instead of wrapping.
func LineAmount(unitCents int64, quantity int) (int64, error) {
	if unitCents < 0 || quantity < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "line amount inputs must not be negative")
	}
	if quantity > 0 && unitCents > MaxAmountCents/int64(quantity) {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "line amount exceeds maximum").
			WithDetails(map[string]int64{"unit_price_cents": unitCents, "quantity": int64(quantity)})
	}
	return unitCents * int64(quantity), nil
}

// CheckTotal rejects a running total that grew past MaxAmountCents.
func CheckTotal(label string, cents int64) error {
	if cents < 0 || cents > MaxAmountCents {
		return outOfRange(label, cents)
	}
	return nil
}

// Add sums two breakdowns. A mixed-rate sum carries RateBps 0.
func (b Breakdown) Add(other Breakdown) Breakdown {
	sum := Breakdown{
		NetCents:   b.NetCents + other.NetCents,
		VATCents:   b.VATCents + other.VATCents,
		GrossCents: b.GrossCents + other.GrossCents,
		RateBps:    b.RateBps,
	}
	switch {
	case b == (Breakdown{}):
		sum.RateBps = other.RateBps
	case b.RateBps != other.RateBps:
		sum.RateBps = 0
	}
	return sum
}

// Verify reports a broken split as an invariant error instead of panicking.
// Used on values read back from storage.
func (b Breakdown) Verify() error {
	if b.NetCents+b.VATCents != b.GrossCents {
		return pkgerrors.New(pkgerrors.CodeInvariant, "net + vat does not equal gross").
			WithDetails(map[string]int64{"net_cents": b.NetCents, "vat_cents": b.VATCents, "gross_cents": b.GrossCents})
	}
	if b.NetCents < 0 || b.VATCents < 0 {
		return pkgerrors.New(pkgerrors.CodeInvariant, "negative tax component")
	}
	return nil
}

// FormatRate renders basis points as a percentage string, e.g. 2200 -> "22.00".
func FormatRate(rateBps int64) string {
	return decimal.NewFromInt(rateBps).Div(decimal.NewFromInt(100)).StringFixed(2)
}

func applyBps(label string, amount, bps int64) (int64, error) {
	v := decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(bps)).
		Div(bpsScale).
		RoundBank(0)
	if v.GreaterThan(maxAmount) {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, label+" amount exceeds maximum").
			WithDetails(map[string]string{label + "_cents": v.String()})
	}
	return v.IntPart(), nil
}

func outOfRange(label string, cents int64) error {
	return pkgerrors.New(pkgerrors.CodeValidation, label+" amount out of range").
		WithDetails(map[string]int64{label + "_cents": cents})
}

func validateInputs(label string, amount, bps int64) error {
	if amount < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s amount must not be negative", label)).
			WithDetails(map[string]int64{label + "_cents": amount})
	}
	if amount > MaxAmountCents {
		return outOfRange(label, amount)
	}
	if bps < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "rate must not be negative").
			WithDetails(map[string]int64{"rate_bps": bps})
	}
	return nil
}

// mustHold panics when a freshly computed split is inconsistent. Reaching it
// means the arithmetic above is wrong.
func mustHold(b Breakdown) {
	if err := b.Verify(); err != nil {
		panic(fmt.Sprintf("money: %v (net=%d vat=%d gross=%d)", err, b.NetCents, b.VATCents, b.GrossCents))
	}
}
