package enums

import "fmt"

// PricingConvention says whether cart unit prices already include VAT.
type PricingConvention string

const (
	PricingGrossInclusive PricingConvention = "gross_inclusive"
	PricingNetExclusive   PricingConvention = "net_exclusive"
)

// IsValid reports whether the value is a known PricingConvention.
func (p PricingConvention) IsValid() bool {
	return p == PricingGrossInclusive || p == PricingNetExclusive
}

// ParsePricingConvention converts raw input into a PricingConvention.
func ParsePricingConvention(value string) (PricingConvention, error) {
	p := PricingConvention(value)
	if !p.IsValid() {
		return "", fmt.Errorf("invalid pricing convention %q", value)
	}
	return p, nil
}

// TaxScope identifies what a tax profile assignment overrides.
type TaxScope string

const (
	TaxScopeProduct  TaxScope = "product"
	TaxScopeCategory TaxScope = "category"
)

// IsValid reports whether the value is a known TaxScope.
func (s TaxScope) IsValid() bool {
	return s == TaxScopeProduct || s == TaxScopeCategory
}
