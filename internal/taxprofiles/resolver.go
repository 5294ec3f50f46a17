package taxprofiles

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
)

// Source reports which level of the fallback chain produced a profile.
type Source string

const (
	SourceProduct  Source = "product"
	SourceCategory Source = "category"
	SourceDefault  Source = "default"
)

// Resolved is the profile chosen for one product.
type Resolved struct {
	ProfileID uuid.UUID
	RateBps   int64
	Source    Source
}

// Resolver resolves the effective profile for a product. A Resolver is
// scoped to one decomposition and caches lookups for its lifetime.
type Resolver interface {
	Resolve(ctx context.Context, productID uuid.UUID, categoryID *uuid.UUID) (Resolved, error)
}

type resolver struct {
	repo       Repository
	products   map[uuid.UUID]*models.TaxProfile
	categories map[uuid.UUID]*models.TaxProfile
	def        *models.TaxProfile
	defLoaded  bool
}

// NewResolver returns a request-scoped resolver. tx may be nil.
func NewResolver(repo Repository, tx *gorm.DB) (Resolver, error) {
	if repo == nil {
		return nil, fmt.Errorf("tax profile repository required")
	}
	return &resolver{
		repo:       repo.WithTx(tx),
		products:   map[uuid.UUID]*models.TaxProfile{},
		categories: map[uuid.UUID]*models.TaxProfile{},
	}, nil
}

func (r *resolver) Resolve(ctx context.Context, productID uuid.UUID, categoryID *uuid.UUID) (Resolved, error) {
	if productID == uuid.Nil {
		return Resolved{}, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}

	profile, err := r.lookup(ctx, r.products, enums.TaxScopeProduct, productID)
	if err != nil {
		return Resolved{}, err
	}
	if profile != nil {
		return resolved(profile, SourceProduct), nil
	}

	if categoryID != nil && *categoryID != uuid.Nil {
		profile, err = r.lookup(ctx, r.categories, enums.TaxScopeCategory, *categoryID)
		if err != nil {
			return Resolved{}, err
		}
		if profile != nil {
			return resolved(profile, SourceCategory), nil
		}
	}

	if !r.defLoaded {
		r.def, err = r.repo.FindDefault(ctx)
		if err != nil {
			return Resolved{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load default tax profile")
		}
		r.defLoaded = true
	}
	if r.def == nil {
		return Resolved{}, pkgerrors.New(pkgerrors.CodeValidation, "no tax profile resolves for product").
			WithDetails(map[string]any{"product_id": productID.String()})
	}
	return resolved(r.def, SourceDefault), nil
}

func (r *resolver) lookup(ctx context.Context, cache map[uuid.UUID]*models.TaxProfile, scope enums.TaxScope, id uuid.UUID) (*models.TaxProfile, error) {
	if profile, ok := cache[id]; ok {
		return profile, nil
	}
	profile, err := r.repo.FindAssigned(ctx, scope, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tax profile assignment")
	}
	cache[id] = profile
	return profile, nil
}

func resolved(p *models.TaxProfile, source Source) Resolved {
	return Resolved{ProfileID: p.ID, RateBps: p.RateBps, Source: source}
}
