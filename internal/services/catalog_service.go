package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/repositories"
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid input.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogNotFound indicates the requested product does not exist.
	ErrCatalogNotFound = errors.New("catalog service: not found")
	// ErrCatalogUnavailable indicates the catalog backend cannot serve the request.
	ErrCatalogUnavailable = errors.New("catalog service: unavailable")
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Repository repositories.ProductRepository
}

// catalogService resolves authoritative catalog prices. Checkout snapshots
// these values into orders; nothing here mutates the catalog.
type catalogService struct {
	repo repositories.ProductRepository
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	return &catalogService{repo: deps.Repository}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productRef string) (Product, error) {
	if s == nil || s.repo == nil {
		return Product{}, ErrCatalogUnavailable
	}
	ref := strings.TrimSpace(productRef)
	if ref == "" {
		return Product{}, fmt.Errorf("%w: product ref is required", ErrCatalogInvalidInput)
	}
	product, err := s.repo.FindByRef(ctx, ref)
	if err != nil {
		return Product{}, translateCatalogRepoError(err)
	}
	return product, nil
}

// GetProducts resolves a batch of product refs. Every requested ref must
// resolve; a missing product fails the whole call so checkout never prices
// a partial cart.
func (s *catalogService) GetProducts(ctx context.Context, productRefs []string) (map[string]Product, error) {
	if s == nil || s.repo == nil {
		return nil, ErrCatalogUnavailable
	}
	refs := make([]string, 0, len(productRefs))
	seen := make(map[string]struct{}, len(productRefs))
	for _, ref := range productRefs {
		trimmed := strings.TrimSpace(ref)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: product ref is required", ErrCatalogInvalidInput)
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		refs = append(refs, trimmed)
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: at least one product ref is required", ErrCatalogInvalidInput)
	}

	products, err := s.repo.FindByRefs(ctx, refs)
	if err != nil {
		return nil, translateCatalogRepoError(err)
	}
	for _, ref := range refs {
		if _, ok := products[ref]; !ok {
			return nil, fmt.Errorf("%w: product %s", ErrCatalogNotFound, ref)
		}
	}
	return products, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error) {
	if s == nil || s.repo == nil {
		return domain.CursorPage[Product]{}, ErrCatalogUnavailable
	}
	page, err := s.repo.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Product]{}, translateCatalogRepoError(err)
	}
	return page, nil
}

func translateCatalogRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCatalogNotFound
		case repoErr.IsUnavailable():
			return ErrCatalogUnavailable
		}
	}
	return ErrCatalogUnavailable
}

// translateCatalogError maps catalog sentinel errors into cart-facing errors.
func translateCatalogError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCatalogNotFound):
		return fmt.Errorf("%w: product not found", ErrCartInvalidInput)
	case errors.Is(err, ErrCatalogInvalidInput):
		return fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	default:
		return ErrCartUnavailable
	}
}
