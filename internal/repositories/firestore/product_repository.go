package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/greenbasket/api/internal/domain"
	pfirestore "github.com/greenbasket/api/internal/platform/firestore"
	"github.com/greenbasket/api/internal/repositories"
)

const (
	productCollection = "products"
)

// ProductRepository reads catalog documents consulted for price snapshots.
type ProductRepository struct {
	base     *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &ProductRepository{base: base, provider: provider}, nil
}

// FindByRef loads a single product by its catalog reference.
func (r *ProductRepository) FindByRef(ctx context.Context, productRef string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	ref := strings.TrimSpace(productRef)
	if ref == "" {
		return domain.Product{}, errors.New("product repository: product ref is required")
	}

	doc, err := r.base.Get(ctx, ref)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByRefs loads a batch of products in one round trip. Missing refs are
// simply absent from the result map; the caller decides whether that is an
// error.
func (r *ProductRepository) FindByRefs(ctx context.Context, productRefs []string) (map[string]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}

	refs := make([]string, 0, len(productRefs))
	seen := make(map[string]struct{}, len(productRefs))
	for _, ref := range productRefs {
		trimmed := strings.TrimSpace(ref)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		refs = append(refs, trimmed)
	}
	if len(refs) == 0 {
		return map[string]domain.Product{}, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("products.findByRefs", err)
	}

	docRefs := make([]*firestore.DocumentRef, 0, len(refs))
	for _, ref := range refs {
		docRefs = append(docRefs, client.Collection(productCollection).Doc(ref))
	}

	snaps, err := client.GetAll(ctx, docRefs)
	if err != nil {
		return nil, pfirestore.WrapError("products.findByRefs", err)
	}

	out := make(map[string]domain.Product, len(snaps))
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		out[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return out, nil
}

// List returns a page of catalog products.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 25
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
	}

	query := client.Collection(productCollection).Query
	if filter.OnlyActive {
		query = query.Where("active", "==", true)
	}
	if len(filter.Tags) > 0 {
		query = query.Where("tags", "array-contains-any", filter.Tags)
	}
	query = query.OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		query = query.StartAfter(token)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(products) > pageSize
	if hasMore {
		products = products[:pageSize]
	}
	var nextToken string
	if hasMore && len(products) > 0 {
		nextToken = products[len(products)-1].ID
	}

	return domain.CursorPage[domain.Product]{Items: products, NextPageToken: nextToken}, nil
}

type productDocument struct {
	Name                 string    `firestore:"name"`
	SKU                  string    `firestore:"sku"`
	UnitPrice            int64     `firestore:"unitPrice"`
	Currency             string    `firestore:"currency"`
	WeightGrams          int64     `firestore:"weightGrams"`
	SubscriptionEligible bool      `firestore:"subscriptionEligible"`
	Active               bool      `firestore:"active"`
	Description          string    `firestore:"description,omitempty"`
	Tags                 []string  `firestore:"tags,omitempty"`
	CreatedAt            time.Time `firestore:"createdAt"`
	UpdatedAt            time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:                   id,
		Name:                 strings.TrimSpace(d.Name),
		SKU:                  strings.TrimSpace(d.SKU),
		UnitPrice:            d.UnitPrice,
		Currency:             strings.ToUpper(strings.TrimSpace(d.Currency)),
		WeightGrams:          d.WeightGrams,
		SubscriptionEligible: d.SubscriptionEligible,
		Active:               d.Active,
		Description:          strings.TrimSpace(d.Description),
		Tags:                 append([]string(nil), d.Tags...),
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
