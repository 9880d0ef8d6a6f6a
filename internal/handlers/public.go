package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/greenbasket/api/internal/platform/httpx"
	"github.com/greenbasket/api/internal/services"
)

// PublicHandlers serves the unauthenticated catalog surface.
type PublicHandlers struct {
	catalog services.CatalogService
}

// NewPublicHandlers constructs handlers for the public catalog endpoints.
func NewPublicHandlers(catalog services.CatalogService) *PublicHandlers {
	return &PublicHandlers{catalog: catalog}
}

// Routes wires the /public endpoints onto the provided router.
func (h *PublicHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listProducts)
	r.Get("/products/{productID}", h.getProduct)
}

func (h *PublicHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	filter := services.ProductListFilter{
		OnlyActive: true,
		Pagination: paginationFromQuery(r),
	}
	for _, tag := range r.URL.Query()["tag"] {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			filter.Tags = append(filter.Tags, trimmed)
		}
	}
	if strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("include_inactive")), "true") {
		filter.OnlyActive = false
	}

	page, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{
		Products:      items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *PublicHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	product, err := h.catalog.GetProduct(ctx, productRefFromID(productID))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

// productRefFromID maps the URL segment onto the catalog ref namespace.
func productRefFromID(productID string) string {
	if productID == "" {
		return ""
	}
	if strings.HasPrefix(productID, "products/") {
		return productID
	}
	return "products/" + productID
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to read catalog", http.StatusInternalServerError))
	}
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productListResponse struct {
	Products      []productPayload `json:"products"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type productPayload struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	SKU                  string   `json:"sku,omitempty"`
	UnitPrice            int64    `json:"unit_price"`
	Currency             string   `json:"currency"`
	WeightGrams          int64    `json:"weight_grams,omitempty"`
	SubscriptionEligible bool     `json:"subscription_eligible"`
	Active               bool     `json:"active"`
	Description          string   `json:"description,omitempty"`
	Tags                 []string `json:"tags,omitempty"`
	UpdatedAt            string   `json:"updated_at,omitempty"`
}

func buildProductPayload(product services.Product) productPayload {
	return productPayload{
		ID:                   product.ID,
		Name:                 product.Name,
		SKU:                  product.SKU,
		UnitPrice:            product.UnitPrice,
		Currency:             strings.ToUpper(product.Currency),
		WeightGrams:          product.WeightGrams,
		SubscriptionEligible: product.SubscriptionEligible,
		Active:               product.Active,
		Description:          product.Description,
		Tags:                 product.Tags,
		UpdatedAt:            formatTime(product.UpdatedAt),
	}
}
