package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/greenbasket/api/internal/domain"
	pfirestore "github.com/greenbasket/api/internal/platform/firestore"
	"github.com/greenbasket/api/internal/repositories"
)

const (
	cartCollection = "carts"

	userCartPrefix  = "u_"
	guestCartPrefix = "g_"
)

// CartRepository persists cart documents within Firestore. User and guest
// carts share one collection; the document ID encodes the owner so both
// lookup paths are single-document reads.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// UpsertCart persists the whole cart document. When expectedUpdate is set the
// write is rejected unless the stored document still carries that timestamp.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}

	cartID := cartDocumentID(cart)
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart owner is required")
	}

	now := time.Now().UTC()
	if !cart.UpdatedAt.IsZero() {
		now = cart.UpdatedAt.UTC()
	}
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	doc := cartDocument{
		UserID:    strings.TrimSpace(cart.UserID),
		SessionID: strings.TrimSpace(cart.SessionID),
		Currency:  strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Lines:     encodeCartLines(cart.Lines),
		Notes:     strings.TrimSpace(cart.Notes),
		Metadata:  cloneAnyMap(cart.Metadata),
		CreatedAt: createdAt,
		UpdatedAt: now,
	}

	var (
		result pfirestore.MutationResult
		err    error
	)
	if expectedUpdate == nil || expectedUpdate.IsZero() {
		result, err = r.base.Set(ctx, cartID, doc)
	} else {
		updates := []firestore.Update{
			{Path: "currency", Value: doc.Currency},
			{Path: "lines", Value: doc.Lines},
			{Path: "updatedAt", Value: doc.UpdatedAt},
		}
		if doc.Notes == "" {
			updates = append(updates, firestore.Update{Path: "notes", Value: firestore.Delete})
		} else {
			updates = append(updates, firestore.Update{Path: "notes", Value: doc.Notes})
		}
		if len(doc.Metadata) == 0 {
			updates = append(updates, firestore.Update{Path: "metadata", Value: firestore.Delete})
		} else {
			updates = append(updates, firestore.Update{Path: "metadata", Value: doc.Metadata})
		}
		result, err = r.base.Update(ctx, cartID, updates, firestore.LastUpdateTime(expectedUpdate.UTC()))
	}
	if err != nil {
		return domain.Cart{}, err
	}

	saved := cloneCart(cart)
	saved.ID = cartID
	saved.Currency = doc.Currency
	saved.Notes = doc.Notes
	saved.CreatedAt = createdAt
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// GetUserCart loads the cart owned by the given user.
func (r *CartRepository) GetUserCart(ctx context.Context, userID string) (domain.Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}
	return r.getByDocumentID(ctx, userCartPrefix+uid)
}

// GetGuestCart loads the cart owned by the given anonymous session.
func (r *CartRepository) GetGuestCart(ctx context.Context, sessionID string) (domain.Cart, error) {
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return domain.Cart{}, errors.New("cart repository: session id is required")
	}
	return r.getByDocumentID(ctx, guestCartPrefix+sid)
}

func (r *CartRepository) getByDocumentID(ctx context.Context, cartID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}

	doc, err := r.base.Get(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}

	cart := domain.Cart{
		ID:        doc.ID,
		UserID:    strings.TrimSpace(doc.Data.UserID),
		SessionID: strings.TrimSpace(doc.Data.SessionID),
		Currency:  strings.ToUpper(strings.TrimSpace(doc.Data.Currency)),
		Lines:     decodeCartLines(doc.Data.Lines),
		Notes:     strings.TrimSpace(doc.Data.Notes),
		Metadata:  cloneAnyMap(doc.Data.Metadata),
		UpdatedAt: func() time.Time {
			if !doc.UpdateTime.IsZero() {
				return doc.UpdateTime
			}
			return doc.Data.UpdatedAt
		}(),
		CreatedAt: func() time.Time {
			if !doc.Data.CreatedAt.IsZero() {
				return doc.Data.CreatedAt
			}
			return doc.UpdateTime
		}(),
	}
	return cart, nil
}

// ReplaceLines overwrites the line list for an existing cart.
func (r *CartRepository) ReplaceLines(ctx context.Context, cartID string, lines []domain.CartLine) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(cartID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	now := time.Now().UTC()
	updates := []firestore.Update{
		{Path: "lines", Value: encodeCartLines(lines)},
		{Path: "updatedAt", Value: now},
	}
	if _, err := r.base.Update(ctx, id, updates); err != nil {
		return domain.Cart{}, err
	}
	return r.getByDocumentID(ctx, id)
}

// DeleteCart removes the cart document. Deleting an absent cart is not an error.
func (r *CartRepository) DeleteCart(ctx context.Context, cartID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(cartID)
	if id == "" {
		return errors.New("cart repository: cart id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		wrapped := pfirestore.WrapError("carts.delete", err)
		var repoErr repositories.RepositoryError
		if errors.As(wrapped, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return wrapped
	}
	return nil
}

func cartDocumentID(cart domain.Cart) string {
	if id := strings.TrimSpace(cart.ID); id != "" {
		return id
	}
	if uid := strings.TrimSpace(cart.UserID); uid != "" {
		return userCartPrefix + uid
	}
	if sid := strings.TrimSpace(cart.SessionID); sid != "" {
		return guestCartPrefix + sid
	}
	return ""
}

func cloneCart(cart domain.Cart) domain.Cart {
	dup := cart
	if cart.Lines != nil {
		dup.Lines = make([]domain.CartLine, len(cart.Lines))
		copy(dup.Lines, cart.Lines)
	}
	if cart.Metadata != nil {
		dup.Metadata = cloneAnyMap(cart.Metadata)
	}
	return dup
}

func cloneAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func encodeCartLines(lines []domain.CartLine) []cartLineDocument {
	out := make([]cartLineDocument, 0, len(lines))
	for _, line := range lines {
		doc := cartLineDocument{
			ProductRef:      strings.TrimSpace(line.ProductRef),
			FulfillmentType: string(line.FulfillmentType),
			Quantity:        line.Quantity,
			AddedAt:         line.AddedAt.UTC(),
		}
		if line.UpdatedAt != nil {
			ts := line.UpdatedAt.UTC()
			doc.UpdatedAt = &ts
		}
		out = append(out, doc)
	}
	return out
}

func decodeCartLines(docs []cartLineDocument) []domain.CartLine {
	out := make([]domain.CartLine, 0, len(docs))
	for _, doc := range docs {
		line := domain.CartLine{
			ProductRef:      strings.TrimSpace(doc.ProductRef),
			FulfillmentType: domain.FulfillmentType(strings.TrimSpace(doc.FulfillmentType)),
			Quantity:        doc.Quantity,
			AddedAt:         doc.AddedAt,
		}
		if line.FulfillmentType == "" {
			line.FulfillmentType = domain.FulfillmentSingle
		}
		if doc.UpdatedAt != nil {
			ts := doc.UpdatedAt.UTC()
			line.UpdatedAt = &ts
		}
		out = append(out, line)
	}
	return out
}

type cartDocument struct {
	UserID    string             `firestore:"userId,omitempty"`
	SessionID string             `firestore:"sessionId,omitempty"`
	Currency  string             `firestore:"currency"`
	Lines     []cartLineDocument `firestore:"lines"`
	Notes     string             `firestore:"notes,omitempty"`
	Metadata  map[string]any     `firestore:"metadata,omitempty"`
	CreatedAt time.Time          `firestore:"createdAt"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartLineDocument struct {
	ProductRef      string     `firestore:"productRef"`
	FulfillmentType string     `firestore:"fulfillmentType"`
	Quantity        int        `firestore:"quantity"`
	AddedAt         time.Time  `firestore:"addedAt"`
	UpdatedAt       *time.Time `firestore:"updatedAt,omitempty"`
}

var _ repositories.CartRepository = (*CartRepository)(nil)
