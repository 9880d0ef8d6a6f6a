package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/greenbasket/api/internal/domain"
	pfirestore "github.com/greenbasket/api/internal/platform/firestore"
	"github.com/greenbasket/api/internal/repositories"
)

const (
	inventoryCollection = "inventory"
)

// InventoryRepository stores one stock-counter document per product. All
// mutations run inside Firestore transactions so the check-and-decrement is
// a single atomic unit; a transaction touching multiple lines either
// commits all decrements or none of them.
type InventoryRepository struct {
	provider *pfirestore.Provider
	stocks   *pfirestore.BaseRepository[stockDocument]
}

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	stocks := pfirestore.NewBaseRepository[stockDocument](provider, inventoryCollection, nil, nil)
	return &InventoryRepository{provider: provider, stocks: stocks}, nil
}

// Decrement atomically checks and decrements the stock counters for every
// line. The first line with insufficient stock aborts the transaction, so
// no partial decrement survives.
func (r *InventoryRepository) Decrement(ctx context.Context, req repositories.InventoryDecrementRequest) (repositories.InventoryDecrementResult, error) {
	if r == nil || r.provider == nil {
		return repositories.InventoryDecrementResult{}, errors.New("inventory repository not initialised")
	}
	lines, err := normaliseInventoryLines(req.Lines)
	if err != nil {
		return repositories.InventoryDecrementResult{}, err
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result repositories.InventoryDecrementResult
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		stocks := make(map[string]domain.InventoryStock, len(lines))
		for _, line := range lines {
			stockRef, err := r.stocks.DocumentRef(ctx, line.ProductRef)
			if err != nil {
				return err
			}
			snap, err := tx.Get(stockRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, line.ProductRef, fmt.Sprintf("stock %s not found", line.ProductRef), err)
				}
				return err
			}
			var doc stockDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode inventory stock %s: %w", line.ProductRef, err)
			}
			if doc.Stock < line.Quantity {
				return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, line.ProductRef, fmt.Sprintf("insufficient stock for %s", line.ProductRef), nil)
			}
			doc.Stock -= line.Quantity
			doc.UpdatedAt = now
			if err := tx.Set(stockRef, doc); err != nil {
				return err
			}
			stocks[line.ProductRef] = doc.toDomain(line.ProductRef)
		}
		result = repositories.InventoryDecrementResult{Stocks: stocks}
		return nil
	})
	if err != nil {
		return repositories.InventoryDecrementResult{}, wrapInventoryError("inventory.decrement", err)
	}
	return result, nil
}

// Increment restores stock released by a failed or cancelled checkout.
func (r *InventoryRepository) Increment(ctx context.Context, req repositories.InventoryIncrementRequest) (repositories.InventoryIncrementResult, error) {
	if r == nil || r.provider == nil {
		return repositories.InventoryIncrementResult{}, errors.New("inventory repository not initialised")
	}
	lines, err := normaliseInventoryLines(req.Lines)
	if err != nil {
		return repositories.InventoryIncrementResult{}, err
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result repositories.InventoryIncrementResult
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		stocks := make(map[string]domain.InventoryStock, len(lines))
		for _, line := range lines {
			stockRef, err := r.stocks.DocumentRef(ctx, line.ProductRef)
			if err != nil {
				return err
			}
			var doc stockDocument
			snap, err := tx.Get(stockRef)
			if err != nil {
				if status.Code(err) != codes.NotFound {
					return err
				}
				doc = stockDocument{ProductRef: line.ProductRef}
			} else if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode inventory stock %s: %w", line.ProductRef, err)
			}
			doc.Stock += line.Quantity
			doc.UpdatedAt = now
			if err := tx.Set(stockRef, doc); err != nil {
				return err
			}
			stocks[line.ProductRef] = doc.toDomain(line.ProductRef)
		}
		result = repositories.InventoryIncrementResult{Stocks: stocks}
		return nil
	})
	if err != nil {
		return repositories.InventoryIncrementResult{}, wrapInventoryError("inventory.increment", err)
	}
	return result, nil
}

// GetStock returns the stock counter for a single product.
func (r *InventoryRepository) GetStock(ctx context.Context, productRef string) (domain.InventoryStock, error) {
	if r == nil || r.stocks == nil {
		return domain.InventoryStock{}, errors.New("inventory repository not initialised")
	}
	ref := strings.TrimSpace(productRef)
	if ref == "" {
		return domain.InventoryStock{}, errors.New("inventory get stock: product ref is required")
	}

	doc, err := r.stocks.Get(ctx, ref)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.InventoryStock{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, ref, fmt.Sprintf("stock %s not found", ref), err)
		}
		return domain.InventoryStock{}, wrapInventoryError("inventory.getStock", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListLowStock returns the stock counters at or below the given threshold.
func (r *InventoryRepository) ListLowStock(ctx context.Context, query repositories.InventoryLowStockQuery) (domain.CursorPage[domain.InventoryStock], error) {
	if r == nil || r.stocks == nil {
		return domain.CursorPage[domain.InventoryStock]{}, errors.New("inventory repository not initialised")
	}

	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	threshold := int64(query.Threshold)
	if threshold <= 0 {
		threshold = 10
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.InventoryStock]{}, wrapInventoryError("inventory.lowStock", err)
	}

	firestoreQuery := client.Collection(inventoryCollection).Query.
		Where("stock", "<=", threshold).
		OrderBy("stock", firestore.Asc).
		OrderBy("productRef", firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(query.PageToken); token != "" {
		tok, err := decodeInventoryPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.InventoryStock]{}, wrapInventoryError("inventory.lowStock", err)
		}
		firestoreQuery = firestoreQuery.StartAfter(tok.Stock, tok.ProductRef)
	}

	iter := firestoreQuery.Documents(ctx)
	defer iter.Stop()

	var stocks []domain.InventoryStock
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.InventoryStock]{}, wrapInventoryError("inventory.lowStock", err)
		}
		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.InventoryStock]{}, fmt.Errorf("decode inventory stock %s: %w", snap.Ref.ID, err)
		}
		stocks = append(stocks, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(stocks) > pageSize
	if hasMore {
		stocks = stocks[:pageSize]
	}
	var nextToken string
	if hasMore && len(stocks) > 0 {
		last := stocks[len(stocks)-1]
		encoded, err := encodeInventoryPageToken(inventoryPageToken{ProductRef: last.ProductRef, Stock: last.Stock})
		if err != nil {
			return domain.CursorPage[domain.InventoryStock]{}, wrapInventoryError("inventory.lowStock", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.InventoryStock]{
		Items:         stocks,
		NextPageToken: nextToken,
	}, nil
}

// normaliseInventoryLines aggregates duplicate product refs and fixes the
// iteration order so concurrent transactions touch documents in the same
// sequence.
func normaliseInventoryLines(lines []repositories.InventoryLine) ([]repositories.InventoryLine, error) {
	if len(lines) == 0 {
		return nil, errors.New("inventory: at least one line is required")
	}
	byRef := make(map[string]int64, len(lines))
	for _, line := range lines {
		ref := strings.TrimSpace(line.ProductRef)
		if ref == "" {
			return nil, repositories.NewInventoryError(repositories.InventoryErrorUnknown, "", "inventory: product ref is required", nil)
		}
		if line.Quantity <= 0 {
			return nil, repositories.NewInventoryError(repositories.InventoryErrorUnknown, ref, fmt.Sprintf("inventory: quantity for %s must be > 0", ref), nil)
		}
		byRef[ref] += line.Quantity
	}
	out := make([]repositories.InventoryLine, 0, len(byRef))
	for ref, qty := range byRef {
		out = append(out, repositories.InventoryLine{ProductRef: ref, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductRef < out[j].ProductRef })
	return out, nil
}

// Helper structures ---------------------------------------------------------

type stockDocument struct {
	ProductRef string    `firestore:"productRef"`
	Stock      int64     `firestore:"stock"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func (s stockDocument) toDomain(id string) domain.InventoryStock {
	ref := strings.TrimSpace(s.ProductRef)
	if ref == "" {
		ref = id
	}
	return domain.InventoryStock{
		ProductRef: ref,
		Stock:      s.Stock,
		UpdatedAt:  s.UpdatedAt,
	}
}

type inventoryPageToken struct {
	ProductRef string
	Stock      int64
}

func encodeInventoryPageToken(token inventoryPageToken) (string, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	if err := enc.Encode(token); err != nil {
		return "", fmt.Errorf("encode inventory page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeInventoryPageToken(encoded string) (*inventoryPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode inventory page token: %w", err)
	}
	var token inventoryPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode inventory page token json: %w", err)
	}
	return &token, nil
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)
