package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/greenbasket/api/internal/domain"
	"github.com/greenbasket/api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory service: invalid input")
	// ErrInventoryInsufficientStock indicates the requested quantity exceeds availability.
	ErrInventoryInsufficientStock = errors.New("inventory service: insufficient stock")
	// ErrInventoryNotFound indicates the product has no stock record.
	ErrInventoryNotFound = errors.New("inventory service: stock not found")
	// ErrInventoryUnavailable indicates the stock backend cannot serve the request.
	ErrInventoryUnavailable = errors.New("inventory service: unavailable")
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Repository repositories.InventoryRepository
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// inventoryService is the only code path that mutates stock counters. The
// all-or-nothing guarantee lives in the repository transaction; this layer
// normalizes lines and translates errors.
type inventoryService struct {
	repo   repositories.InventoryRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Repository == nil {
		return nil, errors.New("inventory service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryService{
		repo:   deps.Repository,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// Reserve decrements stock for every line or none of them. A single line
// short on stock aborts the whole reservation.
func (s *inventoryService) Reserve(ctx context.Context, cmd InventoryReserveCommand) error {
	if s == nil || s.repo == nil {
		return ErrInventoryUnavailable
	}
	lines, err := normaliseInventoryLines(cmd.Lines)
	if err != nil {
		return err
	}
	ref := strings.TrimSpace(cmd.Ref)
	if ref == "" {
		return fmt.Errorf("%w: reservation ref is required", ErrInventoryInvalidInput)
	}

	_, err = s.repo.Decrement(ctx, repositories.InventoryDecrementRequest{
		Lines: lines,
		Ref:   ref,
		Now:   s.clock(),
	})
	if err != nil {
		s.logger(ctx, "inventory.reserve_failed", map[string]any{
			"ref":   ref,
			"error": err.Error(),
		})
		return translateInventoryRepoError(err)
	}

	s.logger(ctx, "inventory.reserved", map[string]any{
		"ref":       ref,
		"lineCount": len(lines),
	})
	return nil
}

// Release restores stock previously taken by a reservation, typically after
// a failed payment intent or an order cancellation.
func (s *inventoryService) Release(ctx context.Context, cmd InventoryReleaseCommand) error {
	if s == nil || s.repo == nil {
		return ErrInventoryUnavailable
	}
	lines, err := normaliseInventoryLines(cmd.Lines)
	if err != nil {
		return err
	}
	ref := strings.TrimSpace(cmd.Ref)
	if ref == "" {
		return fmt.Errorf("%w: reservation ref is required", ErrInventoryInvalidInput)
	}

	_, err = s.repo.Increment(ctx, repositories.InventoryIncrementRequest{
		Lines:  lines,
		Ref:    ref,
		Reason: strings.TrimSpace(cmd.Reason),
		Now:    s.clock(),
	})
	if err != nil {
		s.logger(ctx, "inventory.release_failed", map[string]any{
			"ref":   ref,
			"error": err.Error(),
		})
		return translateInventoryRepoError(err)
	}

	s.logger(ctx, "inventory.released", map[string]any{
		"ref":       ref,
		"reason":    strings.TrimSpace(cmd.Reason),
		"lineCount": len(lines),
	})
	return nil
}

func (s *inventoryService) GetStock(ctx context.Context, productRef string) (InventoryStock, error) {
	if s == nil || s.repo == nil {
		return InventoryStock{}, ErrInventoryUnavailable
	}
	ref := strings.TrimSpace(productRef)
	if ref == "" {
		return InventoryStock{}, fmt.Errorf("%w: product ref is required", ErrInventoryInvalidInput)
	}
	stock, err := s.repo.GetStock(ctx, ref)
	if err != nil {
		return InventoryStock{}, translateInventoryRepoError(err)
	}
	return stock, nil
}

func (s *inventoryService) ListLowStock(ctx context.Context, filter InventoryLowStockFilter) (domain.CursorPage[InventoryStock], error) {
	if s == nil || s.repo == nil {
		return domain.CursorPage[InventoryStock]{}, ErrInventoryUnavailable
	}
	if filter.Threshold < 0 {
		return domain.CursorPage[InventoryStock]{}, fmt.Errorf("%w: threshold cannot be negative", ErrInventoryInvalidInput)
	}
	page, err := s.repo.ListLowStock(ctx, repositories.InventoryLowStockQuery{
		Threshold: filter.Threshold,
		PageSize:  filter.Pagination.PageSize,
		PageToken: strings.TrimSpace(filter.Pagination.PageToken),
	})
	if err != nil {
		return domain.CursorPage[InventoryStock]{}, translateInventoryRepoError(err)
	}
	return page, nil
}

// normaliseInventoryLines validates quantities, merges duplicate refs and
// sorts by product ref so repository transactions touch documents in a
// stable order.
func normaliseInventoryLines(lines []repositories.InventoryLine) ([]repositories.InventoryLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}
	byRef := make(map[string]int64, len(lines))
	for i, line := range lines {
		ref := strings.TrimSpace(line.ProductRef)
		if ref == "" {
			return nil, fmt.Errorf("%w: line %d product ref is required", ErrInventoryInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d quantity must be positive", ErrInventoryInvalidInput, i)
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

func translateInventoryRepoError(err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrInventoryInsufficientStock, invErr.ProductRef)
		case repositories.InventoryErrorStockNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryNotFound, invErr.ProductRef)
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrInventoryNotFound
		case repoErr.IsUnavailable():
			return ErrInventoryUnavailable
		}
	}
	return ErrInventoryUnavailable
}
