package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/greenbasket/api/internal/platform/httpx"
	"github.com/greenbasket/api/internal/services"
)

// InternalHandlers serves trusted service-to-service endpoints. Callers are
// authenticated by the service auth middleware mounted on the /internal
// group, OIDC when configured and signed-request HMAC otherwise, not by
// Firebase tokens.
type InternalHandlers struct {
	system services.SystemService
	jobs   services.BackgroundJobDispatcher
	orders services.OrderService
}

// NewInternalHandlers constructs handlers for the internal surface.
func NewInternalHandlers(system services.SystemService, jobs services.BackgroundJobDispatcher, orders services.OrderService) *InternalHandlers {
	return &InternalHandlers{
		system: system,
		jobs:   jobs,
		orders: orders,
	}
}

// Routes wires the /internal endpoints onto the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/health", h.healthReport)
	r.Post("/sweeps/reservations", h.enqueueReservationSweep)
	r.Post("/sweeps/pending-orders", h.expirePendingOrders)
}

func (h *InternalHandlers) healthReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("system_service_unavailable", "system service is unavailable", http.StatusServiceUnavailable))
		return
	}

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("health_report_failed", "failed to collect health report", http.StatusInternalServerError))
		return
	}

	payload := readyzPayload{
		Status:    string(report.Status),
		Checks:    make(map[string]readyzCheckPayload, len(report.Checks)),
		Timestamp: formatTime(report.GeneratedAt),
	}
	for name, check := range report.Checks {
		payload.Checks[name] = readyzCheckPayload{
			Status:    string(check.Status),
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
		}
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

type reservationSweepRequest struct {
	OrderIDs []string `json:"order_ids"`
}

// enqueueReservationSweep lets the scheduled reaper hand over orders whose
// stock release failed inline so the sweep worker retries them.
func (h *InternalHandlers) enqueueReservationSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.jobs == nil {
		httpx.WriteError(ctx, w, httpx.NewError("jobs_unavailable", "job dispatcher is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req reservationSweepRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	orderIDs := make([]string, 0, len(req.OrderIDs))
	for _, id := range req.OrderIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			orderIDs = append(orderIDs, trimmed)
		}
	}
	if len(orderIDs) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_ids is required", http.StatusBadRequest))
		return
	}

	if err := h.jobs.EnqueueReservationSweep(ctx, services.ReservationSweepPayload{OrderIDs: orderIDs}); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("enqueue_failed", "failed to enqueue reservation sweep", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusAccepted, map[string]any{
		"status":      "queued",
		"order_count": len(orderIDs),
	})
}

type pendingOrderSweepRequest struct {
	Limit int `json:"limit"`
}

// expirePendingOrders runs the pending-order sweep synchronously; the
// scheduler calling this endpoint owns retries and cadence.
func (h *InternalHandlers) expirePendingOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	var req pendingOrderSweepRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}
	if req.Limit < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit cannot be negative", http.StatusBadRequest))
		return
	}

	result, err := h.orders.ExpirePendingOrders(ctx, services.ExpirePendingOrdersCommand{Limit: req.Limit})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("sweep_failed", "failed to expire pending orders", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":        "completed",
		"expired_count": len(result.Expired),
		"expired":       result.Expired,
		"skipped_count": result.Skipped,
	})
}
