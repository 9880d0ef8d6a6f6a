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

func (h *MeHandlers) addressRoutes(r chi.Router) {
	r.Get("/", h.listAddresses)
	r.Post("/", h.createAddress)
	r.Route("/{addressID}", func(r chi.Router) {
		r.Put("/", h.updateAddress)
		r.Delete("/", h.deleteAddress)
	})
}

func (h *MeHandlers) listAddresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	addresses, err := h.users.ListAddresses(ctx, identity.UID)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	payload := make([]addressPayload, 0, len(addresses))
	for _, addr := range addresses {
		payload = append(payload, buildAddressPayload(addr))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *MeHandlers) createAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxProfileBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	req, err := decodeAddressRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	saved, err := h.users.UpsertAddress(ctx, services.UpsertAddressCommand{
		UserID:    identity.UID,
		Address:   req.toAddress(),
		IsDefault: req.IsDefault,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+saved.ID)
	writeJSONResponse(w, http.StatusCreated, buildAddressPayload(saved))
}

func (h *MeHandlers) updateAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	addressID := strings.TrimSpace(chi.URLParam(r, "addressID"))
	if addressID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "address id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxProfileBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	req, err := decodeAddressRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	saved, err := h.users.UpsertAddress(ctx, services.UpsertAddressCommand{
		UserID:    identity.UID,
		AddressID: &addressID,
		Address:   req.toAddress(),
		IsDefault: req.IsDefault,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildAddressPayload(saved))
}

func (h *MeHandlers) deleteAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	addressID := strings.TrimSpace(chi.URLParam(r, "addressID"))
	if addressID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "address id is required", http.StatusBadRequest))
		return
	}

	err := h.users.DeleteAddress(ctx, services.DeleteAddressCommand{
		UserID:    identity.UID,
		AddressID: addressID,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type meAddressRequest struct {
	Recipient string `json:"recipient"`
	Line1     string `json:"line1"`
	Line2     string `json:"line2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Pincode   string `json:"pincode"`
	Country   string `json:"country"`
	Phone     string `json:"phone"`
	IsDefault bool   `json:"is_default"`
}

func decodeAddressRequest(data []byte) (meAddressRequest, error) {
	var req meAddressRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return meAddressRequest{}, errors.New("invalid JSON payload")
	}
	if strings.TrimSpace(req.Recipient) == "" {
		return meAddressRequest{}, errors.New("recipient is required")
	}
	if strings.TrimSpace(req.Line1) == "" {
		return meAddressRequest{}, errors.New("line1 is required")
	}
	if strings.TrimSpace(req.City) == "" {
		return meAddressRequest{}, errors.New("city is required")
	}
	if strings.TrimSpace(req.Pincode) == "" {
		return meAddressRequest{}, errors.New("pincode is required")
	}
	return req, nil
}

func (req meAddressRequest) toAddress() services.Address {
	return services.Address{
		Recipient: strings.TrimSpace(req.Recipient),
		Line1:     strings.TrimSpace(req.Line1),
		Line2:     strings.TrimSpace(req.Line2),
		City:      strings.TrimSpace(req.City),
		State:     strings.TrimSpace(req.State),
		Pincode:   strings.TrimSpace(req.Pincode),
		Country:   strings.TrimSpace(strings.ToUpper(req.Country)),
		Phone:     strings.TrimSpace(req.Phone),
		IsDefault: req.IsDefault,
	}
}

type addressPayload struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	Line1     string `json:"line1"`
	Line2     string `json:"line2,omitempty"`
	City      string `json:"city"`
	State     string `json:"state,omitempty"`
	Pincode   string `json:"pincode"`
	Country   string `json:"country"`
	Phone     string `json:"phone,omitempty"`
	IsDefault bool   `json:"is_default"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		ID:        addr.ID,
		Recipient: addr.Recipient,
		Line1:     addr.Line1,
		Line2:     addr.Line2,
		City:      addr.City,
		State:     addr.State,
		Pincode:   addr.Pincode,
		Country:   addr.Country,
		Phone:     addr.Phone,
		IsDefault: addr.IsDefault,
		CreatedAt: formatTime(addr.CreatedAt),
		UpdatedAt: formatTime(addr.UpdatedAt),
	}
}
