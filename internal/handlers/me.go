package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/greenbasket/api/internal/platform/auth"
	"github.com/greenbasket/api/internal/platform/httpx"
	"github.com/greenbasket/api/internal/services"
)

const maxProfileBodySize = 64 * 1024

var (
	errBodyTooLarge     = errors.New("request body too large")
	errEmptyBody        = errors.New("request body is required")
	errNoEditableFields = errors.New("no editable fields provided")
)

// MeHandlers exposes authenticated profile and address book endpoints for
// the current user.
type MeHandlers struct {
	authn *auth.Authenticator
	users services.UserService
}

// NewMeHandlers constructs handlers enforcing Firebase authentication before invoking the user service.
func NewMeHandlers(authn *auth.Authenticator, users services.UserService) *MeHandlers {
	return &MeHandlers{
		authn: authn,
		users: users,
	}
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getProfile)
	r.Put("/", h.updateProfile)
	r.Route("/addresses", h.addressRoutes)
}

func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	profile, err := h.users.GetProfile(ctx, identity.UID)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, meResponse{Profile: buildProfilePayload(profile, identity)})
}

func (h *MeHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
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

	updateReq, err := parseUpdateProfileRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.UpdateProfileCommand{
		UserID:      identity.UID,
		ActorID:     identity.UID,
		DisplayName: updateReq.displayName,
		PhoneNumber: updateReq.phoneNumber,
	}

	updated, err := h.users.UpdateProfile(ctx, cmd)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, meResponse{Profile: buildProfilePayload(updated, identity)})
}

func (h *MeHandlers) requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

type meResponse struct {
	Profile meProfilePayload `json:"profile"`
}

type meProfilePayload struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Email       string   `json:"email"`
	PhoneNumber string   `json:"phone_number,omitempty"`
	Roles       []string `json:"roles"`
	IsActive    bool     `json:"is_active"`
	CreatedAt   string   `json:"created_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

type updateProfileRequest struct {
	displayName *string
	phoneNumber *string
}

func parseUpdateProfileRequest(data []byte) (updateProfileRequest, error) {
	var req updateProfileRequest
	if len(strings.TrimSpace(string(data))) == 0 {
		return req, errEmptyBody
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return req, fmt.Errorf("invalid JSON payload: %w", err)
	}
	if len(raw) == 0 {
		return req, errNoEditableFields
	}

	for key, value := range raw {
		switch key {
		case "display_name":
			if isJSONNull(value) {
				return req, errors.New("display_name must not be null")
			}
			var name string
			if err := json.Unmarshal(value, &name); err != nil {
				return req, errors.New("display_name must be a string")
			}
			req.displayName = &name
		case "phone_number":
			if isJSONNull(value) {
				empty := ""
				req.phoneNumber = &empty
				continue
			}
			var phone string
			if err := json.Unmarshal(value, &phone); err != nil {
				return req, errors.New("phone_number must be a string or null")
			}
			req.phoneNumber = &phone
		default:
			return req, fmt.Errorf("field %q is not editable", key)
		}
	}

	if req.displayName == nil && req.phoneNumber == nil {
		return req, errNoEditableFields
	}
	return req, nil
}

func buildProfilePayload(profile services.UserProfile, identity *auth.Identity) meProfilePayload {
	email := strings.TrimSpace(strings.ToLower(profile.Email))
	if email == "" && identity != nil {
		email = strings.TrimSpace(strings.ToLower(identity.Email))
	}

	roles := slices.Clone(profile.Roles)
	if len(roles) == 0 && identity != nil {
		roles = slices.Clone(identity.Roles)
	}
	if len(roles) == 0 {
		roles = []string{}
	}

	return meProfilePayload{
		ID:          strings.TrimSpace(profile.ID),
		DisplayName: profile.DisplayName,
		Email:       email,
		PhoneNumber: profile.PhoneNumber,
		Roles:       roles,
		IsActive:    profile.IsActive,
		CreatedAt:   formatTime(profile.CreatedAt),
		UpdatedAt:   formatTime(profile.UpdatedAt),
	}
}

func writeUserError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrUserInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("profile_not_found", "profile not found", http.StatusNotFound))
	case errors.Is(err, services.ErrUserConflict):
		httpx.WriteError(ctx, w, httpx.NewError("profile_conflict", "profile has changed; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrUserUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("profile_error", "failed to process profile request", http.StatusInternalServerError))
	}
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxProfileBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func isJSONNull(value json.RawMessage) bool {
	return strings.EqualFold(strings.TrimSpace(string(value)), "null")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
