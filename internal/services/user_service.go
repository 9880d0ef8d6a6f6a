package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/greenbasket/api/internal/platform/textutil"
	"github.com/greenbasket/api/internal/repositories"
)

const (
	maxDisplayNameLength = 80
	maxAddressesPerUser  = 10
	pincodeLength        = 6
)

var (
	// ErrUserInvalidInput indicates the caller supplied invalid input.
	ErrUserInvalidInput = errors.New("user service: invalid input")
	// ErrUserNotFound indicates the requested user or address does not exist.
	ErrUserNotFound = errors.New("user service: not found")
	// ErrUserConflict indicates the profile changed concurrently.
	ErrUserConflict = errors.New("user service: conflict")
	// ErrUserUnavailable indicates a backend failure.
	ErrUserUnavailable = errors.New("user service: unavailable")
)

// UserServiceDeps bundles constructor inputs for the user profile service.
type UserServiceDeps struct {
	Users     repositories.UserRepository
	Addresses repositories.AddressRepository
	Audit     AuditLogService
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type userService struct {
	users     repositories.UserRepository
	addresses repositories.AddressRepository
	audit     AuditLogService
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("user service: address repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &userService{
		users:     deps.Users,
		addresses: deps.Addresses,
		audit:     deps.Audit,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

func (s *userService) GetProfile(ctx context.Context, userID string) (UserProfile, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return UserProfile{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	profile, err := s.users.FindByID(ctx, id)
	if err != nil {
		return UserProfile{}, s.mapRepositoryError(err)
	}
	return profile, nil
}

func (s *userService) UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (UserProfile, error) {
	id := strings.TrimSpace(cmd.UserID)
	if id == "" {
		return UserProfile{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	if cmd.DisplayName == nil && cmd.PhoneNumber == nil {
		return UserProfile{}, fmt.Errorf("%w: no fields to update", ErrUserInvalidInput)
	}

	profile, err := s.users.FindByID(ctx, id)
	if err != nil {
		return UserProfile{}, s.mapRepositoryError(err)
	}

	changes := map[string]any{}
	if cmd.DisplayName != nil {
		name := textutil.CleanDisplayText(*cmd.DisplayName)
		if err := validateDisplayName(name); err != nil {
			return UserProfile{}, err
		}
		if name != profile.DisplayName {
			changes["displayName"] = name
			profile.DisplayName = name
		}
	}
	if cmd.PhoneNumber != nil {
		phone, err := normalisePhoneNumber(*cmd.PhoneNumber)
		if err != nil {
			return UserProfile{}, err
		}
		if phone != profile.PhoneNumber {
			changes["phoneNumber"] = phone
			profile.PhoneNumber = phone
		}
	}
	if len(changes) == 0 {
		return profile, nil
	}

	profile.UpdatedAt = s.clock()
	saved, err := s.users.UpdateProfile(ctx, profile)
	if err != nil {
		return UserProfile{}, s.mapRepositoryError(err)
	}

	s.appendAudit(ctx, "user.profile_updated", cmd.ActorID, id, changes)
	return saved, nil
}

func (s *userService) ListAddresses(ctx context.Context, userID string) ([]Address, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	addresses, err := s.addresses.List(ctx, id)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return addresses, nil
}

// UpsertAddress creates or replaces one entry in the user's address book.
// At most one address is the default; marking a new default clears the flag
// on the rest.
func (s *userService) UpsertAddress(ctx context.Context, cmd UpsertAddressCommand) (Address, error) {
	id := strings.TrimSpace(cmd.UserID)
	if id == "" {
		return Address{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}

	addr, err := sanitizeAddress(cmd.Address)
	if err != nil {
		return Address{}, err
	}
	addr.IsDefault = cmd.IsDefault

	existing, err := s.addresses.List(ctx, id)
	if err != nil {
		return Address{}, s.mapRepositoryError(err)
	}
	if cmd.AddressID == nil && len(existing) >= maxAddressesPerUser {
		return Address{}, fmt.Errorf("%w: address book is limited to %d entries", ErrUserInvalidInput, maxAddressesPerUser)
	}
	// First address becomes the default regardless of the flag.
	if len(existing) == 0 {
		addr.IsDefault = true
	}

	saved, err := s.addresses.Upsert(ctx, id, cmd.AddressID, addr)
	if err != nil {
		return Address{}, s.mapRepositoryError(err)
	}

	if saved.IsDefault {
		s.clearOtherDefaults(ctx, id, existing, saved.ID)
	}

	s.appendAudit(ctx, "user.address_upserted", id, id, map[string]any{
		"addressId": saved.ID,
		"isDefault": saved.IsDefault,
	})
	return saved, nil
}

func (s *userService) DeleteAddress(ctx context.Context, cmd DeleteAddressCommand) error {
	userID := strings.TrimSpace(cmd.UserID)
	addressID := strings.TrimSpace(cmd.AddressID)
	if userID == "" || addressID == "" {
		return fmt.Errorf("%w: user id and address id are required", ErrUserInvalidInput)
	}

	addr, err := s.addresses.Get(ctx, userID, addressID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if err := s.addresses.Delete(ctx, userID, addressID); err != nil {
		return s.mapRepositoryError(err)
	}

	// Deleting the default promotes the oldest remaining address.
	if addr.IsDefault {
		remaining, listErr := s.addresses.List(ctx, userID)
		if listErr == nil && len(remaining) > 0 {
			next := remaining[0]
			for _, candidate := range remaining[1:] {
				if candidate.CreatedAt.Before(next.CreatedAt) {
					next = candidate
				}
			}
			next.IsDefault = true
			if _, upErr := s.addresses.Upsert(ctx, userID, &next.ID, next); upErr != nil {
				s.logger(ctx, "user.default_promotion_failed", map[string]any{
					"userId":    userID,
					"addressId": next.ID,
					"error":     upErr.Error(),
				})
			}
		}
	}

	s.appendAudit(ctx, "user.address_deleted", userID, userID, map[string]any{
		"addressId": addressID,
	})
	return nil
}

func (s *userService) clearOtherDefaults(ctx context.Context, userID string, existing []Address, keepID string) {
	for _, addr := range existing {
		if addr.ID == keepID || !addr.IsDefault {
			continue
		}
		addr.IsDefault = false
		if _, err := s.addresses.Upsert(ctx, userID, &addr.ID, addr); err != nil {
			s.logger(ctx, "user.default_clear_failed", map[string]any{
				"userId":    userID,
				"addressId": addr.ID,
				"error":     err.Error(),
			})
		}
	}
}

func (s *userService) appendAudit(ctx context.Context, event, actorID, userID string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditLogRecord{
		Actor:      strings.TrimSpace(actorID),
		Event:      event,
		SubjectRef: "users/" + userID,
		Severity:   "info",
		OccurredAt: s.clock(),
		Metadata:   metadata,
	})
}

func (s *userService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrUserNotFound
		case repoErr.IsConflict():
			return ErrUserConflict
		case repoErr.IsUnavailable():
			return ErrUserUnavailable
		}
	}
	return ErrUserUnavailable
}

func validateDisplayName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: display name must not be empty", ErrUserInvalidInput)
	}
	if len(name) > maxDisplayNameLength {
		return fmt.Errorf("%w: display name must be %d characters or fewer", ErrUserInvalidInput, maxDisplayNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: display name contains control characters", ErrUserInvalidInput)
		}
	}
	return nil
}

// normalisePhoneNumber accepts Indian mobile numbers with or without the
// +91 prefix and stores them in E.164 form.
func normalisePhoneNumber(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if cleaned == "" {
		return "", nil
	}
	digits := strings.TrimPrefix(cleaned, "+91")
	if digits == cleaned {
		digits = strings.TrimPrefix(cleaned, "0")
	}
	if len(digits) != 10 || !allDigits(digits) {
		return "", fmt.Errorf("%w: phone number must be a 10 digit Indian mobile number", ErrUserInvalidInput)
	}
	return "+91" + digits, nil
}

func sanitizeAddress(addr Address) (Address, error) {
	addr.Recipient = strings.TrimSpace(addr.Recipient)
	addr.Line1 = strings.TrimSpace(addr.Line1)
	addr.Line2 = strings.TrimSpace(addr.Line2)
	addr.City = strings.TrimSpace(addr.City)
	addr.State = strings.TrimSpace(addr.State)
	addr.Pincode = strings.TrimSpace(addr.Pincode)
	addr.Country = strings.TrimSpace(addr.Country)
	addr.Phone = strings.TrimSpace(addr.Phone)

	if addr.Recipient == "" {
		return Address{}, fmt.Errorf("%w: recipient is required", ErrUserInvalidInput)
	}
	if addr.Line1 == "" {
		return Address{}, fmt.Errorf("%w: address line 1 is required", ErrUserInvalidInput)
	}
	if addr.City == "" {
		return Address{}, fmt.Errorf("%w: city is required", ErrUserInvalidInput)
	}
	if len(addr.Pincode) != pincodeLength || !allDigits(addr.Pincode) {
		return Address{}, fmt.Errorf("%w: pincode must be %d digits", ErrUserInvalidInput, pincodeLength)
	}
	if addr.Country == "" {
		addr.Country = "IN"
	}
	if addr.Phone != "" {
		phone, err := normalisePhoneNumber(addr.Phone)
		if err != nil {
			return Address{}, err
		}
		addr.Phone = phone
	}
	return addr, nil
}

func allDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
