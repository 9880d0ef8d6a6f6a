package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/greenbasket/api/internal/domain"
)

type memUserRepo struct {
	profiles  map[string]domain.UserProfile
	updateErr error
}

func newMemUserRepo(seed ...domain.UserProfile) *memUserRepo {
	repo := &memUserRepo{profiles: map[string]domain.UserProfile{}}
	for _, profile := range seed {
		repo.profiles[profile.ID] = profile
	}
	return repo
}

func (r *memUserRepo) FindByID(_ context.Context, userID string) (domain.UserProfile, error) {
	profile, ok := r.profiles[userID]
	if !ok {
		return domain.UserProfile{}, stubRepoError{notFound: true}
	}
	return profile, nil
}

func (r *memUserRepo) UpdateProfile(_ context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	if r.updateErr != nil {
		return domain.UserProfile{}, r.updateErr
	}
	r.profiles[profile.ID] = profile
	return profile, nil
}

type memAddressRepo struct {
	addresses map[string][]domain.Address
	nextID    int
	upsertErr error
}

func newMemAddressRepo() *memAddressRepo {
	return &memAddressRepo{addresses: map[string][]domain.Address{}}
}

func (r *memAddressRepo) List(_ context.Context, userID string) ([]domain.Address, error) {
	out := make([]domain.Address, len(r.addresses[userID]))
	copy(out, r.addresses[userID])
	return out, nil
}

func (r *memAddressRepo) Upsert(_ context.Context, userID string, addressID *string, addr domain.Address) (domain.Address, error) {
	if r.upsertErr != nil {
		return domain.Address{}, r.upsertErr
	}
	if addressID != nil {
		for i, existing := range r.addresses[userID] {
			if existing.ID == *addressID {
				addr.ID = existing.ID
				addr.CreatedAt = existing.CreatedAt
				r.addresses[userID][i] = addr
				return addr, nil
			}
		}
		return domain.Address{}, stubRepoError{notFound: true}
	}
	r.nextID++
	addr.ID = fmt.Sprintf("addr_%d", r.nextID)
	addr.CreatedAt = testNow.Add(time.Duration(r.nextID) * time.Minute)
	r.addresses[userID] = append(r.addresses[userID], addr)
	return addr, nil
}

func (r *memAddressRepo) Delete(_ context.Context, userID string, addressID string) error {
	entries := r.addresses[userID]
	for i, existing := range entries {
		if existing.ID == addressID {
			r.addresses[userID] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return stubRepoError{notFound: true}
}

func (r *memAddressRepo) Get(_ context.Context, userID string, addressID string) (domain.Address, error) {
	for _, existing := range r.addresses[userID] {
		if existing.ID == addressID {
			return existing, nil
		}
	}
	return domain.Address{}, stubRepoError{notFound: true}
}

type userServiceFixture struct {
	service   UserService
	users     *memUserRepo
	addresses *memAddressRepo
	audit     *stubAuditService
}

func newUserServiceFixture(t *testing.T, seed ...domain.UserProfile) *userServiceFixture {
	t.Helper()
	fixture := &userServiceFixture{
		users:     newMemUserRepo(seed...),
		addresses: newMemAddressRepo(),
		audit:     &stubAuditService{},
	}
	service, err := NewUserService(UserServiceDeps{
		Users:     fixture.users,
		Addresses: fixture.addresses,
		Audit:     fixture.audit,
		Clock:     func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewUserService: %v", err)
	}
	fixture.service = service
	return fixture
}

func seedProfile() domain.UserProfile {
	return domain.UserProfile{
		ID:          "user_1",
		DisplayName: "Asha",
		Email:       "asha@example.com",
		IsActive:    true,
		CreatedAt:   testNow.Add(-24 * time.Hour),
		UpdatedAt:   testNow.Add(-24 * time.Hour),
	}
}

func strPtr(s string) *string { return &s }

func TestUpdateProfileNormalizesDisplayNameAndPhone(t *testing.T) {
	fixture := newUserServiceFixture(t, seedProfile())

	profile, err := fixture.service.UpdateProfile(context.Background(), UpdateProfileCommand{
		UserID:      "user_1",
		ActorID:     "user_1",
		DisplayName: strPtr("  Asha \t Rao "),
		PhoneNumber: strPtr("98765 43210"),
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if profile.DisplayName != "Asha Rao" {
		t.Fatalf("expected collapsed display name, got %q", profile.DisplayName)
	}
	if profile.PhoneNumber != "+919876543210" {
		t.Fatalf("expected E.164 phone, got %q", profile.PhoneNumber)
	}
	if !profile.UpdatedAt.Equal(testNow) {
		t.Fatalf("expected UpdatedAt stamped, got %v", profile.UpdatedAt)
	}
	if len(fixture.audit.records) != 1 || fixture.audit.records[0].event != "user.profile_updated" {
		t.Fatalf("expected one profile_updated audit record, got %#v", fixture.audit.records)
	}
}

func TestUpdateProfileNoChangesSkipsWrite(t *testing.T) {
	seed := seedProfile()
	fixture := newUserServiceFixture(t, seed)
	fixture.users.updateErr = stubRepoError{unavailable: true}

	profile, err := fixture.service.UpdateProfile(context.Background(), UpdateProfileCommand{
		UserID:      "user_1",
		DisplayName: strPtr(seed.DisplayName),
	})
	if err != nil {
		t.Fatalf("no-change update must not hit the repository: %v", err)
	}
	if !profile.UpdatedAt.Equal(seed.UpdatedAt) {
		t.Fatalf("UpdatedAt must be untouched on no-op, got %v", profile.UpdatedAt)
	}
}

func TestUpdateProfileRejectsBadPhone(t *testing.T) {
	fixture := newUserServiceFixture(t, seedProfile())

	_, err := fixture.service.UpdateProfile(context.Background(), UpdateProfileCommand{
		UserID:      "user_1",
		PhoneNumber: strPtr("12345"),
	})
	if !errors.Is(err, ErrUserInvalidInput) {
		t.Fatalf("expected ErrUserInvalidInput, got %v", err)
	}
}

func TestUpdateProfileUnknownUser(t *testing.T) {
	fixture := newUserServiceFixture(t)

	_, err := fixture.service.UpdateProfile(context.Background(), UpdateProfileCommand{
		UserID:      "user_missing",
		DisplayName: strPtr("Someone"),
	})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func validAddress() domain.Address {
	return domain.Address{
		Recipient: "Asha Rao",
		Line1:     "14 MG Road",
		City:      "Bengaluru",
		State:     "KA",
		Pincode:   "560001",
		Phone:     "+91 98765-43210",
	}
}

func TestUpsertAddressFirstEntryBecomesDefault(t *testing.T) {
	fixture := newUserServiceFixture(t, seedProfile())

	saved, err := fixture.service.UpsertAddress(context.Background(), UpsertAddressCommand{
		UserID:  "user_1",
		Address: validAddress(),
	})
	if err != nil {
		t.Fatalf("UpsertAddress: %v", err)
	}
	if !saved.IsDefault {
		t.Fatalf("first address must become the default")
	}
	if saved.Country != "IN" {
		t.Fatalf("expected country default IN, got %q", saved.Country)
	}
	if saved.Phone != "+919876543210" {
		t.Fatalf("expected normalized phone, got %q", saved.Phone)
	}
}

func TestUpsertAddressNewDefaultClearsOld(t *testing.T) {
	fixture := newUserServiceFixture(t, seedProfile())
	ctx := context.Background()

	first, err := fixture.service.UpsertAddress(ctx, UpsertAddressCommand{UserID: "user_1", Address: validAddress()})
	if err != nil {
		t.Fatalf("seed first address: %v", err)
	}

	second := validAddress()
	second.Line1 = "7 Residency Road"
	if _, err := fixture.service.UpsertAddress(ctx, UpsertAddressCommand{UserID: "user_1", Address: second, IsDefault: true}); err != nil {
		t.Fatalf("upsert second address: %v", err)
	}

	stored, err := fixture.addresses.Get(ctx, "user_1", first.ID)
	if err != nil {
		t.Fatalf("get first address: %v", err)
	}
	if stored.IsDefault {
		t.Fatalf("old default must be cleared when a new default is set")
	}
}

func TestUpsertAddressEnforcesBookLimit(t *testing.T) {
	fixture := newUserServiceFixture(t, seedProfile())
	ctx := context.Background()

	for i := 0; i < maxAddressesPerUser; i++ {
		addr := validAddress()
		addr.Line1 = fmt.Sprintf("%d MG Road", i+1)
		if _, err := fixture.service.UpsertAddress(ctx, UpsertAddressCommand{UserID: "user_1", Address: addr}); err != nil {
			t.Fatalf("seed address %d: %v", i, err)
		}
	}

	_, err := fixture.service.UpsertAddress(ctx, UpsertAddressCommand{UserID: "user_1", Address: validAddress()})
	if !errors.Is(err, ErrUserInvalidInput) {
		t.Fatalf("expected ErrUserInvalidInput past the limit, got %v", err)
	}
}

func TestUpsertAddressRejectsBadPincode(t *testing.T) {
	fixture := newUserServiceFixture(t, seedProfile())

	addr := validAddress()
	addr.Pincode = "56001"
	_, err := fixture.service.UpsertAddress(context.Background(), UpsertAddressCommand{UserID: "user_1", Address: addr})
	if !errors.Is(err, ErrUserInvalidInput) {
		t.Fatalf("expected ErrUserInvalidInput for short pincode, got %v", err)
	}
}

func TestDeleteDefaultAddressPromotesOldest(t *testing.T) {
	fixture := newUserServiceFixture(t, seedProfile())
	ctx := context.Background()

	first, err := fixture.service.UpsertAddress(ctx, UpsertAddressCommand{UserID: "user_1", Address: validAddress()})
	if err != nil {
		t.Fatalf("seed first address: %v", err)
	}
	second := validAddress()
	second.Line1 = "7 Residency Road"
	if _, err := fixture.service.UpsertAddress(ctx, UpsertAddressCommand{UserID: "user_1", Address: second}); err != nil {
		t.Fatalf("seed second address: %v", err)
	}

	if err := fixture.service.DeleteAddress(ctx, DeleteAddressCommand{UserID: "user_1", AddressID: first.ID}); err != nil {
		t.Fatalf("DeleteAddress: %v", err)
	}

	remaining, err := fixture.service.ListAddresses(ctx, "user_1")
	if err != nil {
		t.Fatalf("ListAddresses: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected one remaining address, got %d", len(remaining))
	}
	if !remaining[0].IsDefault {
		t.Fatalf("remaining address must be promoted to default")
	}
}

func TestDeleteAddressUnknownID(t *testing.T) {
	fixture := newUserServiceFixture(t, seedProfile())

	err := fixture.service.DeleteAddress(context.Background(), DeleteAddressCommand{UserID: "user_1", AddressID: "addr_missing"})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
