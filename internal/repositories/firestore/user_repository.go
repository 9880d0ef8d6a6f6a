package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/greenbasket/api/internal/domain"
	pfirestore "github.com/greenbasket/api/internal/platform/firestore"
	"github.com/greenbasket/api/internal/repositories"
)

const userCollection = "users"

// UserRepository persists user profiles in Firestore.
type UserRepository struct {
	base     *pfirestore.BaseRepository[userDocument]
	provider *pfirestore.Provider
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}

	base := pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil)
	return &UserRepository{base: base, provider: provider}, nil
}

// FindByID loads the user profile by UID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.UserProfile{}, errors.New("user id is required")
	}

	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.UserProfile{}, err
	}

	profile := toDomainProfile(doc.Data)
	profile.ID = doc.ID
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = doc.CreateTime
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = doc.UpdateTime
	}
	return profile, nil
}

// UpdateProfile upserts the user profile document.
func (r *UserRepository) UpdateProfile(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(profile.ID) == "" {
		return domain.UserProfile{}, errors.New("profile id is required")
	}

	now := time.Now().UTC()
	doc := fromDomainProfile(profile, now)
	if _, err := r.base.Set(ctx, profile.ID, doc); err != nil {
		return domain.UserProfile{}, err
	}
	saved := toDomainProfile(doc)
	saved.ID = profile.ID
	return saved, nil
}

type userDocument struct {
	UID         string    `firestore:"uid"`
	DisplayName string    `firestore:"displayName"`
	Email       string    `firestore:"email"`
	PhoneNumber string    `firestore:"phoneNumber"`
	Roles       []string  `firestore:"roles"`
	IsActive    bool      `firestore:"isActive"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func toDomainProfile(doc userDocument) domain.UserProfile {
	return domain.UserProfile{
		DisplayName: doc.DisplayName,
		Email:       strings.TrimSpace(doc.Email),
		PhoneNumber: strings.TrimSpace(doc.PhoneNumber),
		Roles:       cloneStringSlice(doc.Roles),
		IsActive:    doc.IsActive,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

func fromDomainProfile(profile domain.UserProfile, now time.Time) userDocument {
	doc := userDocument{
		UID:         profile.ID,
		DisplayName: strings.TrimSpace(profile.DisplayName),
		Email:       strings.ToLower(strings.TrimSpace(profile.Email)),
		PhoneNumber: strings.TrimSpace(profile.PhoneNumber),
		Roles:       normaliseRoles(profile.Roles),
		IsActive:    profile.IsActive,
		CreatedAt:   profile.CreatedAt,
		UpdatedAt:   now,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.Roles == nil {
		doc.Roles = []string{}
	}
	return doc
}

func cloneStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func normaliseRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	uniq := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		trimmed := strings.ToLower(strings.TrimSpace(role))
		if trimmed == "" {
			continue
		}
		uniq[trimmed] = struct{}{}
	}
	if len(uniq) == 0 {
		return nil
	}
	normalised := make([]string, 0, len(uniq))
	for role := range uniq {
		normalised = append(normalised, role)
	}
	sort.Strings(normalised)
	return normalised
}

// Ensure the concrete type satisfies the repository interface.
var _ repositories.UserRepository = (*UserRepository)(nil)

// CollectionName exposes the Firestore collection for migration tooling.
func (r *UserRepository) CollectionName() string {
	return userCollection
}

// DocumentPath constructs the document path for the provided user id.
func (r *UserRepository) DocumentPath(userID string) string {
	return fmt.Sprintf("%s/%s", userCollection, strings.TrimSpace(userID))
}
