package firestore

import (
	"context"
	"errors"
	"fmt"
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

const addressCollectionPattern = "users/%s/addresses"

// AddressRepository persists user delivery addresses in Firestore.
type AddressRepository struct {
	provider *pfirestore.Provider
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider}, nil
}

// List returns all addresses for the specified user ordered by most recent update.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("updatedAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var results []domain.Address
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("addresses.list", err)
		}
		doc, err := decodeAddressDocument(snap)
		if err != nil {
			return nil, err
		}
		results = append(results, doc)
	}
	return results, nil
}

// Upsert creates or updates an address. When the saved address is flagged as
// default the previous default for the user is cleared in the same
// transaction.
func (r *AddressRepository) Upsert(ctx context.Context, userID string, addressID *string, addr domain.Address) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}

	var saved domain.Address
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var docRef *firestore.DocumentRef
		if addressID != nil {
			if id := strings.TrimSpace(*addressID); id != "" {
				docRef = coll.Doc(id)
			}
		}
		if docRef == nil {
			docRef = coll.NewDoc()
		}

		var doc addressDocument
		snapshot, err := tx.Get(docRef)
		switch status.Code(err) {
		case codes.NotFound:
			// new document, leave doc zeroed
		case codes.OK:
			if err := snapshot.DataTo(&doc); err != nil {
				return fmt.Errorf("decode address %s: %w", docRef.ID, err)
			}
		default:
			return err
		}

		now := time.Now().UTC()
		if doc.CreatedAt.IsZero() {
			if !addr.CreatedAt.IsZero() {
				doc.CreatedAt = addr.CreatedAt.UTC()
			} else {
				doc.CreatedAt = now
			}
		}
		doc.UpdatedAt = now
		doc.Recipient = strings.TrimSpace(addr.Recipient)
		doc.Line1 = strings.TrimSpace(addr.Line1)
		doc.Line2 = strings.TrimSpace(addr.Line2)
		doc.City = strings.TrimSpace(addr.City)
		doc.State = strings.TrimSpace(addr.State)
		doc.Pincode = strings.TrimSpace(addr.Pincode)
		doc.Country = strings.TrimSpace(addr.Country)
		doc.Phone = strings.TrimSpace(addr.Phone)
		doc.IsDefault = addr.IsDefault

		if err := tx.Set(docRef, doc); err != nil {
			return err
		}

		if doc.IsDefault {
			if err := r.clearDefault(tx, coll, docRef.ID); err != nil {
				return err
			}
		}

		saved = doc.toDomain(docRef.ID)
		return nil
	})
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.upsert", err)
	}
	return saved, nil
}

// Delete removes the specified address document.
func (r *AddressRepository) Delete(ctx context.Context, userID string, addressID string) error {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return errors.New("address repository: address id is required")
	}
	if _, err := coll.Doc(id).Delete(ctx); err != nil {
		return pfirestore.WrapError("addresses.delete", err)
	}
	return nil
}

func (r *AddressRepository) Get(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}
	snap, err := coll.Doc(id).Get(ctx)
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.get", err)
	}
	return decodeAddressDocument(snap)
}

func (r *AddressRepository) collection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("address repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("address repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf(addressCollectionPattern, uid)
	return client.Collection(path), nil
}

func (r *AddressRepository) clearDefault(tx *firestore.Transaction, coll *firestore.CollectionRef, currentID string) error {
	query := coll.Where("isDefault", "==", true).OrderBy("updatedAt", firestore.Desc).Limit(10)
	iter := tx.Documents(query)
	snaps, err := iter.GetAll()
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return err
	}
	for _, snap := range snaps {
		if snap.Ref.ID == currentID {
			continue
		}
		if err := tx.Update(snap.Ref, []firestore.Update{{Path: "isDefault", Value: false}}); err != nil {
			return err
		}
	}
	return nil
}

func decodeAddressDocument(snapshot *firestore.DocumentSnapshot) (domain.Address, error) {
	var doc addressDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return domain.Address{}, fmt.Errorf("decode address %s: %w", snapshot.Ref.ID, err)
	}
	return doc.toDomain(snapshot.Ref.ID), nil
}

type addressDocument struct {
	Recipient string    `firestore:"recipient"`
	Line1     string    `firestore:"line1"`
	Line2     string    `firestore:"line2,omitempty"`
	City      string    `firestore:"city"`
	State     string    `firestore:"state,omitempty"`
	Pincode   string    `firestore:"pincode"`
	Country   string    `firestore:"country"`
	Phone     string    `firestore:"phone,omitempty"`
	IsDefault bool      `firestore:"isDefault"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d addressDocument) toDomain(id string) domain.Address {
	return domain.Address{
		ID:        id,
		Recipient: d.Recipient,
		Line1:     d.Line1,
		Line2:     d.Line2,
		City:      d.City,
		State:     d.State,
		Pincode:   d.Pincode,
		Country:   d.Country,
		Phone:     d.Phone,
		IsDefault: d.IsDefault,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.AddressRepository = (*AddressRepository)(nil)
