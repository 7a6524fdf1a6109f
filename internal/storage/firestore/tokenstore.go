package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

const (
	usersCollection      = "users"
	devicesSubcollection = "devices"
)

// TokenStore implements dispatch.TokenStore on Firestore.
//
// Layout: users/{userID}/devices/{deviceID}, where each device document
// duplicates the owner's population so that fan-out can run a single
// collection-group query instead of walking every user.
type TokenStore struct {
	client *firestore.Client
}

func NewTokenStore(client *firestore.Client) *TokenStore {
	return &TokenStore{client: client}
}

// deviceRecord is the internal DB representation. Written by the device
// registration flow; this service only reads and deletes.
type deviceRecord struct {
	Token      string    `firestore:"token"`
	Population string    `firestore:"population"`
	UpdatedAt  time.Time `firestore:"updated_at"`
}

func (s *TokenStore) TokensForPopulation(ctx context.Context, population string) ([]string, error) {
	iter := s.client.CollectionGroup(devicesSubcollection).
		Where("population", "==", population).
		Documents(ctx)
	defer iter.Stop()

	return collectTokens(iter)
}

func (s *TokenStore) TokensForIndividual(ctx context.Context, userID string) ([]string, error) {
	iter := s.client.Collection(usersCollection).Doc(userID).
		Collection(devicesSubcollection).
		Documents(ctx)
	defer iter.Stop()

	return collectTokens(iter)
}

// PruneToken deletes every device document holding the token, whichever user
// owns it. Stale associations across several owners are all cleared; zero
// matches is a no-op. Each document delete is atomic, so concurrent prunes
// of the same token are safe.
func (s *TokenStore) PruneToken(ctx context.Context, token string) error {
	iter := s.client.CollectionGroup(devicesSubcollection).
		Where("token", "==", token).
		Documents(ctx)
	defer iter.Stop()

	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("firestore token lookup failed: %w", err)
		}
		if _, err := snap.Ref.Delete(ctx); err != nil {
			return fmt.Errorf("firestore device delete failed: %w", err)
		}
	}
}

func collectTokens(iter *firestore.DocumentIterator) ([]string, error) {
	tokens := make([]string, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var record deviceRecord
		if err := snap.DataTo(&record); err != nil {
			continue
		}
		if record.Token != "" {
			tokens = append(tokens, record.Token)
		}
	}
	return tokens, nil
}
