// Package firestore implements the service's storage contracts on Google
// Cloud Firestore.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-campus-notify/pkg/notify"
)

const notificationsCollection = "notifications"

// NotificationStore implements notify.Store on Firestore. The typed filter
// predicate cannot be expressed fully in Firestore's query dialect (substring
// search and read-set membership in particular), so the store pushes down the
// indexable clauses, streams candidates newest-first, and evaluates the full
// predicate in memory before pagination.
type NotificationStore struct {
	client *firestore.Client
}

func NewNotificationStore(client *firestore.Client) *NotificationStore {
	return &NotificationStore{client: client}
}

// notificationDoc is the internal DB representation.
type notificationDoc struct {
	Title         string    `firestore:"title"`
	Message       string    `firestore:"message"`
	RecipientType string    `firestore:"recipient_type"`
	RecipientID   string    `firestore:"recipient_id,omitempty"`
	RecipientName string    `firestore:"recipient_name,omitempty"`
	CreatedBy     string    `firestore:"created_by"`
	CreatedAt     time.Time `firestore:"created_at"`
	Status        string    `firestore:"status"`
	ReadBy        []string  `firestore:"read_by"`
}

func docFrom(n *notify.Notification) notificationDoc {
	readBy := n.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	return notificationDoc{
		Title:         n.Title,
		Message:       n.Message,
		RecipientType: string(n.RecipientType),
		RecipientID:   n.RecipientID,
		RecipientName: n.RecipientName,
		CreatedBy:     n.CreatedBy,
		CreatedAt:     n.CreatedAt,
		Status:        string(n.Status),
		ReadBy:        readBy,
	}
}

func (d notificationDoc) toDomain(id string) *notify.Notification {
	readBy := d.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	return &notify.Notification{
		ID:            id,
		Title:         d.Title,
		Message:       d.Message,
		RecipientType: notify.RecipientType(d.RecipientType),
		RecipientID:   d.RecipientID,
		RecipientName: d.RecipientName,
		CreatedBy:     d.CreatedBy,
		CreatedAt:     d.CreatedAt,
		Status:        notify.Status(d.Status),
		ReadBy:        readBy,
	}
}

func (s *NotificationStore) Create(ctx context.Context, n *notify.Notification) (string, error) {
	id := uuid.NewString()
	if _, err := s.doc(id).Create(ctx, docFrom(n)); err != nil {
		return "", fmt.Errorf("firestore create failed: %w", err)
	}
	return id, nil
}

func (s *NotificationStore) FindByID(ctx context.Context, id string) (*notify.Notification, error) {
	snap, err := s.doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", notify.ErrNotFound, id)
		}
		return nil, fmt.Errorf("firestore get failed: %w", err)
	}
	var doc notificationDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decoding notification %s: %w", id, err)
	}
	return doc.toDomain(id), nil
}

func (s *NotificationStore) UpdateStatus(ctx context.Context, id string, st notify.Status) error {
	_, err := s.doc(id).Update(ctx, []firestore.Update{
		{Path: "status", Value: string(st)},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", notify.ErrNotFound, id)
		}
		return fmt.Errorf("firestore status update failed: %w", err)
	}
	return nil
}

func (s *NotificationStore) DeleteByID(ctx context.Context, id string) error {
	// Firestore deletes are no-ops on missing documents; probe first so the
	// caller sees ErrNotFound.
	if _, err := s.FindByID(ctx, id); err != nil {
		return err
	}
	if _, err := s.doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete failed: %w", err)
	}
	return nil
}

// AppendReader relies on ArrayUnion for an atomic, idempotent set-append:
// concurrent readers marking the same record never produce duplicates.
func (s *NotificationStore) AppendReader(ctx context.Context, id, readerID string) error {
	_, err := s.doc(id).Update(ctx, []firestore.Update{
		{Path: "read_by", Value: firestore.ArrayUnion(readerID)},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", notify.ErrNotFound, id)
		}
		return fmt.Errorf("firestore read-state update failed: %w", err)
	}
	return nil
}

func (s *NotificationStore) Find(ctx context.Context, filter notify.Clause, page notify.Page) ([]*notify.Notification, error) {
	matched, err := s.queryMatching(ctx, filter)
	if err != nil {
		return nil, err
	}

	if page.Skip > 0 {
		if page.Skip >= len(matched) {
			return []*notify.Notification{}, nil
		}
		matched = matched[page.Skip:]
	}
	if page.Limit > 0 && len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}
	return matched, nil
}

func (s *NotificationStore) Count(ctx context.Context, filter notify.Clause) (int, error) {
	matched, err := s.queryMatching(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// queryMatching streams candidates ordered newest-first with the indexable
// clauses pushed down, then applies the full predicate in memory.
func (s *NotificationStore) queryMatching(ctx context.Context, filter notify.Clause) ([]*notify.Notification, error) {
	q := pushDown(s.client.Collection(notificationsCollection).Query, filter).
		OrderBy("created_at", firestore.Desc)

	iter := q.Documents(ctx)
	defer iter.Stop()

	var matched []*notify.Notification
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var doc notificationDoc
		if err := snap.DataTo(&doc); err != nil {
			// Skip corrupt rows rather than failing the whole query.
			continue
		}
		n := doc.toDomain(snap.Ref.ID)
		if filter.Matches(n) {
			matched = append(matched, n)
		}
	}
	if matched == nil {
		matched = []*notify.Notification{}
	}
	return matched, nil
}

// pushDown narrows the Firestore query with the clauses its dialect can
// express cheaply: status equality, a single recipient-type equality, and
// the creation-time range. Or branches, substring search and read-set
// membership stay in-memory.
func pushDown(q firestore.Query, filter notify.Clause) firestore.Query {
	switch c := filter.(type) {
	case notify.And:
		for _, child := range c.Clauses {
			q = pushDown(q, child)
		}
	case notify.StatusIs:
		q = q.Where("status", "==", string(c.Status))
	case notify.RecipientTypeIn:
		if len(c.Types) == 1 {
			q = q.Where("recipient_type", "==", string(c.Types[0]))
		}
	case notify.CreatedBetween:
		q = q.Where("created_at", ">=", c.Start).Where("created_at", "<=", c.End)
	}
	return q
}

func (s *NotificationStore) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(notificationsCollection).Doc(id)
}
