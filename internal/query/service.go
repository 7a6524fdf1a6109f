package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-campus-notify/pkg/notify"
)

// DefaultPageLimit bounds a List call when the caller supplies none.
const DefaultPageLimit = 10

// ListRequest is a paginated, scoped read over the notification history.
type ListRequest struct {
	Scope Scope
	Page  int
	Limit int
}

// ListResult is one page of records plus the pagination envelope.
type ListResult struct {
	Notifications []*notify.Notification `json:"notifications"`
	TotalCount    int                    `json:"total_count"`
	Page          int                    `json:"page"`
	TotalPages    int                    `json:"total_pages"`
}

// Service answers notification queries and owns the read-state and deletion
// operations. List and MarkAllRead build their predicate through the same
// FilterBuilder, so "what I can see" and "what gets bulk-marked read" always
// agree.
type Service struct {
	store   notify.Store
	filters *FilterBuilder
	logger  *slog.Logger
}

func NewService(store notify.Store, filters *FilterBuilder, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		filters: filters,
		logger:  logger.With("component", "NotificationQueryService"),
	}
}

// List returns the page of visible records matching the scope, newest first.
// Filters that match nothing yield an empty page, not an error.
func (s *Service) List(ctx context.Context, req ListRequest) (*ListResult, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	limit := req.Limit
	if limit < 1 {
		limit = DefaultPageLimit
	}

	filter := s.filters.Build(req.Scope)

	total, err := s.store.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("counting notifications: %w", err)
	}

	records, err := s.store.Find(ctx, filter, notify.Page{Skip: (page - 1) * limit, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}

	return &ListResult{
		Notifications: records,
		TotalCount:    total,
		Page:          page,
		TotalPages:    (total + limit - 1) / limit,
	}, nil
}

// Get returns a single record or notify.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*notify.Notification, error) {
	return s.store.FindByID(ctx, id)
}

// MarkRead appends the reader to the record's read set. Re-marking an
// already-read record succeeds without duplicating the reader id and without
// touching the delivery status.
func (s *Service) MarkRead(ctx context.Context, id, readerID string) error {
	if err := s.store.AppendReader(ctx, id, readerID); err != nil {
		return err
	}
	s.logger.Debug("Notification marked read", "notification_id", id, "reader_id", readerID)
	return nil
}

// MarkAllRead appends the reader to every visible record not yet read by
// them. The returned count is the number of matching unread records before
// mutation; read sets are only ever grown, never reset.
func (s *Service) MarkAllRead(ctx context.Context, scope Scope, readerID string) (int, error) {
	unread := notify.And{Clauses: []notify.Clause{
		s.filters.Build(scope),
		notify.ReadBy{Reader: readerID, Read: false},
	}}

	records, err := s.store.Find(ctx, unread, notify.Page{})
	if err != nil {
		return 0, fmt.Errorf("finding unread notifications: %w", err)
	}

	for i, record := range records {
		if err := s.store.AppendReader(ctx, record.ID, readerID); err != nil {
			return i, fmt.Errorf("marking notification %s read: %w", record.ID, err)
		}
	}
	s.logger.Info("Bulk read-marking complete", "reader_id", readerID, "count", len(records))
	return len(records), nil
}

// Delete removes a record unconditionally, with no cascade. Authorization is
// the routing layer's concern.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteByID(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Notification deleted", "notification_id", id)
	return nil
}
