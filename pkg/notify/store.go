package notify

import "context"

// Page bounds a Find call. A Limit of zero or less means no bound.
type Page struct {
	Skip  int
	Limit int
}

// Store is the durable record storage consumed by the core. Results from
// Find are ordered newest-first by creation time. Implementations translate
// the typed Clause predicate into their own query dialect.
type Store interface {
	// Create persists a new record and returns its assigned id.
	Create(ctx context.Context, n *Notification) (string, error)

	// FindByID returns ErrNotFound when no record exists for the id.
	FindByID(ctx context.Context, id string) (*Notification, error)

	// UpdateStatus writes a new delivery status. It is the only partial
	// update the core performs besides the read-state append.
	UpdateStatus(ctx context.Context, id string, status Status) error

	// DeleteByID returns ErrNotFound when no record exists for the id.
	DeleteByID(ctx context.Context, id string) error

	// Find returns the records matching the predicate, newest first.
	Find(ctx context.Context, filter Clause, page Page) ([]*Notification, error)

	// Count returns the number of records matching the predicate.
	Count(ctx context.Context, filter Clause) (int, error)

	// AppendReader adds a reader id to the record's read set. Appending an
	// already-present reader is a no-op; the operation is atomic against
	// concurrent readers of the same record.
	AppendReader(ctx context.Context, id, readerID string) error
}
