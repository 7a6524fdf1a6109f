// Package notify contains the public domain model and storage contracts for
// the campus notification service.
package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for the notification core. Callers match with errors.Is.
var (
	// ErrInvalidNotification is returned when creation input fails
	// validation. No record is persisted.
	ErrInvalidNotification = errors.New("invalid notification")

	// ErrNoTargets is returned when audience resolution produces zero
	// device tokens.
	ErrNoTargets = errors.New("no delivery targets resolved")

	// ErrNotFound is returned when a referenced notification id does not
	// exist in the store.
	ErrNotFound = errors.New("notification not found")
)

// RecipientType describes who a notification is addressed to.
type RecipientType string

const (
	RecipientIndividual         RecipientType = "individual"
	RecipientAllStudents        RecipientType = "all_students"
	RecipientAllFaculty         RecipientType = "all_faculty"
	RecipientStudentsAndFaculty RecipientType = "all_students_and_faculty"
	RecipientEveryone           RecipientType = "all"
)

// ParseRecipientType normalises and validates a raw recipient type value.
func ParseRecipientType(raw string) (RecipientType, error) {
	rt := RecipientType(strings.ToLower(strings.TrimSpace(raw)))
	switch rt {
	case RecipientIndividual, RecipientAllStudents, RecipientAllFaculty,
		RecipientStudentsAndFaculty, RecipientEveryone:
		return rt, nil
	}
	return "", fmt.Errorf("%w: unknown recipient type %q", ErrInvalidNotification, raw)
}

// IsBroadcast reports whether the type denotes a population rather than a
// single individual.
func (rt RecipientType) IsBroadcast() bool {
	switch rt {
	case RecipientAllStudents, RecipientAllFaculty, RecipientStudentsAndFaculty, RecipientEveryone:
		return true
	}
	return false
}

// Status is the delivery state of a notification record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// CanTransition reports whether moving from s to next is a legal forward
// move. The machine is closed: pending may move to sent or failed, and the
// terminal states never move again.
func (s Status) CanTransition(next Status) bool {
	return s == StatusPending && (next == StatusSent || next == StatusFailed)
}

// Notification is the durable record. Title, Message, RecipientType,
// RecipientID, CreatedBy and CreatedAt are immutable after creation; only
// Status and ReadBy are ever updated.
type Notification struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Message       string        `json:"message"`
	RecipientType RecipientType `json:"recipient_type"`
	RecipientID   string        `json:"recipient_id,omitempty"`
	RecipientName string        `json:"recipient_name,omitempty"`
	CreatedBy     string        `json:"created_by"`
	CreatedAt     time.Time     `json:"created_at"`
	Status        Status        `json:"status"`
	ReadBy        []string      `json:"read_by"`
}

// Validate checks the creation invariants. It does not inspect Status or
// ReadBy; those are owned by the dispatcher and the query service.
func (n *Notification) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidNotification)
	}
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidNotification)
	}
	if strings.TrimSpace(n.CreatedBy) == "" {
		return fmt.Errorf("%w: created_by is required", ErrInvalidNotification)
	}
	if _, err := ParseRecipientType(string(n.RecipientType)); err != nil {
		return err
	}
	// recipient_id is present iff the notification targets an individual.
	if n.RecipientType == RecipientIndividual && strings.TrimSpace(n.RecipientID) == "" {
		return fmt.Errorf("%w: recipient_id is required for individual notifications", ErrInvalidNotification)
	}
	if n.RecipientType != RecipientIndividual && n.RecipientID != "" {
		return fmt.Errorf("%w: recipient_id must be empty for %s notifications", ErrInvalidNotification, n.RecipientType)
	}
	return nil
}

// IsReadBy reports whether the reader has already acknowledged the record.
func (n *Notification) IsReadBy(readerID string) bool {
	for _, r := range n.ReadBy {
		if r == readerID {
			return true
		}
	}
	return false
}
