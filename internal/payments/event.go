package payments

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/footprint/internal/identity"
)

var (
	// ErrPaymentNotFound indicates neither the event store nor the processor knows the transaction.
	ErrPaymentNotFound = errors.New("payments: payment not found")
	// ErrProcessorUnavailable indicates the processor could not be reached or answered unexpectedly.
	ErrProcessorUnavailable = errors.New("payments: processor unavailable")
	// ErrInvalidEvent indicates a notification is missing required fields.
	ErrInvalidEvent = errors.New("payments: invalid event")
	// ErrInvalidSignature indicates a notification failed signature, issuer or expiry checks.
	ErrInvalidSignature = errors.New("payments: invalid signature")
	// ErrUnknownStatus indicates a status string outside the known set.
	ErrUnknownStatus = errors.New("payments: unknown status")
)

// Status is the processor-reported state of a checkout session.
type Status string

const (
	StatusOpen    Status = "open"
	StatusExpired Status = "expired"
	StatusPaid    Status = "paid"
)

// ParseStatus validates a status string.
func ParseStatus(raw string) (Status, error) {
	switch status := Status(strings.ToLower(strings.TrimSpace(raw))); status {
	case StatusOpen, StatusExpired, StatusPaid:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
}

// rank orders statuses so that stored events only move forward.
func (s Status) rank() int {
	switch s {
	case StatusOpen:
		return 0
	case StatusExpired:
		return 1
	case StatusPaid:
		return 2
	default:
		return -1
	}
}

// Supersedes reports whether s may replace previous.
func (s Status) Supersedes(previous Status) bool {
	return s.rank() > previous.rank()
}

// String returns the status text.
func (s Status) String() string {
	return string(s)
}

// Event is the trusted view of a payment after verification or processor lookup. Slug is
// the value recorded when checkout was initiated.
type Event struct {
	TransactionID identity.TransactionID
	Status        Status
	Slug          string
	AmountCents   int64
	Currency      string
	Email         string
}

// Paid reports whether the payment completed.
func (e Event) Paid() bool {
	return e.Status == StatusPaid
}

func (e Event) validate() error {
	if _, err := identity.NewTransactionID(e.TransactionID.String()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if e.Status.rank() < 0 {
		return fmt.Errorf("%w: status %q", ErrInvalidEvent, e.Status)
	}
	if strings.TrimSpace(e.Slug) == "" {
		return fmt.Errorf("%w: missing slug", ErrInvalidEvent)
	}
	if e.AmountCents < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidEvent)
	}
	return nil
}
