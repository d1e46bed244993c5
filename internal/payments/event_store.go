package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/footprint/internal/identity"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opEventStoreNew = "payments.event_store.new"
	opSaveEvent     = "payments.save_event"
	opFindEvent     = "payments.find_event"

	queryTransactionID = "transaction_id = ?"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a stable "operation.reason" code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// PaymentEvent is the stored copy of the latest delivered notification per transaction.
type PaymentEvent struct {
	TransactionID     string `gorm:"column:transaction_id;primaryKey;size:190;not null"`
	Status            string `gorm:"column:status;size:32;not null"`
	Slug              string `gorm:"column:slug;size:64;not null"`
	AmountCents       int64  `gorm:"column:amount_cents;not null"`
	Currency          string `gorm:"column:currency;size:8;not null"`
	Email             string `gorm:"column:email;size:320;not null;default:''"`
	ReceivedAtSeconds int64  `gorm:"column:received_at_s;not null"`
	UpdatedAtSeconds  int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PaymentEvent) TableName() string {
	return "payment_events"
}

func (row PaymentEvent) event() Event {
	return Event{
		TransactionID: identity.TransactionID(row.TransactionID),
		Status:        Status(row.Status),
		Slug:          row.Slug,
		AmountCents:   row.AmountCents,
		Currency:      row.Currency,
		Email:         row.Email,
	}
}

// EventStoreConfig describes the dependencies of the event store.
type EventStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// EventStore keeps verified notifications so that publish can validate payments without a
// processor round trip.
type EventStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewEventStore constructs an EventStore.
func NewEventStore(cfg EventStoreConfig) (*EventStore, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opEventStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &EventStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Save stores the event, or advances the stored status when the event supersedes it.
// Redelivered and stale notifications leave the row unchanged. The stored event is
// returned.
func (s *EventStore) Save(ctx context.Context, event Event) (Event, error) {
	if err := event.validate(); err != nil {
		return Event{}, newServiceError(opSaveEvent, "invalid_event", err)
	}
	now := s.clock().UTC().Unix()
	row := PaymentEvent{
		TransactionID:     event.TransactionID.String(),
		Status:            event.Status.String(),
		Slug:              event.Slug,
		AmountCents:       event.AmountCents,
		Currency:          event.Currency,
		Email:             event.Email,
		ReceivedAtSeconds: now,
		UpdatedAtSeconds:  now,
	}

	var stored Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if result.Error != nil {
			s.logError(opSaveEvent, "insert_failed", result.Error, event.TransactionID)
			return newServiceError(opSaveEvent, "insert_failed", result.Error)
		}
		if result.RowsAffected > 0 {
			stored = row.event()
			return nil
		}

		var existing PaymentEvent
		if err := tx.Where(queryTransactionID, row.TransactionID).Take(&existing).Error; err != nil {
			s.logError(opSaveEvent, "duplicate_lookup_failed", err, event.TransactionID)
			return newServiceError(opSaveEvent, "duplicate_lookup_failed", err)
		}
		if !event.Status.Supersedes(Status(existing.Status)) {
			stored = existing.event()
			return nil
		}
		update := tx.Model(&PaymentEvent{}).
			Where("transaction_id = ? AND status = ?", existing.TransactionID, existing.Status).
			Updates(map[string]any{
				"status":       row.Status,
				"amount_cents": row.AmountCents,
				"currency":     row.Currency,
				"email":        row.Email,
				"updated_at_s": now,
			})
		if update.Error != nil {
			s.logError(opSaveEvent, "update_failed", update.Error, event.TransactionID)
			return newServiceError(opSaveEvent, "update_failed", update.Error)
		}
		existing.Status = row.Status
		existing.AmountCents = row.AmountCents
		existing.Currency = row.Currency
		existing.Email = row.Email
		stored = existing.event()
		return nil
	})
	if err != nil {
		return Event{}, err
	}
	return stored, nil
}

// Find returns the stored event for the transaction, if any.
func (s *EventStore) Find(ctx context.Context, transactionID identity.TransactionID) (Event, bool, error) {
	var row PaymentEvent
	err := s.db.WithContext(ctx).Where(queryTransactionID, transactionID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Event{}, false, nil
	}
	if err != nil {
		s.logError(opFindEvent, "query_failed", err, transactionID)
		return Event{}, false, newServiceError(opFindEvent, "query_failed", err)
	}
	return row.event(), true, nil
}

func (s *EventStore) logError(operation, reason string, err error, transactionID identity.TransactionID) {
	logger := noOpLogger
	if s != nil && s.logger != nil {
		logger = s.logger
	}
	logger.Error("payment event store error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("transaction_id", transactionID.String()),
		zap.Error(err))
}
