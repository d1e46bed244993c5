package identity

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opLedgerNew      = "identity.ledger.new"
	opLookupPurchase = "identity.lookup_purchase"
	opRecordPurchase = "identity.record_purchase"

	queryTransactionID = "transaction_id = ?"
)

// LedgerConfig describes the dependencies of the purchase ledger.
type LedgerConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Ledger records one row per completed payment, keyed by the processor transaction id.
type Ledger struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewLedger constructs a Ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opLedgerNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Ledger{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Lookup returns the stored purchase for the transaction id, if any.
func (l *Ledger) Lookup(ctx context.Context, transactionID TransactionID) (Purchase, bool, error) {
	if l == nil || l.db == nil {
		return Purchase{}, false, newServiceError(opLookupPurchase, "missing_database", errMissingDatabase)
	}
	return l.lookupWithin(l.db.WithContext(ctx), transactionID)
}

// RecordIfAbsent stores the purchase unless a row for the transaction id already exists.
// A second call with the same transaction id returns the first call's row with Created
// false instead of erroring.
func (l *Ledger) RecordIfAbsent(ctx context.Context, entry PurchaseEntry) (RecordOutcome, error) {
	if l == nil || l.db == nil {
		return RecordOutcome{}, newServiceError(opRecordPurchase, "missing_database", errMissingDatabase)
	}
	return l.RecordIfAbsentWithin(l.db.WithContext(ctx), entry)
}

// RecordIfAbsentWithin is RecordIfAbsent bound to the caller's transaction.
func (l *Ledger) RecordIfAbsentWithin(tx *gorm.DB, entry PurchaseEntry) (RecordOutcome, error) {
	if tx == nil {
		return RecordOutcome{}, newServiceError(opRecordPurchase, "missing_database", errMissingDatabase)
	}
	if _, err := NewTransactionID(entry.TransactionID.String()); err != nil {
		return RecordOutcome{}, newServiceError(opRecordPurchase, "invalid_transaction_id", err)
	}
	if _, err := NewSerialNumber(entry.SerialNumber.Int64()); err != nil {
		return RecordOutcome{}, newServiceError(opRecordPurchase, "invalid_serial_number", err)
	}

	model := Purchase{
		TransactionID:    entry.TransactionID.String(),
		SerialNumber:     entry.SerialNumber.Int64(),
		Slug:             entry.Slug,
		AmountCents:      entry.AmountCents,
		Currency:         entry.Currency,
		Status:           entry.Status,
		CreatedAtSeconds: l.clock().UTC().Unix(),
	}
	createResult := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
	if createResult.Error != nil {
		l.logError(opRecordPurchase, "insert_failed", createResult.Error, entry.TransactionID)
		return RecordOutcome{}, newServiceError(opRecordPurchase, "insert_failed", createResult.Error)
	}
	if createResult.RowsAffected > 0 {
		return RecordOutcome{Created: true, Purchase: model}, nil
	}

	existing, found, err := l.lookupWithin(tx, entry.TransactionID)
	if err != nil {
		return RecordOutcome{}, err
	}
	if !found {
		err := errors.New("purchase conflict reported but row not visible")
		l.logError(opRecordPurchase, "duplicate_lookup_failed", err, entry.TransactionID)
		return RecordOutcome{}, newServiceError(opRecordPurchase, "duplicate_lookup_failed", err)
	}
	return RecordOutcome{Created: false, Purchase: existing}, nil
}

func (l *Ledger) lookupWithin(tx *gorm.DB, transactionID TransactionID) (Purchase, bool, error) {
	var existing Purchase
	err := tx.Where(queryTransactionID, transactionID.String()).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Purchase{}, false, nil
	}
	if err != nil {
		l.logError(opLookupPurchase, "query_failed", err, transactionID)
		return Purchase{}, false, newServiceError(opLookupPurchase, "query_failed", err)
	}
	return existing, true, nil
}

func (l *Ledger) logError(operation, reason string, err error, transactionID TransactionID) {
	logger := noOpLogger
	if l != nil && l.logger != nil {
		logger = l.logger
	}
	logger.Error("purchase ledger error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("transaction_id", transactionID.String()),
		zap.Error(err))
}
