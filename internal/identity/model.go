package identity

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultCounterName names the counter that mints footprint serial numbers.
	DefaultCounterName = "footprint_serial"

	maxTransactionIDLength = 190
)

var (
	// ErrInvalidSerialNumber indicates a non-positive serial number.
	ErrInvalidSerialNumber = errors.New("identity: invalid serial number")
	// ErrInvalidTransactionID indicates an empty or oversized processor transaction id.
	ErrInvalidTransactionID = errors.New("identity: invalid transaction id")
	// ErrCounterUnavailable indicates the serial counter row is missing or could not be incremented.
	ErrCounterUnavailable = errors.New("identity: serial counter unavailable")
)

// SerialNumber is the permanent integer identity assigned once per paying customer.
type SerialNumber int64

// NewSerialNumber validates the value and returns a SerialNumber.
func NewSerialNumber(value int64) (SerialNumber, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSerialNumber, value)
	}
	return SerialNumber(value), nil
}

// Int64 exposes the raw serial value.
func (s SerialNumber) Int64() int64 {
	return int64(s)
}

// TransactionID is the payment processor's unique session identifier.
type TransactionID string

// NewTransactionID validates raw input and returns a TransactionID.
func NewTransactionID(rawInput string) (TransactionID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTransactionID)
	}
	if len(trimmed) > maxTransactionIDLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidTransactionID, maxTransactionIDLength)
	}
	return TransactionID(trimmed), nil
}

// String returns the underlying identifier.
func (id TransactionID) String() string {
	return string(id)
}

// SerialCounter is the single store-owned counter row per counter name. LastValue only
// ever grows; a claimed value is burned even when the claimant never uses it.
type SerialCounter struct {
	Name      string `gorm:"column:name;primaryKey;size:64;not null"`
	LastValue int64  `gorm:"column:last_value;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SerialCounter) TableName() string {
	return "serial_counters"
}

// Purchase is the immutable ledger row for one completed payment.
type Purchase struct {
	TransactionID    string `gorm:"column:transaction_id;primaryKey;size:190;not null"`
	SerialNumber     int64  `gorm:"column:serial_number;not null;index"`
	Slug             string `gorm:"column:slug;size:64;not null"`
	AmountCents      int64  `gorm:"column:amount_cents;not null"`
	Currency         string `gorm:"column:currency;size:8;not null"`
	Status           string `gorm:"column:status;size:32;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Purchase) TableName() string {
	return "purchases"
}

// PurchaseEntry is the input recorded for a completed payment.
type PurchaseEntry struct {
	TransactionID TransactionID
	SerialNumber  SerialNumber
	Slug          string
	AmountCents   int64
	Currency      string
	Status        string
}

// RecordOutcome reports whether this call created the ledger row and the row now stored.
type RecordOutcome struct {
	Created  bool
	Purchase Purchase
}

// Serial returns the serial number resolved by the stored row.
func (outcome RecordOutcome) Serial() SerialNumber {
	return SerialNumber(outcome.Purchase.SerialNumber)
}
