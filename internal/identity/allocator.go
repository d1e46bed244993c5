package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opAllocatorNew = "identity.allocator.new"
	opClaimSerial  = "identity.claim_serial"
	opSeedCounter  = "identity.seed_counter"

	claimStatement = "UPDATE serial_counters SET last_value = last_value + 1 WHERE name = ? RETURNING last_value"
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

// AllocatorConfig describes the dependencies of the serial allocator.
type AllocatorConfig struct {
	Database    *gorm.DB
	CounterName string
	Logger      *zap.Logger
}

// Allocator mints serial numbers from a store-level counter.
type Allocator struct {
	db          *gorm.DB
	counterName string
	logger      *zap.Logger
}

// NewAllocator constructs an Allocator bound to the named counter.
func NewAllocator(cfg AllocatorConfig) (*Allocator, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opAllocatorNew, "missing_database", errMissingDatabase)
	}
	name := strings.TrimSpace(cfg.CounterName)
	if name == "" {
		name = DefaultCounterName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Allocator{db: cfg.Database, counterName: name, logger: logger}, nil
}

// SeedCounter creates the counter row so that the first claim returns start. An existing
// row is never rewound.
func SeedCounter(db *gorm.DB, name string, start int64) error {
	if db == nil {
		return newServiceError(opSeedCounter, "missing_database", errMissingDatabase)
	}
	if start <= 0 {
		start = 1
	}
	counter := SerialCounter{Name: name, LastValue: start - 1}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&counter).Error; err != nil {
		return newServiceError(opSeedCounter, "insert_failed", err)
	}
	return nil
}

// ClaimNextSerial atomically increments the counter and returns the new value. The
// increment is a single UPDATE ... RETURNING statement committed on its own, so concurrent
// callers in any process never observe the same value and a claimed value is never handed
// out again even if the caller fails before using it.
func (a *Allocator) ClaimNextSerial(ctx context.Context) (SerialNumber, error) {
	if a == nil || a.db == nil {
		return 0, newServiceError(opClaimSerial, "missing_database", errMissingDatabase)
	}

	var claimed int64
	result := a.db.WithContext(ctx).Raw(claimStatement, a.counterName).Scan(&claimed)
	if result.Error != nil {
		a.logger.Error("identity allocator error",
			zap.String("operation", opClaimSerial),
			zap.String("reason", "increment_failed"),
			zap.String("counter", a.counterName),
			zap.Error(result.Error))
		return 0, newServiceError(opClaimSerial, "increment_failed", errors.Join(ErrCounterUnavailable, result.Error))
	}
	if result.RowsAffected == 0 {
		a.logger.Error("identity allocator error",
			zap.String("operation", opClaimSerial),
			zap.String("reason", "counter_missing"),
			zap.String("counter", a.counterName))
		return 0, newServiceError(opClaimSerial, "counter_missing", ErrCounterUnavailable)
	}

	serial, err := NewSerialNumber(claimed)
	if err != nil {
		return 0, newServiceError(opClaimSerial, "invalid_value", errors.Join(ErrCounterUnavailable, err))
	}
	a.logger.Debug("serial claimed", zap.String("counter", a.counterName), zap.Int64("serial_number", serial.Int64()))
	return serial, nil
}
