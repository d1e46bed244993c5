package identity

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "identity.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&SerialCounter{}, &Purchase{}))
	return db
}

func TestClaimNextSerialIsMonotonic(t *testing.T) {
	db := openTestDatabase(t)
	require.NoError(t, SeedCounter(db, DefaultCounterName, 1))

	allocator, err := NewAllocator(AllocatorConfig{Database: db})
	require.NoError(t, err)

	for expected := int64(1); expected <= 3; expected++ {
		serial, err := allocator.ClaimNextSerial(context.Background())
		require.NoError(t, err)
		require.Equal(t, SerialNumber(expected), serial)
	}
}

func TestSeedCounterNeverRewinds(t *testing.T) {
	db := openTestDatabase(t)
	require.NoError(t, SeedCounter(db, DefaultCounterName, 500))

	allocator, err := NewAllocator(AllocatorConfig{Database: db})
	require.NoError(t, err)
	first, err := allocator.ClaimNextSerial(context.Background())
	require.NoError(t, err)
	require.Equal(t, SerialNumber(500), first)

	require.NoError(t, SeedCounter(db, DefaultCounterName, 1))
	next, err := allocator.ClaimNextSerial(context.Background())
	require.NoError(t, err)
	require.Equal(t, SerialNumber(501), next)
}

func TestClaimNextSerialConcurrentClaimsAreUnique(t *testing.T) {
	db := openTestDatabase(t)
	require.NoError(t, SeedCounter(db, DefaultCounterName, 1))
	allocator, err := NewAllocator(AllocatorConfig{Database: db})
	require.NoError(t, err)

	const claimants = 24
	var (
		mu      sync.Mutex
		claimed []int64
	)
	group, ctx := errgroup.WithContext(context.Background())
	for range claimants {
		group.Go(func() error {
			serial, err := allocator.ClaimNextSerial(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			claimed = append(claimed, serial.Int64())
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, group.Wait())

	sort.Slice(claimed, func(i, j int) bool { return claimed[i] < claimed[j] })
	for index, value := range claimed {
		require.Equal(t, int64(index+1), value)
	}
}

func TestClaimNextSerialWithoutCounter(t *testing.T) {
	db := openTestDatabase(t)
	allocator, err := NewAllocator(AllocatorConfig{Database: db, CounterName: "missing"})
	require.NoError(t, err)

	_, err = allocator.ClaimNextSerial(context.Background())
	require.ErrorIs(t, err, ErrCounterUnavailable)
	var serviceErr *ServiceError
	require.ErrorAs(t, err, &serviceErr)
	require.Equal(t, "identity.claim_serial.counter_missing", serviceErr.Code())
}

func TestLedgerRecordIfAbsentIsIdempotent(t *testing.T) {
	db := openTestDatabase(t)
	now := time.Unix(1_750_000_000, 0)
	ledger, err := NewLedger(LedgerConfig{Database: db, Clock: func() time.Time { return now }})
	require.NoError(t, err)
	ctx := context.Background()

	first, err := ledger.RecordIfAbsent(ctx, PurchaseEntry{
		TransactionID: "cs_1", SerialNumber: 7, Slug: "alex", AmountCents: 900, Currency: "usd", Status: "paid",
	})
	require.NoError(t, err)
	require.True(t, first.Created)
	require.Equal(t, SerialNumber(7), first.Serial())
	require.Equal(t, now.Unix(), first.Purchase.CreatedAtSeconds)

	second, err := ledger.RecordIfAbsent(ctx, PurchaseEntry{
		TransactionID: "cs_1", SerialNumber: 8, Slug: "alex", AmountCents: 900, Currency: "usd", Status: "paid",
	})
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, SerialNumber(7), second.Serial())

	stored, found, err := ledger.Lookup(ctx, "cs_1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(7), stored.SerialNumber)

	_, found, err = ledger.Lookup(ctx, "cs_unknown")
	require.NoError(t, err)
	require.False(t, found)

	var count int64
	require.NoError(t, db.Model(&Purchase{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestLedgerRecordWithinRollsBack(t *testing.T) {
	db := openTestDatabase(t)
	ledger, err := NewLedger(LedgerConfig{Database: db})
	require.NoError(t, err)

	rollback := errors.New("publish aborted")
	err = db.Transaction(func(tx *gorm.DB) error {
		if _, recordErr := ledger.RecordIfAbsentWithin(tx, PurchaseEntry{TransactionID: "cs_2", SerialNumber: 3, Slug: "sam"}); recordErr != nil {
			return recordErr
		}
		return rollback
	})
	require.ErrorIs(t, err, rollback)

	_, found, err := ledger.Lookup(context.Background(), "cs_2")
	require.NoError(t, err)
	require.False(t, found)
}

func TestLedgerRejectsInvalidEntries(t *testing.T) {
	db := openTestDatabase(t)
	ledger, err := NewLedger(LedgerConfig{Database: db})
	require.NoError(t, err)

	_, err = ledger.RecordIfAbsent(context.Background(), PurchaseEntry{TransactionID: " ", SerialNumber: 1})
	require.ErrorIs(t, err, ErrInvalidTransactionID)
	_, err = ledger.RecordIfAbsent(context.Background(), PurchaseEntry{TransactionID: "cs_3", SerialNumber: 0})
	require.ErrorIs(t, err, ErrInvalidSerialNumber)
}

func TestNewTransactionID(t *testing.T) {
	id, err := NewTransactionID("  cs_test_123 ")
	require.NoError(t, err)
	require.Equal(t, TransactionID("cs_test_123"), id)

	_, err = NewTransactionID("")
	require.ErrorIs(t, err, ErrInvalidTransactionID)
}
