package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/footprint/internal/content"
	"github.com/MarcoPoloResearchLab/footprint/internal/footprints"
	"github.com/MarcoPoloResearchLab/footprint/internal/identity"
	"github.com/MarcoPoloResearchLab/footprint/internal/payments"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
)

// ErrUnsupportedDriver indicates a database.driver value other than sqlite or postgres.
var ErrUnsupportedDriver = errors.New("database: unsupported driver")

// Config selects and addresses the relational store.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	SerialStart int64
}

// Open connects to the configured store, migrates the schema and seeds the serial counter.
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	gormConfig := &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var (
		db     *gorm.DB
		err    error
		target string
	)
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", DriverSQLite:
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("database path is required")
		}
		target = cfg.Path
		db, err = gorm.Open(sqlite.Open(sqliteDSN(cfg.Path)), gormConfig)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	case DriverPostgres:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("database dsn is required for postgres")
		}
		target = DriverPostgres
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormConfig)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	if err := Migrate(db, cfg.SerialStart, logger); err != nil {
		return nil, err
	}
	logger.Info("database initialized", zap.String("target", target))
	return db, nil
}

// Migrate creates the schema, applies named migrations and prepares the serial counter.
// It is safe to run on every start.
func Migrate(db *gorm.DB, serialStart int64, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(
		&footprints.Footprint{},
		&content.MediaItem{},
		&content.EmbedItem{},
		&content.TileSequence{},
		&identity.SerialCounter{},
		&identity.Purchase{},
		&payments.PaymentEvent{},
		&migrationRecord{},
	); err != nil {
		return err
	}
	if err := applyMigrations(db, logger); err != nil {
		return err
	}
	if err := identity.SeedCounter(db, identity.DefaultCounterName, serialStart); err != nil {
		return err
	}
	if err := alignSerialCounter(db, identity.DefaultCounterName); err != nil {
		logger.Warn("serial counter alignment failed", zap.Error(err))
	}
	return nil
}

// alignSerialCounter moves the counter past every serial already recorded in the ledger, so
// a counter restored from an older backup can never hand out a used number.
func alignSerialCounter(db *gorm.DB, counterName string) error {
	return db.Exec(
		`UPDATE serial_counters
		   SET last_value = (SELECT COALESCE(MAX(serial_number), 0) FROM purchases)
		 WHERE name = ? AND last_value < (SELECT COALESCE(MAX(serial_number), 0) FROM purchases)`,
		counterName,
	).Error
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "_pragma=") {
		return path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return path + separator + sqlitePragmas
}
