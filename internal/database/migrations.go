package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillPrimarySerial = "2026-05-18_backfill_primary_serial"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillPrimarySerial, apply: backfillPrimarySerial},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// backfillPrimarySerial marks the oldest page of every serial that has no primary page.
func backfillPrimarySerial(db *gorm.DB) error {
	return db.Exec(
		`UPDATE footprints SET primary_serial = serial_number
		 WHERE primary_serial IS NULL
		   AND id IN (
		     SELECT MIN(id) FROM footprints
		     GROUP BY serial_number
		     HAVING SUM(CASE WHEN primary_serial IS NULL THEN 0 ELSE 1 END) = 0
		   )`,
	).Error
}
