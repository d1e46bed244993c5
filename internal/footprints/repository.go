package footprints

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/footprint/internal/content"
	"github.com/MarcoPoloResearchLab/footprint/internal/identity"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opRepositoryNew = "footprints.repository.new"
	opFindBySlug    = "footprints.find_by_slug"
	opUpsertPrimary = "footprints.upsert_primary"
	opDeleteBySlug  = "footprints.delete_by_slug"

	querySlug          = "slug = ?"
	queryPrimarySerial = "primary_serial = ?"
	queryFootprintID   = "footprint_id = ?"

	savepointInsertPage = "footprint_insert"
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

// RepositoryConfig describes the dependencies of the page repository.
type RepositoryConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Repository reads and writes footprint pages.
type Repository struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewRepository constructs a Repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opRepositoryNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Repository{db: cfg.Database, clock: clock, logger: logger}, nil
}

// FindBySlug returns the page addressed by slug.
func (r *Repository) FindBySlug(ctx context.Context, slug Slug) (Footprint, bool, error) {
	if r == nil || r.db == nil {
		return Footprint{}, false, newServiceError(opFindBySlug, "missing_database", errMissingDatabase)
	}
	return r.findBySlugWithin(r.db.WithContext(ctx), slug)
}

// SlugAvailable reports whether no page currently holds the slug.
func (r *Repository) SlugAvailable(ctx context.Context, slug Slug) (bool, error) {
	_, found, err := r.FindBySlug(ctx, slug)
	if err != nil {
		return false, err
	}
	return !found, nil
}

// UpsertPrimaryWithin writes the serial's page for slug inside the caller's transaction.
// An existing row for the same serial and slug has its profile overwritten so that a
// retried publish is harmless. ErrSlugTaken is returned when the slug belongs to another
// serial, including when a concurrent insert wins the slug's unique index. Losing the
// serial's primary index to a concurrent insert is reported as insert_conflict.
func (r *Repository) UpsertPrimaryWithin(tx *gorm.DB, serial identity.SerialNumber, slug Slug, profile Profile) (Footprint, error) {
	if tx == nil {
		return Footprint{}, newServiceError(opUpsertPrimary, "missing_database", errMissingDatabase)
	}
	normalized, err := profile.Normalize()
	if err != nil {
		return Footprint{}, newServiceError(opUpsertPrimary, "invalid_profile", err)
	}
	now := r.clock().UTC().Unix()

	existing, found, err := r.findBySlugWithin(tx, slug)
	if err != nil {
		return Footprint{}, err
	}
	if found {
		if existing.SerialNumber != serial.Int64() {
			return Footprint{}, newServiceError(opUpsertPrimary, "slug_taken", ErrSlugTaken)
		}
		existing.applyProfile(normalized)
		existing.Published = true
		existing.UpdatedAtSeconds = now
		updates := map[string]any{
			"display_name":   existing.DisplayName,
			"handle":         existing.Handle,
			"bio":            existing.Bio,
			"avatar_url":     existing.AvatarURL,
			"background_url": existing.BackgroundURL,
			"theme":          existing.Theme,
			"published":      true,
			"updated_at_s":   now,
		}
		if err := tx.Model(&Footprint{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			r.logError(opUpsertPrimary, "update_failed", err, slug)
			return Footprint{}, newServiceError(opUpsertPrimary, "update_failed", err)
		}
		return existing, nil
	}

	var primaryCount int64
	if err := tx.Model(&Footprint{}).Where(queryPrimarySerial, serial.Int64()).Count(&primaryCount).Error; err != nil {
		r.logError(opUpsertPrimary, "primary_lookup_failed", err, slug)
		return Footprint{}, newServiceError(opUpsertPrimary, "primary_lookup_failed", err)
	}

	created := Footprint{
		SerialNumber:     serial.Int64(),
		Slug:             slug.String(),
		Published:        true,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if primaryCount == 0 {
		primary := serial.Int64()
		created.PrimarySerial = &primary
	}
	created.applyProfile(normalized)
	if err := tx.SavePoint(savepointInsertPage).Error; err != nil {
		r.logError(opUpsertPrimary, "savepoint_failed", err, slug)
		return Footprint{}, newServiceError(opUpsertPrimary, "savepoint_failed", err)
	}
	insertErr := tx.Omit("MediaItems", "EmbedItems").Create(&created).Error
	if insertErr == nil {
		return created, nil
	}
	if !isUniqueViolation(insertErr) {
		r.logError(opUpsertPrimary, "insert_failed", insertErr, slug)
		return Footprint{}, newServiceError(opUpsertPrimary, "insert_failed", insertErr)
	}

	// Only a row now holding the slug means the slug is taken; any other unique index
	// (the serial's primary page) is a plain write failure.
	if err := tx.RollbackTo(savepointInsertPage).Error; err != nil {
		r.logError(opUpsertPrimary, "insert_failed", errors.Join(insertErr, err), slug)
		return Footprint{}, newServiceError(opUpsertPrimary, "insert_failed", errors.Join(insertErr, err))
	}
	holder, found, err := r.findBySlugWithin(tx, slug)
	if err != nil {
		return Footprint{}, err
	}
	if found && holder.SerialNumber != serial.Int64() {
		return Footprint{}, newServiceError(opUpsertPrimary, "slug_taken", errors.Join(ErrSlugTaken, insertErr))
	}
	r.logError(opUpsertPrimary, "insert_conflict", insertErr, slug)
	return Footprint{}, newServiceError(opUpsertPrimary, "insert_conflict", insertErr)
}

// DeleteBySlug removes a page and its tiles. The serial number is never released: the
// counter only moves forward.
func (r *Repository) DeleteBySlug(ctx context.Context, slug Slug) error {
	if r == nil || r.db == nil {
		return newServiceError(opDeleteBySlug, "missing_database", errMissingDatabase)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, found, err := r.findBySlugWithin(tx, slug)
		if err != nil {
			return err
		}
		if !found {
			return newServiceError(opDeleteBySlug, "not_found", ErrFootprintNotFound)
		}
		for _, model := range []any{&content.MediaItem{}, &content.EmbedItem{}, &content.TileSequence{}} {
			if err := tx.Where(queryFootprintID, existing.ID).Delete(model).Error; err != nil {
				r.logError(opDeleteBySlug, "content_delete_failed", err, slug)
				return newServiceError(opDeleteBySlug, "content_delete_failed", err)
			}
		}
		if err := tx.Delete(&Footprint{}, existing.ID).Error; err != nil {
			r.logError(opDeleteBySlug, "delete_failed", err, slug)
			return newServiceError(opDeleteBySlug, "delete_failed", err)
		}
		return nil
	})
}

func (r *Repository) findBySlugWithin(tx *gorm.DB, slug Slug) (Footprint, bool, error) {
	var footprint Footprint
	err := tx.Where(querySlug, slug.String()).Take(&footprint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Footprint{}, false, nil
	}
	if err != nil {
		r.logError(opFindBySlug, "query_failed", err, slug)
		return Footprint{}, false, newServiceError(opFindBySlug, "query_failed", err)
	}
	return footprint, true, nil
}

func (r *Repository) logError(operation, reason string, err error, slug Slug) {
	logger := noOpLogger
	if r != nil && r.logger != nil {
		logger = r.logger
	}
	logger.Error("footprints repository error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("slug", slug.String()),
		zap.Error(err))
}

// isUniqueViolation recognizes unique index failures from either supported driver, with or
// without gorm's error translation.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") ||
		strings.Contains(message, "duplicate key value") ||
		strings.Contains(message, "sqlstate 23505")
}
