package content

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opStoreNew     = "content.store.new"
	opListTiles    = "content.list_tiles"
	opAddTile      = "content.add_tile"
	opDeleteTile   = "content.delete_tile"
	opMoveTile     = "content.move_tile"
	opReplaceTiles = "content.replace_tiles"

	fieldFootprintID = "footprint_id"
	fieldTileID      = "tile_id"
	queryFootprint   = fieldFootprintID + " = ?"
	queryFootprintID = fieldFootprintID + " = ? AND " + fieldTileID + " = ?"
	orderPositionAsc = "position ASC, tile_id ASC"

	reasonMissingDatabase  = "missing_database"
	reasonInvalidFootprint = "invalid_footprint"
	reasonQueryFailed      = "query_failed"
	reasonStoredInvalid    = "stored_tile_invalid"
	reasonIDFailed         = "id_generation_failed"
	reasonInsertFailed     = "insert_failed"
	reasonDeleteFailed     = "delete_failed"
	reasonUpdateFailed     = "update_failed"
	reasonTileLimit        = "tile_limit"
	reasonTileNotFound     = "tile_not_found"
	reasonLockFailed       = "sequence_lock_failed"

	defaultMaxTiles = 100
)

var noOpLogger = zap.NewNop()

// StoreConfig describes the dependencies of the content store.
type StoreConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
	MaxTiles   int
}

// Store persists tiles across the media and embed partitions while exposing one ordered
// sequence per page.
type Store struct {
	db         *gorm.DB
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
	maxTiles   int
}

// NewStore validates the configuration and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	maxTiles := cfg.MaxTiles
	if maxTiles <= 0 {
		maxTiles = defaultMaxTiles
	}
	return &Store{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
		maxTiles:   maxTiles,
	}, nil
}

// MaxTiles reports the per-page tile limit.
func (s *Store) MaxTiles() int {
	return s.maxTiles
}

// List returns the merged tile sequence of a page.
func (s *Store) List(ctx context.Context, footprintID int64) ([]Tile, error) {
	if s.db == nil {
		return nil, newServiceError(opListTiles, reasonMissingDatabase, errMissingDatabase)
	}
	if footprintID <= 0 {
		return nil, newServiceError(opListTiles, reasonInvalidFootprint, ErrInvalidFootprintID)
	}
	return s.listWithin(s.db.WithContext(ctx), opListTiles, footprintID)
}

// Add appends an already classified descriptor at max(position)+1.
func (s *Store) Add(ctx context.Context, footprintID int64, descriptor Descriptor) (Tile, error) {
	if s.db == nil {
		return Tile{}, newServiceError(opAddTile, reasonMissingDatabase, errMissingDatabase)
	}
	if footprintID <= 0 {
		return Tile{}, newServiceError(opAddTile, reasonInvalidFootprint, ErrInvalidFootprintID)
	}

	var added Tile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockSequence(tx, opAddTile, footprintID); err != nil {
			return err
		}
		sequence, err := s.listWithin(tx, opAddTile, footprintID)
		if err != nil {
			return err
		}
		if len(sequence) >= s.maxTiles {
			return newServiceError(opAddTile, reasonTileLimit, ErrTooManyTiles)
		}
		tileID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opAddTile, reasonIDFailed, err, zap.Int64(fieldFootprintID, footprintID))
			return newServiceError(opAddTile, reasonIDFailed, err)
		}
		tile := Tile{ID: tileID, Partition: descriptor.Platform.Partition(), Descriptor: descriptor}
		extended := Insert(sequence, tile)
		added = extended[len(extended)-1]
		if err := s.insertTile(tx, footprintID, added); err != nil {
			s.logError(opAddTile, reasonInsertFailed, err, zap.Int64(fieldFootprintID, footprintID))
			return newServiceError(opAddTile, reasonInsertFailed, err)
		}
		return nil
	})
	if err != nil {
		return Tile{}, err
	}
	return added, nil
}

// Delete removes a tile. Positions of the remaining tiles keep their gaps.
func (s *Store) Delete(ctx context.Context, footprintID int64, tileID string) error {
	if s.db == nil {
		return newServiceError(opDeleteTile, reasonMissingDatabase, errMissingDatabase)
	}
	if footprintID <= 0 {
		return newServiceError(opDeleteTile, reasonInvalidFootprint, ErrInvalidFootprintID)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockSequence(tx, opDeleteTile, footprintID); err != nil {
			return err
		}
		var affected int64
		for _, model := range []any{&MediaItem{}, &EmbedItem{}} {
			result := tx.Where(queryFootprintID, footprintID, tileID).Delete(model)
			if result.Error != nil {
				s.logError(opDeleteTile, reasonDeleteFailed, result.Error,
					zap.Int64(fieldFootprintID, footprintID), zap.String(fieldTileID, tileID))
				return newServiceError(opDeleteTile, reasonDeleteFailed, result.Error)
			}
			affected += result.RowsAffected
		}
		if affected == 0 {
			return newServiceError(opDeleteTile, reasonTileNotFound, ErrTileNotFound)
		}
		return nil
	})
}

// Move reorders a tile to newIndex and densely renumbers every tile of the page.
func (s *Store) Move(ctx context.Context, footprintID int64, tileID string, newIndex int) ([]Tile, error) {
	if s.db == nil {
		return nil, newServiceError(opMoveTile, reasonMissingDatabase, errMissingDatabase)
	}
	if footprintID <= 0 {
		return nil, newServiceError(opMoveTile, reasonInvalidFootprint, ErrInvalidFootprintID)
	}

	var reordered []Tile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockSequence(tx, opMoveTile, footprintID); err != nil {
			return err
		}
		sequence, err := s.listWithin(tx, opMoveTile, footprintID)
		if err != nil {
			return err
		}
		reordered, err = Reorder(sequence, tileID, newIndex)
		if err != nil {
			return newServiceError(opMoveTile, reasonTileNotFound, err)
		}
		for _, tile := range reordered {
			if err := updatePosition(tx, footprintID, tile); err != nil {
				s.logError(opMoveTile, reasonUpdateFailed, err,
					zap.Int64(fieldFootprintID, footprintID), zap.String(fieldTileID, tile.ID))
				return newServiceError(opMoveTile, reasonUpdateFailed, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reordered, nil
}

// ReplaceWithin deletes every tile of the page and inserts descriptors with dense
// positions 0..n-1 in submitted order, using the caller's transaction. Replaying the same
// descriptors yields the same final content set.
func (s *Store) ReplaceWithin(tx *gorm.DB, footprintID int64, descriptors []Descriptor) ([]Tile, error) {
	if tx == nil {
		return nil, newServiceError(opReplaceTiles, reasonMissingDatabase, errMissingDatabase)
	}
	if footprintID <= 0 {
		return nil, newServiceError(opReplaceTiles, reasonInvalidFootprint, ErrInvalidFootprintID)
	}
	if len(descriptors) > s.maxTiles {
		return nil, newServiceError(opReplaceTiles, reasonTileLimit, ErrTooManyTiles)
	}
	if err := s.lockSequence(tx, opReplaceTiles, footprintID); err != nil {
		return nil, err
	}

	for _, model := range []any{&MediaItem{}, &EmbedItem{}} {
		if err := tx.Where(queryFootprint, footprintID).Delete(model).Error; err != nil {
			s.logError(opReplaceTiles, reasonDeleteFailed, err, zap.Int64(fieldFootprintID, footprintID))
			return nil, newServiceError(opReplaceTiles, reasonDeleteFailed, err)
		}
	}

	tiles := make([]Tile, 0, len(descriptors))
	for _, descriptor := range descriptors {
		tileID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opReplaceTiles, reasonIDFailed, err, zap.Int64(fieldFootprintID, footprintID))
			return nil, newServiceError(opReplaceTiles, reasonIDFailed, err)
		}
		tiles = append(tiles, Tile{ID: tileID, Partition: descriptor.Platform.Partition(), Descriptor: descriptor})
	}
	tiles = Renumber(tiles)

	for _, tile := range tiles {
		if err := s.insertTile(tx, footprintID, tile); err != nil {
			s.logError(opReplaceTiles, reasonInsertFailed, err, zap.Int64(fieldFootprintID, footprintID))
			return nil, newServiceError(opReplaceTiles, reasonInsertFailed, err)
		}
	}
	return tiles, nil
}

// lockSequence bumps the page's sequence row. Postgres holds the row lock until the
// transaction ends; SQLite already serializes writers on its single connection.
func (s *Store) lockSequence(tx *gorm.DB, operation string, footprintID int64) error {
	now := s.clock().UTC().Unix()
	row := TileSequence{FootprintID: footprintID, Revision: 1, UpdatedAtSeconds: now}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: fieldFootprintID}},
		DoUpdates: clause.Assignments(map[string]any{
			"revision":     gorm.Expr("footprint_tile_sequences.revision + 1"),
			"updated_at_s": now,
		}),
	}).Create(&row).Error
	if err != nil {
		s.logError(operation, reasonLockFailed, err, zap.Int64(fieldFootprintID, footprintID))
		return newServiceError(operation, reasonLockFailed, err)
	}
	return nil
}

func (s *Store) listWithin(tx *gorm.DB, operation string, footprintID int64) ([]Tile, error) {
	var mediaRows []MediaItem
	if err := tx.Where(queryFootprint, footprintID).Order(orderPositionAsc).Find(&mediaRows).Error; err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.Int64(fieldFootprintID, footprintID))
		return nil, newServiceError(operation, reasonQueryFailed, err)
	}
	var embedRows []EmbedItem
	if err := tx.Where(queryFootprint, footprintID).Order(orderPositionAsc).Find(&embedRows).Error; err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.Int64(fieldFootprintID, footprintID))
		return nil, newServiceError(operation, reasonQueryFailed, err)
	}

	media := make([]Tile, 0, len(mediaRows))
	for _, row := range mediaRows {
		tile, err := row.tile()
		if err != nil {
			s.logError(operation, reasonStoredInvalid, err, zap.String(fieldTileID, row.TileID))
			return nil, newServiceError(operation, reasonStoredInvalid, err)
		}
		media = append(media, tile)
	}
	embeds := make([]Tile, 0, len(embedRows))
	for _, row := range embedRows {
		tile, err := row.tile()
		if err != nil {
			s.logError(operation, reasonStoredInvalid, err, zap.String(fieldTileID, row.TileID))
			return nil, newServiceError(operation, reasonStoredInvalid, err)
		}
		embeds = append(embeds, tile)
	}
	return Merge(media, embeds), nil
}

func (s *Store) insertTile(tx *gorm.DB, footprintID int64, tile Tile) error {
	createdAt := s.clock().UTC().Unix()
	switch tile.Partition {
	case PartitionMedia:
		row := mediaRow(footprintID, tile, createdAt)
		return tx.Create(&row).Error
	case PartitionEmbed:
		row := embedRow(footprintID, tile, createdAt)
		return tx.Create(&row).Error
	default:
		return ErrUnknownPartition
	}
}

func updatePosition(tx *gorm.DB, footprintID int64, tile Tile) error {
	var model any
	switch tile.Partition {
	case PartitionMedia:
		model = &MediaItem{}
	case PartitionEmbed:
		model = &EmbedItem{}
	default:
		return ErrUnknownPartition
	}
	result := tx.Model(model).
		Where(queryFootprintID, footprintID, tile.ID).
		Update("position", tile.Descriptor.Position)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("tile row vanished during reorder")
	}
	return nil
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger := noOpLogger
	if s != nil && s.logger != nil {
		logger = s.logger
	}
	logger.Error("content store error", attrs...)
}
