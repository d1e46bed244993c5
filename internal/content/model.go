package content

// MediaItem stores an image or video tile.
type MediaItem struct {
	TileID           string `gorm:"column:tile_id;primaryKey;size:36;not null"`
	FootprintID      int64  `gorm:"column:footprint_id;not null;index:idx_media_footprint_position,priority:1"`
	Position         int    `gorm:"column:position;not null;index:idx_media_footprint_position,priority:2"`
	Platform         string `gorm:"column:platform;size:32;not null"`
	URL              string `gorm:"column:url;type:text;not null"`
	Title            string `gorm:"column:title;size:512;not null;default:''"`
	Description      string `gorm:"column:description;type:text;not null;default:''"`
	ThumbnailURL     string `gorm:"column:thumbnail_url;type:text;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MediaItem) TableName() string {
	return "footprint_media_items"
}

// EmbedItem stores a link, platform embed or note tile.
type EmbedItem struct {
	TileID           string `gorm:"column:tile_id;primaryKey;size:36;not null"`
	FootprintID      int64  `gorm:"column:footprint_id;not null;index:idx_embed_footprint_position,priority:1"`
	Position         int    `gorm:"column:position;not null;index:idx_embed_footprint_position,priority:2"`
	Platform         string `gorm:"column:platform;size:32;not null"`
	URL              string `gorm:"column:url;type:text;not null;default:''"`
	Title            string `gorm:"column:title;type:text;not null;default:''"`
	Description      string `gorm:"column:description;type:text;not null;default:''"`
	ExternalID       string `gorm:"column:external_id;size:190;not null;default:''"`
	ThumbnailURL     string `gorm:"column:thumbnail_url;type:text;not null;default:''"`
	EmbedHTML        string `gorm:"column:embed_html;type:text;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (EmbedItem) TableName() string {
	return "footprint_embed_items"
}

// TileSequence is the per-page row every tile writer upserts before reading positions.
// The upsert takes the row lock, so concurrent writers on one page commit one at a time.
type TileSequence struct {
	FootprintID      int64 `gorm:"column:footprint_id;primaryKey;autoIncrement:false"`
	Revision         int64 `gorm:"column:revision;not null;default:0"`
	UpdatedAtSeconds int64 `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (TileSequence) TableName() string {
	return "footprint_tile_sequences"
}

func mediaRow(footprintID int64, tile Tile, createdAt int64) MediaItem {
	return MediaItem{
		TileID:           tile.ID,
		FootprintID:      footprintID,
		Position:         tile.Descriptor.Position,
		Platform:         tile.Descriptor.Platform.String(),
		URL:              tile.Descriptor.URL,
		Title:            tile.Descriptor.Title,
		Description:      tile.Descriptor.Description,
		ThumbnailURL:     tile.Descriptor.ThumbnailURL,
		CreatedAtSeconds: createdAt,
	}
}

func embedRow(footprintID int64, tile Tile, createdAt int64) EmbedItem {
	return EmbedItem{
		TileID:           tile.ID,
		FootprintID:      footprintID,
		Position:         tile.Descriptor.Position,
		Platform:         tile.Descriptor.Platform.String(),
		URL:              tile.Descriptor.URL,
		Title:            tile.Descriptor.Title,
		Description:      tile.Descriptor.Description,
		ExternalID:       tile.Descriptor.ExternalID,
		ThumbnailURL:     tile.Descriptor.ThumbnailURL,
		EmbedHTML:        tile.Descriptor.EmbedHTML,
		CreatedAtSeconds: createdAt,
	}
}

func (row MediaItem) tile() (Tile, error) {
	platform, err := ParsePlatform(row.Platform)
	if err != nil {
		return Tile{}, err
	}
	return Tile{
		ID:        row.TileID,
		Partition: PartitionMedia,
		Descriptor: Descriptor{
			Platform:     platform,
			URL:          row.URL,
			Title:        row.Title,
			Description:  row.Description,
			ThumbnailURL: row.ThumbnailURL,
			Position:     row.Position,
		},
	}, nil
}

func (row EmbedItem) tile() (Tile, error) {
	platform, err := ParsePlatform(row.Platform)
	if err != nil {
		return Tile{}, err
	}
	return Tile{
		ID:        row.TileID,
		Partition: PartitionEmbed,
		Descriptor: Descriptor{
			Platform:     platform,
			URL:          row.URL,
			Title:        row.Title,
			Description:  row.Description,
			ExternalID:   row.ExternalID,
			ThumbnailURL: row.ThumbnailURL,
			EmbedHTML:    row.EmbedHTML,
			Position:     row.Position,
		},
	}, nil
}
