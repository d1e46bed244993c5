package publish

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/footprint/internal/content"
	"github.com/MarcoPoloResearchLab/footprint/internal/footprints"
)

const (
	maxTileInputLength = 4096
	maxTileTitleLength = 200
)

var (
	// ErrInvalidDraft indicates the draft cannot be published as submitted.
	ErrInvalidDraft = errors.New("publish: invalid draft")
	// ErrTooManyTiles indicates the draft exceeds the per-page tile limit.
	ErrTooManyTiles = errors.New("publish: too many tiles")
)

// DraftTile is one pasted input. Tiles are classified on the server; a client never
// supplies descriptor fields directly.
type DraftTile struct {
	Input string `json:"input"`
	Title string `json:"title,omitempty"`
}

// Draft is the unpersisted page the buyer assembled before paying.
type Draft struct {
	Profile footprints.Profile `json:"profile"`
	Tiles   []DraftTile        `json:"tiles"`
}

// Request is one publish attempt.
type Request struct {
	TransactionID string
	Slug          string
	Draft         Draft
}

type preparedDraft struct {
	profile     footprints.Profile
	descriptors []content.Descriptor
}

func prepareDraft(draft Draft, maxTiles int) (preparedDraft, error) {
	profile, err := draft.Profile.Normalize()
	if err != nil {
		return preparedDraft{}, err
	}
	if maxTiles > 0 && len(draft.Tiles) > maxTiles {
		return preparedDraft{}, fmt.Errorf("%w: %d tiles, limit %d", ErrTooManyTiles, len(draft.Tiles), maxTiles)
	}
	descriptors := make([]content.Descriptor, 0, len(draft.Tiles))
	for index, tile := range draft.Tiles {
		if len(tile.Input) > maxTileInputLength {
			return preparedDraft{}, fmt.Errorf("%w: tile %d input exceeds %d bytes", ErrInvalidDraft, index, maxTileInputLength)
		}
		title := strings.TrimSpace(tile.Title)
		if utf8.RuneCountInString(title) > maxTileTitleLength {
			return preparedDraft{}, fmt.Errorf("%w: tile %d title exceeds %d characters", ErrInvalidDraft, index, maxTileTitleLength)
		}
		descriptors = append(descriptors, content.Classify(tile.Input).WithTitle(title))
	}
	return preparedDraft{profile: profile, descriptors: descriptors}, nil
}
