package content

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

// ErrTileNotFound indicates the referenced tile is not part of the sequence.
var ErrTileNotFound = errors.New("content: tile not found")

// Merge unifies both partitions into one sequence ordered by position. Ties fall back to
// partition order and then to the tile id, which is time ordered and therefore tracks
// insertion order.
func Merge(media, embeds []Tile) []Tile {
	merged := make([]Tile, 0, len(media)+len(embeds))
	merged = append(merged, media...)
	merged = append(merged, embeds...)
	slices.SortStableFunc(merged, func(left, right Tile) int {
		if byPosition := cmp.Compare(left.Descriptor.Position, right.Descriptor.Position); byPosition != 0 {
			return byPosition
		}
		if byPartition := cmp.Compare(left.Partition.order(), right.Partition.order()); byPartition != 0 {
			return byPartition
		}
		return cmp.Compare(left.ID, right.ID)
	})
	return merged
}

// NextPosition returns the position an appended tile receives: max(existing, -1) + 1.
func NextPosition(sequence []Tile) int {
	highest := -1
	for _, tile := range sequence {
		if tile.Descriptor.Position > highest {
			highest = tile.Descriptor.Position
		}
	}
	return highest + 1
}

// Insert appends a tile at NextPosition and returns the extended sequence.
func Insert(sequence []Tile, tile Tile) []Tile {
	tile.Descriptor.Position = NextPosition(sequence)
	extended := make([]Tile, 0, len(sequence)+1)
	extended = append(extended, sequence...)
	return append(extended, tile)
}

// Remove drops the tile with the given id. Remaining positions are left untouched.
func Remove(sequence []Tile, tileID string) ([]Tile, bool) {
	remaining := make([]Tile, 0, len(sequence))
	removed := false
	for _, tile := range sequence {
		if tile.ID == tileID && !removed {
			removed = true
			continue
		}
		remaining = append(remaining, tile)
	}
	return remaining, removed
}

// Reorder moves a tile to newIndex and renumbers every tile to its dense index. Indexes
// beyond either end are clamped.
func Reorder(sequence []Tile, movedID string, newIndex int) ([]Tile, error) {
	ordered := Merge(sequence, nil)
	currentIndex := slices.IndexFunc(ordered, func(tile Tile) bool {
		return tile.ID == movedID
	})
	if currentIndex < 0 {
		return nil, fmt.Errorf("%w: %s", ErrTileNotFound, movedID)
	}

	moved := ordered[currentIndex]
	ordered = slices.Delete(ordered, currentIndex, currentIndex+1)
	newIndex = max(0, min(newIndex, len(ordered)))
	ordered = slices.Insert(ordered, newIndex, moved)
	return Renumber(ordered), nil
}

// Renumber assigns positions 0..n-1 in sequence order.
func Renumber(sequence []Tile) []Tile {
	renumbered := make([]Tile, len(sequence))
	for index, tile := range sequence {
		tile.Descriptor.Position = index
		renumbered[index] = tile
	}
	return renumbered
}

// IsDense reports whether positions in sequence order are exactly 0..n-1.
func IsDense(sequence []Tile) bool {
	for index, tile := range Merge(sequence, nil) {
		if tile.Descriptor.Position != index {
			return false
		}
	}
	return true
}
