package content

import (
	"errors"
	"fmt"
	"strings"
)

// Platform tags the kind of content a tile renders.
type Platform string

const (
	PlatformImage      Platform = "image"
	PlatformVideo      Platform = "video"
	PlatformYouTube    Platform = "youtube"
	PlatformVimeo      Platform = "vimeo"
	PlatformLoom       Platform = "loom"
	PlatformSpotify    Platform = "spotify"
	PlatformSoundCloud Platform = "soundcloud"
	PlatformTwitter    Platform = "twitter"
	PlatformInstagram  Platform = "instagram"
	PlatformTikTok     Platform = "tiktok"
	PlatformLink       Platform = "link"
	PlatformNote       Platform = "note"
)

// Partition identifies which physical table holds a tile.
type Partition string

const (
	// PartitionMedia holds binary media tiles (images and videos).
	PartitionMedia Partition = "media"
	// PartitionEmbed holds links, platform embeds and notes.
	PartitionEmbed Partition = "embed"
)

var (
	// ErrUnknownPlatform indicates a platform tag outside the closed set.
	ErrUnknownPlatform = errors.New("content: unknown platform")
	// ErrUnknownPartition indicates a partition value outside the closed set.
	ErrUnknownPartition = errors.New("content: unknown partition")
)

// AllPlatforms lists every supported platform in classification priority order.
func AllPlatforms() []Platform {
	return []Platform{
		PlatformImage,
		PlatformVideo,
		PlatformYouTube,
		PlatformVimeo,
		PlatformLoom,
		PlatformSpotify,
		PlatformSoundCloud,
		PlatformTwitter,
		PlatformInstagram,
		PlatformTikTok,
		PlatformLink,
		PlatformNote,
	}
}

// ParsePlatform validates a stored or client-provided platform tag.
func ParsePlatform(raw string) (Platform, error) {
	candidate := Platform(strings.ToLower(strings.TrimSpace(raw)))
	for _, platform := range AllPlatforms() {
		if platform == candidate {
			return platform, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, raw)
}

// Partition reports the storage partition for the platform.
func (p Platform) Partition() Partition {
	switch p {
	case PlatformImage, PlatformVideo:
		return PartitionMedia
	default:
		return PartitionEmbed
	}
}

// String returns the platform tag.
func (p Platform) String() string {
	return string(p)
}

// order ranks partitions when positions tie during a merge.
func (p Partition) order() int {
	if p == PartitionMedia {
		return 0
	}
	return 1
}

// Descriptor is a classified, renderable tile of content.
type Descriptor struct {
	Platform    Platform `json:"platform"`
	URL         string   `json:"url,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	// ExternalID is the identifier matched inside a platform URL (video id, track id, status id).
	ExternalID   string `json:"external_id,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	EmbedHTML    string `json:"embed_html,omitempty"`
	Position     int    `json:"position"`
}

// WithTitle returns a copy of the descriptor with a caller-supplied title when non-empty.
func (d Descriptor) WithTitle(title string) Descriptor {
	if trimmed := strings.TrimSpace(title); trimmed != "" {
		d.Title = trimmed
	}
	return d
}

// Tile is a stored descriptor with its identity and partition.
type Tile struct {
	ID         string     `json:"id"`
	Partition  Partition  `json:"partition"`
	Descriptor Descriptor `json:"descriptor"`
}
