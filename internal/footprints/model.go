package footprints

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/footprint/internal/content"
)

const (
	maxDisplayNameLength = 80
	maxHandleLength      = 40
	maxBioLength         = 500
	maxImageURLLength    = 2048

	// DefaultTheme is applied when a draft names no theme.
	DefaultTheme = "default"
)

var (
	// ErrInvalidSlug indicates the slug violates the format rules or is reserved.
	ErrInvalidSlug = errors.New("footprints: invalid slug")
	// ErrInvalidProfile indicates a profile field exceeds its bounds.
	ErrInvalidProfile = errors.New("footprints: invalid profile")
	// ErrSlugTaken indicates the slug belongs to a different serial number.
	ErrSlugTaken = errors.New("footprints: slug taken")
	// ErrFootprintNotFound indicates no page exists for the slug.
	ErrFootprintNotFound = errors.New("footprints: not found")

	slugPattern   = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,38}[a-z0-9])$`)
	reservedSlugs = map[string]struct{}{
		"admin": {}, "api": {}, "app": {}, "auth": {}, "checkout": {}, "classify": {}, "dashboard": {},
		"footprints": {}, "help": {}, "login": {}, "logout": {}, "publish": {}, "settings": {},
		"slugs": {}, "static": {}, "support": {}, "webhooks": {}, "www": {},
	}
	themes = map[string]struct{}{
		DefaultTheme: {}, "midnight": {}, "paper": {}, "sunrise": {}, "forest": {}, "neon": {},
	}
)

// Slug is a validated, globally unique page address.
type Slug string

// NewSlug normalizes and validates raw input.
func NewSlug(rawInput string) (Slug, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawInput))
	if !slugPattern.MatchString(normalized) || strings.Contains(normalized, "--") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlug, rawInput)
	}
	if _, reserved := reservedSlugs[normalized]; reserved {
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidSlug, normalized)
	}
	return Slug(normalized), nil
}

// String returns the slug text.
func (s Slug) String() string {
	return string(s)
}

// Profile holds the display fields of a page.
type Profile struct {
	DisplayName   string `json:"display_name"`
	Handle        string `json:"handle"`
	Bio           string `json:"bio"`
	AvatarURL     string `json:"avatar_url"`
	BackgroundURL string `json:"background_url"`
	Theme         string `json:"theme"`
}

// Normalize trims fields, applies the default theme and validates bounds.
func (p Profile) Normalize() (Profile, error) {
	normalized := Profile{
		DisplayName:   strings.TrimSpace(p.DisplayName),
		Handle:        strings.TrimPrefix(strings.TrimSpace(p.Handle), "@"),
		Bio:           strings.TrimSpace(p.Bio),
		AvatarURL:     strings.TrimSpace(p.AvatarURL),
		BackgroundURL: strings.TrimSpace(p.BackgroundURL),
		Theme:         strings.ToLower(strings.TrimSpace(p.Theme)),
	}
	if normalized.Theme == "" {
		normalized.Theme = DefaultTheme
	}
	if _, ok := themes[normalized.Theme]; !ok {
		return Profile{}, fmt.Errorf("%w: unknown theme %q", ErrInvalidProfile, normalized.Theme)
	}
	if utf8.RuneCountInString(normalized.DisplayName) > maxDisplayNameLength {
		return Profile{}, fmt.Errorf("%w: display name exceeds %d characters", ErrInvalidProfile, maxDisplayNameLength)
	}
	if utf8.RuneCountInString(normalized.Handle) > maxHandleLength {
		return Profile{}, fmt.Errorf("%w: handle exceeds %d characters", ErrInvalidProfile, maxHandleLength)
	}
	if utf8.RuneCountInString(normalized.Bio) > maxBioLength {
		return Profile{}, fmt.Errorf("%w: bio exceeds %d characters", ErrInvalidProfile, maxBioLength)
	}
	for field, value := range map[string]string{"avatar_url": normalized.AvatarURL, "background_url": normalized.BackgroundURL} {
		if err := validateImageURL(value); err != nil {
			return Profile{}, fmt.Errorf("%w: %s %v", ErrInvalidProfile, field, err)
		}
	}
	return normalized, nil
}

func validateImageURL(raw string) error {
	if raw == "" {
		return nil
	}
	if len(raw) > maxImageURLLength {
		return fmt.Errorf("exceeds %d characters", maxImageURLLength)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("must be an http(s) url")
	}
	if parsed.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// Footprint is the published page row. PrimarySerial is set only on the serial's primary
// page, so its unique index allows at most one primary page per serial number.
type Footprint struct {
	ID               int64               `gorm:"column:id;primaryKey;autoIncrement"`
	SerialNumber     int64               `gorm:"column:serial_number;not null;index"`
	PrimarySerial    *int64              `gorm:"column:primary_serial;uniqueIndex"`
	Slug             string              `gorm:"column:slug;size:64;not null;uniqueIndex"`
	DisplayName      string              `gorm:"column:display_name;size:320;not null;default:''"`
	Handle           string              `gorm:"column:handle;size:160;not null;default:''"`
	Bio              string              `gorm:"column:bio;type:text;not null;default:''"`
	AvatarURL        string              `gorm:"column:avatar_url;type:text;not null;default:''"`
	BackgroundURL    string              `gorm:"column:background_url;type:text;not null;default:''"`
	Theme            string              `gorm:"column:theme;size:32;not null;default:'default'"`
	Published        bool                `gorm:"column:published;not null;default:false"`
	CreatedAtSeconds int64               `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64               `gorm:"column:updated_at_s;not null"`
	MediaItems       []content.MediaItem `gorm:"foreignKey:FootprintID;references:ID;constraint:OnDelete:CASCADE"`
	EmbedItems       []content.EmbedItem `gorm:"foreignKey:FootprintID;references:ID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (Footprint) TableName() string {
	return "footprints"
}

// IsPrimary reports whether this page is its serial number's primary page.
func (f Footprint) IsPrimary() bool {
	return f.PrimarySerial != nil
}

// Profile returns the display fields.
func (f Footprint) Profile() Profile {
	return Profile{
		DisplayName:   f.DisplayName,
		Handle:        f.Handle,
		Bio:           f.Bio,
		AvatarURL:     f.AvatarURL,
		BackgroundURL: f.BackgroundURL,
		Theme:         f.Theme,
	}
}

func (f *Footprint) applyProfile(profile Profile) {
	f.DisplayName = profile.DisplayName
	f.Handle = profile.Handle
	f.Bio = profile.Bio
	f.AvatarURL = profile.AvatarURL
	f.BackgroundURL = profile.BackgroundURL
	f.Theme = profile.Theme
}
