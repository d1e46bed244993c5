package content

import (
	"fmt"
	"html"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	youtubeIDPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	numericIDPattern   = regexp.MustCompile(`^[0-9]{1,24}$`)
	loomIDPattern      = regexp.MustCompile(`^[A-Za-z0-9]{10,64}$`)
	spotifyIDPattern   = regexp.MustCompile(`^[A-Za-z0-9]{22}$`)
	instagramIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{5,64}$`)
	slugSegmentPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

	imageExtensions = map[string]struct{}{
		".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".avif": {}, ".svg": {}, ".bmp": {},
	}
	videoExtensions = map[string]struct{}{
		".mp4": {}, ".webm": {}, ".mov": {}, ".m4v": {}, ".ogv": {},
	}
	spotifyKinds = map[string]struct{}{
		"track": {}, "album": {}, "playlist": {}, "episode": {}, "show": {}, "artist": {},
	}
	soundcloudReserved = map[string]struct{}{
		"discover": {}, "search": {}, "stream": {}, "upload": {}, "you": {}, "pages": {},
	}
)

// reference is the identifier extracted from a matched platform URL.
type reference struct {
	platform  Platform
	id        string
	kind      string
	owner     string
	canonical string
	host      string
}

type platformMatcher struct {
	platform Platform
	hosts    []string
	match    func(target *url.URL) (reference, bool)
}

// platformMatchers is ordered from most to least specific. Host sets are disjoint, so at
// most one matcher can claim a given URL.
var platformMatchers = []platformMatcher{
	{
		platform: PlatformYouTube,
		hosts:    []string{"youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be", "youtube-nocookie.com"},
		match:    matchYouTube,
	},
	{
		platform: PlatformVimeo,
		hosts:    []string{"vimeo.com", "player.vimeo.com"},
		match:    matchVimeo,
	},
	{
		platform: PlatformLoom,
		hosts:    []string{"loom.com"},
		match:    matchLoom,
	},
	{
		platform: PlatformSpotify,
		hosts:    []string{"open.spotify.com"},
		match:    matchSpotify,
	},
	{
		platform: PlatformSoundCloud,
		hosts:    []string{"soundcloud.com", "m.soundcloud.com"},
		match:    matchSoundCloud,
	},
	{
		platform: PlatformTwitter,
		hosts:    []string{"twitter.com", "mobile.twitter.com", "x.com"},
		match:    matchTwitter,
	},
	{
		platform: PlatformInstagram,
		hosts:    []string{"instagram.com"},
		match:    matchInstagram,
	},
	{
		platform: PlatformTikTok,
		hosts:    []string{"tiktok.com", "m.tiktok.com"},
		match:    matchTikTok,
	},
}

func (m platformMatcher) ownsHost(host string) bool {
	for _, candidate := range m.hosts {
		if host == candidate {
			return true
		}
	}
	return false
}

func matchYouTube(target *url.URL) (reference, bool) {
	segments := pathSegments(target)
	var id string
	switch {
	case normalizeHost(target.Host) == "youtu.be" && len(segments) >= 1:
		id = segments[0]
	case len(segments) >= 1 && segments[0] == "watch":
		id = target.Query().Get("v")
	case len(segments) >= 2 && (segments[0] == "shorts" || segments[0] == "embed" || segments[0] == "live" || segments[0] == "v"):
		id = segments[1]
	}
	if !youtubeIDPattern.MatchString(id) {
		return reference{}, false
	}
	return reference{
		platform:  PlatformYouTube,
		id:        id,
		canonical: "https://www.youtube.com/watch?v=" + id,
	}, true
}

func matchVimeo(target *url.URL) (reference, bool) {
	for _, segment := range pathSegments(target) {
		if numericIDPattern.MatchString(segment) {
			return reference{
				platform:  PlatformVimeo,
				id:        segment,
				canonical: "https://vimeo.com/" + segment,
			}, true
		}
	}
	return reference{}, false
}

func matchLoom(target *url.URL) (reference, bool) {
	segments := pathSegments(target)
	if len(segments) < 2 || (segments[0] != "share" && segments[0] != "embed") {
		return reference{}, false
	}
	if !loomIDPattern.MatchString(segments[1]) {
		return reference{}, false
	}
	return reference{
		platform:  PlatformLoom,
		id:        segments[1],
		canonical: "https://www.loom.com/share/" + segments[1],
	}, true
}

func matchSpotify(target *url.URL) (reference, bool) {
	segments := pathSegments(target)
	if len(segments) > 0 && strings.HasPrefix(segments[0], "intl-") {
		segments = segments[1:]
	}
	if len(segments) > 0 && segments[0] == "embed" {
		segments = segments[1:]
	}
	if len(segments) < 2 {
		return reference{}, false
	}
	if _, ok := spotifyKinds[segments[0]]; !ok || !spotifyIDPattern.MatchString(segments[1]) {
		return reference{}, false
	}
	return reference{
		platform:  PlatformSpotify,
		id:        segments[1],
		kind:      segments[0],
		canonical: fmt.Sprintf("https://open.spotify.com/%s/%s", segments[0], segments[1]),
	}, true
}

func matchSoundCloud(target *url.URL) (reference, bool) {
	segments := pathSegments(target)
	if len(segments) < 2 {
		return reference{}, false
	}
	if _, reserved := soundcloudReserved[segments[0]]; reserved {
		return reference{}, false
	}
	track := segments[1]
	if track == "sets" {
		if len(segments) < 3 {
			return reference{}, false
		}
		track = "sets/" + segments[2]
	}
	for _, segment := range strings.Split(segments[0]+"/"+track, "/") {
		if !slugSegmentPattern.MatchString(segment) {
			return reference{}, false
		}
	}
	id := segments[0] + "/" + track
	return reference{
		platform:  PlatformSoundCloud,
		id:        id,
		owner:     segments[0],
		canonical: "https://soundcloud.com/" + id,
	}, true
}

func matchTwitter(target *url.URL) (reference, bool) {
	segments := pathSegments(target)
	if len(segments) < 3 || segments[1] != "status" || !numericIDPattern.MatchString(segments[2]) {
		return reference{}, false
	}
	if !slugSegmentPattern.MatchString(segments[0]) {
		return reference{}, false
	}
	return reference{
		platform:  PlatformTwitter,
		id:        segments[2],
		owner:     segments[0],
		canonical: fmt.Sprintf("https://x.com/%s/status/%s", segments[0], segments[2]),
	}, true
}

func matchInstagram(target *url.URL) (reference, bool) {
	segments := pathSegments(target)
	if len(segments) < 2 {
		return reference{}, false
	}
	kind := segments[0]
	if kind != "p" && kind != "reel" && kind != "tv" {
		return reference{}, false
	}
	if !instagramIDPattern.MatchString(segments[1]) {
		return reference{}, false
	}
	return reference{
		platform:  PlatformInstagram,
		id:        segments[1],
		kind:      kind,
		canonical: fmt.Sprintf("https://www.instagram.com/%s/%s/", kind, segments[1]),
	}, true
}

func matchTikTok(target *url.URL) (reference, bool) {
	segments := pathSegments(target)
	if len(segments) < 3 || !strings.HasPrefix(segments[0], "@") || segments[1] != "video" {
		return reference{}, false
	}
	if !numericIDPattern.MatchString(segments[2]) {
		return reference{}, false
	}
	return reference{
		platform:  PlatformTikTok,
		id:        segments[2],
		owner:     segments[0],
		canonical: fmt.Sprintf("https://www.tiktok.com/%s/video/%s", segments[0], segments[2]),
	}, true
}

// externalIDFor maps a reference to the identifier persisted on the descriptor.
func externalIDFor(ref reference) string {
	switch ref.platform {
	case PlatformSpotify:
		return "spotify:" + ref.kind + ":" + ref.id
	case PlatformImage, PlatformVideo, PlatformLink, PlatformNote:
		return ""
	default:
		return ref.id
	}
}

// titleFor derives the fallback title shown before a user renames a tile.
func titleFor(ref reference) string {
	switch ref.platform {
	case PlatformImage, PlatformVideo:
		if name := path.Base(strings.TrimSuffix(pathOf(ref.canonical), "/")); name != "" && name != "." && name != "/" {
			return name
		}
		return ref.host
	case PlatformYouTube:
		return "YouTube video"
	case PlatformVimeo:
		return "Vimeo video"
	case PlatformLoom:
		return "Loom recording"
	case PlatformSpotify:
		return "Spotify " + ref.kind
	case PlatformSoundCloud:
		return "SoundCloud · " + ref.owner
	case PlatformTwitter:
		return "Post by @" + ref.owner
	case PlatformInstagram:
		return "Instagram " + instagramKindLabel(ref.kind)
	case PlatformTikTok:
		return "TikTok by " + ref.owner
	case PlatformLink:
		return ref.host
	case PlatformNote:
		return ref.id
	default:
		return ref.host
	}
}

// thumbnailFor derives a thumbnail URL from the matched identifier without network access.
func thumbnailFor(ref reference) string {
	switch ref.platform {
	case PlatformImage:
		return ref.canonical
	case PlatformYouTube:
		return "https://i.ytimg.com/vi/" + ref.id + "/hqdefault.jpg"
	case PlatformVimeo:
		return "https://vumbnail.com/" + ref.id + ".jpg"
	case PlatformLoom:
		return "https://cdn.loom.com/sessions/thumbnails/" + ref.id + "-with-play.gif"
	case PlatformInstagram:
		return fmt.Sprintf("https://www.instagram.com/%s/%s/media/?size=m", ref.kind, ref.id)
	case PlatformLink:
		if ref.host == "" {
			return ""
		}
		return "https://www.google.com/s2/favicons?sz=128&domain=" + url.QueryEscape(ref.host)
	case PlatformVideo, PlatformSpotify, PlatformSoundCloud, PlatformTwitter, PlatformTikTok, PlatformNote:
		return ""
	default:
		return ""
	}
}

// embedFor renders the embeddable markup for a platform reference, or "" when the tile
// renders natively.
func embedFor(ref reference) string {
	switch ref.platform {
	case PlatformYouTube:
		return iframe("https://www.youtube-nocookie.com/embed/"+ref.id, 315)
	case PlatformVimeo:
		return iframe("https://player.vimeo.com/video/"+ref.id, 315)
	case PlatformLoom:
		return iframe("https://www.loom.com/embed/"+ref.id, 315)
	case PlatformSpotify:
		height := 352
		if ref.kind == "track" || ref.kind == "episode" {
			height = 152
		}
		return iframe(fmt.Sprintf("https://open.spotify.com/embed/%s/%s", ref.kind, ref.id), height)
	case PlatformSoundCloud:
		return iframe("https://w.soundcloud.com/player/?visual=true&url="+url.QueryEscape(ref.canonical), 166)
	case PlatformTwitter:
		return fmt.Sprintf(`<blockquote class="twitter-tweet"><a href="%s"></a></blockquote>`,
			html.EscapeString("https://twitter.com/i/status/"+ref.id))
	case PlatformInstagram:
		return iframe(fmt.Sprintf("https://www.instagram.com/%s/%s/embed", ref.kind, ref.id), 480)
	case PlatformTikTok:
		return iframe("https://www.tiktok.com/embed/v2/"+ref.id, 575)
	case PlatformImage, PlatformVideo, PlatformLink, PlatformNote:
		return ""
	default:
		return ""
	}
}

func iframe(source string, height int) string {
	return fmt.Sprintf(
		`<iframe src="%s" width="100%%" height="%d" frameborder="0" loading="lazy" allow="autoplay; clipboard-write; encrypted-media; fullscreen; picture-in-picture" allowfullscreen></iframe>`,
		html.EscapeString(source), height)
}

func instagramKindLabel(kind string) string {
	switch kind {
	case "reel":
		return "reel"
	case "tv":
		return "video"
	default:
		return "post"
	}
}

func pathSegments(target *url.URL) []string {
	raw := strings.Trim(target.Path, "/")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, "/")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if index := strings.LastIndex(host, ":"); index >= 0 && !strings.Contains(host[index:], "]") {
		host = host[:index]
	}
	return strings.TrimPrefix(strings.TrimSuffix(host, "."), "www.")
}

func pathOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return parsed.Path
}
