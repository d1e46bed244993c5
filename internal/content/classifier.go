package content

import (
	"net/url"
	"path"
	"strings"
	"unicode"
)

var linkSchemes = map[string]struct{}{
	"http":   {},
	"https":  {},
	"mailto": {},
	"tel":    {},
}

// Classify maps pasted input to a typed descriptor. It never fails: unrecognized URLs
// degrade to PlatformLink and text that is not a URL becomes a PlatformNote. Position is
// left at zero for the caller to assign.
func Classify(input string) Descriptor {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" || strings.IndexFunc(trimmed, unicode.IsSpace) >= 0 {
		return noteDescriptor(trimmed)
	}

	target, ok := parseTarget(trimmed)
	if !ok {
		if looksLikeURL(trimmed) {
			return Descriptor{Platform: PlatformLink, URL: trimmed, Title: trimmed}
		}
		return noteDescriptor(trimmed)
	}

	scheme := strings.ToLower(target.Scheme)
	if _, allowed := linkSchemes[scheme]; !allowed {
		return noteDescriptor(trimmed)
	}
	if scheme != "http" && scheme != "https" {
		return Descriptor{Platform: PlatformLink, URL: target.String(), Title: opaqueTitle(target, trimmed)}
	}

	host := normalizeHost(target.Host)
	if host == "" {
		return Descriptor{Platform: PlatformLink, URL: trimmed, Title: trimmed}
	}

	if platform, ok := fileExtensionPlatform(target); ok {
		return fromReference(reference{platform: platform, canonical: target.String(), host: host})
	}

	for _, matcher := range platformMatchers {
		if !matcher.ownsHost(host) {
			continue
		}
		if ref, matched := matcher.match(target); matched {
			ref.host = host
			return fromReference(ref)
		}
		break
	}

	return fromReference(reference{platform: PlatformLink, canonical: target.String(), host: host})
}

func fromReference(ref reference) Descriptor {
	return Descriptor{
		Platform:     ref.platform,
		URL:          ref.canonical,
		Title:        titleFor(ref),
		ExternalID:   externalIDFor(ref),
		ThumbnailURL: thumbnailFor(ref),
		EmbedHTML:    embedFor(ref),
	}
}

func noteDescriptor(text string) Descriptor {
	return Descriptor{Platform: PlatformNote, Title: text}
}

// parseTarget accepts absolute URLs, protocol-relative URLs such as "//example.com/x" and
// scheme-less host/path input such as "youtu.be/abc". The last two are read as https.
func parseTarget(raw string) (*url.URL, bool) {
	if rest, relative := strings.CutPrefix(raw, "//"); relative {
		if !looksLikeURL(rest) || strings.Contains(rest, "://") {
			return nil, false
		}
		raw = rest
	}
	candidate := raw
	lower := strings.ToLower(raw)
	if !strings.Contains(lower, "://") && !hasOpaqueScheme(lower) {
		if !looksLikeURL(raw) {
			return nil, false
		}
		candidate = "https://" + raw
	}
	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Scheme == "" {
		return nil, false
	}
	return parsed, true
}

func hasOpaqueScheme(lower string) bool {
	index := strings.Index(lower, ":")
	if index <= 0 {
		return false
	}
	scheme := lower[:index]
	if _, ok := linkSchemes[scheme]; ok {
		return true
	}
	return scheme == "javascript" || scheme == "data" || scheme == "vbscript" || scheme == "file"
}

// looksLikeURL reports whether raw has a dotted host-like first segment.
func looksLikeURL(raw string) bool {
	lower := strings.ToLower(raw)
	if index := strings.Index(lower, "://"); index >= 0 {
		return index > 0
	}
	hostPart := lower
	if index := strings.IndexAny(hostPart, "/?#"); index >= 0 {
		hostPart = hostPart[:index]
	}
	if !strings.Contains(hostPart, ".") || strings.HasPrefix(hostPart, ".") || strings.HasSuffix(hostPart, ".") {
		return false
	}
	for _, r := range hostPart {
		if !(r == '.' || r == '-' || r == ':' || unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}

func fileExtensionPlatform(target *url.URL) (Platform, bool) {
	extension := strings.ToLower(path.Ext(target.Path))
	if extension == "" {
		return "", false
	}
	if _, ok := imageExtensions[extension]; ok {
		return PlatformImage, true
	}
	if _, ok := videoExtensions[extension]; ok {
		return PlatformVideo, true
	}
	return "", false
}

func opaqueTitle(target *url.URL, fallback string) string {
	if target.Opaque != "" {
		return target.Opaque
	}
	return fallback
}
