package content

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyPlatforms(t *testing.T) {
	testCases := []struct {
		name       string
		input      string
		platform   Platform
		url        string
		title      string
		externalID string
		thumbnail  string
		embeds     bool
	}{
		{
			name:       "youtube watch",
			input:      "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42",
			platform:   PlatformYouTube,
			url:        "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			title:      "YouTube video",
			externalID: "dQw4w9WgXcQ",
			thumbnail:  "https://i.ytimg.com/vi/dQw4w9WgXcQ/hqdefault.jpg",
			embeds:     true,
		},
		{
			name:       "scheme-less short link",
			input:      "youtu.be/dQw4w9WgXcQ",
			platform:   PlatformYouTube,
			url:        "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			title:      "YouTube video",
			externalID: "dQw4w9WgXcQ",
			thumbnail:  "https://i.ytimg.com/vi/dQw4w9WgXcQ/hqdefault.jpg",
			embeds:     true,
		},
		{
			name:       "vimeo channel",
			input:      "https://vimeo.com/channels/staffpicks/76979871",
			platform:   PlatformVimeo,
			url:        "https://vimeo.com/76979871",
			title:      "Vimeo video",
			externalID: "76979871",
			thumbnail:  "https://vumbnail.com/76979871.jpg",
			embeds:     true,
		},
		{
			name:       "loom share",
			input:      "https://www.loom.com/share/abcdef1234567890",
			platform:   PlatformLoom,
			url:        "https://www.loom.com/share/abcdef1234567890",
			title:      "Loom recording",
			externalID: "abcdef1234567890",
			thumbnail:  "https://cdn.loom.com/sessions/thumbnails/abcdef1234567890-with-play.gif",
			embeds:     true,
		},
		{
			name:       "spotify localized track",
			input:      "https://open.spotify.com/intl-de/track/4uLU6hMCjMI75M1A2tKUQC",
			platform:   PlatformSpotify,
			url:        "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC",
			title:      "Spotify track",
			externalID: "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
			embeds:     true,
		},
		{
			name:       "soundcloud track",
			input:      "https://soundcloud.com/forss/flickermood",
			platform:   PlatformSoundCloud,
			url:        "https://soundcloud.com/forss/flickermood",
			title:      "SoundCloud · forss",
			externalID: "forss/flickermood",
			embeds:     true,
		},
		{
			name:       "x status",
			input:      "https://x.com/jack/status/20",
			platform:   PlatformTwitter,
			url:        "https://x.com/jack/status/20",
			title:      "Post by @jack",
			externalID: "20",
			embeds:     true,
		},
		{
			name:       "instagram reel",
			input:      "https://instagram.com/reel/Cabc123/",
			platform:   PlatformInstagram,
			url:        "https://www.instagram.com/reel/Cabc123/",
			title:      "Instagram reel",
			externalID: "Cabc123",
			thumbnail:  "https://www.instagram.com/reel/Cabc123/media/?size=m",
			embeds:     true,
		},
		{
			name:       "tiktok video",
			input:      "https://www.tiktok.com/@scout/video/6718335390845095173",
			platform:   PlatformTikTok,
			url:        "https://www.tiktok.com/@scout/video/6718335390845095173",
			title:      "TikTok by @scout",
			externalID: "6718335390845095173",
			embeds:     true,
		},
		{
			name:      "image by extension",
			input:     "https://cdn.example.com/photos/cat.PNG",
			platform:  PlatformImage,
			url:       "https://cdn.example.com/photos/cat.PNG",
			title:     "cat.PNG",
			thumbnail: "https://cdn.example.com/photos/cat.PNG",
		},
		{
			name:     "video by extension",
			input:    "https://cdn.example.com/clips/intro.mp4",
			platform: PlatformVideo,
			url:      "https://cdn.example.com/clips/intro.mp4",
			title:    "intro.mp4",
		},
		{
			name:      "unmatched youtube path degrades to link",
			input:     "https://www.youtube.com/watch?v=short",
			platform:  PlatformLink,
			url:       "https://www.youtube.com/watch?v=short",
			title:     "youtube.com",
			thumbnail: "https://www.google.com/s2/favicons?sz=128&domain=youtube.com",
		},
		{
			name:      "generic link",
			input:     "https://blog.example.org/posts/1",
			platform:  PlatformLink,
			url:       "https://blog.example.org/posts/1",
			title:     "blog.example.org",
			thumbnail: "https://www.google.com/s2/favicons?sz=128&domain=blog.example.org",
		},
		{
			name:      "protocol-relative link",
			input:     "//example.com/x",
			platform:  PlatformLink,
			url:       "https://example.com/x",
			title:     "example.com",
			thumbnail: "https://www.google.com/s2/favicons?sz=128&domain=example.com",
		},
		{
			name:       "protocol-relative youtube",
			input:      "//youtu.be/dQw4w9WgXcQ",
			platform:   PlatformYouTube,
			url:        "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			title:      "YouTube video",
			externalID: "dQw4w9WgXcQ",
			thumbnail:  "https://i.ytimg.com/vi/dQw4w9WgXcQ/hqdefault.jpg",
			embeds:     true,
		},
		{
			name:     "mailto link",
			input:    "mailto:hello@example.com",
			platform: PlatformLink,
			url:      "mailto:hello@example.com",
			title:    "hello@example.com",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			descriptor := Classify(testCase.input)
			require.Equal(t, testCase.platform, descriptor.Platform)
			require.Equal(t, testCase.url, descriptor.URL)
			require.Equal(t, testCase.title, descriptor.Title)
			require.Equal(t, testCase.externalID, descriptor.ExternalID)
			require.Equal(t, testCase.thumbnail, descriptor.ThumbnailURL)
			if testCase.embeds {
				require.NotEmpty(t, descriptor.EmbedHTML)
			} else {
				require.Empty(t, descriptor.EmbedHTML)
			}
			require.Zero(t, descriptor.Position)
		})
	}
}

func TestClassifyFallsBackToNote(t *testing.T) {
	inputs := map[string]string{
		"plain text":           "just some words",
		"empty":                "",
		"whitespace":           "   ",
		"javascript url":       "javascript:alert(1)",
		"data url":             "data:text/html;base64,PHNjcmlwdD4=",
		"hostname without tld": "localhost",
		"double slash text":    "//notes",
		"relative javascript":  "//javascript:alert(1)",
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			descriptor := Classify(input)
			require.Equal(t, PlatformNote, descriptor.Platform)
			require.Empty(t, descriptor.URL)
			require.Empty(t, descriptor.EmbedHTML)
		})
	}
}

func TestClassifyEmbedMarkupUsesCanonicalSource(t *testing.T) {
	descriptor := Classify(`https://soundcloud.com/forss/flickermood?"><script>alert(1)</script>`)
	require.Equal(t, PlatformSoundCloud, descriptor.Platform)
	require.NotContains(t, descriptor.EmbedHTML, "<script>")
	require.Contains(t, descriptor.EmbedHTML, "url=https%3A%2F%2Fsoundcloud.com%2Fforss%2Fflickermood")

	youtube := Classify("https://www.youtube.com/shorts/dQw4w9WgXcQ")
	require.Contains(t, youtube.EmbedHTML, `src="https://www.youtube-nocookie.com/embed/dQw4w9WgXcQ"`)
}

func TestDescriptorWithTitle(t *testing.T) {
	descriptor := Classify("https://x.com/jack/status/20")
	require.Equal(t, "Pinned", descriptor.WithTitle("  Pinned ").Title)
	require.Equal(t, "Post by @jack", descriptor.WithTitle("   ").Title)
}

func TestPlatformPartitions(t *testing.T) {
	for _, platform := range AllPlatforms() {
		parsed, err := ParsePlatform(platform.String())
		require.NoError(t, err)
		require.Equal(t, platform, parsed)

		want := PartitionEmbed
		if platform == PlatformImage || platform == PlatformVideo {
			want = PartitionMedia
		}
		require.Equal(t, want, platform.Partition(), platform.String())
	}

	_, err := ParsePlatform("myspace")
	require.ErrorIs(t, err, ErrUnknownPlatform)
}
