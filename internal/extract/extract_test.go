package extract

import "testing"

const (
	cloudflareManifest = "https://customer-abc.cloudflarestream.com/eyJhbGciOiJSUzI1NiJ9.TOKEN/manifest/video.m3u8"
	smartPlayerVideo   = "https://stream.smartplayer.io/0a1b2c3d/4e5f6a7b/lesson-01_720p.mp4"
	scaleUpPlaylist    = "https://stream.scaleup.com.br/player/v1/playlists/abc123.m3u8"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		url      string
		expected Classification
	}{
		{"https://hub.la/curso/x", NeedsExtraction},
		{"https://app.hub.la/g/abc/content", NeedsExtraction},
		{"https://cursos.codigoviral.com.br/aula/1", NeedsExtraction},
		{"https://hotmart.com/pt-br/club/whatever", NeedsExtraction},
		{"https://kiwify.com.br/course/2", NeedsExtraction},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", Direct},
		{"https://vimeo.com/12345", Direct},
		{cloudflareManifest, Direct},
		{smartPlayerVideo, Direct},
		{scaleUpPlaylist, Direct},
	}

	for _, test := range tests {
		result := Classify(test.url)
		if result != test.expected {
			t.Errorf("Classify(%s) = %v, expected %v", test.url, result, test.expected)
		}
	}
}

func TestIsDirectStream(t *testing.T) {
	tests := []struct {
		url      string
		expected bool
	}{
		{cloudflareManifest, true},
		{smartPlayerVideo, true},
		{scaleUpPlaylist, true},
		{"https://hub.la/curso/x", false},
		{"https://www.youtube.com/watch?v=abc", false},
		{"https://cloudflarestream.com/without/manifest", false},
	}

	for _, test := range tests {
		result := IsDirectStream(test.url)
		if result != test.expected {
			t.Errorf("IsDirectStream(%s) = %v, expected %v", test.url, result, test.expected)
		}
	}
}

func TestIsSmartPlayer(t *testing.T) {
	tests := []struct {
		url      string
		expected bool
	}{
		{smartPlayerVideo, true},
		{"https://STREAM.SMARTPLAYER.IO/aa/bb/x_480p.mp4", true},
		{scaleUpPlaylist, true},
		{cloudflareManifest, false},
		{"https://www.youtube.com/watch?v=abc", false},
	}

	for _, test := range tests {
		result := IsSmartPlayer(test.url)
		if result != test.expected {
			t.Errorf("IsSmartPlayer(%s) = %v, expected %v", test.url, result, test.expected)
		}
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name         string
		originalURL  string
		extractedURL string
		expected     string
	}{
		{
			name:         "extracted stream wins",
			originalURL:  "https://hub.la/curso/x",
			extractedURL: cloudflareManifest,
			expected:     cloudflareManifest,
		},
		{
			name:         "extracted non-stream ignored",
			originalURL:  "https://hub.la/curso/x",
			extractedURL: "https://hub.la/player/frame",
			expected:     "https://hub.la/curso/x",
		},
		{
			name:        "original already a stream",
			originalURL: smartPlayerVideo,
			expected:    smartPlayerVideo,
		},
		{
			name:        "plain URL passes through",
			originalURL: "https://www.youtube.com/watch?v=abc",
			expected:    "https://www.youtube.com/watch?v=abc",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := Resolve(test.originalURL, test.extractedURL)
			if result != test.expected {
				t.Errorf("Resolve(%s, %s) = %s, expected %s", test.originalURL, test.extractedURL, result, test.expected)
			}
		})
	}
}

func TestSmartPlayerAudioURL(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{
			"https://stream.smartplayer.io/aa/bb/lesson-01_720p.mp4",
			"https://stream.smartplayer.io/aa/bb/lesson-01_en_192k.mp4",
		},
		{
			"https://stream.smartplayer.io/aa/bb/lesson-01_1080p.mp4",
			"https://stream.smartplayer.io/aa/bb/lesson-01_en_192k.mp4",
		},
		{
			"https://stream.smartplayer.io/aa/bb/lesson-01_480p.m3u8",
			"https://stream.smartplayer.io/aa/bb/lesson-01_en_192k.m3u8",
		},
		{
			// No quality suffix: nothing to rewrite.
			"https://stream.smartplayer.io/aa/bb/lesson-01.mp4",
			"https://stream.smartplayer.io/aa/bb/lesson-01.mp4",
		},
	}

	for _, test := range tests {
		result := SmartPlayerAudioURL(test.url)
		if result != test.expected {
			t.Errorf("SmartPlayerAudioURL(%s) = %s, expected %s", test.url, result, test.expected)
		}
	}
}

func TestFindStreamURL(t *testing.T) {
	page := `{"player":{"src":"https://customer-f33zs.cloudflarestream.com/abc_DEF-123/manifest/video.m3u8","poster":"x.jpg"}}`
	expected := "https://customer-f33zs.cloudflarestream.com/abc_DEF-123/manifest/video.m3u8"

	if result := FindStreamURL(page); result != expected {
		t.Errorf("FindStreamURL() = %s, expected %s", result, expected)
	}

	if result := FindStreamURL("<html>no video here</html>"); result != "" {
		t.Errorf("FindStreamURL() on plain text = %s, expected empty", result)
	}
}
