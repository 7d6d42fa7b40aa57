// Package extract classifies URLs and rewrites them for download. Some
// course platforms (Hub.la, Código Viral, Hotmart, ...) host video on
// Cloudflare Stream or SmartPlayer behind JWT-authenticated manifests; the
// page URL the user sees never resolves to media directly. This package is a
// pure pattern classifier plus rewrite rules: actual page-script execution is
// left to the browser-side extension.
package extract

import (
	"regexp"
	"strings"
)

// Classification is the routing verdict for an input URL.
type Classification int

const (
	// Direct means the URL can be handed to the download engine as-is.
	Direct Classification = iota

	// NeedsExtraction means the URL is a special-player platform page whose
	// real media URL must be supplied by the browser extension.
	NeedsExtraction
)

// Platforms known to hide media behind special players. Adding a platform is
// a table entry, not a new type.
var specialPlayerPlatforms = []*regexp.Regexp{
	regexp.MustCompile(`(?i)hub\.la`),
	regexp.MustCompile(`(?i)app\.hub\.la`),
	regexp.MustCompile(`(?i)codigoviral\.com\.br`),
	regexp.MustCompile(`(?i)cursos\.codigoviral\.com\.br`),
	regexp.MustCompile(`(?i)hotmart\.com`),
	regexp.MustCompile(`(?i)eduzz\.com`),
	regexp.MustCompile(`(?i)kiwify\.com\.br`),
	regexp.MustCompile(`(?i)monetizze\.com\.br`),
	regexp.MustCompile(`(?i)areademembros\.com`),
}

// Resolved direct-stream URL shapes.
var (
	cloudflareStreamPattern = regexp.MustCompile(`(?i)https?://[^/]*cloudflarestream\.com/[^/]+/manifest/video\.m3u8`)
	smartPlayerPattern      = regexp.MustCompile(`(?i)https?://stream\.smartplayer\.io/[a-f0-9]+/[a-f0-9]+/[^"'\s]+\.(mp4|m3u8)`)
	scaleUpPattern          = regexp.MustCompile(`(?i)https?://stream\.scaleup\.com\.br/player/v1/playlists/[^"'\s]+\.m3u8`)

	// Cloudflare Stream URL with a JWT token, as it appears embedded in page
	// text or JSON.
	cloudflareEmbedPattern = regexp.MustCompile(`https?://customer-[a-z0-9]+\.cloudflarestream\.com/[A-Za-z0-9_-]+/manifest/video\.m3u8`)

	// SmartPlayer serves video and audio as sibling files distinguished only
	// by a filename suffix: video is *_720p.mp4, audio is *_en_192k.mp4.
	smartPlayerVideoSuffixMP4  = regexp.MustCompile(`_\d+p\.mp4`)
	smartPlayerVideoSuffixM3U8 = regexp.MustCompile(`_\d+p\.m3u8`)
)

const smartPlayerAudioBitrate = "_en_192k"

// IsSpecialPlatform reports whether the URL belongs to a platform known to
// use a special player.
func IsSpecialPlatform(url string) bool {
	for _, pattern := range specialPlayerPlatforms {
		if pattern.MatchString(url) {
			return true
		}
	}
	return false
}

// IsCloudflareStream reports whether the URL is a Cloudflare Stream manifest.
func IsCloudflareStream(url string) bool {
	return cloudflareStreamPattern.MatchString(url)
}

// IsSmartPlayer reports whether the URL is served by SmartPlayer or ScaleUp,
// which require the audio-sibling special case.
func IsSmartPlayer(url string) bool {
	lower := strings.ToLower(url)
	return strings.Contains(lower, "smartplayer.io") || strings.Contains(lower, "scaleup.com.br")
}

// IsDirectStream reports whether the URL already points at raw media and
// needs no page-script extraction.
func IsDirectStream(url string) bool {
	return IsCloudflareStream(url) ||
		smartPlayerPattern.MatchString(url) ||
		scaleUpPattern.MatchString(url)
}

// Classify routes an input URL. NeedsExtraction is returned only for
// special-platform page URLs that are not already resolved stream URLs.
func Classify(url string) Classification {
	if IsSpecialPlatform(url) && !IsDirectStream(url) {
		return NeedsExtraction
	}
	return Direct
}

// Resolve picks the effective download URL. A browser-extracted stream URL
// wins when present and recognized; a URL that is already a direct stream is
// used unchanged; anything else is left to the download engine.
func Resolve(originalURL, clientExtractedURL string) string {
	if clientExtractedURL != "" && IsDirectStream(clientExtractedURL) {
		return clientExtractedURL
	}
	if IsDirectStream(originalURL) {
		return originalURL
	}
	return originalURL
}

// SmartPlayerAudioURL rewrites a SmartPlayer video URL to its audio sibling
// by replacing the quality suffix with the audio suffix. The URL is returned
// unchanged when no quality suffix is present.
func SmartPlayerAudioURL(videoURL string) string {
	audioURL := smartPlayerVideoSuffixMP4.ReplaceAllString(videoURL, smartPlayerAudioBitrate+".mp4")
	if audioURL == videoURL {
		audioURL = smartPlayerVideoSuffixM3U8.ReplaceAllString(videoURL, smartPlayerAudioBitrate+".m3u8")
	}
	return audioURL
}

// FindStreamURL pulls the first embedded Cloudflare Stream URL out of page
// text or JSON, or returns "" if none is present.
func FindStreamURL(text string) string {
	return cloudflareEmbedPattern.FindString(text)
}
