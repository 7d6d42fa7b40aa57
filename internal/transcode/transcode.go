// Package transcode wraps the external ffmpeg installation used for
// audio-only post-processing. Availability is probed once at startup so
// audio-only requests can be refused up front instead of failing mid-stream.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clipdesk/clipdesk/internal/model"
)

// FFmpeg constants for audio extraction
const (
	FFmpegCommand  = "ffmpeg"
	FFprobeCommand = "ffprobe"

	AudioCodec   = "libmp3lame"
	AudioBitrate = "192k"

	OutputExtensionMP3 = ".mp3"

	// ExtractTimeout bounds one transcode run. Transfers themselves carry no
	// timeout; only post-processing does.
	ExtractTimeout = 5 * time.Minute
)

// Well-known install locations probed after the configured override.
var searchDirs = []string{
	"/opt/homebrew/bin",
	"/usr/local/bin",
	"/usr/bin",
}

// Transcoder invokes ffmpeg from a discovered location. A zero location
// means no usable installation was found and Available reports false.
type Transcoder struct {
	location string
	log      *logrus.Entry
}

// NewAt returns a transcoder bound to an already-known ffmpeg directory,
// bypassing discovery. An empty location means unavailable.
func NewAt(location string, logger *logrus.Logger) *Transcoder {
	return &Transcoder{
		location: location,
		log:      logger.WithField("component", "transcode"),
	}
}

// Discover finds a directory containing both ffmpeg and ffprobe. The
// override (from config) is checked first, then PATH, then well-known
// locations. A Transcoder is always returned; check Available.
func Discover(override string, logger *logrus.Logger) *Transcoder {
	t := &Transcoder{log: logger.WithField("component", "transcode")}

	candidates := make([]string, 0, len(searchDirs)+2)
	if override != "" {
		// Accept either the directory or the ffmpeg binary path itself.
		if info, err := os.Stat(override); err == nil && !info.IsDir() {
			override = filepath.Dir(override)
		}
		candidates = append(candidates, override)
	}
	if path, err := exec.LookPath(FFmpegCommand); err == nil {
		candidates = append(candidates, filepath.Dir(path))
	}
	candidates = append(candidates, searchDirs...)

	for _, dir := range candidates {
		if hasBothBinaries(dir) {
			t.location = dir
			t.log.Debugf("using ffmpeg from %s", dir)
			return t
		}
	}

	t.log.Warn("ffmpeg not found; audio-only downloads are unavailable")
	return t
}

// Available reports whether audio extraction can run.
func (t *Transcoder) Available() bool {
	return t.location != ""
}

// Location returns the directory holding ffmpeg and ffprobe, empty when
// unavailable. Passed through to the download engine for stream merging.
func (t *Transcoder) Location() string {
	return t.location
}

// BuildExtractArgs builds the ffmpeg arguments for extracting an MP3 audio
// track from a video container.
func (t *Transcoder) BuildExtractArgs(inputPath, outputPath string) []string {
	return []string{
		"-i", inputPath,
		"-vn", // drop the video stream
		"-acodec", AudioCodec,
		"-ab", AudioBitrate,
		"-y", // overwrite output
		outputPath,
	}
}

// ExtractAudio converts the input file to an MP3 next to it and returns the
// output path. The input file is left in place; the caller decides when to
// delete it. Partial output is removed on failure. Cancellation via ctx
// yields model.ErrCancelled.
func (t *Transcoder) ExtractAudio(ctx context.Context, inputPath string) (string, error) {
	if !t.Available() {
		return "", model.ErrTranscoderUnavailable
	}

	outputPath := outputPathFor(inputPath)
	runCtx, cancel := context.WithTimeout(ctx, ExtractTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, t.binaryPath(FFmpegCommand), t.BuildExtractArgs(inputPath, outputPath)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(outputPath)
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", model.ErrCancelled
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("ffmpeg conversion timed out after %s", ExtractTimeout)
		}
		return "", fmt.Errorf("ffmpeg failed: %s", firstLines(string(output), 4))
	}

	if _, err := os.Stat(outputPath); err != nil {
		return "", fmt.Errorf("ffmpeg reported success but produced no output: %w", err)
	}

	t.log.Debugf("extracted audio: %s -> %s", filepath.Base(inputPath), filepath.Base(outputPath))
	return outputPath, nil
}

func (t *Transcoder) binaryPath(name string) string {
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(t.location, name)
}

func hasBothBinaries(dir string) bool {
	if dir == "" {
		return false
	}
	suffix := ""
	if runtime.GOOS == "windows" {
		suffix = ".exe"
	}
	for _, name := range []string{FFmpegCommand, FFprobeCommand} {
		info, err := os.Stat(filepath.Join(dir, name+suffix))
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// outputPathFor swaps the container extension for .mp3.
func outputPathFor(inputPath string) string {
	ext := filepath.Ext(inputPath)
	return inputPath[:len(inputPath)-len(ext)] + OutputExtensionMP3
}

// firstLines trims noisy ffmpeg output down to something storable as a task
// error message.
func firstLines(s string, n int) string {
	count := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			count++
			if count == n {
				return s[:i]
			}
		}
	}
	return s
}
