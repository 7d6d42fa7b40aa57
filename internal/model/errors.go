package model

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced before a task is created.
var (
	// ErrURLRequired means the request carried no URL.
	ErrURLRequired = errors.New("url is required")

	// ErrTranscoderUnavailable means an audio-only download was requested
	// but no ffmpeg installation was found. Checked up front, never
	// discovered mid-stream.
	ErrTranscoderUnavailable = errors.New("audio extraction requires ffmpeg, which was not found")

	// ErrQueueClosed means the manager is shutting down and no longer
	// accepts work.
	ErrQueueClosed = errors.New("download queue is shut down")

	// ErrCancelled marks a user-initiated cancellation, distinguished from
	// engine failures so clients can render it differently.
	ErrCancelled = errors.New("download cancelled")
)

// ExtractionRequiredError is returned when a special-player platform page
// URL was submitted without a browser-extracted stream URL. The page only
// reveals its media manifest after client-side script execution, so fetching
// the page URL directly would be wasted work.
type ExtractionRequiredError struct {
	URL string
}

func (e *ExtractionRequiredError) Error() string {
	return fmt.Sprintf("page requires browser extraction: %s", e.URL)
}

// Hint returns the user-facing guidance shipped with the structured error
// payload.
func (e *ExtractionRequiredError) Hint() string {
	return "Please wait for the video to load and use the extension to detect the stream URL"
}
