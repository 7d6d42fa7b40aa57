// Package fetch wraps the yt-dlp engine (via github.com/lrstanley/go-ytdlp).
// It turns one download request into a finite stream of progress events plus
// a final result, and owns the two audio-only paths: yt-dlp's own MP3
// extraction for generic URLs, and the SmartPlayer audio-sibling special
// case with a manual ffmpeg conversion.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/sirupsen/logrus"

	"github.com/clipdesk/clipdesk/internal/extract"
	"github.com/clipdesk/clipdesk/internal/model"
	"github.com/clipdesk/clipdesk/internal/transcode"
)

// Format selectors, matching the yt-dlp option sets the server has always
// used: flexible merged video when ffmpeg is present, best single stream
// otherwise, best audio for MP3 extraction.
const (
	formatMergedVideo  = "bv*[ext=mp4]+ba[ext=m4a]/bv*+ba/b"
	formatSingleStream = "b[ext=mp4]/b"
	formatBestAudio    = "ba[ext=m4a]/ba/b"
	formatBest         = "b"

	audioFormatMP3   = "mp3"
	audioQuality192K = "192K"

	outputTemplate = "%(title)s.%(ext)s"

	defaultProgressInterval = 500 * time.Millisecond

	// Container/output preferences that are sometimes sent in the format
	// field but are not yt-dlp format selectors.
	maxInfoFormats = 10
	maxDescription = 500
)

var containerFormats = map[string]struct{}{
	"mp4": {}, "webm": {}, "mkv": {}, "mp3": {}, "m4a": {}, "wav": {}, "flac": {},
}

// IsContainerFormat reports whether the format selector is actually an
// output-container preference and must not be passed to the engine.
func IsContainerFormat(formatID string) bool {
	_, ok := containerFormats[strings.ToLower(formatID)]
	return ok
}

// Request describes one fetch execution.
type Request struct {
	URL        string
	FormatID   string
	AudioOnly  bool
	CookieFile string
}

// Fetcher runs downloads and metadata lookups through yt-dlp.
type Fetcher struct {
	outputDir        string
	transcoder       *transcode.Transcoder
	progressInterval time.Duration
	log              *logrus.Entry
}

// New creates a fetcher writing into outputDir.
func New(outputDir string, tc *transcode.Transcoder, logger *logrus.Logger) *Fetcher {
	return &Fetcher{
		outputDir:        outputDir,
		transcoder:       tc,
		progressInterval: defaultProgressInterval,
		log:              logger.WithField("component", "fetch"),
	}
}

// GetInfo fetches metadata without downloading. Engine failures come back as
// plain errors with the engine's message.
func (f *Fetcher) GetInfo(ctx context.Context, url, cookieFile string) (*model.Metadata, error) {
	cmd := ytdlp.New().
		SkipDownload().
		DumpSingleJSON().
		NoPlaylist().
		NoWarnings()
	if cookieFile != "" {
		cmd = cmd.Cookies(cookieFile)
	}

	res, err := cmd.Run(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("extract info: %w", err)
	}

	var raw rawInfo
	if err := json.Unmarshal([]byte(res.Stdout), &raw); err != nil {
		return nil, fmt.Errorf("parse info: %w", err)
	}
	return raw.toMetadata(), nil
}

// Download runs one transfer, sending progress events until completion and
// closing the channel before returning. Cancellation through ctx produces a
// cancelled result, never an error escalation.
func (f *Fetcher) Download(ctx context.Context, req Request, events chan<- model.ProgressEvent) *model.Result {
	defer close(events)

	downloadURL := req.URL
	smartAudio := req.AudioOnly && extract.IsSmartPlayer(req.URL)
	if smartAudio {
		// SmartPlayer publishes audio as a sibling file; fetch it directly
		// instead of extracting audio from the video stream.
		if audioURL := extract.SmartPlayerAudioURL(req.URL); audioURL != req.URL {
			downloadURL = audioURL
			f.log.Debugf("smartplayer audio sibling: %s", audioURL)
		}
	}

	cmd, err := f.buildCommand(req, smartAudio)
	if err != nil {
		return &model.Result{Err: err.Error()}
	}

	cmd = cmd.ProgressFunc(f.progressInterval, func(update ytdlp.ProgressUpdate) {
		events <- progressEvent(update)
	})

	res, err := cmd.Run(ctx, downloadURL)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return &model.Result{Cancelled: true, Err: model.ErrCancelled.Error()}
		}
		return &model.Result{Err: engineError(err)}
	}

	path, title, duration := f.resolveOutcome(res, req.AudioOnly && !smartAudio)
	if path == "" {
		return &model.Result{Err: "download finished but no output file was reported"}
	}

	if smartAudio {
		events <- model.ProgressEvent{
			Stage:    model.TaskStatusProcessing,
			Progress: model.Progress{Percent: 100, Filename: filepath.Base(path)},
		}
		mp3Path, err := f.transcoder.ExtractAudio(ctx, path)
		if err != nil {
			if errors.Is(err, model.ErrCancelled) {
				return &model.Result{Cancelled: true, Err: err.Error()}
			}
			return &model.Result{Err: err.Error()}
		}
		os.Remove(path)
		path = mp3Path
	}

	return &model.Result{
		Success:  true,
		Filename: filepath.Base(path),
		Filepath: path,
		Title:    title,
		Duration: duration,
	}
}

// buildCommand assembles the yt-dlp invocation for a request.
func (f *Fetcher) buildCommand(req Request, smartAudio bool) (*ytdlp.Command, error) {
	cmd := ytdlp.New().
		ForceOverwrites().
		RestrictFilenames().
		NoPlaylist().
		NoWarnings().
		Output(filepath.Join(f.outputDir, outputTemplate))

	if f.transcoder.Available() {
		cmd = cmd.FFmpegLocation(f.transcoder.Location())
	}

	switch {
	case smartAudio:
		// The audio sibling is a plain single stream; conversion to MP3
		// happens manually after the transfer.
		cmd = cmd.Format(formatBest)
	case req.AudioOnly:
		if !f.transcoder.Available() {
			return nil, model.ErrTranscoderUnavailable
		}
		cmd = cmd.Format(formatBestAudio).
			ExtractAudio().
			AudioFormat(audioFormatMP3).
			AudioQuality(audioQuality192K)
	case req.FormatID != "" && !IsContainerFormat(req.FormatID):
		cmd = cmd.Format(req.FormatID)
	case f.transcoder.Available():
		cmd = cmd.Format(formatMergedVideo).MergeOutputFormat("mp4")
	default:
		cmd = cmd.Format(formatSingleStream)
	}

	if req.CookieFile != "" {
		cmd = cmd.Cookies(req.CookieFile)
	}
	return cmd, nil
}

// resolveOutcome pulls filename, title and duration from the engine result,
// accounting for post-processors that change the container extension.
func (f *Fetcher) resolveOutcome(res *ytdlp.Result, audioExtracted bool) (path, title string, duration int) {
	info, err := res.GetExtractedInfo()
	if err != nil || len(info) == 0 {
		return "", "", 0
	}
	first := info[0]
	if first.Title != nil {
		title = *first.Title
	}
	if first.Duration != nil {
		duration = int(*first.Duration)
	}
	if first.Filename == nil {
		return "", title, duration
	}
	return resolveOutputPath(*first.Filename, audioExtracted), title, duration
}

// resolveOutputPath finds the file that actually exists on disk: merged
// output may have become .mp4, audio extraction rewrites to .mp3.
func resolveOutputPath(reported string, audioExtracted bool) string {
	if _, err := os.Stat(reported); err == nil {
		return reported
	}
	ext := filepath.Ext(reported)
	base := reported[:len(reported)-len(ext)]
	if audioExtracted {
		if mp3 := base + ".mp3"; fileExists(mp3) {
			return mp3
		}
	}
	if mp4 := base + ".mp4"; fileExists(mp4) {
		return mp4
	}
	// Report the engine's answer even if we could not stat it; the queue
	// records whatever path the engine produced.
	return reported
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// progressEvent maps one engine progress update onto the task event model.
func progressEvent(update ytdlp.ProgressUpdate) model.ProgressEvent {
	p := model.Progress{
		DownloadedBytes: int64(update.DownloadedBytes),
		TotalBytes:      int64(update.TotalBytes),
	}
	p.Percent = percent(p.DownloadedBytes, p.TotalBytes)

	if !update.Started.IsZero() {
		if elapsed := time.Since(update.Started); elapsed.Seconds() > 0 {
			bytesPerSecond := float64(update.DownloadedBytes) / elapsed.Seconds()
			p.Speed = fmt.Sprintf("%.1fMB/s", bytesPerSecond/1024/1024)
		}
	}
	if eta := update.ETA(); eta > 0 {
		p.ETA = model.FormatETA(int(eta.Seconds()))
	}
	if update.Filename != "" {
		p.Filename = filepath.Base(update.Filename)
	}

	ev := model.ProgressEvent{Progress: p, Stage: model.TaskStatusDownloading}
	if update.Info != nil && update.Info.Title != nil {
		ev.Title = *update.Info.Title
	}

	switch update.Status {
	case ytdlp.ProgressStatusFinished, ytdlp.ProgressStatusPostProcessing:
		// Transfer done: report 100% and flip to post-processing; the task
		// is not Completed until the result lands.
		ev.Stage = model.TaskStatusProcessing
		ev.Progress.Percent = 100
	}
	return ev
}

// percent computes downloaded/total*100, or 0 when the total is unknown; the
// task keeps its last known value in that case.
func percent(downloaded, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(downloaded) / float64(total) * 100
}

// engineError trims a yt-dlp failure down to its message.
func engineError(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, "ERROR:"); idx >= 0 {
		msg = strings.TrimSpace(msg[idx+len("ERROR:"):])
	}
	return msg
}

// rawInfo mirrors the fields of yt-dlp's --dump-single-json output the info
// endpoint serves.
type rawInfo struct {
	Title       string      `json:"title"`
	Duration    float64     `json:"duration"`
	Thumbnail   string      `json:"thumbnail"`
	Description string      `json:"description"`
	Uploader    string      `json:"uploader"`
	Formats     []rawFormat `json:"formats"`
}

type rawFormat struct {
	FormatID   string  `json:"format_id"`
	Ext        string  `json:"ext"`
	Resolution string  `json:"resolution"`
	Filesize   float64 `json:"filesize"`
	FormatNote string  `json:"format_note"`
	VCodec     string  `json:"vcodec"`
	ACodec     string  `json:"acodec"`
}

func (r rawInfo) toMetadata() *model.Metadata {
	meta := &model.Metadata{
		Title:       r.Title,
		Duration:    r.Duration,
		Thumbnail:   r.Thumbnail,
		Uploader:    r.Uploader,
		Description: truncate(r.Description, maxDescription),
	}

	formats := make([]model.FormatInfo, 0, len(r.Formats))
	for _, f := range r.Formats {
		if f.VCodec == "none" && f.ACodec == "none" {
			continue
		}
		resolution := f.Resolution
		if resolution == "" {
			resolution = "audio only"
		}
		formats = append(formats, model.FormatInfo{
			FormatID:   f.FormatID,
			Ext:        f.Ext,
			Resolution: resolution,
			Filesize:   int64(f.Filesize),
			FormatNote: f.FormatNote,
		})
	}
	// The tail of the list is usually the best quality; cap what we return.
	if len(formats) > maxInfoFormats {
		formats = formats[len(formats)-maxInfoFormats:]
	}
	meta.Formats = formats
	return meta
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
