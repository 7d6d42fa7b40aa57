// Package api is the HTTP surface the browser extension and desktop shell
// talk to. Handlers translate between JSON bodies and the queue manager;
// every response is JSON, including errors.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/clipdesk/clipdesk/internal/auth"
	"github.com/clipdesk/clipdesk/internal/extract"
	"github.com/clipdesk/clipdesk/internal/model"
	"github.com/clipdesk/clipdesk/internal/platform"
	"github.com/clipdesk/clipdesk/internal/queue"
)

const infoTimeout = 60 * time.Second

// Queue is the slice of the queue manager the handlers need.
type Queue interface {
	Enqueue(req queue.EnqueueRequest) (*model.Task, error)
	Get(id string) (*model.Task, bool)
	Snapshot() []model.TaskView
	Cancel(id string) bool
	Remove(id string) bool
	ClearCompleted() int
	ActiveCount() int
}

// InfoFetcher looks up metadata without downloading.
type InfoFetcher interface {
	GetInfo(ctx context.Context, url, cookieFile string) (*model.Metadata, error)
}

// CookieStore persists extension cookies into short-lived files.
type CookieStore interface {
	Save(cookies []auth.Cookie, domain string) (string, error)
	Remove(path string)
}

// Server holds handler dependencies; construct it with NewServer.
type Server struct {
	queue          Queue
	info           InfoFetcher
	cookies        CookieStore
	downloadDir    string
	audioAvailable bool
	version        string
	log            *logrus.Entry

	// swapped out in tests
	openFolder func(dir string) error
	revealFile func(path string) error
}

// NewServer wires the handler set. cookies may be nil when no cookie store is
// configured; cookie payloads are then ignored.
func NewServer(q Queue, info InfoFetcher, cookies CookieStore, downloadDir string, audioAvailable bool, version string, logger *logrus.Logger) *Server {
	return &Server{
		queue:          q,
		info:           info,
		cookies:        cookies,
		downloadDir:    downloadDir,
		audioAvailable: audioAvailable,
		version:        version,
		log:            logger.WithField("component", "api"),
		openFolder:     platform.OpenFolder,
		revealFile:     platform.RevealFile,
	}
}

type downloadRequest struct {
	URL          string        `json:"url"`
	Title        string        `json:"title"`
	Format       string        `json:"format"`
	OutputFormat string        `json:"outputFormat"`
	AudioOnly    bool          `json:"audioOnly"`
	VideoURL     string        `json:"videoUrl"`  // browser-extracted stream URL
	PageHTML     string        `json:"pageHtml"`  // raw page text to scrape when no videoUrl
	Cookies      []auth.Cookie `json:"cookies"`
}

type infoRequest struct {
	URL     string        `json:"url"`
	Cookies []auth.Cookie `json:"cookies"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":         true,
		"version":         s.version,
		"download_dir":    s.downloadDir,
		"active":          s.queue.ActiveCount(),
		"total":           len(s.queue.Snapshot()),
		"audio_available": s.audioAvailable,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, model.ErrURLRequired.Error())
		return
	}

	videoURL := req.VideoURL
	if videoURL == "" && req.PageHTML != "" {
		// Some clients send raw page text instead of an extracted URL;
		// scrape it for an embedded stream manifest.
		videoURL = extract.FindStreamURL(req.PageHTML)
	}

	// Page URLs of special-player platforms carry no media; without any
	// client-extracted URL there is nothing to download. An extracted URL
	// we do not recognize still goes through; the engine reports its own
	// failure.
	if extract.Classify(req.URL) == extract.NeedsExtraction && videoURL == "" {
		extractionErr := &model.ExtractionRequiredError{URL: req.URL}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success":             false,
			"error":               extractionErr.Error(),
			"extraction_required": true,
			"hint":                extractionErr.Hint(),
		})
		return
	}

	cookieFile, ok := s.saveCookies(w, req.Cookies, req.URL)
	if !ok {
		return
	}

	effectiveURL := extract.Resolve(req.URL, videoURL)
	originalURL := ""
	if effectiveURL != req.URL {
		originalURL = req.URL
	}

	task, err := s.queue.Enqueue(queue.EnqueueRequest{
		URL:         effectiveURL,
		OriginalURL: originalURL,
		Title:       req.Title,
		FormatID:    req.Format,
		AudioOnly:   req.AudioOnly || req.OutputFormat == "mp3",
		CookieFile:  cookieFile,
	})
	if err != nil {
		if s.cookies != nil {
			s.cookies.Remove(cookieFile)
		}
		status := http.StatusBadRequest
		if errors.Is(err, model.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":      true,
		"id":           task.ID,
		"url":          task.URL,
		"original_url": task.OriginalURL,
	})
}

func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	task, ok := s.queue.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "download not found")
		return
	}
	writeJSON(w, http.StatusOK, task.View())
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	views := s.queue.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"downloads": views,
		"count":     len(views),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.queue.Get(id); !ok {
		writeError(w, http.StatusNotFound, "download not found")
		return
	}
	if !s.queue.Cancel(id) {
		writeError(w, http.StatusBadRequest, "download is already finished")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.queue.Get(id); !ok {
		writeError(w, http.StatusNotFound, "download not found")
		return
	}
	if !s.queue.Remove(id) {
		writeError(w, http.StatusBadRequest, "download is still running; cancel it first")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"cleared": s.queue.ClearCompleted(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	var req infoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, model.ErrURLRequired.Error())
		return
	}

	cookieFile, ok := s.saveCookies(w, req.Cookies, req.URL)
	if !ok {
		return
	}
	if cookieFile != "" {
		// Info lookups own their cookie file for the duration of the call.
		defer s.cookies.Remove(cookieFile)
	}

	ctx, cancel := context.WithTimeout(r.Context(), infoTimeout)
	defer cancel()

	meta, err := s.info.GetInfo(ctx, req.URL, cookieFile)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

type openFolderRequest struct {
	Path string `json:"path"` // optional finished file to highlight
}

func (s *Server) handleOpenFolder(w http.ResponseWriter, r *http.Request) {
	var req openFolderRequest
	// The body is optional; an empty or absent one means "open the folder".
	json.NewDecoder(r.Body).Decode(&req)

	if req.Path != "" {
		if !insideDir(s.downloadDir, req.Path) {
			writeError(w, http.StatusBadRequest, "path is outside the download directory")
			return
		}
		if err := s.revealFile(req.Path); err != nil {
			s.log.Warnf("reveal file failed: %v", err)
			writeError(w, http.StatusInternalServerError, "could not reveal file")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	if err := s.openFolder(s.downloadDir); err != nil {
		s.log.Warnf("open folder failed: %v", err)
		writeError(w, http.StatusInternalServerError, "could not open download folder")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// insideDir reports whether path sits under dir after lexical cleaning.
func insideDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// saveCookies writes the payload cookies to a file, replying with an error
// itself when the write fails. The second return is false when the handler
// must stop.
func (s *Server) saveCookies(w http.ResponseWriter, cookies []auth.Cookie, rawURL string) (string, bool) {
	if len(cookies) == 0 || s.cookies == nil {
		return "", true
	}
	path, err := s.cookies.Save(cookies, domainOf(rawURL))
	if err != nil {
		s.log.Warnf("cookie save failed: %v", err)
		writeError(w, http.StatusBadRequest, "failed to store cookies")
		return "", false
	}
	return path, true
}

func domainOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return "unknown"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
