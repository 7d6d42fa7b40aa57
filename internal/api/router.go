package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// Router assembles the route table with CORS and request logging.
// extraOrigins extends the always-allowed browser-extension origins.
func (s *Server) Router(extraOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  allowOriginFunc(extraOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/queue", s.handleQueue)
		r.Post("/clear", s.handleClear)
		r.Post("/info", s.handleInfo)
		r.Post("/open-folder", s.handleOpenFolder)

		r.Route("/download", func(r chi.Router) {
			r.Post("/", s.handleDownload)
			r.Get("/{id}", s.handleGetDownload)
			r.Delete("/{id}", s.handleRemove)
			r.Post("/{id}/cancel", s.handleCancel)
		})
	})

	return r
}

// allowOriginFunc admits browser extensions (their origins carry random
// per-install IDs, so a wildcard list cannot enumerate them) plus any
// explicitly configured origins.
func allowOriginFunc(extraOrigins []string) func(r *http.Request, origin string) bool {
	extra := make(map[string]struct{}, len(extraOrigins))
	for _, o := range extraOrigins {
		extra[o] = struct{}{}
	}
	return func(r *http.Request, origin string) bool {
		if strings.HasPrefix(origin, "chrome-extension://") ||
			strings.HasPrefix(origin, "moz-extension://") ||
			strings.HasPrefix(origin, "safari-web-extension://") {
			return true
		}
		_, ok := extra[origin]
		return ok
	}
}

// requestLogger logs one line per request with method, path, status and
// duration. Polling endpoints log at debug to keep the log readable.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		entry := s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).Round(time.Millisecond).String(),
		})
		if r.Method == http.MethodGet {
			entry.Debug("request")
		} else {
			entry.Info("request")
		}
	})
}
