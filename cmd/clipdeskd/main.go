// clipdeskd is the local download server. A browser extension or desktop
// shell submits video URLs over HTTP; downloads run through yt-dlp with
// optional ffmpeg post-processing.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lrstanley/go-ytdlp"

	"github.com/clipdesk/clipdesk/internal/api"
	"github.com/clipdesk/clipdesk/internal/auth"
	"github.com/clipdesk/clipdesk/internal/config"
	"github.com/clipdesk/clipdesk/internal/fetch"
	"github.com/clipdesk/clipdesk/internal/logging"
	"github.com/clipdesk/clipdesk/internal/queue"
	"github.com/clipdesk/clipdesk/internal/transcode"
)

const (
	version         = "1.2.0"
	shutdownTimeout = 5 * time.Second
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}

	// Fetch a yt-dlp binary if none is installed; cached across runs.
	installCtx, cancelInstall := context.WithTimeout(context.Background(), 2*time.Minute)
	if _, err := ytdlp.Install(installCtx, nil); err != nil {
		cancelInstall()
		logger.Fatalf("yt-dlp install: %v", err)
	}
	cancelInstall()

	cookieStore, err := auth.NewStore(cfg.CookieDir, logger)
	if err != nil {
		logger.Fatalf("cookie store: %v", err)
	}

	transcoder := transcode.Discover(cfg.FFmpegLocation, logger)
	fetcher := fetch.New(cfg.DownloadDir, transcoder, logger)

	manager := queue.NewManager(queue.Config{
		MaxConcurrent:  cfg.MaxConcurrent,
		QueueDepth:     cfg.QueueDepth,
		AudioAvailable: transcoder.Available(),
	}, fetcher, cookieStore, logger)

	server := api.NewServer(manager, fetcher, cookieStore, cfg.DownloadDir, transcoder.Available(), version, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Router(cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("clipdesk %s listening on http://%s (downloads: %s)", version, cfg.Addr(), cfg.DownloadDir)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Infof("received %s, shutting down", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
		return
	}

	manager.Shutdown()
	cookieStore.Sweep(0)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warnf("shutdown: %v", err)
	}
	logger.Info("bye")
}
