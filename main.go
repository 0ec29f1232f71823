package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"media-library/internal/config"
	"media-library/internal/database"
	"media-library/internal/handlers"
	"media-library/internal/indexer"
	"media-library/internal/logging"
	"media-library/internal/mediatypes"
	"media-library/internal/metrics"
	"media-library/internal/middleware"
	"media-library/internal/thumbs"
)

const staticDir = "./static"

func main() {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("Configuration error: %v", err)
		os.Exit(1)
	}

	thumbs.InitVips()
	defer thumbs.ShutdownVips()

	dbStart := time.Now()
	db, err := database.New(context.Background(), cfg.DBPath)
	if err != nil {
		logging.Error("Failed to initialize database: %v", err)
		os.Exit(1)
	}
	defer db.Close()
	logging.Info("Database ready in %v (%s)", time.Since(dbStart), cfg.DBPath)

	imageThumbs := thumbs.New(cfg.ThumbDir, mediatypes.KindImage, thumbs.Config{
		Width:       cfg.ThumbWidth,
		Format:      cfg.ThumbFormat,
		Quality:     cfg.ThumbQuality,
		Concurrency: cfg.ThumbConcurrency,
	})
	videoThumbs := thumbs.New(cfg.VThumbDir, mediatypes.KindVideo, thumbs.Config{
		Width:       cfg.VThumbWidth,
		Format:      cfg.VThumbFormat,
		Quality:     cfg.VThumbQuality,
		TimeSec:     cfg.VThumbTimeSec,
		Concurrency: cfg.VThumbConcurrency,
	})
	imageThumbs.Start()
	videoThumbs.Start()

	idx := indexer.New(db, cfg, imageThumbs, videoThumbs)

	metrics.InitializeMetrics()
	metrics.SetAppInfo(version, commit, goVersion())
	collector := metrics.NewCollector(db, 30*time.Second)
	collector.Start()
	defer collector.Stop()

	// Initial scan in the background; the server answers immediately.
	go func() {
		if _, err := idx.UpdateCheck(context.Background(), indexer.Options{}); err != nil {
			if !errors.Is(err, indexer.ErrRunning) {
				logging.Error("startup scan failed: %v", err)
			}
		}
	}()

	h := handlers.New(db, cfg, idx, imageThumbs, videoThumbs)

	router := mux.NewRouter()
	h.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.PathPrefix("/").Handler(handlers.Static(staticDir))

	loggedHandler := middleware.Logger(middleware.DefaultLoggingConfig())(router)
	meteredHandler := middleware.Metrics(middleware.DefaultMetricsConfig())(loggedHandler)
	handler := middleware.Compression(middleware.DefaultCompressionConfig())(meteredHandler)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// No write timeout: media streams and SSE connections are long-lived.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go handleShutdown(srv, imageThumbs, videoThumbs)

	logging.Info("Listening on :%s (started in %v)", cfg.Port, time.Since(startTime))
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		logging.Error("Server error: %v", err)
		os.Exit(1)
	}
}

func handleShutdown(srv *http.Server, imageThumbs, videoThumbs *thumbs.Store) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logging.Info("Received %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	}

	imageThumbs.Stop()
	videoThumbs.Stop()

	logging.Info("Shutdown complete")
}
