package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/owlet-data/gaze.report/internal/api"
	"github.com/owlet-data/gaze.report/internal/config"
	"github.com/owlet-data/gaze.report/internal/gaze/pipeline"
	"github.com/owlet-data/gaze.report/internal/ingest"
	"github.com/owlet-data/gaze.report/internal/monitoring"
	"github.com/owlet-data/gaze.report/internal/session"
	"github.com/owlet-data/gaze.report/internal/store"
	"github.com/owlet-data/gaze.report/internal/version"
)

const (
	exitOK      = 0
	exitConfig  = 1
	exitStartup = 2
)

func runServer() int {
	if err := applyLogLevel(*logLevel); err != nil {
		log.Printf("Invalid -log-level: %v", err)
		return exitConfig
	}
	if *port < 1 || *port > 65535 {
		log.Printf("Invalid -port: %d", *port)
		return exitConfig
	}
	addr := net.JoinHostPort(*host, strconv.Itoa(*port))

	tuning := config.DefaultTuningConfig()
	if *configPath != "" {
		loaded, err := config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Printf("Failed to load tuning config: %v", err)
			return exitConfig
		}
		tuning = loaded
		log.Printf("Loaded tuning config from %s", *configPath)
	}

	push := ingest.NewPushSource()
	var source ingest.SampleSource
	switch *sourceName {
	case "mock":
		// nil selects the registry's built-in mock source
	case "serial":
		source = ingest.NewSerialSource(*serialPort)
	case "push":
		source = push
	default:
		log.Printf("Invalid -source: %q (want mock, serial or push)", *sourceName)
		return exitConfig
	}

	db, err := store.OpenDB(*dbFile)
	if err != nil {
		log.Printf("Failed to open database: %v", err)
		return exitStartup
	}
	defer db.Close()

	migrations, err := store.MigrationsFS()
	if err != nil {
		log.Printf("Failed to load migrations: %v", err)
		return exitStartup
	}
	if err := db.MigrateUp(migrations); err != nil {
		log.Printf("Failed to migrate database: %v", err)
		return exitStartup
	}

	reg := session.NewRegistry(session.RegistryOptions{
		Tuning:             tuning,
		DB:                 db,
		ExportDir:          *exportDir,
		Source:             source,
		ExportTrail:        *exportTrail,
		RestoreCalibration: true,
		SeedLesson:         true,
	})

	srv := api.NewServer(api.Options{
		Registry: reg,
		Tuning:   tuning,
		DB:       db,
		Push:     push,
		Version:  version.Version,
		Debug:    *debugMode,
	})

	httpServer := &http.Server{
		Addr:    addr,
		Handler: api.LoggingMiddleware(srv.ServeMux()),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	log.Printf("gaze-report %s listening on http://%s (source=%s)", version.Version, addr, *sourceName)
	log.Printf("  Status:  http://%s/api/status", addr)
	log.Printf("  Stream:  http://%s/api/gaze/stream", addr)
	log.Printf("  Health:  http://%s/api/health", addr)
	if *debugMode {
		log.Printf("  Debug:   http://%s/debug/charts", addr)
	}

	select {
	case err := <-errCh:
		log.Printf("Failed to start server: %v", err)
		return exitStartup
	case <-ctx.Done():
	}

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := httpServer.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	// Stop running sessions so their exports land before the DB closes.
	reg.StopAll()

	log.Printf("Graceful shutdown complete")
	return exitOK
}

// applyLogLevel maps the flag onto the monitoring logger and the pipeline's
// three diagnostic streams. GAZE_DEBUG_LOG overrides the pipeline streams
// with a single file.
func applyLogLevel(level string) error {
	switch level {
	case "quiet":
		monitoring.Mute()
		pipeline.SetLogWriters(nil, nil, nil)
	case "info":
		pipeline.SetLogWriters(os.Stderr, nil, nil)
	case "debug":
		pipeline.SetLogWriters(os.Stderr, os.Stderr, nil)
	case "trace":
		pipeline.SetLogWriters(os.Stderr, os.Stderr, os.Stderr)
	default:
		return fmt.Errorf("unknown level %q", level)
	}

	if path := os.Getenv("GAZE_DEBUG_LOG"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("GAZE_DEBUG_LOG: %w", err)
		}
		pipeline.SetLegacyLogger(f)
	}
	return nil
}
