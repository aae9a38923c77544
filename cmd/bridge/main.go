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

	"ticketbridge.local/projects/bridge/internal/attach"
	"ticketbridge.local/projects/bridge/internal/config"
	"ticketbridge.local/projects/bridge/internal/httpapi"
	"ticketbridge.local/projects/bridge/internal/monday"
	"ticketbridge.local/projects/bridge/internal/session"
	"ticketbridge.local/projects/bridge/internal/store"
	"ticketbridge.local/projects/bridge/internal/tempstore"
	"ticketbridge.local/projects/bridge/internal/ticket"
)

func main() {
	logger := log.New(os.Stdout, "bridge ", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC)

	cfg, err := config.FromYAMLAndEnv()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	blobStore, err := store.New(logger, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatalf("failed to initialize store: %v", err)
	}
	defer func() {
		if err := blobStore.Close(); err != nil {
			logger.Printf("store close error: %v", err)
		}
	}()

	temp, err := tempstore.New(logger, cfg.TempDir)
	if err != nil {
		logger.Fatalf("failed to initialize temp storage: %v", err)
	}

	registry := session.NewRegistry(logger, cfg.SessionTTL, cfg.SweepInterval, time.Now)
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Printf("session registry close error: %v", err)
		}
	}()

	client := monday.New(logger, monday.WithBaseURLs(cfg.ItemAPIURL, cfg.FileAPIURL))
	queue := attach.New(logger, client)
	pipeline := ticket.NewPipeline(logger, blobStore, blobStore, client, queue)

	srv := httpapi.NewServer(logger, cfg.HTTPAddr, registry, blobStore, pipeline, temp, cfg.MaxUploadBytes)

	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server crashed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("http server shutdown error: %v", err)
	}

	// Let in-flight video attaches finish; tickets already succeeded, so
	// abandoning a straggler only loses the video leg.
	if !queue.Drain(cfg.DrainTimeout) {
		logger.Printf("shutting down with attach jobs still in flight")
	}
}
