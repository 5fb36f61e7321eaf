package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/transpostw1/vincap-retro-sync/internal/config"
	"github.com/transpostw1/vincap-retro-sync/internal/httpapi"
	"github.com/transpostw1/vincap-retro-sync/internal/migration"
	"github.com/transpostw1/vincap-retro-sync/internal/obs"
	"github.com/transpostw1/vincap-retro-sync/internal/retro"
	"github.com/transpostw1/vincap-retro-sync/internal/source"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("GIT_COMMIT"))

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	obs.SetLevel(cfg.LogLevel)

	store, err := source.Open(cfg.NeonConnectionString)
	if err != nil {
		log.Fatalf("open source db: %v", err)
	}

	client := retro.New(cfg.AuthAPIURL, cfg.RetroAPIURL, cfg.APIUsername, cfg.APIPassword, cfg.HTTPTimeout)
	runner := migration.NewRunner(store, client, migration.Config{
		Table:      cfg.NeonTable,
		BatchSize:  cfg.BatchSize,
		MaxRecords: cfg.MaxRecords,
	})

	api := httpapi.New(httpapi.ReadyProbe{DB: store.DB()}, version, cfg.NeonTable, store, client, runner)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      5 * time.Minute, // sync migrations can run long
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting vincap-retro-sync %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = store.Close()
	log.Println("Stopped")
}
