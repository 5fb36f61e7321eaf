package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/transpostw1/vincap-retro-sync/internal/config"
	"github.com/transpostw1/vincap-retro-sync/internal/migration"
	"github.com/transpostw1/vincap-retro-sync/internal/obs"
	"github.com/transpostw1/vincap-retro-sync/internal/retro"
	"github.com/transpostw1/vincap-retro-sync/internal/source"
)

func main() {
	log.SetFlags(0)
	var (
		recordID = flag.String("id", "", "Migrate a single record by id")
		limit    = flag.Int("limit", 0, "Cap the number of records (0 = all)")
		table    = flag.String("table", "", "Source table (default from NEON_TABLE)")
		timeout  = flag.Duration("timeout", 30*time.Minute, "Overall run deadline")
	)
	flag.Parse()

	obs.Init()

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	obs.SetLevel(cfg.LogLevel)

	store, err := source.Open(cfg.NeonConnectionString)
	if err != nil {
		log.Fatalf("open source db: %v", err)
	}
	defer store.Close()

	client := retro.New(cfg.AuthAPIURL, cfg.RetroAPIURL, cfg.APIUsername, cfg.APIPassword, cfg.HTTPTimeout)
	runner := migration.NewRunner(store, client, migration.Config{
		Table:      cfg.NeonTable,
		BatchSize:  cfg.BatchSize,
		MaxRecords: cfg.MaxRecords,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	summary, err := runner.Run(ctx, migration.Request{
		RecordID: *recordID,
		Limit:    *limit,
		Table:    *table,
	})
	if err != nil {
		log.Fatalf("run aborted: %v", err)
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		log.Fatalf("encode summary: %v", err)
	}
	fmt.Println(string(out))

	if summary.Failed > 0 {
		os.Exit(1)
	}
}
