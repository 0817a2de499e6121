package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/wadjakorntonsri/aeo-tracker/pkg/adapters/handler"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/config"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/core/classify"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/core/services"
)

func main() {
	cfg := config.Load()

	// Initialize Repository
	repo, err := sqlite.NewSQLiteRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Source classification table
	table := classify.Default()
	if cfg.SourcesFile != "" {
		table, err = classify.LoadFile(cfg.SourcesFile)
		if err != nil {
			log.Fatalf("Failed to load source table: %v", err)
		}
	}

	// Initialize Services
	reporters := services.NewReporterService(repo)
	ingest := services.NewIngestService(repo, reporters, table)
	series := services.NewSeriesService(repo, cfg.Location())

	// Background rollup
	hostname, _ := os.Hostname()
	agg := services.NewAggregator(repo, cfg.Location(), hostname, cfg.RollupTimeout)
	go agg.Run(context.Background(), cfg.RollupInterval)

	// Initialize Router
	mux := handler.NewRouter(cfg, ingest, reporters, series)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("Server starting on port %s", cfg.Port)
	if err := server.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}
