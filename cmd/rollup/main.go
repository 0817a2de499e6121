package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/wadjakorntonsri/aeo-tracker/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/config"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/core/services"
)

// Maintenance command: runs a single aggregation pass and exits. Useful when
// the server's background rollup is disabled or a backfill is needed after
// changing the bucket timezone.
func main() {
	var (
		sinceFlag = flag.String("since", "", "recompute buckets for events ingested since this RFC3339 time (default: stored watermark)")
		timeout   = flag.Duration("timeout", 5*time.Minute, "maximum run duration")
	)
	flag.Parse()

	cfg := config.Load()

	repo, err := sqlite.NewSQLiteRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	hostname, _ := os.Hostname()
	agg := services.NewAggregator(repo, cfg.Location(), hostname+"-rollup", *timeout)

	ctx := context.Background()

	if *sinceFlag != "" {
		since, err := time.Parse(time.RFC3339, *sinceFlag)
		if err != nil {
			log.Fatalf("Invalid -since value: %v", err)
		}
		runCtx, cancel := context.WithTimeout(ctx, *timeout)
		defer cancel()
		stats, err := agg.Rollup(runCtx, since)
		if err != nil {
			log.Fatalf("Rollup failed: %v", err)
		}
		log.Printf("Rollup done: %d events seen, %d buckets updated, %d failed",
			stats.EventsSeen, stats.BucketsUpdated, stats.BucketsFailed)
		return
	}

	stats, err := agg.RunOnce(ctx)
	if err != nil {
		log.Fatalf("Rollup failed: %v", err)
	}

	mark, err := repo.Watermark(ctx)
	if err != nil {
		log.Fatalf("Failed to read watermark: %v", err)
	}
	log.Printf("Rollup done: %d events seen, %d buckets updated, %d failed, watermark %s",
		stats.EventsSeen, stats.BucketsUpdated, stats.BucketsFailed, mark.Format(time.RFC3339))
}
