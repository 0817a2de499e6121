package handler

import (
	"net/http"

	"github.com/wadjakorntonsri/aeo-tracker/pkg/adapters/handler"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/config"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/core/classify"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/core/services"
)

var mux http.Handler

func init() {
	cfg := config.Load()

	// Note: On Vercel, db.sqlite is ephemeral unless using a remote SQL/Turso URL in DATABASE_URL
	repo, err := sqlite.NewSQLiteRepository(cfg.DatabaseURL)
	if err != nil {
		panic(err)
	}

	// No background rollup in the serverless entrypoint; run cmd/rollup on a
	// schedule instead.
	reporters := services.NewReporterService(repo)
	ingest := services.NewIngestService(repo, reporters, classify.Default())
	series := services.NewSeriesService(repo, cfg.Location())
	mux = handler.NewRouter(cfg, ingest, reporters, series)
}

// Handler is the entrypoint for Vercel
func Handler(w http.ResponseWriter, r *http.Request) {
	mux.ServeHTTP(w, r)
}
