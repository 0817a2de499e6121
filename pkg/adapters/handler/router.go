package handler

import (
	"encoding/json"
	"net/http"

	"github.com/wadjakorntonsri/aeo-tracker/pkg/config"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/ports"
)

// NewRouter creates and configures the main application router
func NewRouter(cfg *config.Config, ingest ports.IngestService, reporters ports.ReporterService, series ports.SeriesService) http.Handler {
	// Initialize Handlers
	th := NewTrackingHandler(ingest, reporters)
	dh := NewDashboardHandler(series)

	// Initialize Middleware
	mw := NewMiddleware(cfg)

	// Initialize Auth Handler
	authHandler := NewAuthHandler(cfg)

	// Setup Router
	mux := http.NewServeMux()

	// Public Routes
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		res := map[string]string{
			"message": "ok",
		}
		_ = json.NewEncoder(w).Encode(&res)
	})
	mux.HandleFunc("GET /auth/google/login", authHandler.Login)
	mux.HandleFunc("GET /auth/google/callback", authHandler.Callback)
	mux.HandleFunc("GET /auth/logout", authHandler.Logout)

	// Reporting endpoints. Registered without a method so the handlers can
	// answer OPTIONS preflight and reply 405 to other methods themselves.
	mux.Handle("/report-traffic/v0", WithCORS(http.HandlerFunc(th.ReportTraffic)))
	mux.Handle("/report-crawl/v0", WithCORS(http.HandlerFunc(th.ReportCrawl)))
	mux.Handle("/register-shop/v0", WithCORS(http.HandlerFunc(th.RegisterShop)))

	// Protected Routes (Dashboard API)
	protectedMux := http.NewServeMux()
	protectedMux.HandleFunc("GET /api/v1/dashboard/series", dh.GetSeries)
	protectedMux.HandleFunc("GET /api/v1/dashboard/summary", dh.GetSummary)
	protectedMux.HandleFunc("GET /api/v1/dashboard/activity", dh.GetActivity)

	// Apply Middleware to Protected Routes
	mux.Handle("/api/v1/", mw.AuthMiddleware(protectedMux))

	return mux
}
