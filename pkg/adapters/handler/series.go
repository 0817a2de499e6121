package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/wadjakorntonsri/aeo-tracker/pkg/core/domain"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/ports"
)

const (
	defaultActivityLimit = 10
	maxActivityLimit     = 50
)

// DashboardHandler serves the authenticated dashboard reads.
type DashboardHandler struct {
	series ports.SeriesService
}

func NewDashboardHandler(series ports.SeriesService) *DashboardHandler {
	return &DashboardHandler{series: series}
}

// Get traffic series
func (h *DashboardHandler) GetSeries(w http.ResponseWriter, r *http.Request) {
	platform, storeID, ok := tenantParams(w, r)
	if !ok {
		return
	}

	rawInterval := r.URL.Query().Get("interval")
	if rawInterval == "" {
		rawInterval = string(domain.Interval1h)
	}
	interval, err := domain.ParseInterval(rawInterval)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	points, err := h.series.Series(r.Context(), platform, storeID, interval)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load series")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"interval": interval,
		"points":   points,
	})
}

// Get store summary
func (h *DashboardHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	platform, storeID, ok := tenantParams(w, r)
	if !ok {
		return
	}

	summary, err := h.series.Summary(r.Context(), platform, storeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load summary")
		return
	}

	json.NewEncoder(w).Encode(summary)
}

// Get recent activity
func (h *DashboardHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	platform, storeID, ok := tenantParams(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}
	source := r.URL.Query().Get("source")

	records, err := h.series.RecentActivity(r.Context(), platform, storeID, source, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load activity")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  records,
		"limit": limit,
	})
}

func tenantParams(w http.ResponseWriter, r *http.Request) (platform, storeID string, ok bool) {
	platform = r.URL.Query().Get("platform")
	storeID = r.URL.Query().Get("store_id")
	if platform == "" || storeID == "" {
		writeError(w, http.StatusBadRequest, "platform and store_id query params are required")
		return "", "", false
	}
	return platform, storeID, true
}
