package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/wadjakorntonsri/aeo-tracker/pkg/core/domain"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/core/services"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/ports"
)

// TrackingHandler serves the public reporting endpoints hit by storefront
// pixels.
type TrackingHandler struct {
	ingest    ports.IngestService
	reporters ports.ReporterService
}

func NewTrackingHandler(ingest ports.IngestService, reporters ports.ReporterService) *TrackingHandler {
	return &TrackingHandler{ingest: ingest, reporters: reporters}
}

// TrafficRequest payload
type TrafficRequest struct {
	Domain     string         `json:"domain"`
	Path       string         `json:"path"`
	Type       string         `json:"type"`
	OccurredAt string         `json:"occurredAt"`
	Metadata   map[string]any `json:"metadata"`
}

// CrawlRequest payload
type CrawlRequest struct {
	Domain     string         `json:"domain"`
	Path       string         `json:"path"`
	UserAgent  string         `json:"userAgent"`
	IP         string         `json:"ip"`
	OccurredAt string         `json:"occurredAt"`
	Metadata   map[string]any `json:"metadata"`
}

// RegisterRequest payload. allowed_domains accepts a list or a single
// comma-separated string, matching what existing pixel installers send.
type RegisterRequest struct {
	AllowedDomains domainList `json:"allowed_domains"`
}

type domainList []string

func (d *domainList) UnmarshalJSON(raw []byte) error {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		*d = list
		return nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err != nil {
		return err
	}
	*d = strings.Split(single, ",")
	return nil
}

// Report traffic event
func (h *TrackingHandler) ReportTraffic(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	platform, storeID, ok := sourceID(w, r)
	if !ok {
		return
	}

	var req TrafficRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrMalformedPayload.Error())
		return
	}

	ev, err := h.ingest.IngestTraffic(r.Context(), &domain.TrafficReport{
		Platform:   platform,
		StoreID:    storeID,
		Domain:     req.Domain,
		Path:       req.Path,
		Type:       req.Type,
		OccurredAt: req.OccurredAt,
		Metadata:   req.Metadata,
		OriginHost: originHost(r),
	})
	if err != nil {
		h.writeIngestError(w, r, err, "failed to log traffic event")
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted", "event_id": ev.EventID})
}

// Report crawler hit
func (h *TrackingHandler) ReportCrawl(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	platform, storeID, ok := sourceID(w, r)
	if !ok {
		return
	}

	var req CrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrMalformedPayload.Error())
		return
	}

	// Crawl reports may carry the bot's user agent in the body; a pixel
	// proxying the bot's own request leaves it on the request instead.
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = r.UserAgent()
	}

	ev, err := h.ingest.IngestCrawl(r.Context(), &domain.CrawlReport{
		Platform:   platform,
		StoreID:    storeID,
		Domain:     req.Domain,
		Path:       req.Path,
		UserAgent:  userAgent,
		IP:         req.IP,
		OccurredAt: req.OccurredAt,
		Metadata:   req.Metadata,
	})
	if err != nil {
		h.writeIngestError(w, r, err, "failed to log crawl event")
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted", "event_id": ev.EventID})
}

// Register shop
func (h *TrackingHandler) RegisterShop(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	platform, storeID, ok := sourceID(w, r)
	if !ok {
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrMalformedPayload.Error())
		return
	}

	src, err := h.reporters.Register(r.Context(), platform, storeID, req.AllowedDomains)
	if err != nil {
		if domain.BadInput(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to register shop")
		return
	}

	json.NewEncoder(w).Encode(src)
}

// writeIngestError maps service errors onto wire responses. Authorization
// failures are logged with their exact kind but answered with a generic
// forbidden, so probes can't enumerate the registry.
func (h *TrackingHandler) writeIngestError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case domain.BadInput(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case domain.AuthError(err):
		log.Printf("rejected report on %s: %v", r.URL.Path, err)
		writeError(w, http.StatusForbidden, "forbidden")
	default:
		log.Printf("ingest failed on %s: %v", r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// requirePost enforces the method in-handler so non-POST requests get a 405
// with an Allow header rather than the mux's 404.
func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

// sourceID parses the X-Source-Id header ("platform:store_id").
func sourceID(w http.ResponseWriter, r *http.Request) (platform, storeID string, ok bool) {
	raw := r.Header.Get("X-Source-Id")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "X-Source-Id header is required")
		return "", "", false
	}
	platform, storeID, found := strings.Cut(raw, ":")
	platform = strings.TrimSpace(platform)
	storeID = strings.TrimSpace(storeID)
	if !found || platform == "" || storeID == "" {
		writeError(w, http.StatusBadRequest, "X-Source-Id must be of the form platform:store_id")
		return "", "", false
	}
	return platform, storeID, true
}

// originHost extracts the host of the requesting page from the Origin
// header, falling back to Referer.
func originHost(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" && origin != "null" {
		return services.ExtractHost(origin)
	}
	if referer := r.Header.Get("Referer"); referer != "" {
		return services.ExtractHost(referer)
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// WithCORS wraps a handler with the permissive CORS policy the pixel needs:
// reports come from arbitrary storefront origins.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Source-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
