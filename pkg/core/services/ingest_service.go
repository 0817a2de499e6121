package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/core/classify"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/core/domain"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/ports"
)

// Timestamp sanity bounds. Events claiming to be from the future are clamped
// to now; events older than the retention horizon are rejected outright.
const (
	maxFutureSkew = 5 * time.Minute
	maxEventAge   = 30 * 24 * time.Hour
)

// occurredAtLayouts are accepted on the wire, tried in order.
var occurredAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// IngestService is the write path: it authenticates the reporter, classifies
// the event and appends it to storage. Events are never mutated after the
// append.
type IngestService struct {
	repo      ports.TrafficRepository
	reporters ports.ReporterService
	table     *classify.Table
	now       func() time.Time
}

func NewIngestService(repo ports.TrafficRepository, reporters ports.ReporterService, table *classify.Table) *IngestService {
	return &IngestService{repo: repo, reporters: reporters, table: table, now: time.Now}
}

func (s *IngestService) IngestTraffic(ctx context.Context, report *domain.TrafficReport) (*domain.TrafficEvent, error) {
	if ExtractHost(report.Domain) == "" {
		return nil, domain.ErrMissingDomain
	}

	if _, err := s.reporters.Authenticate(ctx, report.Platform, report.StoreID, report.Domain, report.OriginHost); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	occurredAt, err := s.resolveOccurredAt(report.OccurredAt, now)
	if err != nil {
		return nil, err
	}

	path := report.Path
	if strings.TrimSpace(path) == "" {
		path = "/"
	}

	eventType := strings.TrimSpace(report.Type)
	if eventType == "" {
		eventType = "generic"
	}

	source := s.table.Classify(path, metadataString(report.Metadata, "referer", "referrer"))

	ev := &domain.TrafficEvent{
		EventID:       uuid.NewString(),
		Platform:      report.Platform,
		StoreID:       report.StoreID,
		Domain:        report.Domain,
		Path:          path,
		Type:          eventType,
		OccurredAt:    occurredAt,
		IngestedAt:    now,
		PrimarySource: source,
		ClientID:      metadataString(report.Metadata, "clientId", "client_id"),
		Metadata:      report.Metadata,
	}

	if err := s.repo.InsertTrafficEvent(ctx, ev); err != nil {
		return nil, err
	}

	// First-touch attribution is best effort: the event is already durable,
	// so a failed attribution write must not fail the request.
	if ev.ClientID != "" {
		_, err := s.repo.InsertClientSourceIfAbsent(ctx, &domain.ClientSourceAttribution{
			Platform:  ev.Platform,
			StoreID:   ev.StoreID,
			ClientID:  ev.ClientID,
			Source:    ev.PrimarySource,
			FirstSeen: occurredAt,
		})
		if err != nil {
			log.Printf("client source attribution failed for %s/%s: %v", ev.Platform, ev.StoreID, err)
		}
	}

	return ev, nil
}

func (s *IngestService) IngestCrawl(ctx context.Context, report *domain.CrawlReport) (*domain.CrawlerEvent, error) {
	if ExtractHost(report.Domain) == "" {
		return nil, domain.ErrMissingDomain
	}
	if strings.TrimSpace(report.UserAgent) == "" {
		return nil, fmt.Errorf("user agent: %w", domain.ErrMissingField)
	}

	// Crawler hits carry no browser origin; only the registry check applies.
	if _, err := s.reporters.Authenticate(ctx, report.Platform, report.StoreID, report.Domain, ""); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	occurredAt, err := s.resolveOccurredAt(report.OccurredAt, now)
	if err != nil {
		return nil, err
	}

	path := report.Path
	if strings.TrimSpace(path) == "" {
		path = "/"
	}

	ev := &domain.CrawlerEvent{
		EventID:    uuid.NewString(),
		Platform:   report.Platform,
		StoreID:    report.StoreID,
		Domain:     report.Domain,
		Path:       path,
		UserAgent:  report.UserAgent,
		IP:         report.IP,
		OccurredAt: occurredAt,
		IngestedAt: now,
		Metadata:   report.Metadata,
	}

	if err := s.repo.InsertCrawlerEvent(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// resolveOccurredAt parses the reported timestamp and applies the skew
// policy. Missing timestamps default to now.
func (s *IngestService) resolveOccurredAt(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now, nil
	}

	var occurredAt time.Time
	parsed := false
	for _, layout := range occurredAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			occurredAt = t.UTC()
			parsed = true
			break
		}
	}
	if !parsed {
		return time.Time{}, domain.ErrInvalidTimestamp
	}

	if occurredAt.After(now.Add(maxFutureSkew)) {
		return now, nil
	}
	if occurredAt.Before(now.Add(-maxEventAge)) {
		return time.Time{}, fmt.Errorf("older than retention window: %w", domain.ErrInvalidTimestamp)
	}
	return occurredAt, nil
}

var _ ports.IngestService = (*IngestService)(nil)
