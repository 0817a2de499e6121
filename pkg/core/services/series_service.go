package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wadjakorntonsri/aeo-tracker/pkg/core/domain"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/ports"
)

// conversionTypes are the event types counted as purchases. Older pixels
// emitted the bare "checkout" type.
var conversionTypes = []string{"checkout_completed", "checkout"}

// SeriesService answers dashboard reads. Sub-hour series are computed live
// from raw events; hour-and-up series read the pre-aggregated buckets.
type SeriesService struct {
	repo ports.TrafficRepository
	loc  *time.Location
	now  func() time.Time
}

func NewSeriesService(repo ports.TrafficRepository, loc *time.Location) *SeriesService {
	if loc == nil {
		loc = time.UTC
	}
	return &SeriesService{repo: repo, loc: loc, now: time.Now}
}

// Series returns exactly interval.Points() chart points ending at the
// current (truncated) instant. Every slot exists even when it holds no data,
// so charts never show gaps.
func (s *SeriesService) Series(ctx context.Context, platform, storeID string, interval domain.Interval) ([]domain.SeriesPoint, error) {
	now := s.now().In(s.loc)
	starts := s.pointStarts(now, interval)

	points := make([]domain.SeriesPoint, len(starts))
	index := map[time.Time]int{}
	for i, start := range starts {
		points[i] = domain.SeriesPoint{
			Start:   start,
			Label:   s.pointLabel(start, interval),
			Sources: map[string]domain.PointMetrics{},
		}
		index[start.UTC()] = i
	}

	var err error
	switch interval.Granularity() {
	case time.Minute:
		err = s.fillFromEvents(ctx, platform, storeID, points, index, starts, now)
	default:
		err = s.fillFromBuckets(ctx, platform, storeID, interval, points, index, starts)
	}
	if err != nil {
		return nil, err
	}

	for i := range points {
		var all domain.PointMetrics
		for _, m := range points[i].Sources {
			all.TotalEvents += m.TotalEvents
			all.UniqueUsers += m.UniqueUsers
		}
		points[i].All = all
	}
	return points, nil
}

// pointStarts generates the aligned slot starts, oldest first. Day-wide slots
// step with AddDate so DST transitions keep slots on local midnight.
func (s *SeriesService) pointStarts(now time.Time, interval domain.Interval) []time.Time {
	n := interval.Points()
	starts := make([]time.Time, n)

	switch interval.Granularity() {
	case time.Minute:
		last := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), 0, 0, s.loc)
		for i := 0; i < n; i++ {
			starts[i] = last.Add(-time.Duration(n-1-i) * time.Minute)
		}
	case time.Hour:
		last := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, s.loc)
		for i := 0; i < n; i++ {
			starts[i] = last.Add(-time.Duration(n-1-i) * time.Hour)
		}
	default:
		last := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
		for i := 0; i < n; i++ {
			starts[i] = last.AddDate(0, 0, -(n - 1 - i))
		}
	}
	return starts
}

func (s *SeriesService) pointLabel(start time.Time, interval domain.Interval) string {
	if interval.Granularity() >= 24*time.Hour {
		return start.Format("Jan 2")
	}
	return start.Format("15:04")
}

// fillFromEvents recomputes minute slots live, so the last few minutes are
// visible before the hourly rollup has run.
func (s *SeriesService) fillFromEvents(ctx context.Context, platform, storeID string, points []domain.SeriesPoint, index map[time.Time]int, starts []time.Time, now time.Time) error {
	events, err := s.repo.ListEventsBetween(ctx, platform, storeID, starts[0], now)
	if err != nil {
		return err
	}

	type slot struct {
		point  int
		source string
	}
	clients := map[slot]map[string]bool{}

	for i := range events {
		ev := &events[i]
		t := ev.OccurredAt.In(s.loc)
		minute := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, s.loc)
		pi, ok := index[minute.UTC()]
		if !ok {
			continue
		}
		m := points[pi].Sources[ev.PrimarySource]
		m.TotalEvents++
		points[pi].Sources[ev.PrimarySource] = m

		if ev.ClientID != "" {
			key := slot{point: pi, source: ev.PrimarySource}
			if clients[key] == nil {
				clients[key] = map[string]bool{}
			}
			clients[key][ev.ClientID] = true
		}
	}

	for key, set := range clients {
		m := points[key.point].Sources[key.source]
		m.UniqueUsers = int64(len(set))
		points[key.point].Sources[key.source] = m
	}
	return nil
}

// fillFromBuckets serves hour and day slots from the aggregated store. Day
// slots sum their hours; summed unique counts can double-count a visitor who
// returns across hours, which the dashboard accepts for trend display.
func (s *SeriesService) fillFromBuckets(ctx context.Context, platform, storeID string, interval domain.Interval, points []domain.SeriesPoint, index map[time.Time]int, starts []time.Time) error {
	from := starts[0]
	to := starts[len(starts)-1].Add(interval.Granularity())
	buckets, err := s.repo.ListBuckets(ctx, platform, storeID, from, to)
	if err != nil {
		return err
	}

	for i := range buckets {
		b := &buckets[i]
		start := b.BucketStart.In(s.loc)
		if interval.Granularity() >= 24*time.Hour {
			start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, s.loc)
		}
		pi, ok := index[start.UTC()]
		if !ok {
			continue
		}
		m := points[pi].Sources[b.Source]
		m.TotalEvents += b.TotalEvents
		m.UniqueUsers += b.UniqueUsers
		points[pi].Sources[b.Source] = m
	}
	return nil
}

// Summary computes the all-time rollup for one tenant straight from raw
// events, so it never lags behind ingestion.
func (s *SeriesService) Summary(ctx context.Context, platform, storeID string) (*domain.StoreSummary, error) {
	visits, err := s.repo.CountEvents(ctx, platform, storeID)
	if err != nil {
		return nil, err
	}
	crawls, err := s.repo.CountCrawlerEvents(ctx, platform, storeID)
	if err != nil {
		return nil, err
	}
	conversions, err := s.repo.ListEventsByTypes(ctx, platform, storeID, conversionTypes)
	if err != nil {
		return nil, err
	}

	summary := &domain.StoreSummary{
		TotalVisits:      visits,
		TotalCrawlerHits: crawls,
		TotalConversions: int64(len(conversions)),
	}
	if len(conversions) == 0 {
		return summary, nil
	}

	// Conversions attribute to the client's first-touch source when known;
	// the event's own source is the fallback for anonymous checkouts.
	firstTouch := map[string]string{}
	attrs, err := s.repo.ListClientSources(ctx, platform, storeID)
	if err != nil {
		return nil, err
	}
	for _, attr := range attrs {
		firstTouch[attr.ClientID] = attr.Source
	}

	type itemCount struct {
		info     *productInfo
		count    int64
		lastSeen time.Time
	}
	pick := func(items map[string]*itemCount) *domain.MostPopular {
		var top *itemCount
		for _, item := range items {
			if top == nil || item.count > top.count ||
				(item.count == top.count && item.lastSeen.After(top.lastSeen)) {
				top = item
			}
		}
		if top == nil {
			return nil
		}
		return &domain.MostPopular{
			ID:          top.info.ID,
			Title:       top.info.Title,
			URL:         top.info.URL,
			TotalEvents: top.count,
		}
	}
	tally := func(items map[string]*itemCount, product *productInfo, at time.Time) {
		id := product.ID
		if id == "" {
			id = product.Title
		}
		item, ok := items[id]
		if !ok {
			item = &itemCount{info: product}
			items[id] = item
		}
		item.count++
		if at.After(item.lastSeen) {
			item.lastSeen = at
		}
	}

	overall := map[string]*itemCount{}
	bySource := map[string]map[string]*itemCount{}
	var latest *domain.TrafficEvent

	for i := range conversions {
		ev := &conversions[i]
		if latest == nil || ev.OccurredAt.After(latest.OccurredAt) {
			latest = ev
		}

		product := productFromEvent(ev)
		if product == nil {
			continue
		}

		source := ev.PrimarySource
		if ev.ClientID != "" {
			if ft, ok := firstTouch[ev.ClientID]; ok {
				source = ft
			}
		}

		tally(overall, product, ev.OccurredAt)
		if bySource[source] == nil {
			bySource[source] = map[string]*itemCount{}
		}
		tally(bySource[source], product, ev.OccurredAt)
	}

	summary.MostPurchased = pick(overall)
	if len(bySource) > 0 {
		summary.MostPurchasedBySource = map[string]*domain.MostPopular{}
		for source, items := range bySource {
			if top := pick(items); top != nil {
				summary.MostPurchasedBySource[source] = top
			}
		}
	}
	if latest != nil {
		info := &domain.ConversionInfo{OccurredAt: latest.OccurredAt}
		if product := productFromEvent(latest); product != nil {
			info.ProductTitle = product.Title
		}
		summary.MostRecentConversion = info
	}
	return summary, nil
}

// RecentActivity returns the n most recent events as human-readable feed
// rows, optionally filtered to one source.
func (s *SeriesService) RecentActivity(ctx context.Context, platform, storeID, source string, n int) ([]domain.ActivityRecord, error) {
	events, err := s.repo.ListRecentEvents(ctx, platform, storeID, source, nil, n)
	if err != nil {
		return nil, err
	}

	records := make([]domain.ActivityRecord, 0, len(events))
	for i := range events {
		ev := &events[i]
		records = append(records, domain.ActivityRecord{
			ClientID:      ev.ClientID,
			EventType:     ev.Type,
			Description:   describeEvent(ev),
			URL:           eventURL(ev),
			PrimarySource: ev.PrimarySource,
			Time:          ev.OccurredAt,
		})
	}
	return records, nil
}

func describeEvent(ev *domain.TrafficEvent) string {
	product := productFromEvent(ev)
	title := ""
	if product != nil {
		title = product.Title
	}

	switch ev.Type {
	case "page_viewed":
		return "Viewed " + ev.Path
	case "product_viewed":
		if title != "" {
			return fmt.Sprintf("Viewed %q", title)
		}
		return "Viewed a product"
	case "product_added_to_cart":
		if title != "" {
			return fmt.Sprintf("Added %q to cart", title)
		}
		return "Added a product to cart"
	case "checkout_started":
		return "Started checkout"
	case "checkout_completed", "checkout":
		if title != "" {
			return fmt.Sprintf("Purchased %q", title)
		}
		return "Completed checkout"
	default:
		return strings.ReplaceAll(ev.Type, "_", " ")
	}
}

var _ ports.SeriesService = (*SeriesService)(nil)
