package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/wadjakorntonsri/aeo-tracker/pkg/core/domain"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/ports"
)

// ReporterService manages the registry of storefronts allowed to report
// traffic and answers the per-request authorization question.
type ReporterService struct {
	repo ports.TrafficRepository
	now  func() time.Time
}

func NewReporterService(repo ports.TrafficRepository) *ReporterService {
	return &ReporterService{repo: repo, now: time.Now}
}

func (s *ReporterService) Register(ctx context.Context, platform, storeID string, allowedDomains []string) (*domain.ReporterSource, error) {
	platform = strings.TrimSpace(platform)
	storeID = strings.TrimSpace(storeID)
	if platform == "" {
		return nil, fmt.Errorf("platform: %w", domain.ErrMissingField)
	}
	if storeID == "" {
		return nil, fmt.Errorf("store id: %w", domain.ErrMissingField)
	}

	now := s.now().UTC()
	src := &domain.ReporterSource{
		Platform:       platform,
		StoreID:        storeID,
		Status:         domain.ReporterActive,
		AllowedDomains: NormalizeAllowedDomains(allowedDomains),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Re-registering keeps the original created_at.
	existing, err := s.repo.GetReporter(ctx, platform, storeID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		src.CreatedAt = existing.CreatedAt
	}

	if err := s.repo.UpsertReporter(ctx, src); err != nil {
		return nil, err
	}
	return src, nil
}

func (s *ReporterService) Deactivate(ctx context.Context, platform, storeID string) error {
	src, err := s.repo.GetReporter(ctx, platform, storeID)
	if err != nil {
		return err
	}
	if src == nil {
		return domain.ErrUnknownReporter
	}
	src.Status = domain.ReporterInactive
	src.UpdatedAt = s.now().UTC()
	return s.repo.UpsertReporter(ctx, src)
}

// Authenticate decides whether a report claiming (platform, storeID,
// claimedDomain) from originHost may be accepted. The checks run in a fixed
// order so a request failing several of them always reports the same error.
func (s *ReporterService) Authenticate(ctx context.Context, platform, storeID, claimedDomain, originHost string) (*domain.ReporterSource, error) {
	claimedHost := ExtractHost(claimedDomain)

	// Spoof check: when the browser supplied an origin, the claimed domain
	// must agree with it.
	if originHost != "" && claimedHost != "" && claimedHost != strings.ToLower(originHost) {
		return nil, domain.ErrOriginMismatch
	}

	src, err := s.repo.GetReporter(ctx, platform, storeID)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, domain.ErrUnknownReporter
	}
	if !src.Active() {
		return nil, domain.ErrInactiveReporter
	}

	if len(src.AllowedDomains) > 0 && !domainAllowed(claimedHost, src.AllowedDomains) {
		return nil, domain.ErrDomainNotPermitted
	}
	return src, nil
}

// domainAllowed matches host against allowed entries exactly or as a
// dot-boundary subdomain, so "example.com" admits "shop.example.com" but not
// "evilexample.com".
func domainAllowed(host string, allowed []string) bool {
	if host == "" {
		return false
	}
	for _, a := range allowed {
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

// ExtractHost reduces a domain value that may arrive as a bare host, a
// host/path, or a full URL down to its lower-cased hostname. Returns "" when
// no host can be found.
func ExtractHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		return strings.ToLower(u.Hostname())
	}
	host := strings.TrimLeft(raw, "/")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	// Strip a port if present.
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host, "]") {
		host = host[:i]
	}
	return strings.ToLower(host)
}

// NormalizeAllowedDomains lower-cases entries, reduces them to bare hosts and
// drops empties and duplicates, preserving first-seen order.
func NormalizeAllowedDomains(domains []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range domains {
		host := ExtractHost(d)
		if host == "" || seen[host] {
			continue
		}
		seen[host] = true
		out = append(out, host)
	}
	return out
}

var _ ports.ReporterService = (*ReporterService)(nil)
