package services

import (
	"strings"

	"github.com/wadjakorntonsri/aeo-tracker/pkg/core/domain"
)

// metadataString returns the first non-empty string value found under any of
// the given keys. Storefront pixels are inconsistent about key casing, so
// callers pass every variant they have seen.
func metadataString(md map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := md[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func nestedMap(md map[string]any, keys ...string) map[string]any {
	cur := md
	for _, key := range keys {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// productInfo is what the payload shapes below reduce to.
type productInfo struct {
	ID    string
	Title string
	URL   string
}

// productFromEvent digs the referenced product out of an event's metadata.
// Commerce pixels nest it differently per event kind:
//
//	metadata.data.productVariant.product      (product_viewed)
//	metadata.data.cartLine.merchandise.product (product_added_to_cart, checkout)
//
// with flat product_id/product_name/product_url keys as a fallback. Returns
// nil when the event references no product.
func productFromEvent(ev *domain.TrafficEvent) *productInfo {
	if ev.Metadata == nil {
		return nil
	}

	for _, path := range [][]string{
		{"data", "productVariant", "product"},
		{"data", "cartLine", "merchandise", "product"},
	} {
		if product := nestedMap(ev.Metadata, path...); product != nil {
			info := &productInfo{
				ID:    metadataString(product, "id"),
				Title: metadataString(product, "title"),
				URL:   metadataString(product, "url", "onlineStoreUrl"),
			}
			if info.ID != "" || info.Title != "" {
				if info.URL == "" {
					info.URL = eventURL(ev)
				}
				return info
			}
		}
	}

	id := metadataString(ev.Metadata, "product_id", "productId")
	title := metadataString(ev.Metadata, "product_name", "productName")
	if id == "" && title == "" {
		return nil
	}
	url := metadataString(ev.Metadata, "product_url", "productUrl")
	if url == "" {
		url = eventURL(ev)
	}
	return &productInfo{ID: id, Title: title, URL: url}
}

// eventURL reconstructs the page URL the event happened on, with attribution
// noise stripped from the query string.
func eventURL(ev *domain.TrafficEvent) string {
	path := stripAttributionTags(ev.Path)
	if ev.Domain == "" {
		return path
	}
	host := ExtractHost(ev.Domain)
	if host == "" {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "https://" + host + path
}

// stripAttributionTags removes utm_* parameters from a path's query string
// so the same page never shows up twice in popularity rankings.
func stripAttributionTags(path string) string {
	base, query, found := strings.Cut(path, "?")
	if !found {
		return path
	}
	var kept []string
	for _, param := range strings.Split(query, "&") {
		key, _, _ := strings.Cut(param, "=")
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			continue
		}
		if param != "" {
			kept = append(kept, param)
		}
	}
	if len(kept) == 0 {
		return base
	}
	return base + "?" + strings.Join(kept, "&")
}
