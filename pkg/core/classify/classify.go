// Package classify assigns a primary source label to storefront traffic.
// The mapping from attribution tags and referrer hosts to canonical labels
// is table data, not control flow, so new agents and engines can be added
// without touching the algorithm.
package classify

import (
	"net/url"
	"strings"
)

// Fallback labels returned when no rule matches.
const (
	SourceDirect   = "direct"
	SourceReferral = "referral"
	SourceUnknown  = "unknown"
)

// Rule maps attribution-tag values and referrer hosts to one canonical
// source label.
type Rule struct {
	Label string   `yaml:"label"`
	Tags  []string `yaml:"tags,omitempty"`
	Hosts []string `yaml:"hosts,omitempty"`
}

// Table is a compiled rule set. Safe for concurrent use once built.
type Table struct {
	tags  map[string]string // lower-cased utm_source value -> label
	hosts []hostRule
}

type hostRule struct {
	host  string
	label string
}

// NewTable compiles rules into a lookup table. Tag and host values are
// matched case-insensitively.
func NewTable(rules []Rule) *Table {
	t := &Table{tags: make(map[string]string)}
	for _, r := range rules {
		for _, tag := range r.Tags {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag != "" {
				t.tags[tag] = r.Label
			}
		}
		for _, h := range r.Hosts {
			h = strings.ToLower(strings.TrimSpace(h))
			if h != "" {
				t.hosts = append(t.hosts, hostRule{host: h, label: r.Label})
			}
		}
	}
	return t
}

// Classify resolves the primary source for one event. It is total: any
// inputs, including empty strings and unparsable paths, produce a label.
//
// Resolution order mirrors storefront attribution precedence: an explicit
// utm_source tag on the landing path wins, then the referrer host, then
// direct/referral fallback.
func (t *Table) Classify(path, referrer string) string {
	if label, ok := t.tagLabel(path); ok {
		return label
	}
	if label, ok := t.hostLabel(referrer); ok {
		return label
	}
	if path != "" {
		if _, err := url.Parse(relative(path)); err != nil {
			return SourceUnknown
		}
	}
	if strings.TrimSpace(referrer) == "" {
		return SourceDirect
	}
	return SourceReferral
}

func (t *Table) tagLabel(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	u, err := url.Parse(relative(path))
	if err != nil {
		return "", false
	}
	tag := strings.ToLower(u.Query().Get("utm_source"))
	if tag == "" {
		return "", false
	}
	label, ok := t.tags[tag]
	return label, ok
}

func (t *Table) hostLabel(referrer string) (string, bool) {
	host := referrerHost(referrer)
	if host == "" {
		return "", false
	}
	for _, r := range t.hosts {
		if host == r.host || strings.HasSuffix(host, "."+r.host) {
			return r.label, true
		}
	}
	return "", false
}

// Labels returns every canonical label the table can produce, fallbacks
// included.
func (t *Table) Labels() []string {
	seen := map[string]bool{}
	labels := []string{}
	add := func(l string) {
		if !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}
	for _, tag := range t.tags {
		add(tag)
	}
	for _, h := range t.hosts {
		add(h.label)
	}
	add(SourceDirect)
	add(SourceReferral)
	add(SourceUnknown)
	return labels
}

func relative(path string) string {
	if strings.HasPrefix(path, "/") || strings.Contains(path, "://") {
		return path
	}
	return "/" + path
}

func referrerHost(referrer string) string {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return ""
	}
	if strings.Contains(referrer, "://") {
		u, err := url.Parse(referrer)
		if err != nil {
			return ""
		}
		return strings.ToLower(u.Host)
	}
	host := strings.TrimLeft(referrer, "/")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	return strings.ToLower(host)
}
