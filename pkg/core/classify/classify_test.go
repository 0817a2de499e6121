package classify

import "testing"

func TestClassify(t *testing.T) {
	table := Default()

	tests := []struct {
		name     string
		path     string
		referrer string
		want     string
	}{
		{
			name: "utm tag wins",
			path: "/products/shoes?utm_source=chatgpt.com",
			want: "chatgpt",
		},
		{
			name:     "utm tag beats referrer",
			path:     "/?utm_source=chatgpt",
			referrer: "https://www.google.com/search",
			want:     "chatgpt",
		},
		{
			name:     "referrer host match",
			path:     "/collections/all",
			referrer: "https://chat.openai.com/c/abc",
			want:     "chatgpt",
		},
		{
			name:     "referrer subdomain match",
			path:     "/",
			referrer: "https://www.perplexity.ai/search",
			want:     "perplexity",
		},
		{
			name:     "lookalike host is not a subdomain",
			path:     "/",
			referrer: "https://notchatgpt.com/",
			want:     "referral",
		},
		{
			name: "no referrer is direct",
			path: "/products/shoes",
			want: "direct",
		},
		{
			name: "empty everything is direct",
			want: "direct",
		},
		{
			name:     "unmatched referrer is referral",
			path:     "/",
			referrer: "https://blog.example.net/post",
			want:     "referral",
		},
		{
			name:     "bare referrer host",
			path:     "/",
			referrer: "claude.ai",
			want:     "claude",
		},
		{
			name:     "search engine referrer",
			path:     "/",
			referrer: "https://www.bing.com/search?q=shoes",
			want:     "bing",
		},
		{
			name: "unparsable path is unknown",
			path: "/products/%zz?utm_source",
			want: "unknown",
		},
		{
			name:     "unparsable path with referrer is unknown",
			path:     "://bad",
			referrer: "https://example.com",
			want:     "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := table.Classify(tt.path, tt.referrer); got != tt.want {
				t.Errorf("Classify(%q, %q) = %q, want %q", tt.path, tt.referrer, got, tt.want)
			}
		})
	}
}

func TestClassifyCustomTable(t *testing.T) {
	table := NewTable([]Rule{
		{Label: "newsletter", Tags: []string{"Newsletter", "email"}},
		{Label: "partner", Hosts: []string{"Partner.example.com"}},
	})

	if got := table.Classify("/?utm_source=NEWSLETTER", ""); got != "newsletter" {
		t.Errorf("tag match = %q, want newsletter", got)
	}
	if got := table.Classify("/", "https://shop.partner.example.com/"); got != "partner" {
		t.Errorf("host match = %q, want partner", got)
	}
}

func TestLabelsIncludeFallbacks(t *testing.T) {
	labels := Default().Labels()
	seen := map[string]bool{}
	for _, l := range labels {
		seen[l] = true
	}
	for _, want := range []string{"chatgpt", "google", SourceDirect, SourceReferral, SourceUnknown} {
		if !seen[want] {
			t.Errorf("Labels() missing %q", want)
		}
	}
}
