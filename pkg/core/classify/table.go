package classify

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultRules covers the agents and engines the tracker ships with. The
// chatgpt tag carries both the bare name and the hostname form because
// storefront pixels have emitted utm_source=chatgpt.com in the wild.
var defaultRules = []Rule{
	{Label: "chatgpt", Tags: []string{"chatgpt", "chatgpt.com"}, Hosts: []string{"chatgpt.com", "chat.openai.com", "openai.com"}},
	{Label: "gemini", Tags: []string{"gemini"}, Hosts: []string{"gemini.google.com"}},
	{Label: "copilot", Tags: []string{"copilot"}, Hosts: []string{"copilot.microsoft.com"}},
	{Label: "claude", Tags: []string{"claude", "claude.ai"}, Hosts: []string{"claude.ai"}},
	{Label: "perplexity", Tags: []string{"perplexity"}, Hosts: []string{"perplexity.ai"}},
	{Label: "mistral", Tags: []string{"mistral"}, Hosts: []string{"chat.mistral.ai", "mistral.ai"}},
	{Label: "google", Tags: []string{"google"}, Hosts: []string{"google.com", "www.google.com", "com.google.android.googlequicksearchbox"}},
	{Label: "bing", Tags: []string{"bing"}, Hosts: []string{"bing.com"}},
	{Label: "duckduckgo", Tags: []string{"duckduckgo"}, Hosts: []string{"duckduckgo.com"}},
	{Label: "facebook", Tags: []string{"facebook"}, Hosts: []string{"facebook.com", "m.facebook.com", "l.facebook.com"}},
	{Label: "instagram", Tags: []string{"instagram"}, Hosts: []string{"instagram.com", "l.instagram.com"}},
	{Label: "youtube", Tags: []string{"youtube"}, Hosts: []string{"youtube.com", "youtu.be"}},
	{Label: "pinterest", Tags: []string{"pinterest"}, Hosts: []string{"pinterest.com"}},
	{Label: "reddit", Tags: []string{"reddit"}, Hosts: []string{"reddit.com", "out.reddit.com"}},
}

// Default returns the built-in rule table.
func Default() *Table {
	return NewTable(defaultRules)
}

// LoadFile reads a rule table from a YAML file of the form:
//
//	sources:
//	  - label: chatgpt
//	    tags: [chatgpt, chatgpt.com]
//	    hosts: [chatgpt.com]
func LoadFile(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Sources []Rule `yaml:"sources"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse source table %s: %w", path, err)
	}
	if len(doc.Sources) == 0 {
		return nil, fmt.Errorf("source table %s defines no sources", path)
	}
	return NewTable(doc.Sources), nil
}
