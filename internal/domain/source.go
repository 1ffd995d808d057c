package domain

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	SearchPathTemplate     = "?ac=videolist&wd={query}"
	PagedSearchTemplate    = "?ac=videolist&wd={query}&pg={page}"
	DetailPathTemplate     = "?ac=videolist&ids={id}"
	DetailPagePathTemplate = "/index.php/vod/detail/id/{id}.html"
)

type Source struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	API        string `json:"api"`
	DetailPage string `json:"detail,omitempty"`
	Disabled   bool   `json:"disabled"`
}

// ScrapesDetail reports whether detail lookups go through the HTML detail
// page instead of the structured detail endpoint.
func (s Source) ScrapesDetail() bool {
	return strings.TrimSpace(s.DetailPage) != ""
}

func (s Source) SearchURL(query string) string {
	return s.API + expandTemplate(SearchPathTemplate, query, 0, "")
}

func (s Source) PageURL(query string, page int) string {
	return s.API + expandTemplate(PagedSearchTemplate, query, page, "")
}

func (s Source) DetailURL(id string) string {
	return s.API + expandTemplate(DetailPathTemplate, "", 0, id)
}

func (s Source) DetailPageURL(id string) string {
	return strings.TrimRight(s.DetailPage, "/") + expandTemplate(DetailPagePathTemplate, "", 0, id)
}

func expandTemplate(template, query string, page int, id string) string {
	return strings.NewReplacer(
		"{query}", escapeComponent(query),
		"{page}", strconv.Itoa(page),
		"{id}", escapeComponent(id),
	).Replace(template)
}

// escapeComponent mirrors encodeURIComponent: spaces become %20, not '+'.
func escapeComponent(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}

// ConfigSnapshot is the read-only configuration view taken at the start of a
// request.
type ConfigSnapshot struct {
	Sources       []Source
	MaxPages      int
	FilterEnabled bool
	FilterWords   []string
	CacheTime     time.Duration
	BannedUsers   []string
}

func (c ConfigSnapshot) EnabledSources() []Source {
	out := make([]Source, 0, len(c.Sources))
	for _, source := range c.Sources {
		if source.Disabled {
			continue
		}
		out = append(out, source)
	}
	return out
}

func (c ConfigSnapshot) FindEnabled(key string) (Source, bool) {
	key = strings.TrimSpace(key)
	for _, source := range c.Sources {
		if !source.Disabled && source.Key == key {
			return source, true
		}
	}
	return Source{}, false
}

func (c ConfigSnapshot) IsBanned(username string) bool {
	for _, banned := range c.BannedUsers {
		if banned == username {
			return true
		}
	}
	return false
}

type SourcePatch struct {
	Key      string
	Disabled *bool
}
