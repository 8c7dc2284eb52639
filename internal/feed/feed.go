// Package feed retrieves RSS/Atom entries for the feed summary command.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
)

const maxSummaryRunes = 280

// textPolicy drops every tag, comment and attribute, leaving a space where a tag was.
var textPolicy = bluemonday.StrictPolicy().AddSpaceWhenStrippingTag(true)

type Entry struct {
	Title     string     `json:"title"`
	Link      string     `json:"link"`
	Summary   string     `json:"summary,omitempty"`
	Published *time.Time `json:"published,omitempty"`
}

// Cache stores raw encoded entry lists by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Fetcher struct {
	parser *gofeed.Parser
	cache  Cache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewFetcher builds a fetcher. cache may be nil.
func NewFetcher(client *http.Client, cache Cache, ttl time.Duration, logger zerolog.Logger) *Fetcher {
	p := gofeed.NewParser()
	if client != nil {
		p.Client = client
	}
	p.UserAgent = "webhook-chatter/1.0"
	return &Fetcher{
		parser: p,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With().Str("component", "feed").Logger(),
	}
}

// Fetch returns up to limit entries of the feed at url, newest first as published by
// the feed. Cache failures are logged and fall through to a live fetch.
func (f *Fetcher) Fetch(ctx context.Context, url string, limit int) ([]Entry, error) {
	key := cacheKey(url)
	if f.cache != nil {
		raw, ok, err := f.cache.Get(ctx, key)
		if err != nil {
			f.logger.Warn().Err(err).Str("url", url).Msg("feed cache read failed")
		}
		if ok {
			var entries []Entry
			if err := json.Unmarshal(raw, &entries); err == nil {
				return truncate(entries, limit), nil
			}
		}
	}

	parsed, err := f.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", url, err)
	}
	entries := make([]Entry, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}
		summary := it.Description
		if summary == "" {
			summary = it.Content
		}
		entries = append(entries, Entry{
			Title:     strings.TrimSpace(it.Title),
			Link:      strings.TrimSpace(it.Link),
			Summary:   cleanSummary(summary),
			Published: it.PublishedParsed,
		})
	}

	if f.cache != nil && f.ttl > 0 {
		if raw, err := json.Marshal(entries); err == nil {
			if err := f.cache.Set(ctx, key, raw, f.ttl); err != nil {
				f.logger.Warn().Err(err).Str("url", url).Msg("feed cache write failed")
			}
		}
	}
	return truncate(entries, limit), nil
}

func cacheKey(url string) string {
	return "feed:" + url
}

func truncate(entries []Entry, limit int) []Entry {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}

// cleanSummary strips markup and shortens the text to maxSummaryRunes.
func cleanSummary(s string) string {
	s = html.UnescapeString(textPolicy.Sanitize(s))
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > maxSummaryRunes {
		return strings.TrimSpace(string(r[:maxSummaryRunes])) + "…"
	}
	return s
}
