package news

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"oraclebot/internal/config"
	"oraclebot/internal/models"
)

// Fetcher polls RSS feeds and returns items relevant to a market. Absence of
// evidence is a valid low-information state, not an error.
type Fetcher struct {
	Feeds    []string
	Keywords []string
	MaxItems int

	HTTP   *http.Client
	Logger *zap.Logger
}

func NewFetcher(cfg config.NewsConfig, logger *zap.Logger) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		Feeds:    cfg.Feeds,
		Keywords: cfg.Keywords,
		MaxItems: cfg.MaxItems,
		HTTP:     &http.Client{Timeout: timeout},
		Logger:   logger,
	}
}

type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

// FetchFor returns evidence items from all configured feeds whose titles
// overlap the market title (or any configured keyword). A failing feed is
// logged and skipped; the remaining feeds still contribute.
func (f *Fetcher) FetchFor(ctx context.Context, market models.Market) ([]models.EvidenceItem, error) {
	if f == nil || len(f.Feeds) == 0 {
		return nil, nil
	}
	terms := significantWords(market.Title)
	for _, kw := range f.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			terms[kw] = struct{}{}
		}
	}

	var out []models.EvidenceItem
	for _, feed := range f.Feeds {
		items, err := f.fetchFeed(ctx, feed)
		if err != nil {
			if f.Logger != nil {
				f.Logger.Warn("news feed fetch failed", zap.String("feed", feed), zap.Error(err))
			}
			continue
		}
		source := feedHost(feed)
		for _, it := range items {
			if !matchesTerms(it.Title, terms) {
				continue
			}
			published, _ := parsePubDate(it.PubDate)
			out = append(out, models.EvidenceItem{
				Source:      source,
				Title:       strings.TrimSpace(it.Title),
				Body:        strings.TrimSpace(it.Description),
				PublishedAt: published,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	max := f.MaxItems
	if max <= 0 {
		max = 20
	}
	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}

func (f *Fetcher) fetchFeed(ctx context.Context, feedURL string) ([]rssItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml")
	resp, err := f.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	var doc rssDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("feed decode: %w", err)
	}
	return doc.Channel.Items, nil
}

func (f *Fetcher) httpClient() *http.Client {
	if f.HTTP != nil {
		return f.HTTP
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// significantWords drops short tokens to exclude stop-words cheaply.
func significantWords(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) >= 4 {
			out[w] = struct{}{}
		}
	}
	return out
}

func matchesTerms(title string, terms map[string]struct{}) bool {
	if len(terms) == 0 {
		return false
	}
	for _, w := range strings.Fields(strings.ToLower(title)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if _, ok := terms[w]; ok {
			return true
		}
	}
	return false
}

func feedHost(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL
	}
	return u.Host
}

func parsePubDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized pub date: %s", raw)
}
