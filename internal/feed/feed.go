package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultFeedKey is used when an unknown feed key is requested.
const defaultFeedKey = "vnexpress"

// knownFeeds maps short feed keys to RSS URLs.
var knownFeeds = map[string]string{
	"vnexpress": "https://vnexpress.net/rss/tin-moi-nhat.rss",
	"thanhnien": "https://thanhnien.vn/rss/home.rss",
	"laodong":   "https://laodong.vn/rss/home.rss",
}

// Item is one article from a fetched feed.
type Item struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`
	Content     string `json:"content"`
	PubDate     string `json:"pubDate"`
}

// Source fetches news feeds through an RSS-to-JSON bridge.
type Source struct {
	bridgeURL  string
	feeds      map[string]string
	itemLimit  int
	httpClient *http.Client
}

// NewSource creates a feed source. feedsFile optionally points at a YAML
// file mapping feed keys to RSS URLs; when set it replaces the built-in
// table.
func NewSource(bridgeURL, feedsFile string, itemLimit int) (*Source, error) {
	feeds := knownFeeds
	if feedsFile != "" {
		loaded, err := loadFeedsFile(feedsFile)
		if err != nil {
			return nil, err
		}
		feeds = loaded
	}
	if _, ok := feeds[defaultFeedKey]; !ok {
		return nil, fmt.Errorf("feed table must contain the default key %q", defaultFeedKey)
	}
	return &Source{
		bridgeURL:  bridgeURL,
		feeds:      feeds,
		itemLimit:  itemLimit,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func loadFeedsFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feeds file: %w", err)
	}
	var feeds map[string]string
	if err := yaml.Unmarshal(raw, &feeds); err != nil {
		return nil, fmt.Errorf("parse feeds file: %w", err)
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("feeds file %s is empty", path)
	}
	return feeds, nil
}

// FeedURL resolves a short feed key to its RSS URL. Unknown keys fall
// back to the default feed.
func (s *Source) FeedURL(key string) string {
	if u, ok := s.feeds[key]; ok {
		return u
	}
	return s.feeds[defaultFeedKey]
}

// Fetch retrieves a feed through the bridge and returns its items.
func (s *Source) Fetch(ctx context.Context, rssURL string) ([]Item, error) {
	api := s.bridgeURL + "?rss_url=" + url.QueryEscape(rssURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("feed fetch failed (%d)", resp.StatusCode)
	}

	var parsed struct {
		Status string `json:"status"`
		Items  []Item `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode feed response: %w", err)
	}
	if parsed.Items == nil {
		return nil, fmt.Errorf("invalid feed response")
	}
	return parsed.Items, nil
}

// TopArticlesText fetches the feed behind key and renders its top items
// as plain text suitable for prompt injection.
func (s *Source) TopArticlesText(ctx context.Context, key string) (string, error) {
	items, err := s.Fetch(ctx, s.FeedURL(key))
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", fmt.Errorf("no items in feed %q", key)
	}
	if len(items) > s.itemLimit {
		items = items[:s.itemLimit]
	}

	parts := make([]string, 0, len(items))
	for i, it := range items {
		desc := it.Description
		if desc == "" {
			desc = it.Content
		}
		short := truncate(stripHTML(desc), 600)
		parts = append(parts, fmt.Sprintf("%d. %s\n%s\nLink: %s", i+1, it.Title, short, it.Link))
	}
	return strings.Join(parts, "\n\n"), nil
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func stripHTML(s string) string {
	return strings.Join(strings.Fields(tagPattern.ReplaceAllString(s, " ")), " ")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
