package plugins

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-logr/logr"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/gateway/internal/tools"
)

const maxSummaryChars = 300

// Feed is a named RSS or Atom source.
type Feed struct {
	Name string
	URL  string
}

// Headline is one feed item.
type Headline struct {
	Source    string `json:"source"`
	Title     string `json:"title"`
	Link      string `json:"link"`
	Summary   string `json:"summary,omitempty"`
	Published string `json:"published,omitempty"`
}

// ParseFeeds reads "name=url" entries. A bare URL is named after its host.
func ParseFeeds(entries []string) ([]Feed, error) {
	feeds := make([]Feed, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		name, raw, ok := strings.Cut(e, "=")
		if !ok || strings.Contains(name, "/") {
			name, raw = "", e
		}
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid feed url %q", raw)
		}
		if name == "" {
			name = strings.ReplaceAll(strings.TrimPrefix(u.Hostname(), "www."), ".", "_")
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate feed name %q", name)
		}
		seen[name] = struct{}{}
		feeds = append(feeds, Feed{Name: name, URL: u.String()})
	}
	return feeds, nil
}

// News fetches headlines from configured feeds.
type News struct {
	feeds  []Feed
	client *http.Client
	log    logr.Logger
}

// NewNews creates the news plugin.
func NewNews(feeds []Feed, timeout time.Duration, log logr.Logger) *News {
	return &News{
		feeds:  feeds,
		client: &http.Client{Timeout: timeout},
		log:    log.WithName("news"),
	}
}

func (n *News) Name() string { return "news" }

func (n *News) Tools() []tools.Tool {
	names := make([]string, 0, len(n.feeds))
	for _, f := range n.feeds {
		names = append(names, f.Name)
	}
	return []tools.Tool{
		tools.NewTool("news.get_headlines", "The primary tool for news queries. Returns the latest headlines from one source, or from all sources when none is given.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"source": map[string]any{"type": "string", "description": "Optional news source", "enum": names},
				"limit":  map[string]any{"type": "integer", "description": "Number of headlines per source", "default": 5},
			},
		}, n.headlines),
	}
}

func (n *News) headlines(ctx context.Context, args map[string]any) (any, error) {
	limit := tools.IntArg(args, "limit", 5, 20)

	if source := strings.ToLower(tools.OptionalStringArg(args, "source", "")); source != "" {
		for _, f := range n.feeds {
			if f.Name == source {
				items, err := n.fetch(ctx, f, limit)
				if err != nil {
					return nil, err
				}
				return map[string]any{"source": source, "headlines": items}, nil
			}
		}
		names := make([]string, 0, len(n.feeds))
		for _, f := range n.feeds {
			names = append(names, f.Name)
		}
		return nil, fmt.Errorf("invalid news source, available sources: %s", strings.Join(names, ", "))
	}

	var (
		mu       sync.Mutex
		failures int
	)
	perFeed := make([][]Headline, len(n.feeds))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range n.feeds {
		g.Go(func() error {
			items, err := n.fetch(gctx, f, limit)
			if err != nil {
				n.log.Info("feed fetch failed", "source", f.Name, "error", err.Error())
				mu.Lock()
				failures++
				mu.Unlock()
				return nil
			}
			perFeed[i] = items
			return nil
		})
	}
	_ = g.Wait()

	if len(n.feeds) == 0 || failures == len(n.feeds) {
		return nil, fmt.Errorf("no news source is reachable")
	}
	all := make([]Headline, 0, limit*len(n.feeds))
	for _, items := range perFeed {
		all = append(all, items...)
	}
	return map[string]any{"source": "all", "headlines": all}, nil
}

func (n *News) fetch(ctx context.Context, f Feed, limit int) ([]Headline, error) {
	parser := gofeed.NewParser()
	parser.Client = n.client
	parser.UserAgent = userAgent

	feed, err := parser.ParseURLWithContext(f.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", f.Name, err)
	}

	items := make([]Headline, 0, limit)
	for _, item := range feed.Items {
		if len(items) == limit {
			break
		}
		h := Headline{
			Source:  f.Name,
			Title:   collapseSpace(item.Title),
			Link:    item.Link,
			Summary: truncateRunes(collapseSpace(item.Description), maxSummaryChars),
		}
		if item.PublishedParsed != nil {
			h.Published = item.PublishedParsed.UTC().Format(time.RFC3339)
		} else {
			h.Published = item.Published
		}
		items = append(items, h)
	}
	return items, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
