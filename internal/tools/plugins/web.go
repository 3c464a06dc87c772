// Package plugins contains the built-in tool plugins.
package plugins

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-logr/logr"

	"github.com/xiaot623/gogo/gateway/internal/tools"
)

const (
	userAgent        = "Mozilla/5.0 (compatible; chat-gateway/1.0)"
	maxBodyBytes     = 2 << 20
	defaultFetchSize = 4000
	maxFetchSize     = 20000
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Web provides web search and page fetching.
type Web struct {
	searchURL string
	client    *http.Client
	log       logr.Logger
}

// NewWeb creates the web plugin. searchURL must serve DuckDuckGo-style HTML results.
func NewWeb(searchURL string, timeout time.Duration, log logr.Logger) *Web {
	return &Web{
		searchURL: searchURL,
		client:    &http.Client{Timeout: timeout},
		log:       log.WithName("web"),
	}
}

func (w *Web) Name() string { return "web" }

func (w *Web) Tools() []tools.Tool {
	return []tools.Tool{
		tools.NewTool("web_search", "Search the web and return the top results with title, URL and snippet.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string", "description": "Search query"},
				"max_results": map[string]any{"type": "integer", "description": "Number of results to return", "default": 5},
			},
			"required": []string{"query"},
		}, w.search),
		tools.NewTool("fetch_url", "Fetch a web page and return its title and visible text.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url":       map[string]any{"type": "string", "description": "Absolute http or https URL"},
				"max_chars": map[string]any{"type": "integer", "description": "Maximum characters of text to return", "default": defaultFetchSize},
			},
			"required": []string{"url"},
		}, w.fetch),
	}
}

func (w *Web) search(ctx context.Context, args map[string]any) (any, error) {
	query, err := tools.StringArg(args, "query")
	if err != nil {
		return nil, err
	}
	limit := tools.IntArg(args, "max_results", 5, 10)

	form := url.Values{"q": {query}, "kl": {"us-en"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.searchURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search failed with status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	results := parseSearchResults(doc, limit)
	w.log.V(1).Info("web search", "query", query, "results", len(results))
	return map[string]any{
		"query":         query,
		"results":       results,
		"total_results": len(results),
	}, nil
}

// parseSearchResults understands both the html and lite result layouts.
func parseSearchResults(doc *goquery.Document, limit int) []SearchResult {
	results := make([]SearchResult, 0, limit)

	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		results = append(results, SearchResult{
			Title:   collapseSpace(link.Text()),
			URL:     resolveRedirect(href),
			Snippet: collapseSpace(s.Find(".result__snippet").First().Text()),
		})
		return len(results) < limit
	})
	if len(results) > 0 {
		return results
	}

	snippets := doc.Find("td.result-snippet")
	doc.Find("a.result-link").EachWithBreak(func(i int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		results = append(results, SearchResult{
			Title:   collapseSpace(s.Text()),
			URL:     resolveRedirect(href),
			Snippet: collapseSpace(snippets.Eq(i).Text()),
		})
		return len(results) < limit
	})
	return results
}

// resolveRedirect unwraps //duckduckgo.com/l/?uddg=<target> links.
func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		u.Scheme = "https"
		return u.String()
	}
	return href
}

func (w *Web) fetch(ctx context.Context, args map[string]any) (any, error) {
	raw, err := tools.StringArg(args, "url")
	if err != nil {
		return nil, err
	}
	target, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("invalid url %q: only absolute http and https URLs are supported", raw)
	}
	maxChars := tools.IntArg(args, "max_chars", defaultFetchSize, maxFetchSize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP request failed with status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	body := io.LimitReader(resp.Body, maxBodyBytes)

	var title, text string
	if mediaType, _, _ := mime.ParseMediaType(contentType); mediaType == "text/html" || mediaType == "" {
		doc, err := goquery.NewDocumentFromReader(body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse page: %w", err)
		}
		doc.Find("script, style, noscript, svg, iframe").Remove()
		title = collapseSpace(doc.Find("title").First().Text())
		text = collapseSpace(doc.Find("body").Text())
		if text == "" {
			text = collapseSpace(doc.Text())
		}
	} else {
		b, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		text = strings.TrimSpace(string(b))
	}

	truncated := false
	if utf8.RuneCountInString(text) > maxChars {
		text = string([]rune(text)[:maxChars])
		truncated = true
	}

	return map[string]any{
		"url":          target.String(),
		"title":        title,
		"content":      text,
		"content_type": contentType,
		"truncated":    truncated,
	}, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
