package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/ainoobmenpg/cc-gateway/internal/models"
	"github.com/ainoobmenpg/cc-gateway/internal/tools"
)

// SearchBackend selects which upstream search API web_search queries (spec
// §4.3 — grounded on the teacher's tools/websearch.WebSearchTool, which
// supports the same three backends).
type SearchBackend string

const (
	BackendSearXNG     SearchBackend = "searxng"
	BackendDuckDuckGo  SearchBackend = "duckduckgo"
	BackendBraveSearch SearchBackend = "brave"
)

// WebConfig configures the web_search/web_fetch tool pair.
type WebConfig struct {
	SearXNGURL         string
	BraveAPIKey        string
	DefaultBackend     SearchBackend
	DefaultResultCount int
	MaxFetchChars      int
}

func (c WebConfig) withDefaults() WebConfig {
	if c.DefaultResultCount == 0 {
		c.DefaultResultCount = 5
	}
	if c.MaxFetchChars == 0 {
		c.MaxFetchChars = 10_000
	}
	if c.DefaultBackend == "" {
		if c.SearXNGURL != "" {
			c.DefaultBackend = BackendSearXNG
		} else {
			c.DefaultBackend = BackendDuckDuckGo
		}
	}
	return c
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content,omitempty"`
}

type searchResponse struct {
	Query       string         `json:"query"`
	Results     []searchResult `json:"results"`
	ResultCount int            `json:"result_count"`
	Backend     SearchBackend  `json:"backend"`
}

// WebSearchTool queries a configured search backend, with DuckDuckGo as the
// fallback when the primary backend errors (spec §4.3, sensitivity level 2).
type WebSearchTool struct {
	cfg        WebConfig
	httpClient *http.Client
	fetcher    *urlFetcher
}

// NewWebSearchTool builds a web_search tool from cfg.
func NewWebSearchTool(cfg WebConfig) *WebSearchTool {
	return &WebSearchTool{
		cfg:        cfg.withDefaults(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		fetcher:    newURLFetcher(),
	}
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) Description() string { return "Search the web and return titles, URLs, and snippets." }
func (t *WebSearchTool) Sensitivity() models.Sensitivity { return models.SensitivityNetworkRead }

func (t *WebSearchTool) Schema() json.RawMessage {
	return schemaOrFallback(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query":           map[string]interface{}{"type": "string", "description": "The search query."},
			"result_count":    map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 20, "description": "Number of results to return (default: 5, max: 20)."},
			"extract_content": map[string]interface{}{"type": "boolean", "description": "Fetch and extract readable content from each result URL (default: false)."},
			"backend":         map[string]interface{}{"type": "string", "enum": []string{"searxng", "duckduckgo", "brave"}, "description": "Search backend to use (default: configured default)."},
		},
		"required": []string{"query"},
	})
}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (tools.Result, error) {
	var input struct {
		Query          string        `json:"query"`
		ResultCount    int           `json:"result_count"`
		ExtractContent bool          `json:"extract_content"`
		Backend        SearchBackend `json:"backend"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errResult("invalid parameters: %v", err)
	}
	if strings.TrimSpace(input.Query) == "" {
		return errResult("query is required")
	}
	if input.ResultCount <= 0 {
		input.ResultCount = t.cfg.DefaultResultCount
	} else if input.ResultCount > 20 {
		input.ResultCount = 20
	}
	if input.Backend == "" {
		input.Backend = t.cfg.DefaultBackend
	}

	resp, err := t.search(ctx, input.Backend, input.Query, input.ResultCount)
	if err != nil && input.Backend != BackendDuckDuckGo {
		resp, err = t.search(ctx, BackendDuckDuckGo, input.Query, input.ResultCount)
	}
	if err != nil {
		return errResult("search failed: %v", err)
	}

	if input.ExtractContent {
		var wg sync.WaitGroup
		for i := range resp.Results {
			wg.Add(1)
			go func(r *searchResult) {
				defer wg.Done()
				if content, err := t.fetcher.fetch(ctx, r.URL); err == nil {
					r.Content = truncate(content, t.cfg.MaxFetchChars)
				}
			}(&resp.Results[i])
		}
		wg.Wait()
	}

	payload, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return errResult("encode result: %v", err)
	}
	return tools.Result{Output: string(payload)}, nil
}

func (t *WebSearchTool) search(ctx context.Context, backend SearchBackend, query string, count int) (*searchResponse, error) {
	switch backend {
	case BackendSearXNG:
		return t.searchSearXNG(ctx, query, count)
	case BackendBraveSearch:
		return t.searchBrave(ctx, query, count)
	default:
		return t.searchDuckDuckGo(ctx, query, count)
	}
}

func (t *WebSearchTool) searchSearXNG(ctx context.Context, query string, count int) (*searchResponse, error) {
	if t.cfg.SearXNGURL == "" {
		return nil, fmt.Errorf("searxng url not configured")
	}
	base, err := url.Parse(t.cfg.SearXNGURL)
	if err != nil {
		return nil, fmt.Errorf("invalid searxng url: %w", err)
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("categories", "general")
	base.Path = "/search"
	base.RawQuery = q.Encode()

	body, err := t.get(ctx, base.String(), nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse searxng response: %w", err)
	}

	results := make([]searchResult, 0, count)
	for i := 0; i < len(parsed.Results) && i < count; i++ {
		r := parsed.Results[i]
		results = append(results, searchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return &searchResponse{Query: query, Results: results, ResultCount: len(results), Backend: BackendSearXNG}, nil
}

func (t *WebSearchTool) searchDuckDuckGo(ctx context.Context, query string, count int) (*searchResponse, error) {
	instantURL := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1", url.QueryEscape(query))
	body, err := t.get(ctx, instantURL, map[string]string{"User-Agent": "Mozilla/5.0 (compatible; cc-gatewaybot/1.0)"})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse duckduckgo response: %w", err)
	}

	var results []searchResult
	if parsed.AbstractText != "" && parsed.AbstractURL != "" {
		results = append(results, searchResult{Title: parsed.Heading, URL: parsed.AbstractURL, Snippet: parsed.AbstractText})
	}
	for i := 0; i < len(parsed.RelatedTopics) && len(results) < count; i++ {
		topic := parsed.RelatedTopics[i]
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, searchResult{Title: title, URL: topic.FirstURL, Snippet: topic.Text})
	}
	return &searchResponse{Query: query, Results: results, ResultCount: len(results), Backend: BackendDuckDuckGo}, nil
}

func (t *WebSearchTool) searchBrave(ctx context.Context, query string, count int) (*searchResponse, error) {
	if t.cfg.BraveAPIKey == "" {
		return nil, fmt.Errorf("brave api key not configured")
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", count))
	endpoint := "https://api.search.brave.com/res/v1/web/search?" + q.Encode()

	body, err := t.get(ctx, endpoint, map[string]string{
		"Accept":                "application/json",
		"X-Subscription-Token":  t.cfg.BraveAPIKey,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse brave response: %w", err)
	}

	results := make([]searchResult, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		results = append(results, searchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return &searchResponse{Query: query, Results: results, ResultCount: len(results), Backend: BackendBraveSearch}, nil
}

func (t *WebSearchTool) get(ctx context.Context, target string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
}

// WebFetchTool fetches a URL and extracts its readable content (spec §4.3,
// sensitivity level 2).
type WebFetchTool struct {
	maxChars int
	fetcher  *urlFetcher
}

// NewWebFetchTool builds a web_fetch tool from cfg.
func NewWebFetchTool(cfg WebConfig) *WebFetchTool {
	cfg = cfg.withDefaults()
	return &WebFetchTool{maxChars: cfg.MaxFetchChars, fetcher: newURLFetcher()}
}

func (t *WebFetchTool) Name() string        { return "web_fetch" }
func (t *WebFetchTool) Description() string { return "Fetch a URL and extract its readable content." }
func (t *WebFetchTool) Sensitivity() models.Sensitivity { return models.SensitivityNetworkRead }

func (t *WebFetchTool) Schema() json.RawMessage {
	return schemaOrFallback(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url":       map[string]interface{}{"type": "string", "description": "URL to fetch (http/https only)."},
			"max_chars": map[string]interface{}{"type": "integer", "minimum": 0, "description": "Maximum characters to return (default: 10000)."},
		},
		"required": []string{"url"},
	})
}

func (t *WebFetchTool) Execute(ctx context.Context, params json.RawMessage) (tools.Result, error) {
	var input struct {
		URL      string `json:"url"`
		MaxChars int    `json:"max_chars"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errResult("invalid parameters: %v", err)
	}
	if strings.TrimSpace(input.URL) == "" {
		return errResult("url is required")
	}

	limit := t.maxChars
	if input.MaxChars > 0 && input.MaxChars < limit {
		limit = input.MaxChars
	}

	content, err := t.fetcher.fetch(ctx, input.URL)
	if err != nil {
		return errResult("fetch failed: %v", err)
	}

	truncated := false
	if limit > 0 && len(content) > limit {
		content = content[:limit] + "..."
		truncated = true
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"url":       input.URL,
		"content":   content,
		"truncated": truncated,
	}, "", "  ")
	if err != nil {
		return errResult("encode result: %v", err)
	}
	return tools.Result{Output: string(payload)}, nil
}

// urlFetcher fetches a URL with SSRF protection and extracts its readable
// content via go-readability (spec §4.3 — SSRF guard grounded on the
// teacher's tools/websearch.ContentExtractor.validateURLForSSRF; extraction
// itself uses the pack's readability library in place of the teacher's
// hand-rolled regex scraper).
type urlFetcher struct {
	httpClient *http.Client
}

func newURLFetcher() *urlFetcher {
	return &urlFetcher{httpClient: &http.Client{Timeout: 15 * time.Second}}
}

func (f *urlFetcher) fetch(ctx context.Context, target string) (string, error) {
	if err := validateURLForSSRF(target); err != nil {
		return "", err
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; cc-gatewaybot/1.0)")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, 10*1024*1024), parsed)
	if err != nil {
		return "", fmt.Errorf("extract content: %w", err)
	}

	var out strings.Builder
	if article.Title != "" {
		out.WriteString(article.Title)
		out.WriteString("\n\n")
	}
	out.WriteString(strings.TrimSpace(article.TextContent))
	return out.String(), nil
}

// isPrivateOrReservedIP reports whether ip must never be reached by an
// outbound tool fetch.
func isPrivateOrReservedIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() || ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	return ip.Equal(net.ParseIP("169.254.169.254")) // cloud metadata endpoint
}

// validateURLForSSRF rejects URLs that would let a tool reach internal
// network services (spec §4.3: "web_fetch must not be usable as an SSRF
// pivot").
func validateURLForSSRF(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", parsed.Scheme)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("url must have a hostname")
	}
	lower := strings.ToLower(hostname)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("localhost urls are not allowed")
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		return nil // DNS may be handled by an upstream proxy
	}
	for _, ip := range ips {
		if isPrivateOrReservedIP(ip) {
			return fmt.Errorf("url resolves to a private/reserved ip address")
		}
	}
	return nil
}

func truncate(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max] + "..."
	}
	return s
}
