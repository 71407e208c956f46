package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultFetchMaxChars  = 20000
	defaultFetchCacheSize = 64
	defaultFetchCacheTTL  = 10 * time.Minute
	fetchUserAgent        = "agentstep-web-fetch/1.0"
)

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]+>`)
	spaceRe       = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankLinesRe  = regexp.MustCompile(`\n{3,}`)
)

// WebFetchOptions configures the web_fetch tool.
type WebFetchOptions struct {
	Client   *http.Client
	MaxChars int
	// CacheSize bounds the number of cached pages; zero disables caching.
	CacheSize int
	CacheTTL  time.Duration
}

// WebFetchTool downloads a web page and returns its readable text.
type WebFetchTool struct {
	client   *http.Client
	maxChars int
	cache    *expirable.LRU[string, string]
}

// NewWebFetchTool creates the web_fetch tool.
func NewWebFetchTool(optFns ...func(o *WebFetchOptions)) *WebFetchTool {
	opts := WebFetchOptions{
		Client:    &http.Client{Timeout: 30 * time.Second},
		MaxChars:  defaultFetchMaxChars,
		CacheSize: defaultFetchCacheSize,
		CacheTTL:  defaultFetchCacheTTL,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	t := &WebFetchTool{client: opts.Client, maxChars: opts.MaxChars}
	if opts.CacheSize > 0 {
		t.cache = expirable.NewLRU[string, string](opts.CacheSize, nil, opts.CacheTTL)
	}
	return t
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Scrape the content of a web page. Returns the page text with markup removed."
}

func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "HTTP or HTTPS URL of the web page to scrape.",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Call(ctx context.Context, args map[string]any) (any, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return nil, NewToolError(t.Name(), "url is required", CodeValidation)
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, NewToolError(t.Name(), fmt.Sprintf("unsupported url %q", rawURL), CodeValidation)
	}

	if t.cache != nil {
		if text, ok := t.cache.Get(rawURL); ok {
			return text, nil
		}
	}

	text, err := t.fetch(ctx, rawURL)
	if err != nil {
		return nil, NewToolError(t.Name(), err.Error(), CodeExecution)
	}
	if t.cache != nil {
		t.cache.Add(rawURL, text)
	}
	return text, nil
}

func (t *WebFetchTool) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxChars*4)))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	text := string(body)
	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "html") || ct == "" {
		text = htmlToText(text)
	}
	return truncate(text, t.maxChars), nil
}

func htmlToText(s string) string {
	s = scriptStyleRe.ReplaceAllString(s, "")
	s = tagRe.ReplaceAllString(s, "\n")
	s = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'").Replace(s)
	s = spaceRe.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func truncate(s string, maxChars int) string {
	r := []rune(s)
	if maxChars <= 0 || len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars]) + "\n[truncated]"
}
