package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

// KnowledgeFetcher downloads a web page and reduces it to its readable text.
type KnowledgeFetcher struct {
	UserAgent string
	Client    *http.Client
	MaxChars  int
}

func NewKnowledgeFetcher() *KnowledgeFetcher {
	return &KnowledgeFetcher{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		Client:    &http.Client{Timeout: 30 * time.Second},
		MaxChars:  20000,
	}
}

func (f *KnowledgeFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.UserAgent)

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch URL: status code %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse article: %w", err)
	}

	// Readability text can still carry markup from malformed pages.
	content := strings.TrimSpace(bluemonday.StrictPolicy().Sanitize(article.TextContent))
	if f.MaxChars > 0 && len(content) > f.MaxChars {
		content = content[:f.MaxChars] + "\n... (content truncated) ..."
	}

	var b strings.Builder
	if article.Title != "" {
		fmt.Fprintf(&b, "TITLE: %s\n", article.Title)
	}
	if article.Excerpt != "" {
		fmt.Fprintf(&b, "EXCERPT: %s\n", article.Excerpt)
	}
	b.WriteString("\n")
	b.WriteString(content)
	return strings.TrimSpace(b.String()), nil
}
