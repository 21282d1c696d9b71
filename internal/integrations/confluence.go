// Package integrations holds optional external context sources.
package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bmblack/backlog-synthesizer/internal/config"
)

// ConfluenceFetcher pulls related documentation pages to ground extraction
// and story generation. All methods are best-effort: a missing or failing
// Confluence never blocks the pipeline.
type ConfluenceFetcher struct {
	baseURL    string
	token      string
	space      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewConfluenceFetcher creates a fetcher. Returns nil if no URL is
// configured, which callers treat as "no context source".
func NewConfluenceFetcher(cfg config.Config, logger *slog.Logger) *ConfluenceFetcher {
	if cfg.ConfluenceURL == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfluenceFetcher{
		baseURL:    strings.TrimRight(cfg.ConfluenceURL, "/"),
		token:      cfg.ConfluenceToken,
		space:      cfg.ConfluenceSpace,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type searchResult struct {
	Results []struct {
		Content struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"content"`
		Excerpt string `json:"excerpt"`
	} `json:"results"`
}

type pageResult struct {
	Title string `json:"title"`
	Body  struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
}

// Fetch searches Confluence for the given topics and returns a formatted
// text blob of the best-matching pages. Errors are logged and reduce the
// result, never fail it.
func (f *ConfluenceFetcher) Fetch(ctx context.Context, topics []string, maxPages int) string {
	if f == nil || len(topics) == 0 {
		return ""
	}
	if maxPages <= 0 {
		maxPages = 3
	}

	cql := fmt.Sprintf(`siteSearch ~ "%s" AND type = page`, strings.Join(topics, " "))
	if f.space != "" {
		cql += fmt.Sprintf(` AND space = "%s"`, f.space)
	}

	params := url.Values{}
	params.Set("cql", cql)
	params.Set("limit", strconv.Itoa(maxPages))

	var search searchResult
	if err := f.get(ctx, "/rest/api/search?"+params.Encode(), &search); err != nil {
		f.logger.Warn("confluence search failed", "error", err)
		return ""
	}

	var b strings.Builder
	for _, res := range search.Results {
		body := f.fetchPageBody(ctx, res.Content.ID)
		if body == "" {
			body = stripTags(res.Excerpt)
		}
		if body == "" {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", res.Content.Title, truncateText(body, 2000))
	}

	blob := strings.TrimSpace(b.String())
	f.logger.Info("fetched confluence context", "topics", len(topics), "pages", len(search.Results), "chars", len(blob))
	return blob
}

func (f *ConfluenceFetcher) fetchPageBody(ctx context.Context, id string) string {
	if id == "" {
		return ""
	}
	var page pageResult
	if err := f.get(ctx, "/rest/api/content/"+id+"?expand=body.storage", &page); err != nil {
		f.logger.Warn("confluence page fetch failed", "page_id", id, "error", err)
		return ""
	}
	return stripTags(page.Body.Storage.Value)
}

func (f *ConfluenceFetcher) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("confluence error: %s - %s", resp.Status, string(body))
	}
	return json.Unmarshal(body, result)
}

var tagPattern = regexp.MustCompile(`<[^>]+>`)

func stripTags(html string) string {
	text := tagPattern.ReplaceAllString(html, " ")
	return strings.Join(strings.Fields(text), " ")
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
