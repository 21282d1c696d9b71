package integrations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmblack/backlog-synthesizer/internal/config"
)

func TestExtractTopicsFrequencyOrder(t *testing.T) {
	text := `The export feature is broken. Export to CSV fails every time.
	Customers keep asking for export improvements. Also the dashboard loads slowly,
	dashboard performance matters.`

	topics := ExtractTopics(text, 3)
	require.NotEmpty(t, topics)
	assert.Equal(t, "export", topics[0])
	assert.Contains(t, topics, "dashboard")
	assert.LessOrEqual(t, len(topics), 3)
}

func TestExtractTopicsSkipsStopwordsAndShortWords(t *testing.T) {
	topics := ExtractTopics("this that would could also the a an to it", 5)
	assert.Empty(t, topics)
}

func TestExtractTopicsEmptyText(t *testing.T) {
	assert.Empty(t, ExtractTopics("", 5))
}

func TestNewConfluenceFetcherNilWithoutURL(t *testing.T) {
	f := NewConfluenceFetcher(config.Config{}, nil)
	assert.Nil(t, f)
	// A nil fetcher is safe to call.
	assert.Empty(t, f.Fetch(context.Background(), []string{"export"}, 3))
}

func TestFetchFormatsPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/rest/api/search":
			cql := r.URL.Query().Get("cql")
			assert.Contains(t, cql, "export")
			assert.Contains(t, cql, `space = "DOCS"`)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"results": []map[string]any{
					{"content": map[string]any{"id": "123", "title": "Export Design"}, "excerpt": "old <b>excerpt</b>"},
				},
			})
		case r.URL.Path == "/rest/api/content/123":
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"title": "Export Design",
				"body":  map[string]any{"storage": map[string]any{"value": "<p>The export pipeline writes CSV.</p>"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f := NewConfluenceFetcher(config.Config{
		ConfluenceURL:   server.URL,
		ConfluenceToken: "secret",
		ConfluenceSpace: "DOCS",
	}, nil)
	require.NotNil(t, f)

	blob := f.Fetch(context.Background(), []string{"export"}, 3)
	assert.Contains(t, blob, "## Export Design")
	assert.Contains(t, blob, "The export pipeline writes CSV.")
	assert.NotContains(t, blob, "<p>")
}

func TestFetchSearchFailureReturnsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	f := NewConfluenceFetcher(config.Config{ConfluenceURL: server.URL}, nil)
	assert.Empty(t, f.Fetch(context.Background(), []string{"export"}, 3))
}

func TestFetchFallsBackToExcerpt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/api/search" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"results": []map[string]any{
					{"content": map[string]any{"id": "9", "title": "Notes"}, "excerpt": "an <em>excerpt</em> only"},
				},
			})
			return
		}
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	f := NewConfluenceFetcher(config.Config{ConfluenceURL: server.URL}, nil)
	blob := f.Fetch(context.Background(), []string{"notes"}, 1)
	assert.Contains(t, blob, "## Notes")
	assert.Contains(t, blob, "an excerpt only")
}
