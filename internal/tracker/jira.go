// Package tracker provides a JIRA REST client for fetching the existing
// backlog and pushing generated stories.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bmblack/backlog-synthesizer/internal/config"
	"github.com/bmblack/backlog-synthesizer/internal/metrics"
	"github.com/bmblack/backlog-synthesizer/internal/models"
	"github.com/bmblack/backlog-synthesizer/internal/retry"
)

// Client talks to the JIRA REST API v2 with basic auth.
type Client struct {
	baseURL          string
	email            string
	token            string
	projectKey       string
	storyPointsField string
	epicLinkField    string
	epicNameField    string
	httpClient       *http.Client
	retryCfg         retry.Config
	collector        *metrics.Collector
	logger           *slog.Logger
}

// PushOptions controls Push behavior.
type PushOptions struct {
	DryRun      bool
	StopOnError bool
}

// NewClient creates a JIRA client from config.
func NewClient(cfg config.Config, collector *metrics.Collector, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:          strings.TrimRight(cfg.JiraURL, "/"),
		email:            cfg.JiraEmail,
		token:            cfg.JiraToken,
		projectKey:       cfg.JiraProjectKey,
		storyPointsField: cfg.JiraStoryPointsField,
		epicLinkField:    cfg.JiraEpicLinkField,
		epicNameField:    "customfield_10011",
		httpClient:       &http.Client{Timeout: 60 * time.Second},
		retryCfg:         retry.DefaultConfig(),
		collector:        collector,
		logger:           logger,
	}
}

type searchResponse struct {
	Total  int           `json:"total"`
	Issues []searchIssue `json:"issues"`
}

type searchIssue struct {
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields"`
}

type createIssueResponse struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

// FetchBacklog returns open issues of the given types in the configured
// project, normalized for indexing. issueTypes defaults to Story and Task.
func (c *Client) FetchBacklog(ctx context.Context, issueTypes []string, maxResults int) ([]models.BacklogIssue, error) {
	if len(issueTypes) == 0 {
		issueTypes = []string{"Story", "Task"}
	}
	if maxResults <= 0 {
		maxResults = 100
	}

	jql := fmt.Sprintf(`project = %s AND issuetype IN (%s) ORDER BY created DESC`,
		c.projectKey, quoteList(issueTypes))

	params := url.Values{}
	params.Set("jql", jql)
	params.Set("maxResults", strconv.Itoa(maxResults))
	params.Set("fields", strings.Join([]string{
		"summary", "description", "issuetype", "status", "priority",
		"created", "updated", c.storyPointsField, c.epicLinkField,
	}, ","))

	var resp searchResponse
	start := time.Now()
	err := retry.Do(ctx, c.retryCfg, c.logger, "jira_search", func() error {
		return c.do(ctx, http.MethodGet, "/rest/api/2/search?"+params.Encode(), nil, &resp)
	})
	if c.collector != nil {
		c.collector.RecordTiming(metrics.OpBacklogFetch, time.Since(start))
	}
	if err != nil {
		return nil, fmt.Errorf("fetch backlog: %w", err)
	}

	issues := make([]models.BacklogIssue, 0, len(resp.Issues))
	for _, raw := range resp.Issues {
		issues = append(issues, c.normalizeIssue(raw))
	}
	c.logger.Info("fetched backlog", "issues", len(issues), "total", resp.Total)
	return issues, nil
}

func (c *Client) normalizeIssue(raw searchIssue) models.BacklogIssue {
	issue := models.BacklogIssue{
		Key:         raw.Key,
		Summary:     stringField(raw.Fields, "summary"),
		Description: stringField(raw.Fields, "description"),
		IssueType:   nestedName(raw.Fields, "issuetype"),
		Status:      nestedName(raw.Fields, "status"),
		Priority:    nestedName(raw.Fields, "priority"),
		Created:     stringField(raw.Fields, "created"),
		Updated:     stringField(raw.Fields, "updated"),
		URL:         fmt.Sprintf("%s/browse/%s", c.baseURL, raw.Key),
	}
	if pts, ok := raw.Fields[c.storyPointsField].(float64); ok {
		n := int(pts)
		issue.StoryPoints = &n
	}
	if epic, ok := raw.Fields[c.epicLinkField].(string); ok {
		issue.EpicLink = epic
	}
	return issue
}

// Push creates the stories in JIRA. Epics named by EpicLink are created
// first; each story is then created referencing its epic's generated key.
// Story failures are accumulated, not fatal, unless StopOnError is set.
func (c *Client) Push(ctx context.Context, stories []models.UserStory, opts PushOptions) (models.PushResult, error) {
	result := models.PushResult{
		Issues:   []models.CreatedIssue{},
		Errors:   []models.PushError{},
		Metadata: map[string]any{},
	}
	if len(stories) == 0 {
		return result, nil
	}

	epicNames := uniqueEpicNames(stories)

	if opts.DryRun {
		c.logger.Info("dry run, skipping push", "stories", len(stories), "epics", len(epicNames))
		result.Metadata["dry_run"] = true
		result.Metadata["planned_stories"] = len(stories)
		result.Metadata["planned_epics"] = len(epicNames)
		return result, nil
	}

	pushStart := time.Now()
	defer func() {
		if c.collector != nil {
			c.collector.RecordTiming(metrics.OpTrackerPush, time.Since(pushStart))
		}
	}()

	// Phase 1: epics.
	epicNameToKey := map[string]string{}
	for _, name := range epicNames {
		key, err := c.createEpic(ctx, name)
		if err != nil {
			c.logger.Warn("epic creation failed", "epic", name, "error", err)
			result.Errors = append(result.Errors, models.PushError{
				StoryIndex: -1,
				StoryTitle: name,
				Error:      fmt.Sprintf("create epic: %v", err),
			})
			continue
		}
		epicNameToKey[name] = key
	}
	result.Metadata["epics"] = epicNameToKey

	// Phase 2: stories, rebuilt with resolved epic keys. Stories whose epic
	// failed to create are filed without an epic link.
	resolved := make([]models.UserStory, len(stories))
	for i, story := range stories {
		resolved[i] = story.WithEpicKey(epicNameToKey[story.EpicLink])
	}

	for i, story := range resolved {
		created, err := c.createStory(ctx, story)
		if err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, models.PushError{
				StoryIndex: i,
				StoryTitle: story.Title,
				Error:      err.Error(),
			})
			c.logger.Warn("story creation failed", "title", story.Title, "error", err)
			if opts.StopOnError {
				break
			}
			continue
		}
		result.Issues = append(result.Issues, created)
	}

	c.logger.Info("push complete",
		"created", len(result.Issues),
		"failed", result.FailedCount,
		"epics", len(epicNameToKey))
	return result, nil
}

func (c *Client) createEpic(ctx context.Context, name string) (string, error) {
	fields := map[string]any{
		"project":       map[string]any{"key": c.projectKey},
		"summary":       name,
		"issuetype":     map[string]any{"name": "Epic"},
		c.epicNameField: name,
	}

	var resp createIssueResponse
	err := retry.Do(ctx, c.retryCfg, c.logger, "jira_create_epic", func() error {
		return c.do(ctx, http.MethodPost, "/rest/api/2/issue", map[string]any{"fields": fields}, &resp)
	})
	if err != nil {
		return "", err
	}
	return resp.Key, nil
}

func (c *Client) createStory(ctx context.Context, story models.UserStory) (models.CreatedIssue, error) {
	fields := map[string]any{
		"project":     map[string]any{"key": c.projectKey},
		"summary":     story.Title,
		"description": formatDescription(story),
		"issuetype":   map[string]any{"name": "Story"},
	}
	if len(story.Labels) > 0 {
		fields["labels"] = story.Labels
	}
	if models.ValidStoryPoints(story.StoryPoints) {
		fields[c.storyPointsField] = story.StoryPoints
	}
	if story.EpicLink != "" {
		fields[c.epicLinkField] = story.EpicLink
	}

	var resp createIssueResponse
	err := retry.Do(ctx, c.retryCfg, c.logger, "jira_create_story", func() error {
		return c.do(ctx, http.MethodPost, "/rest/api/2/issue", map[string]any{"fields": fields}, &resp)
	})
	if err != nil {
		return models.CreatedIssue{}, err
	}

	return models.CreatedIssue{
		Key:     resp.Key,
		ID:      resp.ID,
		URL:     fmt.Sprintf("%s/browse/%s", c.baseURL, resp.Key),
		Summary: story.Title,
	}, nil
}

// do executes one JSON request against the JIRA API.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.email, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 4xx responses will not get better on retry.
		apiErr := fmt.Errorf("jira error: %s - %s", resp.Status, string(respBody))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Permanent(apiErr)
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func formatDescription(story models.UserStory) string {
	var b strings.Builder
	if story.UserStory != "" {
		b.WriteString(story.UserStory)
		b.WriteString("\n\n")
	}
	if story.Description != "" {
		b.WriteString(story.Description)
		b.WriteString("\n\n")
	}
	if len(story.AcceptanceCriteria) > 0 {
		b.WriteString("h3. Acceptance Criteria\n")
		for _, ac := range story.AcceptanceCriteria {
			fmt.Fprintf(&b, "* %s\n", ac)
		}
		b.WriteString("\n")
	}
	if story.TechnicalNotes != "" {
		b.WriteString("h3. Technical Notes\n")
		b.WriteString(story.TechnicalNotes)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// uniqueEpicNames returns non-empty epic names in first-seen order.
func uniqueEpicNames(stories []models.UserStory) []string {
	seen := map[string]bool{}
	var names []string
	for _, s := range stories {
		if s.EpicLink == "" || seen[s.EpicLink] {
			continue
		}
		seen[s.EpicLink] = true
		names = append(names, s.EpicLink)
	}
	return names
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(quoted, ", ")
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

func nestedName(fields map[string]any, key string) string {
	if m, ok := fields[key].(map[string]any); ok {
		if name, ok := m["name"].(string); ok {
			return name
		}
	}
	return ""
}
