package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bmblack/backlog-synthesizer/internal/llm"
	"github.com/bmblack/backlog-synthesizer/internal/metrics"
	"github.com/bmblack/backlog-synthesizer/internal/models"
	"github.com/bmblack/backlog-synthesizer/internal/retry"
)

const defaultStoryBatchSize = 8

// minInvestScore is the quality floor, out of a maximum of 12. Stories below
// it are logged, not dropped.
const minInvestScore = 8

// GenerationResult carries generated stories plus invocation metadata.
type GenerationResult struct {
	Stories []models.UserStory
	Tokens  llm.TokenUsage
	Meta    map[string]any
}

// StoryWriter turns requirements into user stories. Requirements are fed to
// the model in sequential batches so a large run cannot blow the output
// window of a single call.
type StoryWriter struct {
	llm       Generator
	batchSize int
	retryCfg  retry.Config
	collector *metrics.Collector
	logger    *slog.Logger
}

// NewStoryWriter creates the story generation agent. A non-positive
// batchSize falls back to the default.
func NewStoryWriter(model Generator, batchSize int, retryCfg retry.Config, collector *metrics.Collector, logger *slog.Logger) *StoryWriter {
	if batchSize <= 0 {
		batchSize = defaultStoryBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StoryWriter{llm: model, batchSize: batchSize, retryCfg: retryCfg, collector: collector, logger: logger}
}

// Generate produces user stories for the given requirements. userCtx entries
// are appended to the prompt as additional guidance.
func (w *StoryWriter) Generate(ctx context.Context, reqs []models.Requirement, userCtx map[string]any) (GenerationResult, error) {
	if len(reqs) == 0 {
		return GenerationResult{
			Stories: []models.UserStory{},
			Meta:    map[string]any{"model": w.llm.Model(), "batches": 0},
		}, nil
	}

	extra := formatUserContext(userCtx)

	var merged []models.UserStory
	var tokens llm.TokenUsage
	batches := 0
	for start := 0; start < len(reqs); start += w.batchSize {
		end := start + w.batchSize
		if end > len(reqs) {
			end = len(reqs)
		}

		stories, usage, err := w.generateBatch(ctx, reqs[start:end], extra)
		if err != nil {
			return GenerationResult{}, fmt.Errorf("generate batch %d: %w", batches, err)
		}
		merged = append(merged, stories...)
		tokens.Input += usage.Input
		tokens.Output += usage.Output
		batches++
	}

	lowQuality := 0
	for _, s := range merged {
		score := s.InvestScore()
		w.logger.Debug("story quality", "title", s.Title, "invest_score", score.Total)
		if score.Total < minInvestScore {
			lowQuality++
			w.logger.Warn("story below quality threshold",
				"title", s.Title,
				"invest_score", score.Total,
				"min", minInvestScore)
		}
	}

	w.logger.Info("story generation complete",
		"stories", len(merged),
		"requirements", len(reqs),
		"batches", batches)

	return GenerationResult{
		Stories: merged,
		Tokens:  tokens,
		Meta: map[string]any{
			"model":               w.llm.Model(),
			"batches":             batches,
			"low_quality_stories": lowQuality,
			"tokens_used": map[string]any{
				"input":  tokens.Input,
				"output": tokens.Output,
			},
		},
	}, nil
}

func (w *StoryWriter) generateBatch(ctx context.Context, reqs []models.Requirement, extra string) ([]models.UserStory, llm.TokenUsage, error) {
	reqJSON, err := json.MarshalIndent(reqs, "", "  ")
	if err != nil {
		return nil, llm.TokenUsage{}, fmt.Errorf("encode requirements: %w", err)
	}
	prompt := fmt.Sprintf(storyUserPrompt, reqJSON, extra)

	start := time.Now()
	resp, err := retry.DoValue(ctx, w.retryCfg, w.logger, "generate_stories", func() (llm.Response, error) {
		return w.llm.GenerateWithSystem(ctx, storySystemPrompt, prompt)
	})
	if w.collector != nil {
		w.collector.RecordLLMUsage(metrics.OpStoryGen, time.Since(start),
			int64(resp.Tokens.Input), int64(resp.Tokens.Output))
	}
	if err != nil {
		return nil, llm.TokenUsage{}, err
	}

	stories, err := parseStories(resp.Content)
	if err != nil {
		return nil, llm.TokenUsage{}, err
	}
	return stories, resp.Tokens, nil
}

func formatUserContext(userCtx map[string]any) string {
	if len(userCtx) == 0 {
		return ""
	}
	b, err := json.MarshalIndent(userCtx, "", "  ")
	if err != nil {
		return ""
	}
	return fmt.Sprintf("\n\nAdditional context:\n%s", b)
}
