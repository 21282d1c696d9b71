// Package agents implements the LLM-backed extraction and story generation
// agents of the pipeline.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bmblack/backlog-synthesizer/internal/llm"
	"github.com/bmblack/backlog-synthesizer/internal/metrics"
	"github.com/bmblack/backlog-synthesizer/internal/models"
	"github.com/bmblack/backlog-synthesizer/internal/parser"
	"github.com/bmblack/backlog-synthesizer/internal/retry"
)

// Generator is the LLM surface the agents need. *llm.Model satisfies it.
type Generator interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (llm.Response, error)
	Model() string
}

// ExtractionResult carries extracted requirements plus invocation metadata.
type ExtractionResult struct {
	Requirements []models.Requirement
	Tokens       llm.TokenUsage
	Meta         map[string]any
}

// Analyst extracts structured requirements from free text. Long inputs are
// chunked, extracted per chunk and merged with adjusted paragraph numbers.
type Analyst struct {
	llm       Generator
	chunker   *parser.Chunker
	retryCfg  retry.Config
	collector *metrics.Collector
	logger    *slog.Logger
}

// NewAnalyst creates the extraction agent.
func NewAnalyst(model Generator, chunker *parser.Chunker, retryCfg retry.Config, collector *metrics.Collector, logger *slog.Logger) *Analyst {
	if chunker == nil {
		chunker = parser.NewChunker(0, -1)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyst{llm: model, chunker: chunker, retryCfg: retryCfg, collector: collector, logger: logger}
}

// Extract runs the extraction prompt over the content and returns the merged
// requirement list. An unparseable response is an error; the caller decides
// how to degrade.
func (a *Analyst) Extract(ctx context.Context, content string) (ExtractionResult, error) {
	chunks := a.chunker.Split(content)
	if len(chunks) == 0 {
		return ExtractionResult{
			Requirements: []models.Requirement{},
			Meta:         map[string]any{"model": a.llm.Model(), "chunks": 0},
		}, nil
	}

	var merged []models.Requirement
	var tokens llm.TokenUsage
	for _, chunk := range chunks {
		reqs, usage, err := a.extractChunk(ctx, chunk)
		if err != nil {
			return ExtractionResult{}, fmt.Errorf("extract chunk %d: %w", chunk.Index, err)
		}
		merged = append(merged, reqs...)
		tokens.Input += usage.Input
		tokens.Output += usage.Output
	}

	a.logger.Info("extraction complete",
		"requirements", len(merged),
		"chunks", len(chunks),
		"input_tokens", tokens.Input,
		"output_tokens", tokens.Output)

	return ExtractionResult{
		Requirements: merged,
		Tokens:       tokens,
		Meta: map[string]any{
			"model":  a.llm.Model(),
			"chunks": len(chunks),
			"tokens_used": map[string]any{
				"input":  tokens.Input,
				"output": tokens.Output,
			},
		},
	}, nil
}

func (a *Analyst) extractChunk(ctx context.Context, chunk parser.Chunk) ([]models.Requirement, llm.TokenUsage, error) {
	prompt := fmt.Sprintf(analystUserPrompt, chunk.Text)

	start := time.Now()
	resp, err := retry.DoValue(ctx, a.retryCfg, a.logger, "extract_requirements", func() (llm.Response, error) {
		return a.llm.GenerateWithSystem(ctx, analystSystemPrompt, prompt)
	})
	if a.collector != nil {
		a.collector.RecordLLMUsage(metrics.OpExtraction, time.Since(start),
			int64(resp.Tokens.Input), int64(resp.Tokens.Output))
	}
	if err != nil {
		return nil, llm.TokenUsage{}, err
	}

	reqs, err := parseRequirements(resp.Content)
	if err != nil {
		return nil, llm.TokenUsage{}, err
	}

	// Paragraph numbers come back chunk-relative.
	offset := chunk.StartParagraph - 1
	for i := range reqs {
		if reqs[i].ParagraphNumber > 0 {
			reqs[i].ParagraphNumber += offset
		}
		if !reqs[i].Category.Valid() {
			a.logger.Warn("unknown requirement category", "category", reqs[i].Category)
		}
		if !reqs[i].PrioritySignal.Valid() {
			a.logger.Warn("unknown priority signal", "priority_signal", reqs[i].PrioritySignal)
		}
	}
	return reqs, resp.Tokens, nil
}
