package memory

import (
	"context"
	"log/slog"

	"github.com/bmblack/backlog-synthesizer/internal/models"
)

// DefaultGapThreshold is the cosine distance below which a candidate
// requirement counts as covered by an existing backlog item.
const DefaultGapThreshold = 0.7

// Searcher is the query surface the detector needs. *Engine satisfies it.
type Searcher interface {
	Query(ctx context.Context, text string, k int, itemType, source string) ([]models.MatchedItem, error)
}

// GapDetector classifies candidate requirements as novel or already covered
// by the indexed backlog, using nearest-neighbor distance against items
// indexed under the backlog source.
type GapDetector struct {
	index     Searcher
	threshold float64
	logger    *slog.Logger
}

// NewGapDetector creates a detector with the given distance threshold.
// A threshold <= 0 falls back to DefaultGapThreshold.
func NewGapDetector(index Searcher, threshold float64, logger *slog.Logger) *GapDetector {
	if threshold <= 0 {
		threshold = DefaultGapThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GapDetector{index: index, threshold: threshold, logger: logger}
}

// Detect compares each candidate against its single nearest backlog neighbor.
// No neighbor, or distance at or above the threshold, means novel; otherwise
// the candidate is covered with similarity = 1 - distance. An empty candidate
// list returns an empty analysis without touching the index.
func (d *GapDetector) Detect(ctx context.Context, candidates []models.Requirement) (models.GapAnalysis, error) {
	analysis := models.GapAnalysis{
		Novel:   []models.Requirement{},
		Covered: []models.CoveredRequirement{},
	}
	if len(candidates) == 0 {
		return analysis, nil
	}

	for _, req := range candidates {
		matches, err := d.index.Query(ctx, req.Requirement, 1, TypeRequirement, SourceBacklog)
		if err != nil {
			return models.GapAnalysis{}, err
		}

		if len(matches) == 0 || matches[0].Distance >= d.threshold {
			analysis.Novel = append(analysis.Novel, req)
			continue
		}

		nearest := matches[0]
		analysis.Covered = append(analysis.Covered, models.CoveredRequirement{
			Requirement: req,
			CoveredBy:   nearest,
			Similarity:  1 - nearest.Distance,
		})
	}

	analysis.TotalNovel = len(analysis.Novel)
	analysis.TotalCovered = len(analysis.Covered)
	d.logger.Info("gap analysis complete",
		"candidates", len(candidates),
		"novel", analysis.TotalNovel,
		"covered", analysis.TotalCovered,
		"threshold", d.threshold)
	return analysis, nil
}
