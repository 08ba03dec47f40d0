package memory

import (
	"context"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ethr-ai/noema/internal/model"
	"github.com/ethr-ai/noema/internal/telemetry"
)

// Scorer computes decay-adjusted relevance scores for edges. Constitutive
// edges never decay; everything else decays exponentially on the sector's
// time scale, slowed by engagement (access count).
type Scorer struct {
	table  *DecayTable
	logger *slog.Logger
	now    func() time.Time

	scoreDuration metric.Float64Histogram
}

// NewScorer creates a relevance scorer over the given decay table.
func NewScorer(table *DecayTable, logger *slog.Logger) *Scorer {
	meter := telemetry.Meter("noema/memory")
	dur, _ := meter.Float64Histogram("noema.relevance.duration",
		metric.WithDescription("Time to score one edge (ms)"),
		metric.WithUnit("ms"),
	)
	return &Scorer{
		table:         table,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		scoreDuration: dur,
	}
}

// Score returns the relevance of an edge in [0, 1].
//
//   - Constitutive edges always score 1.0.
//   - S = S_base * (1 + ln(1 + access_count)), raised to S_floor if set.
//   - score = exp(-days_since_engagement / S), clamped to [0, 1].
//   - Edges never engaged score 1.0 (no decay reference point).
func (s *Scorer) Score(edge model.Edge) float64 {
	start := time.Now()

	if edge.IsConstitutive() {
		return 1.0
	}

	p := s.table.Params(edge.MemorySector)
	scale := p.SBase * (1 + math.Log(1+float64(edge.AccessCount)))
	if p.SFloor != nil && scale < *p.SFloor {
		scale = *p.SFloor
	}

	engaged := edge.EngagedAt()
	if engaged == nil {
		return 1.0
	}

	// Naive timestamps are assumed UTC.
	days := s.now().Sub(engaged.UTC()).Hours() / 24
	score := math.Exp(-days / scale)
	if score > 1 {
		score = 1
	}
	if score < 0 || math.IsNaN(score) {
		score = 0
	}

	elapsed := time.Since(start)
	s.scoreDuration.Record(context.Background(), float64(elapsed.Microseconds())/1000)
	s.logger.Debug("relevance scored",
		"edge_id", edge.ID,
		"sector", edge.MemorySector,
		"s", scale,
		"s_base", p.SBase,
		"s_floor", p.SFloor,
		"access_count", edge.AccessCount,
		"days", days,
		"score", score,
		"elapsed_ms", float64(elapsed.Microseconds())/1000,
	)
	return score
}
