package learn

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
	"github.com/Ghostmonday/formmonkeyplatform/internal/resilience"
	"github.com/Ghostmonday/formmonkeyplatform/internal/store"
)

// AnalyzerConfig tunes the periodic drain.
type AnalyzerConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Analyzer periodically drains the deferred-correction queue and folds
// the batch into per-field stats: how often each field gets corrected,
// how overconfident the original predictions were, and the dominant
// reason code. The stats feed prompt and catalog tuning.
type Analyzer struct {
	queue Queue
	st    store.Store
	cfg   AnalyzerConfig
}

// NewAnalyzer creates an analyzer. Zero config values fall back to a
// 5-minute interval draining up to 500 corrections per pass.
func NewAnalyzer(queue Queue, st store.Store, cfg AnalyzerConfig) *Analyzer {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Analyzer{queue: queue, st: st, cfg: cfg}
}

// Run drains on a ticker until the context is cancelled. A final drain
// runs on shutdown so queued corrections are not stranded in memory
// queues.
func (a *Analyzer) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := a.Drain(drainCtx); err != nil {
				zap.L().Warn("final learn drain failed", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := a.Drain(ctx); err != nil {
				zap.L().Warn("learn drain failed", zap.Error(err))
			}
		}
	}
}

// Drain pulls one batch off the queue and merges it into the stored
// per-field stats.
func (a *Analyzer) Drain(ctx context.Context) error {
	corrs, err := a.queue.Dequeue(ctx, a.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(corrs) == 0 {
		return nil
	}

	existing, err := a.st.ListFieldStats(ctx)
	if err != nil {
		return err
	}
	byField := make(map[string]model.FieldStat, len(existing))
	for _, st := range existing {
		byField[st.FieldName] = st
	}

	// The batch is already off the queue, so losing this write loses the
	// aggregation. Retry through short store contention before giving up.
	merged := aggregate(corrs, byField)
	err = resilience.Do(ctx, resilience.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		ShouldRetry: func(error) bool { return true },
		OnRetry:     resilience.RetryLogger("store", "upsert_field_stats"),
	}, func(ctx context.Context) error {
		return a.st.UpsertFieldStats(ctx, merged)
	})
	if err != nil {
		return err
	}

	zap.L().Info("learn batch aggregated",
		zap.Int("corrections", len(corrs)),
		zap.Int("fields", len(merged)),
	)
	return nil
}

// aggregate folds a batch of corrections into the existing stats with a
// count-weighted running average of the confidence delta.
func aggregate(corrs []model.Correction, existing map[string]model.FieldStat) []model.FieldStat {
	type batchAgg struct {
		count    int64
		deltaSum float64
		reasons  map[model.ReasonCode]int
		lastAt   time.Time
	}
	batch := make(map[string]*batchAgg)

	for _, c := range corrs {
		agg := batch[c.FieldID]
		if agg == nil {
			agg = &batchAgg{reasons: make(map[model.ReasonCode]int)}
			batch[c.FieldID] = agg
		}
		agg.count++
		// A correction pins the true value; the delta is how far the
		// prediction's confidence fell short of that certainty.
		agg.deltaSum += c.OriginalPrediction.Confidence - 1.0
		agg.reasons[c.ReasonCode]++
		if c.Timestamp.After(agg.lastAt) {
			agg.lastAt = c.Timestamp
		}
	}

	out := make([]model.FieldStat, 0, len(batch))
	for field, agg := range batch {
		prev := existing[field]
		total := prev.Corrections + agg.count
		avg := (prev.AvgConfDelta*float64(prev.Corrections) + agg.deltaSum) / float64(total)

		topReason := prev.TopReason
		best := 0
		for reason, n := range agg.reasons {
			if n > best {
				best = n
				topReason = string(reason)
			}
		}

		lastAt := prev.LastCorrectedAt
		if agg.lastAt.After(lastAt) {
			lastAt = agg.lastAt
		}

		out = append(out, model.FieldStat{
			FieldName:       field,
			Corrections:     total,
			AvgConfDelta:    avg,
			TopReason:       topReason,
			LastCorrectedAt: lastAt,
		})
	}
	return out
}
