package correct

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
	"github.com/Ghostmonday/formmonkeyplatform/internal/store"
)

// Batcher accumulates batched-tier corrections and commits them to the
// version store in bulk. A flush happens when the batch fills or when the
// oldest entry has waited maxWait, whichever comes first. The flush runs
// against its own context: the reviewers who submitted the corrections
// have long since gotten their "pending" acknowledgement.
type Batcher struct {
	st      store.Store
	maxSize int
	maxWait time.Duration

	mu      sync.Mutex
	pending []model.Correction
	timer   *time.Timer
	closed  bool

	wg sync.WaitGroup
}

// NewBatcher creates a batcher. Zero values fall back to a batch of 25
// flushed at most 30 seconds after the first entry.
func NewBatcher(st store.Store, maxSize int, maxWait time.Duration) *Batcher {
	if maxSize <= 0 {
		maxSize = 25
	}
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	return &Batcher{st: st, maxSize: maxSize, maxWait: maxWait}
}

// Add queues a correction for the next flush. The correction must already
// be persisted with pending status.
func (b *Batcher) Add(c model.Correction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.pending = append(b.pending, c)
	if len(b.pending) >= b.maxSize {
		b.flushLocked()
		return
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.maxWait, b.Flush)
	}
}

// Flush commits everything queued so far.
func (b *Batcher) Flush() {
	b.mu.Lock()
	b.flushLocked()
	b.mu.Unlock()
}

// Close flushes the remaining batch and waits for in-flight commits.
func (b *Batcher) Close() {
	b.mu.Lock()
	b.closed = true
	b.flushLocked()
	b.mu.Unlock()
	b.wg.Wait()
}

// Pending reports the current queue depth.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Recover requeues batched corrections that were persisted as pending but
// never committed, typically after a crash or a failed flush in a prior
// run. Call once at startup before accepting new work.
func (b *Batcher) Recover(ctx context.Context) (int, error) {
	stored, err := b.st.ListCorrections(ctx, store.CorrectionFilter{
		Status: model.CorrectionPending,
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, sc := range stored {
		if sc.Tier != model.TierBatched {
			continue
		}
		b.Add(sc.Correction)
		n++
	}
	if n > 0 {
		zap.L().Info("requeued pending corrections", zap.Int("count", n))
	}
	return n, nil
}

// requeue puts a failed batch back at the head of the queue so the next
// flush retries it. Dropped if the batcher already closed: the rows keep
// their pending status and the startup recovery scan picks them up.
func (b *Batcher) requeue(batch []model.Correction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.pending = append(batch, b.pending...)
	if b.timer == nil {
		b.timer = time.AfterFunc(b.maxWait, b.Flush)
	}
}

func (b *Batcher) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return
	}
	batch := b.pending
	b.pending = nil

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.commit(batch)
	}()
}

func (b *Batcher) commit(batch []model.Correction) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	versions := make([]model.FieldVersion, len(batch))
	for i, c := range batch {
		versions[i] = model.FieldVersion{
			FieldID:    c.FieldID,
			Value:      c.CorrectedValue,
			Confidence: 1.0, // human-confirmed
			ProducedBy: model.ProducedByCorrection,
			Timestamp:  c.Timestamp,
		}
	}

	if _, err := b.st.AppendVersions(ctx, versions); err != nil {
		zap.L().Error("batch flush failed, requeueing",
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)
		b.requeue(batch)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, c := range batch {
		g.Go(func() error {
			return b.st.UpdateCorrectionStatus(gctx, c.ID, model.CorrectionCommitted)
		})
	}
	if err := g.Wait(); err != nil {
		zap.L().Error("batch status update failed", zap.Error(err))
		return
	}

	zap.L().Info("batch flushed",
		zap.Int("batch_size", len(batch)),
	)
}
