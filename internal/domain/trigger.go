package domain

import (
	"context"
	"sync"
	"time"

	"example.com/territory/internal/logger"
)

// RunAnalyzer computes and stores the territory of one run.
type RunAnalyzer interface {
	AnalyzeRun(ctx context.Context, runID string) (*RunLoop, error)
}

// OutboxTrigger is used with stores that record a run.ingested event in the same transaction as
// the run itself; the outbox dispatcher and consumer take it from there.
type OutboxTrigger struct{}

// RunCreated implements AnalysisTrigger.
func (OutboxTrigger) RunCreated(context.Context, Run) error { return nil }

// AsyncTrigger analyzes each new run on its own goroutine inside this process.
type AsyncTrigger struct {
	analyzer RunAnalyzer
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewAsyncTrigger constructs an AsyncTrigger. A zero timeout leaves analysis unbounded.
func NewAsyncTrigger(analyzer RunAnalyzer, timeout time.Duration) *AsyncTrigger {
	return &AsyncTrigger{analyzer: analyzer, timeout: timeout}
}

// RunCreated implements AnalysisTrigger. The analysis outlives the request that created the run.
func (t *AsyncTrigger) RunCreated(ctx context.Context, run Run) error {
	bg := context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		actx := bg
		if t.timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(bg, t.timeout)
			defer cancel()
		}
		if _, err := t.analyzer.AnalyzeRun(actx, run.ID); err != nil {
			logger.C(bg).Error().Err(err).Str("run_id", run.ID).Msg("territory analysis failed")
		}
	}()
	return nil
}

// Wait blocks until every analysis started so far has finished.
func (t *AsyncTrigger) Wait() {
	t.wg.Wait()
}
