package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/progress"
	"github.com/voyagen/streamvault/internal/store"
)

// DispatchResult is the feed-wide aggregate after all batches settled.
type DispatchResult struct {
	Result
	Batches       int
	FailedBatches int
}

// Dispatcher splits a parsed feed into fixed-size batches and runs them over
// a bounded worker pool. Batches are independent by construction (the upsert
// is commutative), so completion order is irrelevant.
type Dispatcher struct {
	Store     store.Store
	BatchSize int
	Workers   int
	Sink      progress.Sink
	Log       *logrus.Entry
}

type batchJob struct {
	index  int
	tuples []models.StreamTuple
}

// Run upserts tuples in parallel batches and streams progress events as
// batches complete. A failing batch is logged and counted, never fatal.
// Cancellation is cooperative: workers stop picking up new batches once ctx
// is done, but a batch already dispatched runs to completion.
func (d *Dispatcher) Run(ctx context.Context, accountID int64, runID string, tuples []models.StreamTuple, groups map[string]int64, hashKeys []string, scanWindow time.Time) DispatchResult {
	batchSize := d.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	workers := d.Workers
	if workers <= 0 {
		workers = 4
	}

	total := (len(tuples) + batchSize - 1) / batchSize
	out := DispatchResult{Batches: total}
	if total == 0 {
		return out
	}
	if workers > total {
		workers = total
	}

	jobs := make(chan batchJob)
	var mu sync.Mutex
	var wg sync.WaitGroup
	done := 0
	started := time.Now()

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				res, err := UpsertBatch(ctx, d.Store, accountID, job.tuples, groups, hashKeys, scanWindow)
				mu.Lock()
				out.Add(res)
				done++
				if err != nil {
					out.FailedBatches++
					d.Log.WithError(err).WithField("batch", job.index).Warn("batch upsert failed")
				}
				d.emitProgress(ctx, accountID, runID, done, total, started, &out)
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < total; i++ {
		lo := i * batchSize
		hi := min(lo+batchSize, len(tuples))
		select {
		case jobs <- batchJob{index: i, tuples: tuples[lo:hi]}:
		case <-ctx.Done():
			out.Batches = i
			close(jobs)
			wg.Wait()
			return out
		}
	}
	close(jobs)
	wg.Wait()
	return out
}

// emitProgress publishes percent complete plus a linear time-remaining
// estimate extrapolated from batches finished so far. Caller holds mu.
func (d *Dispatcher) emitProgress(ctx context.Context, accountID int64, runID string, done, total int, started time.Time, agg *DispatchResult) {
	if d.Sink == nil {
		return
	}
	percent := float64(done) / float64(total) * 100
	elapsed := time.Since(started).Seconds()
	var remaining float64
	if done > 0 && done < total {
		remaining = elapsed / float64(done) * float64(total-done)
	}
	d.Sink.Emit(ctx, progress.Event{
		Type:      progress.TypeRefreshProgress,
		AccountID: accountID,
		RunID:     runID,
		Phase:     models.StatusParsing,
		Percent:   percent,
		Metrics: map[string]any{
			"batches_done":           done,
			"batches_total":          total,
			"streams_created":        agg.Created,
			"streams_updated":        agg.Updated,
			"elapsed_seconds":        elapsed,
			"time_remaining_seconds": remaining,
		},
	})
}
