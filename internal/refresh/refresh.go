// Package refresh drives one account's full catalog refresh: lease, fetch,
// parse, parallel ingest, staleness sweep, auto-channel reconciliation, and
// status persistence. One refresh runs per account at a time, guarded by a
// short-TTL distributed lease.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/voyagen/streamvault/internal/cache"
	"github.com/voyagen/streamvault/internal/channelsync"
	"github.com/voyagen/streamvault/internal/fetcher"
	"github.com/voyagen/streamvault/internal/ingest"
	"github.com/voyagen/streamvault/internal/metrics"
	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/progress"
	"github.com/voyagen/streamvault/internal/store"
)

// lockOperation names the lease guarding account refreshes.
const lockOperation = "refresh"

// Locker hands out mutual-exclusion leases. cache.Locks implements it; tests
// substitute an in-process one.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Summary is the final report of one refresh.
type Summary struct {
	RunID   string
	Created int64
	Updated int64
	Deleted int64
	Elapsed time.Duration
}

// Message renders the operator-facing completion line persisted on the
// account.
func (s Summary) Message() string {
	return fmt.Sprintf("Processing completed in %ds. Streams: %d created, %d updated, %d removed.",
		int(s.Elapsed.Seconds()), s.Created, s.Updated, s.Deleted)
}

// Runner orchestrates refreshes. All collaborators are interfaces; wire the
// real ones in cmd and fakes in tests.
type Runner struct {
	Store   store.Store
	Locks   Locker
	Sources map[int16]fetcher.Source
	Sink    progress.Sink
	Log     *logrus.Entry

	BatchSize int
	Workers   int
	// Timeout is the wall-clock ceiling for one refresh. Exceeding it aborts
	// the run and marks the account ERROR; committed batches stay committed.
	Timeout  time.Duration
	LeaseTTL time.Duration
}

// Refresh runs the full pipeline for one account. When a refresh for the
// account is already running it reports that and returns cache.ErrLocked;
// callers treat that as a no-op, not a failure.
func (r *Runner) Refresh(ctx context.Context, accountID int64) (*Summary, error) {
	account, err := r.Store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", accountID, err)
	}
	log := r.Log.WithFields(logrus.Fields{"account": account.ID, "name": account.Name})
	if !account.IsActive {
		log.Info("account inactive, refresh skipped")
		return nil, nil
	}

	ttl := r.LeaseTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	unlock, err := r.Locks.TryLock(ctx, cache.RefreshLockKey(lockOperation, account.ID), ttl)
	if errors.Is(err, cache.ErrLocked) {
		log.Info("refresh already running")
		r.emit(ctx, progress.Event{
			AccountID: account.ID,
			Status:    "locked",
			Message:   "refresh already running",
		})
		return nil, cache.ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("acquire refresh lease: %w", err)
	}
	defer unlock()

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	runID := uuid.NewString()
	log = log.WithField("run_id", runID)
	started := time.Now()
	// Everything downstream compares against this one timestamp, so a slow
	// run cannot classify its own observations as stale.
	scanWindow := started.UTC()

	summary, err := r.run(ctx, account, runID, scanWindow, log)
	elapsed := time.Since(started)
	metrics.RefreshDuration.Observe(elapsed.Seconds())
	if err != nil {
		metrics.RefreshTotal.WithLabelValues(models.StatusError).Inc()
		// Surface the causing message verbatim; operators debug from it.
		r.setStatus(account.ID, models.StatusError, err.Error(), log)
		r.emit(context.WithoutCancel(ctx), progress.Event{
			AccountID: account.ID,
			RunID:     runID,
			Phase:     models.StatusError,
			Status:    models.StatusError,
			Message:   err.Error(),
		})
		log.WithError(err).Error("refresh failed")
		return nil, err
	}

	summary.RunID = runID
	summary.Elapsed = elapsed
	metrics.RefreshTotal.WithLabelValues(models.StatusSuccess).Inc()
	r.setStatus(account.ID, models.StatusSuccess, summary.Message(), log)
	if err := r.Store.MarkAccountRefreshed(ctx, account.ID, scanWindow); err != nil {
		log.WithError(err).Warn("persist refresh timestamp")
	}
	r.emit(ctx, progress.Event{
		AccountID: account.ID,
		RunID:     runID,
		Phase:     models.StatusSuccess,
		Percent:   100,
		Status:    models.StatusSuccess,
		Message:   summary.Message(),
		Metrics: map[string]any{
			"streams_created": summary.Created,
			"streams_updated": summary.Updated,
			"streams_deleted": summary.Deleted,
			"elapsed_seconds": elapsed.Seconds(),
		},
	})
	log.WithFields(logrus.Fields{
		"created": summary.Created,
		"updated": summary.Updated,
		"deleted": summary.Deleted,
		"elapsed": elapsed.Round(time.Millisecond),
	}).Info("refresh complete")
	return summary, nil
}

func (r *Runner) run(ctx context.Context, account *models.Account, runID string, scanWindow time.Time, log *logrus.Entry) (*Summary, error) {
	source, ok := r.Sources[account.AccountType]
	if !ok {
		return nil, fmt.Errorf("no source for account type %d", account.AccountType)
	}

	r.phase(ctx, account.ID, runID, models.StatusFetching, 0, log)
	parsed, err := source.Fetch(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	log.WithFields(logrus.Fields{
		"tuples": len(parsed.Tuples),
		"groups": len(parsed.Groups),
	}).Info("feed fetched")

	names := append([]string{models.DefaultGroupName}, parsed.Groups...)
	groups, err := r.Store.EnsureGroups(ctx, account.ID, names)
	if err != nil {
		return nil, fmt.Errorf("register groups: %w", err)
	}

	r.phase(ctx, account.ID, runID, models.StatusParsing, 5, log)
	d := &ingest.Dispatcher{
		Store:     r.Store,
		BatchSize: r.BatchSize,
		Workers:   r.Workers,
		Sink:      r.Sink,
		Log:       log,
	}
	dres := d.Run(ctx, account.ID, runID, parsed.Tuples, groups, account.HashKeys(), scanWindow)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("refresh aborted during ingest: %w", err)
	}
	metrics.StreamsCreated.Add(float64(dres.Created))
	metrics.StreamsUpdated.Add(float64(dres.Updated))
	metrics.BatchesFailed.Add(float64(dres.FailedBatches))

	r.phase(ctx, account.ID, runID, models.StatusSweeping, 90, log)
	enabledIDs := make([]int64, 0, len(groups))
	for _, id := range groups {
		enabledIDs = append(enabledIDs, id)
	}
	deleted, err := ingest.Sweep(ctx, r.Store, account, enabledIDs, scanWindow)
	if err != nil {
		return nil, fmt.Errorf("sweep failed: %w", err)
	}
	metrics.StreamsDeleted.Add(float64(deleted))

	r.phase(ctx, account.ID, runID, models.StatusReconciling, 95, log)
	rec := &channelsync.Reconciler{Store: r.Store, Log: log}
	cres, err := rec.Reconcile(ctx, account, scanWindow)
	if err != nil {
		return nil, fmt.Errorf("auto-channel sync failed: %w", err)
	}
	metrics.ChannelsReconciled.WithLabelValues("created").Add(float64(cres.Created))
	metrics.ChannelsReconciled.WithLabelValues("updated").Add(float64(cres.Updated))
	metrics.ChannelsReconciled.WithLabelValues("deleted").Add(float64(cres.Deleted))

	return &Summary{
		Created: dres.Created,
		Updated: dres.Updated,
		Deleted: deleted,
	}, nil
}

// phase persists the intermediate status and emits a matching event. Both are
// best-effort; a status write failure never aborts the refresh.
func (r *Runner) phase(ctx context.Context, accountID int64, runID, status string, percent float64, log *logrus.Entry) {
	r.setStatus(accountID, status, "", log)
	r.emit(ctx, progress.Event{
		AccountID: accountID,
		RunID:     runID,
		Phase:     status,
		Percent:   percent,
	})
	log.WithField("phase", status).Debug("phase started")
}

func (r *Runner) setStatus(accountID int64, status, message string, log *logrus.Entry) {
	// Background context: the final ERROR status must land even when the
	// refresh context is already cancelled or timed out.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.Store.SetAccountStatus(ctx, accountID, status, message); err != nil {
		log.WithError(err).Warn("persist account status")
	}
}

func (r *Runner) emit(ctx context.Context, ev progress.Event) {
	if r.Sink != nil {
		r.Sink.Emit(ctx, ev)
	}
}
