package aggregator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/veritas-care/evv/evv"
	"github.com/veritas-care/evv/store"
)

// RetryWorker drives scheduled submission retries and reaps stuck in-flight
// attempts. Retries live in persisted state (submission rows, plus the redis
// schedule when configured), so restarts lose nothing.
type RetryWorker struct {
	log        *zap.SugaredLogger
	store      store.Store
	dispatcher *Dispatcher

	// PollInterval between sweeps; test code shortens it.
	PollInterval time.Duration

	now func() time.Time
}

func NewRetryWorker(log *zap.SugaredLogger, st store.Store, d *Dispatcher) *RetryWorker {
	return &RetryWorker{
		log:          log,
		store:        st,
		dispatcher:   d,
		PollInterval: 15 * time.Second,
		now:          time.Now,
	}
}

// Run loops until the context is canceled.
func (w *RetryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Sweep(ctx)
		case <-ctx.Done():
			w.log.Debug("terminating aggregator retry worker")
			return
		}
	}
}

// dueBatchLimit bounds how many queued retries one sweep pops.
const dueBatchLimit = 256

// Sweep runs one pass: reap stuck in-flight rows, pop the persisted schedule,
// then fire retries the submission rows say are due. The rows stay
// authoritative; a record fired from both sources collapses on the
// dispatcher's CAS.
func (w *RetryWorker) Sweep(ctx context.Context) {
	now := w.now().UTC()

	w.reap(ctx, now)

	if w.dispatcher.sched != nil {
		ids, err := w.dispatcher.sched.Due(ctx, now, dueBatchLimit)
		if err != nil {
			w.log.Errorw("popping scheduled retries", "err", err)
		}
		for _, id := range ids {
			w.submit(ctx, id)
		}
	}

	due, err := w.store.DueForRetry(ctx, now)
	if err != nil {
		w.log.Errorw("listing due retries", "err", err)
		return
	}
	for _, sub := range due {
		w.submit(ctx, sub.RecordID)
	}
}

func (w *RetryWorker) submit(ctx context.Context, recordID string) {
	if _, err := w.dispatcher.Submit(ctx, recordID); err != nil {
		// terminal and retriable outcomes are already persisted by the
		// dispatcher; log and continue the sweep
		w.log.Debugw("retry attempt settled with error", "record", recordID, "err", err)
	}
}

// reap demotes InFlight submissions older than the call timeout back to
// AwaitingRetry. Covers attempts cut down mid-call by a crash or
// cancellation.
func (w *RetryWorker) reap(ctx context.Context, now time.Time) {
	stuck, err := w.store.StuckInFlight(ctx, now.Add(-CallTimeout))
	if err != nil {
		w.log.Errorw("listing stuck in-flight submissions", "err", err)
		return
	}
	for _, sub := range stuck {
		demoted, err := w.store.CASSubmissionState(ctx, sub.RecordID,
			[]evv.SubmissionState{evv.SubmissionInFlight}, evv.SubmissionAwaitingRetry)
		if err != nil {
			// a concurrent settle already moved the row on; nothing to do
			continue
		}
		next := now.Add(NextBackoff(demoted.Attempts))
		demoted.NextAttemptAt = &next
		if err := w.store.PutSubmission(ctx, demoted); err != nil {
			w.log.Errorw("rescheduling reaped submission", "record", sub.RecordID, "err", err)
			continue
		}
		if w.dispatcher.sched != nil {
			_ = w.dispatcher.sched.Schedule(ctx, sub.RecordID, next)
		}
		w.log.Warnw("reaped stuck in-flight submission",
			"record", sub.RecordID, "inFlightSince", sub.InFlightSince, "next", next)
	}
}
