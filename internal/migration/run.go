package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/transpostw1/vincap-retro-sync/internal/audit"
	"github.com/transpostw1/vincap-retro-sync/internal/ids"
	"github.com/transpostw1/vincap-retro-sync/internal/mapping"
	"github.com/transpostw1/vincap-retro-sync/internal/obs"
	"github.com/transpostw1/vincap-retro-sync/internal/retro"
	"github.com/transpostw1/vincap-retro-sync/internal/source"
)

// Sequence is the record stream consumed by one run.
type Sequence interface {
	Next(ctx context.Context) bool
	Row() source.Row
	Err() error
}

// RecordSource produces record sequences.
type RecordSource interface {
	Fetch(spec source.FetchSpec) (Sequence, error)
}

// Remote is the slice of the Retro client a run needs.
type Remote interface {
	Authenticate(ctx context.Context) (retro.Session, error)
	Submit(ctx context.Context, sess retro.Session, recordID string, payload mapping.Payload) (retro.Outcome, error)
}

// Config bounds one runner: paging defaults and the declared retry policies.
type Config struct {
	Table      string
	BatchSize  int
	MaxRecords int

	AuthAttempts  int
	AuthBackoff   time.Duration
	FetchAttempts int
	SubmitRetries int
	SubmitBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.Table == "" {
		c.Table = "invoices"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.AuthAttempts <= 0 {
		c.AuthAttempts = 3
	}
	if c.AuthBackoff <= 0 {
		c.AuthBackoff = 500 * time.Millisecond
	}
	if c.FetchAttempts <= 0 {
		c.FetchAttempts = 3
	}
	if c.SubmitRetries < 0 {
		c.SubmitRetries = 0
	} else if c.SubmitRetries == 0 {
		c.SubmitRetries = 2
	}
	if c.SubmitBackoff <= 0 {
		c.SubmitBackoff = 500 * time.Millisecond
	}
}

// Request selects what one run migrates.
type Request struct {
	RunID    string `json:"run_id,omitempty"`
	RecordID string `json:"record_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Table    string `json:"table_name,omitempty"`
}

// Summary aggregates per-record outcomes for one run. It is discarded once
// returned; there is no persistent migration ledger.
type Summary struct {
	RunID      string          `json:"run_id"`
	Table      string          `json:"table"`
	Total      int             `json:"total"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
	Details    []retro.Outcome `json:"details"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Runner drives the migration pipeline: authenticate, fetch, transform,
// submit, summarize. Each Run owns an independent session credential, so
// concurrent runs never interleave remote state.
type Runner struct {
	src    RecordSource
	remote Remote
	table  []mapping.Field
	cfg    Config
}

// NewRunner wires a runner from the concrete store and client.
func NewRunner(store *source.Store, client *retro.Client, cfg Config) *Runner {
	return newRunner(storeSource{store}, client, cfg)
}

func newRunner(src RecordSource, remote Remote, cfg Config) *Runner {
	cfg.applyDefaults()
	return &Runner{src: src, remote: remote, table: mapping.Invoice, cfg: cfg}
}

// storeSource adapts *source.Store to the RecordSource interface.
type storeSource struct {
	store *source.Store
}

func (s storeSource) Fetch(spec source.FetchSpec) (Sequence, error) {
	return s.store.Fetch(spec)
}

// Run executes one migration. Per-record failures are recorded in the summary
// and never abort the run; only authentication or source failures that
// survive their retry budgets do, in which case the error carries the abort
// reason and the summary is nil.
func (r *Runner) Run(ctx context.Context, req Request) (*Summary, error) {
	runID := req.RunID
	if runID == "" {
		runID = ids.New()
	}
	ctx = audit.WithRunID(ctx, runID)

	table := req.Table
	if table == "" {
		table = r.cfg.Table
	}
	maxRecords := r.cfg.MaxRecords
	if req.Limit > 0 {
		maxRecords = req.Limit
	}

	summary := &Summary{RunID: runID, Table: table, StartedAt: time.Now().UTC()}
	_ = audit.LogEvent(ctx, "migration.run.start", map[string]any{
		"table":     table,
		"record_id": req.RecordID,
		"limit":     maxRecords,
	})

	sess, err := r.authenticate(ctx)
	if err != nil {
		return nil, r.abort(ctx, err)
	}

	spec := source.FetchSpec{
		Table:      table,
		Columns:    mapping.SourceColumns(r.table),
		BatchSize:  r.cfg.BatchSize,
		MaxRecords: maxRecords,
		RecordID:   req.RecordID,
	}
	seq, hasFirst, err := r.openSequence(ctx, spec)
	if err != nil {
		return nil, r.abort(ctx, err)
	}

	for hasFirst {
		row := seq.Row()
		outcome := r.processRecord(ctx, &sess, row)
		summary.Total++
		summary.Details = append(summary.Details, outcome)
		if outcome.Status == retro.StatusSuccess {
			summary.Successful++
		} else {
			summary.Failed++
		}
		obs.ObserveRecord(outcome.Status)
		_ = audit.LogEvent(ctx, "migration.record.submitted", map[string]any{
			"record_id": outcome.RecordID,
			"status":    outcome.Status,
			"detail":    outcome.ErrorDetail,
		})

		if ctx.Err() != nil {
			return nil, r.abort(ctx, ctx.Err())
		}
		hasFirst = seq.Next(ctx)
	}
	if err := seq.Err(); err != nil {
		// Mid-run fetch failures abort: already-processed outcomes are in
		// the logs, but the sequence cannot be restarted.
		return nil, r.abort(ctx, err)
	}

	summary.FinishedAt = time.Now().UTC()
	obs.ObserveRunFinished("done")
	_ = audit.LogEvent(ctx, "migration.run.complete", map[string]any{
		"total":      summary.Total,
		"successful": summary.Successful,
		"failed":     summary.Failed,
	})
	return summary, nil
}

func (r *Runner) abort(ctx context.Context, err error) error {
	obs.ObserveRunFinished("aborted")
	_ = audit.LogEvent(ctx, "migration.run.aborted", map[string]any{"reason": err.Error()})
	return err
}

// authenticate applies the run-level retry policy: a small fixed bound with
// linear backoff. The client itself never retries.
func (r *Runner) authenticate(ctx context.Context) (retro.Session, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.AuthAttempts; attempt++ {
		sess, err := r.remote.Authenticate(ctx)
		if err == nil {
			return sess, nil
		}
		lastErr = err
		if attempt < r.cfg.AuthAttempts {
			if err := sleep(ctx, time.Duration(attempt)*r.cfg.AuthBackoff); err != nil {
				return retro.Session{}, err
			}
		}
	}
	return retro.Session{}, fmt.Errorf("authentication failed after %d attempts: %w", r.cfg.AuthAttempts, lastErr)
}

// openSequence establishes the record stream, retrying connection-level
// failures on the first page. Individual later fetches are not retried.
func (r *Runner) openSequence(ctx context.Context, spec source.FetchSpec) (Sequence, bool, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.FetchAttempts; attempt++ {
		seq, err := r.src.Fetch(spec)
		if err != nil {
			return nil, false, err
		}
		if seq.Next(ctx) {
			return seq, true, nil
		}
		err = seq.Err()
		if err == nil {
			// Empty result set, not a failure.
			return seq, false, nil
		}
		if !errors.Is(err, source.ErrUnavailable) {
			return nil, false, err
		}
		lastErr = err
		if attempt < r.cfg.FetchAttempts {
			if err := sleep(ctx, time.Duration(attempt)*r.cfg.AuthBackoff); err != nil {
				return nil, false, err
			}
		}
	}
	return nil, false, fmt.Errorf("source fetch failed after %d attempts: %w", r.cfg.FetchAttempts, lastErr)
}

// processRecord runs the transform/submit sub-cycle for one record. Failures
// here never escape: they become the record's outcome.
func (r *Runner) processRecord(ctx context.Context, sess *retro.Session, row source.Row) retro.Outcome {
	payload, fieldErrs, err := mapping.Transform(row.Record, r.table)
	for _, fe := range fieldErrs {
		obs.Warn("field transform failed, omitting field", map[string]any{
			"record_id": row.ID,
			"field":     fe.Field,
			"reason":    fe.Reason,
		})
	}
	if err != nil {
		return retro.Outcome{
			RecordID:    row.ID,
			Status:      retro.StatusFailure,
			ErrorDetail: err.Error(),
		}
	}
	return r.submit(ctx, sess, row.ID, payload)
}

// submit applies the per-record policy: bounded transport retries with linear
// backoff, and on session expiry exactly one re-authentication followed by
// one resubmission.
func (r *Runner) submit(ctx context.Context, sess *retro.Session, recordID string, payload mapping.Payload) retro.Outcome {
	reauthenticated := false
	transportTries := 0
	for {
		out, err := r.remote.Submit(ctx, *sess, recordID, payload)
		if err == nil {
			return out
		}
		if errors.Is(err, retro.ErrAuthExpired) {
			if reauthenticated {
				out.ErrorDetail = "session expired again after re-authentication"
				return out
			}
			reauthenticated = true
			fresh, authErr := r.remote.Authenticate(ctx)
			if authErr != nil {
				out.ErrorDetail = fmt.Sprintf("re-authentication failed: %v", authErr)
				return out
			}
			*sess = fresh
			continue
		}
		if transportTries >= r.cfg.SubmitRetries {
			return out
		}
		transportTries++
		if serr := sleep(ctx, time.Duration(transportTries)*r.cfg.SubmitBackoff); serr != nil {
			out.ErrorDetail = serr.Error()
			return out
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
