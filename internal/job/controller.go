// Package job runs enrichment jobs: one document, one browser session and
// one backup ledger at a time.
package job

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/maplink/internal/events"
	"github.com/sells-group/maplink/internal/export"
	"github.com/sells-group/maplink/internal/facet"
	"github.com/sells-group/maplink/internal/ledger"
	"github.com/sells-group/maplink/internal/locate"
	"github.com/sells-group/maplink/internal/metrics"
	"github.com/sells-group/maplink/internal/model"
	"github.com/sells-group/maplink/internal/resilience"
	"github.com/sells-group/maplink/internal/sheet"
	"github.com/sells-group/maplink/internal/store"
)

var (
	// ErrJobRunning is returned by Start while another job is active.
	ErrJobRunning = eris.New("job: a job is already running")
	// ErrNoJob is returned by Stop and Wait for an unknown or finished job.
	ErrNoJob = eris.New("job: no such job")
	// ErrClosed is returned by Start after Close.
	ErrClosed = eris.New("job: controller closed")
)

// Locator resolves one row to a map link. *locate.Session implements it.
type Locator interface {
	Locate(ctx context.Context, row sheet.SourceRow) (locate.Result, error)
	Close() error
}

// SessionFactory opens the browser session for a job.
type SessionFactory func(ctx context.Context, opts model.JobOptions) (Locator, error)

// Config wires a Controller. NewSession is required; the rest is optional.
type Config struct {
	OutputDir  string
	Sheet      sheet.Options
	NewSession SessionFactory
	Store      store.Store
	Metrics    *metrics.Metrics
	Bus        *events.Bus

	// MaxConsecutiveFailures aborts a job after that many failed rows in a
	// row. Zero disables the check.
	MaxConsecutiveFailures int
}

// Controller owns the active job. Start, Stop, Status and Wait are safe for
// concurrent use.
type Controller struct {
	cfg Config
	bus *events.Bus
	log *zap.Logger

	mu      sync.Mutex
	current *run
	closed  bool
}

type run struct {
	job  model.Job
	stop atomic.Bool
	done chan struct{}
}

// New creates a Controller. A nil Bus gets a private one.
func New(cfg Config) (*Controller, error) {
	if cfg.NewSession == nil {
		return nil, eris.New("job: session factory is required")
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	bus := cfg.Bus
	if bus == nil {
		bus = events.NewBus(cfg.Metrics.EventDropped)
	}
	return &Controller{
		cfg: cfg,
		bus: bus,
		log: zap.L().With(zap.String("component", "job")),
	}, nil
}

// Bus returns the event bus jobs publish to.
func (c *Controller) Bus() *events.Bus { return c.bus }

// OutputDir returns the directory holding ledgers and finished files.
func (c *Controller) OutputDir() string { return c.cfg.OutputDir }

// Start validates the request and begins processing doc in the background.
// It returns the new job id without waiting for any row.
func (c *Controller) Start(ctx context.Context, doc []byte, inputName string, opts model.JobOptions) (string, error) {
	key := strings.TrimSpace(opts.ResumeKey)
	if key != "" && !validKey(key) {
		return "", eris.Errorf("job: invalid resume key %q", key)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if c.current != nil && c.current.job.State.Active() {
		c.mu.Unlock()
		return "", ErrJobRunning
	}

	id := uuid.NewString()
	if key == "" {
		key = id
	}
	opts.ResumeKey = key
	now := time.Now().UTC()
	r := &run{
		job: model.Job{
			ID:         id,
			Key:        key,
			State:      model.JobStateIdle,
			InputName:  inputName,
			Options:    opts,
			LedgerPath: ledger.PathFor(c.cfg.OutputDir, key),
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		done: make(chan struct{}),
	}
	c.transition(r, model.JobStateRunning)
	c.current = r
	c.mu.Unlock()

	c.persist(ctx, r.job, true)
	c.cfg.Metrics.JobStarted()
	c.log.Info("job started",
		zap.String("job_id", id),
		zap.String("key", key),
		zap.String("input", inputName),
	)

	go c.execute(context.WithoutCancel(ctx), r, doc)
	return id, nil
}

// Stop asks the active job to finish after its in-flight row. An empty id
// means the active job.
func (c *Controller) Stop(id string) error {
	c.mu.Lock()
	r := c.current
	if r == nil || !r.job.State.Active() || (id != "" && id != r.job.ID) {
		c.mu.Unlock()
		return ErrNoJob
	}
	snap, changed := c.requestStop(r)
	c.mu.Unlock()

	if changed {
		c.bus.Log(snap.ID, "stop requested, finishing current row")
		c.persist(context.Background(), snap, false)
	}
	return nil
}

// requestStop raises the stop flag and moves a running job to stopping.
// The caller holds c.mu.
func (c *Controller) requestStop(r *run) (model.Job, bool) {
	r.stop.Store(true)
	changed := r.job.State == model.JobStateRunning && c.transition(r, model.JobStateStopping)
	return r.job, changed
}

// transition moves r to next when the state machine allows it. The caller
// holds c.mu.
func (c *Controller) transition(r *run, next model.JobState) bool {
	if !r.job.State.CanTransition(next) {
		c.log.Error("illegal job state transition",
			zap.String("job_id", r.job.ID),
			zap.String("from", string(r.job.State)),
			zap.String("to", string(next)),
		)
		return false
	}
	r.job.State = next
	r.job.UpdatedAt = time.Now().UTC()
	return true
}

// Status returns a snapshot of the active or most recent job. ok is false
// when no job has been started.
func (c *Controller) Status() (model.Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return model.Job{}, false
	}
	return c.current.job, true
}

// Wait blocks until job id finishes or ctx ends, and returns its final
// snapshot.
func (c *Controller) Wait(ctx context.Context, id string) (model.Job, error) {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()
	if r == nil || (id != "" && r.job.ID != id) {
		return model.Job{}, ErrNoJob
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		return model.Job{}, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return r.job, nil
}

// Close stops the active job, waits for it to finish and rejects further
// starts. The bus is left open.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	r := c.current
	var snap model.Job
	changed := false
	if r != nil && r.job.State.Active() {
		snap, changed = c.requestStop(r)
	}
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	if changed {
		c.persist(context.Background(), snap, false)
	}
	<-r.done
	return nil
}

// fatalError marks failures that abort the job.
type fatalError struct {
	msg string
	err error
}

func (e *fatalError) Error() string { return e.msg + ": " + e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func fatal(msg string, err error) error { return &fatalError{msg: msg, err: err} }

func (c *Controller) execute(ctx context.Context, r *run, doc []byte) {
	defer close(r.done)
	jobID := r.job.ID
	log := c.log.With(zap.String("job_id", jobID))

	outPath, stopped, err := c.process(ctx, r, doc)

	c.mu.Lock()
	// A stop that lands on the last pending row still ends the job as stopped.
	final := model.JobStateCompleted
	switch {
	case err != nil:
		final = model.JobStateFailed
	case stopped || r.stop.Load():
		final = model.JobStateStopped
	}
	if !c.transition(r, final) {
		r.job.State = final
	}
	stopped = final == model.JobStateStopped
	r.job.OutputPath = outPath
	if err != nil {
		r.job.Error = err.Error()
	}
	r.job.UpdatedAt = time.Now().UTC()
	snap := r.job
	c.mu.Unlock()

	c.persist(ctx, snap, false)
	c.cfg.Metrics.JobFinished(final)

	if err != nil {
		msg := err.Error()
		var fe *fatalError
		if errors.As(err, &fe) {
			msg = fe.msg
		}
		log.Error("job failed", zap.Error(err))
		c.bus.Log(jobID, "job aborted: "+err.Error())
		c.bus.Error(jobID, msg)
		return
	}

	c.bus.Complete(jobID, events.Complete{
		Processed:  snap.Processed,
		OutputPath: filepath.Base(outPath),
		Stopped:    stopped,
	})
	log.Info("job finished",
		zap.String("state", string(final)),
		zap.Int("processed", snap.Processed),
		zap.String("output", outPath),
	)
}

// process runs the row loop and writes the output document. The output is
// written whenever the ledger was opened, even when the loop aborts.
func (c *Controller) process(ctx context.Context, r *run, doc []byte) (outPath string, stopped bool, err error) {
	jobID := r.job.ID
	opts := r.job.Options

	rows, err := c.loadRows(doc)
	if err != nil {
		return "", false, err
	}
	scope := facet.InScope(rows, opts)

	skip, err := ledger.LoadSkipSet(r.job.LedgerPath)
	if err != nil {
		return "", false, fatal("cannot read backup ledger", err)
	}
	skipped := 0
	for _, row := range scope {
		if _, ok := skip[row.Index]; ok {
			skipped++
		}
	}
	c.update(r, func(j *model.Job) {
		j.TotalInScope = len(scope)
		j.Skipped = skipped
	})
	c.cfg.Metrics.AddResumed(skipped)
	c.bus.Log(jobID, fmt.Sprintf("%d rows in scope", len(scope)))
	if skipped > 0 {
		c.bus.Log(jobID, fmt.Sprintf("resuming: %d rows already recorded", skipped))
	}

	led, err := ledger.Open(r.job.LedgerPath)
	if err != nil {
		return "", false, fatal("cannot open backup ledger", err)
	}

	stopped, err = c.loop(ctx, r, led, scope, skip)
	if cerr := led.Close(); cerr != nil && err == nil {
		err = fatal("cannot close backup ledger", cerr)
	}

	outPath = filepath.Join(c.cfg.OutputDir, export.FileName(r.job.Key))
	sum, ferr := export.Finalize(r.job.LedgerPath, outPath)
	if ferr != nil {
		if err == nil {
			err = fatal("cannot write output file", ferr)
		}
		return "", stopped, err
	}
	c.bus.Log(jobID, fmt.Sprintf("output written: %d rows (%d found, %d not found, %d failed)",
		sum.Rows, sum.Found, sum.NotFound, sum.Failed))
	return outPath, stopped, err
}

func (c *Controller) loadRows(doc []byte) ([]sheet.SourceRow, error) {
	wb, err := sheet.OpenBytes(doc, c.cfg.Sheet)
	if err != nil {
		return nil, fatal("cannot read input document", err)
	}
	defer wb.Close() //nolint:errcheck
	return wb.Rows(), nil
}

func (c *Controller) loop(ctx context.Context, r *run, led *ledger.Ledger, scope []sheet.SourceRow, skip map[int]struct{}) (bool, error) {
	jobID := r.job.ID
	total := len(scope)

	pending := 0
	for _, row := range scope {
		if _, ok := skip[row.Index]; !ok {
			pending++
		}
	}
	if pending == 0 {
		return false, nil
	}

	sess, err := c.cfg.NewSession(ctx, r.job.Options)
	if err != nil {
		return false, fatal("cannot start browser session", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			c.log.Warn("job: close session", zap.String("job_id", jobID), zap.Error(cerr))
		}
	}()
	c.bus.Log(jobID, "browser session started")

	breaker := resilience.NewBreaker(c.cfg.MaxConsecutiveFailures)
	for i, row := range scope {
		if _, ok := skip[row.Index]; ok {
			continue
		}
		if r.stop.Load() || ctx.Err() != nil {
			c.bus.Log(jobID, "job stopped")
			return true, nil
		}

		c.bus.Progress(jobID, events.Progress{
			Row:     row.Index,
			Percent: events.Percent(i+1, total),
			Message: fmt.Sprintf("row %d: %s", row.Index, row.SearchAddress()),
			Current: i + 1,
			Total:   total,
		})

		start := time.Now()
		res, lerr := sess.Locate(ctx, row)
		if lerr != nil {
			c.bus.Log(jobID, fmt.Sprintf("row %d failed: %v", row.Index, lerr))
		}
		rec := model.EnrichmentRecord{
			RowIndex:        row.Index,
			WarehouseCode:   row.WarehouseCode,
			Province:        row.Province,
			ShopName:        row.ShopName,
			Address:         row.SearchAddress(),
			SpecificAddress: row.SpecificAddress,
			MapLink:         res.Link,
			Coordinates:     res.Coordinates,
			Status:          res.Status,
		}
		if err := led.Append(rec); err != nil {
			return false, fatal("cannot write backup ledger", err)
		}
		c.cfg.Metrics.ObserveRow(res.Status, time.Since(start))
		c.cfg.Metrics.ObserveCandidates(res.Candidates)
		c.update(r, func(j *model.Job) { j.Processed++ })

		if err := breaker.Record(res.Status == model.StatusFailed); err != nil {
			return false, fatal("too many consecutive row failures", err)
		}
	}
	return false, nil
}

func (c *Controller) update(r *run, fn func(j *model.Job)) {
	c.mu.Lock()
	fn(&r.job)
	r.job.UpdatedAt = time.Now().UTC()
	c.mu.Unlock()
}

// persist writes the job snapshot to the history store. Failures are logged
// only.
func (c *Controller) persist(ctx context.Context, j model.Job, create bool) {
	if c.cfg.Store == nil {
		return
	}
	var err error
	if create {
		err = c.cfg.Store.CreateJob(ctx, &j)
	} else {
		err = c.cfg.Store.UpdateJob(ctx, &j)
	}
	if err != nil {
		c.log.Warn("job: persist", zap.String("job_id", j.ID), zap.Error(err))
	}
}

// validKey reports whether key can name a ledger file without leaving the
// output directory.
func validKey(key string) bool {
	if key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return false
	}
	return filepath.Base(key) == key
}
