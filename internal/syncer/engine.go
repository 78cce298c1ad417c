package syncer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/emagent/internal/store"
)

// DefaultBatchSize is the maximum number of records per submitted batch.
const DefaultBatchSize = 100

// Store is the part of the record store the engine needs.
type Store interface {
	SelectUnsynced(ctx context.Context, class store.RecordClass, limit int) ([]store.Record, error)
	MarkSynced(ctx context.Context, class store.RecordClass, ids []int64, at time.Time) (int64, error)
}

// Batch is one set of records of a single class offered to the remote.
type Batch struct {
	Class   store.RecordClass
	Records []store.Record
}

// IDs returns the record identifiers in batch order.
func (b Batch) IDs() []int64 {
	ids := make([]int64, len(b.Records))
	for i, r := range b.Records {
		ids[i] = r.ID
	}
	return ids
}

// Remote submits a batch. A nil error means the remote accepted every record
// in the batch.
type Remote interface {
	Submit(ctx context.Context, b Batch) error
}

// FailureFunc observes a class that failed during a pass.
type FailureFunc func(ctx context.Context, class store.RecordClass, err error)

// ClassResult reports one class within a pass.
type ClassResult struct {
	Class store.RecordClass `json:"class"`

	// BatchSizes lists the size of every accepted batch, in order.
	BatchSizes []int `json:"batch_sizes"`

	// Synced is the number of rows marked synced.
	Synced int64 `json:"synced"`

	// Err is the failure that ended this class early, if any.
	Err error `json:"-"`
}

// Failed reports whether the class ended on a failure.
func (c ClassResult) Failed() bool { return c.Err != nil }

// PassResult reports one RunOnce call.
type PassResult struct {
	// Skipped is set when the engine was disabled and no work was done.
	Skipped bool          `json:"skipped"`
	Classes []ClassResult `json:"classes"`
}

// Synced returns the total number of rows marked synced in the pass.
func (p PassResult) Synced() int64 {
	var n int64
	for _, c := range p.Classes {
		n += c.Synced
	}
	return n
}

// Failures returns the number of classes that ended on a failure.
func (p PassResult) Failures() int {
	n := 0
	for _, c := range p.Classes {
		if c.Failed() {
			n++
		}
	}
	return n
}

// Stats are cumulative counters since the engine was created.
type Stats struct {
	Passes        int64 `json:"passes"`
	Batches       int64 `json:"batches"`
	RecordsSynced int64 `json:"records_synced"`
	Failures      int64 `json:"failures"`
}

// Engine moves unsynced records from the store to the remote.
//
// Passes are serialized: RunOnce holds passMu for the whole pass, so the
// scheduler, Trigger and direct callers never overlap. The store lock is
// taken per store call and is never held while the remote is contacted.
type Engine struct {
	store      Store
	remote     Remote
	classes    []store.RecordClass
	batchSize  int
	retries    int
	retryDelay time.Duration
	now        func() time.Time
	logger     *slog.Logger
	onFailure  FailureFunc

	enabled atomic.Bool
	passMu  sync.Mutex
	trigger chan struct{}

	passes   atomic.Int64
	batches  atomic.Int64
	synced   atomic.Int64
	failures atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchSize sets the maximum batch size. Default: 100.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithClasses overrides the class order. Default: store.Classes().
func WithClasses(classes ...store.RecordClass) Option {
	return func(e *Engine) {
		e.classes = append([]store.RecordClass(nil), classes...)
	}
}

// WithEnabled sets the initial enabled state. Default: true.
func WithEnabled(enabled bool) Option {
	return func(e *Engine) {
		e.enabled.Store(enabled)
	}
}

// WithRetry allows up to attempts extra submissions of a rejected batch
// within the same pass, waiting delay, 2*delay, 4*delay... between them.
// Default: 0 attempts, so a rejected batch waits for the next pass.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(e *Engine) {
		if attempts >= 0 {
			e.retries = attempts
		}
		if delay > 0 {
			e.retryDelay = delay
		}
	}
}

// WithNow sets the clock used for synced_at. Default: time.Now.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithFailureHook registers fn to observe class failures.
func WithFailureHook(fn FailureFunc) Option {
	return func(e *Engine) {
		e.onFailure = fn
	}
}

// New creates an enabled engine.
func New(st Store, remote Remote, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		remote:     remote,
		classes:    store.Classes(),
		batchSize:  DefaultBatchSize,
		retryDelay: 2 * time.Second,
		now:        time.Now,
		logger:     slog.Default(),
		trigger:    make(chan struct{}, 1),
	}
	e.enabled.Store(true)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetEnabled turns passes on or off. A pass already running completes.
func (e *Engine) SetEnabled(enabled bool) {
	e.enabled.Store(enabled)
}

// Enabled reports whether passes run.
func (e *Engine) Enabled() bool {
	return e.enabled.Load()
}

// Stats returns a snapshot of the cumulative counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Passes:        e.passes.Load(),
		Batches:       e.batches.Load(),
		RecordsSynced: e.synced.Load(),
		Failures:      e.failures.Load(),
	}
}

// RunOnce performs one synchronization pass over every class in order.
//
// Within a class it keeps taking batches until one comes back shorter than
// the batch size, the selection is empty, a step fails, or ctx is canceled.
// A failure ends that class only; later classes still run.
func (e *Engine) RunOnce(ctx context.Context) PassResult {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	if !e.Enabled() {
		return PassResult{Skipped: true, Classes: []ClassResult{}}
	}

	e.passes.Add(1)
	result := PassResult{Classes: make([]ClassResult, 0, len(e.classes))}
	for _, class := range e.classes {
		if ctx.Err() != nil {
			break
		}
		result.Classes = append(result.Classes, e.syncClass(ctx, class))
	}

	if result.Synced() > 0 || result.Failures() > 0 {
		e.logger.Info("sync pass complete", "synced", result.Synced(), "failures", result.Failures())
	}
	return result
}

func (e *Engine) syncClass(ctx context.Context, class store.RecordClass) ClassResult {
	cr := ClassResult{Class: class, BatchSizes: []int{}}

	for ctx.Err() == nil {
		records, err := e.store.SelectUnsynced(ctx, class, e.batchSize)
		if err != nil {
			e.fail(ctx, &cr, err)
			return cr
		}
		if len(records) == 0 {
			return cr
		}

		batch := Batch{Class: class, Records: records}
		if err := e.submit(ctx, batch); err != nil {
			e.fail(ctx, &cr, err)
			return cr
		}

		// Only the submitted ids are marked; rows inserted meanwhile stay unsynced.
		n, err := e.store.MarkSynced(ctx, class, batch.IDs(), e.now())
		if err != nil {
			e.fail(ctx, &cr, err)
			return cr
		}

		cr.BatchSizes = append(cr.BatchSizes, len(records))
		cr.Synced += n
		e.batches.Add(1)
		e.synced.Add(n)
		e.logger.Debug("batch synced", "class", class, "records", len(records), "marked", n)

		if n == 0 || len(records) < e.batchSize {
			return cr
		}
	}
	return cr
}

// submit offers the batch once plus up to e.retries more times.
func (e *Engine) submit(ctx context.Context, b Batch) error {
	err := e.remote.Submit(ctx, b)
	delay := e.retryDelay
	for attempt := 1; err != nil && attempt <= e.retries; attempt++ {
		e.logger.Debug("retrying batch", "class", b.Class, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		err = e.remote.Submit(ctx, b)
		delay *= 2
	}
	return err
}

func (e *Engine) fail(ctx context.Context, cr *ClassResult, err error) {
	cr.Err = err
	e.failures.Add(1)
	if IsRemoteRejected(err) {
		e.logger.Warn("sync batch rejected", "class", cr.Class, "code", ErrCodeRemoteRejected, "status", StatusOf(err), "error", err)
	} else {
		e.logger.Error("sync failed", "class", cr.Class, "error", err)
	}
	if e.onFailure != nil {
		e.onFailure(ctx, cr.Class, err)
	}
}

// Trigger requests a pass from Run without waiting for it. Requests made
// while one is already pending coalesce; Trigger returns false for those.
func (e *Engine) Trigger() bool {
	select {
	case e.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run performs a pass every interval and whenever Trigger is called, until
// ctx is canceled. Passes never overlap.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.trigger:
			e.logger.Info("sync pass triggered")
		}
		e.RunOnce(ctx)
	}
}
