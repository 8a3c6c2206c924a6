package batchimport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	errNotReported    = errors.New("item not reported by processor")
	errUnknownFailure = errors.New("item failed without an error")
)

type runState int

const (
	stateIdle runState = iota
	stateReady
	stateRunning
	stateDone
)

// Manager drives one import run at a time: items are handed to the processor in batches,
// failed items are retried, and every batch publishes a Status snapshot. Pause and Cancel
// are observed between batches; an in-flight batch always finishes.
type Manager[T Item] struct {
	opts Options
	m    *metrics
	now  func() time.Time
	subs *subscriberList

	mu        sync.Mutex
	state     runState
	items     []T
	processor Processor[T]
	batchSize int
	status    Status
	paused    bool
	cancelled bool
	// seq numbers snapshots so subscribers never see an older one after a newer one.
	seq  uint64
	wake chan struct{}
}

func NewManager[T Item](opts Options) (*Manager[T], error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.setDefaults()
	return &Manager[T]{
		opts: opts,
		m:    getMetrics(),
		now:  time.Now,
		subs: &subscriberList{log: opts.Logger},
		wake: make(chan struct{}, 1),
	}, nil
}

// Initialize resets the manager for a new run over a private copy of items.
func (m *Manager[T]) Initialize(items []T, processor Processor[T]) error {
	if processor == nil {
		return ErrNilProcessor
	}
	if len(items) == 0 {
		return ErrNoItems
	}

	m.mu.Lock()
	if m.state == stateRunning {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	size := m.opts.BatchSize
	if size == 0 {
		size = OptimalBatchSize(len(items))
	}
	m.items = append([]T(nil), items...)
	m.processor = processor
	m.batchSize = size
	m.paused = false
	m.cancelled = false
	m.drainWake()
	m.status = Status{
		RunID:        uuid.NewString(),
		Total:        len(items),
		TotalBatches: batchCount(len(items), size),
		Errors:       []ImportError{},
	}
	m.state = stateReady
	seq, snapshot := m.snapshot()
	m.mu.Unlock()

	m.subs.publish(seq, snapshot)
	return nil
}

// Start runs the initialized items to completion or cancellation. Item and batch
// failures end up in the result; only misuse is returned as an error.
func (m *Manager[T]) Start(ctx context.Context) (*Result[T], error) {
	m.mu.Lock()
	switch m.state {
	case stateIdle:
		m.mu.Unlock()
		return nil, ErrNotInitialized
	case stateRunning:
		m.mu.Unlock()
		return nil, ErrAlreadyRunning
	case stateDone:
		m.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	m.state = stateRunning
	m.status.StartedAt = m.now()
	items, processor, size := m.items, m.processor, m.batchSize
	runID := m.status.RunID
	m.mu.Unlock()

	log := m.opts.Logger.WithFields(logrus.Fields{
		"run_id":     runID,
		"total":      len(items),
		"batch_size": size,
	})
	log.Info("batchimport: run started")

	res := &Result[T]{
		RunID:     runID,
		Total:     len(items),
		Succeeded: []T{},
		Failed:    []T{},
		Errors:    []ImportError{},
	}

	batches := batchCount(len(items), size)
	for b := 0; b < batches; b++ {
		if m.stopRequested(ctx) {
			break
		}
		if !m.waitWhilePaused(ctx) {
			break
		}

		lo := b * size
		hi := min(lo+size, len(items))
		m.beginBatch(b + 1)

		out := m.runBatch(ctx, processor, items[lo:hi], log.WithField("batch", b+1))
		res.Succeeded = append(res.Succeeded, out.succeeded...)
		res.Failed = append(res.Failed, out.failed...)
		res.Errors = append(res.Errors, out.errors...)
		m.recordBatch(out)

		if b < batches-1 {
			m.sleep(ctx, m.opts.DelayBetweenBatches)
		}
	}

	final := m.finish()
	res.Processed = final.Processed
	res.Cancelled = final.IsCancelled
	res.Success = len(res.Failed) == 0 && !res.Cancelled
	res.Duration = final.Elapsed

	result := "success"
	switch {
	case res.Cancelled:
		result = "cancelled"
	case !res.Success:
		result = "failed"
	}
	m.m.runsTotal.WithLabelValues(result).Inc()
	log.WithFields(logrus.Fields{
		"processed": final.Processed,
		"succeeded": final.Succeeded,
		"failed":    final.Failed,
		"cancelled": final.IsCancelled,
		"duration":  final.Elapsed,
	}).Info("batchimport: run finished")
	return res, nil
}

// Pause holds the run before its next batch.
func (m *Manager[T]) Pause() {
	m.setPaused(true)
}

func (m *Manager[T]) Resume() {
	m.setPaused(false)
}

func (m *Manager[T]) setPaused(paused bool) {
	m.mu.Lock()
	if m.state == stateIdle || m.state == stateDone || m.paused == paused {
		m.mu.Unlock()
		return
	}
	m.paused = paused
	m.status.IsPaused = paused
	seq, snapshot := m.snapshot()
	m.mu.Unlock()

	m.signal()
	m.subs.publish(seq, snapshot)
}

// Cancel stops the run before its next batch. It also ends a pause or an inter-batch
// delay early.
func (m *Manager[T]) Cancel() {
	m.mu.Lock()
	if m.state == stateIdle || m.state == stateDone || m.cancelled {
		m.mu.Unlock()
		return
	}
	m.cancelled = true
	m.status.IsCancelled = true
	seq, snapshot := m.snapshot()
	m.mu.Unlock()

	m.signal()
	m.subs.publish(seq, snapshot)
}

// Subscribe registers fn and immediately hands it the current status. The returned
// function removes the subscription.
func (m *Manager[T]) Subscribe(fn func(Status)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	seq, current := m.seq, m.status.clone()
	m.mu.Unlock()
	id := m.subs.subscribe(fn, seq, current)

	var once sync.Once
	return func() {
		once.Do(func() { m.subs.remove(id) })
	}
}

func (m *Manager[T]) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.clone()
}

// BatchSize is the size chosen by the last Initialize.
func (m *Manager[T]) BatchSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchSize
}

type batchOutcome[T Item] struct {
	succeeded []T
	failed    []T
	errors    []ImportError
}

func (m *Manager[T]) runBatch(ctx context.Context, p Processor[T], batch []T, log *logrus.Entry) batchOutcome[T] {
	start := time.Now()
	var out batchOutcome[T]
	thrown := false

	pending := batch
	for attempt := 1; len(pending) > 0 && attempt <= m.opts.RetryAttempts+1; attempt++ {
		if attempt > 1 {
			for _, it := range pending {
				m.m.retriesTotal.WithLabelValues(it.ItemKind()).Inc()
			}
			if !m.waitRetry(ctx, attempt-1) {
				break
			}
		}

		res, err := m.call(ctx, p, pending)
		if err != nil {
			msg := truncateError(err, m.opts.ErrorMaxLen)
			for _, it := range pending {
				out.errors = append(out.errors, m.importError(it, attempt, msg))
			}
			out.failed = append(out.failed, pending...)
			pending = nil
			thrown = true
			log.WithError(err).WithField("attempt", attempt).Warn("batchimport: processor failed")
			break
		}
		pending = m.collect(&out, pending, res, attempt)
	}
	out.failed = append(out.failed, pending...)

	for _, it := range out.succeeded {
		m.m.itemsTotal.WithLabelValues(it.ItemKind(), "success").Inc()
	}
	for _, it := range out.failed {
		m.m.itemsTotal.WithLabelValues(it.ItemKind(), "failed").Inc()
	}
	result := "success"
	switch {
	case thrown:
		result = "error"
	case len(out.failed) > 0:
		result = "partial"
	}
	m.m.batchLatency.WithLabelValues(result).Observe(time.Since(start).Seconds())

	log.WithFields(logrus.Fields{
		"succeeded": len(out.succeeded),
		"failed":    len(out.failed),
	}).Debug("batchimport: batch done")
	return out
}

// collect sorts pending items by the processor outcome and returns those to retry.
func (m *Manager[T]) collect(out *batchOutcome[T], pending []T, res Outcome[T], attempt int) []T {
	ok := make(map[string]struct{}, len(res.Succeeded))
	for _, it := range res.Succeeded {
		ok[it.ItemID()] = struct{}{}
	}
	failed := make(map[string]error, len(res.Failed))
	for _, f := range res.Failed {
		failed[f.Item.ItemID()] = f.Err
	}

	var retry []T
	for _, it := range pending {
		id := it.ItemID()
		if _, done := ok[id]; done {
			out.succeeded = append(out.succeeded, it)
			continue
		}
		err, reported := failed[id]
		switch {
		case !reported:
			err = errNotReported
		case err == nil:
			err = errUnknownFailure
		}
		out.errors = append(out.errors, m.importError(it, attempt, truncateError(err, m.opts.ErrorMaxLen)))
		retry = append(retry, it)
	}
	return retry
}

func (m *Manager[T]) call(ctx context.Context, p Processor[T], items []T) (out Outcome[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panicked: %v", r)
		}
	}()
	return p.Process(ctx, append([]T(nil), items...))
}

func (m *Manager[T]) importError(it T, attempt int, msg string) ImportError {
	return ImportError{
		ItemID:   it.ItemID(),
		ItemType: it.ItemKind(),
		Attempt:  attempt,
		Message:  msg,
		Data:     it,
	}
}

// waitRetry sleeps before a retry. Only ctx ends it early; Cancel waits for the batch.
func (m *Manager[T]) waitRetry(ctx context.Context, retry int) bool {
	d := retryDelay(m.opts.Backoff, retry, m.opts.RetryDelay, m.opts.MaxRetryDelay) + jitter(m.opts.Rand, m.opts.JitterMax)
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager[T]) stopRequested(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil && !m.cancelled {
		m.cancelled = true
		m.status.IsCancelled = true
	}
	return m.cancelled
}

func (m *Manager[T]) waitWhilePaused(ctx context.Context) bool {
	for {
		m.mu.Lock()
		cancelled, paused := m.cancelled, m.paused
		m.mu.Unlock()
		if cancelled {
			return false
		}
		if !paused {
			return true
		}

		timer := time.NewTimer(m.opts.PausePollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return !m.stopRequested(ctx)
		case <-m.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (m *Manager[T]) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case <-m.wake:
			if m.isCancelled() {
				return
			}
		}
	}
}

func (m *Manager[T]) isCancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

func (m *Manager[T]) beginBatch(n int) {
	m.mu.Lock()
	m.status.CurrentBatch = n
	m.mu.Unlock()
}

func (m *Manager[T]) recordBatch(out batchOutcome[T]) {
	m.mu.Lock()
	s := &m.status
	s.Processed += len(out.succeeded) + len(out.failed)
	s.Succeeded += len(out.succeeded)
	s.Failed += len(out.failed)
	s.Errors = append(s.Errors, out.errors...)
	m.refreshRates()
	seq, snapshot := m.snapshot()
	m.mu.Unlock()

	m.subs.publish(seq, snapshot)
}

func (m *Manager[T]) finish() Status {
	m.mu.Lock()
	s := &m.status
	m.refreshRates()
	s.ETA = nil
	s.IsComplete = true
	s.IsPaused = false
	s.IsCancelled = m.cancelled
	m.paused = false
	m.state = stateDone
	seq, snapshot := m.snapshot()
	m.mu.Unlock()

	m.subs.publish(seq, snapshot)
	return snapshot
}

// snapshot numbers and copies the current status. The caller holds m.mu.
func (m *Manager[T]) snapshot() (uint64, Status) {
	m.seq++
	return m.seq, m.status.clone()
}

// refreshRates recomputes progress, speed and ETA. The caller holds m.mu.
func (m *Manager[T]) refreshRates() {
	s := &m.status
	s.Elapsed = m.now().Sub(s.StartedAt)
	if s.Total > 0 {
		s.Progress = math.Round(float64(s.Processed)/float64(s.Total)*10000) / 100
	}
	s.Speed = 0
	s.ETA = nil
	if s.Elapsed > 0 {
		s.Speed = float64(s.Processed) / s.Elapsed.Seconds()
	}
	if s.Elapsed >= time.Second && s.Speed > 0 {
		remaining := s.Total - s.Processed
		eta := time.Duration(float64(remaining) / s.Speed * float64(time.Second))
		s.ETA = &eta
	}
}

func (m *Manager[T]) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager[T]) drainWake() {
	select {
	case <-m.wake:
	default:
	}
}
