package batchimport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	id   string
	kind string
}

func (i testItem) ItemID() string   { return i.id }
func (i testItem) ItemKind() string { return i.kind }

func makeItems(n int) []testItem {
	items := make([]testItem, n)
	for i := range items {
		items[i] = testItem{id: fmt.Sprintf("department-%d", i+2), kind: "department"}
	}
	return items
}

func fastOptions() Options {
	return Options{
		RetryDelay:          time.Millisecond,
		DelayBetweenBatches: -1,
		PausePollInterval:   time.Millisecond,
	}
}

func newTestManager(t *testing.T, opts Options) *Manager[testItem] {
	t.Helper()
	m, err := NewManager[testItem](opts)
	require.NoError(t, err)
	return m
}

// recorder is a Processor that tracks calls and decides per item with a callback.
type recorder struct {
	mu       sync.Mutex
	calls    [][]testItem
	attempts map[string]int
	decide   func(it testItem, attempt int) error
	hook     func(call int)
}

func newRecorder(decide func(it testItem, attempt int) error) *recorder {
	return &recorder{attempts: map[string]int{}, decide: decide}
}

func (r *recorder) Process(_ context.Context, items []testItem) (Outcome[testItem], error) {
	r.mu.Lock()
	r.calls = append(r.calls, items)
	call := len(r.calls)
	var out Outcome[testItem]
	for _, it := range items {
		r.attempts[it.id]++
		var err error
		if r.decide != nil {
			err = r.decide(it, r.attempts[it.id])
		}
		if err != nil {
			out.Failed = append(out.Failed, FailedItem[testItem]{Item: it, Err: err})
			continue
		}
		out.Succeeded = append(out.Succeeded, it)
	}
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return out, nil
}

func (r *recorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func errorsFor(errs []ImportError, id string) []ImportError {
	var out []ImportError
	for _, e := range errs {
		if e.ItemID == id {
			out = append(out, e)
		}
	}
	return out
}

func TestManager_AllSucceed(t *testing.T) {
	m := newTestManager(t, fastOptions())
	rec := newRecorder(nil)
	require.NoError(t, m.Initialize(makeItems(23), rec))
	require.Equal(t, 10, m.BatchSize())
	require.Equal(t, 3, m.Status().TotalBatches)

	res, err := m.Start(context.Background())
	require.NoError(t, err)
	require.True(t, res.Success)
	require.False(t, res.Cancelled)
	require.Len(t, res.Succeeded, 23)
	require.Empty(t, res.Failed)
	require.Empty(t, res.Errors)
	require.Equal(t, 3, rec.callCount())

	st := m.Status()
	require.True(t, st.IsComplete)
	require.Equal(t, 23, st.Processed)
	require.Equal(t, st.Total, st.Succeeded+st.Failed)
	require.Equal(t, float64(100), st.Progress)
	require.Equal(t, 3, st.CurrentBatch)
	require.Nil(t, st.ETA)
}

func TestManager_ExplicitBatchSize(t *testing.T) {
	opts := fastOptions()
	opts.BatchSize = 3
	m := newTestManager(t, opts)
	rec := newRecorder(nil)
	require.NoError(t, m.Initialize(makeItems(7), rec))

	_, err := m.Start(context.Background())
	require.NoError(t, err)

	var sizes []int
	for _, c := range rec.calls {
		sizes = append(sizes, len(c))
	}
	require.Equal(t, []int{3, 3, 1}, sizes)
}

func TestManager_RetriesFlakyItems(t *testing.T) {
	m := newTestManager(t, fastOptions())
	rec := newRecorder(func(it testItem, attempt int) error {
		if (it.id == "department-3" || it.id == "department-5") && attempt == 1 {
			return errors.New("deadlock detected")
		}
		return nil
	})
	require.NoError(t, m.Initialize(makeItems(6), rec))

	res, err := m.Start(context.Background())
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, res.Succeeded, 6)
	require.Len(t, res.Errors, 2)
	for _, e := range res.Errors {
		require.Equal(t, 1, e.Attempt)
		require.Equal(t, "deadlock detected", e.Message)
		require.Equal(t, "department", e.ItemType)
	}
	require.Equal(t, 2, rec.callCount())
	require.Len(t, rec.calls[1], 2)
	require.Equal(t, 6, m.Status().Succeeded)
}

func TestManager_RetryBound(t *testing.T) {
	opts := fastOptions()
	opts.RetryAttempts = 2
	m := newTestManager(t, opts)
	rec := newRecorder(func(it testItem, attempt int) error {
		if it.id == "department-2" {
			return fmt.Errorf("constraint violation (attempt %d)", attempt)
		}
		return nil
	})
	require.NoError(t, m.Initialize(makeItems(4), rec))

	res, err := m.Start(context.Background())
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Len(t, res.Failed, 1)
	require.Len(t, res.Succeeded, 3)

	errs := errorsFor(res.Errors, "department-2")
	require.Len(t, errs, opts.RetryAttempts+1)
	for i, e := range errs {
		require.Equal(t, i+1, e.Attempt)
		require.Contains(t, e.Message, fmt.Sprintf("attempt %d", i+1))
	}

	st := m.Status()
	require.Equal(t, st.Total, st.Succeeded+st.Failed)
	require.Equal(t, 1, st.Failed)
	require.Len(t, st.Errors, 3)
}

func TestManager_NoRetries(t *testing.T) {
	opts := fastOptions()
	opts.RetryAttempts = -1
	m := newTestManager(t, opts)
	rec := newRecorder(func(testItem, int) error { return errors.New("nope") })
	require.NoError(t, m.Initialize(makeItems(2), rec))

	res, err := m.Start(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Errors, 2)
	require.Equal(t, 1, rec.callCount())
}

func TestManager_ProcessorErrorFailsBatchAndContinues(t *testing.T) {
	opts := fastOptions()
	opts.BatchSize = 2
	m := newTestManager(t, opts)

	var calls int
	var mu sync.Mutex
	proc := ProcessorFunc[testItem](func(_ context.Context, items []testItem) (Outcome[testItem], error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return Outcome[testItem]{}, errors.New("connection reset by peer")
		}
		return Outcome[testItem]{Succeeded: items}, nil
	})
	require.NoError(t, m.Initialize(makeItems(4), proc))

	res, err := m.Start(context.Background())
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, 2, calls, "thrown batch is not retried")
	require.Equal(t, []testItem{{id: "department-2", kind: "department"}, {id: "department-3", kind: "department"}}, res.Failed)
	require.Len(t, res.Succeeded, 2)
	require.Len(t, res.Errors, 2)
	for _, e := range res.Errors {
		require.Equal(t, "connection reset by peer", e.Message)
		require.Equal(t, 1, e.Attempt)
	}
	require.Equal(t, 4, m.Status().Processed)
}

func TestManager_ProcessorPanicIsContained(t *testing.T) {
	m := newTestManager(t, fastOptions())
	proc := ProcessorFunc[testItem](func(context.Context, []testItem) (Outcome[testItem], error) {
		panic("boom")
	})
	require.NoError(t, m.Initialize(makeItems(3), proc))

	res, err := m.Start(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Failed, 3)
	require.Contains(t, res.Errors[0].Message, "boom")
}

func TestManager_UnreportedItemsFail(t *testing.T) {
	opts := fastOptions()
	opts.RetryAttempts = 1
	m := newTestManager(t, opts)
	proc := ProcessorFunc[testItem](func(_ context.Context, items []testItem) (Outcome[testItem], error) {
		return Outcome[testItem]{Succeeded: items[:1]}, nil
	})
	require.NoError(t, m.Initialize(makeItems(3), proc))

	res, err := m.Start(context.Background())
	require.NoError(t, err)
	// attempt 1: item 2 ok; attempt 2: item 3 ok, item 4 unreported again
	require.Len(t, res.Succeeded, 2)
	require.Len(t, res.Failed, 1)
	errs := errorsFor(res.Errors, "department-4")
	require.Len(t, errs, 2)
	require.Equal(t, errNotReported.Error(), errs[0].Message)
}

func TestManager_PauseResume(t *testing.T) {
	opts := fastOptions()
	opts.BatchSize = 2
	m := newTestManager(t, opts)

	paused := make(chan struct{})
	rec := newRecorder(nil)
	rec.hook = func(call int) {
		if call == 1 {
			m.Pause()
			close(paused)
		}
	}
	require.NoError(t, m.Initialize(makeItems(6), rec))

	done := make(chan *Result[testItem])
	go func() {
		res, err := m.Start(context.Background())
		assert.NoError(t, err)
		done <- res
	}()

	<-paused
	require.Eventually(t, func() bool { return m.Status().Processed == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	st := m.Status()
	require.True(t, st.IsPaused)
	require.False(t, st.IsComplete)
	require.Equal(t, 1, rec.callCount(), "no batch starts while paused")

	m.Resume()
	select {
	case res := <-done:
		require.True(t, res.Success)
		require.Len(t, res.Succeeded, 6)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after resume")
	}
	require.False(t, m.Status().IsPaused)
}

func TestManager_CancelStopsAtBatchBoundary(t *testing.T) {
	opts := fastOptions()
	opts.BatchSize = 2
	m := newTestManager(t, opts)

	rec := newRecorder(nil)
	rec.hook = func(call int) {
		if call == 2 {
			m.Cancel()
		}
	}
	require.NoError(t, m.Initialize(makeItems(10), rec))

	res, err := m.Start(context.Background())
	require.NoError(t, err)
	require.True(t, res.Cancelled)
	require.False(t, res.Success)
	require.Equal(t, 4, res.Processed, "in-flight batch finishes")
	require.Equal(t, 2, rec.callCount())

	st := m.Status()
	require.True(t, st.IsComplete)
	require.True(t, st.IsCancelled)
	require.LessOrEqual(t, st.Processed, st.Total)
}

func TestManager_CancelWhilePaused(t *testing.T) {
	opts := fastOptions()
	opts.BatchSize = 1
	opts.PausePollInterval = time.Hour
	m := newTestManager(t, opts)

	rec := newRecorder(nil)
	rec.hook = func(call int) {
		if call == 1 {
			m.Pause()
			go func() {
				time.Sleep(10 * time.Millisecond)
				m.Cancel()
			}()
		}
	}
	require.NoError(t, m.Initialize(makeItems(3), rec))

	res, err := m.Start(context.Background())
	require.NoError(t, err)
	require.True(t, res.Cancelled)
	require.Equal(t, 1, res.Processed)
}

func TestManager_ContextCancellation(t *testing.T) {
	opts := fastOptions()
	opts.BatchSize = 1
	opts.DelayBetweenBatches = time.Hour
	m := newTestManager(t, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := newRecorder(nil)
	rec.hook = func(int) { cancel() }
	require.NoError(t, m.Initialize(makeItems(3), rec))

	res, err := m.Start(ctx)
	require.NoError(t, err)
	require.True(t, res.Cancelled)
	require.Equal(t, 1, res.Processed)
}

func TestManager_Misuse(t *testing.T) {
	m := newTestManager(t, fastOptions())

	_, err := m.Start(context.Background())
	require.ErrorIs(t, err, ErrNotInitialized)
	require.ErrorIs(t, m.Initialize(nil, newRecorder(nil)), ErrNoItems)
	require.ErrorIs(t, m.Initialize(makeItems(1), nil), ErrNilProcessor)

	var inner error
	var startErr error
	rec := newRecorder(nil)
	rec.hook = func(int) {
		inner = m.Initialize(makeItems(1), newRecorder(nil))
		_, startErr = m.Start(context.Background())
	}
	require.NoError(t, m.Initialize(makeItems(2), rec))
	_, err = m.Start(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, inner, ErrAlreadyRunning)
	require.ErrorIs(t, startErr, ErrAlreadyRunning)

	_, err = m.Start(context.Background())
	require.ErrorIs(t, err, ErrAlreadyStarted)

	require.NoError(t, m.Initialize(makeItems(1), newRecorder(nil)))
	res, err := m.Start(context.Background())
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 1, m.Status().Total)
}

func TestManager_InitializeCopiesItems(t *testing.T) {
	m := newTestManager(t, fastOptions())
	items := makeItems(2)
	rec := newRecorder(nil)
	require.NoError(t, m.Initialize(items, rec))
	items[0].id = "mutated"

	res, err := m.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, "department-2", res.Succeeded[0].id)
}

func TestManager_SubscribeSnapshots(t *testing.T) {
	opts := fastOptions()
	opts.BatchSize = 2
	opts.RetryAttempts = -1
	m := newTestManager(t, opts)
	rec := newRecorder(func(it testItem, _ int) error {
		if it.id == "department-2" {
			return errors.New("bad row")
		}
		return nil
	})
	require.NoError(t, m.Initialize(makeItems(5), rec))

	var got []Status
	unsubscribe := m.Subscribe(func(s Status) {
		got = append(got, s)
		s.Errors = append(s.Errors[:0], ImportError{ItemID: "tampered"})
	})
	require.Len(t, got, 1, "current status is delivered on subscribe")
	require.Equal(t, 5, got[0].Total)
	require.Zero(t, got[0].Processed)

	m.Subscribe(func(Status) { panic("listener bug") })

	_, err := m.Start(context.Background())
	require.NoError(t, err)

	last := got[len(got)-1]
	require.True(t, last.IsComplete)
	for i := 1; i < len(got); i++ {
		require.GreaterOrEqual(t, got[i].Processed, got[i-1].Processed)
		require.GreaterOrEqual(t, got[i].Succeeded, got[i-1].Succeeded)
		require.GreaterOrEqual(t, got[i].Failed, got[i-1].Failed)
	}
	st := m.Status()
	require.Len(t, st.Errors, 1)
	require.Equal(t, "department-2", st.Errors[0].ItemID)

	unsubscribe()
	unsubscribe()
	n := len(got)
	require.NoError(t, m.Initialize(makeItems(1), newRecorder(nil)))
	require.Len(t, got, n)
}

func TestManager_ETAUnavailableBeforeOneSecond(t *testing.T) {
	m := newTestManager(t, fastOptions())
	require.NoError(t, m.Initialize(makeItems(30), newRecorder(nil)))

	var etas []*time.Duration
	m.Subscribe(func(s Status) { etas = append(etas, s.ETA) })
	_, err := m.Start(context.Background())
	require.NoError(t, err)
	for _, eta := range etas {
		require.Nil(t, eta)
	}
}

func TestManager_ETAFromSpeed(t *testing.T) {
	m := newTestManager(t, fastOptions())
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	m.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * 2 * time.Second)
	}
	require.NoError(t, m.Initialize(makeItems(30), newRecorder(nil)))

	var first *Status
	m.Subscribe(func(s Status) {
		if first == nil && s.Processed > 0 {
			first = &s
		}
	})
	_, err := m.Start(context.Background())
	require.NoError(t, err)

	require.NotNil(t, first)
	require.Equal(t, 10, first.Processed)
	require.InDelta(t, 5.0, first.Speed, 0.001)
	require.NotNil(t, first.ETA)
	require.Equal(t, 4*time.Second, *first.ETA)
	require.InDelta(t, 33.33, first.Progress, 0.01)
}

func TestNewManager_InvalidOptions(t *testing.T) {
	_, err := NewManager[testItem](Options{Backoff: "linear"})
	require.ErrorIs(t, err, ErrInvalidOptions)

	_, err = NewManager[testItem](Options{BatchSize: -1})
	require.ErrorIs(t, err, ErrInvalidOptions)

	_, err = NewManager[testItem](Options{RetryAttempts: -2})
	require.ErrorIs(t, err, ErrInvalidOptions)

	m, err := NewManager[testItem](Options{})
	require.NoError(t, err)
	require.Equal(t, 3, m.opts.RetryAttempts)
	require.Equal(t, time.Second, m.opts.RetryDelay)
	require.Equal(t, 100*time.Millisecond, m.opts.DelayBetweenBatches)
	require.Equal(t, BackoffFixed, m.opts.Backoff)
}
