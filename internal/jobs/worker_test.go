package jobs

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/dgutierrez-ams/orderflow-backend/internal/orders"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/config"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/enums"
	pkgerrors "github.com/dgutierrez-ams/orderflow-backend/pkg/errors"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/queue"
)

type fakeJobQueue struct {
	lanes     map[enums.JobLane][]*queue.Job
	claimed   []*queue.Job
	acked     []*queue.Job
	retried   []*queue.Job
	dead      []*queue.Job
	recovered int
	retryDead bool
}

func newFakeJobQueue() *fakeJobQueue {
	return &fakeJobQueue{lanes: map[enums.JobLane][]*queue.Job{}}
}

func (f *fakeJobQueue) Dequeue(_ context.Context, lane enums.JobLane) (*queue.Job, error) {
	jobs := f.lanes[lane]
	if len(jobs) == 0 {
		return nil, nil
	}
	job := jobs[0]
	f.lanes[lane] = jobs[1:]
	f.claimed = append(f.claimed, job)
	return job, nil
}

func (f *fakeJobQueue) Ack(_ context.Context, job *queue.Job) error {
	f.acked = append(f.acked, job)
	return nil
}

func (f *fakeJobQueue) Recover(_ context.Context) (int, error) {
	return f.recovered, nil
}

func (f *fakeJobQueue) RetryLater(_ context.Context, job *queue.Job, cause error) (bool, error) {
	job.Attempt++
	if cause != nil {
		job.LastError = cause.Error()
	}
	if f.retryDead {
		f.dead = append(f.dead, job)
		return true, nil
	}
	f.retried = append(f.retried, job)
	return false, nil
}

func (f *fakeJobQueue) DeadLetter(_ context.Context, job *queue.Job) error {
	f.dead = append(f.dead, job)
	return nil
}

func (f *fakeJobQueue) PromoteDue(context.Context, int64) (int, error) { return 0, nil }

func (f *fakeJobQueue) Depth(_ context.Context, lane enums.JobLane) (int64, error) {
	return int64(len(f.lanes[lane])), nil
}

type stubCanceller struct {
	cancelled []uuid.UUID
}

func (s *stubCanceller) Cancel(_ context.Context, input orders.CancelInput) error {
	s.cancelled = append(s.cancelled, input.OrderID)
	return nil
}

type scriptedHandler struct {
	kind enums.JobKind
	errs []error
	runs int
}

func (h *scriptedHandler) Kind() enums.JobKind { return h.kind }

func (h *scriptedHandler) Handle(context.Context, *queue.Job) error {
	var err error
	if h.runs < len(h.errs) {
		err = h.errs[h.runs]
	}
	h.runs++
	return err
}

func newTestPool(t *testing.T, q jobQueue, handlers ...Handler) (*Pool, *stubCanceller) {
	t.Helper()
	registry := NewRegistry()
	for _, handler := range handlers {
		if err := registry.Register(handler); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	canceller := &stubCanceller{}
	pool, err := NewPool(PoolParams{
		Queue:    q,
		Registry: registry,
		Orders:   canceller,
		Logger:   testLogger(),
		Config:   config.QueueConfig{Workers: 1, PollInterval: 1},
	})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	return pool, canceller
}

func TestLaneCycleWeights(t *testing.T) {
	t.Parallel()

	counts := map[enums.JobLane]int{}
	for _, lane := range laneCycle {
		counts[lane]++
	}
	if counts[enums.JobLaneHigh] != 8 || counts[enums.JobLaneDefault] != 3 || counts[enums.JobLaneLow] != 1 {
		t.Fatalf("unexpected lane weights: %v", counts)
	}
}

func TestRunOneExecutesSuccessfulJob(t *testing.T) {
	t.Parallel()

	q := newFakeJobQueue()
	handler := &scriptedHandler{kind: enums.JobKindReorderCheck}
	q.lanes[enums.JobLaneLow] = []*queue.Job{{
		ID: uuid.New(), Kind: enums.JobKindReorderCheck, Lane: enums.JobLaneLow, Payload: []byte(`{}`),
	}}
	pool, _ := newTestPool(t, q, handler)

	if !pool.runOne(context.Background()) {
		t.Fatal("expected the low lane job to be claimed")
	}
	if handler.runs != 1 {
		t.Fatalf("handler ran %d times, want 1", handler.runs)
	}
	if len(q.retried) != 0 || len(q.dead) != 0 {
		t.Fatal("successful job must not be rescheduled")
	}
	if len(q.acked) != 1 {
		t.Fatalf("acked = %d, want the completed job acked", len(q.acked))
	}
}

func TestFailedJobIsNotAcked(t *testing.T) {
	t.Parallel()

	q := newFakeJobQueue()
	handler := &scriptedHandler{
		kind: enums.JobKindShipOrder,
		errs: []error{pkgerrors.New(pkgerrors.CodeUnavailable, "redis flaked")},
	}
	job := orderJob(t, enums.JobKindShipOrder, uuid.New())
	pool, _ := newTestPool(t, q, handler)

	pool.execute(context.Background(), job)

	// The claim transfers to the retry schedule, not to an ack.
	if len(q.acked) != 0 {
		t.Fatalf("acked = %d, want 0 for a failed job", len(q.acked))
	}
	if len(q.retried) != 1 {
		t.Fatalf("retried = %d, want 1", len(q.retried))
	}
}

func TestRunOneReportsIdleLanes(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(t, newFakeJobQueue())
	if pool.runOne(context.Background()) {
		t.Fatal("empty lanes must report no work")
	}
}

func TestRetryableFailureIsRescheduled(t *testing.T) {
	t.Parallel()

	q := newFakeJobQueue()
	handler := &scriptedHandler{
		kind: enums.JobKindShipOrder,
		errs: []error{pkgerrors.New(pkgerrors.CodeUnavailable, "redis flaked")},
	}
	job := orderJob(t, enums.JobKindShipOrder, uuid.New())
	pool, canceller := newTestPool(t, q, handler)

	pool.execute(context.Background(), job)

	if len(q.retried) != 1 {
		t.Fatalf("retried = %d, want 1", len(q.retried))
	}
	if q.retried[0].Attempt != 1 {
		t.Fatalf("Attempt = %d, want 1", q.retried[0].Attempt)
	}
	if len(canceller.cancelled) != 0 {
		t.Fatal("a retried job must not trigger compensation")
	}
}

func TestNonRetryableFailureDeadLettersImmediately(t *testing.T) {
	t.Parallel()

	q := newFakeJobQueue()
	handler := &scriptedHandler{
		kind: enums.JobKindNotifyOrder,
		errs: []error{pkgerrors.New(pkgerrors.CodeValidation, "bad payload")},
	}
	job := orderJob(t, enums.JobKindNotifyOrder, uuid.New())
	pool, _ := newTestPool(t, q, handler)

	pool.execute(context.Background(), job)

	if len(q.retried) != 0 {
		t.Fatal("non-retryable failure must skip the retry schedule")
	}
	if len(q.dead) != 1 {
		t.Fatalf("dead = %d, want 1", len(q.dead))
	}
	if q.dead[0].LastError == "" {
		t.Fatal("dead letter must carry the last error")
	}
}

func TestExhaustedProcessOrderCancelsTheOrder(t *testing.T) {
	t.Parallel()

	q := newFakeJobQueue()
	q.retryDead = true
	handler := &scriptedHandler{
		kind: enums.JobKindProcessOrder,
		errs: []error{pkgerrors.New(pkgerrors.CodeUnavailable, "provider down")},
	}
	orderID := uuid.New()
	job := orderJob(t, enums.JobKindProcessOrder, orderID)
	job.MaxRetries = 0
	pool, canceller := newTestPool(t, q, handler)

	pool.execute(context.Background(), job)

	if len(q.dead) != 1 {
		t.Fatalf("dead = %d, want 1", len(q.dead))
	}
	if len(canceller.cancelled) != 1 || canceller.cancelled[0] != orderID {
		t.Fatalf("expected order %s to be cancelled, got %v", orderID, canceller.cancelled)
	}
}

func TestUnregisteredKindIsDeadLettered(t *testing.T) {
	t.Parallel()

	q := newFakeJobQueue()
	job := orderJob(t, enums.JobKindShipOrder, uuid.New())
	pool, _ := newTestPool(t, q)

	pool.execute(context.Background(), job)

	if len(q.dead) != 1 {
		t.Fatalf("dead = %d, want 1", len(q.dead))
	}
}
