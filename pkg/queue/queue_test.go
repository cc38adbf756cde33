package queue

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"testing"
	"time"

	"github.com/dgutierrez-ams/orderflow-backend/pkg/config"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/enums"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/logger"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/redis"
)

type scoredMember struct {
	score  float64
	member string
}

type fakeBroker struct {
	lists   map[string][]string
	delayed []scoredMember
	pushErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{lists: map[string][]string{}}
}

func (f *fakeBroker) LPush(_ context.Context, key string, values ...any) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	for _, value := range values {
		f.lists[key] = append([]string{value.(string)}, f.lists[key]...)
	}
	return nil
}

func (f *fakeBroker) RPop(_ context.Context, key string) (string, error) {
	list := f.lists[key]
	if len(list) == 0 {
		return "", redis.Nil
	}
	last := list[len(list)-1]
	f.lists[key] = list[:len(list)-1]
	return last, nil
}

func (f *fakeBroker) LMove(_ context.Context, source, destination string) (string, error) {
	list := f.lists[source]
	if len(list) == 0 {
		return "", redis.Nil
	}
	last := list[len(list)-1]
	f.lists[source] = list[:len(list)-1]
	f.lists[destination] = append([]string{last}, f.lists[destination]...)
	return last, nil
}

func (f *fakeBroker) LRem(_ context.Context, key string, _ int64, value any) (int64, error) {
	for i, entry := range f.lists[key] {
		if entry == value.(string) {
			f.lists[key] = append(f.lists[key][:i], f.lists[key][i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeBroker) LLen(_ context.Context, key string) (int64, error) {
	return int64(len(f.lists[key])), nil
}

func (f *fakeBroker) ZAdd(_ context.Context, _ string, score float64, member string) error {
	f.delayed = append(f.delayed, scoredMember{score: score, member: member})
	return nil
}

func (f *fakeBroker) ZRangeByScore(_ context.Context, _ string, max float64, count int64) ([]string, error) {
	var due []string
	for _, entry := range f.delayed {
		if entry.score <= max {
			due = append(due, entry.member)
		}
		if int64(len(due)) == count {
			break
		}
	}
	return due, nil
}

func (f *fakeBroker) ZRem(_ context.Context, _ string, members ...any) (int64, error) {
	var removed int64
	for _, member := range members {
		for i, entry := range f.delayed {
			if entry.member == member.(string) {
				f.delayed = append(f.delayed[:i], f.delayed[i+1:]...)
				removed++
				break
			}
		}
	}
	return removed, nil
}

func testQueue(t *testing.T, broker *fakeBroker) *Queue {
	t.Helper()
	cfg := config.QueueConfig{
		Workers:           4,
		PollInterval:      250 * time.Millisecond,
		BackoffBase:       2 * time.Second,
		BackoffMax:        2 * time.Minute,
		DefaultMaxRetries: 3,
		Consumer:          "worker-test",
	}
	logg := logger.New(logger.Options{ServiceName: "queue-test"})
	q, err := New(broker, cfg, logg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return q
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	q := testQueue(t, broker)
	ctx := context.Background()

	enqueued, err := q.Enqueue(ctx, enums.JobKindProcessOrder, enums.JobLaneHigh, map[string]string{"order_id": "abc"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if enqueued.MaxRetries != 3 {
		t.Fatalf("MaxRetries = %d, want 3", enqueued.MaxRetries)
	}

	job, err := q.Dequeue(ctx, enums.JobLaneHigh)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if job == nil {
		t.Fatal("expected a job")
	}
	if job.ID != enqueued.ID {
		t.Fatalf("dequeued job %s, want %s", job.ID, enqueued.ID)
	}

	var payload map[string]string
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if payload["order_id"] != "abc" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestDequeueEmptyLaneReturnsNil(t *testing.T) {
	t.Parallel()

	q := testQueue(t, newFakeBroker())

	job, err := q.Dequeue(context.Background(), enums.JobLaneLow)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil job, got %+v", job)
	}
}

func TestEnqueueRejectsDeadLane(t *testing.T) {
	t.Parallel()

	q := testQueue(t, newFakeBroker())

	if _, err := q.Enqueue(context.Background(), enums.JobKindProcessOrder, enums.JobLaneDead, nil); err == nil {
		t.Fatal("expected enqueue onto the dead lane to fail")
	}
}

func TestRetryLaterSchedulesWithBackoff(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	q := testQueue(t, broker)
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return base }
	ctx := context.Background()

	job := &Job{Kind: enums.JobKindShipOrder, Lane: enums.JobLaneDefault, MaxRetries: 3}

	dead, err := q.RetryLater(ctx, job, stdErrors.New("carrier timeout"))
	if err != nil {
		t.Fatalf("RetryLater() error = %v", err)
	}
	if dead {
		t.Fatal("first failure must not dead-letter")
	}
	if job.Attempt != 1 {
		t.Fatalf("Attempt = %d, want 1", job.Attempt)
	}
	if len(broker.delayed) != 1 {
		t.Fatalf("len(delayed) = %d, want 1", len(broker.delayed))
	}
	wantDue := float64(base.Add(2 * time.Second).UnixMilli())
	if broker.delayed[0].score != wantDue {
		t.Fatalf("due score = %f, want %f", broker.delayed[0].score, wantDue)
	}

	// Second failure doubles the delay.
	broker.delayed = nil
	if _, err := q.RetryLater(ctx, job, stdErrors.New("carrier timeout")); err != nil {
		t.Fatalf("RetryLater() error = %v", err)
	}
	wantDue = float64(base.Add(4 * time.Second).UnixMilli())
	if broker.delayed[0].score != wantDue {
		t.Fatalf("due score = %f, want %f", broker.delayed[0].score, wantDue)
	}
}

func TestRetryLaterDeadLettersAfterBudget(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	q := testQueue(t, broker)
	ctx := context.Background()

	job := &Job{Kind: enums.JobKindProcessOrder, Lane: enums.JobLaneHigh, Attempt: 3, MaxRetries: 3}

	dead, err := q.RetryLater(ctx, job, stdErrors.New("payment gateway down"))
	if err != nil {
		t.Fatalf("RetryLater() error = %v", err)
	}
	if !dead {
		t.Fatal("expected job to be dead-lettered")
	}
	if len(broker.delayed) != 0 {
		t.Fatal("dead-lettered job must not be rescheduled")
	}

	depth, err := q.Depth(ctx, enums.JobLaneDead)
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if depth != 1 {
		t.Fatalf("dead lane depth = %d, want 1", depth)
	}

	parked, err := q.Dequeue(ctx, enums.JobLaneDead)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if parked.LastError != "payment gateway down" {
		t.Fatalf("LastError = %q", parked.LastError)
	}
	if parked.Lane != enums.JobLaneDead {
		t.Fatalf("Lane = %s, want dead", parked.Lane)
	}
}

func TestDequeuedJobSurvivesWorkerCrash(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	q := testQueue(t, broker)
	ctx := context.Background()

	enqueued, err := q.Enqueue(ctx, enums.JobKindProcessOrder, enums.JobLaneHigh, map[string]string{"order_id": "abc"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := q.Dequeue(ctx, enums.JobLaneHigh); err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}

	// The lane is drained but the claim still holds the job.
	depth, err := q.Depth(ctx, enums.JobLaneHigh)
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if depth != 0 {
		t.Fatalf("lane depth = %d, want 0", depth)
	}

	// A replacement worker with the same consumer name reaps the orphan.
	restarted := testQueue(t, broker)
	recovered, err := restarted.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if recovered != 1 {
		t.Fatalf("recovered = %d, want 1", recovered)
	}

	redelivered, err := restarted.Dequeue(ctx, enums.JobLaneHigh)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if redelivered == nil || redelivered.ID != enqueued.ID {
		t.Fatalf("expected job %s back on the lane, got %+v", enqueued.ID, redelivered)
	}
}

func TestAckReleasesClaim(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	q := testQueue(t, broker)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, enums.JobKindShipOrder, enums.JobLaneDefault, nil); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	job, err := q.Dequeue(ctx, enums.JobLaneDefault)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if err := q.Ack(ctx, job); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}

	recovered, err := q.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if recovered != 0 {
		t.Fatalf("recovered = %d, want 0 after ack", recovered)
	}
}

func TestRetryLaterReleasesClaim(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	q := testQueue(t, broker)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, enums.JobKindShipOrder, enums.JobLaneDefault, nil); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	job, err := q.Dequeue(ctx, enums.JobLaneDefault)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}

	if _, err := q.RetryLater(ctx, job, stdErrors.New("carrier timeout")); err != nil {
		t.Fatalf("RetryLater() error = %v", err)
	}
	if len(broker.delayed) != 1 {
		t.Fatalf("len(delayed) = %d, want 1", len(broker.delayed))
	}

	// Only the delayed copy remains; the claim must not resurrect a duplicate.
	recovered, err := q.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if recovered != 0 {
		t.Fatalf("recovered = %d, want 0 after reschedule", recovered)
	}
}

func TestPromoteDueMovesOnlyElapsedJobs(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	q := testQueue(t, broker)
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return base }
	ctx := context.Background()

	due := &Job{Kind: enums.JobKindShipOrder, Lane: enums.JobLaneDefault, MaxRetries: 3}
	notDue := &Job{Kind: enums.JobKindReorderCheck, Lane: enums.JobLaneLow, MaxRetries: 3}

	if _, err := q.RetryLater(ctx, due, nil); err != nil {
		t.Fatalf("RetryLater() error = %v", err)
	}
	if _, err := q.RetryLater(ctx, notDue, nil); err != nil {
		t.Fatalf("RetryLater() error = %v", err)
	}

	// Advance past the first backoff but not the queue's poll horizon for both.
	q.now = func() time.Time { return base.Add(3 * time.Second) }
	broker.delayed[1].score = float64(base.Add(time.Hour).UnixMilli())

	promoted, err := q.PromoteDue(ctx, 10)
	if err != nil {
		t.Fatalf("PromoteDue() error = %v", err)
	}
	if promoted != 1 {
		t.Fatalf("promoted = %d, want 1", promoted)
	}

	job, err := q.Dequeue(ctx, enums.JobLaneDefault)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if job == nil || job.Kind != enums.JobKindShipOrder {
		t.Fatalf("expected ship_order on default lane, got %+v", job)
	}
	if len(broker.delayed) != 1 {
		t.Fatalf("len(delayed) = %d, want 1", len(broker.delayed))
	}
}
