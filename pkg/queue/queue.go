package queue

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/dgutierrez-ams/orderflow-backend/pkg/config"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/enums"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/errors"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/logger"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/redis"
)

// broker is the slice of the redis client the queue needs.
type broker interface {
	LPush(ctx context.Context, key string, values ...any) error
	RPop(ctx context.Context, key string) (string, error)
	LMove(ctx context.Context, source, destination string) (string, error)
	LRem(ctx context.Context, key string, count int64, value any) (int64, error)
	LLen(ctx context.Context, key string) (int64, error)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRangeByScore(ctx context.Context, key string, max float64, count int64) ([]string, error)
	ZRem(ctx context.Context, key string, members ...any) (int64, error)
}

// Job is the wire envelope pushed through the lanes. Payload stays opaque to
// the queue; handlers decode it by Kind.
type Job struct {
	ID         uuid.UUID       `json:"id"`
	Kind       enums.JobKind   `json:"kind"`
	Lane       enums.JobLane   `json:"lane"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	MaxRetries int             `json:"max_retries"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`

	// claim tracking for at-least-once delivery; set on Dequeue, cleared
	// when the job is acked, rescheduled, or dead-lettered.
	claimRef  string
	claimLane enums.JobLane
}

// Queue is a lane-partitioned job queue backed by Redis lists. Dequeue moves
// jobs into a per-consumer processing list so a crashed worker's in-flight
// jobs survive and are pushed back onto their lanes by Recover. Delayed
// retries park in a sorted set scored by their due time until a worker
// promotes them back onto their lane.
type Queue struct {
	broker   broker
	cfg      config.QueueConfig
	logg     *logger.Logger
	consumer string
	now      func() time.Time
}

func New(broker broker, cfg config.QueueConfig, logg *logger.Logger) (*Queue, error) {
	if broker == nil {
		return nil, errors.New(errors.CodeInternal, "queue requires a redis client")
	}
	if logg == nil {
		return nil, errors.New(errors.CodeInternal, "queue requires a logger")
	}
	consumer := cfg.Consumer
	if consumer == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			consumer = host
		} else {
			consumer = uuid.NewString()
		}
	}
	return &Queue{broker: broker, cfg: cfg, logg: logg, consumer: consumer, now: time.Now}, nil
}

func laneKey(lane enums.JobLane) string {
	return redis.BuildKey("queue", lane.String())
}

func delayedKey() string {
	return redis.BuildKey("queue", "delayed")
}

func (q *Queue) processingKey(lane enums.JobLane) string {
	return redis.BuildKey("queue", "processing", q.consumer, lane.String())
}

// Enqueue wraps the payload in a fresh envelope and pushes it onto the lane
// with the configured default retry budget.
func (q *Queue) Enqueue(ctx context.Context, kind enums.JobKind, lane enums.JobLane, payload any) (*Job, error) {
	return q.EnqueueWithRetries(ctx, kind, lane, payload, q.cfg.DefaultMaxRetries)
}

// EnqueueWithRetries is Enqueue with an explicit retry budget for the job.
func (q *Queue) EnqueueWithRetries(ctx context.Context, kind enums.JobKind, lane enums.JobLane, payload any, maxRetries int) (*Job, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if !kind.IsValid() {
		return nil, errors.New(errors.CodeValidation, "unknown job kind").WithDetails(map[string]any{"kind": kind})
	}
	if !lane.IsValid() || lane == enums.JobLaneDead {
		return nil, errors.New(errors.CodeValidation, "jobs cannot be enqueued onto this lane").WithDetails(map[string]any{"lane": lane})
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "encoding job payload")
	}
	job := &Job{
		ID:         uuid.New(),
		Kind:       kind,
		Lane:       lane,
		Payload:    raw,
		Attempt:    0,
		MaxRetries: maxRetries,
		EnqueuedAt: q.now().UTC(),
	}
	if err := q.push(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Dequeue claims the next job from the lane by moving it into this consumer's
// processing list. The claim is released by Ack, RetryLater, or DeadLetter; a
// claim orphaned by a crash is re-delivered by Recover. Returns nil without
// error when the lane is empty.
func (q *Queue) Dequeue(ctx context.Context, lane enums.JobLane) (*Job, error) {
	raw, err := q.broker.LMove(ctx, laneKey(lane), q.processingKey(lane))
	if err != nil {
		if stdErrors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.CodeUnavailable, err, "dequeuing job")
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// An undecodable envelope can never be handled; drop the claim so
		// Recover does not redeliver it forever.
		_, _ = q.broker.LRem(ctx, q.processingKey(lane), 1, raw)
		return nil, errors.Wrap(errors.CodeInternal, err, "decoding job envelope")
	}
	job.claimRef = raw
	job.claimLane = lane
	return &job, nil
}

// Ack releases the processing-list claim after the job completed. Jobs that
// were never claimed (constructed directly) ack as a no-op.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	if job == nil || job.claimRef == "" {
		return nil
	}
	if _, err := q.broker.LRem(ctx, q.processingKey(job.claimLane), 1, job.claimRef); err != nil {
		return errors.Wrap(errors.CodeUnavailable, err, "acking job")
	}
	job.claimRef = ""
	return nil
}

// Recover pushes every job left in this consumer's processing lists back onto
// its lane. Called once at worker startup; anything found was claimed by a
// previous run that died mid-job, so redelivery keeps the at-least-once
// guarantee (handlers tolerate duplicates).
func (q *Queue) Recover(ctx context.Context) (int, error) {
	lanes := []enums.JobLane{enums.JobLaneHigh, enums.JobLaneDefault, enums.JobLaneLow, enums.JobLaneDead}
	recovered := 0
	for _, lane := range lanes {
		for {
			_, err := q.broker.LMove(ctx, q.processingKey(lane), laneKey(lane))
			if err != nil {
				if stdErrors.Is(err, redis.Nil) {
					break
				}
				return recovered, errors.Wrap(errors.CodeUnavailable, err, "recovering claimed jobs")
			}
			recovered++
		}
	}
	return recovered, nil
}

// RetryLater reschedules a failed job with exponential backoff, or routes it
// to the dead lane once its retry budget is spent. Reports whether the job
// was dead-lettered.
func (q *Queue) RetryLater(ctx context.Context, job *Job, cause error) (bool, error) {
	job.Attempt++
	if cause != nil {
		job.LastError = cause.Error()
	}
	if job.Attempt > job.MaxRetries {
		if err := q.DeadLetter(ctx, job); err != nil {
			return false, err
		}
		return true, nil
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return false, errors.Wrap(errors.CodeInternal, err, "encoding job envelope")
	}
	due := q.now().Add(q.backoff(job.Attempt))
	if err := q.broker.ZAdd(ctx, delayedKey(), float64(due.UnixMilli()), string(raw)); err != nil {
		return false, errors.Wrap(errors.CodeUnavailable, err, "scheduling job retry")
	}
	// The retry copy is safely parked; release the original claim.
	if err := q.Ack(ctx, job); err != nil {
		return false, err
	}
	return false, nil
}

// DeadLetter parks the job on the dead lane for operator inspection.
func (q *Queue) DeadLetter(ctx context.Context, job *Job) error {
	job.Lane = enums.JobLaneDead
	raw, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "encoding job envelope")
	}
	if err := q.broker.LPush(ctx, laneKey(enums.JobLaneDead), string(raw)); err != nil {
		return errors.Wrap(errors.CodeUnavailable, err, "dead-lettering job")
	}
	return q.Ack(ctx, job)
}

// PromoteDue moves jobs whose retry timer has elapsed back onto their lanes.
// ZRem acts as the claim so concurrent workers never promote the same member
// twice. Returns the number of jobs promoted.
func (q *Queue) PromoteDue(ctx context.Context, limit int64) (int, error) {
	members, err := q.broker.ZRangeByScore(ctx, delayedKey(), float64(q.now().UnixMilli()), limit)
	if err != nil {
		return 0, errors.Wrap(errors.CodeUnavailable, err, "listing due jobs")
	}

	promoted := 0
	for _, member := range members {
		removed, err := q.broker.ZRem(ctx, delayedKey(), member)
		if err != nil {
			return promoted, errors.Wrap(errors.CodeUnavailable, err, "claiming due job")
		}
		if removed == 0 {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			q.logg.Warn(q.logg.WithField(ctx, "error", err.Error()), "dropping undecodable delayed job")
			continue
		}
		if err := q.broker.LPush(ctx, laneKey(job.Lane), member); err != nil {
			// Park it back so the job is not lost.
			_ = q.broker.ZAdd(ctx, delayedKey(), float64(q.now().UnixMilli()), member)
			return promoted, errors.Wrap(errors.CodeUnavailable, err, "promoting due job")
		}
		promoted++
	}
	return promoted, nil
}

// Depth reports the number of jobs waiting on a lane.
func (q *Queue) Depth(ctx context.Context, lane enums.JobLane) (int64, error) {
	depth, err := q.broker.LLen(ctx, laneKey(lane))
	if err != nil {
		return 0, errors.Wrap(errors.CodeUnavailable, err, "reading lane depth")
	}
	return depth, nil
}

func (q *Queue) push(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "encoding job envelope")
	}
	if err := q.broker.LPush(ctx, laneKey(job.Lane), string(raw)); err != nil {
		return errors.Wrap(errors.CodeUnavailable, err, "enqueuing job")
	}
	return nil
}

// backoff doubles per attempt from the configured base, capped at the max.
func (q *Queue) backoff(attempt int) time.Duration {
	delay := q.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= q.cfg.BackoffMax {
			return q.cfg.BackoffMax
		}
	}
	if delay > q.cfg.BackoffMax {
		return q.cfg.BackoffMax
	}
	return delay
}
