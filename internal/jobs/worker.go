package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgutierrez-ams/orderflow-backend/internal/orders"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/config"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/enums"
	pkgerrors "github.com/dgutierrez-ams/orderflow-backend/pkg/errors"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/logger"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/metrics"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/queue"
)

// jobQueue is the slice of the queue the pool drives.
type jobQueue interface {
	Dequeue(ctx context.Context, lane enums.JobLane) (*queue.Job, error)
	Ack(ctx context.Context, job *queue.Job) error
	Recover(ctx context.Context) (int, error)
	RetryLater(ctx context.Context, job *queue.Job, cause error) (bool, error)
	DeadLetter(ctx context.Context, job *queue.Job) error
	PromoteDue(ctx context.Context, limit int64) (int, error)
	Depth(ctx context.Context, lane enums.JobLane) (int64, error)
}

// laneCycle is the weighted polling order. The high lane gets eight slots per
// cycle against three default and one low, so a flood of low-priority work
// cannot starve fulfillment.
var laneCycle = buildLaneCycle()

func buildLaneCycle() []enums.JobLane {
	weights := []struct {
		lane   enums.JobLane
		weight int
	}{
		{enums.JobLaneHigh, 8},
		{enums.JobLaneDefault, 3},
		{enums.JobLaneLow, 1},
	}
	var cycle []enums.JobLane
	for _, w := range weights {
		for i := 0; i < w.weight; i++ {
			cycle = append(cycle, w.lane)
		}
	}
	return cycle
}

const (
	promoteBatch       = 64
	depthGaugeInterval = 15 * time.Second
)

// Pool runs the worker goroutines that drain the lanes, promote delayed
// retries, and report lane depths.
type Pool struct {
	queue    jobQueue
	registry *Registry
	metrics  *metrics.JobMetrics
	logg     *logger.Logger
	cfg      config.QueueConfig

	canceller canceller
	cursor    atomic.Uint64
}

type canceller interface {
	Cancel(ctx context.Context, input orders.CancelInput) error
}

// PoolParams bundles the dependencies required to build a worker pool.
type PoolParams struct {
	Queue    jobQueue
	Registry *Registry
	Orders   canceller
	Metrics  *metrics.JobMetrics
	Logger   *logger.Logger
	Config   config.QueueConfig
}

func NewPool(params PoolParams) (*Pool, error) {
	if params.Queue == nil {
		return nil, fmt.Errorf("worker pool requires a queue")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("worker pool requires a handler registry")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("worker pool requires the orders service")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("worker pool requires a logger")
	}
	if params.Config.Workers <= 0 {
		return nil, fmt.Errorf("worker pool requires at least one worker")
	}
	return &Pool{
		queue:     params.Queue,
		registry:  params.Registry,
		canceller: params.Orders,
		metrics:   params.Metrics,
		logg:      params.Logger,
		cfg:       params.Config,
	}, nil
}

// Run blocks draining the lanes until the context is cancelled. Jobs claimed
// by a previous run that died mid-execution are pushed back onto their lanes
// before the workers start.
func (p *Pool) Run(ctx context.Context) {
	recovered, err := p.queue.Recover(ctx)
	if err != nil {
		p.logg.Error(ctx, "failed to recover claimed jobs", err)
	}
	if recovered > 0 {
		p.logg.Info(p.logg.WithField(ctx, "recovered", recovered), "requeued jobs from a previous run")
	}

	var wg sync.WaitGroup

	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.workLoop(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.promoteLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.depthLoop(ctx)
	}()

	wg.Wait()
}

func (p *Pool) workLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !p.runOne(ctx) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
		}
	}
}

// runOne claims and executes at most one job, walking the weighted cycle from
// the shared cursor. Reports whether any lane yielded work.
func (p *Pool) runOne(ctx context.Context) bool {
	start := p.cursor.Add(1)
	for i := 0; i < len(laneCycle); i++ {
		lane := laneCycle[(start+uint64(i))%uint64(len(laneCycle))]
		job, err := p.queue.Dequeue(ctx, lane)
		if err != nil {
			p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "dequeue failed")
			return false
		}
		if job == nil {
			continue
		}
		p.execute(ctx, job)
		return true
	}
	return false
}

func (p *Pool) execute(ctx context.Context, job *queue.Job) {
	ctx = p.logg.WithFields(ctx, map[string]any{
		"job_id":   job.ID.String(),
		"job_kind": job.Kind.String(),
		"job_lane": job.Lane.String(),
		"attempt":  job.Attempt,
	})

	handler, ok := p.registry.Resolve(job.Kind)
	if !ok {
		p.logg.Error(ctx, "no handler registered for job kind", nil)
		p.deadLetter(ctx, job)
		return
	}

	started := time.Now()
	err := handler.Handle(ctx, job)
	p.metrics.ObserveDuration(job.Kind.String(), job.Lane.String(), time.Since(started))

	if err == nil {
		if ackErr := p.queue.Ack(ctx, job); ackErr != nil {
			// The job ran; a redelivery hits the idempotent handler.
			p.logg.Warn(p.logg.WithField(ctx, "error", ackErr.Error()), "failed to ack completed job")
		}
		p.metrics.IncSuccess(job.Kind.String(), job.Lane.String())
		p.logg.Info(ctx, "job completed")
		return
	}

	p.metrics.IncFailure(job.Kind.String(), job.Lane.String())
	p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "job failed")

	if !pkgerrors.IsRetryable(err) {
		job.LastError = err.Error()
		p.deadLetter(ctx, job)
		return
	}

	dead, retryErr := p.queue.RetryLater(ctx, job, err)
	if retryErr != nil {
		p.logg.Error(ctx, "failed to reschedule job", retryErr)
		return
	}
	if dead {
		p.metrics.IncDeadLetter(job.Kind.String(), job.Lane.String())
		p.compensate(ctx, job)
		return
	}
	p.metrics.IncRetry(job.Kind.String(), job.Lane.String())
}

func (p *Pool) deadLetter(ctx context.Context, job *queue.Job) {
	kind, lane := job.Kind.String(), job.Lane.String()
	if err := p.queue.DeadLetter(ctx, job); err != nil {
		p.logg.Error(ctx, "failed to dead-letter job", err)
		return
	}
	p.metrics.IncDeadLetter(kind, lane)
	p.compensate(ctx, job)
}

// compensate unwinds the order when fulfillment is abandoned. A dead-lettered
// process_order would otherwise pin its stock holds forever.
func (p *Pool) compensate(ctx context.Context, job *queue.Job) {
	if job.Kind != enums.JobKindProcessOrder {
		return
	}
	payload, err := decodeOrderPayload(job)
	if err != nil {
		p.logg.Error(ctx, "cannot compensate undecodable job", err)
		return
	}
	err = p.canceller.Cancel(ctx, orders.CancelInput{
		OrderID:   payload.OrderID,
		ActorRole: enums.MemberRoleAdmin,
	})
	if err != nil {
		p.logg.Error(ctx, "failed to cancel abandoned order", err)
		return
	}
	p.logg.Info(p.logg.WithOrderID(ctx, payload.OrderID.String()), "cancelled order after fulfillment dead-letter")
}

func (p *Pool) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			promoted, err := p.queue.PromoteDue(ctx, promoteBatch)
			if err != nil {
				p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "promoting delayed jobs failed")
				continue
			}
			if promoted > 0 {
				p.logg.Info(p.logg.WithField(ctx, "promoted", promoted), "promoted delayed jobs")
			}
		}
	}
}

func (p *Pool) depthLoop(ctx context.Context) {
	ticker := time.NewTicker(depthGaugeInterval)
	defer ticker.Stop()
	lanes := []enums.JobLane{enums.JobLaneHigh, enums.JobLaneDefault, enums.JobLaneLow, enums.JobLaneDead}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, lane := range lanes {
				depth, err := p.queue.Depth(ctx, lane)
				if err != nil {
					continue
				}
				p.metrics.SetLaneDepth(lane.String(), depth)
			}
		}
	}
}
