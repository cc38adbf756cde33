package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics records outcomes for queue workers.
type JobMetrics struct {
	duration   *prometheus.HistogramVec
	success    *prometheus.CounterVec
	failure    *prometheus.CounterVec
	retry      *prometheus.CounterVec
	deadLetter *prometheus.CounterVec
	laneDepth  *prometheus.GaugeVec
}

// NewJobMetrics registers the worker metrics on the provided registerer.
func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_duration_seconds",
		Help:    "Duration of job executions in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind", "lane"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_success",
		Help: "Successful job executions.",
	}, []string{"kind", "lane"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_failure",
		Help: "Failed job executions.",
	}, []string{"kind", "lane"})
	retry := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_retry",
		Help: "Jobs rescheduled after a retryable failure.",
	}, []string{"kind", "lane"})
	deadLetter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_dead_letter",
		Help: "Jobs routed to the dead lane.",
	}, []string{"kind", "lane"})
	laneDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_lane_depth",
		Help: "Jobs currently waiting on each lane.",
	}, []string{"lane"})
	reg.MustRegister(duration, success, failure, retry, deadLetter, laneDepth)
	return &JobMetrics{
		duration:   duration,
		success:    success,
		failure:    failure,
		retry:      retry,
		deadLetter: deadLetter,
		laneDepth:  laneDepth,
	}
}

// ObserveDuration records the duration for a job execution.
func (j *JobMetrics) ObserveDuration(kind, lane string, duration time.Duration) {
	if j == nil || j.duration == nil {
		return
	}
	j.duration.WithLabelValues(normalizeLabel(kind), normalizeLabel(lane)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter.
func (j *JobMetrics) IncSuccess(kind, lane string) {
	if j == nil || j.success == nil {
		return
	}
	j.success.WithLabelValues(normalizeLabel(kind), normalizeLabel(lane)).Inc()
}

// IncFailure increments the failure counter.
func (j *JobMetrics) IncFailure(kind, lane string) {
	if j == nil || j.failure == nil {
		return
	}
	j.failure.WithLabelValues(normalizeLabel(kind), normalizeLabel(lane)).Inc()
}

// IncRetry increments the retry counter.
func (j *JobMetrics) IncRetry(kind, lane string) {
	if j == nil || j.retry == nil {
		return
	}
	j.retry.WithLabelValues(normalizeLabel(kind), normalizeLabel(lane)).Inc()
}

// IncDeadLetter increments the dead-letter counter.
func (j *JobMetrics) IncDeadLetter(kind, lane string) {
	if j == nil || j.deadLetter == nil {
		return
	}
	j.deadLetter.WithLabelValues(normalizeLabel(kind), normalizeLabel(lane)).Inc()
}

// SetLaneDepth records the current depth of a lane.
func (j *JobMetrics) SetLaneDepth(lane string, depth int64) {
	if j == nil || j.laneDepth == nil {
		return
	}
	j.laneDepth.WithLabelValues(normalizeLabel(lane)).Set(float64(depth))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
