package enums

import "fmt"

// JobLane is the priority lane a job is enqueued on. Dead is the destination
// for jobs that exhausted their retry budget, never an enqueue target.
type JobLane string

const (
	JobLaneHigh    JobLane = "high"
	JobLaneDefault JobLane = "default"
	JobLaneLow     JobLane = "low"
	JobLaneDead    JobLane = "dead"
)

var validJobLanes = []JobLane{
	JobLaneHigh,
	JobLaneDefault,
	JobLaneLow,
	JobLaneDead,
}

// String implements fmt.Stringer.
func (l JobLane) String() string {
	return string(l)
}

// IsValid reports whether the value is a known JobLane.
func (l JobLane) IsValid() bool {
	for _, candidate := range validJobLanes {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseJobLane converts raw input into a JobLane.
func ParseJobLane(value string) (JobLane, error) {
	for _, candidate := range validJobLanes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job lane %q", value)
}

// JobKind names the handler a job is routed to.
type JobKind string

const (
	JobKindProcessOrder JobKind = "process_order"
	JobKindShipOrder    JobKind = "ship_order"
	JobKindNotifyOrder  JobKind = "notify_order_status"
	JobKindReorderCheck JobKind = "reorder_check"
)

var validJobKinds = []JobKind{
	JobKindProcessOrder,
	JobKindShipOrder,
	JobKindNotifyOrder,
	JobKindReorderCheck,
}

// String implements fmt.Stringer.
func (k JobKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known JobKind.
func (k JobKind) IsValid() bool {
	for _, candidate := range validJobKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseJobKind converts raw input into a JobKind.
func ParseJobKind(value string) (JobKind, error) {
	for _, candidate := range validJobKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job kind %q", value)
}
