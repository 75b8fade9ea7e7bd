package scheduler

import "time"

// JobStatus is a point-in-time view of one job.
type JobStatus struct {
	Name        string    `json:"name"`
	Expression  string    `json:"expression"`
	Overlap     string    `json:"overlap"`
	Phase       string    `json:"phase"`
	NextTrigger time.Time `json:"next_trigger,omitzero"`
	Dispatched  uint64    `json:"dispatched"`
	Skipped     uint64    `json:"skipped"`
	InFlight    int64     `json:"in_flight"`
	Error       string    `json:"error,omitempty"`
}
