package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/modules/cron"
)

type jobOptions struct {
	name     string
	overlap  core.OverlapPolicy
	location *time.Location
}

type JobOption func(*jobOptions)

// WithName names the job in logs, events and status snapshots.
func WithName(name string) JobOption {
	return func(o *jobOptions) {
		o.name = name
	}
}

// WithOverlap sets the job's overlap policy. The default is core.OverlapAllow.
func WithOverlap(policy core.OverlapPolicy) JobOption {
	return func(o *jobOptions) {
		o.overlap = policy
	}
}

// WithLocation evaluates the job's expression in loc.
func WithLocation(loc *time.Location) JobOption {
	return func(o *jobOptions) {
		o.location = loc
	}
}

// NewJobConfiguration validates expr eagerly and binds it to job. A malformed
// expression fails here with a schedule parse error, so no loop is ever
// started for it.
func NewJobConfiguration(job core.Job, expr string, opts ...JobOption) (core.JobConfiguration, error) {
	if job == nil {
		return core.JobConfiguration{}, errors.ValidationError(fmt.Errorf("scheduler: job must not be nil")).
			WithCode("NIL_JOB")
	}
	o := jobOptions{overlap: core.OverlapAllow}
	for _, opt := range opts {
		opt(&o)
	}
	if o.overlap != core.OverlapAllow && o.overlap != core.OverlapSkipIfRunning {
		return core.JobConfiguration{}, errors.ValidationError(fmt.Errorf("scheduler: unknown overlap policy %d", int(o.overlap))).
			WithCode("OVERLAP_POLICY")
	}

	var cronOpts []cron.Option
	if o.location != nil {
		cronOpts = append(cronOpts, cron.WithLocation(o.location))
	}
	expression, err := cron.Parse(expr, cronOpts...)
	if err != nil {
		return core.JobConfiguration{}, err
	}

	name := o.name
	if name == "" {
		name = fmt.Sprintf("%T", job)
	}
	return core.JobConfiguration{
		Name:       name,
		Job:        job,
		Expression: expression.String(),
		Schedule:   expression,
		Overlap:    o.overlap,
	}, nil
}

// ParseOverlapPolicy maps a config name ("allow", "skip") to a policy.
// An empty name means core.OverlapAllow.
func ParseOverlapPolicy(name string) (core.OverlapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "allow":
		return core.OverlapAllow, nil
	case "skip", "skip_if_running":
		return core.OverlapSkipIfRunning, nil
	default:
		return core.OverlapAllow, errors.ValidationError(fmt.Errorf("scheduler: unknown overlap policy %q", name)).
			WithCode("OVERLAP_POLICY")
	}
}

func validateConfigurations(jobs []core.JobConfiguration) error {
	for i, cfg := range jobs {
		if cfg.Job == nil {
			return errors.ValidationError(fmt.Errorf("scheduler: job %d (%s) has no job", i, cfg.Name)).WithCode("NIL_JOB")
		}
		if cfg.Schedule == nil {
			return errors.ValidationError(fmt.Errorf("scheduler: job %d (%s) has no schedule", i, cfg.Name)).WithCode("NIL_SCHEDULE")
		}
	}
	return nil
}
