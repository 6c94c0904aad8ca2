package jobs

import (
	"time"

	"krontab/internal/platform/httpclient"
	"krontab/internal/shared"
	"krontab/pkg/krontab"
	"krontab/pkg/retry"
)

// Overlap policies as written in the jobs file.
const (
	OverlapAllow = "allow"
	OverlapSkip  = "skip"
	OverlapDelay = "delay"
)

// Definition is a compiled, ready to schedule job.
type Definition struct {
	Name     string
	Schedule *krontab.Schedule
	Location *time.Location
	Timeout  time.Duration
	Overlap  string
	Retry    retry.Config
	Action   Action
	Disabled bool
}

// NextRun returns the first activation strictly after t in the job's location.
func (d *Definition) NextRun(t time.Time) (time.Time, bool) {
	next := d.Schedule.Next(t.In(d.Location))
	return next, !next.IsZero()
}

// Compile turns a validated file into definitions, in file order. loc is used
// unless the file sets its own timezone.
func Compile(f File, loc *time.Location, client *httpclient.Client) ([]*Definition, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(f.Timezone); err != nil {
			return nil, shared.MarkKind(err, shared.KindValidation)
		}
	}
	if loc == nil {
		loc = time.Local
	}
	if client == nil {
		client = httpclient.New()
	}

	defs := make([]*Definition, 0, len(f.Jobs))
	for _, spec := range f.Jobs {
		sched, err := parseSchedule(spec.Schedule)
		if err != nil {
			return nil, shared.Wrapf(err, "job %q", spec.Name)
		}
		def := &Definition{
			Name:     spec.Name,
			Schedule: sched,
			Location: loc,
			Timeout:  spec.Timeout,
			Overlap:  spec.Overlap,
			Retry:    retryConfig(spec.Retry),
			Disabled: spec.Disabled,
		}
		if def.Overlap == "" {
			def.Overlap = OverlapSkip
		}
		if spec.Shell != nil {
			def.Action = newShellAction(spec.Shell)
		} else {
			def.Action = newHTTPAction(spec.HTTP, client)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func retryConfig(r RetrySpec) retry.Config {
	cfg := retry.Config{
		MaxAttempts:  max(r.Attempts, 1),
		InitialDelay: r.Delay,
		MaxDelay:     r.MaxDelay,
		Multiplier:   2,
		Jitter:       true,
	}
	if cfg.InitialDelay == 0 && cfg.MaxAttempts > 1 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	cfg.MaxDelay = max(cfg.MaxDelay, cfg.InitialDelay)
	return cfg
}

func parseSchedule(expr string) (*krontab.Schedule, error) {
	s, err := krontab.Parse(expr)
	if err != nil {
		return nil, shared.MarkKind(err, shared.KindValidation)
	}
	return s, nil
}
