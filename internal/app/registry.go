package app

import (
	"fmt"

	"krontab/internal/adapter/httpapi"
	"krontab/internal/adapter/scheduler"
	"krontab/internal/jobs"
	"krontab/internal/shared"
)

// registry exposes compiled definitions and their scheduler state to the API.
type registry struct {
	defs  []*jobs.Definition
	sched *scheduler.Scheduler
}

func (r *registry) Jobs() []httpapi.JobInfo {
	out := make([]httpapi.JobInfo, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, r.info(def))
	}
	return out
}

func (r *registry) Job(name string) (httpapi.JobInfo, error) {
	for _, def := range r.defs {
		if def.Name == name {
			return r.info(def), nil
		}
	}
	return httpapi.JobInfo{}, shared.MarkKind(fmt.Errorf("job %q not found", name), shared.KindNotFound)
}

func (r *registry) info(def *jobs.Definition) httpapi.JobInfo {
	info := httpapi.JobInfo{
		Name:     def.Name,
		Schedule: def.Schedule.String(),
		Timezone: def.Location.String(),
		Action:   def.Action.Kind(),
		Target:   def.Action.Target(),
		Overlap:  def.Overlap,
		Attempts: def.Retry.MaxAttempts,
		Disabled: def.Disabled,
	}
	if def.Timeout > 0 {
		info.Timeout = def.Timeout.String()
	}
	if def.Disabled {
		return info
	}
	e, err := r.sched.Entry(def.Name)
	if err != nil {
		return info
	}
	if !e.Next.IsZero() {
		next := e.Next
		info.Next = &next
	}
	if !e.Prev.IsZero() {
		prev := e.Prev
		info.Prev = &prev
	}
	return info
}
