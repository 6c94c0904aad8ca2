package journal

import (
	"context"
	"sync"
)

// Memory keeps the last Retention runs of each job in process memory.
type Memory struct {
	mu        sync.RWMutex
	nextID    int64
	runs      map[string][]Run // oldest first
	retention int
}

// NewMemory creates an in-memory store. retention <= 0 means DefaultRetention.
func NewMemory(retention int) *Memory {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Memory{runs: make(map[string][]Run), retention: retention}
}

func (m *Memory) Record(ctx context.Context, run Run) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	if err := run.validate(); err != nil {
		return Run{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	run.ID = m.nextID
	runs := append(m.runs[run.Job], run)
	if over := len(runs) - m.retention; over > 0 {
		runs = append(runs[:0:0], runs[over:]...)
	}
	m.runs[run.Job] = runs
	return run, nil
}

func (m *Memory) Recent(ctx context.Context, job string, limit int) ([]Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := m.runs[job]
	out := make([]Run, 0, min(limit, len(runs)))
	for i := len(runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, runs[i])
	}
	return out, nil
}

func (m *Memory) Last(ctx context.Context, job string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := m.runs[job]
	if len(runs) == 0 {
		return Run{}, noRuns(job)
	}
	return runs[len(runs)-1], nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// Nop discards every run. Used when the journal is disabled.
type Nop struct{}

func (Nop) Record(_ context.Context, run Run) (Run, error) { return run, nil }

func (Nop) Recent(context.Context, string, int) ([]Run, error) { return nil, nil }

func (Nop) Last(_ context.Context, job string) (Run, error) { return Run{}, noRuns(job) }

func (Nop) Ping(context.Context) error { return nil }

func (Nop) Close() error { return nil }

var (
	_ Store = (*Memory)(nil)
	_ Store = Nop{}
)
