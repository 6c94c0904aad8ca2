package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krontab/pkg/krontab"
)

const everySecond = "* * * * *"

func waitForAtLeast(t *testing.T, counter *int64, expected int64, timeout time.Duration) {
	t.Helper()

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(counter) >= expected
	}, timeout, 10*time.Millisecond, "значение счётчика не достигло ожидаемого уровня")
}

func ensureNoIncrement(t *testing.T, counter *int64, baseline int64, duration time.Duration) {
	t.Helper()

	assert.Never(t, func() bool {
		return atomic.LoadInt64(counter) > baseline
	}, duration, 10*time.Millisecond, "счётчик увеличился после ожидания")
}

func counting(counter *int64) JobFunc {
	return func(ctx context.Context, _ time.Time) error {
		atomic.AddInt64(counter, 1)
		return nil
	}
}

func TestScheduler_New(t *testing.T) {
	s := New(Config{Logger: slog.Default()})

	assert.NotNil(t, s)
	assert.NotNil(t, s.cron)
	assert.NotNil(t, s.logger)
	assert.Equal(t, time.Local, s.loc)
	assert.True(t, s.IsRunning())
}

func TestScheduler_NewWithoutLogger(t *testing.T) {
	s := New(Config{Location: time.UTC})

	assert.NotNil(t, s.logger)
	assert.Equal(t, time.UTC, s.loc)
}

func TestScheduler_AddExpr(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	var counter int64
	_, err := s.AddExpr(everySecond, counting(&counter), JobOptions{Name: "tick"})
	require.NoError(t, err)

	s.Start()

	waitForAtLeast(t, &counter, 1, 2500*time.Millisecond)
}

func TestScheduler_AddExprInvalid(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	_, err := s.AddExpr("invalid schedule", counting(new(int64)), JobOptions{Name: "bad"})
	assert.ErrorIs(t, err, krontab.ErrMalformedExpression)
	assert.Zero(t, s.Len())
}

func TestScheduler_AddRequiresUniqueName(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	sched := krontab.MustParse(everySecond)
	_, err := s.Add(sched, counting(new(int64)), JobOptions{})
	assert.ErrorIs(t, err, ErrNoName)

	_, err = s.Add(sched, counting(new(int64)), JobOptions{Name: "a"})
	require.NoError(t, err)
	_, err = s.Add(sched, counting(new(int64)), JobOptions{Name: "a"})
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.Equal(t, 1, s.Len())
}

func TestScheduler_ScheduledAtIsWholeSecondInLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	s := New(Config{Location: loc})
	defer s.Stop()

	got := make(chan time.Time, 1)
	_, err := s.AddExpr(everySecond, func(ctx context.Context, at time.Time) error {
		select {
		case got <- at:
		default:
		}
		return nil
	}, JobOptions{Name: "at"})
	require.NoError(t, err)
	s.Start()

	select {
	case at := <-got:
		assert.Zero(t, at.Nanosecond())
		assert.Equal(t, loc, at.Location())
		assert.WithinDuration(t, time.Now(), at, 2*time.Second)
	case <-time.After(2500 * time.Millisecond):
		t.Fatal("job did not run")
	}
}

func TestScheduler_JobWithError(t *testing.T) {
	var (
		runCount int64
		errCount int64
	)
	s := New(Config{JobHooks: JobHooks{
		OnJobError: func(string, error) { atomic.AddInt64(&errCount, 1) },
	}})
	defer s.Stop()

	_, err := s.AddExpr(everySecond, func(ctx context.Context, _ time.Time) error {
		atomic.AddInt64(&runCount, 1)
		return errors.New("test error")
	}, JobOptions{Name: "failing"})
	require.NoError(t, err)
	s.Start()

	waitForAtLeast(t, &runCount, 2, 3500*time.Millisecond)
	waitForAtLeast(t, &errCount, 2, time.Second)
}

func TestScheduler_JobWithPanic(t *testing.T) {
	var (
		runCount   int64
		panicCount int64
	)
	s := New(Config{JobHooks: JobHooks{
		OnJobError: func(name string, err error) {
			if name == "panicky" && assert.ErrorContains(t, err, "panic: test panic") {
				atomic.AddInt64(&panicCount, 1)
			}
		},
	}})
	defer s.Stop()

	_, err := s.AddExpr(everySecond, func(ctx context.Context, _ time.Time) error {
		atomic.AddInt64(&runCount, 1)
		panic("test panic")
	}, JobOptions{Name: "panicky"})
	require.NoError(t, err)
	s.Start()

	waitForAtLeast(t, &runCount, 2, 3500*time.Millisecond)
	waitForAtLeast(t, &panicCount, 2, time.Second)
}

func TestScheduler_SkipIfRunning(t *testing.T) {
	var (
		runs    int64
		skipped int64
	)
	s := New(Config{JobHooks: JobHooks{
		OnJobSkip: func(name string, at time.Time) {
			assert.Equal(t, "slow", name)
			assert.Zero(t, at.Nanosecond())
			atomic.AddInt64(&skipped, 1)
		},
	}})
	defer s.Stop()

	_, err := s.AddExpr(everySecond, func(ctx context.Context, _ time.Time) error {
		atomic.AddInt64(&runs, 1)
		select {
		case <-time.After(2500 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	}, JobOptions{Name: "slow", OverlapPolicy: SkipIfRunning})
	require.NoError(t, err)
	s.Start()

	waitForAtLeast(t, &skipped, 1, 3*time.Second)
	assert.Equal(t, int64(1), atomic.LoadInt64(&runs))
}

func TestScheduler_DelayIfRunning(t *testing.T) {
	var (
		active    int64
		maxActive int64
		runs      int64
	)
	s := New(Config{})
	defer s.Stop()

	_, err := s.AddExpr(everySecond, func(ctx context.Context, _ time.Time) error {
		n := atomic.AddInt64(&active, 1)
		defer atomic.AddInt64(&active, -1)
		for {
			m := atomic.LoadInt64(&maxActive)
			if n <= m || atomic.CompareAndSwapInt64(&maxActive, m, n) {
				break
			}
		}
		select {
		case <-time.After(1200 * time.Millisecond):
		case <-ctx.Done():
		}
		atomic.AddInt64(&runs, 1)
		return nil
	}, JobOptions{Name: "delayed", OverlapPolicy: DelayIfRunning})
	require.NoError(t, err)
	s.Start()

	waitForAtLeast(t, &runs, 2, 5*time.Second)
	assert.Equal(t, int64(1), atomic.LoadInt64(&maxActive))
}

func TestScheduler_DelayIfRunningKeepsFireSecond(t *testing.T) {
	type run struct{ at, started time.Time }
	runs := make(chan run, 4)

	s := New(Config{Location: time.UTC})
	defer s.Stop()

	_, err := s.AddExpr(everySecond, func(ctx context.Context, at time.Time) error {
		select {
		case runs <- run{at: at, started: time.Now()}:
		default:
		}
		select {
		case <-time.After(1500 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	}, JobOptions{Name: "delayed", OverlapPolicy: DelayIfRunning})
	require.NoError(t, err)
	s.Start()

	var got []run
	for len(got) < 2 {
		select {
		case r := <-runs:
			got = append(got, r)
		case <-time.After(5 * time.Second):
			t.Fatalf("получено %d выполнений из 2", len(got))
		}
	}
	// Второе срабатывание ждало первое, но сохранило свою секунду.
	assert.Equal(t, time.Second, got[1].at.Sub(got[0].at))
	assert.GreaterOrEqual(t, got[1].started.Sub(got[1].at), 400*time.Millisecond)
}

func TestScheduler_DelayIfRunningDropsQueuedOnStop(t *testing.T) {
	skipped := make(chan time.Time, 4)
	s := New(Config{JobHooks: JobHooks{
		OnJobSkip: func(_ string, at time.Time) { skipped <- at },
	}})

	started := make(chan time.Time, 1)
	_, err := s.AddExpr(everySecond, func(ctx context.Context, at time.Time) error {
		select {
		case started <- at:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}, JobOptions{Name: "queued", OverlapPolicy: DelayIfRunning})
	require.NoError(t, err)
	s.Start()

	var first time.Time
	select {
	case first = <-started:
	case <-time.After(2500 * time.Millisecond):
		t.Fatal("job did not start")
	}
	time.Sleep(1200 * time.Millisecond) // следующее срабатывание встает в очередь
	require.NoError(t, s.StopContext(context.Background()))

	select {
	case at := <-skipped:
		assert.True(t, at.After(first))
	default:
		t.Fatal("queued activation was not reported as skipped")
	}
}

func TestScheduler_Timeout(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	deadlines := make(chan bool, 1)
	_, err := s.AddExpr(everySecond, func(ctx context.Context, _ time.Time) error {
		_, ok := ctx.Deadline()
		<-ctx.Done()
		select {
		case deadlines <- ok && errors.Is(ctx.Err(), context.DeadlineExceeded):
		default:
		}
		return ctx.Err()
	}, JobOptions{Name: "bounded", Timeout: 50 * time.Millisecond, OverlapPolicy: SkipIfRunning})
	require.NoError(t, err)
	s.Start()

	select {
	case ok := <-deadlines:
		assert.True(t, ok)
	case <-time.After(2500 * time.Millisecond):
		t.Fatal("job did not time out")
	}
}

func TestScheduler_Remove(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	var counter int64
	_, err := s.AddExpr(everySecond, counting(&counter), JobOptions{Name: "tick"})
	require.NoError(t, err)
	s.Start()
	waitForAtLeast(t, &counter, 1, 2500*time.Millisecond)

	assert.True(t, s.Remove("tick"))
	assert.False(t, s.Remove("tick"))
	// Выполнение, уже начатое в момент удаления, может завершиться.
	time.Sleep(50 * time.Millisecond)
	ensureNoIncrement(t, &counter, atomic.LoadInt64(&counter), 1500*time.Millisecond)
}

func TestScheduler_Entries(t *testing.T) {
	s := New(Config{Location: time.UTC})
	defer s.Stop()

	now := time.Date(2025, time.January, 1, 10, 15, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.AddExpr("0 0 12 * *", counting(new(int64)), JobOptions{Name: "noon", Timeout: time.Minute})
	require.NoError(t, err)
	_, err = s.AddExpr("0 0 0 30 2", counting(new(int64)), JobOptions{Name: "never", OverlapPolicy: DelayIfRunning})
	require.NoError(t, err)

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "never", entries[0].Name)
	assert.True(t, entries[0].Next.IsZero())
	assert.Equal(t, DelayIfRunning, entries[0].OverlapPolicy)

	noon, err := s.Entry("noon")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC), noon.Next)
	assert.Equal(t, time.Minute, noon.Timeout)
	assert.True(t, noon.Prev.IsZero())

	_, err = s.Entry("missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	s := New(Config{})
	s.Start()
	s.Start()

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()
	assert.NoError(t, s.StopContext(context.Background()))
}

func TestScheduler_StopCancelsJobs(t *testing.T) {
	s := New(Config{})

	started := make(chan struct{})
	var once sync.Once
	var canceled int64
	_, err := s.AddExpr(everySecond, func(ctx context.Context, _ time.Time) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		atomic.AddInt64(&canceled, 1)
		return ctx.Err()
	}, JobOptions{Name: "long", OverlapPolicy: SkipIfRunning})
	require.NoError(t, err)
	s.Start()

	select {
	case <-started:
	case <-time.After(2500 * time.Millisecond):
		t.Fatal("job did not start")
	}
	require.NoError(t, s.StopContext(context.Background()))
	assert.GreaterOrEqual(t, atomic.LoadInt64(&canceled), int64(1))
}

func TestScheduler_StopContextDeadline(t *testing.T) {
	s := New(Config{})

	started := make(chan struct{})
	var once sync.Once
	_, err := s.AddExpr(everySecond, func(ctx context.Context, _ time.Time) error {
		once.Do(func() { close(started) })
		time.Sleep(time.Second) // игнорирует отмену
		return nil
	}, JobOptions{Name: "stubborn", OverlapPolicy: SkipIfRunning})
	require.NoError(t, err)
	s.Start()

	select {
	case <-started:
	case <-time.After(2500 * time.Millisecond):
		t.Fatal("job did not start")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.StopContext(ctx), context.DeadlineExceeded)
}

func TestScheduler_ParentContextCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	s := NewWithContext(parent, Config{})
	s.Start()

	cancel()
	require.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 10*time.Millisecond)
}

func TestScheduler_StopWaitsAfterParentCancel(t *testing.T) {
	tests := []struct {
		name string
		stop func(*Scheduler) error
	}{
		{name: "StopContext", stop: func(s *Scheduler) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.StopContext(ctx)
		}},
		{name: "Stop", stop: func(s *Scheduler) error {
			s.Stop()
			return nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent, cancel := context.WithCancel(context.Background())
			defer cancel()
			s := NewWithContext(parent, Config{})

			started := make(chan struct{})
			var once sync.Once
			var active int64
			_, err := s.AddExpr(everySecond, func(ctx context.Context, _ time.Time) error {
				atomic.AddInt64(&active, 1)
				defer atomic.AddInt64(&active, -1)
				once.Do(func() { close(started) })
				time.Sleep(700 * time.Millisecond) // игнорирует отмену
				return nil
			}, JobOptions{Name: "stubborn", OverlapPolicy: SkipIfRunning})
			require.NoError(t, err)
			s.Start()

			select {
			case <-started:
			case <-time.After(2500 * time.Millisecond):
				t.Fatal("job did not start")
			}
			cancel()
			require.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 10*time.Millisecond)

			require.NoError(t, tt.stop(s))
			assert.Zero(t, atomic.LoadInt64(&active), "остановка вернулась раньше задачи")
		})
	}
}

func TestScheduler_Hooks(t *testing.T) {
	var (
		mu       sync.Mutex
		events   []string
		finished int64
	)
	record := func(e string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	s := New(Config{JobHooks: JobHooks{
		OnJobStart: func(name string, _ time.Time) { record("start:" + name) },
		OnJobFinish: func(name string, _ time.Duration, err error) {
			record("finish:" + name)
			atomic.AddInt64(&finished, 1)
		},
	}})
	defer s.Stop()

	_, err := s.AddExpr(everySecond, counting(new(int64)), JobOptions{Name: "hooked", OverlapPolicy: SkipIfRunning})
	require.NoError(t, err)
	s.Start()
	waitForAtLeast(t, &finished, 1, 2500*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"start:hooked", "finish:hooked"}, events[:2])
}

func TestParseOverlapPolicy(t *testing.T) {
	tests := map[string]OverlapPolicy{
		"":      SkipIfRunning,
		"allow": AllowOverlap,
		"skip":  SkipIfRunning,
		"delay": DelayIfRunning,
	}
	for in, want := range tests {
		got, err := ParseOverlapPolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseOverlapPolicy("queue")
	assert.Error(t, err)

	assert.Equal(t, "delay", DelayIfRunning.String())
	assert.Equal(t, "OverlapPolicy(9)", OverlapPolicy(9).String())
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	l := cronLogger{logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	l.Info("wake", "now", "x", 42, "answer", "dangling")
	l.Error(errors.New("boom"), "failed", "entry", 1)

	out := buf.String()
	assert.Contains(t, out, "level=DEBUG msg=wake now=x 42=answer")
	assert.NotContains(t, out, "dangling")
	assert.Contains(t, out, "level=ERROR msg=failed error=boom entry=1")
}
