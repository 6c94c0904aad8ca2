package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"krontab/pkg/krontab"
)

// JobFunc представляет функцию задачи. scheduledAt - секунда срабатывания расписания.
type JobFunc func(ctx context.Context, scheduledAt time.Time) error

// EntryID представляет идентификатор задачи в cron.
type EntryID = cron.EntryID

// OverlapPolicy определяет политику обработки перекрывающихся выполнений задач.
type OverlapPolicy int

const (
	// AllowOverlap разрешает параллельное выполнение задач.
	AllowOverlap OverlapPolicy = iota
	// SkipIfRunning пропускает выполнение, если задача уже запущена.
	SkipIfRunning
	// DelayIfRunning ждет завершения предыдущего выполнения.
	DelayIfRunning
)

var overlapNames = map[OverlapPolicy]string{
	AllowOverlap:   "allow",
	SkipIfRunning:  "skip",
	DelayIfRunning: "delay",
}

func (p OverlapPolicy) String() string {
	if name, ok := overlapNames[p]; ok {
		return name
	}
	return fmt.Sprintf("OverlapPolicy(%d)", int(p))
}

// ParseOverlapPolicy разбирает имя политики из файла задач ("" означает skip).
func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	if s == "" {
		return SkipIfRunning, nil
	}
	for p, name := range overlapNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("scheduler: unknown overlap policy %q", s)
}

// Ошибки регистрации задач.
var (
	ErrDuplicateName = errors.New("scheduler: job name already registered")
	ErrUnknownJob    = errors.New("scheduler: unknown job")
	ErrNoName        = errors.New("scheduler: job name is required")
)

// JobOptions содержит опции для настройки задач.
type JobOptions struct {
	// Name - уникальное имя задачи.
	Name string
	// Timeout - максимальное время выполнения задачи (необязательно).
	Timeout time.Duration
	// OverlapPolicy - политика обработки перекрывающихся выполнений.
	OverlapPolicy OverlapPolicy
}

// jobWrapper оборачивает задачу с её опциями.
type jobWrapper struct {
	job      JobFunc
	options  JobOptions
	schedule cron.Schedule
	id       EntryID
	running  sync.Mutex // для SkipIfRunning и DelayIfRunning
}

// cronLogger адаптер для интеграции cron logger с slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	// cron пишет на Info каждое пробуждение; для нас это шум уровня Debug.
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, kvAttrs(nil, keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	attrs := make([]slog.Attr, 0, len(keysAndValues)/2+1)
	attrs = append(attrs, slog.Any("error", err))
	l.logger.LogAttrs(context.Background(), slog.LevelError, msg, kvAttrs(attrs, keysAndValues)...)
}

func kvAttrs(attrs []slog.Attr, keysAndValues []interface{}) []slog.Attr {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		attrs = append(attrs, slog.Any(key, keysAndValues[i+1]))
	}
	return attrs
}

// JobHooks содержит необязательные хуки для наблюдаемости.
type JobHooks struct {
	OnJobStart  func(jobName string, scheduledAt time.Time)
	OnJobFinish func(jobName string, duration time.Duration, err error)
	OnJobError  func(jobName string, err error)
	// OnJobSkip вызывается, когда срабатывание отброшено: SkipIfRunning при
	// занятой задаче или DelayIfRunning после остановки планировщика.
	OnJobSkip func(jobName string, scheduledAt time.Time)
}

// Config содержит конфигурацию планировщика.
type Config struct {
	Logger   *slog.Logger
	JobHooks JobHooks
	// Location - часовой пояс расписаний (по умолчанию time.Local).
	Location *time.Location
}

// Scheduler запускает задачи по расписаниям krontab поверх robfig/cron.
type Scheduler struct {
	cron      *cron.Cron
	logger    *slog.Logger
	hooks     JobHooks
	loc       *time.Location
	ctx       context.Context
	cancel    context.CancelFunc
	jobs      map[string]*jobWrapper
	mu        sync.RWMutex
	stopOnce  sync.Once
	startOnce sync.Once
	stopped   chan struct{}
	now       func() time.Time
}

// Entry описывает зарегистрированную задачу.
type Entry struct {
	ID            EntryID
	Name          string
	OverlapPolicy OverlapPolicy
	Timeout       time.Duration
	// Next - следующее срабатывание; нулевое, если планировщик не запущен
	// или расписание больше не сработает.
	Next time.Time
	// Prev - последнее срабатывание или нулевое время.
	Prev time.Time
}

// New создает новый экземпляр планировщика с background контекстом.
func New(cfg Config) *Scheduler {
	return NewWithContext(context.Background(), cfg)
}

// NewWithContext создает новый экземпляр планировщика с указанным родительским контекстом.
func NewWithContext(parentCtx context.Context, cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(parentCtx)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	cronOpts := []cron.Option{
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{logger: logger.With("component", "cron")}),
	}

	return &Scheduler{
		cron:    cron.New(cronOpts...),
		logger:  logger.With("component", "scheduler"),
		hooks:   cfg.JobHooks,
		loc:     loc,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*jobWrapper),
		stopped: make(chan struct{}),
		now:     time.Now,
	}
}

// AddExpr разбирает выражение krontab и регистрирует задачу.
func (s *Scheduler) AddExpr(expr string, job JobFunc, opts JobOptions) (EntryID, error) {
	sched, err := krontab.Parse(expr)
	if err != nil {
		return 0, err
	}
	return s.Add(sched, job, opts)
}

// Add регистрирует задачу с готовым расписанием. Имя задачи обязательно и уникально.
// Расписание, которое никогда не срабатывает, регистрируется, но не запускается.
func (s *Scheduler) Add(schedule cron.Schedule, job JobFunc, opts JobOptions) (EntryID, error) {
	if opts.Name == "" {
		return 0, ErrNoName
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[opts.Name]; exists {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateName, opts.Name)
	}

	wrapper := &jobWrapper{job: job, options: opts, schedule: schedule}

	wrapper.id = s.cron.Schedule(schedule, cron.FuncJob(func() {
		// cron вызывает задачу в секунду срабатывания; время фиксируется
		// до ожидания политики перекрытий.
		s.runJobWrapper(wrapper, s.now().In(s.loc).Truncate(time.Second))
	}))
	s.jobs[opts.Name] = wrapper

	s.logger.Info("job added", "name", opts.Name, "schedule", fmt.Sprint(schedule),
		"overlap_policy", opts.OverlapPolicy.String(), "id", wrapper.id)
	return wrapper.id, nil
}

// Remove удаляет задачу по имени. Уже запущенное выполнение не прерывается.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	wrapper, exists := s.jobs[name]
	if !exists {
		return false
	}
	s.cron.Remove(wrapper.id)
	delete(s.jobs, name)

	s.logger.Info("job removed", "name", name, "id", wrapper.id)
	return true
}

// Entry возвращает описание задачи по имени.
func (s *Scheduler) Entry(name string) (Entry, error) {
	s.mu.RLock()
	wrapper, exists := s.jobs[name]
	s.mu.RUnlock()
	if !exists {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.entry(wrapper), nil
}

// Entries возвращает все задачи, отсортированные по имени.
func (s *Scheduler) Entries() []Entry {
	s.mu.RLock()
	wrappers := make([]*jobWrapper, 0, len(s.jobs))
	for _, w := range s.jobs {
		wrappers = append(wrappers, w)
	}
	s.mu.RUnlock()

	out := make([]Entry, 0, len(wrappers))
	for _, w := range wrappers {
		out = append(out, s.entry(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) entry(w *jobWrapper) Entry {
	e := Entry{
		ID:            w.id,
		Name:          w.options.Name,
		OverlapPolicy: w.options.OverlapPolicy,
		Timeout:       w.options.Timeout,
	}
	ce := s.cron.Entry(w.id)
	e.Next, e.Prev = ce.Next, ce.Prev
	if e.Next.IsZero() {
		// До старта cron не считает Next; вычисляем сами.
		e.Next = w.schedule.Next(s.now().In(s.loc))
	}
	return e
}

// Len возвращает число зарегистрированных задач.
func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Start запускает планировщик.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Info("starting scheduler", "jobs", s.Len(), "location", s.loc.String())
		s.cron.Start()

		// Запускаем горутину для отслеживания контекста
		go func() {
			<-s.ctx.Done()
			s.stopOnce.Do(s.stop)
		}()
	})
}

// Stop останавливает планировщик и ждет завершения всех задач.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	s.cancel()
	s.stopOnce.Do(s.stop)
	<-s.stopped
}

// StopContext останавливает планировщик с учетом контекста дедлайна и ждет
// выполняющиеся задачи, даже если остановку уже начала отмена родительского
// контекста. Если ctx истекает раньше, возвращается ошибка контекста; задачи
// при этом уже получили отмену через свой контекст.
func (s *Scheduler) StopContext(ctx context.Context) error {
	s.logger.Info("stopping scheduler with deadline")
	s.cancel()
	go s.stopOnce.Do(s.stop)

	select {
	case <-s.stopped:
		s.logger.Info("scheduler stopped gracefully within deadline")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop deadline exceeded, jobs are still finishing")
		return ctx.Err()
	}
}

// stop выполняет фактическую остановку, ждет выполняющиеся задачи и
// закрывает s.stopped. Вызывается только через stopOnce.
func (s *Scheduler) stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
	close(s.stopped)
}

// runJobWrapper выполняет задачу с учетом её опций.
// scheduledAt - секунда срабатывания, зафиксированная до ожидания DelayIfRunning.
func (s *Scheduler) runJobWrapper(wrapper *jobWrapper, scheduledAt time.Time) {
	jobName := wrapper.options.Name

	switch wrapper.options.OverlapPolicy {
	case SkipIfRunning:
		if !wrapper.running.TryLock() {
			s.logger.Debug("skipping job execution, already running", "name", jobName)
			s.skip(jobName, scheduledAt)
			return
		}
		defer wrapper.running.Unlock()
	case DelayIfRunning:
		wrapper.running.Lock()
		defer wrapper.running.Unlock()
		if s.ctx.Err() != nil {
			// Планировщик остановлен, пока срабатывание ждало очереди.
			s.logger.Debug("dropping delayed execution, scheduler stopped", "name", jobName)
			s.skip(jobName, scheduledAt)
			return
		}
		if delay := s.now().Sub(scheduledAt); delay >= time.Second {
			s.logger.Debug("job delayed by previous run", "name", jobName, "delay", delay)
		}
	}

	// Вызываем хук начала задачи
	if s.hooks.OnJobStart != nil {
		s.hooks.OnJobStart(jobName, scheduledAt)
	}

	defer func() {
		if r := recover(); r != nil {
			panicErr := fmt.Errorf("panic: %v", r)
			s.logger.Error("job panicked", "name", jobName, "panic", r)
			if s.hooks.OnJobError != nil {
				s.hooks.OnJobError(jobName, panicErr)
			}
		}
	}()

	// Создаем контекст с таймаутом, если указан
	ctx := s.ctx
	var cancel context.CancelFunc
	if wrapper.options.Timeout > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, wrapper.options.Timeout)
		defer cancel()
	}

	start := s.now()
	err := wrapper.job(ctx, scheduledAt)
	duration := time.Since(start)

	// Вызываем хук завершения задачи
	if s.hooks.OnJobFinish != nil {
		s.hooks.OnJobFinish(jobName, duration, err)
	}

	if err != nil {
		s.logger.Debug("job returned error", "name", jobName, "error", err, "duration", duration)
		if s.hooks.OnJobError != nil {
			s.hooks.OnJobError(jobName, err)
		}
	} else {
		s.logger.Debug("job completed successfully", "name", jobName, "duration", duration)
	}
}

// IsRunning возвращает true, пока планировщик не остановлен.
func (s *Scheduler) IsRunning() bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
		return true
	}
}

func (s *Scheduler) skip(jobName string, scheduledAt time.Time) {
	if s.hooks.OnJobSkip != nil {
		s.hooks.OnJobSkip(jobName, scheduledAt)
	}
}
