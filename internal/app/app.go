package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"krontab/internal/adapter/httpapi"
	"krontab/internal/adapter/journal"
	"krontab/internal/adapter/notify"
	"krontab/internal/adapter/scheduler"
	"krontab/internal/config"
	"krontab/internal/jobs"
	"krontab/internal/platform/httpclient"
	"krontab/internal/platform/logger"
	"krontab/internal/platform/metrics"
)

// Options override configuration from the command line.
type Options struct {
	EnvFile  string
	JobsFile string
}

// App wires application components.
type App struct {
	cfg  config.Config
	log  *slog.Logger
	defs []*jobs.Definition
}

// New loads configuration and the jobs file.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		return nil, err
	}
	if opts.JobsFile != "" {
		cfg.JobsFile = opts.JobsFile
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "krontab",
	})
	a, err := newApp(cfg, log)
	if err != nil {
		_ = logger.Close(log)
		return nil, err
	}
	return a, nil
}

func newApp(cfg config.Config, log *slog.Logger) (*App, error) {
	file, err := jobs.Load(cfg.JobsFile)
	if err != nil {
		return nil, err
	}
	client := httpclient.New(httpclient.WithLogger(log))
	defs, err := jobs.Compile(file, cfg.Location(), client)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.JobsFile, err)
	}
	return &App{cfg: cfg, log: log, defs: defs}, nil
}

// Run starts the daemon and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	defer func() { _ = logger.Close(a.log) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.run(ctx)
}

func (a *App) run(ctx context.Context) error {
	d, err := a.build(ctx)
	if err != nil {
		return err
	}
	a.log.Info("starting", slog.Int("jobs", len(a.defs)), slog.String("addr", a.cfg.HTTP.Addr))

	d.sched.Start()
	serveErr := make(chan error, 1)
	go func() { serveErr <- d.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case err = <-serveErr:
		if err != nil {
			a.log.Error("http api stopped", slog.Any("err", err))
		}
	}
	return errors.Join(err, d.shutdown(a.cfg.ShutdownTimeout))
}

// daemon holds the running components.
type daemon struct {
	sched    *scheduler.Scheduler
	server   *httpapi.Server
	store    journal.Store
	metrics  *metrics.Metrics
	runner   *jobs.Runner
	registry *registry
	log      *slog.Logger
}

func (a *App) build(ctx context.Context) (*daemon, error) {
	store, err := journal.Open(ctx, a.cfg.Journal, a.log)
	if err != nil {
		return nil, err
	}

	var notifier jobs.Notifier = notify.Nop{}
	if a.cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegram(a.cfg.Telegram.Token, a.cfg.Telegram.ChatID, notify.WithLogger(a.log))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		notifier = tg
	}

	m := metrics.New()
	d := &daemon{
		store:   store,
		metrics: m,
		runner:  jobs.NewRunner(store, m, notifier, a.log),
		log:     a.log,
	}
	d.sched = scheduler.NewWithContext(ctx, scheduler.Config{
		Logger:   a.log,
		Location: a.cfg.Location(),
		JobHooks: scheduler.JobHooks{
			OnJobSkip: func(name string, scheduledAt time.Time) {
				d.runner.Skip(context.Background(), name, scheduledAt)
			},
			OnJobFinish: func(name string, _ time.Duration, _ error) {
				if e, err := d.sched.Entry(name); err == nil {
					d.metrics.SetNextRun(name, e.Next)
				}
			},
		},
	})

	if err := d.register(a.defs); err != nil {
		_ = store.Close()
		return nil, err
	}
	d.registry = &registry{defs: a.defs, sched: d.sched}

	d.server = httpapi.New(httpapi.Config{
		Addr:      a.cfg.HTTP.Addr,
		Env:       a.cfg.Env,
		RateLimit: a.cfg.HTTP.RateLimit,
		RateBurst: a.cfg.HTTP.RateBurst,
		Location:  a.cfg.Location(),
	}, httpapi.Deps{
		Registry: d.registry,
		Runs:     store,
		Metrics:  m.Handler(),
		Logger:   a.log,
	})
	return d, nil
}

// register adds every enabled definition to the scheduler.
func (d *daemon) register(defs []*jobs.Definition) error {
	enabled := 0
	for _, def := range defs {
		if def.Disabled {
			d.log.Info("job disabled", slog.String("job", def.Name))
			continue
		}
		policy, err := scheduler.ParseOverlapPolicy(def.Overlap)
		if err != nil {
			return err
		}
		_, err = d.sched.Add(def.Schedule, func(ctx context.Context, at time.Time) error {
			return jobs.Err(d.runner.Run(ctx, def, at))
		}, scheduler.JobOptions{
			Name:          def.Name,
			Timeout:       def.Timeout,
			OverlapPolicy: policy,
		})
		if err != nil {
			return fmt.Errorf("register %s: %w", def.Name, err)
		}
		next, _ := def.NextRun(time.Now())
		d.metrics.SetNextRun(def.Name, next)
		enabled++
	}
	d.metrics.SetJobs(enabled)
	return nil
}

func (d *daemon) shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := d.sched.StopContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	if err := d.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http api: %w", err))
	}
	if err := d.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("journal: %w", err))
	}
	return errors.Join(errs...)
}
