// Package app wires the services together and owns their lifecycle: config
// load and hot reload, storage, the search/fetch pipeline, the run engine,
// cron triggers, notifications, and the operator API.
package app

import (
	"context"
	"fmt"
	"time"

	"leadscout/internal/config"
	"leadscout/internal/eventbus"
	"leadscout/internal/fetch"
	"leadscout/internal/httpapi"
	"leadscout/internal/leads"
	"leadscout/internal/notifier"
	"leadscout/internal/pipeline"
	"leadscout/internal/runner"
	rtsup "leadscout/internal/runtime/supervisor"
	"leadscout/internal/scheduler"
	"leadscout/internal/search"
	"leadscout/internal/store"
	"leadscout/internal/telegram"
	logx "leadscout/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	bus   eventbus.Bus
	store *store.Store

	search *search.Client
	fetch  *fetch.Inspector
	pipe   *pipeline.Pipeline
	runner *runner.Service
	sched  *scheduler.Service
	sender notifier.Sender
	notif  *notifier.Service
	api    *httpapi.Server
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	logs, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	stCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(stCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	searchCfg, err := mapSearchConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc := search.NewClient(searchCfg, log.With(logx.String("comp", "search")))

	fetchCfg, err := mapFetchConfig(cfg)
	if err != nil {
		return nil, err
	}
	insp := fetch.NewInspector(fetchCfg, log.With(logx.String("comp", "fetch")))

	pipe := pipeline.New(sc, insp, log.With(logx.String("comp", "pipeline")))
	pipe.Apply(cfg.Pipeline.FetchWorkers)

	sink := leads.NewSink(st, insp, log.With(logx.String("comp", "leads")))

	run := runner.New(mapRunnerConfig(cfg), st, pipe, sink,
		log.With(logx.String("comp", "runner")), bus)
	if searchCfg.ExpandEndpoint != "" {
		run.SetExpander(sc)
	}

	sched := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone},
		st, run, log.With(logx.String("comp", "scheduler")))

	// A broken Telegram setup degrades to running without reports rather
	// than refusing to start; runs and leads do not depend on delivery.
	var sender notifier.Sender
	if tok := telegramToken(cfg); tok != "" {
		ts, err := telegram.NewSender(tok, log.With(logx.String("comp", "telegram")))
		if err != nil {
			log.Warn("telegram sender unavailable, run reports disabled", logx.Err(err))
		} else {
			sender = ts
		}
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, sender, bus, log.With(logx.String("comp", "notifier")))

	apiCfg, err := mapServerConfig(cfg)
	if err != nil {
		return nil, err
	}
	api := httpapi.New(apiCfg, st, sched, run, log.With(logx.String("comp", "httpapi")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     bus,
		store:   st,
		search:  sc,
		fetch:   insp,
		pipe:    pipe,
		runner:  run,
		sched:   sched,
		sender:  sender,
		notif:   notif,
		api:     api,
	}, nil
}

// Done is closed when the app run context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	// Runner first so triggers armed during bootstrap have somewhere to
	// submit, then triggers, then the surfaces that observe them.
	a.runner.Start(runCtx)
	if err := a.sched.Bootstrap(runCtx); err != nil {
		return err
	}
	a.sched.Start(runCtx)
	a.notif.Start(runCtx)
	if err := a.api.Start(runCtx); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if a.cfgm.Get().Watchdog.Enabled {
		a.sup.Go0("watchdog", a.runWatchdog)
	}

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Each step gets an upper bound so one component cannot stall the whole
	// stop. fn must honor its context; a step that overruns is logged and
	// left behind.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached, continuing",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			go func() {
				err := <-done
				a.log.Warn("stop step finished after deadline",
					logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	// Stop accepting operator input, then stop producing work, then drain
	// in-flight runs, then the consumers of their reports.
	step("httpapi", 3*time.Second, func(c context.Context) error { return a.api.Stop(c) })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("runner", 8*time.Second, func(c context.Context) error { a.runner.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
