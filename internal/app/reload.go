package app

import (
	"context"
	"strings"
	"time"

	"leadscout/internal/config"
	"leadscout/internal/scheduler"
	logx "leadscout/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts; only the newest config matters.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			a.applyConfig(ctx, last, cfg)
			last = cfg
		}
	}
}

// applyConfig fans a committed config out to the running services. The
// manager validated it already, so per-service mapping errors here are
// logged and that service keeps its previous config.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, no effective changes")
		return
	}
	changed := strings.Join(sections, ",")
	a.log.Debug("config change summary",
		append([]logx.Field{logx.String("changed", changed)}, attrs...)...)

	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed, restart required to take effect")
		case "watchdog":
			a.log.Warn("watchdog config changed, restart required to take effect")
		case "telegram":
			if telegramToken(oldCfg) != telegramToken(newCfg) {
				a.log.Warn("telegram token changed, restart required to take effect")
			}
		}
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if scfg, err := mapSearchConfig(newCfg); err != nil {
		a.log.Warn("invalid search config, keeping previous", logx.Err(err))
	} else {
		a.search.Apply(scfg)
	}

	if fcfg, err := mapFetchConfig(newCfg); err != nil {
		a.log.Warn("invalid pipeline config, keeping previous", logx.Err(err))
	} else {
		a.fetch.Apply(fcfg)
		a.pipe.Apply(newCfg.Pipeline.FetchWorkers)
	}

	a.runner.Apply(ctx, mapRunnerConfig(newCfg))
	a.sched.Apply(scheduler.Config{Timezone: newCfg.Scheduler.Timezone})

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid telegram config, keeping previous", logx.Err(err))
	} else {
		prevEnabled := oldCfg != nil && oldCfg.Telegram != nil && oldCfg.Telegram.Enabled
		a.notif.Apply(ncfg)
		switch {
		case prevEnabled && !ncfg.Enabled:
			a.log.Info("run reports disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prevEnabled && ncfg.Enabled:
			if a.sender == nil {
				a.log.Warn("run reports enabled but no telegram sender was built at startup, restart required")
			} else {
				a.log.Info("run reports enabled via config")
				a.notif.Start(ctx)
			}
		}
	}

	if acfg, err := mapServerConfig(newCfg); err != nil {
		a.log.Warn("invalid server config, keeping previous", logx.Err(err))
	} else if err := a.api.Reconfigure(ctx, acfg); err != nil {
		a.log.Warn("server reconfigure failed", logx.Err(err))
	}

	a.log.Info("config reloaded", logx.String("changed", changed))
}
