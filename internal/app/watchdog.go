package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "leadscout/pkg/logx"
)

// runWatchdog pings the systemd watchdog at half the interval advertised in
// the environment. Returns immediately when the process does not run under
// systemd with WatchdogSec set, so enabling it in config is always safe.
func (a *App) runWatchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("watchdog detection failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		a.log.Debug("systemd watchdog not configured")
		return
	}

	a.log.Info("systemd watchdog active", logx.Duration("interval", interval))
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				a.log.Warn("watchdog ping failed", logx.Err(err))
			}
		}
	}
}
