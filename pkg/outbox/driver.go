package outbox

import (
	"context"
	"log/slog"
	"time"
)

// DriverConfig configures the periodic push driver.
type DriverConfig struct {
	// Interval between push runs. Default: 1m.
	Interval time.Duration
	Logger   *slog.Logger
}

// ApplyDefaults sets default values for unset fields.
func (c *DriverConfig) ApplyDefaults() {
	if c.Interval == 0 {
		c.Interval = time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Driver invokes Push on a fixed interval. It is the single periodic
// caller the outbox expects; ad-hoc Push calls from elsewhere coalesce
// with its runs.
type Driver struct {
	outbox *Outbox
	cfg    DriverConfig
}

// NewDriver creates a driver for the given outbox.
func NewDriver(outbox *Outbox, cfg DriverConfig) *Driver {
	cfg.ApplyDefaults()
	return &Driver{outbox: outbox, cfg: cfg}
}

// Run pushes until ctx is cancelled. Push failures are logged and the next
// tick retries; only cancellation ends the loop.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stats, err := d.outbox.Push(ctx)
			if err != nil {
				d.cfg.Logger.Error("outbox push run failed", "error", err)
				continue
			}
			if stats.Pushed > 0 || stats.Failed > 0 {
				d.cfg.Logger.Info("outbox push run complete",
					"pushed", stats.Pushed, "failed", stats.Failed)
			}
		}
	}
}
