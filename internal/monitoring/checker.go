package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/provider-scout/internal/config"
)

// Checker ties the collector and alerter together into a background loop.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	log       *zap.Logger
}

// NewChecker builds a checker from the monitoring config, falling back to a
// 5-minute interval and 24-hour lookback when unset.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	lookback := cfg.LookbackWindowHours
	if lookback <= 0 {
		lookback = 24
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  lookback,
		log:       zap.L().Named("monitor"),
	}
}

// Run performs one check immediately, then one per interval until ctx is
// cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("health checks started",
		zap.Duration("every", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	c.runOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("health checks stopped")
			return
		case <-ticker.C:
			c.runOnce(ctx)
		}
	}
}

func (c *Checker) runOnce(ctx context.Context) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Error("monitoring: collect metrics", zap.Error(err))
		}
		return
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		return
	}

	delivered := c.alerter.SendAlerts(ctx, alerts)
	c.log.Warn("health alerts raised",
		zap.Int("raised", len(alerts)),
		zap.Int("delivered", delivered),
	)
}
