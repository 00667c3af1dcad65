// Package monitoring watches stored research runs and raises alerts when
// failure, degradation, or cost crosses a configured threshold.
package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/devtools-research/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates run health on a fixed interval.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	log       *zap.Logger
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

// WithLogger replaces the checker's logger.
func (c *Checker) WithLogger(log *zap.Logger) *Checker {
	c.log = log.With(zap.String("component", "monitoring.checker"))
	return c
}

func (c *Checker) interval() time.Duration {
	if c.cfg.CheckIntervalSecs <= 0 {
		return defaultCheckInterval
	}
	return time.Duration(c.cfg.CheckIntervalSecs) * time.Second
}

// Run checks run health once per interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := c.interval()
	c.log.Info("monitoring: watching research runs",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Float64("failure_rate_threshold", c.cfg.FailureRateThreshold),
		zap.Float64("degraded_rate_threshold", c.cfg.DegradedRateThreshold),
		zap.Float64("cost_threshold_usd", c.cfg.CostThresholdUSD),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	checks := 0
	for {
		select {
		case <-ctx.Done():
			c.log.Info("monitoring: stopped watching research runs", zap.Int("checks", checks))
			return
		case <-ticker.C:
			c.Check(ctx)
			checks++
		}
	}
}

// Check collects one snapshot of recent runs and sends any alerts it
// triggers. It returns the alerts evaluated, or nil when collection failed.
func (c *Checker) Check(ctx context.Context) []Alert {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		c.log.Error("monitoring: failed to collect run health", zap.Error(err))
		return nil
	}

	fields := []zap.Field{
		zap.Int("runs_total", snap.RunsTotal),
		zap.Int("runs_completed", snap.RunsCompleted),
		zap.Int("runs_failed", snap.RunsFailed),
		zap.Int("runs_cancelled", snap.RunsCancelled),
		zap.Int("runs_running", snap.RunsRunning),
		zap.Float64("fail_rate", snap.FailRate),
		zap.Int("tools_degraded", snap.ToolsDegraded),
		zap.Float64("degraded_rate", snap.DegradedRate),
		zap.Float64("cost_usd", snap.CostUSD),
		zap.Int("avg_tokens", snap.AvgTokens),
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		c.log.Debug("monitoring: runs healthy", fields...)
		return alerts
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	types := make([]string, len(alerts))
	for i, a := range alerts {
		types[i] = string(a.Type)
	}
	c.log.Warn("monitoring: run health alert",
		append(fields, zap.Strings("alerts", types), zap.Int("alerts_sent", sent))...,
	)
	return alerts
}
