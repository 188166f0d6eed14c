package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/clipscript/internal/config"
)

// Checker runs periodic alert checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	// last holds the alert types raised on the previous tick so a
	// persisting condition is reported once, not every interval.
	last map[AlertType]bool
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		last:      make(map[AlertType]bool),
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_mins", c.cfg.LookbackMins),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check runs one collect/evaluate/send cycle and returns the alerts sent.
func (c *Checker) check(ctx context.Context, log *zap.Logger) []Alert {
	snap := c.collector.Collect(c.cfg.LookbackMins)

	raised := c.alerter.Evaluate(snap)
	current := make(map[AlertType]bool, len(raised))
	var fresh []Alert
	for _, a := range raised {
		current[a.Type] = true
		if !c.last[a.Type] {
			fresh = append(fresh, a)
		}
	}
	c.last = current

	if len(fresh) == 0 {
		log.Debug("monitoring: no new alerts",
			zap.Int("finished", snap.Finished()),
			zap.Float64("fail_rate", snap.FailRate),
		)
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(fresh)),
		zap.Int("alerts_sent", sent),
	)
	return fresh
}
