package store

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// startMonitor schedules probe on the configured interval. Overlapping runs
// are skipped so a slow ping never stacks up behind itself.
func (c *Client) startMonitor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.monitor != nil || c.Status() == StatusClosed {
		return
	}

	c.monitor = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.monitor.Schedule(cron.Every(c.cfg.ProbeInterval), cron.FuncJob(c.probe))
	c.monitor.Start()
	c.logger.Debug("store monitor started", "interval", c.cfg.ProbeInterval)
}

// probe is one monitor tick. While healthy it checks liveness; otherwise it
// attempts to reconnect, honoring the exponential backoff between failures.
func (c *Client) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout+c.cfg.ReadTimeout)
	defer cancel()
	c.probeOnce(ctx)
}

func (c *Client) probeOnce(ctx context.Context) {
	switch c.Status() {
	case StatusClosed:
		return
	case StatusConnected:
		if c.health.Healthy() {
			if err := c.Ping(ctx); err != nil {
				c.connectionFailed("ping", err)
				c.scheduleRetry()
			}
			return
		}
		// connected but flagged unhealthy by a caller: verify below
	}

	if !c.retryDue() {
		return
	}

	c.setStatus(StatusReconnecting)
	if err := c.Ping(ctx); err != nil {
		c.metrics.StoreReconnects.WithLabelValues("failure").Inc()
		c.connectionFailed("reconnect", err)
		delay := c.scheduleRetry()
		c.logger.Debug("store reconnect failed", "err", err, "next_attempt_in", delay)
		return
	}

	c.metrics.StoreReconnects.WithLabelValues("success").Inc()
	c.resetBackoff()
	c.setStatus(StatusConnected)
	c.logger.Info("store reconnected")
}

// retryDue reports whether the backoff delay since the last failure elapsed.
func (c *Client) retryDue() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.clock.Now().Before(c.nextAttempt)
}

// scheduleRetry pushes the next reconnect attempt out by the current
// backoff, then doubles the backoff up to the configured maximum.
func (c *Client) scheduleRetry() (delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delay = c.backoff
	c.nextAttempt = c.clock.Now().Add(delay)
	c.backoff *= 2
	if c.backoff > c.cfg.MaxReconnectBackoff {
		c.backoff = c.cfg.MaxReconnectBackoff
	}
	return delay
}

func (c *Client) resetBackoff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backoff = c.cfg.ReconnectBackoff
	c.nextAttempt = time.Time{}
}
