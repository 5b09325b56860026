package websocket

import (
	"context"
	"log/slog"
	"time"
)

// startKeepalive launches the ping loop when a ping interval is set. It is
// a no-op while a loop is already running.
func (c *Conn) startKeepalive(ctx context.Context) {
	if c.params.PingInterval <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopPing != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.stopPing = cancel
	go c.periodicPing(ctx, c.params.PingInterval, c.params.PingTimeout)
}

func (c *Conn) stopKeepalive() {
	c.mu.Lock()
	stop := c.stopPing
	c.stopPing = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// periodicPing waits one interval, then pings every interval. When a
// timeout is set and no pong arrived within it, the connection is closed
// with reason "ping timed out".
func (c *Conn) periodicPing(ctx context.Context, interval, timeout time.Duration) {
	if !sleep(ctx, interval) {
		return
	}
	for {
		if c.IsClosing() {
			return
		}
		c.receivedPong.Store(false)
		pingTime := time.Now()
		if err := c.writeFrame(OpPing, nil, 0); err != nil {
			c.logger.Debug("keepalive ping failed", slog.String("error", err.Error()))
			c.Abort()
			return
		}

		if !sleep(ctx, timeout) {
			return
		}
		if timeout > 0 && !c.receivedPong.Load() {
			c.logger.Info("ping timed out", slog.Duration("timeout", timeout))
			_ = c.Close(0, "ping timed out")
			return
		}

		if !sleep(ctx, pingSleepTime(pingTime, interval, time.Now())) {
			return
		}
	}
}

// pingSleepTime is the wait until the next ping is due.
func pingSleepTime(lastPing time.Time, interval time.Duration, now time.Time) time.Duration {
	if d := lastPing.Add(interval).Sub(now); d > 0 {
		return d
	}
	return 0
}

// sleep waits for d or until ctx is done. It reports whether the wait ran
// to completion.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
