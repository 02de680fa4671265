package store

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// lifecycleHook turns go-redis dial and command outcomes into lifecycle
// events and command metrics.
type lifecycleHook struct {
	c *Client
}

var _ redis.Hook = lifecycleHook{}

func (h lifecycleHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil && !errors.Is(err, context.Canceled) {
			h.c.connectionFailed("dial", err)
		}
		// A successful dial is not proof of health (AUTH runs afterwards);
		// Connect and the monitor's ping decide when we are Connected.
		return conn, err
	}
}

func (h lifecycleHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.observe(cmd.Name(), start, err)
		return err
	}
}

func (h lifecycleHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.observe("pipeline", start, err)
		return err
	}
}

func (h lifecycleHook) observe(name string, start time.Time, err error) {
	command := strings.ToUpper(name)
	h.c.metrics.StoreCommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())

	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, redis.Nil):
		result = "nil"
	default:
		result = "error"
	}
	h.c.metrics.StoreCommands.WithLabelValues(command, result).Inc()

	if isConnectivityError(err) {
		h.c.connectionFailed(strings.ToLower(name), err)
	}
}
