package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	kverrors "github.com/vnykmshr/kvguard/pkg/common/errors"
)

// guard fails fast when the connection is not usable.
func (c *Client) guard(op, key string) error {
	if c.Status() != StatusConnected {
		return kverrors.NewOperationError("store", op, kverrors.ErrStoreUnavailable).WithContext(key)
	}
	return nil
}

func opError(op, key string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", kverrors.ErrTimeout, err)
	}
	return kverrors.NewOperationError("store", op, err).WithContext(key)
}

// Get returns the value stored at key. found is false when the key is
// absent; that is not an error.
func (c *Client) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	if err := c.guard("GET", key); err != nil {
		return nil, false, err
	}
	value, err = c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, opError("GET", key, err)
	}
	return value, true, nil
}

// SetWithExpiry stores value at key with a time-to-live. The TTL has one
// second granularity; shorter positive values round up.
func (c *Client) SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.guard("SETEX", key); err != nil {
		return err
	}
	if err := c.rdb.SetEx(ctx, key, value, roundUpSecond(ttl)).Err(); err != nil {
		return opError("SETEX", key, err)
	}
	return nil
}

// Delete removes keys. Missing keys are ignored.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.guard("DEL", keys[0]); err != nil {
		return err
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return opError("DEL", keys[0], err)
	}
	return nil
}

// AppendToList appends values to the tail of the list at key, creating it
// if needed, and returns the new length.
func (c *Client) AppendToList(ctx context.Context, key string, values ...string) (int64, error) {
	if err := c.guard("RPUSH", key); err != nil {
		return 0, err
	}
	n, err := c.rdb.RPush(ctx, key, toArgs(values)...).Result()
	if err != nil {
		return 0, opError("RPUSH", key, err)
	}
	return n, nil
}

// ReadListRange returns list elements between start and stop inclusive.
// Negative indexes count from the tail; (0, -1) reads the whole list. A
// missing key reads as an empty list.
func (c *Client) ReadListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if err := c.guard("LRANGE", key); err != nil {
		return nil, err
	}
	values, err := c.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, opError("LRANGE", key, err)
	}
	return values, nil
}

// ReplaceList atomically swaps the list at key for values. An empty values
// slice leaves the key deleted.
func (c *Client) ReplaceList(ctx context.Context, key string, values []string) error {
	if err := c.guard("REPLACE", key); err != nil {
		return err
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.RPush(ctx, key, toArgs(values)...)
		}
		return nil
	})
	if err != nil {
		return opError("REPLACE", key, err)
	}
	return nil
}

// SetExpiry sets a time-to-live on an existing key. It reports false when
// the key does not exist.
func (c *Client) SetExpiry(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := c.guard("EXPIRE", key); err != nil {
		return false, err
	}
	ok, err := c.rdb.Expire(ctx, key, roundUpSecond(ttl)).Result()
	if err != nil {
		return false, opError("EXPIRE", key, err)
	}
	return ok, nil
}

// RunScript evaluates script server-side against keys. EVALSHA is tried
// first and the source is sent only on a cache miss.
func (c *Client) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	key := ""
	if len(keys) > 0 {
		key = keys[0]
	}
	if err := c.guard("EVAL", key); err != nil {
		return nil, err
	}
	res, err := script.Run(ctx, c.rdb, keys, args...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, opError("EVAL", key, err)
	}
	return res, nil
}

// Ping checks the connection. Unlike the other operations it is not gated
// on status, since it is how the status gets repaired.
func (c *Client) Ping(ctx context.Context) error {
	if c.Status() == StatusClosed {
		return kverrors.ErrClosed
	}
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return opError("PING", "", err)
	}
	return nil
}

func roundUpSecond(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	if rem := ttl % time.Second; rem != 0 {
		ttl += time.Second - rem
	}
	return ttl
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
