// Package store is the Store Core: the atomic token-bucket + escalating
// penalty evaluation, executed as a single embedded Lua script against
// Redis so that partial updates are never observable and concurrent
// requests to the same (policy, scope, keyHash) triple are serialized by
// Redis's single-threaded script execution.
package store

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed script.lua
var scriptSource string

// RedisStore evaluates Request/Result pairs against Redis using the
// embedded Lua script. The script is loaded once and cached by SHA1 digest
// via redis.Script's EVALSHA-with-EVAL-fallback behavior; callers should
// construct exactly one RedisStore per process and share it.
type RedisStore struct {
	client *redis.Client
	script *redis.Script
}

// New wraps an existing *redis.Client. The caller owns the client's
// lifecycle (creation, pool sizing, timeouts, and Close).
func New(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, script: redis.NewScript(scriptSource)}
}

// Eval runs one atomic store evaluation. Any transport, timeout, or
// cancellation error is wrapped in ErrStoreUnavailable; a reply that
// doesn't match the documented shape is wrapped in ErrStoreProtocol.
func (s *RedisStore) Eval(ctx context.Context, req Request) (Result, error) {
	keys := []string{req.BucketKey, req.BlockKey, req.ViolationKey}

	penaltyEnabled := "0"
	if req.Penalty.Enabled {
		penaltyEnabled = "1"
	}

	args := []interface{}{
		strconv.Itoa(req.Capacity),
		formatSeconds(req.Window),
		strconv.Itoa(req.Cost),
		penaltyEnabled,
		formatSeconds(req.Penalty.ViolationWindow),
		strconv.Itoa(len(req.Penalty.Durations)),
	}
	for _, d := range req.Penalty.Durations {
		args = append(args, formatSeconds(d))
	}

	reply, err := s.script.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return parseResult(reply)
}

// Ping checks store reachability, used by the liveness/health endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

func parseResult(reply interface{}) (Result, error) {
	arr, ok := reply.([]interface{})
	if !ok || len(arr) != 6 {
		return Result{}, fmt.Errorf("%w: expected 6-element array, got %T", ErrStoreProtocol, reply)
	}

	allowed, err := parseBool(arr[0])
	if err != nil {
		return Result{}, fmt.Errorf("%w: allowed: %v", ErrStoreProtocol, err)
	}
	blocked, err := parseBool(arr[1])
	if err != nil {
		return Result{}, fmt.Errorf("%w: blocked: %v", ErrStoreProtocol, err)
	}
	remaining, err := parseFloat(arr[2])
	if err != nil {
		return Result{}, fmt.Errorf("%w: remainingTokens: %v", ErrStoreProtocol, err)
	}
	retryAfter, err := parseInt(arr[3])
	if err != nil {
		return Result{}, fmt.Errorf("%w: retryAfterSeconds: %v", ErrStoreProtocol, err)
	}
	resetAfter, err := parseInt(arr[4])
	if err != nil {
		return Result{}, fmt.Errorf("%w: resetAfterSeconds: %v", ErrStoreProtocol, err)
	}
	violations, err := parseInt(arr[5])
	if err != nil {
		return Result{}, fmt.Errorf("%w: violations: %v", ErrStoreProtocol, err)
	}

	return Result{
		Allowed:           allowed,
		Blocked:           blocked,
		RemainingTokens:   remaining,
		RetryAfterSeconds: retryAfter,
		ResetAfterSeconds: resetAfter,
		Violations:        violations,
	}, nil
}

func parseBool(v interface{}) (bool, error) {
	i, err := parseInt(v)
	if err != nil {
		return false, err
	}
	return i != 0, nil
}

func parseInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("not numeric: %T", v)
	}
}

func parseFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("not numeric: %T", v)
	}
}
