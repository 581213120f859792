// Package radiuscoa wraps a collaborators.RadiusCoAClient with a
// Redis-backed idempotency ledger so a retried activation/suspend/revoke
// step after a process restart does not double-send a CoA or
// Disconnect-Message for an operation already delivered.
package radiuscoa

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dotmac/ispsaga/infrastructure/collaborators"
)

// ledgerTTL bounds how long a recorded CoA delivery is remembered. Past
// this window a retry is treated as a fresh delivery attempt.
const ledgerTTL = 24 * time.Hour

// IdempotentClient decorates a collaborators.RadiusCoAClient, recording a
// key per (subscriber operation) in Redis before re-sending a CoA/DM that
// has already succeeded once.
type IdempotentClient struct {
	inner collaborators.RadiusCoAClient
	redis *redis.Client
}

// New wraps inner with a Redis-backed idempotency ledger. If redisClient is
// nil, calls are passed straight through with no deduplication.
func New(inner collaborators.RadiusCoAClient, redisClient *redis.Client) *IdempotentClient {
	return &IdempotentClient{inner: inner, redis: redisClient}
}

func (c *IdempotentClient) key(operation, username string) string {
	return fmt.Sprintf("radiuscoa:%s:%s", operation, username)
}

func (c *IdempotentClient) alreadySent(ctx context.Context, operation, username string) bool {
	if c.redis == nil {
		return false
	}
	n, err := c.redis.Exists(ctx, c.key(operation, username)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

func (c *IdempotentClient) record(ctx context.Context, operation, username string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Set(ctx, c.key(operation, username), time.Now().UTC().Format(time.RFC3339), ledgerTTL).Err()
}

func (c *IdempotentClient) UpdateIPv4Address(ctx context.Context, username, address, nasIP string) (*collaborators.CoAResult, error) {
	if c.alreadySent(ctx, "update_ipv4", username) {
		return &collaborators.CoAResult{Success: true, Message: "already delivered, skipped"}, nil
	}
	result, err := c.inner.UpdateIPv4Address(ctx, username, address, nasIP)
	if err == nil && result != nil && result.Success {
		c.record(ctx, "update_ipv4", username)
	}
	return result, err
}

func (c *IdempotentClient) UpdateIPv6Prefix(ctx context.Context, username, delegatedPrefix, nasIP string) (*collaborators.CoAResult, error) {
	if c.alreadySent(ctx, "update_ipv6", username) {
		return &collaborators.CoAResult{Success: true, Message: "already delivered, skipped"}, nil
	}
	result, err := c.inner.UpdateIPv6Prefix(ctx, username, delegatedPrefix, nasIP)
	if err == nil && result != nil && result.Success {
		c.record(ctx, "update_ipv6", username)
	}
	return result, err
}

func (c *IdempotentClient) DisconnectSession(ctx context.Context, username, nasIP, sessionID string) (*collaborators.CoAResult, error) {
	if c.alreadySent(ctx, "disconnect", username) {
		return &collaborators.CoAResult{Success: true, Message: "already delivered, skipped"}, nil
	}
	result, err := c.inner.DisconnectSession(ctx, username, nasIP, sessionID)
	if err == nil && result != nil && result.Success {
		c.record(ctx, "disconnect", username)
	}
	return result, err
}

func (c *IdempotentClient) Configured() bool {
	return c.inner.Configured()
}
