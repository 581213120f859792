package collaborators

import (
	"context"

	"github.com/dotmac/ispsaga/infrastructure/ratelimit"
)

// CallLimiter wraps outbound collaborator calls with a shared rate limit.
// Address-pool and VLAN-pool contention is arbitrated externally by IPAM
// and the access-node manager themselves, but the core still bounds its
// own fan-out rate against those systems.
type CallLimiter struct {
	limiter *ratelimit.RateLimiter
}

// NewCallLimiter builds a limiter from the given requests-per-second/burst
// configuration.
func NewCallLimiter(cfg ratelimit.RateLimitConfig) *CallLimiter {
	return &CallLimiter{limiter: ratelimit.New(cfg)}
}

// Do waits for rate-limiter admission, then invokes fn.
func (c *CallLimiter) Do(ctx context.Context, fn func() error) error {
	if c == nil || c.limiter == nil {
		return fn()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return fn()
}
