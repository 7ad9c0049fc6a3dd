package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// DefaultCooldown is how long a rate limited provider is skipped.
const DefaultCooldown = 5 * time.Minute

// Availability is a provider's state inside a chain.
type Availability int

const (
	Available Availability = iota
	Unavailable
)

func (a Availability) String() string {
	if a == Unavailable {
		return "unavailable"
	}
	return "available"
}

type link struct {
	provider Provider
	until    time.Time
}

// Chain tries providers in order. A provider that reports a rate limit or
// quota error becomes Unavailable until the cooldown elapses; any other error
// just moves on to the next provider.
type Chain struct {
	mu       sync.Mutex
	links    []*link
	cooldown time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

func WithCooldown(d time.Duration) ChainOption {
	return func(c *Chain) { c.cooldown = d }
}

func WithChainClock(now func() time.Time) ChainOption {
	return func(c *Chain) { c.now = now }
}

func WithChainLogger(logger *zap.Logger) ChainOption {
	return func(c *Chain) { c.logger = logger }
}

// NewChain builds a chain over providers with the heuristic appended as the
// terminal link.
func NewChain(providers []Provider, opts ...ChainOption) *Chain {
	c := &Chain{
		cooldown: DefaultCooldown,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, p := range providers {
		if p == nil || p.Name() == HeuristicName {
			continue
		}
		c.links = append(c.links, &link{provider: p})
	}
	c.links = append(c.links, &link{provider: NewHeuristicProvider(c.now)})
	return c
}

// State reports the availability of the named provider and, when
// unavailable, the time it becomes available again.
func (c *Chain) State(name string) (Availability, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.links {
		if l.provider.Name() == name {
			return c.stateLocked(l)
		}
	}
	return Unavailable, time.Time{}
}

func (c *Chain) stateLocked(l *link) (Availability, time.Time) {
	if l.until.IsZero() {
		return Available, time.Time{}
	}
	if !c.now().Before(l.until) {
		l.until = time.Time{}
		c.logger.Info("analysis provider available again", zap.String("provider", l.provider.Name()))
		return Available, time.Time{}
	}
	return Unavailable, l.until
}

func (c *Chain) markUnavailable(l *link) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	l.until = c.now().Add(c.cooldown)
	return l.until
}

// Analyze returns the first successful provider's assessments.
func (c *Chain) Analyze(ctx context.Context, batch []CustomerInput) ([]Assessment, error) {
	var errs []error
	for _, l := range c.links {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.mu.Lock()
		state, until := c.stateLocked(l)
		c.mu.Unlock()
		name := l.provider.Name()
		if state == Unavailable {
			c.logger.Debug("skipping unavailable provider",
				zap.String("provider", name), zap.Time("until", until))
			continue
		}

		results, err := l.provider.Analyze(ctx, batch)
		if err == nil {
			for i := range results {
				if results[i].Provider == "" {
					results[i].Provider = name
				}
			}
			return results, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", name, err))
		if IsRateLimited(err) {
			until := c.markUnavailable(l)
			c.logger.Warn("analysis provider rate limited",
				zap.String("provider", name), zap.Time("until", until), zap.Error(err))
		} else {
			c.logger.Warn("analysis provider failed", zap.String("provider", name), zap.Error(err))
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
}

// IsRateLimited reports whether err means the provider is throttling us.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && (apiErr.Code == 429 || apiErr.Status == "RESOURCE_EXHAUSTED") {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var rateLimitMarkers = []string{
	"rate limit",
	"rate-limit",
	"rate_limit",
	"ratelimit",
	"too many requests",
	"quota",
	"resource_exhausted",
}
