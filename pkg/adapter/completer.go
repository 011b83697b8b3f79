package adapter

import (
	"context"
	"errors"
	"net"
	"regexp"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/strata/pkg/utils/logging"
	"golang.org/x/time/rate"
)

// Completer is a text-completion client: one system text, one user text, one reply
type Completer interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// ErrEmptyCompletion is returned when the endpoint replied without any text
var ErrEmptyCompletion = goerr.New("empty completion")

const (
	DefaultTimeout = 30 * time.Second
	DefaultRetries = 2
	defaultBackoff = 500 * time.Millisecond
)

// Guarded wraps a Completer with a timeout, a retry loop for transient
// failures and a rate limiter shared by every call.
type Guarded struct {
	next    Completer
	timeout time.Duration
	retries int
	backoff time.Duration
	limiter *rate.Limiter
}

type GuardOption func(*Guarded)

// WithTimeout sets the per-attempt timeout applied when the caller has no deadline
func WithTimeout(d time.Duration) GuardOption {
	return func(g *Guarded) { g.timeout = d }
}

func WithRetries(n int) GuardOption {
	return func(g *Guarded) { g.retries = n }
}

// WithBackoff sets the first retry delay; it doubles on every retry
func WithBackoff(d time.Duration) GuardOption {
	return func(g *Guarded) { g.backoff = d }
}

func WithRateLimit(limit rate.Limit, burst int) GuardOption {
	return func(g *Guarded) { g.limiter = rate.NewLimiter(limit, burst) }
}

func NewGuarded(next Completer, opts ...GuardOption) *Guarded {
	g := &Guarded{
		next:    next,
		timeout: DefaultTimeout,
		retries: DefaultRetries,
		backoff: defaultBackoff,
		limiter: rate.NewLimiter(rate.Limit(5), 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guarded) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	delay := g.backoff

	for attempt := 0; ; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", goerr.Wrap(err, "failed to wait for rate limiter")
		}

		text, err := g.attempt(ctx, system, user, maxTokens)
		if err == nil {
			return text, nil
		}

		if attempt >= g.retries || !IsTransient(err) || ctx.Err() != nil {
			return "", err
		}

		logging.From(ctx).Warn("completion failed, retrying",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return "", goerr.Wrap(ctx.Err(), "completion canceled while waiting for retry")
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (g *Guarded) attempt(ctx context.Context, system, user string, maxTokens int) (string, error) {
	if _, ok := ctx.Deadline(); !ok && g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	return g.next.Complete(ctx, system, user, maxTokens)
}

var transientStatus = regexp.MustCompile(`status code:?\s*(429|5\d\d)`)

// IsTransient reports whether err is worth retrying: network failures, an
// attempt timeout, or a 429/5xx reply from the endpoint.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return transientStatus.MatchString(err.Error())
}
