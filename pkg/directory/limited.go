package directory

import (
	"context"
	stderrors "errors"
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentstation/adsync/pkg/constants"
	"github.com/agentstation/adsync/pkg/errors"
	"github.com/agentstation/adsync/pkg/logging"
)

// Limited wraps a Client with a per-operation timeout, a token-bucket rate
// limit and bounded retries of timed out operations.
type Limited struct {
	next       Client
	limiter    *rate.Limiter
	timeout    time.Duration
	retries    int
	backoff    time.Duration
	maxBackoff time.Duration
}

// LimitOption configures a Limited client.
type LimitOption func(*Limited)

// WithTimeout sets the deadline applied to each Search and Commit call.
// Zero disables the deadline.
func WithTimeout(d time.Duration) LimitOption {
	return func(l *Limited) {
		l.timeout = d
	}
}

// WithRate sets the sustained operations per second and burst size.
// A non-positive rate removes the limit.
func WithRate(perSecond float64, burst int) LimitOption {
	return func(l *Limited) {
		if perSecond <= 0 {
			l.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRetries sets how many times a timed out operation is retried.
func WithRetries(n int) LimitOption {
	return func(l *Limited) {
		if n >= 0 {
			l.retries = n
		}
	}
}

// WithBackoff sets the initial and maximum delay between retries.
func WithBackoff(initial, maximum time.Duration) LimitOption {
	return func(l *Limited) {
		l.backoff = initial
		l.maxBackoff = maximum
	}
}

// NewLimited wraps next.
func NewLimited(next Client, opts ...LimitOption) *Limited {
	l := &Limited{
		next:       next,
		limiter:    rate.NewLimiter(rate.Limit(constants.DefaultRateLimit), constants.BurstSize),
		timeout:    constants.DirectoryOpTimeout,
		retries:    constants.MaxRetries,
		backoff:    constants.RetryBackoff,
		maxBackoff: constants.MaxRetryBackoff,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Search implements Client.
func (l *Limited) Search(ctx context.Context, filter Filter, attrs []string) ([]*Entry, error) {
	var entries []*Entry
	err := l.do(ctx, "search", func(ctx context.Context) error {
		var err error
		entries, err = l.next.Search(ctx, filter, attrs)
		return err
	})
	return entries, err
}

// Commit implements Client.
func (l *Limited) Commit(ctx context.Context, entry *Entry) error {
	return l.do(ctx, "commit", func(ctx context.Context) error {
		return l.next.Commit(ctx, entry)
	})
}

// Close closes the wrapped client when it holds resources.
func (l *Limited) Close() error {
	if c, ok := l.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (l *Limited) do(ctx context.Context, op string, fn func(context.Context) error) error {
	delay := l.backoff
	for attempt := 0; ; attempt++ {
		if err := l.limiter.Wait(ctx); err != nil {
			return stderrors.Join(errors.ErrCanceled, err)
		}

		err := l.attempt(ctx, fn)
		if err == nil || !l.timedOut(ctx, err) {
			return err
		}

		if attempt >= l.retries {
			return errors.NewTimeoutError(op, l.timeout.String(),
				"no response after retries")
		}

		logging.Ctx(ctx).Warn().
			Str("operation", op).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("Directory operation timed out, retrying")

		select {
		case <-ctx.Done():
			return stderrors.Join(errors.ErrCanceled, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if l.maxBackoff > 0 && delay > l.maxBackoff {
			delay = l.maxBackoff
		}
	}
}

func (l *Limited) attempt(ctx context.Context, fn func(context.Context) error) error {
	if l.timeout <= 0 {
		return fn(ctx)
	}
	opCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return fn(opCtx)
}

// timedOut reports whether err is an operation timeout rather than the
// caller's own cancellation.
func (l *Limited) timedOut(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return stderrors.Is(err, context.DeadlineExceeded) || errors.IsTimeout(err)
}
