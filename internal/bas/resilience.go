package bas

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"activation-relay/internal/config"
	"activation-relay/internal/metrics"
)

// Resilience wraps transport attempts with bounded exponential retry and a
// circuit breaker. Only transient transport failures are retried or counted
// against the breaker.
type Resilience struct {
	breaker *gobreaker.CircuitBreaker
	retry   config.RetryConfig
	log     logrus.FieldLogger
}

func NewResilience(name string, retry config.RetryConfig, breaker config.BreakerConfig, log logrus.FieldLogger) *Resilience {
	threshold := uint32(breaker.FailureThreshold)
	if threshold == 0 {
		threshold = 5
	}
	halfOpen := uint32(breaker.HalfOpenRequests)
	if halfOpen == 0 {
		halfOpen = 1
	}

	metrics.BreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))

	return &Resilience{
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: halfOpen,
			Timeout:     breaker.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				// a caller giving up says nothing about upstream health
				if errors.Is(err, context.Canceled) {
					return true
				}
				return err == nil || !isTransient(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				metrics.BreakerState.WithLabelValues(name).Set(float64(to))
				log.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("activation service circuit breaker changed state")
			},
		}),
		retry: retry,
		log:   log,
	}
}

// Do runs attempt until it succeeds, fails with a non-transport error, the
// retry budget is spent, or ctx is done.
func (r *Resilience) Do(ctx context.Context, attempt func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if r.retry.InitialInterval > 0 {
		b.InitialInterval = r.retry.InitialInterval
	}
	if r.retry.MaxInterval > 0 {
		b.MaxInterval = r.retry.MaxInterval
	}
	b.MaxElapsedTime = 0

	maxRetries := 0
	if r.retry.MaxAttempts > 1 {
		maxRetries = r.retry.MaxAttempts - 1
	}

	op := func() error {
		_, err := r.breaker.Execute(func() (interface{}, error) {
			return nil, attempt(ctx)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(&TransportError{Err: err})
		case isTransient(err):
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	notify := func(err error, wait time.Duration) {
		r.log.WithError(err).WithField("retry_in", wait.String()).Warn("activation service call failed, retrying")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx), notify)
	if err == nil {
		return nil
	}

	var (
		be *BusinessError
		pe *ProtocolError
		te *TransportError
	)
	if errors.As(err, &be) || errors.As(err, &pe) || errors.As(err, &te) {
		return err
	}
	// context cancellation surfaces from the backoff loop untyped
	return &TransportError{Err: err}
}

// State exposes the breaker state, mainly for health reporting.
func (r *Resilience) State() gobreaker.State {
	return r.breaker.State()
}
