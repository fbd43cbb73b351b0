// Package circuitbreaker wraps sony/gobreaker with the defaults used for
// outbound calls.
package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type Config struct {
	Name string
	// consecutive failures before the breaker opens
	MaxFailures uint32
	// how long the breaker stays open before letting a probe through
	OpenTimeout time.Duration
	// Ignore reports errors that are returned to the caller but must not
	// count as failures, e.g. a request rejected before it left the process.
	Ignore func(err error) bool
}

func (c Config) withDefaults() Config {
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 30 * time.Second
	}
	return c
}

type Breaker[T any] struct {
	cb *gobreaker.CircuitBreaker[T]
}

func New[T any](cfg Config, log *zap.Logger) *Breaker[T] {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	if cfg.Ignore != nil {
		settings.IsSuccessful = func(err error) bool {
			return err == nil || cfg.Ignore(err)
		}
	}

	return &Breaker[T]{cb: gobreaker.NewCircuitBreaker[T](settings)}
}

func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	return b.cb.Execute(fn)
}

func (b *Breaker[T]) State() gobreaker.State {
	return b.cb.State()
}

// IsOpen reports whether err means the call was rejected by the breaker
// without being attempted.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
