package asyncmc

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreaker guards operations against a persistently failing server.
// Satisfied by gobreaker.CircuitBreaker[bool].
type CircuitBreaker interface {
	Execute(fn func() (bool, error)) (bool, error)
}

// NewCircuitBreakerConfig returns a factory that creates one circuit breaker
// per server address, for use as Config.NewCircuitBreaker.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(serverAddr string) CircuitBreaker {
	return func(serverAddr string) CircuitBreaker {
		settings := gobreaker.Settings{
			Name:        serverAddr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
		}
		return gobreaker.NewCircuitBreaker[bool](settings)
	}
}
