// Package circuitbreaker wraps sony/gobreaker with the logging and prometheus
// metrics the rest of colloquy expects.
package circuitbreaker

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds configuration for the circuit breaker
type Config struct {
	Name             string
	MaxRequests      uint32        // Requests allowed through while half-open
	Interval         time.Duration // Cyclic period for clearing counts while closed
	Timeout          time.Duration // Time spent open before going half-open
	FailureThreshold uint32        // Consecutive failures that trip the breaker
	TestMode         bool          // Skip metric registration
}

// CircuitBreaker guards calls to a single upstream.
type CircuitBreaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger

	stateGauge    prometheus.Gauge
	failuresCount prometheus.Counter
	tripsTotal    prometheus.Counter
}

// NewCircuitBreaker creates a breaker. Metrics are registered on registry
// unless TestMode is set or registry is nil.
func NewCircuitBreaker(cfg Config, logger *zap.Logger, registry prometheus.Registerer) (*CircuitBreaker, error) {
	if cfg.FailureThreshold == 0 {
		return nil, errors.New("circuit breaker failure threshold must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := &CircuitBreaker{name: cfg.Name, logger: logger}
	labels := prometheus.Labels{"name": cfg.Name}
	cb.stateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "colloquy_circuit_breaker_state",
		Help:        "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
		ConstLabels: labels,
	})
	cb.failuresCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "colloquy_circuit_breaker_failures_total",
		Help:        "Total number of failures recorded by the circuit breaker",
		ConstLabels: labels,
	})
	cb.tripsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "colloquy_circuit_breaker_trips_total",
		Help:        "Total number of times the circuit breaker has tripped",
		ConstLabels: labels,
	})

	if !cfg.TestMode && registry != nil {
		for _, c := range []prometheus.Collector{cb.stateGauge, cb.failuresCount, cb.tripsTotal} {
			if err := registry.Register(c); err != nil {
				return nil, err
			}
		}
	}

	threshold := cfg.FailureThreshold
	cb.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: cb.onStateChange,
	})
	return cb, nil
}

func (cb *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	cb.stateGauge.Set(float64(to))
	if to == gobreaker.StateOpen {
		cb.tripsTotal.Inc()
		cb.logger.Warn("circuit breaker tripped",
			zap.String("name", name),
			zap.String("from", from.String()))
		return
	}
	cb.logger.Info("circuit breaker state changed",
		zap.String("name", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// Execute runs f if the breaker allows it. A rejected call returns
// ErrCircuitOpen without running f.
func (cb *CircuitBreaker) Execute(f func() error) error {
	_, err := cb.breaker.Execute(func() (interface{}, error) {
		return nil, f()
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ErrCircuitOpen
	case err != nil:
		cb.failuresCount.Inc()
	}
	return err
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.breaker.State()
}

// Counts returns the breaker's internal counters.
func (cb *CircuitBreaker) Counts() gobreaker.Counts {
	return cb.breaker.Counts()
}
