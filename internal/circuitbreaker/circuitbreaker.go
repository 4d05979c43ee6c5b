// Package circuitbreaker tracks upstream gateway health and stops calls to a
// gateway that keeps failing. State is kept in memory per gateway name.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the state of the circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

const (
	defaultFailureThreshold = 3
	defaultResetTimeout     = 30 * time.Second
)

// Config holds breaker settings. Zero values take the defaults.
type Config struct {
	FailureThreshold int           // consecutive failures that open the circuit
	ResetTimeout     time.Duration // time spent Open before a trial request is let through
}

// The trial is presumed lost if no outcome is recorded within this window,
// and another one is let through.
const trialTimeout = time.Minute

// gatewayState holds the current state for a single gateway.
type gatewayState struct {
	state               State
	consecutiveFailures int
	openUntil           time.Time
	trialUntil          time.Time // non-zero while a HalfOpen trial is in flight
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	mu       sync.Mutex
	gateways map[string]*gatewayState
	cfg      Config
	now      func() time.Time
}

// NewCircuitBreaker creates a CircuitBreaker, filling defaults into cfg.
func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	return &CircuitBreaker{
		gateways: make(map[string]*gatewayState),
		cfg:      cfg,
		now:      time.Now,
	}
}

// getState assumes cb.mu is held.
func (cb *CircuitBreaker) getState(name string) *gatewayState {
	gs, ok := cb.gateways[name]
	if !ok {
		gs = &gatewayState{state: StateClosed}
		cb.gateways[name] = gs
	}
	return gs
}

// AllowRequest reports whether a call to the gateway may proceed. An Open
// circuit whose reset timeout has passed moves to HalfOpen. While HalfOpen only
// one trial call is in flight at a time; its outcome closes or reopens the circuit.
func (cb *CircuitBreaker) AllowRequest(name string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	gs := cb.getState(name)
	now := cb.now()
	switch gs.state {
	case StateOpen:
		if !now.After(gs.openUntil) {
			return false
		}
		gs.state = StateHalfOpen
		gs.consecutiveFailures = 0
		gs.trialUntil = now.Add(trialTimeout)
		return true
	case StateHalfOpen:
		if !gs.trialUntil.IsZero() && !now.After(gs.trialUntil) {
			return false
		}
		gs.trialUntil = now.Add(trialTimeout)
		return true
	default:
		return true
	}
}

// RecordFailure records a failed call. Reaching the threshold while Closed, or
// any failure while HalfOpen, opens the circuit.
func (cb *CircuitBreaker) RecordFailure(name string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	gs := cb.getState(name)
	switch gs.state {
	case StateClosed:
		gs.consecutiveFailures++
		if gs.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.open(gs)
		}
	case StateHalfOpen:
		cb.open(gs)
	case StateOpen:
		// already open; the reset deadline is not extended
	}
}

func (cb *CircuitBreaker) open(gs *gatewayState) {
	gs.state = StateOpen
	gs.consecutiveFailures = cb.cfg.FailureThreshold
	gs.openUntil = cb.now().Add(cb.cfg.ResetTimeout)
	gs.trialUntil = time.Time{}
}

// RecordSuccess records a successful call. A success while HalfOpen closes the circuit.
func (cb *CircuitBreaker) RecordSuccess(name string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	gs := cb.getState(name)
	switch gs.state {
	case StateClosed, StateHalfOpen:
		gs.state = StateClosed
		gs.consecutiveFailures = 0
		gs.trialUntil = time.Time{}
	case StateOpen:
		// calls are not let through while Open, so a late success is ignored
	}
}

// GetProviderStatus returns the gateway's state and consecutive failure count
// without triggering a transition.
func (cb *CircuitBreaker) GetProviderStatus(name string) (State, int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	gs := cb.getState(name)
	return gs.state, gs.consecutiveFailures
}
