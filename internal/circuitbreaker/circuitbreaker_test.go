package circuitbreaker_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/payment-gateway/internal/circuitbreaker"
)

const (
	testGateway = "CardConnect"
	anotherGateway = "Payload"
)

func TestNewCircuitBreaker(t *testing.T) {
	t.Run("Default config", func(t *testing.T) {
		cfg := circuitbreaker.Config{}
		cb := circuitbreaker.NewCircuitBreaker(cfg)
		require.NotNil(t, cb)
		// Defaults: three consecutive failures open the circuit.
		assert.True(t, cb.AllowRequest(testGateway), "Should allow by default")
		cb.RecordFailure(testGateway)
		cb.RecordFailure(testGateway)
		assert.True(t, cb.AllowRequest(testGateway), "Should still be closed after 2 failures")
		cb.RecordFailure(testGateway)
		assert.False(t, cb.AllowRequest(testGateway), "Should be open after 3 failures with default config")
	})

	t.Run("Custom config", func(t *testing.T) {
		cfg := circuitbreaker.Config{
			FailureThreshold: 2,
			ResetTimeout:     100 * time.Millisecond,
		}
		cb := circuitbreaker.NewCircuitBreaker(cfg)
		require.NotNil(t, cb)
		cb.RecordFailure(testGateway)
		assert.True(t, cb.AllowRequest(testGateway), "Should still be closed after 1 failure")
		cb.RecordFailure(testGateway)
		assert.False(t, cb.AllowRequest(testGateway), "Should be open after 2 failures with custom config")
	})
}

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	cfg := circuitbreaker.Config{
		FailureThreshold:     2,
		ResetTimeout:         50 * time.Millisecond, // Short for testing
	}

	t.Run("Closed_To_Open", func(t *testing.T) {
		cb := circuitbreaker.NewCircuitBreaker(cfg)

		// Initial state: Closed
		assert.True(t, cb.AllowRequest(testGateway), "Should be initially Closed and allow requests")
		state, failures := cb.GetProviderStatus(testGateway)
		assert.Equal(t, circuitbreaker.StateClosed, state)
		assert.Equal(t, 0, failures)

		// Record failures to meet threshold
		cb.RecordFailure(testGateway) // Failure 1
		state, failures = cb.GetProviderStatus(testGateway)
		assert.Equal(t, circuitbreaker.StateClosed, state)
		assert.Equal(t, 1, failures)
		assert.True(t, cb.AllowRequest(testGateway), "Still Closed after 1 failure")

		cb.RecordFailure(testGateway) // Failure 2 - Threshold met
		state, failures = cb.GetProviderStatus(testGateway)
		assert.Equal(t, circuitbreaker.StateOpen, state, "Should transition to Open")
		assert.Equal(t, cfg.FailureThreshold, failures) // Failures should be at threshold
		assert.False(t, cb.AllowRequest(testGateway), "Should be Open and block requests")
	})

	t.Run("Open_To_HalfOpen", func(t *testing.T) {
		cb := circuitbreaker.NewCircuitBreaker(cfg)
		// Trip to Open state
		cb.RecordFailure(testGateway)
		cb.RecordFailure(testGateway)
		require.False(t, cb.AllowRequest(testGateway), "Pre-condition: Should be Open")
		state, _ := cb.GetProviderStatus(testGateway)
		require.Equal(t, circuitbreaker.StateOpen, state)

		// Wait for ResetTimeout
		time.Sleep(cfg.ResetTimeout + 10*time.Millisecond)

		assert.True(t, cb.AllowRequest(testGateway), "Should allow request (transition to HalfOpen)")
		state, failures := cb.GetProviderStatus(testGateway)
		assert.Equal(t, circuitbreaker.StateHalfOpen, state, "State should be HalfOpen")
		assert.Equal(t, 0, failures, "Consecutive failures should reset in HalfOpen")
	})

	t.Run("HalfOpen_To_Closed_OnSuccess", func(t *testing.T) {
		cb := circuitbreaker.NewCircuitBreaker(cfg)
		// Trip to Open, then wait for HalfOpen
		cb.RecordFailure(testGateway)
		cb.RecordFailure(testGateway)
		time.Sleep(cfg.ResetTimeout + 10*time.Millisecond)
		require.True(t, cb.AllowRequest(testGateway), "Should allow request in HalfOpen") // This moves to HalfOpen
		state, _ := cb.GetProviderStatus(testGateway)
		require.Equal(t, circuitbreaker.StateHalfOpen, state, "Pre-condition: Should be HalfOpen")

		// Record success
		cb.RecordSuccess(testGateway)
		state, failures := cb.GetProviderStatus(testGateway)
		assert.Equal(t, circuitbreaker.StateClosed, state, "Should transition to Closed after success in HalfOpen")
		assert.Equal(t, 0, failures, "Failures should be reset")
		assert.True(t, cb.AllowRequest(testGateway), "Should allow requests in Closed state")
	})

	t.Run("HalfOpen_To_Open_OnFailure", func(t *testing.T) {
		cb := circuitbreaker.NewCircuitBreaker(cfg)
		// Trip to Open, then wait for HalfOpen
		cb.RecordFailure(testGateway)
		cb.RecordFailure(testGateway)
		time.Sleep(cfg.ResetTimeout + 10*time.Millisecond)
		require.True(t, cb.AllowRequest(testGateway), "Should allow request in HalfOpen") // Moves to HalfOpen
		state, _ := cb.GetProviderStatus(testGateway)
		require.Equal(t, circuitbreaker.StateHalfOpen, state, "Pre-condition: Should be HalfOpen")

		// Record failure
		cb.RecordFailure(testGateway)
		state, failures := cb.GetProviderStatus(testGateway)
		assert.Equal(t, circuitbreaker.StateOpen, state, "Should transition back to Open after failure in HalfOpen")
		// Failures set to threshold to keep it open for full timeout
		assert.Equal(t, cfg.FailureThreshold, failures, "Failures should be set to threshold")
		assert.False(t, cb.AllowRequest(testGateway), "Should block requests in Open state")

		// Check if it stays Open and doesn't immediately go to HalfOpen again
		time.Sleep(cfg.ResetTimeout / 2)
		assert.False(t, cb.AllowRequest(testGateway), "Should still be Open before ResetTimeout passes again")
	})
}

func TestCircuitBreaker_FailuresBelowThreshold(t *testing.T) {
	cfg := circuitbreaker.Config{FailureThreshold: 3}
	cb := circuitbreaker.NewCircuitBreaker(cfg)

	cb.RecordFailure(testGateway)
	state, failures := cb.GetProviderStatus(testGateway)
	assert.Equal(t, circuitbreaker.StateClosed, state)
	assert.Equal(t, 1, failures)
	assert.True(t, cb.AllowRequest(testGateway))

	cb.RecordFailure(testGateway)
	state, failures = cb.GetProviderStatus(testGateway)
	assert.Equal(t, circuitbreaker.StateClosed, state)
	assert.Equal(t, 2, failures)
	assert.True(t, cb.AllowRequest(testGateway))

	// Success should reset failures
	cb.RecordSuccess(testGateway)
	state, failures = cb.GetProviderStatus(testGateway)
	assert.Equal(t, circuitbreaker.StateClosed, state)
	assert.Equal(t, 0, failures)
	assert.True(t, cb.AllowRequest(testGateway))
}

func TestCircuitBreaker_MultipleGateways(t *testing.T) {
	cfg := circuitbreaker.Config{FailureThreshold: 1, ResetTimeout: 50 * time.Millisecond}
	cb := circuitbreaker.NewCircuitBreaker(cfg)

	// CardConnect fails and opens
	cb.RecordFailure(testGateway)
	assert.False(t, cb.AllowRequest(testGateway), "CardConnect should be Open")

	// Payload should still be Closed
	assert.True(t, cb.AllowRequest(anotherGateway), "Payload should be Closed and allow requests")
	cb.RecordFailure(anotherGateway)
	assert.False(t, cb.AllowRequest(anotherGateway), "Payload should now be Open")

	// CardConnect should still be Open
	assert.False(t, cb.AllowRequest(testGateway), "CardConnect should still be Open")

	// Wait for CardConnect to go HalfOpen
	time.Sleep(cfg.ResetTimeout + 10*time.Millisecond)
	assert.True(t, cb.AllowRequest(testGateway), "CardConnect should be HalfOpen")
	cb.RecordSuccess(testGateway)
	assert.True(t, cb.AllowRequest(testGateway), "CardConnect should be Closed")

	// Payload opened later; give it its own full timeout.
	time.Sleep(cfg.ResetTimeout + 10*time.Millisecond)
	assert.True(t, cb.AllowRequest(anotherGateway), "Payload should also be HalfOpen after its timeout")
	cb.RecordSuccess(anotherGateway)
	assert.True(t, cb.AllowRequest(anotherGateway), "Payload should be Closed")
}

func TestCircuitBreaker_Idempotency(t *testing.T) {
	cfg := circuitbreaker.Config{FailureThreshold: 1}
	cb := circuitbreaker.NewCircuitBreaker(cfg)

	// Idempotency of RecordFailure in Closed state (leading to Open)
	cb.RecordFailure(testGateway) // Transitions to Open
	state, failures := cb.GetProviderStatus(testGateway)
	assert.Equal(t, circuitbreaker.StateOpen, state)
	assert.Equal(t, 1, failures)

	cb.RecordFailure(testGateway) // Should not change anything further if already Open and failures at threshold
	state, failures = cb.GetProviderStatus(testGateway)
	assert.Equal(t, circuitbreaker.StateOpen, state)
	assert.Equal(t, 1, failures) // Stays at threshold

	// Idempotency of RecordSuccess in Closed state
	cb.RecordSuccess(anotherGateway) // Assuming anotherGateway is new, becomes Closed, 0 failures
	state, failures = cb.GetProviderStatus(anotherGateway)
	assert.Equal(t, circuitbreaker.StateClosed, state)
	assert.Equal(t, 0, failures)
	cb.RecordSuccess(anotherGateway) // Should remain Closed, 0 failures
	state, failures = cb.GetProviderStatus(anotherGateway)
	assert.Equal(t, circuitbreaker.StateClosed, state)
	assert.Equal(t, 0, failures)
}

func TestCircuitBreaker_AllowRequest_CreatesState(t *testing.T) {
    cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{})
    assert.True(t, cb.AllowRequest("new-gateway"))
    state, failures := cb.GetProviderStatus("new-gateway")
    assert.Equal(t, circuitbreaker.StateClosed, state)
    assert.Equal(t, 0, failures)
}

func TestCircuitBreaker_RecordSuccess_UntrackedGateway(t *testing.T) {
    cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{})
    cb.RecordSuccess("untracked-gateway")
    state, failures := cb.GetProviderStatus("untracked-gateway")
    assert.Equal(t, circuitbreaker.StateClosed, state)
    assert.Equal(t, 0, failures)
}

func TestCircuitBreaker_State_String(t *testing.T) {
	assert.Equal(t, "Closed", circuitbreaker.StateClosed.String())
	assert.Equal(t, "Open", circuitbreaker.StateOpen.String())
	assert.Equal(t, "HalfOpen", circuitbreaker.StateHalfOpen.String())
	assert.Equal(t, "Unknown", circuitbreaker.State(99).String())
}

func TestCircuitBreaker_ConcurrentUse(t *testing.T) {
	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{FailureThreshold: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if cb.AllowRequest(testGateway) {
				if i%2 == 0 {
					cb.RecordFailure(testGateway)
				} else {
					cb.RecordSuccess(anotherGateway)
				}
			}
		}(i)
	}
	wg.Wait()

	state, failures := cb.GetProviderStatus(testGateway)
	assert.Equal(t, circuitbreaker.StateClosed, state)
	assert.Equal(t, 25, failures)
}

func TestCircuitBreaker_HalfOpenAllowsSingleTrial(t *testing.T) {
	cfg := circuitbreaker.Config{FailureThreshold: 1, ResetTimeout: 20 * time.Millisecond}

	t.Run("Sequential", func(t *testing.T) {
		cb := circuitbreaker.NewCircuitBreaker(cfg)
		cb.RecordFailure(testGateway)
		time.Sleep(cfg.ResetTimeout + 10*time.Millisecond)

		require.True(t, cb.AllowRequest(testGateway), "First call after the timeout is the trial")
		assert.False(t, cb.AllowRequest(testGateway), "No second call while the trial is in flight")
		assert.False(t, cb.AllowRequest(testGateway))

		cb.RecordSuccess(testGateway)
		assert.True(t, cb.AllowRequest(testGateway), "Closed after a successful trial")
		assert.True(t, cb.AllowRequest(testGateway))
	})

	t.Run("Concurrent", func(t *testing.T) {
		cb := circuitbreaker.NewCircuitBreaker(cfg)
		cb.RecordFailure(testGateway)
		time.Sleep(cfg.ResetTimeout + 10*time.Millisecond)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			allowed int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if cb.AllowRequest(testGateway) {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, allowed)
	})

	t.Run("FailedTrialReopens", func(t *testing.T) {
		cb := circuitbreaker.NewCircuitBreaker(cfg)
		cb.RecordFailure(testGateway)
		time.Sleep(cfg.ResetTimeout + 10*time.Millisecond)

		require.True(t, cb.AllowRequest(testGateway))
		cb.RecordFailure(testGateway)
		assert.False(t, cb.AllowRequest(testGateway))

		time.Sleep(cfg.ResetTimeout + 10*time.Millisecond)
		assert.True(t, cb.AllowRequest(testGateway), "A new trial after the next timeout")
	})
}
