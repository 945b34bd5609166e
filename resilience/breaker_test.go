package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBreaker(maxFailures int) (*Breaker, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	b := NewBreaker(BreakerConfig{MaxFailures: maxFailures, Cooldown: 10 * time.Second}).
		WithClock(func() time.Time { return now })
	return b, &now
}

func TestBreaker_InitialState(t *testing.T) {
	b, _ := newTestBreaker(3)
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_FailuresLeadToOpen(t *testing.T) {
	b, _ := newTestBreaker(3)
	b.Failure()
	b.Failure()
	assert.Equal(t, StateClosed, b.State())
	b.Failure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(2)
	b.Failure()
	b.Success()
	b.Failure()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, now := newTestBreaker(1)
	b.Failure()
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)

	*now = now.Add(11 * time.Second)
	assert.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	// only one probe at a time
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)

	b.Success()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(1)
	b.Failure()
	*now = now.Add(11 * time.Second)
	assert.NoError(t, b.Allow())
	b.Failure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreakerStateString(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "UNKNOWN", BreakerState(9).String())
}
