package resilience_test

import (
	"errors"
	"testing"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junctionflow/junctionflow/internal/resilience"
)

type fixedBreaker struct {
	state gobreaker.State
}

func (b fixedBreaker) State() gobreaker.State   { return b.state }
func (b fixedBreaker) Counts() gobreaker.Counts { return gobreaker.Counts{Requests: 3} }

func TestRegistry_Health(t *testing.T) {
	registry := resilience.NewRegistry()
	registry.Register("log-store", fixedBreaker{state: gobreaker.StateClosed})
	registry.Register("detector", fixedBreaker{state: gobreaker.StateOpen})
	registry.Register("cache", fixedBreaker{state: gobreaker.StateHalfOpen})

	all := registry.All()
	require.Len(t, all, 3)
	assert.Equal(t, "cache", all[0].Name)
	assert.Equal(t, resilience.StatusDegraded, all[0].Status)
	assert.Equal(t, "detector", all[1].Name)
	assert.Equal(t, resilience.StatusUnhealthy, all[1].Status)
	assert.Equal(t, "open", all[1].State)
	assert.Equal(t, "log-store", all[2].Name)
	assert.True(t, all[2].IsHealthy())
	assert.Equal(t, uint32(3), all[2].Counts.Requests)
}

func TestRegistry_RecordOutcomes(t *testing.T) {
	registry := resilience.NewRegistry()
	registry.Register("log-store", fixedBreaker{})

	registry.RecordSuccess("log-store")
	registry.RecordFailure("log-store", errors.New("disk full"))
	registry.RecordFailure("unknown", errors.New("ignored"))

	health, ok := registry.Health("log-store")
	require.True(t, ok)
	assert.NotNil(t, health.LastSuccessAt)
	assert.NotNil(t, health.LastFailureAt)
	assert.Equal(t, "disk full", health.LastError)

	_, ok = registry.Health("unknown")
	assert.False(t, ok)
}

func TestNewBreaker_Trips(t *testing.T) {
	cfg := resilience.DefaultBreakerConfig("store")
	cfg.MinRequests = 2
	cb := resilience.NewBreaker[int](cfg)

	for i := 0; i < 2; i++ {
		_, _ = cb.Execute(func() (int, error) { return 0, errors.New("boom") })
	}

	assert.Equal(t, gobreaker.StateOpen, cb.State())
	_, err := cb.Execute(func() (int, error) { return 1, nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
