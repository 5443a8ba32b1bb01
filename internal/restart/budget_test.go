package restart

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetAllowsUpToMaxWithinWindow(t *testing.T) {
	b := New(3, 600*time.Second)
	base := time.Unix(1_700_000_000, 0)

	require.True(t, b.Allow(base))
	require.True(t, b.Allow(base.Add(10*time.Second)))
	require.True(t, b.Allow(base.Add(20*time.Second)))
	assert.False(t, b.Allow(base.Add(30*time.Second)), "fourth restart inside the window must be denied")
	assert.Equal(t, 3, b.Count(base.Add(30*time.Second)))
}

func TestBudgetSlidesInsteadOfCountingLifetime(t *testing.T) {
	b := New(3, 600*time.Second)
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 3; i++ {
		require.True(t, b.Allow(base.Add(time.Duration(i)*time.Second)))
	}
	require.False(t, b.Allow(base.Add(100*time.Second)))

	// Only the first entry has aged out.
	at := base.Add(600 * time.Second)
	assert.Equal(t, 2, b.Count(at))
	assert.True(t, b.Allow(at))
	assert.False(t, b.Allow(at))

	// After a full quiet window the budget is back to full.
	later := at.Add(601 * time.Second)
	assert.Equal(t, 0, b.Count(later))
	for i := 0; i < 3; i++ {
		assert.True(t, b.Allow(later))
	}
}

func TestBudgetDeniedAttemptIsNotRecorded(t *testing.T) {
	b := New(1, time.Minute)
	now := time.Now()
	require.True(t, b.Allow(now))
	require.False(t, b.Allow(now))
	require.False(t, b.Allow(now))
	assert.Equal(t, 1, b.Len())
}

func TestBudgetDefaultsAndReset(t *testing.T) {
	b := New(0, 0)
	assert.Equal(t, DefaultMax, b.Max)
	assert.Equal(t, DefaultWindow, b.Window)

	now := time.Now()
	b.Allow(now)
	b.Allow(now)
	b.Reset()
	assert.Equal(t, 0, b.Len())
}

func TestBudgetCloneIsIndependent(t *testing.T) {
	b := New(3, time.Minute)
	now := time.Now()
	b.Allow(now)

	c := b.Clone()
	c.Allow(now)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 2, c.Len())
}
