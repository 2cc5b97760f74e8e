package signaling

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClientRegistry_AddAssignsUniqueIDs(t *testing.T) {
	reg, err := NewClientRegistry(4, newEngineClock())
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		c, err := reg.Add(newFakeConn(fmt.Sprintf("conn-%d", i)))
		require.NoError(t, err)
		require.True(t, c.Alive)
		require.Equal(t, StateConnected, c.State)
		require.False(t, seen[c.ID])
		seen[c.ID] = true
	}
	require.Equal(t, 4, reg.ActiveCount())
	require.Equal(t, uint64(4), reg.TotalConnections())
}

func TestClientRegistry_FullRejectsAdd(t *testing.T) {
	reg, err := NewClientRegistry(1, newEngineClock())
	require.NoError(t, err)

	_, err = reg.Add(newFakeConn("a"))
	require.NoError(t, err)

	_, err = reg.Add(newFakeConn("b"))
	require.ErrorIs(t, err, ErrRegistryFull)
	require.Equal(t, 1, reg.ActiveCount())
}

func TestClientRegistry_SlotReuseAfterRemove(t *testing.T) {
	reg, err := NewClientRegistry(1, newEngineClock())
	require.NoError(t, err)

	connA := newFakeConn("a")
	a, err := reg.Add(connA)
	require.NoError(t, err)

	reg.Remove(a)
	require.False(t, a.Alive)
	require.Equal(t, StateDisconnecting, a.State)
	require.Nil(t, reg.FindByConn(connA))
	require.Equal(t, 0, reg.ActiveCount())

	// Removing twice is a no-op.
	reg.Remove(a)
	require.Equal(t, 0, reg.ActiveCount())

	b, err := reg.Add(newFakeConn("b"))
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, uint64(2), reg.TotalConnections())
}

func TestClientRegistry_FindByConn(t *testing.T) {
	reg, err := NewClientRegistry(2, newEngineClock())
	require.NoError(t, err)

	connA, connB := newFakeConn("a"), newFakeConn("b")
	a, err := reg.Add(connA)
	require.NoError(t, err)
	b, err := reg.Add(connB)
	require.NoError(t, err)

	require.Same(t, a, reg.FindByConn(connA))
	require.Same(t, b, reg.FindByConn(connB))
	require.Nil(t, reg.FindByConn(newFakeConn("unknown")))
}

func TestClient_TimedOutIsStrict(t *testing.T) {
	clk := newEngineClock()
	reg, err := NewClientRegistry(1, clk)
	require.NoError(t, err)

	c, err := reg.Add(newFakeConn("a"))
	require.NoError(t, err)

	timeout := 30 * time.Second
	clk.Advance(timeout)
	require.False(t, c.TimedOut(clk.Now(), timeout), "exactly at the limit is not timed out")

	clk.Advance(time.Nanosecond)
	require.True(t, c.TimedOut(clk.Now(), timeout))

	c.Touch(clk.Now())
	require.False(t, c.TimedOut(clk.Now(), timeout))
}

func TestNewClientRegistry_RejectsBadCapacity(t *testing.T) {
	_, err := NewClientRegistry(0, nil)
	require.Error(t, err)
	_, err = NewClientRegistry(-5, nil)
	require.Error(t, err)
}
