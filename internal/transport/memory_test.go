package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryTransport_BroadcastDeliversToGroupMembers(t *testing.T) {
	bus := NewBus()
	a := bus.Bind(Acceptors)
	b := bus.Bind(Acceptors)
	other := bus.Bind(Learners)

	a.Broadcast(Acceptors, "hello")

	got, err := b.ReceiveTimeout(100 * time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "hello", got)

	_, err = other.ReceiveTimeout(10 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestMemoryTransport_ReceiveTimesOutWhenEmpty(t *testing.T) {
	bus := NewBus()
	tr := bus.Bind(Proposers)
	_, err := tr.ReceiveTimeout(10 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestMemoryTransport_CrossGroupBroadcast(t *testing.T) {
	bus := NewBus()
	learner := bus.Bind(Learners)
	proposer := bus.Bind(Proposers)

	proposer.Broadcast(Learners, "decision")

	got, err := learner.ReceiveTimeout(100 * time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "decision", got)
}
