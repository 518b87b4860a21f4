package paxos

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcceptor_PromisesHigherRound(t *testing.T) {
	a := NewAcceptor("a1", nil)
	reply, ok := a.HandlePhase1A(Phase1A{Round: 5})
	require.True(t, ok)
	require.Equal(t, Round(5), reply.Round)
	require.False(t, reply.HasAccepted)
}

func TestAcceptor_DropsPhase1ABelowPromised(t *testing.T) {
	a := NewAcceptor("a1", nil)
	_, ok := a.HandlePhase1A(Phase1A{Round: 5})
	require.True(t, ok)
	_, ok = a.HandlePhase1A(Phase1A{Round: 3})
	require.False(t, ok)
}

func TestAcceptor_AcceptsAtOrAbovePromisedRound(t *testing.T) {
	a := NewAcceptor("a1", nil)
	a.HandlePhase1A(Phase1A{Round: 5})
	reply, ok := a.HandlePhase2A(Phase2A{Round: 5, Value: "v1"})
	require.True(t, ok)
	require.Equal(t, "v1", reply.Value)

	_, accepted, value := a.State()
	require.Equal(t, Round(5), accepted)
	require.Equal(t, "v1", value)
}

func TestAcceptor_DropsPhase2ABelowPromised(t *testing.T) {
	a := NewAcceptor("a1", nil)
	a.HandlePhase1A(Phase1A{Round: 5})
	_, ok := a.HandlePhase2A(Phase2A{Round: 3, Value: "v1"})
	require.False(t, ok)
}

func TestAcceptor_Phase1BReportsPriorAccept(t *testing.T) {
	a := NewAcceptor("a1", nil)
	a.HandlePhase1A(Phase1A{Round: 5})
	a.HandlePhase2A(Phase2A{Round: 5, Value: "v1"})

	reply, ok := a.HandlePhase1A(Phase1A{Round: 9})
	require.True(t, ok)
	require.True(t, reply.HasAccepted)
	require.Equal(t, Round(5), reply.AcceptedRound)
	require.Equal(t, "v1", reply.AcceptedValue)
}
