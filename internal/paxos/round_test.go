package paxos

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundSequence_FirstRoundAdvancesPastID(t *testing.T) {
	seq := NewRoundSequence(2, 3)
	require.Equal(t, Round(5), seq.Next())
}

func TestRoundSequence_IsMonotonic(t *testing.T) {
	seq := NewRoundSequence(1, 3)
	prev := seq.Next()
	for i := 0; i < 5; i++ {
		next := seq.Next()
		require.Greater(t, uint64(next), uint64(prev))
		prev = next
	}
}

func TestRoundSequence_DistinctProposersAreDisjoint(t *testing.T) {
	seen := make(map[Round]int)
	seqs := []*RoundSequence{
		NewRoundSequence(1, 3),
		NewRoundSequence(2, 3),
		NewRoundSequence(3, 3),
	}
	for _, s := range seqs {
		for i := 0; i < 10; i++ {
			seen[s.Next()]++
		}
	}
	for round, count := range seen {
		require.Equalf(t, 1, count, "round %s produced by more than one proposer", round)
	}
}
