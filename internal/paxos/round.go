// Package paxos implements the Synod consensus engine: the Proposer,
// Acceptor, and Learner role state machines, their wire message grammar,
// and the round-number discipline that keeps proposals from distinct
// proposers disjoint.
package paxos

import "fmt"

// Round is a Synod ballot number. Zero means "no round" (an acceptor that
// has never promised, or a proposer with no active round).
//
// Round numbers are generated so that two distinct proposers never produce
// the same round: a proposer with id p (1..NumProposers) starts at R=p and
// advances by R += NumProposers on every new attempt. This keeps the
// multiset of rounds generated by proposer p congruent to p modulo
// NumProposers, so rounds from distinct proposers are disjoint by
// construction — no tie-breaking on proposer id is needed when comparing
// rounds, only ordinary integer comparison.
type Round uint64

// Zero is the initial, "no round" value of an acceptor or proposer.
const Zero Round = 0

// IsZero reports whether r is the zero round.
func (r Round) IsZero() bool { return r == Zero }

// String renders r for logging.
func (r Round) String() string { return fmt.Sprintf("%d", uint64(r)) }

// RoundSequence generates successive round numbers for one proposer.
// It is not safe for concurrent use; the Proposer event loop owns it
// exclusively.
type RoundSequence struct {
	proposerID int
	numPeers   int
	current    Round
}

// NewRoundSequence builds the sequence for a proposer with the given id
// (1-indexed) among numPeers total proposers. R is initialized to
// proposerID; the first call to Next already advances past it, so the
// first round actually used is proposerID+numPeers, matching the
// reference implementation.
func NewRoundSequence(proposerID, numPeers int) *RoundSequence {
	return &RoundSequence{proposerID: proposerID, numPeers: numPeers, current: Round(proposerID)}
}

// Next advances this proposer's round number by numPeers and returns it.
func (s *RoundSequence) Next() Round {
	s.current += Round(s.numPeers)
	return s.current
}
