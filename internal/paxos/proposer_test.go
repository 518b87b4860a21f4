package paxos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arnovale/synod/internal/transport"
)

// fakeTransport is a minimal in-process transport.Transport for
// exercising one role in isolation, recording everything broadcast
// instead of actually delivering it anywhere.
type fakeTransport struct {
	inbox chan string
	sent  []sentDatagram
}

type sentDatagram struct {
	group   transport.Group
	payload string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbox: make(chan string, 64)}
}

func (f *fakeTransport) Broadcast(group transport.Group, payload string) error {
	f.sent = append(f.sent, sentDatagram{group, payload})
	return nil
}

func (f *fakeTransport) ReceiveTimeout(timeout time.Duration) (string, error) {
	select {
	case v := <-f.inbox:
		return v, nil
	case <-time.After(timeout):
		return "", transport.ErrTimeout
	}
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) push(datagram string) { f.inbox <- datagram }

func (f *fakeTransport) lastSentTo(group transport.Group) (string, bool) {
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].group == group {
			return f.sent[i].payload, true
		}
	}
	return "", false
}

func TestProposer_StartsRoundOnSubmit(t *testing.T) {
	tr := newFakeTransport()
	p := NewProposer("p1", 1, 1, 3, 1, tr, nil)
	p.Submit("hello")

	ok := p.startNextRound()
	require.True(t, ok)
	payload, found := tr.lastSentTo(transport.Acceptors)
	require.True(t, found)
	msg, err := Parse(payload)
	require.NoError(t, err)
	require.Equal(t, VerbPhase1A, msg.Verb)
}

func TestProposer_ReachesPhase2AfterQuorumOfPromises(t *testing.T) {
	tr := newFakeTransport()
	p := NewProposer("p1", 1, 1, 3, 1, tr, nil)
	p.Submit("hello")
	p.startNextRound()
	round := p.activeRound

	p.handlePhase1B(Phase1B{Round: round, AcceptorID: "a1"})
	_, found := tr.lastSentTo(transport.Acceptors)
	require.True(t, found) // still just the PHASE1A so far
	require.False(t, p.phase2Sent)

	p.handlePhase1B(Phase1B{Round: round, AcceptorID: "a2"})
	require.True(t, p.phase2Sent)
	payload, _ := tr.lastSentTo(transport.Acceptors)
	msg, err := Parse(payload)
	require.NoError(t, err)
	require.Equal(t, VerbPhase2A, msg.Verb)
	require.Equal(t, "hello", msg.Phase2A.Value)
}

func TestProposer_AdoptsHighestAcceptedValue(t *testing.T) {
	tr := newFakeTransport()
	p := NewProposer("p1", 1, 1, 3, 1, tr, nil)
	p.Submit("mine")
	p.startNextRound()
	round := p.activeRound

	p.handlePhase1B(Phase1B{Round: round, AcceptorID: "a1", HasAccepted: true, AcceptedRound: 2, AcceptedValue: "older"})
	p.handlePhase1B(Phase1B{Round: round, AcceptorID: "a2", HasAccepted: true, AcceptedRound: 4, AcceptedValue: "newer"})

	require.True(t, p.isAdopted)
	require.Equal(t, "newer", p.currentValue)
}

func TestProposer_DecidesOnPhase2BQuorum(t *testing.T) {
	tr := newFakeTransport()
	p := NewProposer("p1", 1, 1, 3, 1, tr, nil)
	p.Submit("hello")
	p.startNextRound()
	round := p.activeRound
	p.handlePhase1B(Phase1B{Round: round, AcceptorID: "a1"})
	p.handlePhase1B(Phase1B{Round: round, AcceptorID: "a2"})

	p.handlePhase2B(Phase2B{Round: round, Value: "hello", AcceptorID: "a1"})
	require.False(t, p.decided["hello"])
	p.handlePhase2B(Phase2B{Round: round, Value: "hello", AcceptorID: "a2"})
	require.True(t, p.decided["hello"])
	require.Equal(t, 1, p.valuesDecided)

	payload, found := tr.lastSentTo(transport.Learners)
	require.True(t, found)
	msg, err := Parse(payload)
	require.NoError(t, err)
	require.Equal(t, "hello", msg.Decision.Value)
}

func TestProposer_TerminatesOnceClientsDoneAndValuesDecided(t *testing.T) {
	tr := newFakeTransport()
	p := NewProposer("p1", 1, 1, 3, 1, tr, nil)
	require.False(t, p.shouldTerminate())

	// Recording the client's end marker directly (bypassing Submit's
	// queueing) isolates the client-accounting half of the termination
	// heuristic from the idle/queues-drained half, which is covered by
	// TestProposer_DoesNotTerminateWithPendingQueueOrActiveRound.
	p.endMarkersSeen[7] = true
	p.clientCounts[7] = 1
	require.False(t, p.shouldTerminate())

	p.recordDecision("hello")
	require.True(t, p.shouldTerminate())
}

func TestProposer_DoesNotTerminateWithPendingQueueOrActiveRound(t *testing.T) {
	tr := newFakeTransport()
	p := NewProposer("p1", 1, 1, 3, 1, tr, nil)
	p.endMarkersSeen[7] = true
	p.clientCounts[7] = 1
	p.recordDecision("hello")
	require.True(t, p.shouldTerminate())

	p.Submit("still-pending")
	require.False(t, p.shouldTerminate(), "a value still queued must block termination")

	p.queueRegular = nil
	require.True(t, p.shouldTerminate())

	p.activeRound = Round(1)
	require.False(t, p.shouldTerminate(), "an in-flight round must block termination")
}

func TestProposer_QueueDedupesRepeatedSubmission(t *testing.T) {
	tr := newFakeTransport()
	p := NewProposer("p1", 1, 1, 3, 1, tr, nil)
	p.Submit("hello")
	p.Submit("hello")
	p.Submit("hello")
	require.Len(t, p.queueRegular, 1)
}

func TestProposer_AbandonRoundAppliesBackoffAndRequeues(t *testing.T) {
	tr := newFakeTransport()
	p := NewProposer("p1", 1, 1, 3, 1, tr, nil)
	p.Submit("hello")
	p.startNextRound()
	before := p.backoff

	start := time.Now()
	p.abandonRound()
	elapsed := time.Since(start)

	require.True(t, p.activeRound.IsZero())
	require.Greater(t, p.backoff, before)
	require.GreaterOrEqual(t, elapsed, time.Duration(0))
	_, ok := p.nextQueuedValue()
	require.True(t, ok)
}
