package paxos

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_Phase1A(t *testing.T) {
	msg, err := Parse("PHASE1A 7")
	require.NoError(t, err)
	require.Equal(t, VerbPhase1A, msg.Verb)
	require.Equal(t, Round(7), msg.Phase1A.Round)
}

func TestParse_Phase1BWithoutPriorAccept(t *testing.T) {
	msg, err := Parse("PHASE1B 7 a1")
	require.NoError(t, err)
	require.Equal(t, VerbPhase1B, msg.Verb)
	require.False(t, msg.Phase1B.HasAccepted)
	require.Equal(t, "a1", msg.Phase1B.AcceptorID)
}

func TestParse_Phase1BWithPriorAccept(t *testing.T) {
	msg, err := Parse("PHASE1B 7 a1 4 hello")
	require.NoError(t, err)
	require.True(t, msg.Phase1B.HasAccepted)
	require.Equal(t, Round(4), msg.Phase1B.AcceptedRound)
	require.Equal(t, "hello", msg.Phase1B.AcceptedValue)
}

func TestParse_RejectsMalformedVerbPayloads(t *testing.T) {
	cases := []string{
		"PHASE1A",
		"PHASE1A abc",
		"PHASE1B 7",
		"PHASE2A 7",
		"PHASE2B 7 v",
		"DECISION",
		"",
	}
	for _, c := range cases {
		_, err := Parse(c)
		require.Errorf(t, err, "expected error for %q", c)
	}
}

func TestParse_BareSubmissionIsPassedThrough(t *testing.T) {
	msg, err := Parse("my-value")
	require.NoError(t, err)
	require.Equal(t, verbSubmitted, msg.Verb)
	require.Equal(t, "my-value", msg.Submission)
}

func TestEndMarkerRoundTrip(t *testing.T) {
	token := FormatEndMarker(3, 42)
	require.True(t, IsEndMarker(token))
	clientID, count, err := ParseEndMarker(token)
	require.NoError(t, err)
	require.Equal(t, 3, clientID)
	require.Equal(t, 42, count)
}

func TestParseEndMarker_RejectsNonMarker(t *testing.T) {
	_, _, err := ParseEndMarker("not-a-marker")
	require.Error(t, err)
}

func TestCatchUpRequest(t *testing.T) {
	require.True(t, IsCatchUpRequest(FormatCatchUpRequest("l2", "")))
	require.True(t, IsCatchUpRequest(FormatCatchUpRequest("l2", "nonce-123")))
	require.False(t, IsCatchUpRequest("hello"))
}

func TestEncode_RoundTripsThroughParse(t *testing.T) {
	p1a := Phase1A{Round: 9}
	msg, err := Parse(p1a.Encode())
	require.NoError(t, err)
	require.Equal(t, p1a, msg.Phase1A)

	p1b := Phase1B{Round: 9, AcceptorID: "a2", HasAccepted: true, AcceptedRound: 4, AcceptedValue: "v1"}
	msg, err = Parse(p1b.Encode())
	require.NoError(t, err)
	require.Equal(t, p1b, msg.Phase1B)

	p2a := Phase2A{Round: 9, Value: "v1"}
	msg, err = Parse(p2a.Encode())
	require.NoError(t, err)
	require.Equal(t, p2a, msg.Phase2A)

	p2b := Phase2B{Round: 9, Value: "v1", AcceptorID: "a2"}
	msg, err = Parse(p2b.Encode())
	require.NoError(t, err)
	require.Equal(t, p2b, msg.Phase2B)

	dec := Decision{Value: "v1"}
	msg, err = Parse(dec.Encode())
	require.NoError(t, err)
	require.Equal(t, dec, msg.Decision)
}
