package paxos

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Verb is the first whitespace-separated token of a datagram, or empty
// for a bare value submission.
type Verb string

const (
	VerbPhase1A   Verb = "PHASE1A"
	VerbPhase1B   Verb = "PHASE1B"
	VerbPhase2A   Verb = "PHASE2A"
	VerbPhase2B   Verb = "PHASE2B"
	VerbDecision  Verb = "DECISION"
	VerbCatchUp   Verb = "CATCHUP_REQUEST"
	verbSubmitted Verb = "" // bare value or end marker
)

// EndMarkerPrefix is the terminator prefix distinguishing an end marker
// from a data value (§3).
const EndMarkerPrefix = "END_"

// ErrMalformed is returned by Parse for any datagram that doesn't match
// the grammar of spec §4.1.
var ErrMalformed = errors.New("malformed message")

// IsEndMarker reports whether v is an end-marker value rather than a data
// value.
func IsEndMarker(v string) bool { return strings.HasPrefix(v, EndMarkerPrefix) }

// IsCatchUpRequest reports whether v (a bare datagram payload) is a
// catch-up request, per the CATCHUP_REQUEST_<learnerId> grammar.
func IsCatchUpRequest(v string) bool { return strings.HasPrefix(v, string(VerbCatchUp)+"_") }

// ParseEndMarker splits END_<clientId>_<count> into its fields.
func ParseEndMarker(v string) (clientID int, count int, err error) {
	if !IsEndMarker(v) {
		return 0, 0, errors.Wrapf(ErrMalformed, "not an end marker: %q", v)
	}
	parts := strings.Split(strings.TrimPrefix(v, EndMarkerPrefix), "_")
	if len(parts) != 2 {
		return 0, 0, errors.Wrapf(ErrMalformed, "end marker missing fields: %q", v)
	}
	clientID, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, errors.Wrapf(ErrMalformed, "end marker client id: %q", v)
	}
	count, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, errors.Wrapf(ErrMalformed, "end marker count: %q", v)
	}
	return clientID, count, nil
}

// FormatEndMarker builds an END_<clientId>_<count> token.
func FormatEndMarker(clientID, count int) string {
	return fmt.Sprintf("%s%d_%d", EndMarkerPrefix, clientID, count)
}

// FormatCatchUpRequest builds a CATCHUP_REQUEST_<learnerId> token. A
// caller may append an opaque trailing nonce token (e.g. a uuid) after
// the learner id; Parse ignores any tokens beyond the learner id.
func FormatCatchUpRequest(learnerID string, nonce string) string {
	if nonce == "" {
		return fmt.Sprintf("%s_%s", VerbCatchUp, learnerID)
	}
	return fmt.Sprintf("%s_%s %s", VerbCatchUp, learnerID, nonce)
}

// Phase1A is "I want to start round R" (proposer -> acceptors).
type Phase1A struct {
	Round Round
}

func (m Phase1A) Encode() string { return fmt.Sprintf("%s %s", VerbPhase1A, m.Round) }

// Phase1B is an acceptor's reply to Phase1A (acceptor -> proposers).
// AcceptedRound/AcceptedValue are only meaningful when HasAccepted is
// true (the acceptor has previously accepted something).
type Phase1B struct {
	Round         Round
	AcceptorID    string
	HasAccepted   bool
	AcceptedRound Round
	AcceptedValue string
}

func (m Phase1B) Encode() string {
	if !m.HasAccepted {
		return fmt.Sprintf("%s %s %s", VerbPhase1B, m.Round, m.AcceptorID)
	}
	return fmt.Sprintf("%s %s %s %s %s", VerbPhase1B, m.Round, m.AcceptorID, m.AcceptedRound, m.AcceptedValue)
}

// Phase2A is "accept value V at round R" (proposer -> acceptors).
type Phase2A struct {
	Round Round
	Value string
}

func (m Phase2A) Encode() string { return fmt.Sprintf("%s %s %s", VerbPhase2A, m.Round, m.Value) }

// Phase2B is an acceptor's reply to Phase2A (acceptor -> proposers).
type Phase2B struct {
	Round      Round
	Value      string
	AcceptorID string
}

func (m Phase2B) Encode() string {
	return fmt.Sprintf("%s %s %s %s", VerbPhase2B, m.Round, m.Value, m.AcceptorID)
}

// Decision announces a chosen value (proposer -> learners & proposers,
// learner -> learners as gossip).
type Decision struct {
	Value string
}

func (m Decision) Encode() string { return fmt.Sprintf("%s %s", VerbDecision, m.Value) }

// Message is the parsed form of one datagram. Exactly one field is
// meaningful, selected by Verb; Submission holds both bare value
// submissions and end markers (Verb == verbSubmitted), since both are
// plain tokens on the wire.
type Message struct {
	Verb       Verb
	Phase1A    Phase1A
	Phase1B    Phase1B
	Phase2A    Phase2A
	Phase2B    Phase2B
	Decision   Decision
	Submission string // bare value, end marker, or catch-up request
}

// Parse decodes one whitespace-tokenized datagram per spec §4.1. A
// datagram that doesn't start with a recognized verb is treated as a bare
// submission (data value or end marker): the grammar is a closed set of
// verbs plus free-form values, and values never collide with verbs
// because data values "without embedded whitespace" are defined
// separately from the all-caps verb tokens by convention of this
// protocol's senders.
func Parse(datagram string) (Message, error) {
	datagram = strings.TrimSpace(datagram)
	if datagram == "" {
		return Message{}, errors.Wrap(ErrMalformed, "empty datagram")
	}
	fields := strings.Fields(datagram)
	switch Verb(fields[0]) {
	case VerbPhase1A:
		if len(fields) != 2 {
			return Message{}, errors.Wrapf(ErrMalformed, "PHASE1A: %q", datagram)
		}
		r, err := parseRound(fields[1])
		if err != nil {
			return Message{}, err
		}
		return Message{Verb: VerbPhase1A, Phase1A: Phase1A{Round: r}}, nil

	case VerbPhase1B:
		if len(fields) != 3 && len(fields) != 5 {
			return Message{}, errors.Wrapf(ErrMalformed, "PHASE1B: %q", datagram)
		}
		r, err := parseRound(fields[1])
		if err != nil {
			return Message{}, err
		}
		m := Phase1B{Round: r, AcceptorID: fields[2]}
		if len(fields) == 5 {
			ar, err := parseRound(fields[3])
			if err != nil {
				return Message{}, err
			}
			m.HasAccepted = true
			m.AcceptedRound = ar
			m.AcceptedValue = fields[4]
		}
		return Message{Verb: VerbPhase1B, Phase1B: m}, nil

	case VerbPhase2A:
		if len(fields) != 3 {
			return Message{}, errors.Wrapf(ErrMalformed, "PHASE2A: %q", datagram)
		}
		r, err := parseRound(fields[1])
		if err != nil {
			return Message{}, err
		}
		return Message{Verb: VerbPhase2A, Phase2A: Phase2A{Round: r, Value: fields[2]}}, nil

	case VerbPhase2B:
		if len(fields) != 4 {
			return Message{}, errors.Wrapf(ErrMalformed, "PHASE2B: %q", datagram)
		}
		r, err := parseRound(fields[1])
		if err != nil {
			return Message{}, err
		}
		return Message{Verb: VerbPhase2B, Phase2B: Phase2B{Round: r, Value: fields[2], AcceptorID: fields[3]}}, nil

	case VerbDecision:
		if len(fields) != 2 {
			return Message{}, errors.Wrapf(ErrMalformed, "DECISION: %q", datagram)
		}
		return Message{Verb: VerbDecision, Decision: Decision{Value: fields[1]}}, nil

	default:
		// Bare submission: a data value, an end marker, or a catch-up
		// request. All are single tokens as far as routing cares.
		return Message{Verb: verbSubmitted, Submission: fields[0]}, nil
	}
}

func parseRound(s string) (Round, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformed, "round number: %q", s)
	}
	return Round(n), nil
}
