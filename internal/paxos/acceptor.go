package paxos

import (
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// MinMessageInterval is the minimum spacing between two outgoing acceptor
// replies, carried over from the reference implementation's
// MIN_MESSAGE_INTERVAL to smooth bursts of phase-1a/phase-2a traffic
// (spec §4.2, §5).
const MinMessageInterval = 500 * time.Microsecond

// Acceptor holds the classical Synod (promisedRound, acceptedRound,
// acceptedValue) triple for one acceptor id. It is driven by a single
// event loop; HandlePhase1A/HandlePhase2A are not safe for concurrent
// use.
//
// State is volatile by design (spec §3: "per acceptor, volatile") —
// persistence across process restarts is an explicit non-goal, so unlike
// the teacher's Acceptor there is no Storage dependency here.
type Acceptor struct {
	id            string
	promisedRound Round
	acceptedRound Round
	acceptedValue string

	lastReply time.Time
	logger    log.Logger
}

// NewAcceptor builds an acceptor with the given id, starting at the
// initial (0, 0, ⊥) state.
func NewAcceptor(id string, logger log.Logger) *Acceptor {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Acceptor{id: id, logger: log.With(logger, "role", "acceptor", "id", id)}
}

// State returns the acceptor's current triple, for tests and debugging.
func (a *Acceptor) State() (promised, accepted Round, value string) {
	return a.promisedRound, a.acceptedRound, a.acceptedValue
}

// pace blocks, if necessary, so that no two replies leave less than
// MinMessageInterval apart.
func (a *Acceptor) pace() {
	if since := time.Since(a.lastReply); since < MinMessageInterval {
		time.Sleep(MinMessageInterval - since)
	}
	a.lastReply = time.Now()
}

// HandlePhase1A processes a PHASE1A message. It returns the Phase1B
// reply and true if one should be sent; ok is false when the round is
// silently dropped (R < promisedRound).
func (a *Acceptor) HandlePhase1A(m Phase1A) (reply Phase1B, ok bool) {
	if m.Round < a.promisedRound {
		level.Debug(a.logger).Log("msg", "dropped PHASE1A below promised round",
			"round", m.Round, "promised", a.promisedRound)
		return Phase1B{}, false
	}
	a.promisedRound = m.Round
	a.pace()
	reply = Phase1B{Round: m.Round, AcceptorID: a.id}
	if a.acceptedRound > 0 {
		reply.HasAccepted = true
		reply.AcceptedRound = a.acceptedRound
		reply.AcceptedValue = a.acceptedValue
	}
	level.Debug(a.logger).Log("msg", "promised", "round", m.Round)
	return reply, true
}

// HandlePhase2A processes a PHASE2A message. It returns the Phase2B
// reply and true if one should be sent; ok is false when the round is
// silently dropped (R < promisedRound).
func (a *Acceptor) HandlePhase2A(m Phase2A) (reply Phase2B, ok bool) {
	if m.Round < a.promisedRound {
		level.Debug(a.logger).Log("msg", "dropped PHASE2A below promised round",
			"round", m.Round, "promised", a.promisedRound)
		return Phase2B{}, false
	}
	a.promisedRound = m.Round
	a.acceptedRound = m.Round
	a.acceptedValue = m.Value
	a.pace()
	level.Debug(a.logger).Log("msg", "accepted", "round", m.Round, "value", m.Value)
	return Phase2B{Round: m.Round, Value: m.Value, AcceptorID: a.id}, true
}
