package paxos

import (
	"math/rand"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/arnovale/synod/internal/transport"
)

// Proposer-side tunables, carried over from the reference implementation
// (spec §4.3, §5).
const (
	RoundTimeout  = 1500 * time.Millisecond
	MinBackoff    = 50 * time.Millisecond
	MaxBackoff    = 1000 * time.Millisecond
	backoffGrowth = 1.5

	// maxQueueDepth bounds the regular-value submission queue so a
	// runaway client can't grow the proposer's memory without limit.
	// The oldest queued value is dropped to make room.
	maxQueueDepth = 10000
)

// Proposer drives one round at a time to either a decision or a
// contention-triggered retry, adopting any not-yet-decided value an
// acceptor already accepted rather than risking two proposers deciding
// differently
// (spec "Design Notes": the safe rewrite must implement full adoption,
// not best-effort).
type Proposer struct {
	id      string
	ordinal int
	rounds  *RoundSequence
	quorum  int

	transport transport.Transport
	logger    log.Logger
	rand      *rand.Rand

	queueRegular []string
	queueEnd     []string
	queuedSet    map[string]bool

	activeRound   Round
	originalValue string // what we pulled off our own queue for this round
	currentValue  string // what we're actually proposing; may be swapped to an adopted value
	isAdopted     bool   // currentValue came from an acceptor's prior accept, not our queue
	phase2Sent    bool
	roundStarted  time.Time
	backoff       time.Duration

	phase1bAcks map[string]Phase1B
	phase2bAcks map[string]bool

	decided        map[string]bool
	valuesDecided  int
	clientCounts   map[int]int
	endMarkersSeen map[int]bool

	expectedClients int
}

// NewProposer builds a proposer. id labels it in logs; ordinal is its
// 1-indexed position among numProposers total proposers (it seeds the
// round sequence and names its final end marker); numAcceptors is used to compute
// the acceptor majority; expectedClients is the number of distinct
// clients whose end markers this proposer waits for before declaring the
// run complete (spec §4.3 "Termination").
func NewProposer(id string, ordinal, numProposers, numAcceptors, expectedClients int, tr transport.Transport, logger log.Logger) *Proposer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Proposer{
		id:              id,
		ordinal:         ordinal,
		rounds:          NewRoundSequence(ordinal, numProposers),
		quorum:          numAcceptors/2 + 1,
		transport:       tr,
		logger:          log.With(logger, "role", "proposer", "id", id),
		rand:            rand.New(rand.NewSource(int64(ordinal) + time.Now().UnixNano())),
		queuedSet:       make(map[string]bool),
		phase1bAcks:     make(map[string]Phase1B),
		phase2bAcks:     make(map[string]bool),
		decided:         make(map[string]bool),
		clientCounts:    make(map[int]int),
		endMarkersSeen:  make(map[int]bool),
		expectedClients: expectedClients,
		backoff:         MinBackoff,
	}
}

// SubmitFromClient is the entry point for a value or end marker arriving
// directly from a client (as opposed to one this proposer received over
// the wire via Run's event loop, which goes through the same path via
// handle). Tests and in-process harnesses that feed a proposer without
// an actual client process should use this rather than Submit, so end
// markers are correctly attributed to their client for the termination
// check.
func (p *Proposer) SubmitFromClient(value string) {
	p.handleSubmission(value)
}

// Submit enqueues a data value or end marker for proposal. It does not,
// by itself, update client bookkeeping — see SubmitFromClient for that.
func (p *Proposer) Submit(value string) {
	if p.queuedSet[value] {
		return
	}
	if IsEndMarker(value) {
		p.queueEnd = append(p.queueEnd, value)
	} else {
		if len(p.queueRegular) >= maxQueueDepth {
			dropped := p.queueRegular[0]
			p.queueRegular = p.queueRegular[1:]
			delete(p.queuedSet, dropped)
			level.Warn(p.logger).Log("msg", "queue full, dropped oldest value", "dropped", dropped)
		}
		p.queueRegular = append(p.queueRegular, value)
	}
	p.queuedSet[value] = true
}

// Run executes the proposer event loop until it decides the run is
// over (spec §4.3 termination condition), polling the transport with a
// short timeout so round-timeout and backoff can be serviced without a
// dedicated timer goroutine.
func (p *Proposer) Run(pollInterval time.Duration) {
	for {
		if p.shouldTerminate() {
			end := FormatEndMarker(p.ordinal, p.valuesDecided)
			p.transport.Broadcast(transport.Acceptors, end)
			p.transport.Broadcast(transport.Learners, end)
			level.Info(p.logger).Log("msg", "terminating", "sent", end, "decided", p.valuesDecided)
			return
		}

		if p.activeRound.IsZero() {
			if !p.startNextRound() {
				// nothing to propose right now; keep polling for input
				p.poll(pollInterval)
				continue
			}
		} else if time.Since(p.roundStarted) > RoundTimeout {
			level.Debug(p.logger).Log("msg", "round timed out, abandoning", "round", p.activeRound)
			p.abandonRound()
			continue
		}

		p.poll(pollInterval)
	}
}

func (p *Proposer) poll(timeout time.Duration) {
	datagram, err := p.transport.ReceiveTimeout(timeout)
	if err == transport.ErrTimeout {
		return
	}
	if err != nil {
		level.Warn(p.logger).Log("msg", "receive error", "err", err)
		return
	}
	msg, err := Parse(datagram)
	if err != nil {
		level.Debug(p.logger).Log("msg", "dropped malformed datagram", "err", err)
		return
	}
	p.handle(msg)
}

func (p *Proposer) handle(msg Message) {
	switch msg.Verb {
	case verbSubmitted:
		p.handleSubmission(msg.Submission)
	case VerbDecision:
		p.recordDecision(msg.Decision.Value)
	case VerbPhase1B:
		p.handlePhase1B(msg.Phase1B)
	case VerbPhase2B:
		p.handlePhase2B(msg.Phase2B)
	}
}

// handleSubmission processes a value or end marker arriving directly
// from a client. End markers both update this proposer's own
// termination bookkeeping immediately (a client sends them straight to
// every proposer, redundantly, so there is no need to wait for
// consensus to find out a client is done) and get queued like any other
// value so a decision for them reaches the learners, who track client
// completion the same way.
func (p *Proposer) handleSubmission(value string) {
	if IsEndMarker(value) {
		clientID, count, err := ParseEndMarker(value)
		if err != nil {
			return
		}
		if !p.endMarkersSeen[clientID] {
			p.endMarkersSeen[clientID] = true
			p.clientCounts[clientID] = count
		}
	}
	p.Submit(value)
}

func (p *Proposer) recordDecision(value string) {
	if p.decided[value] {
		return
	}
	p.decided[value] = true
	if !IsEndMarker(value) {
		p.valuesDecided++
	}
	delete(p.queuedSet, value)
	if p.activeRound != Zero && p.currentValue == value {
		p.finishRound()
	}
}

// startNextRound begins a fresh round with the next value off the
// queues, preferring data values over end markers so client work
// finishes before the run winds down (spec §4.3 "Round start"). It
// returns false if there is nothing to propose.
func (p *Proposer) startNextRound() bool {
	value, ok := p.nextQueuedValue()
	if !ok {
		return false
	}
	p.activeRound = p.rounds.Next()
	p.originalValue = value
	p.currentValue = value
	p.isAdopted = false
	p.phase2Sent = false
	p.roundStarted = time.Now()
	p.phase1bAcks = make(map[string]Phase1B)
	p.phase2bAcks = make(map[string]bool)

	level.Debug(p.logger).Log("msg", "starting round", "round", p.activeRound, "value", p.currentValue)
	p.transport.Broadcast(transport.Acceptors, Phase1A{Round: p.activeRound}.Encode())
	return true
}

func (p *Proposer) nextQueuedValue() (string, bool) {
	for len(p.queueRegular) > 0 {
		v := p.queueRegular[0]
		p.queueRegular = p.queueRegular[1:]
		delete(p.queuedSet, v)
		if p.decided[v] {
			continue
		}
		return v, true
	}
	for len(p.queueEnd) > 0 {
		v := p.queueEnd[0]
		p.queueEnd = p.queueEnd[1:]
		delete(p.queuedSet, v)
		if p.decided[v] {
			continue
		}
		return v, true
	}
	return "", false
}

func (p *Proposer) handlePhase1B(m Phase1B) {
	if m.Round != p.activeRound {
		return
	}
	if _, seen := p.phase1bAcks[m.AcceptorID]; seen {
		return
	}
	p.phase1bAcks[m.AcceptorID] = m

	// Adopt the highest-numbered prior accepted value among the
	// promises collected so far. This is the crux of the safety
	// argument: two proposers racing at different rounds must converge
	// on whatever a quorum already accepted, never invent a fresh value
	// once one exists. A value this proposer already knows is decided
	// is not adopted again: acceptors keep reporting their last accepted
	// value after it has been decided, and re-proposing it would keep
	// the queued value from ever getting its turn.
	var best Phase1B
	haveBest := false
	for _, ack := range p.phase1bAcks {
		if !ack.HasAccepted || p.decided[ack.AcceptedValue] {
			continue
		}
		if !haveBest || ack.AcceptedRound > best.AcceptedRound {
			best = ack
			haveBest = true
		}
	}
	if haveBest {
		p.currentValue = best.AcceptedValue
		p.isAdopted = true
	}

	if len(p.phase1bAcks) >= p.quorum && !p.phase2Sent {
		p.phase2Sent = true
		p.resetBackoff()
		level.Debug(p.logger).Log("msg", "phase1 quorum reached", "round", p.activeRound, "value", p.currentValue, "adopted", p.isAdopted)
		p.transport.Broadcast(transport.Acceptors, Phase2A{Round: p.activeRound, Value: p.currentValue}.Encode())
	}
}

func (p *Proposer) handlePhase2B(m Phase2B) {
	if m.Round != p.activeRound {
		return
	}
	p.phase2bAcks[m.AcceptorID] = true
	if len(p.phase2bAcks) >= p.quorum {
		p.resetBackoff()
		level.Info(p.logger).Log("msg", "decided", "round", p.activeRound, "value", p.currentValue)
		decision := Decision{Value: p.currentValue}.Encode()
		p.transport.Broadcast(transport.Learners, decision)
		p.transport.Broadcast(transport.Proposers, decision)
		p.recordDecision(p.currentValue)
	}
}

// finishRound returns the proposer to idle, ready to start its next
// round on the next loop iteration. If this round ended up deciding an
// adopted value instead of our own (another proposer's proposal won the
// race for this round's ballot), our own value never got its attempt and
// goes back on the queue for a future round.
func (p *Proposer) finishRound() {
	if p.isAdopted && p.originalValue != "" && !p.decided[p.originalValue] {
		p.Submit(p.originalValue)
	}
	p.activeRound = Zero
	p.originalValue = ""
	p.currentValue = ""
	p.phase2Sent = false
}

// abandonRound gives up on the current round after a timeout, re-queues
// our own original value (never the adopted one — that belongs to
// whichever proposer actually owns it) for a future attempt, and applies
// the multiplicative backoff before allowing the next round to start.
func (p *Proposer) abandonRound() {
	if p.originalValue != "" && !p.decided[p.originalValue] {
		p.Submit(p.originalValue)
	}
	p.activeRound = Zero
	p.originalValue = ""
	p.currentValue = ""
	p.phase2Sent = false
	p.applyBackoff()
}

func (p *Proposer) applyBackoff() {
	jitter := time.Duration(p.rand.Int63n(int64(p.backoff)))
	sleep := p.backoff/2 + jitter/2
	time.Sleep(sleep)
	next := time.Duration(float64(p.backoff) * backoffGrowth)
	if next > MaxBackoff {
		next = MaxBackoff
	}
	p.backoff = next
}

func (p *Proposer) resetBackoff() {
	p.backoff = MinBackoff
}

// shouldTerminate implements spec §4.3's distributed termination
// heuristic: idle with both queues drained, every expected client has
// sent its end marker, and the proposer has seen at least as many
// decisions as the clients reported sending. The idle/drained guard
// matters because valuesDecided counts every DECISION this proposer
// observes, including ones driven to consensus by other proposers, so
// the global tally can cross the threshold before this proposer's own
// queued values have actually been proposed.
func (p *Proposer) shouldTerminate() bool {
	if !p.activeRound.IsZero() || len(p.queueRegular) != 0 || len(p.queueEnd) != 0 {
		return false
	}
	if len(p.endMarkersSeen) < p.expectedClients {
		return false
	}
	total := 0
	for _, c := range p.clientCounts {
		total += c
	}
	return total > 0 && p.valuesDecided >= total
}
