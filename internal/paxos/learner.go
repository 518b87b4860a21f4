package paxos

import (
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"

	"github.com/arnovale/synod/internal/transport"
)

// Learner-side tunables (spec §4.4, §5), carried over from the reference
// implementation's RESEND_INTERVAL / RESEND_BATCH_SIZE / pacing.
const (
	ResendInterval       = 500 * time.Millisecond
	ResendBatchSize      = 100
	interDatagramPacing  = time.Millisecond
	idleTerminationAfter = 3 * time.Second
	catchUpRetries       = 3
	catchUpRetrySpacing  = 10 * time.Millisecond
)

// Sink receives values as the learner learns them, in delivery order,
// once each (spec §4.4: "reports each newly learned value exactly
// once"). The learner itself never prints; cmd/paxos wires a Sink that
// writes to stdout so the role stays testable without capturing stdio.
type Sink interface {
	Deliver(value string)
}

// Learner accumulates DECISION announcements, deduplicates them,
// rebroadcasts them to peers so a late-joining learner can catch up, and
// answers catch-up requests directly.
type Learner struct {
	id        string
	transport transport.Transport
	sink      Sink
	logger    log.Logger

	learned        map[string]bool
	learnedOrdered []string // excludes end markers; the ones handed to Sink
	valuesLearned  int
	clientCounts   map[int]int
	endMarkersSeen map[int]bool
	lastValueTime  time.Time
	lastResend     time.Time

	expectedClients int
	requestCatchUp  bool
}

// NewLearner builds a learner. requestCatchUp, when true, makes this
// learner broadcast CATCHUP_REQUEST datagrams at startup — the reference
// implementation hardcodes this to learner id 2 (the designated late
// joiner in its test harness); here it is a per-instance flag so any
// deployment can mark whichever learner actually starts late.
func NewLearner(id string, expectedClients int, requestCatchUp bool, tr transport.Transport, sink Sink, logger log.Logger) *Learner {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if sink == nil {
		sink = noopSink{}
	}
	return &Learner{
		id:              id,
		transport:       tr,
		sink:            sink,
		logger:          log.With(logger, "role", "learner", "id", id),
		learned:         make(map[string]bool),
		clientCounts:    make(map[int]int),
		endMarkersSeen:  make(map[int]bool),
		expectedClients: expectedClients,
		requestCatchUp:  requestCatchUp,
		lastResend:      time.Now(),
	}
}

type noopSink struct{}

func (noopSink) Deliver(string) {}

// Run executes the learner event loop until the termination heuristic
// fires (spec §4.4): every expected client accounted for, every value
// those clients reported learned, and no new value for
// idleTerminationAfter.
func (l *Learner) Run(pollInterval time.Duration) {
	if l.requestCatchUp {
		l.sendCatchUpRequests()
	}
	l.lastValueTime = time.Now()

	for {
		if l.shouldTerminate() {
			level.Info(l.logger).Log("msg", "terminating", "learned", l.valuesLearned)
			return
		}
		if time.Since(l.lastResend) >= ResendInterval {
			if l.stillExpectingValues() {
				l.resendKnownValues()
			}
			l.lastResend = time.Now()
		}

		datagram, err := l.transport.ReceiveTimeout(pollInterval)
		if err == transport.ErrTimeout {
			continue
		}
		if err != nil {
			level.Warn(l.logger).Log("msg", "receive error", "err", err)
			continue
		}
		l.handle(datagram)
	}
}

func (l *Learner) handle(datagram string) {
	msg, err := Parse(datagram)
	if err != nil {
		level.Debug(l.logger).Log("msg", "dropped malformed datagram", "err", err)
		return
	}
	switch msg.Verb {
	case VerbDecision:
		l.learn(msg.Decision.Value)
	case verbSubmitted:
		if IsCatchUpRequest(msg.Submission) {
			l.handleCatchUpRequest()
		}
	}
}

func (l *Learner) learn(value string) {
	if l.learned[value] {
		return
	}
	l.learned[value] = true
	l.lastValueTime = time.Now()

	if IsEndMarker(value) {
		clientID, count, err := ParseEndMarker(value)
		if err == nil && !l.endMarkersSeen[clientID] {
			l.endMarkersSeen[clientID] = true
			l.clientCounts[clientID] = count
		}
		return
	}

	l.learnedOrdered = append(l.learnedOrdered, value)
	l.valuesLearned++
	l.sink.Deliver(value)

	// Forward once so peers that missed the original broadcast still
	// converge without waiting for the next periodic resend.
	l.transport.Broadcast(transport.Learners, Decision{Value: value}.Encode())
}

func (l *Learner) handleCatchUpRequest() {
	level.Debug(l.logger).Log("msg", "answering catch-up request")
	for i, v := range l.learnedOrdered {
		l.transport.Broadcast(transport.Learners, Decision{Value: v}.Encode())
		if i < len(l.learnedOrdered)-1 {
			time.Sleep(interDatagramPacing)
		}
	}
}

// resendKnownValues periodically rebroadcasts up to ResendBatchSize
// known values so a learner that never explicitly asked to catch up
// still converges (spec §4.4 "periodic gossip").
func (l *Learner) resendKnownValues() {
	n := len(l.learnedOrdered)
	if n == 0 {
		return
	}
	if n > ResendBatchSize {
		n = ResendBatchSize
	}
	for i := 0; i < n; i++ {
		l.transport.Broadcast(transport.Learners, Decision{Value: l.learnedOrdered[i]}.Encode())
		if i < n-1 {
			time.Sleep(interDatagramPacing)
		}
	}
}

func (l *Learner) sendCatchUpRequests() {
	nonce := uuid.NewString()
	for i := 0; i < catchUpRetries; i++ {
		l.transport.Broadcast(transport.Learners, FormatCatchUpRequest(l.id, nonce))
		if i < catchUpRetries-1 {
			time.Sleep(catchUpRetrySpacing)
		}
	}
}

// stillExpectingValues reports whether this learner has a known total
// (from end markers seen so far) and hasn't learned that many values
// yet — the same "still expecting more" gate the reference
// implementation checks before bothering to resend (spec §4.4 step 2).
func (l *Learner) stillExpectingValues() bool {
	total := 0
	for _, c := range l.clientCounts {
		total += c
	}
	return total > 0 && l.valuesLearned < total
}

func (l *Learner) shouldTerminate() bool {
	if len(l.endMarkersSeen) < l.expectedClients {
		return false
	}
	if l.stillExpectingValues() {
		return false
	}
	total := 0
	for _, c := range l.clientCounts {
		total += c
	}
	if total == 0 {
		return false
	}
	return time.Since(l.lastValueTime) > idleTerminationAfter
}
