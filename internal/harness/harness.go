// Package harness wires a full Synod deployment — some number of
// proposers, acceptors and learners — over an in-memory transport.Bus so
// integration tests can drive an entire run without real sockets. It
// replaces the teacher's single combined Node (every role sharing one
// process and one set of mutexes): production roles are separate
// processes per spec §5, so the only place that needs "all the roles in
// one place" is test setup.
package harness

import (
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/arnovale/synod/internal/paxos"
	"github.com/arnovale/synod/internal/transport"
)

const pollInterval = 5 * time.Millisecond

// RecordingSink is a paxos.Sink that just appends, for assertions in
// tests.
type RecordingSink struct {
	mu     sync.Mutex
	values []string
}

func (s *RecordingSink) Deliver(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, value)
}

func (s *RecordingSink) Values() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.values))
	copy(out, s.values)
	return out
}

// Deployment is a fully wired in-memory Synod cluster.
type Deployment struct {
	Bus       *transport.Bus
	Proposers []*paxos.Proposer
	Acceptors []*paxos.Acceptor
	Learners  []*paxos.Learner
	Sinks     []*RecordingSink

	wg sync.WaitGroup
}

// New builds a deployment with numProposers proposers, numAcceptors
// acceptors and numLearners learners, all expecting expectedClients
// distinct clients before they'll consider terminating.
func New(numProposers, numAcceptors, numLearners, expectedClients int, logger log.Logger) *Deployment {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	bus := transport.NewBus()
	d := &Deployment{Bus: bus}

	for i := 1; i <= numProposers; i++ {
		tr := bus.Bind(transport.Proposers)
		p := paxos.NewProposer(
			proposerID(i), i, numProposers, numAcceptors, expectedClients, tr, logger)
		d.Proposers = append(d.Proposers, p)
	}
	for i := 1; i <= numAcceptors; i++ {
		tr := bus.Bind(transport.Acceptors)
		a := paxos.NewAcceptor(acceptorID(i), logger)
		d.Acceptors = append(d.Acceptors, a)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			acceptorLoop(a, tr)
		}()
	}
	for i := 1; i <= numLearners; i++ {
		tr := bus.Bind(transport.Learners)
		sink := &RecordingSink{}
		l := paxos.NewLearner(learnerID(i), expectedClients, i == 2, tr, sink, logger)
		d.Learners = append(d.Learners, l)
		d.Sinks = append(d.Sinks, sink)
	}
	return d
}

func proposerID(i int) string { return "p" + strconv.Itoa(i) }
func acceptorID(i int) string { return "a" + strconv.Itoa(i) }
func learnerID(i int) string  { return "l" + strconv.Itoa(i) }

// acceptorLoop is the acceptor's event loop: unlike proposers and
// learners, an acceptor has no timers of its own, so it just blocks on
// its transport and dispatches phase1a/phase2a messages as they arrive,
// exiting as soon as any proposer's END_ marker reaches it.
func acceptorLoop(a *paxos.Acceptor, tr transport.Transport) {
	for {
		datagram, err := tr.ReceiveTimeout(pollInterval)
		if err == transport.ErrTimeout {
			continue
		}
		if err != nil {
			return
		}
		if paxos.IsEndMarker(datagram) {
			return
		}
		msg, err := paxos.Parse(datagram)
		if err != nil {
			continue
		}
		switch msg.Verb {
		case paxos.VerbPhase1A:
			if reply, ok := a.HandlePhase1A(msg.Phase1A); ok {
				tr.Broadcast(transport.Proposers, reply.Encode())
			}
		case paxos.VerbPhase2A:
			if reply, ok := a.HandlePhase2A(msg.Phase2A); ok {
				tr.Broadcast(transport.Proposers, reply.Encode())
			}
		}
	}
}

// Start launches every proposer's and learner's event loop in its own
// goroutine. Acceptors are already running (spawned by New) and exit on
// their own once a proposer's END_ marker reaches them.
func (d *Deployment) Start() {
	for _, p := range d.Proposers {
		p := p
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			p.Run(pollInterval)
		}()
	}
	for _, l := range d.Learners {
		l := l
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			l.Run(pollInterval)
		}()
	}
}

// Submit feeds value directly into every proposer's queue, simulating a
// client multicasting it to the proposer group without the latency of
// actually going through the bus.
func (d *Deployment) Submit(value string) {
	for _, p := range d.Proposers {
		p.SubmitFromClient(value)
	}
}

// Wait blocks until every proposer, acceptor, and learner has terminated.
func (d *Deployment) Wait() {
	d.wg.Wait()
}

// WaitTimeout blocks until every proposer, acceptor, and learner has
// terminated, or timeout elapses, reporting whether it finished in time.
func (d *Deployment) WaitTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close shuts the underlying bus down.
func (d *Deployment) Close() {
	d.Bus.Close()
}
