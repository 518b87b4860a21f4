// Package client implements the value-submitting collaborator role: it
// reads newline-delimited values from an input stream and submits them
// to the proposer group, closing out with a redundant end marker once
// input is exhausted (spec §6 "Client I/O").
package client

import (
	"bufio"
	"io"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/arnovale/synod/internal/paxos"
	"github.com/arnovale/synod/internal/transport"
)

// Tunables carried over from the reference client (spec §5, §6).
const (
	SubmissionRepeats   = 3
	SubmissionSpacing   = 10 * time.Millisecond
	DrainPause          = 10 * time.Second
	EndMarkerRepeats    = 3
	EndMarkerSpacing    = 500 * time.Millisecond
	FinalSettlePause    = 1 * time.Second
	ProgressLogInterval = 1 * time.Second
)

// Client submits values from an input stream to the proposer group.
type Client struct {
	id        int
	transport transport.Transport
	logger    log.Logger
}

// New builds a client with the given numeric id (embedded in its end
// marker so proposers/learners can attribute counts per client).
func New(id int, tr transport.Transport, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Client{id: id, transport: tr, logger: log.With(logger, "role", "client", "id", id)}
}

// Run reads newline-delimited values from r until EOF, submitting each
// non-empty one SubmissionRepeats times, then announces completion with
// a redundant end marker and logs throughput.
func (c *Client) Run(r io.Reader) error {
	start := time.Now()
	scanner := bufio.NewScanner(r)
	count := 0
	lastReport := start
	for scanner.Scan() {
		value := strings.TrimSpace(scanner.Text())
		if value == "" {
			continue
		}
		c.submitRedundantly(value)
		count++
		if now := time.Now(); now.Sub(lastReport) >= ProgressLogInterval {
			level.Info(c.logger).Log("msg", "progress", "values_sent", count)
			lastReport = now
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	level.Info(c.logger).Log("msg", "input exhausted, draining before end marker", "sent", count)
	time.Sleep(DrainPause)

	marker := paxos.FormatEndMarker(c.id, count)
	for i := 0; i < EndMarkerRepeats; i++ {
		c.transport.Broadcast(transport.Proposers, marker)
		if i < EndMarkerRepeats-1 {
			time.Sleep(EndMarkerSpacing)
		}
	}
	time.Sleep(FinalSettlePause)

	elapsed := time.Since(start)
	var throughput float64
	if elapsed > 0 {
		throughput = float64(count) / elapsed.Seconds()
	}
	level.Info(c.logger).Log("msg", "done", "sent", count, "elapsed", elapsed, "throughput_per_sec", throughput)
	return nil
}

func (c *Client) submitRedundantly(value string) {
	for i := 0; i < SubmissionRepeats; i++ {
		c.transport.Broadcast(transport.Proposers, value)
		if i < SubmissionRepeats-1 {
			time.Sleep(SubmissionSpacing)
		}
	}
}
