// Package metrics provides per-run metrics collection.
//
// The Collector accumulates counters during a single logical run (one
// discovery plus every partition). It is a leaf package with no internal
// dependencies; outcome names are plain strings.
package metrics

import (
	"maps"
	"sync"
)

// Snapshot is an immutable point-in-time view of all run metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Partitions
	PartitionsStarted   int64 `json:"partitions_started"`
	PartitionsSucceeded int64 `json:"partitions_succeeded"`
	PartitionsFailed    int64 `json:"partitions_failed"`

	// Child processes
	ProcessLaunchSuccess int64 `json:"process_launch_success"`
	ProcessLaunchFailure int64 `json:"process_launch_failure"`

	// Protocol
	HandshakesCompleted int64 `json:"handshakes_completed"`
	ProtocolErrors      int64 `json:"protocol_errors"`
	UnknownMessages     int64 `json:"unknown_messages"`

	// Tests
	TestsDiscovered   int64            `json:"tests_discovered"`
	ResultsByOutcome  map[string]int64 `json:"results_by_outcome"`
	SyntheticFailures int64            `json:"synthetic_failures"`
	ArtifactsReceived int64            `json:"artifacts_received"`

	// Dimensions (informational, set at construction)
	Mode  string `json:"mode"`
	RunID string `json:"run_id"`
}

// ResultsTotal returns the sum of per-outcome result counts.
func (s Snapshot) ResultsTotal() int64 {
	var n int64
	for _, v := range s.ResultsByOutcome {
		n += v
	}
	return n
}

// Collector accumulates metrics during a single run.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	partitionsStarted   int64
	partitionsSucceeded int64
	partitionsFailed    int64

	processLaunchSuccess int64
	processLaunchFailure int64

	handshakesCompleted int64
	protocolErrors      int64
	unknownMessages     int64

	testsDiscovered   int64
	resultsByOutcome  map[string]int64
	syntheticFailures int64
	artifactsReceived int64

	mode  string
	runID string
}

// NewCollector creates a Collector with dimension labels.
// mode is one of single, batch, shard, discover.
func NewCollector(mode, runID string) *Collector {
	return &Collector{
		resultsByOutcome: make(map[string]int64),
		mode:             mode,
		runID:            runID,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Partitions ---

// IncPartitionStarted records a partition launch.
func (c *Collector) IncPartitionStarted() {
	if c == nil {
		return
	}
	c.add(&c.partitionsStarted, 1)
}

// IncPartitionSucceeded records a partition whose process exited 0.
func (c *Collector) IncPartitionSucceeded() {
	if c == nil {
		return
	}
	c.add(&c.partitionsSucceeded, 1)
}

// IncPartitionFailed records a partition whose process exited non-zero.
func (c *Collector) IncPartitionFailed() {
	if c == nil {
		return
	}
	c.add(&c.partitionsFailed, 1)
}

// --- Child processes ---

// IncProcessLaunchSuccess records a successful child launch.
func (c *Collector) IncProcessLaunchSuccess() {
	if c == nil {
		return
	}
	c.add(&c.processLaunchSuccess, 1)
}

// IncProcessLaunchFailure records a failed child launch.
func (c *Collector) IncProcessLaunchFailure() {
	if c == nil {
		return
	}
	c.add(&c.processLaunchFailure, 1)
}

// --- Protocol ---

// IncHandshakeCompleted records a handshake reply sent.
func (c *Collector) IncHandshakeCompleted() {
	if c == nil {
		return
	}
	c.add(&c.handshakesCompleted, 1)
}

// IncProtocolErrors records a protocol violation.
func (c *Collector) IncProtocolErrors() {
	if c == nil {
		return
	}
	c.add(&c.protocolErrors, 1)
}

// IncUnknownMessages records an acknowledged unknown message.
func (c *Collector) IncUnknownMessages() {
	if c == nil {
		return
	}
	c.add(&c.unknownMessages, 1)
}

// --- Tests ---

// AddTestsDiscovered records n discovered tests.
func (c *Collector) AddTestsDiscovered(n int) {
	if c == nil {
		return
	}
	c.add(&c.testsDiscovered, int64(n))
}

// IncResult records one real test result with the given outcome name.
func (c *Collector) IncResult(outcome string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.resultsByOutcome[outcome]++
	c.mu.Unlock()
}

// IncSyntheticFailure records a synthetic partition failure entry.
func (c *Collector) IncSyntheticFailure() {
	if c == nil {
		return
	}
	c.add(&c.syntheticFailures, 1)
}

// AddArtifacts records n received file artifacts.
func (c *Collector) AddArtifacts(n int) {
	if c == nil {
		return
	}
	c.add(&c.artifactsReceived, int64(n))
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{ResultsByOutcome: map[string]int64{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		PartitionsStarted:   c.partitionsStarted,
		PartitionsSucceeded: c.partitionsSucceeded,
		PartitionsFailed:    c.partitionsFailed,

		ProcessLaunchSuccess: c.processLaunchSuccess,
		ProcessLaunchFailure: c.processLaunchFailure,

		HandshakesCompleted: c.handshakesCompleted,
		ProtocolErrors:      c.protocolErrors,
		UnknownMessages:     c.unknownMessages,

		TestsDiscovered:   c.testsDiscovered,
		ResultsByOutcome:  maps.Clone(c.resultsByOutcome),
		SyntheticFailures: c.syntheticFailures,
		ArtifactsReceived: c.artifactsReceived,

		Mode:  c.mode,
		RunID: c.runID,
	}
}
