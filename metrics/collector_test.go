package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("batch", "run-001")

	c.IncPartitionStarted()
	c.IncPartitionStarted()
	c.IncPartitionSucceeded()
	c.IncPartitionFailed()
	c.IncProcessLaunchSuccess()
	c.IncProcessLaunchFailure()
	c.IncHandshakeCompleted()
	c.IncProtocolErrors()
	c.IncUnknownMessages()
	c.AddTestsDiscovered(5)
	c.IncResult("passed")
	c.IncResult("passed")
	c.IncResult("failed")
	c.IncSyntheticFailure()
	c.AddArtifacts(2)

	s := c.Snapshot()

	if s.PartitionsStarted != 2 {
		t.Errorf("PartitionsStarted = %d, want 2", s.PartitionsStarted)
	}
	if s.PartitionsSucceeded != 1 {
		t.Errorf("PartitionsSucceeded = %d, want 1", s.PartitionsSucceeded)
	}
	if s.PartitionsFailed != 1 {
		t.Errorf("PartitionsFailed = %d, want 1", s.PartitionsFailed)
	}
	if s.ProcessLaunchSuccess != 1 || s.ProcessLaunchFailure != 1 {
		t.Errorf("ProcessLaunch = %d/%d, want 1/1", s.ProcessLaunchSuccess, s.ProcessLaunchFailure)
	}
	if s.HandshakesCompleted != 1 || s.ProtocolErrors != 1 || s.UnknownMessages != 1 {
		t.Errorf("protocol counters = %d/%d/%d, want 1/1/1", s.HandshakesCompleted, s.ProtocolErrors, s.UnknownMessages)
	}
	if s.TestsDiscovered != 5 {
		t.Errorf("TestsDiscovered = %d, want 5", s.TestsDiscovered)
	}
	if s.ResultsByOutcome["passed"] != 2 || s.ResultsByOutcome["failed"] != 1 {
		t.Errorf("ResultsByOutcome = %v", s.ResultsByOutcome)
	}
	if s.ResultsTotal() != 3 {
		t.Errorf("ResultsTotal = %d, want 3", s.ResultsTotal())
	}
	if s.SyntheticFailures != 1 {
		t.Errorf("SyntheticFailures = %d, want 1", s.SyntheticFailures)
	}
	if s.ArtifactsReceived != 2 {
		t.Errorf("ArtifactsReceived = %d, want 2", s.ArtifactsReceived)
	}
	if s.Mode != "batch" || s.RunID != "run-001" {
		t.Errorf("dimensions = %q/%q", s.Mode, s.RunID)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.IncPartitionStarted()
	c.IncResult("passed")
	c.AddArtifacts(1)
	s := c.Snapshot()
	if s.PartitionsStarted != 0 || s.ResultsByOutcome == nil {
		t.Errorf("nil collector snapshot = %+v", s)
	}
}

func TestCollector_SnapshotIsolation(t *testing.T) {
	c := NewCollector("single", "r")
	c.IncResult("passed")
	s := c.Snapshot()
	c.IncResult("passed")
	if s.ResultsByOutcome["passed"] != 1 {
		t.Errorf("snapshot mutated: %v", s.ResultsByOutcome)
	}
}

func TestCollector_ConcurrentSafety(t *testing.T) {
	c := NewCollector("shard", "r")
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.IncResult("passed")
				c.IncPartitionStarted()
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.ResultsByOutcome["passed"] != 5000 {
		t.Errorf("passed = %d, want 5000", s.ResultsByOutcome["passed"])
	}
	if s.PartitionsStarted != 5000 {
		t.Errorf("PartitionsStarted = %d, want 5000", s.PartitionsStarted)
	}
}

func TestWriteTextfile(t *testing.T) {
	c := NewCollector("batch", "run-9")
	c.IncPartitionFailed()
	c.IncResult("timeout")

	path := filepath.Join(t.TempDir(), "testpipe.prom")
	if err := WriteTextfile(path, c.Snapshot()); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	text := string(data)
	for _, want := range []string{
		`testpipe_partitions_failed{mode="batch",run_id="run-9"} 1`,
		`testpipe_results{mode="batch",outcome="timeout",run_id="run-9"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile missing %q:\n%s", want, text)
		}
	}
}
