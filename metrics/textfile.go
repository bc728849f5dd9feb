package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "testpipe"

// Registry builds a Prometheus registry holding the snapshot's values as
// gauges labelled with run dimensions.
func Registry(s Snapshot) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"mode": s.Mode, "run_id": s.RunID}

	gauges := []struct {
		name, help string
		value      int64
	}{
		{"partitions_started", "Partitions launched.", s.PartitionsStarted},
		{"partitions_succeeded", "Partitions whose process exited 0.", s.PartitionsSucceeded},
		{"partitions_failed", "Partitions whose process exited non-zero.", s.PartitionsFailed},
		{"process_launch_success", "Child processes started.", s.ProcessLaunchSuccess},
		{"process_launch_failure", "Child processes that failed to start.", s.ProcessLaunchFailure},
		{"handshakes_completed", "Handshake replies sent.", s.HandshakesCompleted},
		{"protocol_errors", "Protocol violations observed.", s.ProtocolErrors},
		{"unknown_messages", "Unknown messages acknowledged.", s.UnknownMessages},
		{"tests_discovered", "Tests reported during discovery.", s.TestsDiscovered},
		{"synthetic_failures", "Synthetic partition failure entries emitted.", s.SyntheticFailures},
		{"artifacts_received", "File artifacts reported by children.", s.ArtifactsReceived},
	}
	for _, g := range gauges {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        g.name,
			Help:        g.help,
			ConstLabels: labels,
		})
		gauge.Set(float64(g.value))
		if err := reg.Register(gauge); err != nil {
			return nil, err
		}
	}

	results := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "results",
		Help:        "Test results by outcome.",
		ConstLabels: labels,
	}, []string{"outcome"})
	for outcome, n := range s.ResultsByOutcome {
		results.WithLabelValues(outcome).Set(float64(n))
	}
	if err := reg.Register(results); err != nil {
		return nil, err
	}

	return reg, nil
}

// WriteTextfile writes the snapshot in node-exporter textfile format.
// The file is replaced atomically.
func WriteTextfile(path string, s Snapshot) error {
	reg, err := Registry(s)
	if err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, reg)
}
