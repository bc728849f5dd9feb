package sink

import (
	"context"
	"fmt"

	"github.com/pithecene-io/testpipe/ipc"
	"github.com/pithecene-io/testpipe/pipe"
	"github.com/pithecene-io/testpipe/types"
)

var stateOutcomes = map[State]types.Outcome{
	StatePassed:     types.OutcomePassed,
	StateSkipped:    types.OutcomeSkipped,
	StateFailed:     types.OutcomeFailed,
	StateError:      types.OutcomeError,
	StateTimeout:    types.OutcomeTimeout,
	StateCancelled:  types.OutcomeCancelled,
	StateInProgress: types.OutcomeInProgress,
}

// Forwarder relays events to an external controller listening on a pipe,
// as TestResultMessages. Synthetic entries are forwarded as errored results.
type Forwarder struct {
	client      *pipe.Client
	executionID string
	instanceID  string
	peer        *types.Handshake
}

// DialForwarder connects to the external controller's endpoint and handshakes.
func DialForwarder(ctx context.Context, endpoint string, hs *types.Handshake) (*Forwarder, error) {
	client, err := pipe.Dial(ctx, endpoint, ipc.NewDefaultCodec(ipc.Permissive))
	if err != nil {
		return nil, err
	}
	peer, err := client.Handshake(ctx, hs)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("handshake with %s: %w", endpoint, err)
	}
	executionID, _ := hs.Get(types.HandshakeExecutionID)
	instanceID, _ := hs.Get(types.HandshakeInstanceID)
	return &Forwarder{
		client:      client,
		executionID: executionID,
		instanceID:  instanceID,
		peer:        peer,
	}, nil
}

// Peer returns the external controller's handshake.
func (f *Forwarder) Peer() *types.Handshake {
	return f.peer
}

// Publish forwards e as a single-result batch.
func (f *Forwarder) Publish(ctx context.Context, e Event) error {
	msg, err := f.toMessage(e)
	if err != nil {
		return err
	}
	if _, err := f.client.Request(ctx, msg); err != nil {
		return fmt.Errorf("forward %s: %w", e.TestID, err)
	}
	return nil
}

func (f *Forwarder) toMessage(e Event) (*ipc.TestResultMessages, error) {
	outcome, ok := stateOutcomes[e.State]
	if !ok {
		return nil, fmt.Errorf("cannot forward event %s with state %q", e.TestID, e.State)
	}
	ticks := types.TicksFromDuration(e.Duration)
	msg := &ipc.TestResultMessages{ExecutionID: f.executionID, InstanceID: f.instanceID}

	if !outcome.IsFailure() {
		msg.Successful = []ipc.SuccessfulTestResult{{
			UID:         e.TestID,
			DisplayName: e.DisplayName,
			State:       byte(outcome),
			Duration:    ticks,
			Reason:      e.Reason,
			Stdout:      e.Stdout,
			Stderr:      e.Stderr,
		}}
		return msg, nil
	}

	exceptions := make([]ipc.ExceptionMessage, 0, len(e.Exceptions))
	for _, ex := range e.Exceptions {
		exceptions = append(exceptions, ipc.ExceptionMessage{
			Message:    types.StrPtr(ex.Message),
			Type:       types.StrPtr(ex.Type),
			StackTrace: types.StrPtr(ex.StackTrace),
		})
	}
	msg.Failed = []ipc.FailedTestResult{{
		UID:         e.TestID,
		DisplayName: e.DisplayName,
		State:       byte(outcome),
		Duration:    ticks,
		Reason:      e.Reason,
		Exceptions:  exceptions,
		Stdout:      e.Stdout,
		Stderr:      e.Stderr,
	}}
	return msg, nil
}

// Close closes the connection to the external controller.
func (f *Forwarder) Close() error {
	return f.client.Close()
}
