package runtime

import (
	"fmt"

	"github.com/pithecene-io/testpipe/ipc"
	"github.com/pithecene-io/testpipe/types"
)

// ConvertResults converts a wire-level result batch, successful results
// first, each list in wire order. An unrecognized state is a protocol error.
func ConvertResults(m *ipc.TestResultMessages) ([]types.TestResult, error) {
	out := make([]types.TestResult, 0, m.Len())

	for _, r := range m.Successful {
		outcome, err := parseState(r.UID, r.State)
		if err != nil {
			return nil, err
		}
		out = append(out, types.TestResult{
			UID:         r.UID,
			DisplayName: r.DisplayName,
			Outcome:     outcome,
			Duration:    types.DurationFromTicks(r.Duration),
			Reason:      r.Reason,
			Stdout:      r.Stdout,
			Stderr:      r.Stderr,
			SessionUID:  r.SessionUID,
		})
	}

	for _, r := range m.Failed {
		outcome, err := parseState(r.UID, r.State)
		if err != nil {
			return nil, err
		}
		result := types.TestResult{
			UID:         r.UID,
			DisplayName: r.DisplayName,
			Outcome:     outcome,
			Duration:    types.DurationFromTicks(r.Duration),
			Reason:      r.Reason,
			Stdout:      r.Stdout,
			Stderr:      r.Stderr,
			SessionUID:  r.SessionUID,
		}
		if outcome != types.OutcomePassed {
			result.Exceptions = flattenExceptions(r.Exceptions)
		}
		out = append(out, result)
	}

	return out, nil
}

func parseState(uid string, state byte) (types.Outcome, error) {
	outcome, err := types.ParseOutcome(state)
	if err != nil {
		return 0, &ipc.ProtocolError{
			Kind: ipc.ProtocolUnknownOutcome,
			Msg:  fmt.Sprintf("result %q", uid),
			Err:  err,
		}
	}
	return outcome, nil
}

func flattenExceptions(in []ipc.ExceptionMessage) []types.ExceptionInfo {
	if len(in) == 0 {
		return nil
	}
	out := make([]types.ExceptionInfo, len(in))
	for i, e := range in {
		out[i] = types.ExceptionInfo{
			Message:    deref(e.Message),
			Type:       deref(e.Type),
			StackTrace: deref(e.StackTrace),
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
