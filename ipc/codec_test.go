package ipc

import (
	"bytes"
	"context"
	"reflect"
	"testing"

	"github.com/pithecene-io/testpipe/types"
)

func int32Ptr(v int32) *int32 { return &v }
func int64Ptr(v int64) *int64 { return &v }
func boolPtr(v bool) *bool    { return &v }

func roundTrip(t *testing.T, c *Codec, m Message) Message {
	t.Helper()
	var buf bytes.Buffer
	if err := c.WriteMessage(NewFrameEncoder(&buf), m); err != nil {
		t.Fatalf("WriteMessage(%T) failed: %v", m, err)
	}
	got, err := c.ReadMessage(NewFrameDecoder(&buf))
	if err != nil {
		t.Fatalf("ReadMessage(%T) failed: %v", m, err)
	}
	return got
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewDefaultCodec(Strict)

	tests := []struct {
		name string
		msg  Message
	}{
		{"void", &VoidResponse{}},
		{"handshake", &HandshakeMessage{Handshake: types.NewHandshake().
			Set(types.HandshakePID, "123").
			Set(types.HandshakeSupportedProtocolVersions, "1.0.0;0.9.0").
			Set(types.HandshakeModulePath, "")}},
		{"handshake empty", &HandshakeMessage{Handshake: types.NewHandshake()}},
		{"options", &CommandLineOptionMessages{
			ModulePath: "/bin/tests",
			Options: []types.CommandLineOption{
				{Name: "batch-count", Description: "Number of batches", IsHidden: boolPtr(false), IsBuiltIn: boolPtr(true)},
				{Name: "", Description: ""},
			},
		}},
		{"module", &ModuleMessage{ModulePath: "/m", ProjectPath: "/p", TargetFramework: "go1.25", IsTestingPlatformApplication: "true"}},
		{"discovered", &DiscoveredTestMessages{
			ExecutionID: "exec",
			InstanceID:  "inst",
			Tests: []types.DiscoveredTest{
				{
					UID:         "Uid11",
					DisplayName: "Test One",
					FilePath:    types.StrPtr("/src/a.go"),
					LineNumber:  int32Ptr(42),
					Namespace:   types.StrPtr("pkg"),
					TypeName:    types.StrPtr("Suite"),
					MethodName:  types.StrPtr("One"),
					Traits: []types.Trait{
						{Key: "Category", Value: types.StrPtr("fast")},
						{Key: "Flag"},
					},
				},
				{UID: "", DisplayName: ""},
			},
		}},
		{"discovered empty list", &DiscoveredTestMessages{ExecutionID: "", InstanceID: ""}},
		{"results", &TestResultMessages{
			ExecutionID: "exec",
			InstanceID:  "inst",
			Successful: []SuccessfulTestResult{
				{UID: "a", DisplayName: "A", State: 1, Duration: int64Ptr(10_000), Stdout: types.StrPtr("out"), SessionUID: types.StrPtr("s")},
				{UID: "b", DisplayName: "B", State: 2, Reason: types.StrPtr("skipped")},
			},
			Failed: []FailedTestResult{
				{
					UID:         "c",
					DisplayName: "C",
					State:       3,
					Duration:    int64Ptr(-1),
					Reason:      types.StrPtr("boom"),
					Exceptions: []ExceptionMessage{
						{Message: types.StrPtr("boom"), Type: types.StrPtr("panic"), StackTrace: types.StrPtr("at x")},
						{},
					},
					Stderr:     types.StrPtr(""),
					SessionUID: types.StrPtr("s"),
				},
			},
		}},
		{"artifacts", &FileArtifactMessages{
			ExecutionID: "exec",
			InstanceID:  "inst",
			Artifacts: []types.FileArtifact{
				{FullPath: types.StrPtr("/tmp/cov.out"), DisplayName: types.StrPtr("coverage"), TestUID: types.StrPtr("a")},
			},
		}},
		{"session", &TestSessionEvent{Event: types.SessionEvent{
			Type:        types.SessionFinished,
			SessionUID:  types.StrPtr("s"),
			ExecutionID: types.StrPtr("exec"),
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundTrip(t, codec, tt.msg)
			if !reflect.DeepEqual(got, tt.msg) {
				t.Errorf("round trip mismatch:\n got  %#v\n want %#v", got, tt.msg)
			}
		})
	}
}

// A record carrying tags this decoder does not know still yields every known field.
func TestCodec_SkipsUnknownFields(t *testing.T) {
	w := NewRecordWriter()
	w.String(discoveredExecutionID, "exec")
	w.Int64(77, 99) // unknown top-level field
	w.List(discoveredList, 1, func(_ int, rw *RecordWriter) {
		rw.String(testUID, "Uid11")
		rw.String(500, "future field")
		rw.String(testDisplayName, "One")
	})
	w.String(discoveredInstanceID, "inst")
	w.String(1000, "trailing unknown")

	codec := NewDefaultCodec(Strict)
	msg, err := codec.Decode(DiscoveredTestMessagesID, w.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	dm, ok := msg.(*DiscoveredTestMessages)
	if !ok {
		t.Fatalf("got %T, want *DiscoveredTestMessages", msg)
	}
	if dm.ExecutionID != "exec" || dm.InstanceID != "inst" {
		t.Errorf("ids = %q/%q, want exec/inst", dm.ExecutionID, dm.InstanceID)
	}
	if len(dm.Tests) != 1 || dm.Tests[0].UID != "Uid11" || dm.Tests[0].DisplayName != "One" {
		t.Errorf("tests = %+v", dm.Tests)
	}
}

func TestCodec_UnknownSerializer(t *testing.T) {
	payload := NewRecordWriter().Bytes()

	_, err := NewDefaultCodec(Strict).Decode(42, payload)
	if !IsProtocolErrorKind(err, ProtocolUnknownSerializer) {
		t.Errorf("strict: expected unknown serializer error, got %v", err)
	}

	msg, err := NewDefaultCodec(Permissive).Decode(42, payload)
	if err != nil {
		t.Fatalf("permissive: unexpected error: %v", err)
	}
	unknown, ok := msg.(*UnknownMessage)
	if !ok {
		t.Fatalf("permissive: got %T, want *UnknownMessage", msg)
	}
	if unknown.ID != 42 {
		t.Errorf("ID = %d, want 42", unknown.ID)
	}
}

func TestCodec_Malformed(t *testing.T) {
	w := NewRecordWriter()
	w.String(discoveredExecutionID, "exec")
	payload := w.Bytes()

	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"truncated value", payload[:len(payload)-2]},
		{"trailing bytes", append(append([]byte(nil), payload...), 0x00)},
		{"bad list", func() []byte {
			rw := NewRecordWriter()
			rw.raw(discoveredList, []byte{0, 0, 0, 5}) // five elements, none present
			return rw.Bytes()
		}()},
	}
	codec := NewDefaultCodec(Strict)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(DiscoveredTestMessagesID, tt.payload)
			if !IsProtocolErrorKind(err, ProtocolMalformed) {
				t.Errorf("expected malformed error, got %v", err)
			}
		})
	}
}

func TestCodec_BadFieldWidth(t *testing.T) {
	w := NewRecordWriter()
	w.List(resultsSuccessful, 1, func(_ int, rw *RecordWriter) {
		rw.String(successUID, "a")
		rw.String(successState, "too wide")
	})
	_, err := NewDefaultCodec(Strict).Decode(TestResultMessagesID, w.Bytes())
	if !IsProtocolErrorKind(err, ProtocolMalformed) {
		t.Errorf("expected malformed error, got %v", err)
	}
}

func TestCodec_RegisterDuplicate(t *testing.T) {
	c := NewDefaultCodec(Strict)
	if err := c.Register(DefaultSerializers()[0]); err == nil {
		t.Error("expected error registering duplicate serializer id")
	}
}

func TestCodec_EncodeUnregistered(t *testing.T) {
	_, _, err := NewCodec(Strict).Encode(&VoidResponse{})
	if !IsProtocolErrorKind(err, ProtocolUnknownSerializer) {
		t.Errorf("expected unknown serializer error, got %v", err)
	}
}

func TestCodec_EncodeUnknownVerbatim(t *testing.T) {
	id, payload, err := NewCodec(Strict).Encode(&UnknownMessage{ID: 250, Payload: []byte{1, 2}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if id != 250 || len(payload) != 2 {
		t.Errorf("Encode = %d, %v; want 250, [1 2]", id, payload)
	}
}

type recordingHandler struct {
	UnimplementedHandler
	got []Message
}

func (h *recordingHandler) HandleTestResults(_ context.Context, m *TestResultMessages) (Message, error) {
	h.got = append(h.got, m)
	return &VoidResponse{}, nil
}

func TestDispatch(t *testing.T) {
	h := &recordingHandler{}
	ctx := context.Background()

	resp, err := Dispatch(ctx, h, &TestResultMessages{})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if _, ok := resp.(*VoidResponse); !ok {
		t.Errorf("resp = %T, want *VoidResponse", resp)
	}
	if len(h.got) != 1 {
		t.Errorf("handled %d messages, want 1", len(h.got))
	}

	if _, err := Dispatch(ctx, h, &DiscoveredTestMessages{}); !IsProtocolErrorKind(err, ProtocolUnexpectedMessage) {
		t.Errorf("unimplemented kind: expected unexpected message error, got %v", err)
	}

	resp, err = Dispatch(ctx, h, &UnknownMessage{ID: 99})
	if err != nil {
		t.Fatalf("unknown: %v", err)
	}
	if _, ok := resp.(*VoidResponse); !ok {
		t.Errorf("unknown resp = %T, want *VoidResponse", resp)
	}

	if _, err := Dispatch(ctx, h, &VoidResponse{}); !IsProtocolErrorKind(err, ProtocolUnexpectedMessage) {
		t.Errorf("void request: expected unexpected message error, got %v", err)
	}
}
