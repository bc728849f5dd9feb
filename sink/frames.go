package sink

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/testpipe/ipc"
)

// FrameSink writes each event as a length-prefixed msgpack frame, so
// external consumers can stream results without speaking the pipe protocol.
type FrameSink struct {
	enc    *ipc.FrameEncoder
	closer io.Closer
}

// NewFrameSink writes frames to w. If w is an io.Closer it is closed on Close.
func NewFrameSink(w io.Writer) *FrameSink {
	s := &FrameSink{enc: ipc.NewFrameEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Publish encodes e as one frame.
func (s *FrameSink) Publish(_ context.Context, e Event) error {
	payload, err := msgpack.Marshal(&e)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", e.TestID, err)
	}
	return s.enc.WriteFrame(payload)
}

// Close closes the underlying writer if it is closable.
func (s *FrameSink) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// ReadFrames decodes every event frame from r until EOF.
func ReadFrames(r io.Reader) ([]Event, error) {
	dec := ipc.NewFrameDecoder(r)
	var events []Event
	for {
		payload, err := dec.ReadFrame()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		var e Event
		if err := msgpack.Unmarshal(payload, &e); err != nil {
			return events, &ipc.FrameError{
				Kind: ipc.FrameErrorDecode,
				Msg:  "failed to decode event",
				Err:  err,
			}
		}
		events = append(events, e)
	}
}
