// Package ipc implements the pipe wire format per CONTRACT_PIPE.md:
// length-prefixed frames carrying serializer-tagged, field-tagged records.
package ipc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Frame size constants per CONTRACT_PIPE.md.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum frame body size (MaxFrameSize - 4 bytes).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
	// SerializerIDSize is the size of the serializer id that opens a message frame body.
	SerializerIDSize = 4
)

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a frame body that could not be decoded.
	FrameErrorDecode
)

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if this error is fatal (terminate the connection).
// Partial and oversized frames leave the stream unsynchronized.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// FrameDecoder decodes length-prefixed frames from a stream.
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder creates a new frame decoder.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: r}
}

// ReadFrame reads a single frame from the stream and returns its body.
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame (fatal)
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit (fatal)
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	size := binary.BigEndian.Uint32(lengthBuf[:])
	if size > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", size, MaxPayloadSize),
		}
	}

	body := make([]byte, size)
	_, err = io.ReadFull(d.reader, body)
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	return body, nil
}

// ReadMessageFrame reads one message frame and splits it into serializer id and payload.
func (d *FrameDecoder) ReadMessageFrame() (uint32, []byte, error) {
	body, err := d.ReadFrame()
	if err != nil {
		return 0, nil, err
	}
	if len(body) < SerializerIDSize {
		return 0, nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("message frame of %d bytes has no serializer id", len(body)),
		}
	}
	return binary.BigEndian.Uint32(body[:SerializerIDSize]), body[SerializerIDSize:], nil
}

// FrameEncoder writes length-prefixed frames to a stream.
// Safe for concurrent use; each frame is written atomically with respect
// to other WriteFrame calls on the same encoder.
type FrameEncoder struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewFrameEncoder creates a new frame encoder.
func NewFrameEncoder(w io.Writer) *FrameEncoder {
	return &FrameEncoder{w: bufio.NewWriter(w)}
}

// WriteFrame writes body as one frame and flushes it.
func (e *FrameEncoder) WriteFrame(body []byte) error {
	return e.write(nil, body)
}

// WriteMessageFrame writes one message frame: serializer id then payload.
func (e *FrameEncoder) WriteMessageFrame(serializerID uint32, payload []byte) error {
	var id [SerializerIDSize]byte
	binary.BigEndian.PutUint32(id[:], serializerID)
	return e.write(id[:], payload)
}

func (e *FrameEncoder) write(head, body []byte) error {
	size := len(head) + len(body)
	if size > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", size, MaxPayloadSize),
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(size))
	if _, err := e.w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := e.w.Write(head); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := e.w.Write(body); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return e.w.Flush()
}
