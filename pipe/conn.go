package pipe

import (
	"fmt"
	"net"
	"sync"

	"github.com/pithecene-io/testpipe/ipc"
	"github.com/pithecene-io/testpipe/types"
)

// ConnState is the lifecycle state of one accepted connection.
type ConnState int

const (
	// StateHandshakeExpected is the initial state; only a handshake is accepted.
	StateHandshakeExpected ConnState = iota
	// StateReady accepts any request.
	StateReady
	// StateClosed is terminal.
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateHandshakeExpected:
		return "handshake_expected"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one accepted connection.
type Conn struct {
	id  int
	nc  net.Conn
	dec *ipc.FrameDecoder
	enc *ipc.FrameEncoder

	mu        sync.Mutex
	state     ConnState
	handshake *types.Handshake

	closeOnce sync.Once
	closeErr  error
}

func newConn(id int, nc net.Conn) *Conn {
	return &Conn{
		id:    id,
		nc:    nc,
		dec:   ipc.NewFrameDecoder(nc),
		enc:   ipc.NewFrameEncoder(nc),
		state: StateHandshakeExpected,
	}
}

// ID returns the connection's sequence number within its server, starting at 1.
func (c *Conn) ID() int { return c.id }

// State returns the current state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Handshake returns the peer's handshake, or nil if none has been recorded.
func (c *Conn) Handshake() *types.Handshake {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshake
}

func (c *Conn) recordHandshake(h *types.Handshake) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handshake = h
}

func (c *Conn) setState(s ConnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// close closes the underlying connection once; later calls return the first result.
func (c *Conn) close() error {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}

// ConnCloseError is a failure closing one connection, annotated with the
// handshake recorded on it.
type ConnCloseError struct {
	ConnID    int
	Handshake *types.Handshake
	Err       error
}

func (e *ConnCloseError) Error() string {
	return fmt.Sprintf("close connection %d (%s): %v", e.ConnID, describeHandshake(e.Handshake), e.Err)
}

func (e *ConnCloseError) Unwrap() error {
	return e.Err
}

func describeHandshake(h *types.Handshake) string {
	if h == nil {
		return "no handshake recorded"
	}
	module, _ := h.Get(types.HandshakeModulePath)
	return fmt.Sprintf("pid %d, module %q", h.PID(), module)
}
