package pipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/pithecene-io/testpipe/ipc"
	"github.com/pithecene-io/testpipe/log"
)

// DefaultDisposeTimeout bounds how long Close waits for the accept loop to stop.
const DefaultDisposeTimeout = 30 * time.Second

// Handler answers one request on a connection.
type Handler interface {
	ServeMessage(ctx context.Context, conn *Conn, req ipc.Message) (ipc.Message, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, conn *Conn, req ipc.Message) (ipc.Message, error)

// ServeMessage calls f.
func (f HandlerFunc) ServeMessage(ctx context.Context, conn *Conn, req ipc.Message) (ipc.Message, error) {
	return f(ctx, conn, req)
}

// ErrorFunc observes a connection-fatal error (protocol violation or handler failure).
type ErrorFunc func(conn *Conn, err error)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Name is the endpoint name. Required.
	Name string
	// Handler answers requests. Required.
	Handler Handler
	// Codec decodes requests; defaults to a permissive codec with every known message.
	Codec *ipc.Codec
	// OnError observes connection-fatal errors. Optional.
	OnError ErrorFunc
	// Logger is optional.
	Logger *log.Logger
	// DisposeTimeout defaults to DefaultDisposeTimeout.
	DisposeTimeout time.Duration
}

// Server accepts connections on one endpoint and serves each independently.
type Server struct {
	config   ServerConfig
	listener net.Listener

	cancel     context.CancelFunc
	acceptDone chan struct{}
	started    bool

	// conns is appended to by the accept loop only.
	mu     sync.Mutex
	conns  []*Conn
	connWG sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// Listen creates the endpoint. The accept loop starts with Start.
func Listen(config ServerConfig) (*Server, error) {
	if config.Name == "" {
		return nil, errors.New("endpoint name is required")
	}
	if config.Handler == nil {
		return nil, errors.New("handler is required")
	}
	ln, err := listen(config.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", Address(config.Name), err)
	}
	return newServer(config, ln), nil
}

func newServer(config ServerConfig, ln net.Listener) *Server {
	if config.Codec == nil {
		config.Codec = ipc.NewDefaultCodec(ipc.Permissive)
	}
	if config.DisposeTimeout <= 0 {
		config.DisposeTimeout = DefaultDisposeTimeout
	}
	return &Server{
		config:     config,
		listener:   ln,
		acceptDone: make(chan struct{}),
	}
}

// Name returns the endpoint name.
func (s *Server) Name() string {
	return s.config.Name
}

// Start runs the accept loop in the background until ctx is cancelled or Close is called.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	// Closing the listener unblocks Accept.
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	go s.acceptLoop(ctx)
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer close(s.acceptDone)

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.config.Logger.Error("accept failed", map[string]any{"error": err.Error()})
			}
			return
		}

		s.mu.Lock()
		conn := newConn(len(s.conns)+1, nc)
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.config.Logger.Debug("connection accepted", map[string]any{"conn": conn.ID()})

		s.connWG.Add(1)
		go func() {
			defer s.connWG.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// serveConn runs the read-dispatch-write loop for one connection.
func (s *Server) serveConn(ctx context.Context, conn *Conn) {
	defer func() { _ = conn.close() }()

	codec := s.config.Codec
	for {
		req, err := codec.ReadMessage(conn.dec)
		if err != nil {
			if isPeerGone(err) || ctx.Err() != nil || conn.State() == StateClosed {
				return
			}
			s.fail(conn, fmt.Errorf("read request: %w", err))
			return
		}

		if conn.State() == StateHandshakeExpected {
			hs, ok := req.(*ipc.HandshakeMessage)
			if !ok {
				s.fail(conn, ipc.NewHandshakeRequiredError(req))
				return
			}
			conn.recordHandshake(hs.Handshake)
		} else if _, again := req.(*ipc.HandshakeMessage); again {
			s.fail(conn, ipc.NewUnexpectedMessageError(req, "ready connection"))
			return
		}

		resp, err := s.config.Handler.ServeMessage(ctx, conn, req)
		if err != nil {
			s.fail(conn, err)
			return
		}
		if resp == nil {
			resp = &ipc.VoidResponse{}
		}

		if err := codec.WriteMessage(conn.enc, resp); err != nil {
			if isPeerGone(err) || ctx.Err() != nil {
				return
			}
			s.fail(conn, fmt.Errorf("write response: %w", err))
			return
		}

		if conn.State() == StateHandshakeExpected {
			conn.setState(StateReady)
		}
	}
}

func (s *Server) fail(conn *Conn, err error) {
	s.config.Logger.Error("connection failed", map[string]any{
		"conn":      conn.ID(),
		"handshake": describeHandshake(conn.Handshake()),
		"error":     err.Error(),
	})
	if s.config.OnError != nil {
		s.config.OnError(conn, err)
	}
}

func isPeerGone(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// Conns returns a snapshot of accepted connections.
func (s *Server) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Conn(nil), s.conns...)
}

// Close stops accepting, waits up to DisposeTimeout for the accept loop to
// stop, closes every connection, and returns their close errors combined.
// Safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.dispose()
	})
	return s.closeErr
}

func (s *Server) dispose() error {
	var errs error

	if !s.started {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierr.Append(errs, fmt.Errorf("close listener: %w", err))
		}
		return errs
	}

	s.cancel()
	select {
	case <-s.acceptDone:
	case <-time.After(s.config.DisposeTimeout):
		errs = multierr.Append(errs, fmt.Errorf("accept loop did not stop within %s", s.config.DisposeTimeout))
	}

	for _, conn := range s.Conns() {
		if err := conn.close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierr.Append(errs, &ConnCloseError{
				ConnID:    conn.ID(),
				Handshake: conn.Handshake(),
				Err:       err,
			})
		}
	}
	s.connWG.Wait()

	return errs
}
