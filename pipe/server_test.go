package pipe

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/multierr"

	"github.com/pithecene-io/testpipe/ipc"
	"github.com/pithecene-io/testpipe/types"
)

// echoHandler replies to handshakes and acknowledges results.
type echoHandler struct {
	ipc.UnimplementedHandler
	results atomic.Int32
}

func (h *echoHandler) HandleHandshake(_ context.Context, m *ipc.HandshakeMessage) (ipc.Message, error) {
	reply := types.NewHandshake().Set(types.HandshakePID, "1")
	if v, ok := m.Handshake.Get(types.HandshakeSupportedProtocolVersions); ok {
		reply.Set(types.HandshakeSupportedProtocolVersions, v)
	}
	return &ipc.HandshakeMessage{Handshake: reply}, nil
}

func (h *echoHandler) HandleTestResults(context.Context, *ipc.TestResultMessages) (ipc.Message, error) {
	h.results.Add(1)
	return &ipc.VoidResponse{}, nil
}

func dispatcher(h ipc.Handler) Handler {
	return HandlerFunc(func(ctx context.Context, _ *Conn, req ipc.Message) (ipc.Message, error) {
		return ipc.Dispatch(ctx, h, req)
	})
}

type errorRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *errorRecorder) record(_ *Conn, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *errorRecorder) wait(t *testing.T) []error {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		n := len(r.errs)
		r.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func startServer(t *testing.T, h ipc.Handler, onError ErrorFunc) *Server {
	t.Helper()
	srv, err := Listen(ServerConfig{
		Name:    NewEndpointName(),
		Handler: dispatcher(h),
		OnError: onError,
	})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	srv.Start(t.Context())
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func TestServer_HandshakeThenRequest(t *testing.T) {
	h := &echoHandler{}
	srv := startServer(t, h, nil)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, srv.Name(), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	reply, err := client.Handshake(ctx, types.NewHandshake().
		Set(types.HandshakePID, "4242").
		Set(types.HandshakeSupportedProtocolVersions, "1.0.0"))
	if err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	if reply.PID() != 1 {
		t.Errorf("reply PID = %d, want 1", reply.PID())
	}

	resp, err := client.Request(ctx, &ipc.TestResultMessages{ExecutionID: "e"})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if _, ok := resp.(*ipc.VoidResponse); !ok {
		t.Errorf("resp = %T, want *ipc.VoidResponse", resp)
	}
	if h.results.Load() != 1 {
		t.Errorf("results handled = %d, want 1", h.results.Load())
	}

	conns := srv.Conns()
	if len(conns) != 1 {
		t.Fatalf("conns = %d, want 1", len(conns))
	}
	if conns[0].State() != StateReady {
		t.Errorf("state = %v, want ready", conns[0].State())
	}
	if conns[0].Handshake().PID() != 4242 {
		t.Errorf("recorded PID = %d, want 4242", conns[0].Handshake().PID())
	}
}

func TestServer_HandshakeRequired(t *testing.T) {
	h := &echoHandler{}
	rec := &errorRecorder{}
	srv := startServer(t, h, rec.record)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, srv.Name(), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	if _, err := client.Request(ctx, &ipc.TestResultMessages{}); err == nil {
		t.Error("expected request before handshake to fail")
	}

	errs := rec.wait(t)
	if len(errs) != 1 {
		t.Fatalf("errors = %v, want exactly one", errs)
	}
	if !ipc.IsProtocolErrorKind(errs[0], ipc.ProtocolHandshakeRequired) {
		t.Errorf("error = %v, want handshake required", errs[0])
	}
	if h.results.Load() != 0 {
		t.Error("handler must not see a request sent before the handshake")
	}
}

func TestServer_SecondHandshakeRejected(t *testing.T) {
	rec := &errorRecorder{}
	srv := startServer(t, &echoHandler{}, rec.record)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, srv.Name(), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	if _, err := client.Handshake(ctx, types.NewHandshake()); err != nil {
		t.Fatalf("first handshake failed: %v", err)
	}
	_, _ = client.Handshake(ctx, types.NewHandshake())

	errs := rec.wait(t)
	if len(errs) == 0 || !ipc.IsProtocolErrorKind(errs[0], ipc.ProtocolUnexpectedMessage) {
		t.Errorf("errors = %v, want unexpected message", errs)
	}
}

func TestServer_UnknownMessageAcknowledged(t *testing.T) {
	srv := startServer(t, &echoHandler{}, nil)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	nc, err := dial(ctx, srv.Name())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer nc.Close()

	codec := ipc.NewDefaultCodec(ipc.Strict)
	enc := ipc.NewFrameEncoder(nc)
	dec := ipc.NewFrameDecoder(nc)

	if err := codec.WriteMessage(enc, &ipc.HandshakeMessage{Handshake: types.NewHandshake()}); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	if _, err := codec.ReadMessage(dec); err != nil {
		t.Fatalf("read handshake reply: %v", err)
	}

	if err := enc.WriteMessageFrame(250, ipc.NewRecordWriter().Bytes()); err != nil {
		t.Fatalf("write unknown: %v", err)
	}
	resp, err := codec.ReadMessage(dec)
	if err != nil {
		t.Fatalf("read unknown reply: %v", err)
	}
	if _, ok := resp.(*ipc.VoidResponse); !ok {
		t.Errorf("resp = %T, want *ipc.VoidResponse", resp)
	}
}

func TestServer_MultipleConnections(t *testing.T) {
	h := &echoHandler{}
	srv := startServer(t, h, nil)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	const clients = 4
	var wg sync.WaitGroup
	errCh := make(chan error, clients)
	for i := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := Dial(ctx, srv.Name(), nil)
			if err != nil {
				errCh <- err
				return
			}
			defer c.Close()
			if _, err := c.Handshake(ctx, types.NewHandshake().Set(types.HandshakeInstanceID, string(rune('a'+i)))); err != nil {
				errCh <- err
				return
			}
			if _, err := c.Request(ctx, &ipc.TestResultMessages{}); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("client error: %v", err)
	}

	if got := h.results.Load(); got != clients {
		t.Errorf("results handled = %d, want %d", got, clients)
	}
	if got := len(srv.Conns()); got != clients {
		t.Errorf("conns = %d, want %d", got, clients)
	}
}

// fakeListener hands out pre-made connections.
type fakeListener struct {
	conns   chan net.Conn
	closed  chan struct{}
	once    sync.Once
	noClose bool // Close does not unblock Accept
}

func newFakeListener() *fakeListener {
	return &fakeListener{conns: make(chan net.Conn, 8), closed: make(chan struct{})}
}

func (l *fakeListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *fakeListener) Close() error {
	if !l.noClose {
		l.once.Do(func() { close(l.closed) })
	}
	return nil
}

func (l *fakeListener) Addr() net.Addr { return &net.UnixAddr{Name: "fake", Net: "unix"} }

// failingConn closes the underlying conn but reports an error.
type failingConn struct {
	net.Conn
}

func (c failingConn) Close() error {
	_ = c.Conn.Close()
	return errors.New("close failed")
}

func TestServer_DisposeAggregatesCloseErrors(t *testing.T) {
	ln := newFakeListener()
	srv := newServer(ServerConfig{Name: "fake", Handler: dispatcher(&echoHandler{})}, ln)
	srv.Start(t.Context())

	// Connection 1 handshakes; connection 2 never does.
	server1, client1 := net.Pipe()
	server2, client2 := net.Pipe()
	defer client1.Close()
	defer client2.Close()
	ln.conns <- failingConn{server1}
	ln.conns <- failingConn{server2}

	c1 := newClient(client1, ipc.NewDefaultCodec(ipc.Strict))
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	if _, err := c1.Handshake(ctx, types.NewHandshake().
		Set(types.HandshakePID, "77").
		Set(types.HandshakeModulePath, "/bin/tests")); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}

	for len(srv.Conns()) < 2 {
		time.Sleep(time.Millisecond)
	}

	err := srv.Close()
	errs := multierr.Errors(err)
	if len(errs) != 2 {
		t.Fatalf("errors = %v, want 2", errs)
	}

	var sawPID, sawNone bool
	for _, e := range errs {
		var cce *ConnCloseError
		if !errors.As(e, &cce) {
			t.Fatalf("error %v is not *ConnCloseError", e)
		}
		if strings.Contains(e.Error(), "pid 77") && strings.Contains(e.Error(), "/bin/tests") {
			sawPID = true
		}
		if strings.Contains(e.Error(), "no handshake recorded") {
			sawNone = true
		}
	}
	if !sawPID || !sawNone {
		t.Errorf("errors = %v, want one annotated with pid 77 and one with no handshake", errs)
	}

	if again := srv.Close(); again == nil || again.Error() != err.Error() {
		t.Errorf("second Close = %v, want same result", again)
	}
}

func TestServer_DisposeTimeout(t *testing.T) {
	ln := newFakeListener()
	ln.noClose = true
	srv := newServer(ServerConfig{
		Name:           "fake",
		Handler:        dispatcher(&echoHandler{}),
		DisposeTimeout: 20 * time.Millisecond,
	}, ln)
	srv.Start(t.Context())

	err := srv.Close()
	if err == nil || !strings.Contains(err.Error(), "did not stop") {
		t.Errorf("Close = %v, want accept loop timeout", err)
	}
}

func TestServer_CloseBeforeStart(t *testing.T) {
	srv, err := Listen(ServerConfig{Name: NewEndpointName(), Handler: dispatcher(&echoHandler{})})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close = %v, want nil", err)
	}
}

func TestListen_Validation(t *testing.T) {
	if _, err := Listen(ServerConfig{Handler: dispatcher(&echoHandler{})}); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := Listen(ServerConfig{Name: NewEndpointName()}); err == nil {
		t.Error("expected error for missing handler")
	}
}

func TestNewEndpointName_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		n := NewEndpointName()
		if !strings.HasPrefix(n, EndpointPrefix) {
			t.Fatalf("name %q lacks prefix", n)
		}
		if seen[n] {
			t.Fatalf("duplicate name %q", n)
		}
		seen[n] = true
	}
}

func TestConnCloseError_NoHandshake(t *testing.T) {
	err := &ConnCloseError{ConnID: 3, Err: errors.New("x")}
	if !strings.Contains(err.Error(), "no handshake recorded") {
		t.Errorf("Error() = %q", err.Error())
	}
}
