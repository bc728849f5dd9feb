package pipe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pithecene-io/testpipe/ipc"
	"github.com/pithecene-io/testpipe/types"
)

// Client is the dialing side of a pipe. Requests are serialized: one
// request is in flight at a time and each waits for its response.
type Client struct {
	nc    net.Conn
	codec *ipc.Codec
	dec   *ipc.FrameDecoder
	enc   *ipc.FrameEncoder

	mu sync.Mutex
}

// Dial connects to the named endpoint, retrying until ctx is done.
// codec defaults to a permissive codec with every known message.
func Dial(ctx context.Context, name string, codec *ipc.Codec) (*Client, error) {
	if codec == nil {
		codec = ipc.NewDefaultCodec(ipc.Permissive)
	}

	backoff := 10 * time.Millisecond
	for {
		nc, err := dial(ctx, name)
		if err == nil {
			return newClient(nc, codec), nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: %w", Address(name), errors.Join(ctx.Err(), err))
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 500*time.Millisecond)
	}
}

func newClient(nc net.Conn, codec *ipc.Codec) *Client {
	return &Client{
		nc:    nc,
		codec: codec,
		dec:   ipc.NewFrameDecoder(nc),
		enc:   ipc.NewFrameEncoder(nc),
	}
}

// Request sends m and waits for the response.
// The ctx deadline, if any, bounds the whole exchange.
func (c *Client) Request(ctx context.Context, m ipc.Message) (ipc.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.nc.SetDeadline(deadline)
		defer func() { _ = c.nc.SetDeadline(time.Time{}) }()
	}

	// Unblock I/O if ctx is cancelled mid-exchange.
	stop := context.AfterFunc(ctx, func() {
		_ = c.nc.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := c.codec.WriteMessage(c.enc, m); err != nil {
		return nil, c.ctxErr(ctx, fmt.Errorf("send %T: %w", m, err))
	}
	resp, err := c.codec.ReadMessage(c.dec)
	if err != nil {
		return nil, c.ctxErr(ctx, fmt.Errorf("await response to %T: %w", m, err))
	}
	return resp, nil
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Join(ctx.Err(), err)
	}
	return err
}

// Handshake sends hs and returns the peer's handshake.
func (c *Client) Handshake(ctx context.Context, hs *types.Handshake) (*types.Handshake, error) {
	resp, err := c.Request(ctx, &ipc.HandshakeMessage{Handshake: hs})
	if err != nil {
		return nil, err
	}
	reply, ok := resp.(*ipc.HandshakeMessage)
	if !ok {
		return nil, ipc.NewUnexpectedMessageError(resp, "handshake reply")
	}
	return reply.Handshake, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.nc.Close()
}
