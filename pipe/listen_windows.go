//go:build windows

package pipe

import (
	"context"
	"net"
	"strings"

	"github.com/Microsoft/go-winio"
)

const pipePrefix = `\\.\pipe\`

// Address maps an endpoint name to a named pipe path.
func Address(name string) string {
	if strings.HasPrefix(name, pipePrefix) {
		return name
	}
	return pipePrefix + name
}

func listen(name string) (net.Listener, error) {
	return winio.ListenPipe(Address(name), &winio.PipeConfig{
		InputBufferSize:  64 * 1024,
		OutputBufferSize: 64 * 1024,
	})
}

func dial(ctx context.Context, name string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, Address(name))
}
