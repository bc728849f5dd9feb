//go:build !windows

package pipe

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"path/filepath"
)

// Address maps an endpoint name to a unix socket path under the temp dir.
// Absolute names are used as given.
func Address(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(os.TempDir(), name+".sock")
}

func listen(name string) (net.Listener, error) {
	addr := Address(name)
	if err := os.Remove(addr); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return net.Listen("unix", addr)
}

func dial(ctx context.Context, name string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", Address(name))
}
