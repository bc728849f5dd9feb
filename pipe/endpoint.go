// Package pipe implements the local channel transport: a rendezvous
// endpoint accepting connections that handshake, then exchange
// request/response messages per CONTRACT_PIPE.md.
package pipe

import (
	"strings"

	"github.com/google/uuid"
)

// EndpointPrefix prefixes every generated endpoint name.
const EndpointPrefix = "testpipe-"

// NewEndpointName returns a fresh endpoint name. Names are never reused.
func NewEndpointName() string {
	return EndpointPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
