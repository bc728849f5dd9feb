package types

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// HandshakeProperty is a small integer tag identifying a handshake property.
type HandshakeProperty uint8

// Handshake property tags per CONTRACT_PIPE.md.
const (
	HandshakePID                       HandshakeProperty = 0
	HandshakeArchitecture              HandshakeProperty = 1
	HandshakeRuntime                   HandshakeProperty = 2
	HandshakeOS                        HandshakeProperty = 3
	HandshakeSupportedProtocolVersions HandshakeProperty = 4
	HandshakeHostType                  HandshakeProperty = 5
	HandshakeModulePath                HandshakeProperty = 6
	HandshakeExecutionID               HandshakeProperty = 7
	HandshakeInstanceID                HandshakeProperty = 8
)

var handshakePropertyNames = map[HandshakeProperty]string{
	HandshakePID:                       "pid",
	HandshakeArchitecture:              "architecture",
	HandshakeRuntime:                   "runtime",
	HandshakeOS:                        "os",
	HandshakeSupportedProtocolVersions: "supported_protocol_versions",
	HandshakeHostType:                  "host_type",
	HandshakeModulePath:                "module_path",
	HandshakeExecutionID:               "execution_id",
	HandshakeInstanceID:                "instance_id",
}

func (p HandshakeProperty) String() string {
	if name, ok := handshakePropertyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("property(%d)", uint8(p))
}

// ProtocolVersionSeparator separates versions in the supported-versions property.
const ProtocolVersionSeparator = ";"

// Handshake is the unordered property mapping exchanged once per connection.
type Handshake struct {
	Properties map[HandshakeProperty]string
}

// NewHandshake returns an empty handshake.
func NewHandshake() *Handshake {
	return &Handshake{Properties: make(map[HandshakeProperty]string)}
}

// Get returns the value of a property.
func (h *Handshake) Get(p HandshakeProperty) (string, bool) {
	if h == nil || h.Properties == nil {
		return "", false
	}
	v, ok := h.Properties[p]
	return v, ok
}

// Set sets a property, allocating the map if needed.
func (h *Handshake) Set(p HandshakeProperty, value string) *Handshake {
	if h.Properties == nil {
		h.Properties = make(map[HandshakeProperty]string)
	}
	h.Properties[p] = value
	return h
}

// PID returns the peer's process id, or 0 if absent or malformed.
func (h *Handshake) PID() int {
	v, ok := h.Get(HandshakePID)
	if !ok {
		return 0
	}
	pid, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return pid
}

// ProtocolVersions splits the supported-versions property.
func (h *Handshake) ProtocolVersions() []string {
	v, ok := h.Get(HandshakeSupportedProtocolVersions)
	if !ok || v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ProtocolVersionSeparator) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// String renders the handshake for diagnostics, properties in tag order.
func (h *Handshake) String() string {
	if h == nil {
		return "<no handshake>"
	}
	keys := slices.Sorted(maps.Keys(h.Properties))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, h.Properties[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
