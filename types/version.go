// Package types defines core domain types for the testpipe controller.
//
//nolint:revive // types is a common Go package naming convention
package types

// Version is the canonical project version.
// The CLI, the controller handshake, and the sample host share this version.
const Version = "0.3.0"

// ProtocolVersion is the pipe protocol version spoken by this controller
// per CONTRACT_PIPE.md. Advertised in the handshake reply when negotiated.
const ProtocolVersion = "1.0.0"

// SupportedProtocolVersions lists every protocol version this controller
// can speak, highest first.
var SupportedProtocolVersions = []string{ProtocolVersion}
