package runtime

import (
	"os"
	goruntime "runtime"
	"strconv"

	"golang.org/x/mod/semver"

	"github.com/pithecene-io/testpipe/types"
)

// HostType identifies this controller in handshakes.
const HostType = "testpipe"

// NegotiateVersion returns the highest version present in both lists, or
// "" when they share none. Versions are compared as semver; entries that
// are not valid semver only match exactly and rank lowest.
func NegotiateVersion(peer, ours []string) string {
	supported := make(map[string]bool, len(ours))
	for _, v := range ours {
		supported[v] = true
	}

	best := ""
	for _, v := range peer {
		if !supported[v] {
			continue
		}
		if best == "" || semver.Compare("v"+v, "v"+best) > 0 {
			best = v
		}
	}
	return best
}

// ControllerHandshake builds this process's handshake properties.
// negotiated is placed in the supported-versions property; pass the full
// supported list when initiating rather than replying.
func ControllerHandshake(negotiated, executionID, instanceID string) *types.Handshake {
	hs := types.NewHandshake().
		Set(types.HandshakePID, strconv.Itoa(os.Getpid())).
		Set(types.HandshakeArchitecture, goruntime.GOARCH).
		Set(types.HandshakeRuntime, goruntime.Version()).
		Set(types.HandshakeOS, goruntime.GOOS).
		Set(types.HandshakeSupportedProtocolVersions, negotiated).
		Set(types.HandshakeHostType, HostType)
	if executionID != "" {
		hs.Set(types.HandshakeExecutionID, executionID)
	}
	if instanceID != "" {
		hs.Set(types.HandshakeInstanceID, instanceID)
	}
	return hs
}
