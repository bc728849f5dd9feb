package runtime

import (
	"os"

	"github.com/pithecene-io/testpipe/log"
)

// ExitCodeProtocolAbort is the controller's exit code after a protocol abort.
const ExitCodeProtocolAbort = 70

// AbortFunc is invoked once per run on the first unrecoverable dispatch
// failure. The default terminates the controller process; library callers
// and tests inject their own.
type AbortFunc func(err error)

// ExitAbort returns an AbortFunc that logs err and exits with ExitCodeProtocolAbort.
func ExitAbort(logger *log.Logger) AbortFunc {
	return func(err error) {
		logger.Error("aborting: unrecoverable protocol failure", map[string]any{
			"error": err.Error(),
		})
		_ = logger.Sync()
		os.Exit(ExitCodeProtocolAbort)
	}
}
