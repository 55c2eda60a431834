package supervisor

import (
	"strconv"

	"github.com/getsentry/sentry-go"
)

// reportCrash sends a pod crash to sentry. It does nothing unless sentry
// was initialised with a DSN.
func reportCrash(err *ExitError, ready bool) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("capability", err.Capability)
		scope.SetTag("exit_code", strconv.Itoa(err.Code))
		scope.SetTag("ready", strconv.FormatBool(ready))
		scope.SetExtra("stderr", err.Stderr)

		sentry.CaptureException(err)
	})
}
