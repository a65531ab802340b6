// Package recovery keeps a panicking background goroutine from taking the
// whole process down.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/postalsys/muti-ping/internal/logging"
)

// RecoverWithLog recovers from a panic and logs it with its stack. Defer it
// first thing in a goroutine:
//
//	go func() {
//	    defer recovery.RecoverWithLog(logger, "health.serve")
//	    ...
//	}()
func RecoverWithLog(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
	}
}

// RecoverWithCallback is RecoverWithLog followed by callback, if non-nil.
func RecoverWithCallback(logger *slog.Logger, name string, callback func(recovered any)) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
		if callback != nil {
			callback(r)
		}
	}
}

// Go runs fn on a new goroutine with RecoverWithLog deferred.
func Go(logger *slog.Logger, name string, fn func()) {
	go func() {
		defer RecoverWithLog(logger, name)
		fn()
	}()
}

func logPanic(logger *slog.Logger, name string, r any) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger.Error("panic recovered",
		slog.String("goroutine", name),
		slog.String("panic", fmt.Sprintf("%v", r)),
		slog.String("stack", string(debug.Stack())))
}
