package serviceutil

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext returns a context that is cancelled on the first SIGINT or
// SIGTERM, a second signal kills the process the usual way.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// Fatal logs message along with err and any extra slog attributes, then exits.
func Fatal(message string, err error, attrs ...any) {
	args := append([]any{"err", err}, attrs...)
	slog.Error(message, args...)
	os.Exit(1)
}
