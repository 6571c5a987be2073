package dispatch

import (
	"log/slog"

	"github.com/bdobrica/Tegami/internal/tegami/kv"
)

// Notifier is how the pipeline talks to whatever renders the UI.
type Notifier interface {
	// Failed reports a generation round trip that produced nothing. The
	// user's own message has already been recorded.
	Failed(scope kv.Scope, threadID string, err error)
	// Rerender reports that a thread gained messages.
	Rerender(scope kv.Scope, threadID string)
	// Alert reports a condition the user must act on, such as a full
	// local store.
	Alert(err error)
}

// LogNotifier writes notifications to a logger. It is the default.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

func (n LogNotifier) Failed(scope kv.Scope, threadID string, err error) {
	n.logger().Warn("dispatch: reply failed", "scope", scope.String(), "thread", threadID, "err", err)
}

func (n LogNotifier) Rerender(scope kv.Scope, threadID string) {
	n.logger().Debug("dispatch: rerender", "scope", scope.String(), "thread", threadID)
}

func (n LogNotifier) Alert(err error) {
	n.logger().Error("dispatch: alert", "err", err)
}
