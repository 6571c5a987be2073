package app

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/Tegami/internal/tegami/kv"
)

// EventKind names a UI notification.
type EventKind string

const (
	EventFailed   EventKind = "failed"
	EventRerender EventKind = "rerender"
	EventAlert    EventKind = "alert"
	EventDegraded EventKind = "degraded"
)

// Event is one entry of the notification feed clients poll.
type Event struct {
	Seq      int64     `json:"seq"`
	Kind     EventKind `json:"kind"`
	Scope    string    `json:"scope,omitempty"`
	ThreadID string    `json:"threadId,omitempty"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

const eventBacklog = 256

// eventLog implements dispatch.Notifier as a bounded, sequence-numbered
// feed.
type eventLog struct {
	logger *slog.Logger

	mu     sync.Mutex
	seq    int64
	events []Event
}

func newEventLog(logger *slog.Logger) *eventLog {
	return &eventLog{logger: logger}
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	e.Seq = l.seq
	e.At = time.Now()
	l.events = append(l.events, e)
	if len(l.events) > eventBacklog {
		l.events = append([]Event(nil), l.events[len(l.events)-eventBacklog:]...)
	}
}

func (l *eventLog) Failed(scope kv.Scope, threadID string, err error) {
	l.logger.Warn("reply failed", "scope", scope.String(), "thread", threadID, "err", err)
	l.add(Event{Kind: EventFailed, Scope: scope.String(), ThreadID: threadID, Message: err.Error()})
}

func (l *eventLog) Rerender(scope kv.Scope, threadID string) {
	l.add(Event{Kind: EventRerender, Scope: scope.String(), ThreadID: threadID})
}

func (l *eventLog) Alert(err error) {
	l.logger.Error("alert", "err", err)
	l.add(Event{Kind: EventAlert, Message: err.Error()})
}

func (l *eventLog) degraded(scope kv.Scope, err error) {
	l.add(Event{Kind: EventDegraded, Scope: scope.String(), Message: err.Error()})
}

// Since returns events with a sequence number above seq.
func (l *eventLog) Since(seq int64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []Event{}
	for _, e := range l.events {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}
