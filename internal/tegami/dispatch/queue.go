package dispatch

import (
	"sync"

	"github.com/bdobrica/Tegami/internal/tegami/kv"
)

// laneKey identifies one ordered delivery lane.
type laneKey struct {
	scope  kv.Scope
	thread string
}

type lane struct {
	pending []*delivery
}

// queue runs deliveries one at a time per (scope, thread). A lane's
// goroutine starts with its first delivery and exits once the lane drains,
// so an idle queue holds no goroutines.
type queue struct {
	deliver func(*delivery)

	mu     sync.Mutex
	lanes  map[laneKey]*lane
	closed bool
	wg     sync.WaitGroup
}

func newQueue(deliver func(*delivery)) *queue {
	return &queue{deliver: deliver, lanes: make(map[laneKey]*lane)}
}

// push appends d to its lane. It reports false once the queue is closed.
func (q *queue) push(d *delivery) bool {
	key := laneKey{scope: d.handle.Scope(), thread: d.threadID}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if l, ok := q.lanes[key]; ok {
		l.pending = append(l.pending, d)
		return true
	}
	l := &lane{pending: []*delivery{d}}
	q.lanes[key] = l
	q.wg.Add(1)
	go q.drain(key, l)
	return true
}

func (q *queue) drain(key laneKey, l *lane) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(l.pending) == 0 {
			delete(q.lanes, key)
			q.mu.Unlock()
			return
		}
		d := l.pending[0]
		l.pending = l.pending[1:]
		q.mu.Unlock()

		q.deliver(d)
	}
}

// pending counts deliveries not yet started.
func (q *queue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, l := range q.lanes {
		n += len(l.pending)
	}
	return n
}

// close refuses further pushes. Callers cancel in-flight deliveries
// separately and then wait.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *queue) wait() { q.wg.Wait() }
