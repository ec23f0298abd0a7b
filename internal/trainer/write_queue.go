package trainer

import (
	"errors"
	"log"
	"sync"
)

// errNoTarget is returned by a dispatcher when there is no link or no
// characteristic to send an entry to. The entry is dropped.
var errNoTarget = errors.New("no link or characteristic to write to")

type writeKind int

const (
	writeValue writeKind = iota
	writeIndicationEnable
)

// charRole names a characteristic of the current link. The queue stores the
// role, never the handle, so entries always go to the link that is current
// when they are sent.
type charRole int

const (
	roleControlPoint charRole = iota
	roleMachineStatus
)

func (r charRole) String() string {
	if r == roleMachineStatus {
		return "machine status"
	}
	return "control point"
}

type pendingWrite struct {
	kind    writeKind
	role    charRole
	payload []byte
}

// writeDispatcher sends one entry to the hardware. A nil error means a
// completion will follow.
type writeDispatcher func(w pendingWrite) error

// WriteQueue lets one GATT operation be outstanding at a time. Entries wait
// in FIFO order while an operation is in flight and are sent when its
// completion arrives.
type WriteQueue struct {
	mu       sync.Mutex
	items    []pendingWrite
	inFlight bool
	dispatch writeDispatcher
	logger   *log.Logger
}

func newWriteQueue(dispatch writeDispatcher, logger *log.Logger) *WriteQueue {
	if dispatch == nil {
		panic("WriteQueue: dispatch cannot be nil")
	}
	if logger == nil {
		panic("WriteQueue: logger cannot be nil")
	}
	return &WriteQueue{dispatch: dispatch, logger: logger}
}

func (q *WriteQueue) Enqueue(w pendingWrite) {
	q.push(w)
	q.drain()
}

// push appends without sending. Callers that order entries under their own
// lock push there and drain after releasing it.
func (q *WriteQueue) push(w pendingWrite) {
	q.mu.Lock()
	q.items = append(q.items, w)
	q.mu.Unlock()
}

// Complete is called for every hardware completion, successful or not.
func (q *WriteQueue) Complete() {
	q.mu.Lock()
	q.inFlight = false
	q.mu.Unlock()
	q.drain()
}

// Reset drops every pending entry and forgets the in-flight operation.
func (q *WriteQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.inFlight = false
}

func (q *WriteQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *WriteQueue) InFlight() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

func (q *WriteQueue) drain() {
	for {
		q.mu.Lock()
		if q.inFlight || len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		next := q.items[0]
		q.items = q.items[1:]
		q.inFlight = true
		q.mu.Unlock()

		err := q.dispatch(next)
		if err == nil {
			return
		}
		if errors.Is(err, errNoTarget) {
			q.logger.Printf("WriteQueue: dropping %s write: %v", next.role, err)
		} else {
			q.logger.Printf("WriteQueue: %s write failed: %v", next.role, err)
		}
		q.mu.Lock()
		q.inFlight = false
		q.mu.Unlock()
	}
}
