package hublink

import (
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

// fanout delivers the events of one category to all currently registered
// subscribers.
type fanout[T any] struct {
	mx          sync.Mutex
	subscribers []subscriber[T]
	info        StructuredLogger
	dbg         StructuredLogger
}

type subscriber[T any] struct {
	id       uuid.UUID
	callback func(T)
}

func newFanout[T any](info StructuredLogger, dbg StructuredLogger) *fanout[T] {
	return &fanout[T]{info: info, dbg: dbg}
}

// subscribe registers callback and returns a function that removes the
// registration again. The returned function is idempotent.
func (f *fanout[T]) subscribe(callback func(T)) func() {
	f.mx.Lock()
	defer f.mx.Unlock()
	id := uuid.New()
	f.subscribers = append(f.subscribers, subscriber[T]{id: id, callback: callback})
	return func() {
		f.unsubscribe(id)
	}
}

func (f *fanout[T]) unsubscribe(id uuid.UUID) {
	f.mx.Lock()
	defer f.mx.Unlock()
	for i, sub := range f.subscribers {
		if sub.id == id {
			f.subscribers = append(f.subscribers[:i], f.subscribers[i+1:]...)
			return
		}
	}
}

// notifyAll invokes every subscriber registered at the time of the call with
// event. The subscriber set is copied up front, so subscribing and
// unsubscribing while a notification runs is safe and does not change the
// running traversal. A panicking subscriber is reported and does not keep
// the remaining subscribers from being notified.
func (f *fanout[T]) notifyAll(event T) {
	f.mx.Lock()
	snapshot := make([]subscriber[T], len(f.subscribers))
	copy(snapshot, f.subscribers)
	f.mx.Unlock()
	for _, sub := range snapshot {
		f.notifyOne(sub, event)
	}
}

func (f *fanout[T]) notifyOne(sub subscriber[T], event T) {
	defer func() {
		if err := recover(); err != nil {
			_ = f.info.Log(evt, "panic in subscriber callback", "error", fmtMsg(err), react, "continue with remaining subscribers")
			_ = f.dbg.Log(evt, "panic in subscriber callback", "error", fmtMsg(err), "stack", string(debug.Stack()))
		}
	}()
	sub.callback(event)
}
