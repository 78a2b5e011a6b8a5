package insight

import (
	"sync"
)

// Observer is a registered change callback. Call Unsubscribe to stop
// receiving changes.
type Observer struct {
	id     uint64
	userID string
	fn     func(Record)

	hub  *observerHub
	once sync.Once
}

// Unsubscribe removes the observer. It is safe to call more than once.
func (o *Observer) Unsubscribe() {
	o.once.Do(func() {
		o.hub.remove(o)
	})
}

// observerHub fans record changes out to observers. Callbacks run on a
// single dispatch goroutine, in change order, and never while a cache lock
// is held.
type observerHub struct {
	mu        sync.Mutex
	observers map[string]map[uint64]*Observer
	nextID    uint64

	queueMu sync.Mutex
	queue   []Record
	signal  chan struct{}

	quit chan struct{}
	done chan struct{}
	stop sync.Once
}

func newObserverHub() *observerHub {
	h := &observerHub{
		observers: make(map[string]map[uint64]*Observer),
		signal:    make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go h.run()

	return h
}

func (h *observerHub) add(userID string, fn func(Record)) *Observer {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	o := &Observer{
		id:     h.nextID,
		userID: userID,
		fn:     fn,
		hub:    h,
	}
	if h.observers[userID] == nil {
		h.observers[userID] = make(map[uint64]*Observer)
	}
	h.observers[userID][o.id] = o

	return o
}

func (h *observerHub) remove(o *Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.observers[o.userID], o.id)
	if len(h.observers[o.userID]) == 0 {
		delete(h.observers, o.userID)
	}
}

// publish queues a change. It never blocks.
func (h *observerHub) publish(rec Record) {
	h.queueMu.Lock()
	h.queue = append(h.queue, rec)
	h.queueMu.Unlock()

	select {
	case h.signal <- struct{}{}:
	default:
	}
}

func (h *observerHub) run() {
	defer close(h.done)

	for {
		select {
		case <-h.quit:
			return
		case <-h.signal:
		}

		h.queueMu.Lock()
		batch := h.queue
		h.queue = nil
		h.queueMu.Unlock()

		for _, rec := range batch {
			for _, fn := range h.callbacks(rec.UserID) {
				fn(rec.clone())
			}
		}
	}
}

func (h *observerHub) callbacks(userID string) []func(Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fns := make([]func(Record), 0, len(h.observers[userID]))
	for _, o := range h.observers[userID] {
		fns = append(fns, o.fn)
	}

	return fns
}

// close stops the dispatch goroutine. Queued changes are dropped.
func (h *observerHub) close() {
	h.stop.Do(func() {
		close(h.quit)
	})
	<-h.done
}
