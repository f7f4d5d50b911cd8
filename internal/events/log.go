package events

import (
	"log/slog"
	"sync"
	"time"
)

type waiter struct {
	ch   chan struct{}
	once sync.Once
}

func (w *waiter) release() {
	w.once.Do(func() { close(w.ch) })
}

// Log keeps the most recent events under increasing offsets so remote
// consumers can read them in order and long-poll for more
type Log struct {
	mu         sync.RWMutex
	events     []Event
	nextOffset int64
	maxEvents  int
	logger     *slog.Logger

	waitersMutex sync.Mutex
	waiters      map[int64][]*waiter
}

// NewLog creates a log retaining at most maxEvents events
func NewLog(maxEvents int, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEvents < 4 {
		maxEvents = 4
	}
	return &Log{
		events:    make([]Event, 0),
		maxEvents: maxEvents,
		logger:    logger,
		waiters:   make(map[int64][]*waiter),
	}
}

// Attach appends every event published on bus until the returned function is called
func (l *Log) Attach(bus *Bus) func() {
	return bus.SubscribeAll(func(e Event) {
		l.Append(e)
	})
}

// Append stores e under the next offset and wakes waiting readers
func (l *Log) Append(e Event) Event {
	l.mu.Lock()
	e.Offset = l.nextOffset
	l.nextOffset++
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	l.events = append(l.events, e)

	if len(l.events) > l.maxEvents {
		// Keep 75% of max events
		keepCount := l.maxEvents * 3 / 4
		removed := len(l.events) - keepCount
		l.events = append([]Event(nil), l.events[removed:]...)

		l.logger.Debug("Event log rotated",
			"removed_events", removed,
			"remaining_events", len(l.events),
		)
	}
	l.mu.Unlock()

	l.notifyWaiters(e.Offset)
	return e
}

// GetEvents returns up to limit events starting at fromOffset, the offset
// to read next, and whether more events are already available
func (l *Log) GetEvents(fromOffset int64, limit int) ([]Event, int64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	startIdx := -1
	for i, event := range l.events {
		if event.Offset >= fromOffset {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return []Event{}, l.nextOffset, false
	}

	endIdx := len(l.events)
	hasMore := false
	if limit > 0 && startIdx+limit < endIdx {
		endIdx = startIdx + limit
		hasMore = true
	}

	result := make([]Event, endIdx-startIdx)
	copy(result, l.events[startIdx:endIdx])

	return result, result[len(result)-1].Offset + 1, hasMore
}

// WaitForEvents returns a channel closed once an event at or after
// fromOffset exists, or when timeout elapses
func (l *Log) WaitForEvents(fromOffset int64, timeout time.Duration) <-chan struct{} {
	l.waitersMutex.Lock()
	defer l.waitersMutex.Unlock()

	w := &waiter{ch: make(chan struct{})}

	l.mu.RLock()
	available := l.nextOffset > fromOffset
	l.mu.RUnlock()
	if available {
		w.release()
		return w.ch
	}

	l.waiters[fromOffset] = append(l.waiters[fromOffset], w)
	time.AfterFunc(timeout, w.release)

	return w.ch
}

// CurrentOffset returns the offset the next event will get
func (l *Log) CurrentOffset() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextOffset
}

func (l *Log) notifyWaiters(offset int64) {
	l.waitersMutex.Lock()
	defer l.waitersMutex.Unlock()

	for waitOffset, waiters := range l.waiters {
		if waitOffset <= offset {
			for _, w := range waiters {
				w.release()
			}
			delete(l.waiters, waitOffset)
		}
	}
}
