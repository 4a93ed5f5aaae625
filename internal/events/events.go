// Package events carries pipeline progress from the runner to its
// observers. Producers emit onto a single channel; one hub goroutine drains
// it and fans each event out to the subscribers in emission order.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Type names an event.
type Type string

const (
	PipelineStart    Type = "pipeline_start"
	StageStart       Type = "stage_start"
	Progress         Type = "progress"
	StageComplete    Type = "stage_complete"
	StageError       Type = "stage_error"
	PipelineComplete Type = "pipeline_complete"
	PipelineError    Type = "pipeline_error"
	LLMToken         Type = "llm_token"
)

// Event is one progress notification.
type Event struct {
	Type      Type           `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id,omitempty"`
	Stage     string         `json:"stage,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler receives events on the hub goroutine. It must not block for long.
type Handler func(Event)

// Emitter is what producers depend on.
type Emitter interface {
	Emit(Event)
}

// Hub owns the event channel and its subscribers.
type Hub struct {
	in   chan Event
	done chan struct{}
	log  *slog.Logger

	sendMu sync.RWMutex // guards closed and sends on in
	closed bool

	mu       sync.RWMutex // guards the subscriber set
	handlers map[int]Handler
	order    []int
	nextID   int
}

// NewHub starts a hub with the given channel buffer (default 256).
func NewHub(buffer int, log *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		in:       make(chan Event, buffer),
		done:     make(chan struct{}),
		log:      log,
		handlers: make(map[int]Handler),
	}
	go h.run()
	return h
}

// Emit queues e for delivery. A zero Timestamp is set to now. Events
// emitted after Close are dropped.
func (h *Hub) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	h.sendMu.RLock()
	defer h.sendMu.RUnlock()
	if h.closed {
		return
	}
	h.in <- e
}

// Subscribe registers a handler and returns an unsubscribe function.
func (h *Hub) Subscribe(fn Handler) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.handlers[id] = fn
	h.order = append(h.order, id)
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.handlers[id]; !ok {
			return
		}
		delete(h.handlers, id)
		for i, v := range h.order {
			if v == id {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	}
}

// Count returns the number of subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}

// Close stops accepting events, delivers the queued ones and waits for the
// hub goroutine to exit.
func (h *Hub) Close() {
	h.sendMu.Lock()
	if !h.closed {
		h.closed = true
		close(h.in)
	}
	h.sendMu.Unlock()
	<-h.done
}

func (h *Hub) run() {
	defer close(h.done)
	for e := range h.in {
		h.mu.RLock()
		snapshot := make([]Handler, 0, len(h.order))
		for _, id := range h.order {
			snapshot = append(snapshot, h.handlers[id])
		}
		h.mu.RUnlock()

		for _, fn := range snapshot {
			h.deliver(fn, e)
		}
	}
}

func (h *Hub) deliver(fn Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("event handler panicked", "event", e.Type, "panic", r)
		}
	}()
	fn(e)
}

// Func adapts a function to an Emitter.
type Func func(Event)

func (f Func) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Emitter = Func(func(Event) {})

// LogHandler logs each event at a level matching its type.
func LogHandler(log *slog.Logger) Handler {
	return func(e Event) {
		attrs := []any{"event", string(e.Type)}
		if e.Stage != "" {
			attrs = append(attrs, "stage", e.Stage)
		}
		switch e.Type {
		case LLMToken:
			return
		case Progress:
			log.Debug("progress", append(attrs, "current", e.Data["current"], "total", e.Data["total"], "message", e.Data["message"])...)
		case StageError, PipelineError:
			log.Error("pipeline event", append(attrs, "error", e.Data["error"])...)
		default:
			log.Info("pipeline event", attrs...)
		}
	}
}
