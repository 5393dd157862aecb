package dispatch

import "sync"

// Kind names an execution event.
type Kind string

const (
	KindCompiled  Kind = "compiled_execution"
	KindEvaluated Kind = "evaluated_execution"
)

// Phase distinguishes the two halves of an execution event.
type Phase string

const (
	PhaseStart Phase = "start"
	PhaseEnd   Phase = "end"
)

// Event is a lifecycle notification around one execution.
type Event struct {
	// Seq is stamped by the sink's clock; strictly increasing per sink.
	Seq        int64  `json:"seq"`
	Kind       Kind   `json:"kind"`
	Phase      Phase  `json:"phase"`
	Function   string `json:"function"`
	Dispatcher string `json:"dispatcher"`
	Signature  string `json:"signature"`

	// Err is the backend error, set on end events of failed executions.
	Err error `json:"-"`
}

// Listener receives events. Listeners run synchronously in the calling
// goroutine; a panicking listener is not recovered.
type Listener func(Event)

// Clock provides event sequence numbers.
type Clock interface {
	Next() int64
}

type subscription struct {
	id int
	fn Listener
}

// EventSink delivers execution events to listeners subscribed by kind.
//
// Thread-safety: EventSink is safe for concurrent use. Listeners registered
// or removed while an event is delivered take effect from the next event.
type EventSink struct {
	mu        sync.RWMutex
	clock     Clock
	nextID    int
	listeners map[Kind][]subscription
}

// NewEventSink creates a sink stamping events with clock. A nil clock uses
// a fresh LogicalClock.
func NewEventSink(clock Clock) *EventSink {
	if clock == nil {
		clock = NewLogicalClock()
	}
	return &EventSink{clock: clock, listeners: make(map[Kind][]subscription)}
}

// Subscribe registers l for events of kind. The returned function removes
// the subscription; calling it more than once is harmless.
func (s *EventSink) Subscribe(kind Kind, l Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[kind] = append(s.listeners[kind], subscription{id: id, fn: l})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.listeners[kind]
		for i, sub := range subs {
			if sub.id == id {
				s.listeners[kind] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Begin emits the start event for one execution and returns the function
// that emits the matching end event. The end function reports err on the
// event and never alters it:
//
//	end := sink.Begin(KindCompiled, "add", id, "(int64, int64)")
//	defer func() { end(err) }()
func (s *EventSink) Begin(kind Kind, function, dispatcher, signature string) (end func(err error)) {
	ev := Event{
		Kind:       kind,
		Phase:      PhaseStart,
		Function:   function,
		Dispatcher: dispatcher,
		Signature:  signature,
	}
	s.emit(ev)

	var once sync.Once
	return func(err error) {
		once.Do(func() {
			ev.Phase = PhaseEnd
			ev.Err = err
			s.emit(ev)
		})
	}
}

// Listeners returns the number of listeners subscribed to kind.
func (s *EventSink) Listeners(kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners[kind])
}

func (s *EventSink) emit(ev Event) {
	s.mu.RLock()
	subs := s.listeners[ev.Kind]
	ev.Seq = s.clock.Next()
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(ev)
	}
}
