package animgif

import "sync"

// EventKind identifies what happened to a URL.
type EventKind int

const (
	// EventStill is sent when a still image becomes available.
	EventStill EventKind = iota + 1

	// EventFrame is sent every time an animation advances to a new frame.
	EventFrame

	// EventLoop is sent when an animation completes a loop. Event.Loop holds
	// the number of loops completed.
	EventLoop

	// EventComplete is sent once when an animation has played its loop count.
	EventComplete

	// EventFailed is sent when a pipeline fails. Event.Err holds the cause.
	EventFailed
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventStill:
		return "still"
	case EventFrame:
		return "frame"
	case EventLoop:
		return "loop"
	case EventComplete:
		return "complete"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is a push notification for one orchestrator.
type Event struct {
	URL  string
	Size Size
	Fit  FitMode
	Kind EventKind
	Loop int
	Err  error
}

// eventSink receives orchestrator events. The Registry implements it; an
// orchestrator never owns its sink.
type eventSink interface {
	emit(ev Event)
}

// dispatcher delivers events on its own goroutine, in the order they were
// posted. Posting never blocks.
type dispatcher struct {
	deliver func(Event)
	wake    chan struct{}

	mu     sync.Mutex
	queue  []Event
	closed bool
}

func newDispatcher(deliver func(Event)) *dispatcher {
	d := &dispatcher{
		deliver: deliver,
		wake:    make(chan struct{}, 1),
	}
	go d.run()
	return d
}

// post queues ev. Events posted after close are dropped.
func (d *dispatcher) post(ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()
	d.signal()
}

// close stops the dispatcher once the queue drains. It does not wait, so it
// is safe to call from a subscriber.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	for range d.wake {
		for {
			d.mu.Lock()
			batch, closed := d.queue, d.closed
			d.queue = nil
			d.mu.Unlock()

			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
			for _, ev := range batch {
				d.deliver(ev)
			}
		}
	}
}
