package transport

import "sync"

// eventKind identifies a queued transport event.
type eventKind int

const (
	evConnect eventKind = iota
	evDisconnect
	evMessage
	evStop
)

// event is one entry in the loop queue.
type event struct {
	kind    eventKind
	code    ResultCode
	topic   string
	payload []byte
}

// eventLoop serializes engine callbacks onto the goroutine blocked in
// Connect. Engines push from their own goroutines; push never blocks, so an
// EventHandler may call back into the engine (Reconnect, Disconnect,
// Subscribe) without deadlocking the loop.
type eventLoop struct {
	mu    sync.Mutex
	queue []event
	wake  chan struct{}
}

func newEventLoop() *eventLoop {
	return &eventLoop{wake: make(chan struct{}, 1)}
}

// push appends an event and wakes the loop.
func (l *eventLoop) push(ev event) {
	l.mu.Lock()
	l.queue = append(l.queue, ev)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// pop removes the oldest event, if any.
func (l *eventLoop) pop() (event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return event{}, false
	}
	ev := l.queue[0]
	l.queue[0] = event{}
	l.queue = l.queue[1:]
	return ev, true
}

// pending returns the number of queued events.
func (l *eventLoop) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// reset drops queued events left over from a previous run.
func (l *eventLoop) reset() {
	l.mu.Lock()
	l.queue = nil
	l.mu.Unlock()

	select {
	case <-l.wake:
	default:
	}
}

// run delivers events to the handler returned by handler() until a stop
// event is popped. The handler is looked up per event so a registration made
// while the loop runs takes effect on the next event. A nil handler drops
// lifecycle and message events.
func (l *eventLoop) run(handler func() EventHandler) {
	for {
		ev, ok := l.pop()
		if !ok {
			<-l.wake
			continue
		}

		if ev.kind == evStop {
			return
		}

		h := handler()
		if h == nil {
			continue
		}

		switch ev.kind {
		case evConnect:
			h.OnConnectResult(ev.code)
		case evDisconnect:
			h.OnDisconnectResult(ev.code)
		case evMessage:
			h.OnMessage(ev.topic, ev.payload)
		}
	}
}

func connectEvent(code ResultCode) event {
	return event{kind: evConnect, code: code}
}

func disconnectEvent(code ResultCode) event {
	return event{kind: evDisconnect, code: code}
}

func messageEvent(topic string, payload []byte) event {
	return event{kind: evMessage, topic: topic, payload: payload}
}

func stopEvent() event {
	return event{kind: evStop}
}
