package websocket

import "sync"

// Frame types, numerically equal to the RFC 6455 opcodes used by gorilla/websocket.
const (
	TextFrame   = 1
	BinaryFrame = 2
)

// Frame is one WebSocket data message. Relayed frames are passed through
// untouched.
type Frame struct {
	Type int
	Data []byte
}

// TextMessage wraps a text payload in a frame.
func TextMessage(data []byte) Frame {
	return Frame{Type: TextFrame, Data: data}
}

// Outbox is an unbounded FIFO of frames with many producers and a single
// consumer. Push never blocks; memory grows without limit if the consumer
// stalls. There is no backpressure.
type Outbox struct {
	mu     sync.Mutex
	frames []Frame
	closed bool

	// ready holds at most one pending wake-up for the consumer.
	ready chan struct{}
}

// NewOutbox creates an empty, open outbox.
func NewOutbox() *Outbox {
	return &Outbox{ready: make(chan struct{}, 1)}
}

// Push appends a frame. It reports false, dropping the frame, once the
// outbox has been closed.
func (o *Outbox) Push(f Frame) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.frames = append(o.frames, f)
	o.mu.Unlock()

	o.wake()
	return true
}

// Ready is signalled whenever frames may be available or the outbox closed.
func (o *Outbox) Ready() <-chan struct{} {
	return o.ready
}

// Drain removes and returns every queued frame in enqueue order. The second
// result is false when the outbox is closed and nothing is left.
func (o *Outbox) Drain() ([]Frame, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	frames := o.frames
	o.frames = nil
	if len(frames) == 0 && o.closed {
		return nil, false
	}
	return frames, true
}

// Len returns the number of queued frames.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}

// Close stops accepting frames. Frames already queued can still be drained.
// Closing twice is a no-op.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.wake()
}

func (o *Outbox) wake() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}
