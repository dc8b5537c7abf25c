package websocket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	gorilla "github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/room-relay/room-relay/internal/metrics"
)

// State is the lifecycle position of a relay.
type State int32

const (
	StatePending State = iota
	StateAdmitted
	StateRelaying
	StateTerminating
	StateRemoved
	StateRejected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAdmitted:
		return "admitted"
	case StateRelaying:
		return "relaying"
	case StateTerminating:
		return "terminating"
	case StateRemoved:
		return "removed"
	case StateRejected:
		return "rejected"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrOutboxClosed ends the outbound pump when nothing more can be queued.
var ErrOutboxClosed = errors.New("outbox closed")

// Conn is the framed transport a relay pumps. *gorilla/websocket.Conn
// satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// RelayConfig tunes the outbound pump.
type RelayConfig struct {
	// WriteWait bounds every write. Zero means no deadline.
	WriteWait time.Duration

	// PingInterval is the keepalive period. Zero disables pings.
	PingInterval time.Duration
}

// Stats summarizes a finished relay.
type Stats struct {
	Received int64         // frames read from the client
	Sent     int64         // frames written to the client
	Duration time.Duration // time spent in the room
	Cause    error         // what ended the relay
}

// Relay pumps one admitted connection: inbound frames are broadcast to the
// room, the participant's outbox is written to the connection.
type Relay struct {
	registry    *Registry
	broadcaster *Broadcaster
	admission   *Admission
	participant *Participant
	conn        Conn
	cfg         RelayConfig

	state     atomic.Int32
	received  atomic.Int64
	sent      atomic.Int64
	closeOnce sync.Once
}

// NewRelay creates a relay for an admitted connection. Nothing touches the
// registry until Run.
func NewRelay(
	registry *Registry,
	broadcaster *Broadcaster,
	admission *Admission,
	conn Conn,
	id ConnectionID,
	cfg RelayConfig,
) *Relay {
	return &Relay{
		registry:    registry,
		broadcaster: broadcaster,
		admission:   admission,
		participant: admission.Participant(id),
		conn:        conn,
		cfg:         cfg,
	}
}

// Participant returns the participant this relay joins as.
func (r *Relay) Participant() *Participant {
	return r.participant
}

// State returns the current lifecycle state.
func (r *Relay) State() State {
	return State(r.state.Load())
}

func (r *Relay) setState(s State) {
	r.state.Store(int32(s))
}

// Run joins the room, relays until either direction ends or ctx is
// cancelled, then leaves the room and closes the connection. It only returns
// an error if the participant could not join.
func (r *Relay) Run(ctx context.Context) (Stats, error) {
	p := r.participant

	if err := r.admission.reservation.Commit(p); err != nil {
		r.admission.Release()
		r.closeConn()
		r.setState(StateRejected)
		return Stats{}, fmt.Errorf("joining room %q: %w", p.Room, err)
	}
	r.setState(StateAdmitted)
	start := time.Now()

	r.broadcaster.NotifyJoin(p)
	r.broadcaster.NotifyMembership(p.Room)

	r.setState(StateRelaying)
	cause := r.relay(ctx)

	r.setState(StateTerminating)
	r.terminate()
	r.setState(StateRemoved)

	return Stats{
		Received: r.received.Load(),
		Sent:     r.sent.Load(),
		Duration: time.Since(start),
		Cause:    cause,
	}, nil
}

// relay races the two pumps. The first to return cancels the other.
func (r *Relay) relay(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(r.readLoop)
	g.Go(func() error {
		err := r.writeLoop(gctx)
		// The reader can only be unblocked by closing the transport. Leave
		// it open when the reader finished first so the farewell can still
		// be flushed.
		if gctx.Err() == nil || ctx.Err() != nil {
			r.closeConn()
		}
		return err
	})

	return g.Wait()
}

func (r *Relay) readLoop() error {
	p := r.participant
	for {
		mt, data, err := r.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading: %w", err)
		}
		if mt != TextFrame && mt != BinaryFrame {
			continue
		}

		r.received.Add(1)
		metrics.MessagesRelayed.Inc()
		r.broadcaster.Broadcast(p.Room, Frame{Type: mt, Data: data}, p.ID)
	}
}

func (r *Relay) writeLoop(ctx context.Context) error {
	var ping <-chan time.Time
	if r.cfg.PingInterval > 0 {
		ticker := time.NewTicker(r.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	outbox := r.participant.outbox
	for {
		select {
		case <-outbox.Ready():
			frames, open := outbox.Drain()
			if !open {
				_ = r.write(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""))
				return ErrOutboxClosed
			}
			for _, f := range frames {
				if err := r.write(f.Type, f.Data); err != nil {
					return fmt.Errorf("writing: %w", err)
				}
				r.sent.Add(1)
			}

		case <-ping:
			if err := r.write(gorilla.PingMessage, nil); err != nil {
				return fmt.Errorf("writing ping: %w", err)
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Relay) write(mt int, data []byte) error {
	if r.cfg.WriteWait > 0 {
		if err := r.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteWait)); err != nil {
			return err
		}
	}
	return r.conn.WriteMessage(mt, data)
}

// terminate runs the leave sequence exactly once per relay.
func (r *Relay) terminate() {
	p := r.participant

	r.broadcaster.NotifyLeave(p)
	if !r.registry.Leave(p.Room, p.ID) {
		log.Printf("Participant %s (%s) was already gone from room %q", p.Name, p.ID, p.Room)
	}
	r.broadcaster.NotifyMembership(p.Room)

	p.outbox.Close()
	r.flush()
	r.closeConn()
}

// flush writes whatever is still queued, typically the farewell, and a close
// frame. Errors are expected when the peer is already gone.
func (r *Relay) flush() {
	frames, _ := r.participant.outbox.Drain()
	for _, f := range frames {
		if err := r.write(f.Type, f.Data); err != nil {
			return
		}
		r.sent.Add(1)
	}
	_ = r.write(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""))
}

func (r *Relay) closeConn() {
	r.closeOnce.Do(func() {
		_ = r.conn.Close()
	})
}
