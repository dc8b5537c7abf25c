package websocket

import (
	"log"
	"time"

	"github.com/room-relay/room-relay/internal/metrics"
)

// Broadcaster fans frames out to room members. Every method snapshots the
// recipients from the registry first and enqueues after the registry lock is
// released. Delivery is fire-and-forget.
type Broadcaster struct {
	registry *Registry
	now      func() time.Time
}

// NewBroadcaster creates a broadcaster over the registry.
func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{registry: registry, now: time.Now}
}

// Broadcast relays f to every member of room except exclude and returns how
// many outboxes accepted it.
func (b *Broadcaster) Broadcast(room string, f Frame, exclude ConnectionID) int {
	return deliver(b.registry.Outboxes(room, exclude), f)
}

// NotifyJoin welcomes p and tells the other members that p joined.
func (b *Broadcaster) NotifyJoin(p *Participant) {
	t := b.now()
	b.sendTo([]*Outbox{p.outbox}, NewLifecycleMessage(StatusConnected, welcomeText(p.Room), t))
	b.sendTo(b.registry.Outboxes(p.Room, p.ID), NewLifecycleMessage(StatusConnected, peerJoinedText(p.Name), t))
}

// NotifyLeave says goodbye to p and tells the other members that p left. It
// must run before p is removed so that p's own outbox is still addressable;
// the other recipients are whoever is in the room at that moment.
func (b *Broadcaster) NotifyLeave(p *Participant) {
	t := b.now()
	b.sendTo([]*Outbox{p.outbox}, NewLifecycleMessage(StatusClose, farewellText(p.Room), t))
	b.sendTo(b.registry.Outboxes(p.Room, p.ID), NewLifecycleMessage(StatusClose, peerLeftText(p.Name), t))
}

// NotifyCount sends the current membership size to every member.
func (b *Broadcaster) NotifyCount(room string) {
	outboxes := b.registry.Outboxes(room, "")
	b.sendTo(outboxes, NewCountMessage(len(outboxes)))
}

// NotifyParticipants sends the current list of display names to every member.
func (b *Broadcaster) NotifyParticipants(room string) {
	names, outboxes := b.registry.Roster(room)
	b.sendTo(outboxes, NewParticipantsMessage(names))
}

// NotifyMembership sends count then participant list, both reflecting the
// state at the time of the call.
func (b *Broadcaster) NotifyMembership(room string) {
	b.NotifyCount(room)
	b.NotifyParticipants(room)
}

func (b *Broadcaster) sendTo(outboxes []*Outbox, msg any) {
	if len(outboxes) == 0 {
		return
	}
	f, err := encode(msg)
	if err != nil {
		log.Printf("Error encoding room message: %v", err)
		return
	}
	deliver(outboxes, f)
}

// deliver enqueues f on each outbox. Closed outboxes drop the frame silently.
func deliver(outboxes []*Outbox, f Frame) int {
	n := 0
	for _, o := range outboxes {
		if o.Push(f) {
			n++
		} else {
			metrics.FramesDropped.Inc()
		}
	}
	return n
}
