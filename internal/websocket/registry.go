// Package websocket implements the room registry, admission, broadcast and
// per-connection relay of the room server.
package websocket

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/samber/lo"
)

var (
	// ErrNameInUse is returned when a display name is already taken in a room.
	ErrNameInUse = errors.New("name already in use")

	// ErrDuplicateConnection is returned when a connection ID is already a member of some room.
	ErrDuplicateConnection = errors.New("connection already joined")

	// ErrReservationSettled is returned when a reservation is committed after it was released or committed.
	ErrReservationSettled = errors.New("reservation already settled")
)

// RoomSummary describes one non-empty room.
type RoomSummary struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type room struct {
	members  map[ConnectionID]*Participant
	reserved map[string]struct{} // names held by admissions still handshaking
}

func (rm *room) nameTaken(name string) bool {
	if _, ok := rm.reserved[name]; ok {
		return true
	}
	for _, p := range rm.members {
		if p.Name == name {
			return true
		}
	}
	return false
}

func (rm *room) empty() bool {
	return len(rm.members) == 0 && len(rm.reserved) == 0
}

// Registry is the shared room-to-members map. One mutex guards the whole map
// and is only held for map operations and snapshot copies, never for a send.
type Registry struct {
	mu      sync.Mutex
	rooms   map[string]*room
	located map[ConnectionID]string // connection -> room it is a member of
	seq     uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[string]*room),
		located: make(map[ConnectionID]string),
	}
}

// room returns the named room, creating it when create is set. Callers hold r.mu.
func (r *Registry) room(name string, create bool) *room {
	rm := r.rooms[name]
	if rm == nil && create {
		rm = &room{
			members:  make(map[ConnectionID]*Participant),
			reserved: make(map[string]struct{}),
		}
		r.rooms[name] = rm
	}
	return rm
}

// prune drops an entry that has neither members nor reservations. Callers hold r.mu.
func (r *Registry) prune(name string) {
	if rm := r.rooms[name]; rm != nil && rm.empty() {
		delete(r.rooms, name)
	}
}

// HasName reports whether a current member of the room uses the display name.
func (r *Registry) HasName(roomName, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.room(roomName, false)
	if rm == nil {
		return false
	}
	return lo.SomeBy(lo.Values(rm.members), func(p *Participant) bool {
		return p.Name == name
	})
}

// Reservation holds a display name in a room between admission and join.
// It must be either committed or released.
type Reservation struct {
	Room string
	Name string

	registry *Registry
	settled  bool // guarded by registry.mu
}

// Reserve atomically checks that name is free in the room, counting both
// members and other reservations, and holds it.
func (r *Registry) Reserve(roomName, name string) (*Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.room(roomName, true)
	if rm.nameTaken(name) {
		r.prune(roomName)
		return nil, fmt.Errorf("%w: %q in room %q", ErrNameInUse, name, roomName)
	}
	rm.reserved[name] = struct{}{}
	return &Reservation{Room: roomName, Name: name, registry: r}, nil
}

// ReserveAvailable reserves base, or the first free of base-2, base-3, ...
func (r *Registry) ReserveAvailable(roomName, base string) *Reservation {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.room(roomName, true)
	name := base
	for i := 2; rm.nameTaken(name); i++ {
		name = fmt.Sprintf("%s-%d", base, i)
	}
	rm.reserved[name] = struct{}{}
	return &Reservation{Room: roomName, Name: name, registry: r}
}

// Commit turns the reservation into membership for p. p.Room and p.Name are
// overwritten with the reserved values.
func (res *Reservation) Commit(p *Participant) error {
	r := res.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.settled {
		return ErrReservationSettled
	}
	if _, ok := r.located[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateConnection, p.ID)
	}
	res.settled = true

	rm := r.room(res.Room, true)
	delete(rm.reserved, res.Name)
	p.Room, p.Name = res.Room, res.Name
	r.insert(rm, p)
	return nil
}

// Release gives the name back. Releasing a settled reservation is a no-op.
func (res *Reservation) Release() {
	r := res.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.settled {
		return
	}
	res.settled = true
	if rm := r.room(res.Room, false); rm != nil {
		delete(rm.reserved, res.Name)
		r.prune(res.Room)
	}
}

// Join inserts p into p.Room, creating the room if absent. It does not check
// name uniqueness; admission does that through Reserve.
func (r *Registry) Join(p *Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.located[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateConnection, p.ID)
	}
	r.insert(r.room(p.Room, true), p)
	return nil
}

func (r *Registry) insert(rm *room, p *Participant) {
	r.seq++
	p.seq = r.seq
	rm.members[p.ID] = p
	r.located[p.ID] = p.Room
}

// Leave removes the connection from the room. It reports whether anything was
// removed; leaving twice, or leaving an absent room, is a no-op.
func (r *Registry) Leave(roomName string, id ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.room(roomName, false)
	if rm == nil {
		return false
	}
	if _, ok := rm.members[id]; !ok {
		return false
	}
	delete(rm.members, id)
	delete(r.located, id)
	r.prune(roomName)
	return true
}

// members returns the room's participants in join order. Callers hold r.mu.
func (r *Registry) members(roomName string) []*Participant {
	rm := r.room(roomName, false)
	if rm == nil {
		return nil
	}
	ps := lo.Values(rm.members)
	slices.SortFunc(ps, func(a, b *Participant) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return ps
}

// Outboxes snapshots the outbound queues of every member except exclude
// (pass "" to exclude nobody). The snapshot may be stale as soon as it returns.
func (r *Registry) Outboxes(roomName string, exclude ConnectionID) []*Outbox {
	r.mu.Lock()
	defer r.mu.Unlock()

	return lo.FilterMap(r.members(roomName), func(p *Participant, _ int) (*Outbox, bool) {
		return p.outbox, p.ID != exclude
	})
}

// Names snapshots the members' display names in join order.
func (r *Registry) Names(roomName string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return lo.Map(r.members(roomName), func(p *Participant, _ int) string {
		return p.Name
	})
}

// Roster snapshots names and outbound queues together so both come from the
// same membership state.
func (r *Registry) Roster(roomName string) ([]string, []*Outbox) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ps := r.members(roomName)
	names := make([]string, 0, len(ps))
	outboxes := make([]*Outbox, 0, len(ps))
	for _, p := range ps {
		names = append(names, p.Name)
		outboxes = append(outboxes, p.outbox)
	}
	return names, outboxes
}

// Count returns the current membership size of the room.
func (r *Registry) Count(roomName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rm := r.room(roomName, false); rm != nil {
		return len(rm.members)
	}
	return 0
}

// Total returns the number of members across all rooms.
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.located)
}

// RoomCount returns the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return lo.CountBy(lo.Values(r.rooms), func(rm *room) bool {
		return len(rm.members) > 0
	})
}

// Rooms lists every room with at least one member, sorted by name.
func (r *Registry) Rooms() []RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []RoomSummary
	for name, rm := range r.rooms {
		if len(rm.members) > 0 {
			out = append(out, RoomSummary{Name: name, Count: len(rm.members)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}
