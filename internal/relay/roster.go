// Package relay implements the server side of roomcast: the authoritative
// room roster and the engine that routes envelopes between participants.
package relay

import (
	"sync"

	"github.com/google/uuid"
)

// Sink is where a participant's outbound envelopes go. The connection layer
// implements it with a bounded buffer; Enqueue reports false when the buffer
// is full, and Kick forces the connection closed.
type Sink interface {
	Enqueue(data []byte) bool
	Kick()
}

// Participant is one connected, named occupant of a room. Owned by the
// Roster from Join until Leave or connection loss.
type Participant struct {
	ID   string
	Name string
	Room string

	sink Sink
}

// room holds a live membership set plus join order, so RoomUsers broadcasts
// are stable across snapshots.
type room struct {
	members map[string]*Participant
	order   []string
}

// Roster is the authoritative mapping of rooms to participants. All access
// is serialized by a single mutex; snapshots are taken under the same lock
// as the join/leave that triggered them, so no broadcast can reflect a state
// that never existed.
type Roster struct {
	mu    sync.Mutex
	rooms map[string]*room
	byID  map[string]*Participant
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{
		rooms: make(map[string]*room),
		byID:  make(map[string]*Participant),
	}
}

// Join admits a new participant: generates a fresh identifier, creates the
// room if absent, and inserts. It returns the participant together with the
// membership snapshot (identifiers in join order) and the recipients to
// broadcast it to, both taken atomically with the insertion.
func (r *Roster) Join(sink Sink, name, roomName string) (p *Participant, ids []string, members []*Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p = &Participant{
		ID:   uuid.NewString(),
		Name: name,
		Room: roomName,
		sink: sink,
	}

	rm, ok := r.rooms[roomName]
	if !ok {
		rm = &room{members: make(map[string]*Participant)}
		r.rooms[roomName] = rm
	}
	rm.members[p.ID] = p
	rm.order = append(rm.order, p.ID)
	r.byID[p.ID] = p

	return p, rm.snapshot(), rm.participants()
}

// Leave removes the participant from its room, discarding the room if it
// becomes empty. Idempotent: an unknown or already-removed identifier is a
// no-op with removed == false. The returned snapshot and recipients reflect
// the room after removal and are empty when the room was discarded.
func (r *Roster) Leave(id string) (roomName string, ids []string, members []*Participant, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return "", nil, nil, false
	}
	delete(r.byID, id)

	rm, ok := r.rooms[p.Room]
	if !ok {
		return p.Room, nil, nil, true
	}
	delete(rm.members, id)
	for i, mid := range rm.order {
		if mid == id {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}
	if len(rm.members) == 0 {
		delete(r.rooms, p.Room)
		return p.Room, nil, nil, true
	}

	return p.Room, rm.snapshot(), rm.participants(), true
}

// Snapshot returns the current membership of a room in join order.
func (r *Roster) Snapshot(roomName string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomName]
	if !ok {
		return nil
	}
	return rm.snapshot()
}

// Lookup finds a participant by identifier within a room. Targets that have
// already left (or never existed) simply come back false.
func (r *Roster) Lookup(roomName, id string) (*Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomName]
	if !ok {
		return nil, false
	}
	p, ok := rm.members[id]
	return p, ok
}

// Members returns the current participants of a room.
func (r *Roster) Members(roomName string) []*Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomName]
	if !ok {
		return nil
	}
	return rm.participants()
}

// snapshot copies the join-ordered identifier list. Caller holds the lock.
func (rm *room) snapshot() []string {
	ids := make([]string, len(rm.order))
	copy(ids, rm.order)
	return ids
}

// participants copies the member set in join order. Caller holds the lock.
func (rm *room) participants() []*Participant {
	out := make([]*Participant, 0, len(rm.order))
	for _, id := range rm.order {
		out = append(out, rm.members[id])
	}
	return out
}
