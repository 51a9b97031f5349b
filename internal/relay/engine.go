package relay

import (
	"time"

	"github.com/1ureka/roomcast/internal/protocol"
	"github.com/1ureka/roomcast/internal/util"
)

// Engine routes decoded envelopes. It holds no state of its own beyond the
// roster; all side effects are roster mutations and writes to participant
// sinks. Membership snapshots are taken under the roster lock, the sends
// happen after release, so a slow participant never stalls the roster.
type Engine struct {
	roster *Roster
	now    func() time.Time
}

// NewEngine creates an engine over a fresh roster.
func NewEngine() *Engine {
	return &Engine{
		roster: NewRoster(),
		now:    time.Now,
	}
}

// Roster exposes the engine's roster, mainly for inspection.
func (e *Engine) Roster() *Roster {
	return e.roster
}

// HandleJoin admits a participant and broadcasts the updated membership to
// everyone now in the room, including the joiner. The joiner is first told
// its own identifier via Welcome, before any RoomUsers can mention it.
func (e *Engine) HandleJoin(sink Sink, name, roomName string) *Participant {
	p, ids, members := e.roster.Join(sink, name, roomName)
	util.Stats.AddJoin()
	util.LogInfo("participant %s (%s) joined room %q", p.ID, p.Name, p.Room)

	e.deliver(p, &protocol.Envelope{Event: protocol.EventWelcome, ID: p.ID})
	e.broadcast(members, &protocol.Envelope{Event: protocol.EventRoomUsers, Users: ids})
	return p
}

// HandleLeave removes a participant — whether from an explicit Leave
// envelope or a transport-level closure — and broadcasts the updated
// membership to the remaining members. No broadcast is sent when the room
// emptied. Idempotent.
func (e *Engine) HandleLeave(p *Participant) {
	roomName, ids, members, removed := e.roster.Leave(p.ID)
	if !removed {
		return
	}
	util.Stats.AddLeave()
	util.LogInfo("participant %s left room %q", p.ID, roomName)

	if len(members) > 0 {
		e.broadcast(members, &protocol.Envelope{Event: protocol.EventRoomUsers, Users: ids})
	}
}

// HandleEnvelope routes one decoded envelope from a joined participant.
func (e *Engine) HandleEnvelope(p *Participant, env *protocol.Envelope) {
	switch {
	case env.Event == protocol.EventLeave:
		e.HandleLeave(p)

	case env.Targeted():
		e.forward(p, env)

	case env.Event == protocol.EventChat:
		e.fanOutChat(p, env)

	default:
		// Join-after-join and server-only events are misuse, not a fault.
		util.Stats.AddDropped()
		util.LogWarning("participant %s sent unroutable %s envelope", p.ID, env.Event)
	}
}

// forward delivers a signaling envelope to its target within the sender's
// room, with the sender identifier attached. A missing target is an expected
// race (it just left) and the envelope is dropped silently.
func (e *Engine) forward(p *Participant, env *protocol.Envelope) {
	target, ok := e.roster.Lookup(p.Room, env.Target)
	if !ok {
		util.Stats.AddDropped()
		util.LogDebug("dropping %s from %s: target %s not in room %q", env.Event, p.ID, env.Target, p.Room)
		return
	}

	out := *env
	out.Sender = p.ID
	if e.deliver(target, &out) {
		util.Stats.AddForwarded()
	}
}

// fanOutChat broadcasts a chat envelope to every other member of the
// sender's room, stamped with the sender identifier and the relay's clock.
// The sender is excluded — it renders its own copy locally.
func (e *Engine) fanOutChat(p *Participant, env *protocol.Envelope) {
	members := e.roster.Members(p.Room)

	out := &protocol.Envelope{
		Event:     protocol.EventChat,
		Sender:    p.ID,
		Content:   env.Content,
		Timestamp: e.now().UnixMilli(),
	}
	for _, m := range members {
		if m.ID == p.ID {
			continue
		}
		if e.deliver(m, out) {
			util.Stats.AddBroadcast()
		}
	}
}

// broadcast sends one envelope to every listed participant.
func (e *Engine) broadcast(members []*Participant, env *protocol.Envelope) {
	for _, m := range members {
		if e.deliver(m, env) {
			util.Stats.AddBroadcast()
		}
	}
}

// deliver enqueues an encoded envelope on a participant's sink. A full
// buffer means the participant cannot keep up; it is disconnected rather
// than allowed to back-pressure the relay. The roster cleanup then follows
// from the connection teardown path.
func (e *Engine) deliver(p *Participant, env *protocol.Envelope) bool {
	if !p.sink.Enqueue(protocol.Encode(env)) {
		util.LogWarning("participant %s send buffer overflow, disconnecting", p.ID)
		p.sink.Kick()
		return false
	}
	return true
}
