// Package protocol defines the envelope format exchanged between a
// participant and the relay, and the codec that validates it.
package protocol

// Event identifies the kind of envelope.
type Event string

const (
	EventJoin         Event = "Join"
	EventLeave        Event = "Leave"
	EventWelcome      Event = "Welcome"
	EventRoomUsers    Event = "RoomUsers"
	EventOffer        Event = "Offer"
	EventAnswer       Event = "Answer"
	EventIceCandidate Event = "IceCandidate"
	EventChat         Event = "Chat"
	EventError        Event = "Error"
)

// Envelope is one discrete protocol message. It is a tagged union: Event
// selects the variant, and only that variant's fields are populated.
type Envelope struct {
	Event Event `json:"event"`

	// Join.
	Name string `json:"name,omitempty"`
	Room string `json:"room,omitempty"`

	// Welcome: the identifier the relay assigned to this connection.
	ID string `json:"id,omitempty"`

	// RoomUsers: identifiers of everyone currently in the room.
	Users []string `json:"users,omitempty"`

	// Offer / Answer / IceCandidate.
	Target        string  `json:"target,omitempty"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        string  `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`

	// Chat.
	Content string `json:"content,omitempty"`

	// Stamped by the relay on forwarded signaling and fanned-out chat.
	Sender    string `json:"sender,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// Error.
	Message string `json:"message,omitempty"`
}

// Targeted reports whether the envelope is a signaling variant that must
// carry a target identifier (Offer, Answer, IceCandidate).
func (e *Envelope) Targeted() bool {
	switch e.Event {
	case EventOffer, EventAnswer, EventIceCandidate:
		return true
	}
	return false
}
