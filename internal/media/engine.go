// Package media defines the boundary to the media capture/transport engine.
// The session layer drives negotiation exclusively through these interfaces;
// the pion-backed implementation lives in this package, and tests substitute
// their own.
package media

import "context"

// Description kinds accepted by SetRemoteDescription.
const (
	KindOffer  = "offer"
	KindAnswer = "answer"
)

// Candidate mirrors the wire fields of one ICE candidate.
type Candidate struct {
	Candidate     string
	SDPMid        string
	SDPMLineIndex uint16
}

// Capture is a handle on acquired local media. Closing it releases the
// underlying devices or tracks.
type Capture interface {
	Close() error
}

// Link is one peer media session under negotiation. Callbacks must be
// registered before the exchange starts; implementations may invoke them
// from their own goroutines.
type Link interface {
	// CreateOffer builds a local offer, applies it as the local
	// description, and returns its SDP.
	CreateOffer() (string, error)

	// CreateAnswer builds an answer to the current remote description,
	// applies it as the local description, and returns its SDP.
	CreateAnswer() (string, error)

	// SetRemoteDescription applies the remote SDP of the given kind.
	SetRemoteDescription(kind, sdp string) error

	// AddICECandidate applies a remote candidate received through signaling.
	AddICECandidate(c Candidate) error

	// OnICECandidate registers a callback invoked for every locally
	// gathered candidate.
	OnICECandidate(fn func(Candidate))

	// OnConnected registers a callback invoked once the link carries media.
	OnConnected(fn func())

	// OnFailed registers a callback invoked when the link fails or closes
	// underneath us.
	OnFailed(fn func())

	// OnRemoteTrack registers a callback invoked with the identifier of
	// each inbound media track.
	OnRemoteTrack(fn func(trackID string))

	Close() error
}

// Engine acquires local media and mints per-peer links carrying it.
type Engine interface {
	Capture(ctx context.Context) (Capture, error)
	NewLink(cap Capture) (Link, error)
}
