package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultMaxSize caps a single envelope. SDP bodies are the largest payload
// seen in practice and stay well under this.
const DefaultMaxSize = 64 * 1024

// Decode error taxonomy. Callers are expected to drop the offending envelope
// and keep the connection alive; one participant's garbage must not affect
// others.
var (
	ErrMalformed   = errors.New("malformed envelope")
	ErrUnknownType = errors.New("unknown envelope type")
	ErrTooLarge    = errors.New("envelope too large")
)

// Encode serializes an Envelope for transmission.
func Encode(env *Envelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		// Envelope contains only marshalable field types; unreachable.
		panic(fmt.Sprintf("protocol: encode: %v", err))
	}
	return data
}

// Decode parses and validates an envelope using DefaultMaxSize.
func Decode(data []byte) (*Envelope, error) {
	return DecodeLimit(data, DefaultMaxSize)
}

// DecodeLimit parses and validates an envelope of at most max bytes.
// It fails with ErrTooLarge, ErrMalformed, or ErrUnknownType.
func DecodeLimit(data []byte, max int) (*Envelope, error) {
	if len(data) > max {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), max)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Event {
	case EventJoin:
		if env.Name == "" || env.Room == "" {
			return nil, fmt.Errorf("%w: Join requires name and room", ErrMalformed)
		}

	case EventLeave:
		// No fields.

	case EventWelcome:
		if env.ID == "" {
			return nil, fmt.Errorf("%w: Welcome requires id", ErrMalformed)
		}

	case EventRoomUsers:
		// An empty users list is valid only in theory (the relay never
		// broadcasts to an empty room) but is not the codec's concern.

	case EventOffer, EventAnswer:
		if env.Target == "" || env.SDP == "" {
			return nil, fmt.Errorf("%w: %s requires target and sdp", ErrMalformed, env.Event)
		}

	case EventIceCandidate:
		if env.Target == "" || env.Candidate == "" || env.SDPMLineIndex == nil {
			return nil, fmt.Errorf("%w: IceCandidate requires target, candidate and sdpMLineIndex", ErrMalformed)
		}

	case EventChat:
		if env.Content == "" {
			return nil, fmt.Errorf("%w: Chat requires content", ErrMalformed)
		}

	case EventError:
		// No required fields beyond the message itself.

	case "":
		return nil, fmt.Errorf("%w: missing event tag", ErrMalformed)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Event)
	}

	return &env, nil
}
