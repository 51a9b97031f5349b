package protocol

import (
	"errors"
	"strings"
	"testing"
)

// TestDecodeVariants verifies that every well-formed variant decodes with
// its fields intact.
func TestDecodeVariants(t *testing.T) {
	idx := uint16(0)
	testCases := []struct {
		name string
		data string
		want Envelope
	}{
		{
			name: "Join",
			data: `{"event":"Join","name":"alice","room":"42"}`,
			want: Envelope{Event: EventJoin, Name: "alice", Room: "42"},
		},
		{
			name: "Leave",
			data: `{"event":"Leave"}`,
			want: Envelope{Event: EventLeave},
		},
		{
			name: "Offer",
			data: `{"event":"Offer","target":"p1","sdp":"v=0"}`,
			want: Envelope{Event: EventOffer, Target: "p1", SDP: "v=0"},
		},
		{
			name: "IceCandidate with zero line index",
			data: `{"event":"IceCandidate","target":"p1","candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0}`,
			want: Envelope{Event: EventIceCandidate, Target: "p1", Candidate: "candidate:1", SDPMid: "0", SDPMLineIndex: &idx},
		},
		{
			name: "Chat",
			data: `{"event":"Chat","content":"hi"}`,
			want: Envelope{Event: EventChat, Content: "hi"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := Decode([]byte(tc.data))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if env.Event != tc.want.Event || env.Name != tc.want.Name || env.Room != tc.want.Room ||
				env.Target != tc.want.Target || env.SDP != tc.want.SDP ||
				env.Candidate != tc.want.Candidate || env.Content != tc.want.Content {
				t.Errorf("decoded %+v, want %+v", env, tc.want)
			}
			if tc.want.SDPMLineIndex != nil {
				if env.SDPMLineIndex == nil || *env.SDPMLineIndex != *tc.want.SDPMLineIndex {
					t.Errorf("SDPMLineIndex = %v, want %d", env.SDPMLineIndex, *tc.want.SDPMLineIndex)
				}
			}
		})
	}
}

// TestDecodeErrorTaxonomy verifies that each failure mode maps to its
// sentinel error.
func TestDecodeErrorTaxonomy(t *testing.T) {
	testCases := []struct {
		name string
		data string
		want error
	}{
		{"invalid JSON", `{event:`, ErrMalformed},
		{"missing event tag", `{"name":"alice"}`, ErrMalformed},
		{"unknown event", `{"event":"Teleport"}`, ErrUnknownType},
		{"Join without room", `{"event":"Join","name":"alice"}`, ErrMalformed},
		{"Offer without target", `{"event":"Offer","sdp":"v=0"}`, ErrMalformed},
		{"Answer without sdp", `{"event":"Answer","target":"p1"}`, ErrMalformed},
		{"IceCandidate without line index", `{"event":"IceCandidate","target":"p1","candidate":"c"}`, ErrMalformed},
		{"Chat without content", `{"event":"Chat"}`, ErrMalformed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.data))
			if !errors.Is(err, tc.want) {
				t.Fatalf("Decode error = %v, want %v", err, tc.want)
			}
		})
	}
}

// TestDecodeTooLarge verifies the size cap fires before parsing.
func TestDecodeTooLarge(t *testing.T) {
	big := `{"event":"Chat","content":"` + strings.Repeat("x", 256) + `"}`
	_, err := DecodeLimit([]byte(big), 128)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("DecodeLimit error = %v, want ErrTooLarge", err)
	}

	if _, err := DecodeLimit([]byte(`{"event":"Leave"}`), 128); err != nil {
		t.Fatalf("small envelope rejected: %v", err)
	}
}

// TestEncodeDecodeRoundTrip verifies that a relayed chat envelope survives
// the codec with the relay-stamped fields intact.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := &Envelope{Event: EventChat, Sender: "p1", Content: "hi", Timestamp: 1700000000000}
	out, err := Decode(Encode(in))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if out.Sender != in.Sender || out.Content != in.Content || out.Timestamp != in.Timestamp {
		t.Errorf("round trip lost fields: %+v", out)
	}
}

// TestTargeted verifies the signaling-variant predicate.
func TestTargeted(t *testing.T) {
	for _, ev := range []Event{EventOffer, EventAnswer, EventIceCandidate} {
		if !(&Envelope{Event: ev}).Targeted() {
			t.Errorf("%s should be targeted", ev)
		}
	}
	for _, ev := range []Event{EventJoin, EventLeave, EventChat, EventRoomUsers} {
		if (&Envelope{Event: ev}).Targeted() {
			t.Errorf("%s should not be targeted", ev)
		}
	}
}
