package dkls

import (
	"github.com/fxamacker/cbor/v2"
)

// BroadcastID is the destination sentinel meaning "deliver to every other
// party". Party identifiers are always below it.
const BroadcastID uint8 = 0xff

// Routed is implemented by every typed round message. Routing metadata is
// derived from the message at envelope construction time and is immutable
// afterwards: rounds 1 and 4 of both protocols are broadcast, rounds 2 and 3
// are point-to-point.
type Routed interface {
	// SrcPartyID reports the sending party.
	SrcPartyID() uint8
	// DstPartyID reports the receiving party, or ok=false for broadcast.
	DstPartyID() (id uint8, ok bool)
}

// Message is the wire envelope for one protocol message: source, destination
// (or BroadcastID), and the CBOR-encoded payload. The host routes envelopes
// between parties; this layer never touches a network.
type Message struct {
	From    uint8
	To      uint8
	Payload []byte
}

// IsBroadcast reports whether the envelope is addressed to every other party.
func (m Message) IsBroadcast() bool { return m.To == BroadcastID }

// encMode is the deterministic CBOR encoder shared by envelopes, keyshares,
// and session snapshots. Core-deterministic encoding keeps seeded protocol
// runs bit-reproducible.
var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// Encode wraps a typed round message into an envelope.
func Encode(v Routed) (Message, error) {
	payload, err := encMode.Marshal(v)
	if err != nil {
		return Message{}, &Error{Message: "cbor encode: " + err.Error(), Code: CodeError}
	}
	to := BroadcastID
	if dst, ok := v.DstPartyID(); ok {
		to = dst
	}
	return Message{From: v.SrcPartyID(), To: to, Payload: payload}, nil
}

// EncodeAll wraps a batch of typed round messages, preserving order.
func EncodeAll[T Routed](vs []T) ([]Message, error) {
	out := make([]Message, 0, len(vs))
	for _, v := range vs {
		m, err := Encode(v)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Decode unmarshals one envelope payload into a typed round message.
func Decode[T any](m Message, out *T) error {
	if err := cbor.Unmarshal(m.Payload, out); err != nil {
		return &Error{Message: "cbor decode: " + err.Error(), Code: CodeError}
	}
	return nil
}

// DecodeAll unmarshals a batch of envelopes into typed round input.
// Decoding is all-or-nothing: a single undecodable payload fails the whole
// batch.
func DecodeAll[T any](msgs []Message) ([]T, error) {
	out := make([]T, len(msgs))
	for i, m := range msgs {
		if err := Decode(m, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
