package dkls

import "io"

// CommitmentSize is the width of the out-of-band commitment exchanged by the
// host before keygen round 3, and of every transcript commitment on the wire.
const CommitmentSize = 32

// Party describes one participant's position in the protocol topology.
type Party struct {
	ID        uint8
	Threshold uint8
	Ranks     []uint8
}

// Keygen round messages. Rounds 1 and 4 are broadcast; 2 and 3 are
// point-to-point. The field contents are defined by the protocol engine; the
// session layer only routes and (de)serializes them.

type KeygenMsg1 struct {
	From       uint8                `cbor:"1,keyasint"`
	SessionID  [32]byte             `cbor:"2,keyasint"`
	Commitment [CommitmentSize]byte `cbor:"3,keyasint"`
}

func (m KeygenMsg1) SrcPartyID() uint8         { return m.From }
func (m KeygenMsg1) DstPartyID() (uint8, bool) { return 0, false }

type KeygenMsg2 struct {
	From      uint8    `cbor:"1,keyasint"`
	To        uint8    `cbor:"2,keyasint"`
	SessionID [32]byte `cbor:"3,keyasint"`
	// Points holds the sender's revealed polynomial commitments, each a
	// 33-byte compressed curve point.
	Points [][]byte `cbor:"4,keyasint"`
	// Share is the sender's secret-share evaluation for the recipient.
	Share [32]byte `cbor:"5,keyasint"`
	// Recovery carries a reconstruction contribution for a lost-share
	// recipient; empty otherwise.
	Recovery []byte `cbor:"6,keyasint,omitempty"`
}

func (m KeygenMsg2) SrcPartyID() uint8         { return m.From }
func (m KeygenMsg2) DstPartyID() (uint8, bool) { return m.To, true }

type KeygenMsg3 struct {
	From      uint8                `cbor:"1,keyasint"`
	To        uint8                `cbor:"2,keyasint"`
	SessionID [32]byte             `cbor:"3,keyasint"`
	Echo      [CommitmentSize]byte `cbor:"4,keyasint"`
}

func (m KeygenMsg3) SrcPartyID() uint8         { return m.From }
func (m KeygenMsg3) DstPartyID() (uint8, bool) { return m.To, true }

type KeygenMsg4 struct {
	From      uint8    `cbor:"1,keyasint"`
	SessionID [32]byte `cbor:"2,keyasint"`
	PublicKey [33]byte `cbor:"3,keyasint"`
	PubShare  [33]byte `cbor:"4,keyasint"`
}

func (m KeygenMsg4) SrcPartyID() uint8         { return m.From }
func (m KeygenMsg4) DstPartyID() (uint8, bool) { return 0, false }

// Sign round messages, with the same routing shape as keygen.

type SignMsg1 struct {
	From       uint8                `cbor:"1,keyasint"`
	SessionID  [32]byte             `cbor:"2,keyasint"`
	Commitment [CommitmentSize]byte `cbor:"3,keyasint"`
}

func (m SignMsg1) SrcPartyID() uint8         { return m.From }
func (m SignMsg1) DstPartyID() (uint8, bool) { return 0, false }

type SignMsg2 struct {
	From       uint8    `cbor:"1,keyasint"`
	To         uint8    `cbor:"2,keyasint"`
	SessionID  [32]byte `cbor:"3,keyasint"`
	NoncePoint [33]byte `cbor:"4,keyasint"`
	Nonce      [32]byte `cbor:"5,keyasint"`
	PublicKey  [33]byte `cbor:"6,keyasint"`
}

func (m SignMsg2) SrcPartyID() uint8         { return m.From }
func (m SignMsg2) DstPartyID() (uint8, bool) { return m.To, true }

type SignMsg3 struct {
	From       uint8    `cbor:"1,keyasint"`
	To         uint8    `cbor:"2,keyasint"`
	SessionID  [32]byte `cbor:"3,keyasint"`
	GroupNonce [33]byte `cbor:"4,keyasint"`
}

func (m SignMsg3) SrcPartyID() uint8         { return m.From }
func (m SignMsg3) DstPartyID() (uint8, bool) { return m.To, true }

type SignMsg4 struct {
	From       uint8    `cbor:"1,keyasint"`
	SessionID  [32]byte `cbor:"2,keyasint"`
	PartialSig [32]byte `cbor:"3,keyasint"`
}

func (m SignMsg4) SrcPartyID() uint8         { return m.From }
func (m SignMsg4) DstPartyID() (uint8, bool) { return 0, false }

// Signature is a completed (r, s) pair, each a 32-byte big-endian scalar.
type Signature struct {
	R [32]byte
	S [32]byte
}

// KeygenState is the protocol engine's live keygen context. It is not
// serializable: it holds in-progress cryptographic state, not a storable
// artifact. The session layer owns the round sequencing; the state performs
// the round math.
type KeygenState interface {
	GenerateMsg1() KeygenMsg1
	HandleMsg1(rng io.Reader, msgs []KeygenMsg1) ([]KeygenMsg2, error)
	HandleMsg2(rng io.Reader, msgs []KeygenMsg2) ([]KeygenMsg3, error)
	// HandleMsg3 additionally receives one out-of-band commitment per party,
	// indexed by party id.
	HandleMsg3(rng io.Reader, msgs []KeygenMsg3, commitments [][CommitmentSize]byte) (KeygenMsg4, error)
	HandleMsg4(msgs []KeygenMsg4) (*Keyshare, error)
	// Commitment2 derives the 32-byte value the host exchanges out of band
	// before round 3.
	Commitment2() [CommitmentSize]byte
	// Zeroize best-effort clears secret material held by the state.
	Zeroize()
}

// PreSignature is the transient signing state held between round 3 and the
// digest-supply step. It is consumed by Finish and cannot be serialized.
type PreSignature interface {
	Finish(digest [32]byte) (PartialSignature, SignMsg4)
}

// PartialSignature is this party's round-4 contribution, combined with the
// other parties' round-4 messages to yield the final signature.
type PartialSignature interface {
	Combine(msgs []SignMsg4) (*Signature, error)
}

// SignState is the protocol engine's live signing context.
type SignState interface {
	GenerateMsg1() SignMsg1
	HandleMsg1(rng io.Reader, msgs []SignMsg1) ([]SignMsg2, error)
	HandleMsg2(rng io.Reader, msgs []SignMsg2) ([]SignMsg3, error)
	HandleMsg3(msgs []SignMsg3) (PreSignature, error)
	Zeroize()
}

// Engine is the injected protocol capability. The session layer never
// implements the cryptographic math itself; it sequences rounds, validates
// message shape, and translates engine failures. Implementations create live
// states for the supported session-initialization entry points.
type Engine interface {
	// Keygen starts a fresh DKG for the given party descriptor.
	Keygen(party Party, rng io.Reader) (KeygenState, error)
	// KeygenRotation starts a key rotation from an existing keyshare.
	KeygenRotation(share *Keyshare, rng io.Reader) (KeygenState, error)
	// KeygenRefresh starts a key refresh in which the listed parties have
	// lost their shares; the local party still holds one.
	KeygenRefresh(share *Keyshare, lost []uint8, rng io.Reader) (KeygenState, error)
	// KeygenRecovery starts a lost-share recovery for a party with no local
	// keyshare, from the known group public key.
	KeygenRecovery(party Party, publicKey [33]byte, lost []uint8, rng io.Reader) (KeygenState, error)
	// Sign starts a threshold signing session. The keyshare passed in is
	// owned by the engine state; callers clone before handing it over.
	Sign(share *Keyshare, path DerivationPath, rng io.Reader) (SignState, error)
}
