package dkls

import (
	"github.com/fxamacker/cbor/v2"
)

// Keyshare is one party's durable share of a completed DKG: the group public
// key, this party's index, the per-party rank vector, the threshold, and the
// engine-defined secret material. Unlike a live session it is immutable and
// fully serializable; the only public byte-layout contract is that
// LoadKeyshare(share.Bytes()) reproduces an equivalent share.
type Keyshare struct {
	PublicKey [33]byte `cbor:"1,keyasint"`
	PartyID   uint8    `cbor:"2,keyasint"`
	RankList  []uint8  `cbor:"3,keyasint"`
	Threshold uint8    `cbor:"4,keyasint"`
	Secret    []byte   `cbor:"5,keyasint"`
}

// Participants returns the total party count of the share's topology.
func (k *Keyshare) Participants() uint8 {
	if k == nil {
		return 0
	}
	return uint8(len(k.RankList))
}

// PublicKeyBytes returns a copy of the 33-byte compressed group public key.
func (k *Keyshare) PublicKeyBytes() []byte {
	if k == nil {
		return nil
	}
	out := make([]byte, len(k.PublicKey))
	copy(out, k.PublicKey[:])
	return out
}

// Bytes serializes the keyshare for persistent storage.
//
// The returned bytes contain secret key material: encrypt before storing at
// rest and clear with ZeroizeBytes after use.
func (k *Keyshare) Bytes() ([]byte, error) {
	if k == nil || k.Secret == nil {
		return nil, ErrNilKeyshare
	}
	data, err := encMode.Marshal(k)
	if err != nil {
		return nil, &Error{Message: "keyshare encode: " + err.Error(), Code: CodeError}
	}
	return data, nil
}

// LoadKeyshare deserializes a keyshare produced by Bytes.
func LoadKeyshare(data []byte) (*Keyshare, error) {
	if len(data) == 0 {
		return nil, &Error{Message: "empty keyshare data", Code: CodeError}
	}
	var k Keyshare
	if err := cbor.Unmarshal(data, &k); err != nil {
		return nil, &Error{Message: "keyshare decode: " + err.Error(), Code: CodeError}
	}
	return &k, nil
}

// Clone deep-copies the keyshare. Sign sessions clone rather than alias, so
// the caller's original remains independently owned and releasable.
func (k *Keyshare) Clone() *Keyshare {
	if k == nil {
		return nil
	}
	out := &Keyshare{
		PublicKey: k.PublicKey,
		PartyID:   k.PartyID,
		Threshold: k.Threshold,
	}
	if k.RankList != nil {
		out.RankList = append([]uint8(nil), k.RankList...)
	}
	if k.Secret != nil {
		out.Secret = append([]byte(nil), k.Secret...)
	}
	return out
}

// Close zeroizes the secret material. Safe to call more than once; the share
// must not be used afterwards.
func (k *Keyshare) Close() {
	if k == nil || k.Secret == nil {
		return
	}
	ZeroizeBytes(k.Secret)
	k.Secret = nil
}
