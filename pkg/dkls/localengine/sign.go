package localengine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/silencelabs/dkls-go/pkg/dkls"
)

var halfOrder = new(big.Int).Rsh(btcec.S256().N, 1)

// deriveTweak walks a non-hardened derivation path, returning the additive
// secret tweak and the resulting child public key. Hardened components
// require the full private key and cannot be derived from shares.
func deriveTweak(pub point, path dkls.DerivationPath) (*big.Int, point, error) {
	tweak := new(big.Int)
	cur := pub
	for i, idx := range path {
		if path.Hardened(i) {
			return nil, point{}, errors.New("hardened derivation not supported")
		}
		enc, err := cur.compress()
		if err != nil {
			return nil, point{}, err
		}
		var comp [4]byte
		binary.BigEndian.PutUint32(comp[:], idx)
		h := hash32("dkls/derive", enc[:], comp[:])
		step := scalarFrom(h[:])
		tweak = modAdd(tweak, step)
		cur = cur.add(basePoint(step))
		if cur.isIdentity() {
			return nil, point{}, errors.New("derived key is the identity")
		}
	}
	return tweak, cur, nil
}

// DerivePublicKey computes the compressed child public key for a
// non-hardened derivation path, using only public material. It matches the
// key that signing sessions built over the same path sign under.
func DerivePublicKey(publicKey []byte, path dkls.DerivationPath) ([]byte, error) {
	pub, err := decompress(publicKey)
	if err != nil {
		return nil, err
	}
	_, child, err := deriveTweak(pub, path)
	if err != nil {
		return nil, err
	}
	enc, err := child.compress()
	if err != nil {
		return nil, err
	}
	return enc[:], nil
}

// signState runs one party's side of the signing rounds. The quorum is
// discovered from round 1: whichever parties broadcast a first message form
// the signing set, which must reach the share threshold.
type signState struct {
	party dkls.Party
	n     int

	x      *big.Int
	tweak  *big.Int
	pubRaw [33]byte

	sid  [32]byte
	k    *big.Int
	nR   point
	nRaw [33]byte
	c1   [32]byte

	sids      map[uint8][32]byte
	c1s       map[uint8][32]byte
	quorum    []uint8
	quorumSet map[uint8]bool
	uInv      *big.Int
	w         *big.Int

	kSum     *big.Int
	kInv     *big.Int
	r        *big.Int
	groupRaw [33]byte
}

func newSignState(party dkls.Party, share *dkls.Keyshare, path dkls.DerivationPath, rng io.Reader) (*signState, error) {
	rootPub, err := decompress(share.PublicKey[:])
	if err != nil {
		return nil, err
	}
	tweak, pub, err := deriveTweak(rootPub, path)
	if err != nil {
		return nil, err
	}
	pubRaw, err := pub.compress()
	if err != nil {
		return nil, err
	}
	s := &signState{
		party:  party,
		n:      len(party.Ranks),
		x:      scalarFrom(share.Secret),
		tweak:  tweak,
		pubRaw: pubRaw,
		sids:   make(map[uint8][32]byte),
		c1s:    make(map[uint8][32]byte),
	}
	share.Close()
	if _, err := io.ReadFull(rng, s.sid[:]); err != nil {
		return nil, fmt.Errorf("read session id: %w", err)
	}
	if s.k, err = randScalar(rng); err != nil {
		return nil, err
	}
	s.nR = basePoint(s.k)
	if s.nRaw, err = s.nR.compress(); err != nil {
		return nil, err
	}
	s.c1 = commitNonce(s.sid, party.ID, s.nRaw)
	s.sids[party.ID] = s.sid
	s.c1s[party.ID] = s.c1
	return s, nil
}

func commitNonce(sid [32]byte, id uint8, nonce [33]byte) [32]byte {
	return hash32("dkls/sign/commit1", sid[:], []byte{id}, nonce[:])
}

func (s *signState) GenerateMsg1() dkls.SignMsg1 {
	return dkls.SignMsg1{From: s.party.ID, SessionID: s.sid, Commitment: s.c1}
}

func (s *signState) checkQuorumSenders(from []uint8) error {
	if len(from) != len(s.quorum)-1 {
		return fmt.Errorf("expected %d messages, got %d", len(s.quorum)-1, len(from))
	}
	seen := make(map[uint8]bool, len(from))
	for _, id := range from {
		if id == s.party.ID || !s.quorumSet[id] || seen[id] {
			return fmt.Errorf("unexpected message from party %d", id)
		}
		seen[id] = true
	}
	return nil
}

func (s *signState) HandleMsg1(rng io.Reader, msgs []dkls.SignMsg1) ([]dkls.SignMsg2, error) {
	if len(msgs) == 0 {
		return nil, errors.New("no co-signers")
	}
	seen := map[uint8]bool{s.party.ID: true}
	for _, m := range msgs {
		if int(m.From) >= s.n || seen[m.From] {
			return nil, fmt.Errorf("unexpected message from party %d", m.From)
		}
		seen[m.From] = true
		s.sids[m.From] = m.SessionID
		s.c1s[m.From] = m.Commitment
	}
	if len(seen) < int(s.party.Threshold) {
		return nil, fmt.Errorf("quorum of %d below threshold %d", len(seen), s.party.Threshold)
	}
	s.quorumSet = seen
	s.quorum = s.quorum[:0]
	for id := uint8(0); int(id) < s.n; id++ {
		if seen[id] {
			s.quorum = append(s.quorum, id)
		}
	}

	// Convert the Shamir share to an additive share of the derived secret:
	// the Lagrange-weighted share plus an equal slice of the path tweak.
	lam, err := lagrangeAt(s.quorum, s.party.ID, new(big.Int))
	if err != nil {
		return nil, err
	}
	if s.uInv, err = modInv(big.NewInt(int64(len(s.quorum)))); err != nil {
		return nil, err
	}
	s.w = modAdd(modMul(lam, s.x), modMul(s.tweak, s.uInv))

	out := make([]dkls.SignMsg2, 0, len(s.quorum)-1)
	for _, id := range s.quorum {
		if id == s.party.ID {
			continue
		}
		out = append(out, dkls.SignMsg2{
			From:       s.party.ID,
			To:         id,
			SessionID:  s.sid,
			NoncePoint: s.nRaw,
			Nonce:      scalar32(s.k),
			PublicKey:  s.pubRaw,
		})
	}
	return out, nil
}

func (s *signState) HandleMsg2(rng io.Reader, msgs []dkls.SignMsg2) ([]dkls.SignMsg3, error) {
	from := make([]uint8, len(msgs))
	for i, m := range msgs {
		from[i] = m.From
	}
	if err := s.checkQuorumSenders(from); err != nil {
		return nil, err
	}
	s.kSum = new(big.Int).Set(s.k)
	groupR := s.nR
	for _, m := range msgs {
		if m.SessionID != s.sids[m.From] {
			return nil, fmt.Errorf("session id mismatch from party %d", m.From)
		}
		if commitNonce(m.SessionID, m.From, m.NoncePoint) != s.c1s[m.From] {
			return nil, &dkls.BanPartyError{Party: m.From, Reason: "nonce commitment mismatch"}
		}
		np, err := decompress(m.NoncePoint[:])
		if err != nil {
			return nil, &dkls.BanPartyError{Party: m.From, Reason: "malformed nonce point"}
		}
		nonce := scalarFrom(m.Nonce[:])
		if !basePoint(nonce).equal(np) {
			return nil, &dkls.BanPartyError{Party: m.From, Reason: "revealed nonce does not match its commitment"}
		}
		if m.PublicKey != s.pubRaw {
			return nil, fmt.Errorf("party %d derives a different public key", m.From)
		}
		s.kSum = modAdd(s.kSum, nonce)
		groupR = groupR.add(np)
	}
	if groupR.isIdentity() {
		return nil, errors.New("group nonce is the identity")
	}
	var err error
	if s.groupRaw, err = groupR.compress(); err != nil {
		return nil, err
	}
	s.r = new(big.Int).Mod(groupR.X, order)
	if s.r.Sign() == 0 {
		return nil, errors.New("group nonce has zero x coordinate")
	}
	if s.kInv, err = modInv(s.kSum); err != nil {
		return nil, err
	}

	out := make([]dkls.SignMsg3, 0, len(s.quorum)-1)
	for _, id := range s.quorum {
		if id == s.party.ID {
			continue
		}
		out = append(out, dkls.SignMsg3{
			From:       s.party.ID,
			To:         id,
			SessionID:  s.sid,
			GroupNonce: s.groupRaw,
		})
	}
	return out, nil
}

func (s *signState) HandleMsg3(msgs []dkls.SignMsg3) (dkls.PreSignature, error) {
	from := make([]uint8, len(msgs))
	for i, m := range msgs {
		from[i] = m.From
	}
	if err := s.checkQuorumSenders(from); err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.SessionID != s.sids[m.From] {
			return nil, fmt.Errorf("session id mismatch from party %d", m.From)
		}
		if m.GroupNonce != s.groupRaw {
			return nil, fmt.Errorf("party %d computed a different group nonce", m.From)
		}
	}
	pre := &preSignature{
		party:  s.party.ID,
		sid:    s.sid,
		sids:   s.sids,
		quorum: append([]uint8(nil), s.quorum...),
		r:      new(big.Int).Set(s.r),
		kInv:   new(big.Int).Set(s.kInv),
		w:      new(big.Int).Set(s.w),
		uInv:   new(big.Int).Set(s.uInv),
		pubRaw: s.pubRaw,
	}
	return pre, nil
}

func (s *signState) Zeroize() {
	zeroScalar(s.x)
	zeroScalar(s.k)
	zeroScalar(s.w)
	zeroScalar(s.kSum)
	zeroScalar(s.kInv)
	zeroScalar(s.tweak)
}

// preSignature is the message-independent half of the final round: binding
// it to a digest yields this party's additive signature share.
type preSignature struct {
	party  uint8
	sid    [32]byte
	sids   map[uint8][32]byte
	quorum []uint8
	r      *big.Int
	kInv   *big.Int
	w      *big.Int
	uInv   *big.Int
	pubRaw [33]byte
}

func (p *preSignature) Finish(digest [32]byte) (dkls.PartialSignature, dkls.SignMsg4) {
	z := scalarFrom(digest[:])
	// s_i = k^-1 (z/q + r*w_i); summed over the quorum of size q this is the
	// standard ECDSA s over the additive key shares.
	si := modMul(p.kInv, modAdd(modMul(z, p.uInv), modMul(p.r, p.w)))
	partial := &partialSignature{
		party:  p.party,
		sids:   p.sids,
		quorum: p.quorum,
		r:      p.r,
		si:     si,
		digest: digest,
		pubRaw: p.pubRaw,
	}
	msg := dkls.SignMsg4{
		From:       p.party,
		SessionID:  p.sid,
		PartialSig: scalar32(si),
	}
	zeroScalar(p.kInv)
	zeroScalar(p.w)
	return partial, msg
}

// partialSignature combines the quorum's final-round messages and
// self-checks the result against the public key before releasing it.
type partialSignature struct {
	party  uint8
	sids   map[uint8][32]byte
	quorum []uint8
	r      *big.Int
	si     *big.Int
	digest [32]byte
	pubRaw [33]byte
}

func (p *partialSignature) Combine(msgs []dkls.SignMsg4) (*dkls.Signature, error) {
	if len(msgs) != len(p.quorum)-1 {
		return nil, fmt.Errorf("expected %d partial signatures, got %d", len(p.quorum)-1, len(msgs))
	}
	seen := map[uint8]bool{p.party: true}
	sum := new(big.Int).Set(p.si)
	for _, m := range msgs {
		member := false
		for _, id := range p.quorum {
			if id == m.From {
				member = true
			}
		}
		if !member || seen[m.From] {
			return nil, fmt.Errorf("unexpected partial signature from party %d", m.From)
		}
		seen[m.From] = true
		if m.SessionID != p.sids[m.From] {
			return nil, fmt.Errorf("session id mismatch from party %d", m.From)
		}
		sum = modAdd(sum, scalarFrom(m.PartialSig[:]))
	}
	if sum.Sign() == 0 {
		return nil, errors.New("combined signature is zero")
	}
	if sum.Cmp(halfOrder) > 0 {
		sum = new(big.Int).Sub(order, sum)
	}

	pub, err := btcec.ParsePubKey(p.pubRaw[:])
	if err != nil {
		return nil, err
	}
	rb := scalar32(p.r)
	sb := scalar32(sum)
	var rs, ss btcec.ModNScalar
	rs.SetByteSlice(rb[:])
	ss.SetByteSlice(sb[:])
	if !ecdsa.NewSignature(&rs, &ss).Verify(p.digest[:], pub) {
		return nil, errors.New("combined signature fails verification")
	}
	zeroScalar(p.si)
	return &dkls.Signature{R: rb, S: sb}, nil
}
