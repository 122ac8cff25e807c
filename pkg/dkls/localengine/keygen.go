package localengine

import (
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/silencelabs/dkls-go/pkg/dkls"
)

// keygenState runs one party's side of the key generation rounds. The same
// state machine serves fresh DKG, rotation, refresh, and lost-share
// recovery: all four are additive resharings that differ only in the base
// value each party starts from and in whether the sharing polynomials have a
// zero constant term.
type keygenState struct {
	party dkls.Party
	n, t  int

	// zeroConst marks the key-preserving variants: every party's sharing
	// polynomial has constant term zero, so the group key is unchanged.
	zeroConst bool
	lost      map[uint8]bool
	helpers   []uint8
	oldShare  *big.Int
	oldPub    point
	oldPubRaw [33]byte

	sid        [32]byte
	poly       []*big.Int
	wirePoints [][]byte
	c1         [32]byte

	base     *big.Int
	shareSum *big.Int

	sids       map[uint8][32]byte
	c1s        map[uint8][32]byte
	pointsWire map[uint8][][]byte
	peerComms  map[uint8][]point

	transcript [32]byte
	combined   []point
	pubRaw     [33]byte
	newShare   *big.Int
}

func newKeygenState(party dkls.Party, rng io.Reader, oldShare *big.Int, oldPub []byte, lost []uint8) (*keygenState, error) {
	s := &keygenState{
		party:      party,
		n:          len(party.Ranks),
		t:          int(party.Threshold),
		zeroConst:  oldPub != nil,
		lost:       make(map[uint8]bool, len(lost)),
		oldShare:   oldShare,
		base:       new(big.Int),
		sids:       make(map[uint8][32]byte, len(party.Ranks)),
		c1s:        make(map[uint8][32]byte, len(party.Ranks)),
		pointsWire: make(map[uint8][][]byte, len(party.Ranks)),
		peerComms:  make(map[uint8][]point, len(party.Ranks)),
	}
	for _, id := range lost {
		s.lost[id] = true
	}
	for id := uint8(0); int(id) < s.n; id++ {
		if !s.lost[id] {
			s.helpers = append(s.helpers, id)
		}
	}
	if s.zeroConst {
		if len(s.helpers) < s.t {
			return nil, fmt.Errorf("refresh needs %d surviving parties, have %d", s.t, len(s.helpers))
		}
		var p point
		var err error
		if p, err = decompress(oldPub); err != nil {
			return nil, err
		}
		s.oldPub = p
		copy(s.oldPubRaw[:], oldPub)
	}
	if oldShare != nil {
		s.base.Set(oldShare)
	}

	if _, err := io.ReadFull(rng, s.sid[:]); err != nil {
		return nil, fmt.Errorf("read session id: %w", err)
	}

	// Sample the sharing polynomial. Key-preserving variants pin the
	// constant term to zero and never put a commitment to it on the wire.
	s.poly = make([]*big.Int, s.t)
	s.poly[0] = new(big.Int)
	for i := range s.poly {
		if i == 0 && s.zeroConst {
			continue
		}
		v, err := randScalar(rng)
		if err != nil {
			return nil, err
		}
		s.poly[i] = v
	}
	for i, c := range s.poly {
		if i == 0 && s.zeroConst {
			continue
		}
		enc, err := basePoint(c).compress()
		if err != nil {
			return nil, err
		}
		s.wirePoints = append(s.wirePoints, enc[:])
	}

	s.c1 = commit1(s.sid, party.ID, s.wirePoints)
	s.sids[party.ID] = s.sid
	s.c1s[party.ID] = s.c1
	s.pointsWire[party.ID] = s.wirePoints
	s.shareSum = polyEval(s.poly, sharePoint(party.ID))
	return s, nil
}

func commit1(sid [32]byte, id uint8, points [][]byte) [32]byte {
	parts := make([][]byte, 0, len(points)+2)
	parts = append(parts, sid[:], []byte{id})
	parts = append(parts, points...)
	return hash32("dkls/keygen/commit1", parts...)
}

func (s *keygenState) GenerateMsg1() dkls.KeygenMsg1 {
	return dkls.KeygenMsg1{From: s.party.ID, SessionID: s.sid, Commitment: s.c1}
}

// checkSenders validates a round's message batch: one message from every
// other party, none duplicated, none forged from the local id.
func (s *keygenState) checkSenders(from []uint8) error {
	if len(from) != s.n-1 {
		return fmt.Errorf("expected %d messages, got %d", s.n-1, len(from))
	}
	seen := make(map[uint8]bool, len(from))
	for _, id := range from {
		if int(id) >= s.n || id == s.party.ID || seen[id] {
			return fmt.Errorf("unexpected message from party %d", id)
		}
		seen[id] = true
	}
	return nil
}

func (s *keygenState) HandleMsg1(rng io.Reader, msgs []dkls.KeygenMsg1) ([]dkls.KeygenMsg2, error) {
	from := make([]uint8, len(msgs))
	for i, m := range msgs {
		from[i] = m.From
	}
	if err := s.checkSenders(from); err != nil {
		return nil, err
	}
	for _, m := range msgs {
		s.sids[m.From] = m.SessionID
		s.c1s[m.From] = m.Commitment
	}

	out := make([]dkls.KeygenMsg2, 0, s.n-1)
	for id := uint8(0); int(id) < s.n; id++ {
		if id == s.party.ID {
			continue
		}
		m := dkls.KeygenMsg2{
			From:      s.party.ID,
			To:        id,
			SessionID: s.sid,
			Points:    s.wirePoints,
			Share:     scalar32(polyEval(s.poly, sharePoint(id))),
		}
		if s.lost[id] && s.oldShare != nil {
			// Reconstruction contribution: the helper's Lagrange-weighted
			// old share, evaluated at the lost party's point. The lost
			// party sums these to rebuild the share it had before the
			// resharing.
			lam, err := lagrangeAt(s.helpers, s.party.ID, sharePoint(id))
			if err != nil {
				return nil, err
			}
			rec := scalar32(modMul(lam, s.oldShare))
			m.Recovery = rec[:]
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *keygenState) HandleMsg2(rng io.Reader, msgs []dkls.KeygenMsg2) ([]dkls.KeygenMsg3, error) {
	from := make([]uint8, len(msgs))
	for i, m := range msgs {
		from[i] = m.From
	}
	if err := s.checkSenders(from); err != nil {
		return nil, err
	}
	selfLost := s.lost[s.party.ID]
	wirePoints := s.t
	if s.zeroConst {
		wirePoints = s.t - 1
	}
	x := sharePoint(s.party.ID)

	for _, m := range msgs {
		if m.SessionID != s.sids[m.From] {
			return nil, fmt.Errorf("session id mismatch from party %d", m.From)
		}
		if len(m.Points) != wirePoints {
			return nil, fmt.Errorf("party %d revealed %d commitment points, expected %d", m.From, len(m.Points), wirePoints)
		}
		if commit1(m.SessionID, m.From, m.Points) != s.c1s[m.From] {
			return nil, fmt.Errorf("party %d commitment opening mismatch", m.From)
		}
		comms := make([]point, len(m.Points))
		for i, enc := range m.Points {
			p, err := decompress(enc)
			if err != nil {
				return nil, fmt.Errorf("party %d point %d: %w", m.From, i, err)
			}
			comms[i] = p
		}

		// Feldman check: the received share evaluation must match the
		// sender's committed polynomial in the exponent.
		expect := point{}
		xp := big.NewInt(1)
		if s.zeroConst {
			xp = new(big.Int).Set(x)
		}
		for _, c := range comms {
			expect = expect.add(c.mul(xp))
			xp = modMul(xp, x)
		}
		share := scalarFrom(m.Share[:])
		if !basePoint(share).equal(expect) {
			return nil, fmt.Errorf("party %d share fails verification", m.From)
		}
		s.shareSum = modAdd(s.shareSum, share)

		switch {
		case selfLost && !s.lost[m.From]:
			if len(m.Recovery) != 32 {
				return nil, fmt.Errorf("party %d sent no reconstruction contribution", m.From)
			}
			s.base = modAdd(s.base, scalarFrom(m.Recovery))
		case len(m.Recovery) != 0:
			return nil, fmt.Errorf("unexpected reconstruction material from party %d", m.From)
		}

		s.pointsWire[m.From] = m.Points
		s.peerComms[m.From] = comms
	}

	s.transcript = s.buildTranscript()
	out := make([]dkls.KeygenMsg3, 0, s.n-1)
	for id := uint8(0); int(id) < s.n; id++ {
		if id == s.party.ID {
			continue
		}
		out = append(out, dkls.KeygenMsg3{
			From:      s.party.ID,
			To:        id,
			SessionID: s.sid,
			Echo:      s.transcript,
		})
	}
	return out, nil
}

// buildTranscript hashes every party's round-1 commitment and round-2
// opening in party order. All honest parties compute the same value; it
// doubles as the out-of-band commitment the host exchanges before round 3.
func (s *keygenState) buildTranscript() [32]byte {
	var parts [][]byte
	for id := uint8(0); int(id) < s.n; id++ {
		sid := s.sids[id]
		c1 := s.c1s[id]
		parts = append(parts, []byte{id}, sid[:], c1[:])
		parts = append(parts, s.pointsWire[id]...)
	}
	return hash32("dkls/keygen/transcript", parts...)
}

func (s *keygenState) Commitment2() [dkls.CommitmentSize]byte {
	return s.transcript
}

func (s *keygenState) HandleMsg3(rng io.Reader, msgs []dkls.KeygenMsg3, commitments [][dkls.CommitmentSize]byte) (dkls.KeygenMsg4, error) {
	from := make([]uint8, len(msgs))
	for i, m := range msgs {
		from[i] = m.From
	}
	if err := s.checkSenders(from); err != nil {
		return dkls.KeygenMsg4{}, err
	}
	if len(commitments) != s.n {
		return dkls.KeygenMsg4{}, fmt.Errorf("expected %d out-of-band commitments, got %d", s.n, len(commitments))
	}
	for _, m := range msgs {
		if m.SessionID != s.sids[m.From] {
			return dkls.KeygenMsg4{}, fmt.Errorf("session id mismatch from party %d", m.From)
		}
		if m.Echo != s.transcript {
			return dkls.KeygenMsg4{}, fmt.Errorf("party %d echoed a diverging transcript", m.From)
		}
	}
	for id, c := range commitments {
		if c != s.transcript {
			return dkls.KeygenMsg4{}, fmt.Errorf("out-of-band commitment mismatch for party %d", id)
		}
	}

	// Combine every party's polynomial commitments coefficient-wise; the
	// sums define the joint sharing polynomial in the exponent.
	wirePoints := s.t
	if s.zeroConst {
		wirePoints = s.t - 1
	}
	s.combined = make([]point, wirePoints)
	for m := range s.combined {
		p, err := decompress(s.pointsWire[s.party.ID][m])
		if err != nil {
			return dkls.KeygenMsg4{}, err
		}
		s.combined[m] = p
	}
	for _, comms := range s.peerComms {
		for m, c := range comms {
			s.combined[m] = s.combined[m].add(c)
		}
	}

	if s.zeroConst {
		s.pubRaw = s.oldPubRaw
	} else {
		enc, err := s.combined[0].compress()
		if err != nil {
			return dkls.KeygenMsg4{}, errors.New("joint public key is the identity")
		}
		s.pubRaw = enc
	}

	s.newShare = modAdd(s.base, s.shareSum)
	pubShare, err := basePoint(s.newShare).compress()
	if err != nil {
		return dkls.KeygenMsg4{}, errors.New("public share is the identity")
	}
	return dkls.KeygenMsg4{
		From:      s.party.ID,
		SessionID: s.sid,
		PublicKey: s.pubRaw,
		PubShare:  pubShare,
	}, nil
}

func (s *keygenState) HandleMsg4(msgs []dkls.KeygenMsg4) (*dkls.Keyshare, error) {
	from := make([]uint8, len(msgs))
	for i, m := range msgs {
		from[i] = m.From
	}
	if err := s.checkSenders(from); err != nil {
		return nil, err
	}
	pubShares := make(map[uint8]point, s.n)
	pubShares[s.party.ID] = basePoint(s.newShare)
	for _, m := range msgs {
		if m.SessionID != s.sids[m.From] {
			return nil, fmt.Errorf("session id mismatch from party %d", m.From)
		}
		if m.PublicKey != s.pubRaw {
			return nil, fmt.Errorf("party %d reports a diverging public key", m.From)
		}
		p, err := decompress(m.PubShare[:])
		if err != nil {
			return nil, fmt.Errorf("party %d public share: %w", m.From, err)
		}
		pubShares[m.From] = p
	}
	if err := s.verifyPubShares(pubShares); err != nil {
		return nil, err
	}

	secret := scalar32(s.newShare)
	share := &dkls.Keyshare{
		PartyID:   s.party.ID,
		RankList:  append([]uint8(nil), s.party.Ranks...),
		Threshold: s.party.Threshold,
		Secret:    append([]byte(nil), secret[:]...),
	}
	copy(share.PublicKey[:], s.pubRaw[:])
	return share, nil
}

// verifyPubShares checks that every reported public share is consistent
// with the joint sharing polynomial. The residue after subtracting the
// resharing delta is each party's base in the exponent: the identity for a
// fresh DKG, and a point on the original sharing polynomial for the
// key-preserving variants.
func (s *keygenState) verifyPubShares(pubShares map[uint8]point) error {
	residue := make(map[uint8]point, s.n)
	for id := uint8(0); int(id) < s.n; id++ {
		x := sharePoint(id)
		delta := point{}
		xp := big.NewInt(1)
		if s.zeroConst {
			xp = new(big.Int).Set(x)
		}
		for _, c := range s.combined {
			delta = delta.add(c.mul(xp))
			xp = modMul(xp, x)
		}
		residue[id] = pubShares[id].sub(delta)
	}

	if !s.zeroConst {
		for id := uint8(0); int(id) < s.n; id++ {
			if !residue[id].isIdentity() {
				return fmt.Errorf("inconsistent public share for party %d", id)
			}
		}
		return nil
	}

	interp := make([]uint8, s.t)
	for i := range interp {
		interp[i] = uint8(i)
	}
	at := func(x *big.Int) (point, error) {
		acc := point{}
		for _, id := range interp {
			lam, err := lagrangeAt(interp, id, x)
			if err != nil {
				return point{}, err
			}
			acc = acc.add(residue[id].mul(lam))
		}
		return acc, nil
	}
	zero, err := at(new(big.Int))
	if err != nil {
		return err
	}
	if !zero.equal(s.oldPub) {
		return errors.New("public shares do not reconstruct the group key")
	}
	for id := uint8(s.party.Threshold); int(id) < s.n; id++ {
		want, err := at(sharePoint(id))
		if err != nil {
			return err
		}
		if !want.equal(residue[id]) {
			return fmt.Errorf("inconsistent public share for party %d", id)
		}
	}
	return nil
}

func (s *keygenState) Zeroize() {
	for _, c := range s.poly {
		zeroScalar(c)
	}
	zeroScalar(s.oldShare)
	zeroScalar(s.base)
	zeroScalar(s.shareSum)
	zeroScalar(s.newShare)
}
