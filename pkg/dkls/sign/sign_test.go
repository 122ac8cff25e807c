package sign_test

import (
	"crypto/sha256"
	"errors"
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/silencelabs/dkls-go/pkg/dkls"
	"github.com/silencelabs/dkls-go/pkg/dkls/keygen"
	"github.com/silencelabs/dkls-go/pkg/dkls/localengine"
	"github.com/silencelabs/dkls-go/pkg/dkls/sign"
)

func deliverTo(msgs []dkls.Message, id uint8) []dkls.Message {
	var out []dkls.Message
	for _, m := range msgs {
		if m.From == id {
			continue
		}
		if m.IsBroadcast() || m.To == id {
			out = append(out, m)
		}
	}
	return out
}

// makeShares runs a full keygen and hands back every party's keyshare.
func makeShares(t *testing.T, engine dkls.Engine, n, threshold int) []*dkls.Keyshare {
	t.Helper()
	sessions := make([]*keygen.Session, n)
	for i := range sessions {
		s, err := keygen.New(engine, uint8(n), uint8(threshold), uint8(i))
		if err != nil {
			t.Fatalf("party %d: %v", i, err)
		}
		sessions[i] = s
	}
	round := make([]dkls.Message, 0, n)
	for i, s := range sessions {
		msg, err := s.CreateFirstMessage()
		if err != nil {
			t.Fatalf("party %d: %v", i, err)
		}
		round = append(round, msg)
	}
	for r := 1; r <= 4; r++ {
		var commitments []byte
		if r == 3 {
			for _, s := range sessions {
				c, err := s.Commitment2()
				if err != nil {
					t.Fatal(err)
				}
				commitments = append(commitments, c[:]...)
			}
		}
		var next []dkls.Message
		for i, s := range sessions {
			out, err := s.HandleMessages(deliverTo(round, uint8(i)), commitments, nil)
			if err != nil {
				t.Fatalf("party %d round %d: %v", i, r, err)
			}
			next = append(next, out...)
		}
		round = next
	}
	shares := make([]*dkls.Keyshare, n)
	for i, s := range sessions {
		share, err := s.Keyshare()
		if err != nil {
			t.Fatalf("party %d: %v", i, err)
		}
		shares[i] = share
	}
	return shares
}

func newSignSessions(t *testing.T, engine dkls.Engine, quorum []*dkls.Keyshare, path string) ([]*sign.Session, []uint8) {
	t.Helper()
	sessions := make([]*sign.Session, len(quorum))
	ids := make([]uint8, len(quorum))
	for i, share := range quorum {
		ids[i] = share.PartyID
		s, err := sign.New(engine, share, path)
		if err != nil {
			t.Fatalf("party %d: %v", share.PartyID, err)
		}
		sessions[i] = s
	}
	return sessions, ids
}

// runToPre drives the sessions through rounds 1-3, leaving each one parked
// on its pre-signature.
func runToPre(t *testing.T, sessions []*sign.Session, ids []uint8) {
	t.Helper()
	round := make([]dkls.Message, 0, len(sessions))
	for i, s := range sessions {
		msg, err := s.CreateFirstMessage()
		if err != nil {
			t.Fatalf("party %d: %v", ids[i], err)
		}
		round = append(round, msg)
	}
	for r := 1; r <= 3; r++ {
		var next []dkls.Message
		for i, s := range sessions {
			out, err := s.HandleMessages(deliverTo(round, ids[i]), nil)
			if err != nil {
				t.Fatalf("party %d round %d: %v", ids[i], r, err)
			}
			next = append(next, out...)
		}
		round = next
	}
	for i, s := range sessions {
		if got := s.Round(); got != sign.RoundPre {
			t.Fatalf("party %d parked in %v, expected pre", ids[i], got)
		}
	}
}

func finishAndCombine(t *testing.T, sessions []*sign.Session, ids []uint8, digest [32]byte) *dkls.Signature {
	t.Helper()
	finals := make([]dkls.Message, 0, len(sessions))
	for i, s := range sessions {
		msg, err := s.LastMessage(digest[:])
		if err != nil {
			t.Fatalf("party %d last message: %v", ids[i], err)
		}
		finals = append(finals, msg)
	}
	var sig *dkls.Signature
	for i, s := range sessions {
		out, err := s.Combine(deliverTo(finals, ids[i]))
		if err != nil {
			t.Fatalf("party %d combine: %v", ids[i], err)
		}
		if sig != nil && (*sig != *out) {
			t.Fatal("parties combined to different signatures")
		}
		sig = out
	}
	return sig
}

func verifySig(t *testing.T, sig *dkls.Signature, digest [32]byte, pub []byte) {
	t.Helper()
	pk, err := btcec.ParsePubKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	var r, s btcec.ModNScalar
	r.SetByteSlice(sig.R[:])
	s.SetByteSlice(sig.S[:])
	if !btcecdsa.NewSignature(&r, &s).Verify(digest[:], pk) {
		t.Fatal("signature does not verify")
	}
	halfOrder := new(big.Int).Rsh(btcec.S256().N, 1)
	if new(big.Int).SetBytes(sig.S[:]).Cmp(halfOrder) > 0 {
		t.Fatal("signature is not low-s normalized")
	}
}

func TestSignTwoOfThree(t *testing.T) {
	engine := localengine.New()
	shares := makeShares(t, engine, 3, 2)
	defer func() {
		for _, s := range shares {
			s.Close()
		}
	}()

	sessions, ids := newSignSessions(t, engine, []*dkls.Keyshare{shares[0], shares[2]}, "m")
	runToPre(t, sessions, ids)
	digest := sha256.Sum256([]byte("transfer 1 satoshi"))
	sig := finishAndCombine(t, sessions, ids, digest)

	verifySig(t, sig, digest, shares[0].PublicKeyBytes())
}

func TestSignFullQuorum(t *testing.T) {
	engine := localengine.New()
	shares := makeShares(t, engine, 3, 3)
	sessions, ids := newSignSessions(t, engine, shares, "m")
	runToPre(t, sessions, ids)
	digest := sha256.Sum256([]byte("all parties present"))
	sig := finishAndCombine(t, sessions, ids, digest)
	verifySig(t, sig, digest, shares[0].PublicKeyBytes())
}

func TestSignWithDerivationPath(t *testing.T) {
	engine := localengine.New()
	shares := makeShares(t, engine, 3, 2)

	const pathStr = "m/0/7"
	sessions, ids := newSignSessions(t, engine, shares[:2], pathStr)
	runToPre(t, sessions, ids)
	digest := sha256.Sum256([]byte("child key message"))
	sig := finishAndCombine(t, sessions, ids, digest)

	path, err := dkls.ParseDerivationPath(pathStr)
	if err != nil {
		t.Fatal(err)
	}
	child, err := localengine.DerivePublicKey(shares[0].PublicKeyBytes(), path)
	if err != nil {
		t.Fatal(err)
	}
	verifySig(t, sig, digest, child)

	// The child key must differ from the root key.
	if string(child) == string(shares[0].PublicKeyBytes()) {
		t.Fatal("derivation produced the root key")
	}
}

func TestSignHardenedPathRejected(t *testing.T) {
	engine := localengine.New()
	shares := makeShares(t, engine, 2, 2)
	_, err := sign.New(engine, shares[0], "m/0'")
	if err == nil {
		t.Fatal("hardened path accepted")
	}
	var de *dkls.Error
	if !errors.As(err, &de) || de.Code != dkls.CodeError {
		t.Fatalf("expected generic code, got %v", err)
	}
}

func TestSignInvalidPath(t *testing.T) {
	engine := localengine.New()
	shares := makeShares(t, engine, 2, 2)
	if _, err := sign.New(engine, shares[0], "bogus"); err != dkls.ErrInvalidDerivationPath {
		t.Fatalf("expected ErrInvalidDerivationPath, got %v", err)
	}
}

func TestSignKeyshareStaysUsable(t *testing.T) {
	engine := localengine.New()
	shares := makeShares(t, engine, 2, 2)

	s, err := sign.New(engine, shares[0], "m")
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	if shares[0].Secret == nil {
		t.Fatal("caller's keyshare was consumed by the sign session")
	}
	if _, err := shares[0].Bytes(); err != nil {
		t.Fatalf("caller's keyshare unusable: %v", err)
	}
}

func TestSignDigestLengthChecked(t *testing.T) {
	engine := localengine.New()
	shares := makeShares(t, engine, 2, 2)
	sessions, ids := newSignSessions(t, engine, shares, "m")
	runToPre(t, sessions, ids)

	if _, err := sessions[0].LastMessage(make([]byte, 31)); err != dkls.ErrInvalidMessageHash {
		t.Fatalf("expected ErrInvalidMessageHash, got %v", err)
	}
	if got := sessions[0].Round(); got != sign.RoundPre {
		t.Fatalf("bad digest must not consume the pre-signature, round = %v", got)
	}

	// Recoverable: the correct digest still signs.
	digest := sha256.Sum256([]byte("second attempt"))
	sig := finishAndCombine(t, sessions, ids, digest)
	verifySig(t, sig, digest, shares[0].PublicKeyBytes())
}

func TestSignLastMessageBeforePre(t *testing.T) {
	engine := localengine.New()
	shares := makeShares(t, engine, 2, 2)
	s, err := sign.New(engine, shares[0], "m")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	digest := sha256.Sum256([]byte("too early"))
	if _, err := s.LastMessage(digest[:]); err != dkls.ErrInvalidState {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if got := s.Round(); got != sign.RoundInit {
		t.Fatalf("rejected call must not mutate the session, round = %v", got)
	}
}

func TestSignCombineWrongRoundConsumes(t *testing.T) {
	engine := localengine.New()
	shares := makeShares(t, engine, 2, 2)
	s, err := sign.New(engine, shares[0], "m")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Combine(nil); err != dkls.ErrInvalidState {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, err := s.Combine(nil); err != dkls.ErrSessionConsumed {
		t.Fatalf("combine must consume the session, got %v", err)
	}
}

func TestSignCombineRejectsForeignPartial(t *testing.T) {
	engine := localengine.New()
	shares := makeShares(t, engine, 3, 2)
	sessions, ids := newSignSessions(t, engine, shares[:2], "m")
	runToPre(t, sessions, ids)

	digest := sha256.Sum256([]byte("combine tamper"))
	finals := make([]dkls.Message, len(sessions))
	for i, s := range sessions {
		msg, err := s.LastMessage(digest[:])
		if err != nil {
			t.Fatal(err)
		}
		finals[i] = msg
	}

	// Rewrite the counterparty's final message to claim a quorum outsider.
	var m4 dkls.SignMsg4
	if err := dkls.Decode(finals[1], &m4); err != nil {
		t.Fatal(err)
	}
	m4.From = 2
	forged, err := dkls.Encode(m4)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := sessions[0].Combine([]dkls.Message{forged}); err == nil {
		t.Fatal("partial from a non-quorum party accepted")
	}
	// Combine consumed the session even though it failed.
	if _, err := sessions[0].Combine(nil); err != dkls.ErrSessionConsumed {
		t.Fatalf("expected ErrSessionConsumed, got %v", err)
	}
}

func TestSignTamperedNonceBansParty(t *testing.T) {
	engine := localengine.New()
	shares := makeShares(t, engine, 2, 2)
	sessions, ids := newSignSessions(t, engine, shares, "m")

	round := make([]dkls.Message, 0, 2)
	for i, s := range sessions {
		msg, err := s.CreateFirstMessage()
		if err != nil {
			t.Fatalf("party %d: %v", ids[i], err)
		}
		round = append(round, msg)
	}
	var msgs2 []dkls.Message
	for i, s := range sessions {
		out, err := s.HandleMessages(deliverTo(round, ids[i]), nil)
		if err != nil {
			t.Fatalf("party %d round 1: %v", ids[i], err)
		}
		msgs2 = append(msgs2, out...)
	}

	// Replace party 1's nonce point after it committed to it.
	in := deliverTo(msgs2, ids[0])
	var m2 dkls.SignMsg2
	if err := dkls.Decode(in[0], &m2); err != nil {
		t.Fatal(err)
	}
	m2.NoncePoint[1] ^= 0x01
	forged, err := dkls.Encode(m2)
	if err != nil {
		t.Fatal(err)
	}

	_, err = sessions[0].HandleMessages([]dkls.Message{forged}, nil)
	if err == nil {
		t.Fatal("tampered nonce point accepted")
	}
	var de *dkls.Error
	if !errors.As(err, &de) || de.Code != dkls.CodeAbortAndBanParty {
		t.Fatalf("expected abort-and-ban code, got %v", err)
	}
	if got := sessions[0].Round(); got != sign.RoundFailed {
		t.Fatalf("expected Failed round, got %v", got)
	}
}

func TestSignBytesSnapshot(t *testing.T) {
	engine := localengine.New()
	shares := makeShares(t, engine, 2, 2)
	sessions, ids := newSignSessions(t, engine, shares, "m")

	data, err := sessions[0].Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("empty snapshot")
	}

	runToPre(t, sessions, ids)
	if _, err := sessions[0].Bytes(); err != dkls.ErrNotSerializable {
		t.Fatalf("expected ErrNotSerializable in pre round, got %v", err)
	}

	digest := sha256.Sum256([]byte("snapshot"))
	if _, err := sessions[0].LastMessage(digest[:]); err != nil {
		t.Fatal(err)
	}
	if _, err := sessions[0].Bytes(); err != dkls.ErrNotSerializable {
		t.Fatalf("expected ErrNotSerializable holding a partial signature, got %v", err)
	}
}
