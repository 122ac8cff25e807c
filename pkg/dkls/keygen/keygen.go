package keygen

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/fxamacker/cbor/v2"

	"github.com/silencelabs/dkls-go/pkg/dkls"
	"github.com/silencelabs/dkls-go/pkg/dkls/logging"
)

// Round is the session's coarse round marker, exposed for observability.
type Round uint8

const (
	RoundInit Round = iota
	RoundWaitMsg1
	RoundWaitMsg2
	RoundWaitMsg3
	RoundWaitMsg4
	RoundShare
	RoundFailed
)

func (r Round) String() string {
	switch r {
	case RoundInit:
		return "init"
	case RoundWaitMsg1:
		return "wait-msg1"
	case RoundWaitMsg2:
		return "wait-msg2"
	case RoundWaitMsg3:
		return "wait-msg3"
	case RoundWaitMsg4:
		return "wait-msg4"
	case RoundShare:
		return "share"
	case RoundFailed:
		return "failed"
	}
	return "unknown"
}

// Session is one party's keygen session. It owns a live engine state, the
// current round tag, and — once the terminal round is reached — the
// completed keyshare. The caller has exclusive ownership; operations must
// not be invoked concurrently.
type Session struct {
	state dkls.KeygenState
	n     int
	round Round
	share *dkls.Keyshare
	log   logging.Logger
}

type options struct {
	seed []byte
	log  logging.Logger
}

// Option configures session construction.
type Option func(*options)

// WithSeed supplies a dkls.SeedSize-byte seed making the construction
// deterministic. Without it, randomness comes from the secure system source.
func WithSeed(seed []byte) Option {
	return func(o *options) { o.seed = seed }
}

// WithLogger attaches a logger; sessions emit round transitions at debug
// level and never log message payloads or secrets.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newSession(state dkls.KeygenState, n int, o options) *Session {
	return &Session{state: state, n: n, round: RoundInit, log: o.log}
}

// New starts a fresh DKG session for one of participants parties, with every
// participant assigned rank zero.
func New(engine dkls.Engine, participants, threshold, partyID uint8, opts ...Option) (*Session, error) {
	if engine == nil {
		return nil, dkls.ErrNilEngine
	}
	o := applyOptions(opts)
	rng, err := dkls.RandomSource(o.seed)
	if err != nil {
		return nil, err
	}
	party := dkls.Party{
		ID:        partyID,
		Threshold: threshold,
		Ranks:     make([]uint8, participants),
	}
	state, err := engine.Keygen(party, rng)
	if err != nil {
		return nil, dkls.RemapKeygenError(err)
	}
	return newSession(state, int(participants), o), nil
}

// NewRotation starts a key rotation from an existing keyshare; the party
// topology is derived from the share's rank list.
func NewRotation(engine dkls.Engine, share *dkls.Keyshare, opts ...Option) (*Session, error) {
	if engine == nil {
		return nil, dkls.ErrNilEngine
	}
	if share == nil || share.Secret == nil {
		return nil, dkls.ErrNilKeyshare
	}
	o := applyOptions(opts)
	rng, err := dkls.RandomSource(o.seed)
	if err != nil {
		return nil, err
	}
	state, err := engine.KeygenRotation(share, rng)
	if err != nil {
		return nil, dkls.RemapKeygenError(err)
	}
	return newSession(state, len(share.RankList), o), nil
}

// NewRecovery starts a key refresh in which the parties listed in lostIDs
// have lost their shares; the local party still holds one.
func NewRecovery(engine dkls.Engine, share *dkls.Keyshare, lostIDs []uint8, opts ...Option) (*Session, error) {
	if engine == nil {
		return nil, dkls.ErrNilEngine
	}
	if share == nil || share.Secret == nil {
		return nil, dkls.ErrNilKeyshare
	}
	o := applyOptions(opts)
	rng, err := dkls.RandomSource(o.seed)
	if err != nil {
		return nil, err
	}
	state, err := engine.KeygenRefresh(share, lostIDs, rng)
	if err != nil {
		return nil, dkls.RemapKeygenError(err)
	}
	return newSession(state, len(share.RankList), o), nil
}

// NewLostShareRecovery starts a lost-share recovery for a party with no
// local keyshare, from the known 33-byte compressed group public key. A
// malformed public key encoding is rejected before any protocol work begins.
func NewLostShareRecovery(engine dkls.Engine, participants, threshold, partyID uint8, publicKey []byte, lostIDs []uint8, opts ...Option) (*Session, error) {
	if engine == nil {
		return nil, dkls.ErrNilEngine
	}
	if len(publicKey) != 33 {
		return nil, dkls.ErrInvalidPublicKey
	}
	if _, err := btcec.ParsePubKey(publicKey); err != nil {
		return nil, dkls.ErrInvalidPublicKey
	}
	o := applyOptions(opts)
	rng, err := dkls.RandomSource(o.seed)
	if err != nil {
		return nil, err
	}
	party := dkls.Party{
		ID:        partyID,
		Threshold: threshold,
		Ranks:     make([]uint8, participants),
	}
	var pk [33]byte
	copy(pk[:], publicKey)
	state, err := engine.KeygenRecovery(party, pk, lostIDs, rng)
	if err != nil {
		return nil, dkls.RemapKeygenError(err)
	}
	return newSession(state, int(participants), o), nil
}

// Round reports the session's current round.
func (s *Session) Round() Round { return s.round }

func (s *Session) debug(msg string, args ...any) {
	if s.log != nil {
		s.log.Debug(context.Background(), msg, args...)
	}
}

func (s *Session) fail(err error) error {
	s.round = RoundFailed
	s.debug("keygen session failed", "round", s.round.String(), "err", err)
	return err
}

// CreateFirstMessage produces the round-1 broadcast message and moves the
// session to WaitMsg1. Valid only from Init; any other round reports
// ErrInvalidState without mutating the session.
func (s *Session) CreateFirstMessage() (dkls.Message, error) {
	if s.state == nil {
		return dkls.Message{}, dkls.ErrSessionConsumed
	}
	if s.round != RoundInit {
		return dkls.Message{}, dkls.ErrInvalidState
	}
	msg, err := dkls.Encode(s.state.GenerateMsg1())
	if err != nil {
		return dkls.Message{}, err
	}
	s.round = RoundWaitMsg1
	s.debug("keygen round advanced", "round", s.round.String())
	return msg, nil
}

// Commitment2 returns the 32-byte commitment derived from current session
// state, exchanged by the host out of band before round 3.
func (s *Session) Commitment2() ([dkls.CommitmentSize]byte, error) {
	if s.state == nil {
		return [dkls.CommitmentSize]byte{}, dkls.ErrSessionConsumed
	}
	return s.state.Commitment2(), nil
}

// HandleMessages consumes every other party's messages for the current round
// and advances the session, returning the next round's outbound messages.
// The commitments argument is required only for the WaitMsg3 advance, where
// it must hold exactly n*32 bytes (one commitment per party, indexed by
// party id); a missing or mis-sized buffer is rejected before the engine is
// invoked and does not mutate the session. Decode failures and engine
// rejections move the session to the absorbing Failed round.
func (s *Session) HandleMessages(msgs []dkls.Message, commitments []byte, seed []byte) ([]dkls.Message, error) {
	if s.state == nil {
		return nil, dkls.ErrSessionConsumed
	}
	rng, err := dkls.RandomSource(seed)
	if err != nil {
		return nil, err
	}

	switch s.round {
	case RoundWaitMsg1:
		in, err := dkls.DecodeAll[dkls.KeygenMsg1](msgs)
		if err != nil {
			return nil, s.fail(err)
		}
		out, err := s.state.HandleMsg1(rng, in)
		if err != nil {
			return nil, s.fail(dkls.RemapKeygenError(err))
		}
		wire, err := dkls.EncodeAll(out)
		if err != nil {
			return nil, s.fail(err)
		}
		return s.advance(RoundWaitMsg2, wire)

	case RoundWaitMsg2:
		in, err := dkls.DecodeAll[dkls.KeygenMsg2](msgs)
		if err != nil {
			return nil, s.fail(err)
		}
		out, err := s.state.HandleMsg2(rng, in)
		if err != nil {
			return nil, s.fail(dkls.RemapKeygenError(err))
		}
		wire, err := dkls.EncodeAll(out)
		if err != nil {
			return nil, s.fail(err)
		}
		return s.advance(RoundWaitMsg3, wire)

	case RoundWaitMsg3:
		if len(commitments) == 0 {
			return nil, dkls.ErrCommitmentsRequired
		}
		if len(commitments) != s.n*dkls.CommitmentSize {
			return nil, dkls.ErrInvalidCommitmentsLength
		}
		comms := make([][dkls.CommitmentSize]byte, s.n)
		for i := range comms {
			copy(comms[i][:], commitments[i*dkls.CommitmentSize:(i+1)*dkls.CommitmentSize])
		}
		in, err := dkls.DecodeAll[dkls.KeygenMsg3](msgs)
		if err != nil {
			return nil, s.fail(err)
		}
		out, err := s.state.HandleMsg3(rng, in, comms)
		if err != nil {
			return nil, s.fail(dkls.RemapKeygenError(err))
		}
		msg, err := dkls.Encode(out)
		if err != nil {
			return nil, s.fail(err)
		}
		return s.advance(RoundWaitMsg4, []dkls.Message{msg})

	case RoundWaitMsg4:
		in, err := dkls.DecodeAll[dkls.KeygenMsg4](msgs)
		if err != nil {
			return nil, s.fail(err)
		}
		share, err := s.state.HandleMsg4(in)
		if err != nil {
			return nil, s.fail(dkls.RemapKeygenError(err))
		}
		s.share = share
		s.round = RoundShare
		s.debug("keygen round advanced", "round", s.round.String())
		return nil, nil

	case RoundFailed:
		return nil, dkls.ErrFailedSession

	default:
		return nil, dkls.ErrInvalidState
	}
}

func (s *Session) advance(next Round, out []dkls.Message) ([]dkls.Message, error) {
	s.round = next
	s.debug("keygen round advanced", "round", s.round.String())
	return out, nil
}

// Keyshare extracts the completed keyshare. Valid only from the Share round;
// from Failed it reports ErrFailedSession, from any in-progress round it
// reports ErrKeygenInProgress. In every case the session is consumed and
// cannot be reused.
func (s *Session) Keyshare() (*dkls.Keyshare, error) {
	if s.state == nil {
		return nil, dkls.ErrSessionConsumed
	}
	switch s.round {
	case RoundShare:
		share := s.share
		s.share = nil
		s.destroy()
		return share, nil
	case RoundFailed:
		s.destroy()
		return nil, dkls.ErrFailedSession
	default:
		s.destroy()
		return nil, dkls.ErrKeygenInProgress
	}
}

func (s *Session) destroy() {
	if s.state != nil {
		s.state.Zeroize()
		s.state = nil
	}
	if s.share != nil {
		s.share.Close()
		s.share = nil
	}
}

// Close releases the session early, zeroizing engine state and any held
// keyshare. It is idempotent and safe on a consumed session.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.destroy()
}

// snapshot is the coarse serialized form: the round marker, the topology
// size, and — in the terminal Share round — the keyshare.
type snapshot struct {
	N     int            `cbor:"1,keyasint"`
	Round string         `cbor:"2,keyasint"`
	Share *dkls.Keyshare `cbor:"3,keyasint,omitempty"`
}

// Bytes serializes a coarse observability snapshot of the session: which
// round it is in, not its live cryptographic state. The output cannot be
// used to resume a session in another process.
func (s *Session) Bytes() ([]byte, error) {
	if s.state == nil {
		return nil, dkls.ErrSessionConsumed
	}
	snap := snapshot{N: s.n, Round: s.round.String(), Share: s.share}
	data, err := cbor.Marshal(snap)
	if err != nil {
		return nil, &dkls.Error{Message: "session encode: " + err.Error(), Code: dkls.CodeError}
	}
	return data, nil
}
