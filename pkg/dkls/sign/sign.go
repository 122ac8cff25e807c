package sign

import (
	"context"

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
	RoundPre
	RoundWaitMsg4
	RoundFinished
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
	case RoundPre:
		return "pre"
	case RoundWaitMsg4:
		return "wait-msg4"
	case RoundFinished:
		return "finished"
	case RoundFailed:
		return "failed"
	}
	return "unknown"
}

// Session is one party's signing session. The caller has exclusive
// ownership; operations must not be invoked concurrently.
type Session struct {
	state   dkls.SignState
	round   Round
	pre     dkls.PreSignature
	partial dkls.PartialSignature
	log     logging.Logger
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

// New starts a signing session over the given keyshare. The share is cloned
// before it is handed to the engine, so the caller's copy stays valid and
// must be closed independently. path is a BIP32-style non-hardened
// derivation path ("m", "m/0/1", ...); pass "m" to sign under the root key.
func New(engine dkls.Engine, share *dkls.Keyshare, path string, opts ...Option) (*Session, error) {
	if engine == nil {
		return nil, dkls.ErrNilEngine
	}
	if share == nil || share.Secret == nil {
		return nil, dkls.ErrNilKeyshare
	}
	p, err := dkls.ParseDerivationPath(path)
	if err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	rng, err := dkls.RandomSource(o.seed)
	if err != nil {
		return nil, err
	}
	state, err := engine.Sign(share.Clone(), p, rng)
	if err != nil {
		return nil, dkls.RemapSignError(err)
	}
	return &Session{state: state, round: RoundInit, log: o.log}, nil
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
	s.debug("sign session failed", "round", s.round.String(), "err", err)
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
	s.debug("sign round advanced", "round", s.round.String())
	return msg, nil
}

// HandleMessages consumes every other party's messages for the current
// round and advances the session. The round-3 advance returns no outbound
// messages: the session parks in the Pre round holding a
// message-independent pre-signature until LastMessage supplies the digest.
// Decode failures and engine rejections move the session to the absorbing
// Failed round.
func (s *Session) HandleMessages(msgs []dkls.Message, seed []byte) ([]dkls.Message, error) {
	if s.state == nil {
		return nil, dkls.ErrSessionConsumed
	}
	rng, err := dkls.RandomSource(seed)
	if err != nil {
		return nil, err
	}

	switch s.round {
	case RoundWaitMsg1:
		in, err := dkls.DecodeAll[dkls.SignMsg1](msgs)
		if err != nil {
			return nil, s.fail(err)
		}
		out, err := s.state.HandleMsg1(rng, in)
		if err != nil {
			return nil, s.fail(dkls.RemapSignError(err))
		}
		wire, err := dkls.EncodeAll(out)
		if err != nil {
			return nil, s.fail(err)
		}
		return s.advance(RoundWaitMsg2, wire)

	case RoundWaitMsg2:
		in, err := dkls.DecodeAll[dkls.SignMsg2](msgs)
		if err != nil {
			return nil, s.fail(err)
		}
		out, err := s.state.HandleMsg2(rng, in)
		if err != nil {
			return nil, s.fail(dkls.RemapSignError(err))
		}
		wire, err := dkls.EncodeAll(out)
		if err != nil {
			return nil, s.fail(err)
		}
		return s.advance(RoundWaitMsg3, wire)

	case RoundWaitMsg3:
		in, err := dkls.DecodeAll[dkls.SignMsg3](msgs)
		if err != nil {
			return nil, s.fail(err)
		}
		pre, err := s.state.HandleMsg3(in)
		if err != nil {
			return nil, s.fail(dkls.RemapSignError(err))
		}
		s.pre = pre
		return s.advance(RoundPre, nil)

	case RoundFailed:
		return nil, dkls.ErrFailedSession

	default:
		return nil, dkls.ErrInvalidState
	}
}

func (s *Session) advance(next Round, out []dkls.Message) ([]dkls.Message, error) {
	s.round = next
	s.debug("sign round advanced", "round", s.round.String())
	return out, nil
}

// LastMessage binds the pre-signature to the 32-byte message digest and
// returns the final broadcast message. A mis-sized digest is rejected
// without consuming the pre-signature, so the caller can retry with the
// correct length. Valid only from the Pre round.
func (s *Session) LastMessage(digest []byte) (dkls.Message, error) {
	if s.state == nil {
		return dkls.Message{}, dkls.ErrSessionConsumed
	}
	if len(digest) != 32 {
		return dkls.Message{}, dkls.ErrInvalidMessageHash
	}
	if s.round != RoundPre {
		return dkls.Message{}, dkls.ErrInvalidState
	}
	var d [32]byte
	copy(d[:], digest)
	partial, out := s.pre.Finish(d)
	s.pre = nil
	s.partial = partial
	msg, err := dkls.Encode(out)
	if err != nil {
		return dkls.Message{}, s.fail(err)
	}
	s.round = RoundWaitMsg4
	s.debug("sign round advanced", "round", s.round.String())
	return msg, nil
}

// Combine folds the other parties' final messages into the completed
// signature. It consumes the session whether or not it succeeds: on return
// the session is destroyed and no further operations are possible.
func (s *Session) Combine(msgs []dkls.Message) (*dkls.Signature, error) {
	if s.state == nil {
		return nil, dkls.ErrSessionConsumed
	}
	if s.round != RoundWaitMsg4 {
		s.destroy()
		return nil, dkls.ErrInvalidState
	}
	partial := s.partial
	s.destroy()
	s.round = RoundFinished

	in, err := dkls.DecodeAll[dkls.SignMsg4](msgs)
	if err != nil {
		return nil, err
	}
	sig, err := partial.Combine(in)
	if err != nil {
		return nil, dkls.RemapSignError(err)
	}
	s.debug("sign session finished")
	return sig, nil
}

func (s *Session) destroy() {
	if s.state != nil {
		s.state.Zeroize()
		s.state = nil
	}
	s.pre = nil
	s.partial = nil
}

// Close releases the session early, zeroizing engine state. It is
// idempotent and safe on a consumed session.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.destroy()
}

// snapshot is the coarse serialized form: the round marker only.
type snapshot struct {
	Round string `cbor:"1,keyasint"`
}

// Bytes serializes a coarse observability snapshot of the session: which
// round it is in, not its live cryptographic state. The output cannot be
// used to resume a session in another process. Sessions holding a
// pre-signature or partial signature are not serializable at all.
func (s *Session) Bytes() ([]byte, error) {
	if s.state == nil {
		return nil, dkls.ErrSessionConsumed
	}
	if s.round == RoundPre || s.round == RoundWaitMsg4 {
		return nil, dkls.ErrNotSerializable
	}
	data, err := cbor.Marshal(snapshot{Round: s.round.String()})
	if err != nil {
		return nil, &dkls.Error{Message: "session encode: " + err.Error(), Code: dkls.CodeError}
	}
	return data, nil
}
