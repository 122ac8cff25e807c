package localengine

import (
	"errors"
	"fmt"
	"io"

	"github.com/silencelabs/dkls-go/pkg/dkls"
)

// Engine implements dkls.Engine in-process. It is stateless; all per-session
// state lives in the values it returns.
type Engine struct{}

// New returns a fresh in-process engine.
func New() *Engine { return &Engine{} }

var _ dkls.Engine = (*Engine)(nil)

func validateParty(party dkls.Party) error {
	n := len(party.Ranks)
	if n < 2 || n > int(dkls.BroadcastID) {
		return fmt.Errorf("unsupported party count %d", n)
	}
	if int(party.ID) >= n {
		return fmt.Errorf("party id %d outside topology of %d", party.ID, n)
	}
	if party.Threshold < 1 || int(party.Threshold) > n {
		return fmt.Errorf("threshold %d outside topology of %d", party.Threshold, n)
	}
	for _, r := range party.Ranks {
		if r != 0 {
			return errors.New("nonzero ranks not supported")
		}
	}
	return nil
}

func validateShare(share *dkls.Keyshare) (dkls.Party, error) {
	if share == nil || share.Secret == nil {
		return dkls.Party{}, dkls.ErrNilKeyshare
	}
	if len(share.Secret) != 32 {
		return dkls.Party{}, errors.New("malformed keyshare secret")
	}
	party := dkls.Party{
		ID:        share.PartyID,
		Threshold: share.Threshold,
		Ranks:     share.RankList,
	}
	if err := validateParty(party); err != nil {
		return dkls.Party{}, err
	}
	return party, nil
}

// Keygen starts a fresh distributed key generation.
func (e *Engine) Keygen(party dkls.Party, rng io.Reader) (dkls.KeygenState, error) {
	if err := validateParty(party); err != nil {
		return nil, err
	}
	return newKeygenState(party, rng, nil, nil, nil)
}

// KeygenRotation resamples every party's share of the existing key. The
// group public key is unchanged; old and new shares are incompatible.
func (e *Engine) KeygenRotation(share *dkls.Keyshare, rng io.Reader) (dkls.KeygenState, error) {
	return e.KeygenRefresh(share, nil, rng)
}

// KeygenRefresh rotates shares while reconstructing those of the listed lost
// parties. The local party must still hold its share.
func (e *Engine) KeygenRefresh(share *dkls.Keyshare, lost []uint8, rng io.Reader) (dkls.KeygenState, error) {
	party, err := validateShare(share)
	if err != nil {
		return nil, err
	}
	for _, id := range lost {
		if int(id) >= len(party.Ranks) {
			return nil, fmt.Errorf("lost party %d outside topology", id)
		}
		if id == party.ID {
			return nil, errors.New("local party listed as lost; use a recovery session")
		}
	}
	return newKeygenState(party, rng, scalarFrom(share.Secret), share.PublicKey[:], lost)
}

// KeygenRecovery joins a refresh as a party whose share is lost, rebuilding
// it from the other parties' contributions and the known group public key.
func (e *Engine) KeygenRecovery(party dkls.Party, publicKey [33]byte, lost []uint8, rng io.Reader) (dkls.KeygenState, error) {
	if err := validateParty(party); err != nil {
		return nil, err
	}
	if _, err := decompress(publicKey[:]); err != nil {
		return nil, err
	}
	selfLost := false
	for _, id := range lost {
		if int(id) >= len(party.Ranks) {
			return nil, fmt.Errorf("lost party %d outside topology", id)
		}
		if id == party.ID {
			selfLost = true
		}
	}
	if !selfLost {
		return nil, errors.New("local party not in lost set; use a refresh session")
	}
	return newKeygenState(party, rng, nil, publicKey[:], lost)
}

// Sign starts a threshold signing session over the keyshare, signing under
// the child key selected by path. Hardened path components are not
// derivable from distributed shares and are rejected.
func (e *Engine) Sign(share *dkls.Keyshare, path dkls.DerivationPath, rng io.Reader) (dkls.SignState, error) {
	party, err := validateShare(share)
	if err != nil {
		return nil, err
	}
	return newSignState(party, share, path, rng)
}
