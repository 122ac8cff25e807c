package dkls_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/silencelabs/dkls-go/pkg/dkls"
)

func TestRemapKeygenError(t *testing.T) {
	require.NoError(t, dkls.RemapKeygenError(nil))

	err := dkls.RemapKeygenError(errors.New("vss check failed"))
	var de *dkls.Error
	require.ErrorAs(t, err, &de)
	require.Equal(t, dkls.CodeError, de.Code)
	require.Equal(t, "vss check failed", de.Message)

	// Already-mapped errors pass through unchanged.
	require.Same(t, dkls.ErrInvalidState, dkls.RemapKeygenError(dkls.ErrInvalidState))

	// The ban class does not exist in keygen; it degrades to the generic code.
	banned := dkls.RemapKeygenError(&dkls.BanPartyError{Party: 3, Reason: "x"})
	require.ErrorAs(t, banned, &de)
	require.Equal(t, dkls.CodeError, de.Code)
}

func TestRemapSignErrorBanParty(t *testing.T) {
	ban := &dkls.BanPartyError{Party: 2, Reason: "nonce commitment mismatch"}
	err := dkls.RemapSignError(ban)

	var de *dkls.Error
	require.ErrorAs(t, err, &de)
	require.Equal(t, dkls.CodeAbortAndBanParty, de.Code)
	require.Contains(t, de.Message, "party 2")

	// Wrapped ban errors are still detected.
	err = dkls.RemapSignError(fmt.Errorf("round 2: %w", ban))
	require.ErrorAs(t, err, &de)
	require.Equal(t, dkls.CodeAbortAndBanParty, de.Code)
}

func TestRemapSignErrorGeneric(t *testing.T) {
	err := dkls.RemapSignError(errors.New("boom"))
	var de *dkls.Error
	require.ErrorAs(t, err, &de)
	require.Equal(t, dkls.CodeError, de.Code)

	require.Same(t, dkls.ErrFailedSession, dkls.RemapSignError(dkls.ErrFailedSession))
}

func TestSentinelCodes(t *testing.T) {
	for _, e := range []*dkls.Error{
		dkls.ErrInvalidState,
		dkls.ErrFailedSession,
		dkls.ErrKeygenInProgress,
		dkls.ErrSessionConsumed,
		dkls.ErrInvalidSeed,
		dkls.ErrCommitmentsRequired,
		dkls.ErrInvalidCommitmentsLength,
		dkls.ErrInvalidMessageHash,
		dkls.ErrInvalidPublicKey,
		dkls.ErrInvalidDerivationPath,
		dkls.ErrNilKeyshare,
		dkls.ErrNilEngine,
		dkls.ErrNotSerializable,
	} {
		require.Equal(t, dkls.CodeError, e.Code, e.Message)
		require.NotEmpty(t, e.Error())
	}
}
