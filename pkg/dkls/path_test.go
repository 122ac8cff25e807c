package dkls_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/silencelabs/dkls-go/pkg/dkls"
)

func TestParseDerivationPath(t *testing.T) {
	cases := []struct {
		in   string
		want dkls.DerivationPath
	}{
		{"m", dkls.DerivationPath{}},
		{"M", dkls.DerivationPath{}},
		{"m/0", dkls.DerivationPath{0}},
		{"m/0/1/2", dkls.DerivationPath{0, 1, 2}},
		{"m/44'/0/1", dkls.DerivationPath{44 | 0x80000000, 0, 1}},
		{"m/44h/0H", dkls.DerivationPath{44 | 0x80000000, 0x80000000}},
		{"m/2147483647", dkls.DerivationPath{2147483647}},
	}
	for _, tc := range cases {
		got, err := dkls.ParseDerivationPath(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseDerivationPathRejects(t *testing.T) {
	for _, in := range []string{
		"",
		"n/0",
		"m/",
		"m//1",
		"m/'",
		"m/abc",
		"m/-1",
		"m/2147483648",
		"44/0",
	} {
		_, err := dkls.ParseDerivationPath(in)
		require.ErrorIs(t, err, dkls.ErrInvalidDerivationPath, in)
	}
}

func TestDerivationPathString(t *testing.T) {
	p, err := dkls.ParseDerivationPath("m/44'/0/1")
	require.NoError(t, err)
	require.Equal(t, "m/44'/0/1", p.String())
	require.True(t, p.Hardened(0))
	require.False(t, p.Hardened(1))
}
