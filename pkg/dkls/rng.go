package dkls

import (
	"crypto/rand"
	"io"

	"golang.org/x/crypto/chacha20"
)

// SeedSize is the fixed width of a caller-supplied seed.
const SeedSize = 32

// RandomSource returns the random source for one protocol call. An empty
// seed selects the secure system source; a SeedSize-byte seed selects a
// deterministic ChaCha20 keystream, making seeded runs bit-reproducible. Any
// other length is rejected.
//
// Sessions do not cache randomness: every operation that needs it takes its
// own seed, mirroring the per-call contract of the protocol engine.
func RandomSource(seed []byte) (io.Reader, error) {
	if len(seed) == 0 {
		return rand.Reader, nil
	}
	if len(seed) != SeedSize {
		return nil, ErrInvalidSeed
	}
	nonce := make([]byte, chacha20.NonceSize)
	c, err := chacha20.NewUnauthenticatedCipher(seed, nonce)
	if err != nil {
		return nil, &Error{Message: "seed rng: " + err.Error(), Code: CodeError}
	}
	return &chachaReader{c: c}, nil
}

// chachaReader exposes a ChaCha20 keystream as an io.Reader.
type chachaReader struct {
	c *chacha20.Cipher
}

func (r *chachaReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	r.c.XORKeyStream(p, p)
	return len(p), nil
}
