package localengine

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
)

var (
	curve = btcec.S256()
	order = btcec.S256().N
)

// point is an affine curve point. A nil X marks the identity element, which
// has no compressed encoding and only ever appears in intermediate sums.
type point struct {
	X, Y *big.Int
}

func (p point) isIdentity() bool { return p.X == nil }

func basePoint(k *big.Int) point {
	if k.Sign() == 0 {
		return point{}
	}
	x, y := curve.ScalarBaseMult(k.Bytes())
	return point{X: x, Y: y}
}

func (p point) mul(k *big.Int) point {
	if p.isIdentity() || k.Sign() == 0 {
		return point{}
	}
	x, y := curve.ScalarMult(p.X, p.Y, k.Bytes())
	return point{X: x, Y: y}
}

func (p point) add(q point) point {
	if p.isIdentity() {
		return q
	}
	if q.isIdentity() {
		return p
	}
	if p.X.Cmp(q.X) == 0 && p.Y.Cmp(q.Y) != 0 {
		return point{}
	}
	x, y := curve.Add(p.X, p.Y, q.X, q.Y)
	return point{X: x, Y: y}
}

func (p point) neg() point {
	if p.isIdentity() {
		return point{}
	}
	return point{X: p.X, Y: new(big.Int).Sub(curve.P, p.Y)}
}

func (p point) sub(q point) point { return p.add(q.neg()) }

func (p point) equal(q point) bool {
	if p.isIdentity() || q.isIdentity() {
		return p.isIdentity() && q.isIdentity()
	}
	return p.X.Cmp(q.X) == 0 && p.Y.Cmp(q.Y) == 0
}

// compress serializes a point in 33-byte SEC compressed form. The identity
// never appears on the wire; it is a protocol failure if it would.
func (p point) compress() ([33]byte, error) {
	var out [33]byte
	if p.isIdentity() {
		return out, errors.New("identity point has no compressed encoding")
	}
	var fx, fy btcec.FieldVal
	fx.SetByteSlice(p.X.Bytes())
	fy.SetByteSlice(p.Y.Bytes())
	copy(out[:], btcec.NewPublicKey(&fx, &fy).SerializeCompressed())
	return out, nil
}

func decompress(b []byte) (point, error) {
	pk, err := btcec.ParsePubKey(b)
	if err != nil {
		return point{}, fmt.Errorf("malformed curve point: %w", err)
	}
	return point{X: pk.X(), Y: pk.Y()}, nil
}

// randScalar draws a uniform nonzero scalar below the group order by
// rejection sampling.
func randScalar(rng io.Reader) (*big.Int, error) {
	buf := make([]byte, 32)
	for {
		if _, err := io.ReadFull(rng, buf); err != nil {
			return nil, fmt.Errorf("read randomness: %w", err)
		}
		v := new(big.Int).SetBytes(buf)
		if v.Sign() != 0 && v.Cmp(order) < 0 {
			return v, nil
		}
	}
}

func scalar32(v *big.Int) [32]byte {
	var out [32]byte
	new(big.Int).Mod(v, order).FillBytes(out[:])
	return out
}

func scalarFrom(b []byte) *big.Int {
	return new(big.Int).Mod(new(big.Int).SetBytes(b), order)
}

func modAdd(a, b *big.Int) *big.Int {
	return new(big.Int).Mod(new(big.Int).Add(a, b), order)
}

func modMul(a, b *big.Int) *big.Int {
	return new(big.Int).Mod(new(big.Int).Mul(a, b), order)
}

func modInv(a *big.Int) (*big.Int, error) {
	if a.Sign() == 0 {
		return nil, errors.New("inverse of zero scalar")
	}
	return new(big.Int).ModInverse(a, order), nil
}

// polyEval evaluates a polynomial with the given coefficients (constant term
// first) at x, mod the group order.
func polyEval(coeffs []*big.Int, x *big.Int) *big.Int {
	acc := new(big.Int)
	for i := len(coeffs) - 1; i >= 0; i-- {
		acc.Mul(acc, x)
		acc.Add(acc, coeffs[i])
		acc.Mod(acc, order)
	}
	return acc
}

// sharePoint maps a party id to its Shamir evaluation point id+1, keeping
// zero reserved for the secret itself.
func sharePoint(id uint8) *big.Int {
	return big.NewInt(int64(id) + 1)
}

// lagrangeAt computes party i's Lagrange basis coefficient over the quorum
// ids, evaluated at the point at.
func lagrangeAt(ids []uint8, i uint8, at *big.Int) (*big.Int, error) {
	num := big.NewInt(1)
	den := big.NewInt(1)
	xi := sharePoint(i)
	for _, j := range ids {
		if j == i {
			continue
		}
		xj := sharePoint(j)
		num = modMul(num, new(big.Int).Sub(at, xj))
		den = modMul(den, new(big.Int).Sub(xi, xj))
	}
	inv, err := modInv(den)
	if err != nil {
		return nil, errors.New("duplicate quorum member")
	}
	return modMul(num, inv), nil
}

// hash32 computes a domain-separated SHA-256 over length-prefixed parts.
func hash32(tag string, parts ...[]byte) [32]byte {
	h := sha256.New()
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(tag)))
	h.Write(n[:])
	h.Write([]byte(tag))
	for _, p := range parts {
		binary.BigEndian.PutUint32(n[:], uint32(len(p)))
		h.Write(n[:])
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func zeroScalar(v *big.Int) {
	if v != nil {
		v.SetInt64(0)
	}
}
