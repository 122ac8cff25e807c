package dkls

import (
	"strconv"
	"strings"
)

// hardenedOffset is the BIP-32 hardened child marker (bit 31).
const hardenedOffset uint32 = 0x80000000

// DerivationPath is a parsed hierarchical derivation path. Each element is a
// child index with the hardened bit folded in.
type DerivationPath []uint32

// ParseDerivationPath parses strings of the form "m", "m/0/1" or
// "m/44'/0/1". Indices must be below 2^31; a trailing ', h or H marks a
// hardened index. Anything else is ErrInvalidDerivationPath.
func ParseDerivationPath(s string) (DerivationPath, error) {
	parts := strings.Split(s, "/")
	if len(parts) == 0 || (parts[0] != "m" && parts[0] != "M") {
		return nil, ErrInvalidDerivationPath
	}
	path := make(DerivationPath, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := false
		if strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h") || strings.HasSuffix(part, "H") {
			hardened = true
			part = part[:len(part)-1]
		}
		if part == "" {
			return nil, ErrInvalidDerivationPath
		}
		v, err := strconv.ParseUint(part, 10, 32)
		if err != nil || uint32(v) >= hardenedOffset {
			return nil, ErrInvalidDerivationPath
		}
		idx := uint32(v)
		if hardened {
			idx |= hardenedOffset
		}
		path = append(path, idx)
	}
	return path, nil
}

// Hardened reports whether the i-th element carries the hardened marker.
func (p DerivationPath) Hardened(i int) bool { return p[i]&hardenedOffset != 0 }

func (p DerivationPath) String() string {
	var b strings.Builder
	b.WriteString("m")
	for _, idx := range p {
		b.WriteString("/")
		b.WriteString(strconv.FormatUint(uint64(idx&^hardenedOffset), 10))
		if idx&hardenedOffset != 0 {
			b.WriteString("'")
		}
	}
	return b.String()
}
