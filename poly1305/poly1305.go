// Package poly1305 implements the Poly1305 one-time message authentication
// code from RFC 8439.
//
// A Poly1305 key must only ever authenticate a single message; in the
// ChaCha20 construction it is derived from keystream block 0 of the same
// (key, nonce) pair used for encryption. The MAC accumulates input
// incrementally and is finalized exactly once: writing after Sum or Verify
// is a programming error and panics.
package poly1305

import (
	"crypto/subtle"
	"math/big"
)

// TagSize is the size of a Poly1305 authenticator in bytes.
const TagSize = 16

// p is the prime 2^130 - 5 over which the polynomial is evaluated.
var p = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 130), big.NewInt(5))

// MAC is an incremental Poly1305 accumulator. Input may be written in
// chunks of any size; the final tag depends only on the concatenation of
// all written bytes.
type MAC struct {
	r, s *big.Int
	acc  *big.Int

	buf    [TagSize]byte // partial input block
	bufLen int

	done bool
}

// New returns a MAC keyed with the 32-byte one-time key. The first half is
// the clamped evaluation point r, the second half the final addend s.
func New(key *[32]byte) *MAC {
	var r [TagSize]byte
	copy(r[:], key[:16])
	clamp(&r)
	return &MAC{
		r:   leSetBytes(r[:]),
		s:   leSetBytes(key[16:]),
		acc: new(big.Int),
	}
}

// Write absorbs b into the accumulator. It never returns an error. It
// panics if the MAC has already been finalized by Sum or Verify.
func (m *MAC) Write(b []byte) (int, error) {
	if m.done {
		panic("poly1305: write to MAC after Sum or Verify")
	}
	n := len(b)
	if m.bufLen > 0 {
		c := copy(m.buf[m.bufLen:], b)
		m.bufLen += c
		b = b[c:]
		if m.bufLen < TagSize {
			return n, nil
		}
		m.bufLen = 0
		m.absorb(m.buf[:])
	}
	for len(b) >= TagSize {
		m.absorb(b[:TagSize])
		b = b[TagSize:]
	}
	if len(b) > 0 {
		m.bufLen = copy(m.buf[:], b)
	}
	return n, nil
}

// Sum finalizes the accumulator and appends the 16-byte tag to b. The MAC
// is single-use: Sum or Verify may be called once, and only once.
func (m *MAC) Sum(b []byte) []byte {
	var tag [TagSize]byte
	m.finalize(&tag)
	return append(b, tag[:]...)
}

// Verify finalizes the accumulator and compares the resulting tag against
// expected in constant time.
func (m *MAC) Verify(expected []byte) bool {
	var tag [TagSize]byte
	m.finalize(&tag)
	return subtle.ConstantTimeCompare(tag[:], expected) == 1
}

// Size returns the number of bytes Sum will append.
func (m *MAC) Size() int { return TagSize }

func (m *MAC) finalize(tag *[TagSize]byte) {
	if m.done {
		panic("poly1305: MAC finalized twice")
	}
	m.done = true
	if m.bufLen > 0 {
		m.absorb(m.buf[:m.bufLen])
	}
	m.acc.Add(m.acc, m.s)
	// The tag is the low 128 bits of the accumulator, little-endian.
	be := m.acc.Bytes()
	for i := 0; i < TagSize && i < len(be); i++ {
		tag[i] = be[len(be)-1-i]
	}
}

// absorb folds one block (16 bytes, or fewer for the final block) into the
// accumulator: acc = (acc + le(block||0x01)) * r mod p.
func (m *MAC) absorb(block []byte) {
	var n [TagSize + 1]byte
	c := copy(n[:], block)
	n[c] = 0x01
	m.acc.Add(m.acc, leSetBytes(n[:c+1]))
	m.acc.Mul(m.acc, m.r)
	m.acc.Mod(m.acc, p)
}

// Sum generates the authenticator for m under the given one-time key and
// writes it to out.
func Sum(out *[TagSize]byte, m []byte, key *[32]byte) {
	mac := New(key)
	mac.Write(m)
	mac.finalize(out)
}

// Verify reports whether mac is a valid authenticator for m under the
// given one-time key. The comparison is constant-time.
func Verify(mac *[TagSize]byte, m []byte, key *[32]byte) bool {
	var tag [TagSize]byte
	Sum(&tag, m, key)
	return subtle.ConstantTimeCompare(tag[:], mac[:]) == 1
}

func clamp(r *[TagSize]byte) {
	r[3] &= 0x0f
	r[7] &= 0x0f
	r[11] &= 0x0f
	r[15] &= 0x0f
	r[4] &= 0xfc
	r[8] &= 0xfc
	r[12] &= 0xfc
}

// leSetBytes interprets b as a little-endian unsigned integer.
func leSetBytes(b []byte) *big.Int {
	rev := make([]byte, len(b))
	for i, v := range b {
		rev[len(b)-1-i] = v
	}
	return new(big.Int).SetBytes(rev)
}
