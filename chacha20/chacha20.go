// Package chacha20 implements the ChaCha20 stream cipher as specified in
// RFC 8439, along with the XChaCha20 variant using an extended 24-byte nonce.
//
// The package provides the raw block function and a stateful keystream
// cursor (Cipher) that applies keystream to buffers of any size, in any
// number of calls, independent of block boundaries.
package chacha20

import (
	"encoding/binary"
	"math/bits"
	"strconv"
)

const (
	// KeySize is the size of a ChaCha20 key in bytes.
	KeySize = 32
	// NonceSize is the size of an IETF ChaCha20 nonce in bytes.
	NonceSize = 12
	// NonceSizeX is the size of an XChaCha20 nonce in bytes.
	NonceSizeX = 24
	// BlockSize is the size of one keystream block in bytes.
	BlockSize = 64
)

// The four "expand 32-byte k" constant words.
const (
	sigma0 = 0x61707865
	sigma1 = 0x3320646e
	sigma2 = 0x79622d32
	sigma3 = 0x6b206574
)

// KeySizeError means the key is not exactly KeySize bytes.
type KeySizeError int

func (e KeySizeError) Error() string {
	return "chacha20: bad key length " + strconv.Itoa(int(e)) + ", want " + strconv.Itoa(KeySize)
}

// NonceSizeError means the nonce is neither NonceSize nor NonceSizeX bytes.
type NonceSizeError int

func (e NonceSizeError) Error() string {
	return "chacha20: bad nonce length " + strconv.Itoa(int(e)) +
		", want " + strconv.Itoa(NonceSize) + " or " + strconv.Itoa(NonceSizeX)
}

// Cipher is a keystream cursor over a single (key, nonce) pair. It tracks
// the block counter and the intra-block offset, so successive calls to
// XORKeyStream on buffers of any size produce the same bytes as a single
// call on their concatenation.
//
// The counter starts at block 1. Block 0 of the keystream is reserved for
// deriving the Poly1305 one-time key (see OneTimeKey) and is never used to
// encrypt data.
//
// A Cipher must not be used for more than one message: reusing a
// (key, nonce) pair across messages voids all confidentiality guarantees.
type Cipher struct {
	key   [8]uint32
	nonce [3]uint32

	counter  uint32 // index of the next block to generate
	overflow bool   // counter wrapped; generating another block is fatal

	block [BlockSize]byte // keystream of the current block
	used  int             // bytes of block already consumed
}

// NewCipher returns a keystream cursor for the given 32-byte key and
// 12-byte (IETF) or 24-byte (XChaCha20) nonce. A 24-byte nonce is folded
// through HChaCha20 into a derived subkey and a 12-byte nonce first.
func NewCipher(key, nonce []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, KeySizeError(len(key))
	}
	switch len(nonce) {
	case NonceSize:
	case NonceSizeX:
		subkey, err := HChaCha20(key, nonce[:16])
		if err != nil {
			return nil, err
		}
		folded := make([]byte, NonceSize)
		copy(folded[4:], nonce[16:])
		key, nonce = subkey, folded
	default:
		return nil, NonceSizeError(len(nonce))
	}

	c := &Cipher{counter: 1, used: BlockSize}
	for i := range c.key {
		c.key[i] = binary.LittleEndian.Uint32(key[4*i:])
	}
	for i := range c.nonce {
		c.nonce[i] = binary.LittleEndian.Uint32(nonce[4*i:])
	}
	return c, nil
}

// XORKeyStream XORs src with the next len(src) bytes of keystream and
// writes the result to dst. Dst must be at least as long as src; dst and
// src may be the same slice. It panics if the keystream is exhausted
// (2^32-1 blocks, about 256 GiB per nonce).
func (c *Cipher) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("chacha20: output smaller than input")
	}
	for len(src) > 0 {
		if c.used == BlockSize {
			c.nextBlock()
		}
		ks := c.block[c.used:]
		n := len(src)
		if n > len(ks) {
			n = len(ks)
		}
		for i := 0; i < n; i++ {
			dst[i] = src[i] ^ ks[i]
		}
		c.used += n
		dst, src = dst[n:], src[n:]
	}
}

// OneTimeKey returns the first 32 bytes of keystream block 0 for the
// cipher's effective key and nonce, which keys the Poly1305 authenticator
// in the standard ChaCha20-Poly1305 construction. For XChaCha20 the
// derived subkey and folded nonce are used. The cursor position is not
// affected.
func (c *Cipher) OneTimeKey() (key [32]byte) {
	var block [BlockSize]byte
	core(&block, &c.key, &c.nonce, 0)
	copy(key[:], block[:32])
	return key
}

func (c *Cipher) nextBlock() {
	if c.overflow {
		panic("chacha20: keystream exhausted")
	}
	core(&c.block, &c.key, &c.nonce, c.counter)
	c.counter++
	if c.counter == 0 {
		c.overflow = true
	}
	c.used = 0
}

// Block computes keystream block dst for the given key, nonce and block
// counter. It is the pure ChaCha20 block function: the same inputs always
// produce the same 64 bytes.
func Block(dst *[BlockSize]byte, key *[KeySize]byte, nonce *[NonceSize]byte, counter uint32) {
	var k [8]uint32
	var n [3]uint32
	for i := range k {
		k[i] = binary.LittleEndian.Uint32(key[4*i:])
	}
	for i := range n {
		n[i] = binary.LittleEndian.Uint32(nonce[4*i:])
	}
	core(dst, &k, &n, counter)
}

func core(dst *[BlockSize]byte, key *[8]uint32, nonce *[3]uint32, counter uint32) {
	x0, x1, x2, x3 := uint32(sigma0), uint32(sigma1), uint32(sigma2), uint32(sigma3)
	x4, x5, x6, x7 := key[0], key[1], key[2], key[3]
	x8, x9, x10, x11 := key[4], key[5], key[6], key[7]
	x12 := counter
	x13, x14, x15 := nonce[0], nonce[1], nonce[2]

	for i := 0; i < 10; i++ {
		// column round
		x0, x4, x8, x12 = quarterRound(x0, x4, x8, x12)
		x1, x5, x9, x13 = quarterRound(x1, x5, x9, x13)
		x2, x6, x10, x14 = quarterRound(x2, x6, x10, x14)
		x3, x7, x11, x15 = quarterRound(x3, x7, x11, x15)
		// diagonal round
		x0, x5, x10, x15 = quarterRound(x0, x5, x10, x15)
		x1, x6, x11, x12 = quarterRound(x1, x6, x11, x12)
		x2, x7, x8, x13 = quarterRound(x2, x7, x8, x13)
		x3, x4, x9, x14 = quarterRound(x3, x4, x9, x14)
	}

	binary.LittleEndian.PutUint32(dst[0:], x0+sigma0)
	binary.LittleEndian.PutUint32(dst[4:], x1+sigma1)
	binary.LittleEndian.PutUint32(dst[8:], x2+sigma2)
	binary.LittleEndian.PutUint32(dst[12:], x3+sigma3)
	binary.LittleEndian.PutUint32(dst[16:], x4+key[0])
	binary.LittleEndian.PutUint32(dst[20:], x5+key[1])
	binary.LittleEndian.PutUint32(dst[24:], x6+key[2])
	binary.LittleEndian.PutUint32(dst[28:], x7+key[3])
	binary.LittleEndian.PutUint32(dst[32:], x8+key[4])
	binary.LittleEndian.PutUint32(dst[36:], x9+key[5])
	binary.LittleEndian.PutUint32(dst[40:], x10+key[6])
	binary.LittleEndian.PutUint32(dst[44:], x11+key[7])
	binary.LittleEndian.PutUint32(dst[48:], x12+counter)
	binary.LittleEndian.PutUint32(dst[52:], x13+nonce[0])
	binary.LittleEndian.PutUint32(dst[56:], x14+nonce[1])
	binary.LittleEndian.PutUint32(dst[60:], x15+nonce[2])
}

func quarterRound(a, b, c, d uint32) (uint32, uint32, uint32, uint32) {
	a += b
	d ^= a
	d = bits.RotateLeft32(d, 16)
	c += d
	b ^= c
	b = bits.RotateLeft32(b, 12)
	a += b
	d ^= a
	d = bits.RotateLeft32(d, 8)
	c += d
	b ^= c
	b = bits.RotateLeft32(b, 7)
	return a, b, c, d
}
