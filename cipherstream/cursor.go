package cipherstream

import (
	"errors"
	"fmt"

	"github.com/noctem/go-chachastream/chacha20"
	"github.com/noctem/go-chachastream/poly1305"
)

// ErrAuthFailed is returned when the Poly1305 tag does not match the
// received ciphertext, or when the stream ends before a complete tag was
// received. It is never conflated with ordinary end-of-stream.
var ErrAuthFailed = errors.New("cipherstream: message authentication failed")

// ErrTruncatedNonce is returned when the stream ends partway through the
// nonce preamble.
var ErrTruncatedNonce = errors.New("cipherstream: truncated nonce preamble")

// Config selects the optional parts of the wire format.
type Config struct {
	// WriteNonce makes the encrypting side emit its nonce as a cleartext
	// preamble ahead of any ciphertext. A decrypting side always expects
	// a nonce preamble; disable WriteNonce only when the nonce travels
	// out of band.
	WriteNonce bool

	// Hash appends a Poly1305 tag over the ciphertext at finalization and
	// verifies it on the decrypting side. The tag covers ciphertext bytes
	// only; see the package documentation.
	Hash bool
}

// EncryptCursor encrypts a message incrementally. It owns the keystream
// position and the running MAC, so plaintext may be fed in chunks of any
// size across any number of Encrypt calls.
type EncryptCursor struct {
	cipher   *chacha20.Cipher
	nonce    []byte // nonce[noncePos:] still has to be emitted
	noncePos int
	mac      *poly1305.MAC
	done     bool
}

// NewEncryptCursor returns a cursor for one message under the given
// 32-byte key and 12- or 24-byte nonce. The nonce must never be reused
// with the same key; the cursor cannot detect reuse.
func NewEncryptCursor(key, nonce []byte, cfg Config) (*EncryptCursor, error) {
	cipher, err := chacha20.NewCipher(key, nonce)
	if err != nil {
		return nil, err
	}
	c := &EncryptCursor{
		cipher: cipher,
		nonce:  append([]byte(nil), nonce...),
	}
	if !cfg.WriteNonce {
		c.noncePos = len(c.nonce)
	}
	if cfg.Hash {
		otk := cipher.OneTimeKey()
		c.mac = poly1305.New(&otk)
	}
	return c, nil
}

// Encrypt consumes as many bytes of src as fit in dst and writes the
// corresponding output: first any pending nonce preamble bytes, then
// ciphertext. It returns the number of bytes consumed from src and the
// number written to dst. Both counts may be short when dst is small; call
// again with the unconsumed remainder of src.
//
// Dst and src may be the same slice only when no nonce preamble is
// pending (WriteNonce disabled, or the preamble already emitted);
// otherwise they must not overlap.
func (c *EncryptCursor) Encrypt(dst, src []byte) (read, written int) {
	if c.done {
		panic("cipherstream: Encrypt after Finalize")
	}
	if c.noncePos < len(c.nonce) {
		n := copy(dst, c.nonce[c.noncePos:])
		c.noncePos += n
		written += n
		if c.noncePos < len(c.nonce) {
			return 0, written
		}
	}
	n := len(src)
	if room := len(dst) - written; n > room {
		n = room
	}
	out := dst[written : written+n]
	c.cipher.XORKeyStream(out, src[:n])
	if c.mac != nil {
		c.mac.Write(out)
	}
	return n, written + n
}

// Finalize completes the message and returns its Poly1305 tag. It must be
// called exactly once, after all plaintext has been encrypted, and only on
// cursors with hashing enabled.
func (c *EncryptCursor) Finalize() [poly1305.TagSize]byte {
	if c.mac == nil {
		panic("cipherstream: Finalize on cursor without hashing")
	}
	if c.done {
		panic("cipherstream: Finalize called twice")
	}
	c.done = true
	var tag [poly1305.TagSize]byte
	copy(tag[:], c.mac.Sum(nil))
	return tag
}

// DecryptResult reports the outcome of one Decrypt call.
type DecryptResult struct {
	// AwaitingNonce reports that the nonce preamble is still incomplete.
	// Every supplied byte was consumed into the preamble and no plaintext
	// was released.
	AwaitingNonce bool

	// Released plaintext occupies buf[Start:End] of the buffer passed to
	// Decrypt. With hashing enabled, End trails the supplied data by up
	// to a tag length: the newest 16 bytes are withheld until Finalize
	// can tell tag from ciphertext.
	Start, End int
}

// DecryptCursor decrypts one message incrementally, mirror to
// EncryptCursor. It assembles the nonce preamble across calls, then
// decrypts in place. With hashing enabled it withholds the trailing
// 16 bytes seen so far, releasing them only as newer bytes displace them,
// so that the final tag is never surrendered as plaintext.
type DecryptCursor struct {
	key  [chacha20.KeySize]byte
	hash bool

	nonce    []byte // preamble assembly buffer, fixed at nonce length
	noncePos int

	cipher *chacha20.Cipher // nil until the nonce is adopted
	mac    *poly1305.MAC

	trail    [poly1305.TagSize]byte // newest ciphertext bytes, possibly the tag
	trailLen int

	done bool
}

// NewDecryptCursor returns a cursor expecting a 12-byte nonce preamble.
func NewDecryptCursor(key []byte, cfg Config) (*DecryptCursor, error) {
	return newDecryptCursor(key, cfg, chacha20.NonceSize)
}

// NewDecryptCursorX returns a cursor expecting a 24-byte XChaCha20 nonce
// preamble.
func NewDecryptCursorX(key []byte, cfg Config) (*DecryptCursor, error) {
	return newDecryptCursor(key, cfg, chacha20.NonceSizeX)
}

func newDecryptCursor(key []byte, cfg Config, nonceSize int) (*DecryptCursor, error) {
	if len(key) != chacha20.KeySize {
		return nil, chacha20.KeySizeError(len(key))
	}
	c := &DecryptCursor{
		hash:  cfg.Hash,
		nonce: make([]byte, nonceSize),
	}
	copy(c.key[:], key)
	return c, nil
}

// Decrypt consumes buf in place. While the nonce preamble is incomplete it
// absorbs bytes into the preamble and reports AwaitingNonce. Once the
// nonce is adopted, the remaining bytes are decrypted and released
// according to the result's Start and End.
func (c *DecryptCursor) Decrypt(buf []byte) DecryptResult {
	if c.done {
		panic("cipherstream: Decrypt after Finalize")
	}
	pos := 0
	if c.cipher == nil {
		n := copy(c.nonce[c.noncePos:], buf)
		c.noncePos += n
		pos = n
		if c.noncePos < len(c.nonce) {
			return DecryptResult{AwaitingNonce: true}
		}
		c.adoptNonce()
	}
	if !c.hash {
		out := buf[pos:]
		c.cipher.XORKeyStream(out, out)
		return DecryptResult{Start: pos, End: len(buf)}
	}
	n := c.shiftTrail(buf[pos:])
	out := buf[pos : pos+n]
	c.mac.Write(out)
	c.cipher.XORKeyStream(out, out)
	return DecryptResult{Start: pos, End: pos + n}
}

// Finalize signals end of input. With hashing enabled it verifies the
// withheld trailing bytes against the accumulated MAC in constant time;
// any mismatch, or a stream too short to carry a full tag, is
// ErrAuthFailed. A stream that ended inside the nonce preamble is
// ErrTruncatedNonce. Finalize may be called once; the cursor is dead
// afterwards.
func (c *DecryptCursor) Finalize() error {
	if c.done {
		panic("cipherstream: Finalize called twice")
	}
	c.done = true
	if c.cipher == nil {
		return fmt.Errorf("%w: got %d of %d bytes", ErrTruncatedNonce, c.noncePos, len(c.nonce))
	}
	if !c.hash {
		return nil
	}
	if c.trailLen < poly1305.TagSize {
		return fmt.Errorf("%w: stream ended before a complete tag", ErrAuthFailed)
	}
	if !c.mac.Verify(c.trail[:]) {
		return ErrAuthFailed
	}
	return nil
}

func (c *DecryptCursor) adoptNonce() {
	cipher, err := chacha20.NewCipher(c.key[:], c.nonce)
	if err != nil {
		panic(err) // sizes are fixed by construction
	}
	c.cipher = cipher
	if c.hash {
		otk := cipher.OneTimeKey()
		c.mac = poly1305.New(&otk)
	}
}

// shiftTrail runs b through the fixed trailing window. On return, b[:n]
// holds the ciphertext bytes old enough to release; the newest bytes (up
// to a tag length) stay buffered in the window.
func (c *DecryptCursor) shiftTrail(b []byte) int {
	const keep = poly1305.TagSize
	t := c.trailLen
	total := t + len(b)
	if total <= keep {
		copy(c.trail[t:], b)
		c.trailLen = total
		return 0
	}
	n := total - keep
	if len(b) >= keep {
		// The new window comes entirely from the end of b. Slide the rest
		// of b right to make room for the old window bytes at the front.
		var next [keep]byte
		copy(next[:], b[len(b)-keep:])
		copy(b[t:n], b[:len(b)-keep])
		copy(b[:t], c.trail[:t])
		c.trail = next
		c.trailLen = keep
		return n
	}
	// b is shorter than the window: release only the oldest window bytes
	// and refill the window from what remains plus all of b.
	var next [keep]byte
	m := copy(next[:], c.trail[n:t])
	copy(next[m:], b)
	copy(b[:n], c.trail[:n])
	c.trail = next
	c.trailLen = keep
	return n
}
