package cipherstream_test

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	refchacha "golang.org/x/crypto/chacha20"

	"github.com/noctem/go-chachastream/chacha20"
	"github.com/noctem/go-chachastream/cipherstream"
	"github.com/noctem/go-chachastream/poly1305"
)

func randBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// encryptWhole runs plaintext through an EncryptCursor in one pass and
// returns the full wire image: nonce (if configured), ciphertext, tag (if
// configured).
func encryptWhole(t *testing.T, key, nonce, plaintext []byte, cfg cipherstream.Config) []byte {
	t.Helper()
	enc, err := cipherstream.NewEncryptCursor(key, nonce, cfg)
	require.NoError(t, err)

	out := make([]byte, len(nonce)+len(plaintext)+poly1305.TagSize)
	read, written := enc.Encrypt(out, plaintext)
	require.Equal(t, len(plaintext), read)
	out = out[:written]
	if cfg.Hash {
		tag := enc.Finalize()
		out = append(out, tag[:]...)
	}
	return out
}

// decryptChunks feeds wire to a DecryptCursor in the given chunk sizes
// (cycled) and returns the concatenation of released plaintext and the
// Finalize error.
func decryptChunks(t *testing.T, key, wire []byte, cfg cipherstream.Config, nonceSize, step int) ([]byte, error) {
	t.Helper()
	var dec *cipherstream.DecryptCursor
	var err error
	if nonceSize == chacha20.NonceSizeX {
		dec, err = cipherstream.NewDecryptCursorX(key, cfg)
	} else {
		dec, err = cipherstream.NewDecryptCursor(key, cfg)
	}
	require.NoError(t, err)

	got := []byte{}
	for off := 0; off < len(wire); off += step {
		end := off + step
		if end > len(wire) {
			end = len(wire)
		}
		chunk := append([]byte(nil), wire[off:end]...)
		res := dec.Decrypt(chunk)
		if res.AwaitingNonce {
			continue
		}
		got = append(got, chunk[res.Start:res.End]...)
	}
	return got, dec.Finalize()
}

func TestCursorRoundTrip(t *testing.T) {
	for _, hash := range []bool{false, true} {
		for _, nonceSize := range []int{chacha20.NonceSize, chacha20.NonceSizeX} {
			for _, ptLen := range []int{0, 1, 13, 64, 65, 1000} {
				for _, step := range []int{1, 2, 7, 16, 64, 1 << 16} {
					name := fmt.Sprintf("hash=%v/nonce=%d/len=%d/step=%d", hash, nonceSize, ptLen, step)
					t.Run(name, func(t *testing.T) {
						cfg := cipherstream.Config{WriteNonce: true, Hash: hash}
						key := randBytes(t, chacha20.KeySize)
						nonce := randBytes(t, nonceSize)
						plaintext := randBytes(t, ptLen)

						wire := encryptWhole(t, key, nonce, plaintext, cfg)
						got, err := decryptChunks(t, key, wire, cfg, nonceSize, step)
						require.NoError(t, err)
						require.Equal(t, plaintext, got)
					})
				}
			}
		}
	}
}

// Encrypting through a tiny output buffer must produce the same wire
// bytes as a single large-buffer call: the cursor, not the chunking,
// carries the position.
func TestEncryptCursorSmallDst(t *testing.T) {
	cfg := cipherstream.Config{WriteNonce: true, Hash: true}
	key := randBytes(t, chacha20.KeySize)
	nonce := randBytes(t, chacha20.NonceSize)
	plaintext := randBytes(t, 301)

	want := encryptWhole(t, key, nonce, plaintext, cfg)

	enc, err := cipherstream.NewEncryptCursor(key, nonce, cfg)
	require.NoError(t, err)
	var got []byte
	dst := make([]byte, 3)
	src := plaintext
	for len(src) > 0 || len(got) < chacha20.NonceSize {
		read, written := enc.Encrypt(dst, src)
		got = append(got, dst[:written]...)
		src = src[read:]
	}
	tag := enc.Finalize()
	got = append(got, tag[:]...)

	require.Equal(t, want, got)
}

// The ciphertext on the wire must match the reference ChaCha20 keystream
// applied from block 1.
func TestCiphertextMatchesReference(t *testing.T) {
	key := make([]byte, chacha20.KeySize) // all zeros
	nonce := make([]byte, chacha20.NonceSize)
	plaintext := []byte("Hello, world!")

	wire := encryptWhole(t, key, nonce, plaintext, cipherstream.Config{WriteNonce: true})
	require.Len(t, wire, chacha20.NonceSize+len(plaintext))
	require.Equal(t, nonce, wire[:chacha20.NonceSize])

	ref, err := refchacha.NewUnauthenticatedCipher(key, nonce)
	require.NoError(t, err)
	ref.SetCounter(1)
	want := make([]byte, len(plaintext))
	ref.XORKeyStream(want, plaintext)
	require.Equal(t, want, wire[chacha20.NonceSize:])
}

// Splitting the nonce preamble across every possible number of deliveries
// must not change the decrypted output.
func TestNoncePreambleSplits(t *testing.T) {
	cfg := cipherstream.Config{WriteNonce: true, Hash: true}
	key := randBytes(t, chacha20.KeySize)
	nonce := randBytes(t, chacha20.NonceSize)
	plaintext := []byte("split me any way you like")

	wire := encryptWhole(t, key, nonce, plaintext, cfg)

	for cut := 1; cut <= chacha20.NonceSize; cut++ {
		t.Run(fmt.Sprintf("cut=%d", cut), func(t *testing.T) {
			dec, err := cipherstream.NewDecryptCursor(key, cfg)
			require.NoError(t, err)

			var got []byte
			feed := func(b []byte) {
				chunk := append([]byte(nil), b...)
				res := dec.Decrypt(chunk)
				if !res.AwaitingNonce {
					got = append(got, chunk[res.Start:res.End]...)
				}
			}
			feed(wire[:cut])
			feed(wire[cut:])
			require.NoError(t, dec.Finalize())
			require.Equal(t, plaintext, got)
		})
	}
}

// Flipping any single bit of the tag must fail verification, and the
// withheld trailing bytes must never have been released as plaintext.
func TestTagTamper(t *testing.T) {
	cfg := cipherstream.Config{WriteNonce: true, Hash: true}
	key := randBytes(t, chacha20.KeySize)
	nonce := randBytes(t, chacha20.NonceSize)
	plaintext := randBytes(t, 100)

	wire := encryptWhole(t, key, nonce, plaintext, cfg)

	for i := len(wire) - poly1305.TagSize; i < len(wire); i++ {
		for bit := 0; bit < 8; bit++ {
			tampered := append([]byte(nil), wire...)
			tampered[i] ^= 1 << bit

			got, err := decryptChunks(t, key, tampered, cfg, chacha20.NonceSize, 17)
			require.ErrorIs(t, err, cipherstream.ErrAuthFailed)
			// Everything released before the tamper was judged must still
			// be honest plaintext, and nothing past it leaks.
			require.True(t, bytes.HasPrefix(plaintext, got))
		}
	}
}

func TestCiphertextTamper(t *testing.T) {
	cfg := cipherstream.Config{WriteNonce: true, Hash: true}
	key := randBytes(t, chacha20.KeySize)
	nonce := randBytes(t, chacha20.NonceSize)
	plaintext := randBytes(t, 64)

	wire := encryptWhole(t, key, nonce, plaintext, cfg)
	wire[chacha20.NonceSize+10] ^= 0x80

	_, err := decryptChunks(t, key, wire, cfg, chacha20.NonceSize, 5)
	require.ErrorIs(t, err, cipherstream.ErrAuthFailed)
}

func TestTruncatedStreams(t *testing.T) {
	cfg := cipherstream.Config{WriteNonce: true, Hash: true}
	key := randBytes(t, chacha20.KeySize)
	nonce := randBytes(t, chacha20.NonceSize)
	plaintext := randBytes(t, 40)

	wire := encryptWhole(t, key, nonce, plaintext, cfg)

	t.Run("mid nonce", func(t *testing.T) {
		_, err := decryptChunks(t, key, wire[:5], cfg, chacha20.NonceSize, 1)
		require.ErrorIs(t, err, cipherstream.ErrTruncatedNonce)
	})

	t.Run("mid tag", func(t *testing.T) {
		_, err := decryptChunks(t, key, wire[:len(wire)-7], cfg, chacha20.NonceSize, 9)
		require.ErrorIs(t, err, cipherstream.ErrAuthFailed)
	})

	t.Run("no data at all after nonce", func(t *testing.T) {
		// A tagged stream must at minimum carry a full tag.
		_, err := decryptChunks(t, key, wire[:chacha20.NonceSize], cfg, chacha20.NonceSize, 4)
		require.ErrorIs(t, err, cipherstream.ErrAuthFailed)
	})
}

func TestCursorMisuse(t *testing.T) {
	cfg := cipherstream.Config{WriteNonce: true, Hash: true}
	key := randBytes(t, chacha20.KeySize)
	nonce := randBytes(t, chacha20.NonceSize)

	enc, err := cipherstream.NewEncryptCursor(key, nonce, cfg)
	require.NoError(t, err)
	buf := make([]byte, 64)
	enc.Encrypt(buf, []byte("data"))
	enc.Finalize()
	require.Panics(t, func() { enc.Encrypt(buf, []byte("more")) })
	require.Panics(t, func() { enc.Finalize() })

	plain, err := cipherstream.NewEncryptCursor(key, nonce, cipherstream.Config{})
	require.NoError(t, err)
	require.Panics(t, func() { plain.Finalize() })

	dec, err := cipherstream.NewDecryptCursor(key, cfg)
	require.NoError(t, err)
	require.Error(t, dec.Finalize())
	require.Panics(t, func() { dec.Finalize() })
	require.Panics(t, func() { dec.Decrypt(buf) })
}

func TestCursorBadKey(t *testing.T) {
	_, err := cipherstream.NewEncryptCursor(make([]byte, 16), make([]byte, chacha20.NonceSize), cipherstream.Config{})
	var kerr chacha20.KeySizeError
	require.ErrorAs(t, err, &kerr)

	_, err = cipherstream.NewDecryptCursor(make([]byte, 31), cipherstream.Config{})
	require.ErrorAs(t, err, &kerr)
}
