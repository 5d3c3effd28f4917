package chacha20

import (
	"encoding/binary"
	"errors"
)

// HChaCha20 derives a 32-byte subkey from a 32-byte key and a 16-byte
// nonce. It runs the ChaCha20 rounds over the usual initial state but
// skips the final feed-forward addition, returning the first and last rows
// of the mixed state. XChaCha20 uses it to fold the first 16 bytes of a
// 24-byte nonce into the key.
func HChaCha20(key, nonce []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, KeySizeError(len(key))
	}
	if len(nonce) != 16 {
		return nil, errors.New("chacha20: HChaCha20 nonce must be 16 bytes")
	}

	x0, x1, x2, x3 := uint32(sigma0), uint32(sigma1), uint32(sigma2), uint32(sigma3)
	x4 := binary.LittleEndian.Uint32(key[0:])
	x5 := binary.LittleEndian.Uint32(key[4:])
	x6 := binary.LittleEndian.Uint32(key[8:])
	x7 := binary.LittleEndian.Uint32(key[12:])
	x8 := binary.LittleEndian.Uint32(key[16:])
	x9 := binary.LittleEndian.Uint32(key[20:])
	x10 := binary.LittleEndian.Uint32(key[24:])
	x11 := binary.LittleEndian.Uint32(key[28:])
	x12 := binary.LittleEndian.Uint32(nonce[0:])
	x13 := binary.LittleEndian.Uint32(nonce[4:])
	x14 := binary.LittleEndian.Uint32(nonce[8:])
	x15 := binary.LittleEndian.Uint32(nonce[12:])

	for i := 0; i < 10; i++ {
		x0, x4, x8, x12 = quarterRound(x0, x4, x8, x12)
		x1, x5, x9, x13 = quarterRound(x1, x5, x9, x13)
		x2, x6, x10, x14 = quarterRound(x2, x6, x10, x14)
		x3, x7, x11, x15 = quarterRound(x3, x7, x11, x15)
		x0, x5, x10, x15 = quarterRound(x0, x5, x10, x15)
		x1, x6, x11, x12 = quarterRound(x1, x6, x11, x12)
		x2, x7, x8, x13 = quarterRound(x2, x7, x8, x13)
		x3, x4, x9, x14 = quarterRound(x3, x4, x9, x14)
	}

	out := make([]byte, KeySize)
	binary.LittleEndian.PutUint32(out[0:], x0)
	binary.LittleEndian.PutUint32(out[4:], x1)
	binary.LittleEndian.PutUint32(out[8:], x2)
	binary.LittleEndian.PutUint32(out[12:], x3)
	binary.LittleEndian.PutUint32(out[16:], x12)
	binary.LittleEndian.PutUint32(out[20:], x13)
	binary.LittleEndian.PutUint32(out[24:], x14)
	binary.LittleEndian.PutUint32(out[28:], x15)
	return out, nil
}
