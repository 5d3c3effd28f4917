package core

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// KeySize is the key length every cipher here operates with.
const KeySize = 32

// ParseKey turns a base64 key string (standard alphabet, no padding) into
// a fixed-size key by hashing the decoded bytes with BLAKE2b-256. The
// input may be any length; the derived key is always KeySize bytes.
func ParseKey(s string) ([]byte, error) {
	// DecodeString strips \r and \n before decoding; a key is a single
	// base64 token, so embedded line breaks are malformed input.
	if strings.ContainsAny(s, "\r\n") {
		return nil, fmt.Errorf("parse key: illegal line break in key")
	}
	raw, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	sum := blake2b.Sum256(raw)
	return sum[:], nil
}

// RandomKey returns a fresh KeySize-byte key from crypto/rand.
func RandomKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
