package core

import (
	"errors"
	"net"
	"sort"
	"strings"

	"github.com/noctem/go-chachastream/chacha20"
	"github.com/noctem/go-chachastream/cipherstream"
)

// StreamConnCipher wraps a stream-oriented net.Conn with encryption.
type StreamConnCipher interface {
	StreamConn(net.Conn) net.Conn
}

// ErrCipherNotSupported occurs when a cipher is not supported.
var ErrCipherNotSupported = errors.New("cipher not supported")

// List of stream ciphers: nonce size in bytes and constructor
var streamList = map[string]struct {
	NonceSize int
	New       func(net.Conn, []byte, cipherstream.Config) (net.Conn, error)
}{
	"CHACHA20-IETF": {chacha20.NonceSize, cipherstream.NewConn},
	"XCHACHA20":     {chacha20.NonceSizeX, cipherstream.NewConnX},
}

// ListCipher returns a list of available cipher names sorted alphabetically.
func ListCipher() []string {
	var l []string
	for k := range streamList {
		l = append(l, k)
	}
	sort.Strings(l)
	return l
}

// PickCipher returns a cipher of the given name operating under key and
// cfg. The key must be KeySize bytes; use ParseKey to derive one from a
// string.
func PickCipher(name string, key []byte, cfg cipherstream.Config) (StreamConnCipher, error) {
	name = strings.ToUpper(name)

	if name == "DUMMY" {
		return &dummy{}, nil
	}

	if choice, ok := streamList[name]; ok {
		if len(key) != KeySize {
			return nil, chacha20.KeySizeError(len(key))
		}
		return &streamCipher{
			key: append([]byte(nil), key...),
			cfg: cfg,
			new: choice.New,
		}, nil
	}

	return nil, ErrCipherNotSupported
}

type streamCipher struct {
	key []byte
	cfg cipherstream.Config
	new func(net.Conn, []byte, cipherstream.Config) (net.Conn, error)
}

func (ciph *streamCipher) StreamConn(c net.Conn) net.Conn {
	sc, err := ciph.new(c, ciph.key, ciph.cfg)
	if err != nil {
		panic(err) // key length was checked by PickCipher
	}
	return sc
}

// dummy cipher does not encrypt

type dummy struct{}

func (dummy) StreamConn(c net.Conn) net.Conn { return c }
