package cipherstream

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"net"

	"github.com/noctem/go-chachastream/chacha20"
)

const bufSize = 32 * 1024

var errWriterClosed = errors.New("cipherstream: write on closed Writer")

// Writer encrypts everything written to it and forwards the result to the
// underlying writer. On the first write it draws a fresh random nonce and,
// if configured, emits it as a cleartext preamble. Close finalizes the
// message, emitting the Poly1305 tag when hashing is enabled; it does not
// close the underlying writer.
type Writer struct {
	w         io.Writer
	key       []byte
	cfg       Config
	nonceSize int

	enc    *EncryptCursor
	buf    []byte
	closed bool
}

// NewWriter wraps w with ChaCha20 encryption under the given 32-byte key.
func NewWriter(w io.Writer, key []byte, cfg Config) (*Writer, error) {
	return newWriter(w, key, cfg, chacha20.NonceSize)
}

// NewWriterX is NewWriter with a 24-byte XChaCha20 nonce.
func NewWriterX(w io.Writer, key []byte, cfg Config) (*Writer, error) {
	return newWriter(w, key, cfg, chacha20.NonceSizeX)
}

func newWriter(w io.Writer, key []byte, cfg Config, nonceSize int) (*Writer, error) {
	if len(key) != chacha20.KeySize {
		return nil, chacha20.KeySizeError(len(key))
	}
	return &Writer{
		w:         w,
		key:       append([]byte(nil), key...),
		cfg:       cfg,
		nonceSize: nonceSize,
	}, nil
}

func (w *Writer) init() error {
	w.buf = make([]byte, bufSize)
	nonce := make([]byte, w.nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	// The cursor never re-emits the nonce; the preamble is written here,
	// once. w.enc is set only after the preamble write succeeds, so a
	// failed first write leaves the Writer uninitialized and a retry
	// draws a fresh nonce instead of emitting preamble-less ciphertext.
	enc, err := NewEncryptCursor(w.key, nonce, Config{Hash: w.cfg.Hash})
	if err != nil {
		return err
	}
	if w.cfg.WriteNonce {
		if _, err := w.w.Write(nonce); err != nil {
			return err
		}
	}
	w.enc = enc
	return nil
}

// ReadFrom reads from r until EOF or error, encrypts and forwards to the
// underlying writer. Returns the number of bytes read from r.
func (w *Writer) ReadFrom(r io.Reader) (n int64, err error) {
	if w.closed {
		return 0, errWriterClosed
	}
	if w.enc == nil {
		if err := w.init(); err != nil {
			return 0, err
		}
	}

	for {
		buf := w.buf
		nr, er := r.Read(buf)
		if nr > 0 {
			n += int64(nr)
			buf = buf[:nr]
			w.enc.Encrypt(buf, buf)
			if _, ew := w.w.Write(buf); ew != nil {
				err = ew
				return
			}
		}

		if er != nil {
			if er != io.EOF { // ignore EOF as per io.ReaderFrom contract
				err = er
			}
			return
		}
	}
}

// Write encrypts b and writes it to the underlying writer. The nonce
// preamble precedes the first ciphertext byte.
func (w *Writer) Write(b []byte) (int, error) {
	n, err := w.ReadFrom(bytes.NewBuffer(b))
	return int(n), err
}

// Close finalizes the stream. When hashing is enabled it emits the tag as
// the final bytes; if nothing was ever written it still emits the nonce
// preamble first, so the wire always carries a complete message. Close is
// idempotent and does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.enc == nil {
		if err := w.init(); err != nil {
			return err
		}
	}
	if w.cfg.Hash {
		tag := w.enc.Finalize()
		if _, err := w.w.Write(tag[:]); err != nil {
			return err
		}
	}
	return nil
}

// Reader decrypts everything read from the underlying reader. It first
// consumes the nonce preamble, however the transport chooses to chunk it,
// then releases plaintext as it arrives. With hashing enabled the newest
// 16 bytes are withheld until EOF, at which point the tag is verified; a
// mismatch or a short tag surfaces as ErrAuthFailed, never as a plain
// end-of-stream.
//
// A stream that ends before delivering a single byte is reported as plain
// io.EOF: a zero-byte stream is indistinguishable from one that was never
// opened. ErrTruncatedNonce begins with the first partial nonce byte.
type Reader struct {
	r   io.Reader
	dec *DecryptCursor

	buf      []byte // lazily allocated, only for WriteTo
	consumed bool   // any raw bytes seen from the transport
	err      error  // sticky result, including io.EOF
}

// NewReader wraps r with ChaCha20 decryption under the given 32-byte key.
func NewReader(r io.Reader, key []byte, cfg Config) (*Reader, error) {
	dec, err := NewDecryptCursor(key, cfg)
	if err != nil {
		return nil, err
	}
	return &Reader{r: r, dec: dec}, nil
}

// NewReaderX is NewReader expecting a 24-byte XChaCha20 nonce preamble.
func NewReaderX(r io.Reader, key []byte, cfg Config) (*Reader, error) {
	dec, err := NewDecryptCursorX(key, cfg)
	if err != nil {
		return nil, err
	}
	return &Reader{r: r, dec: dec}, nil
}

// Read reads from the underlying reader, decrypts in place and returns
// released plaintext. It loops over underlying reads while the cursor has
// nothing to release yet (nonce assembly, tag withholding), so a
// successful return always carries at least one byte.
func (r *Reader) Read(b []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if len(b) == 0 {
		return 0, nil
	}
	for {
		n, er := r.r.Read(b)
		if n > 0 {
			r.consumed = true
			res := r.dec.Decrypt(b[:n])
			if released := res.End - res.Start; released > 0 {
				if res.Start > 0 {
					copy(b, b[res.Start:res.End])
				}
				return released, nil
			}
		}
		if er != nil {
			if er == io.EOF {
				er = r.eof()
			}
			r.err = er
			return 0, er
		}
	}
}

// eof maps end-of-input to its terminal meaning: a stream that never
// carried a byte is an ordinary EOF, anything else is judged by the
// cursor (truncated nonce, tag verification).
func (r *Reader) eof() error {
	if !r.consumed {
		return io.EOF
	}
	if err := r.dec.Finalize(); err != nil {
		return err
	}
	return io.EOF
}

// WriteTo decrypts from the embedded reader and writes to w until EOF or
// error. Returns the number of plaintext bytes written.
func (r *Reader) WriteTo(w io.Writer) (n int64, err error) {
	if r.buf == nil {
		r.buf = make([]byte, bufSize)
	}
	for {
		nr, er := r.Read(r.buf)
		if nr > 0 {
			nw, ew := w.Write(r.buf[:nr])
			n += int64(nw)

			if ew != nil {
				err = ew
				return
			}
		}

		if er != nil {
			if er != io.EOF { // ignore EOF as per io.Copy contract (using src.WriteTo shortcut)
				err = er
			}
			return
		}
	}
}

type conn struct {
	net.Conn
	r *Reader
	w *Writer
}

// NewConn wraps a stream-oriented net.Conn with encryption in both
// directions. The two directions share key bytes but draw independent
// nonces and keep fully independent cipher state.
func NewConn(c net.Conn, key []byte, cfg Config) (net.Conn, error) {
	r, err := NewReader(c, key, cfg)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(c, key, cfg)
	if err != nil {
		return nil, err
	}
	return &conn{Conn: c, r: r, w: w}, nil
}

// NewConnX is NewConn with 24-byte XChaCha20 nonces.
func NewConnX(c net.Conn, key []byte, cfg Config) (net.Conn, error) {
	r, err := NewReaderX(c, key, cfg)
	if err != nil {
		return nil, err
	}
	w, err := NewWriterX(c, key, cfg)
	if err != nil {
		return nil, err
	}
	return &conn{Conn: c, r: r, w: w}, nil
}

func (c *conn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

func (c *conn) WriteTo(w io.Writer) (int64, error) {
	return c.r.WriteTo(w)
}

func (c *conn) Write(b []byte) (int, error) {
	return c.w.Write(b)
}

func (c *conn) ReadFrom(r io.Reader) (int64, error) {
	return c.w.ReadFrom(r)
}

// Close finalizes the write direction (emitting the tag when hashing is
// enabled) before closing the underlying connection.
func (c *conn) Close() error {
	err := c.w.Close()
	if cerr := c.Conn.Close(); err == nil {
		err = cerr
	}
	return err
}

type closeWriter interface {
	CloseWrite() error
}

type closeReader interface {
	CloseRead() error
}

func (c *conn) CloseRead() error {
	if cr, ok := c.Conn.(closeReader); ok {
		return cr.CloseRead()
	}
	return nil
}

func (c *conn) CloseWrite() error {
	if err := c.w.Close(); err != nil {
		return err
	}
	if cw, ok := c.Conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}
