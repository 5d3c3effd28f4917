/*
Package cipherstream wraps byte streams with ChaCha20 encryption and
optional Poly1305 authentication of the ciphertext.

Each direction of a stream carries, in order: a cleartext nonce preamble
(12 bytes, or 24 for the XChaCha20 variants), the ciphertext (one byte per
plaintext byte), and, when hashing is enabled, a trailing 16-byte Poly1305
tag computed over the ciphertext bytes only.

The tag binds neither the nonce nor any associated data: this is not an
AEAD construction. Callers that need AEAD guarantees must add their own
framing on top.

The cursor types (EncryptCursor, DecryptCursor) transform buffers in place
and carry all position state themselves, so input may be chunked
arbitrarily. The Writer and Reader adapters, and the NewConn connection
wrapper, drive the cursors against an underlying transport.
*/
package cipherstream
