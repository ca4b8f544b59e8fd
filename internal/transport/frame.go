// Package transport implements the framed, authenticated-encrypted
// message channel overlay sessions are built on (spec.md §4.1).
package transport

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// ProtocolVersion is the fixed version byte carried in every frame's
	// header. Frames with any other version terminate the session.
	ProtocolVersion = 1

	nonceSize = 12 // 96 bits, per spec.md §4.1
	tagSize   = chacha20poly1305.Overhead
	maxLenLen = 4
)

// Errors, matching spec.md §7's "Framing"/"Crypto" error kinds.
var (
	ErrWrongVersion  = errors.New("transport: frame version mismatch")
	ErrPayloadTooBig = errors.New("transport: payload exceeds maximum frame size")
	ErrAuthFailed    = errors.New("transport: authenticated decryption failed")
	ErrShortRead     = errors.New("transport: short read")
)

// Key is the 32-byte NetworkKey frames are AEAD-sealed under.
type Key [32]byte

// encodeHeader writes the version|lenlen byte and the length field for a
// ciphertext of length n, returning lenlen actually used.
func encodeHeader(n int) (versionLenLen byte, lenBytes []byte, err error) {
	lenlen := minLenLen(n)
	if lenlen > maxLenLen {
		return 0, nil, ErrPayloadTooBig
	}
	vll := byte(ProtocolVersion<<2) | byte(lenlen-1)
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(n))
	return vll, buf[:lenlen], nil
}

func minLenLen(n int) int {
	switch {
	case n < 1<<8:
		return 1
	case n < 1<<16:
		return 2
	case n < 1<<24:
		return 3
	case uint64(n) < 1<<32:
		return 4
	default:
		return maxLenLen + 1 // does not fit the 4-byte length field
	}
}

// WriteFrame seals payload under key with a freshly sampled nonce and
// writes one complete frame to w.
func WriteFrame(w io.Writer, key Key, payload []byte) error {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return fmt.Errorf("transport: init aead: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("transport: sample nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce[:], payload, nil)
	vll, lenBytes, err := encodeHeader(len(sealed))
	if err != nil {
		return err
	}

	frame := make([]byte, 0, nonceSize+1+len(lenBytes)+len(sealed))
	frame = append(frame, nonce[:]...)
	frame = append(frame, vll)
	frame = append(frame, lenBytes...)
	frame = append(frame, sealed...)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("transport: write frame: %w", err)
	}
	return nil
}

// ReadFrame reads and decrypts exactly one frame from r.
func ReadFrame(r io.Reader, key Key) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(r, nonce[:]); err != nil {
		return nil, wrapReadErr(err)
	}

	var header [1]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, wrapReadErr(err)
	}
	version := header[0] >> 2
	lenlen := int(header[0]&0x3) + 1
	if version != ProtocolVersion {
		return nil, ErrWrongVersion
	}

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf[:lenlen]); err != nil {
		return nil, wrapReadErr(err)
	}
	length := binary.LittleEndian.Uint32(lenBuf)
	if length < tagSize {
		return nil, ErrAuthFailed
	}

	ciphertext := make([]byte, length)
	if _, err := io.ReadFull(r, ciphertext); err != nil {
		return nil, wrapReadErr(err)
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("transport: init aead: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func wrapReadErr(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	return fmt.Errorf("transport: read frame: %w", err)
}
