// Package music implements the custom spherical-harmonic-encoded
// streaming audio container: header, seekable packet framing, and the
// channel-layout encode/decode math (spec.md §4.7).
package music

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// ContainerVersion is the only version this package writes or
	// accepts.
	ContainerVersion = 1

	// SampleRate is fixed for every container this package produces.
	SampleRate = 48000

	// RawBlockSize is the number of samples per channel in one raw
	// frame before encoding — a 40ms frame at 48kHz, a valid Opus frame
	// size.
	RawBlockSize = 1920

	// MaxSHOrder bounds sh_order; containers above it are rejected.
	MaxSHOrder = 6

	headerFixedSize = 1 + 1 + 4 // version + sh_order + total_samples
)

// Errors matching spec.md §7's "Audio" error kind.
var (
	ErrUnsupportedVersion = errors.New("music: unsupported container version")
	ErrUnsupportedOrder   = errors.New("music: sh_order exceeds maximum")
	ErrCorrupted          = errors.New("music: corrupted container")
	ErrEndOfStream        = errors.New("music: reached end of stream")
	ErrHarmonicTooLarge   = errors.New("music: encoded harmonic payload exceeds 255 bytes")
)

// NumHarmonics returns (order+1)^2, the intermediate channel count for a
// given spherical-harmonic order.
func NumHarmonics(order uint8) int {
	n := int(order) + 1
	return n * n
}

// Header is the fixed container header.
type Header struct {
	Version      uint8
	SHOrder      uint8
	TotalSamples uint32
	Scales       []float32 // length NumHarmonics(SHOrder)
}

// WriteHeader writes h to w.
func WriteHeader(w io.Writer, h Header) error {
	if h.Version != ContainerVersion {
		return ErrUnsupportedVersion
	}
	if h.SHOrder > MaxSHOrder {
		return ErrUnsupportedOrder
	}
	want := NumHarmonics(h.SHOrder)
	if len(h.Scales) != want {
		return fmt.Errorf("music: expected %d scale factors, got %d", want, len(h.Scales))
	}

	buf := make([]byte, headerFixedSize+4*want)
	buf[0] = h.Version
	buf[1] = h.SHOrder
	binary.LittleEndian.PutUint32(buf[2:6], h.TotalSamples)
	for i, scale := range h.Scales {
		off := headerFixedSize + 4*i
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(scale))
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("music: write header: %w", err)
	}
	return nil
}

// ReadHeader reads and validates the fixed header from r.
func ReadHeader(r io.Reader) (Header, error) {
	fixed := make([]byte, headerFixedSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return Header{}, fmt.Errorf("music: read header: %w", err)
	}
	h := Header{Version: fixed[0], SHOrder: fixed[1], TotalSamples: binary.LittleEndian.Uint32(fixed[2:6])}
	if h.Version != ContainerVersion {
		return Header{}, ErrUnsupportedVersion
	}
	if h.SHOrder > MaxSHOrder {
		return Header{}, ErrUnsupportedOrder
	}

	n := NumHarmonics(h.SHOrder)
	scaleBuf := make([]byte, 4*n)
	if _, err := io.ReadFull(r, scaleBuf); err != nil {
		return Header{}, fmt.Errorf("music: read scale factors: %w", err)
	}
	h.Scales = make([]float32, n)
	for i := range h.Scales {
		h.Scales[i] = math.Float32frombits(binary.LittleEndian.Uint32(scaleBuf[4*i : 4*i+4]))
	}
	return h, nil
}

// derivedScale turns a peak sample magnitude into the per-harmonic scale
// factor that fits it into the i16 range; a silent harmonic (peak==0)
// gets scale 1.0, matching spec.md §4.7's "scales of zero become 1.0".
func derivedScale(peak float64) float32 {
	if peak == 0 {
		return 1.0
	}
	return float32(peak / math.MaxInt16)
}

// Packet is one decoded frame: the raw compressed bytes per harmonic, in
// channel order.
type Packet struct {
	Harmonics [][]byte
}

// WritePacket writes one packet's size-prefix byte array followed by the
// concatenated per-harmonic payloads.
func WritePacket(w io.Writer, p Packet) error {
	sizes := make([]byte, len(p.Harmonics))
	for i, h := range p.Harmonics {
		if len(h) > 255 {
			return ErrHarmonicTooLarge
		}
		sizes[i] = byte(len(h))
	}
	if _, err := w.Write(sizes); err != nil {
		return fmt.Errorf("music: write packet sizes: %w", err)
	}
	for _, h := range p.Harmonics {
		if _, err := w.Write(h); err != nil {
			return fmt.Errorf("music: write packet payload: %w", err)
		}
	}
	return nil
}

// ReadPacket reads one packet's size-prefix array and payloads for
// numHarmonics channels.
func ReadPacket(r io.Reader, numHarmonics int) (Packet, error) {
	sizes := make([]byte, numHarmonics)
	if _, err := io.ReadFull(r, sizes); err != nil {
		if errors.Is(err, io.EOF) {
			return Packet{}, ErrEndOfStream
		}
		return Packet{}, fmt.Errorf("music: read packet sizes: %w", err)
	}

	harmonics := make([][]byte, numHarmonics)
	for i, size := range sizes {
		buf := make([]byte, size)
		if size > 0 {
			if _, err := io.ReadFull(r, buf); err != nil {
				return Packet{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
			}
		}
		harmonics[i] = buf
	}
	return Packet{Harmonics: harmonics}, nil
}

// PacketByteSize returns how many bytes one packet occupies on disk,
// used by seek to skip packets without decoding them.
func PacketByteSize(p Packet) int64 {
	total := int64(len(p.Harmonics))
	for _, h := range p.Harmonics {
		total += int64(len(h))
	}
	return total
}
