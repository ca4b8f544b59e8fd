package music

import (
	"errors"
	"fmt"
	"io"
)

// Decoder reads the spherical-harmonic container format back into
// interleaved PCM, one RawBlockSize-sample block per packet.
type Decoder struct {
	cfg          Configuration
	numHarmonics int
	codecs       *codecSet
	reader       *seekReader
	header       Header
}

// seekReader wraps an io.ReadSeeker so seek_to_sample can skip whole
// packets without decoding them, by reading each packet's size-prefix
// array to learn how many bytes to skip.
type seekReader struct {
	r io.ReadSeeker
}

func (s *seekReader) Read(p []byte) (int, error) { return s.r.Read(p) }

// NewDecoder reads and validates the header from r, then returns a
// decoder positioned at the first packet.
func NewDecoder(r io.ReadSeeker, cfg Configuration) (*Decoder, error) {
	sr := &seekReader{r: r}
	h, err := ReadHeader(sr)
	if err != nil {
		return nil, err
	}
	if h.SHOrder != cfg.SHOrder() {
		return nil, fmt.Errorf("music: container sh_order %d does not match configuration %v", h.SHOrder, cfg)
	}
	n := NumHarmonics(h.SHOrder)
	codecs, err := newDecoderSet(n)
	if err != nil {
		return nil, err
	}
	return &Decoder{
		cfg:          cfg,
		numHarmonics: n,
		codecs:       codecs,
		reader:       sr,
		header:       h,
	}, nil
}

// Header returns the container header this decoder read.
func (d *Decoder) Header() Header { return d.header }

// NextPacket decodes the next packet into interleaved PCM for the
// decoder's configuration. Returns ErrEndOfStream once every packet has
// been consumed.
func (d *Decoder) NextPacket() ([]int16, error) {
	packet, err := ReadPacket(d.reader, d.numHarmonics)
	if err != nil {
		return nil, err
	}

	harmonics := make([][]float64, d.numHarmonics)
	for i, payload := range packet.Harmonics {
		scale := d.header.Scales[i]
		if len(payload) == 0 {
			harmonics[i] = make([]float64, RawBlockSize)
			continue
		}
		samples, err := d.codecs.decoders[i].Decode(payload, scale)
		if err != nil {
			return nil, fmt.Errorf("music: decode harmonic %d: %w", i, err)
		}
		harmonics[i] = samples
	}

	return FromHarmonics(d.cfg, harmonics)
}

// SeekToSample repositions the decoder at the packet boundary covering
// targetSample, by scanning forward from the first packet and skipping
// each packet's bytes without decoding it (spec.md §4.7's seek_to_sample).
// It reopens the underlying Opus decoders so their internal state does
// not carry discontinuous history across the jump.
func (d *Decoder) SeekToSample(targetSample uint32) error {
	if _, err := d.reader.r.Seek(int64(headerFixedSize+4*d.numHarmonics), io.SeekStart); err != nil {
		return fmt.Errorf("music: seek to header end: %w", err)
	}

	packetsToSkip := targetSample / RawBlockSize
	for i := uint32(0); i < packetsToSkip; i++ {
		sizes := make([]byte, d.numHarmonics)
		if _, err := io.ReadFull(d.reader, sizes); err != nil {
			if errors.Is(err, io.EOF) {
				return ErrEndOfStream
			}
			return fmt.Errorf("music: seek read packet sizes: %w", err)
		}
		var skip int64
		for _, size := range sizes {
			skip += int64(size)
		}
		if skip > 0 {
			if _, err := d.reader.r.Seek(skip, io.SeekCurrent); err != nil {
				return fmt.Errorf("music: seek skip packet body: %w", err)
			}
		}
	}

	codecs, err := newDecoderSet(d.numHarmonics)
	if err != nil {
		return err
	}
	d.codecs = codecs
	return nil
}
