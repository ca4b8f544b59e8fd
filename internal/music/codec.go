package music

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// opusBitrate is the per-harmonic target bitrate. Harmonics carry band-
// limited ambisonic-like content rather than full-spectrum audio, so a
// modest bitrate per channel is enough.
const opusBitrate = 32000

// maxOpusFrameBytes bounds a single harmonic's compressed payload so it
// always fits WritePacket's one-byte size prefix.
const maxOpusFrameBytes = 255

// harmonicEncoder wraps one mono 48kHz Opus encoder, one per harmonic
// channel, matching the teacher's one-encoder-per-stream convention.
type harmonicEncoder struct {
	enc *opus.Encoder
}

func newHarmonicEncoder() (*harmonicEncoder, error) {
	enc, err := opus.NewEncoder(SampleRate, 1, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("music: new opus encoder: %w", err)
	}
	enc.SetBitrate(opusBitrate)
	return &harmonicEncoder{enc: enc}, nil
}

// Encode compresses one RawBlockSize-sample mono block.
func (h *harmonicEncoder) Encode(samples []float64) ([]byte, error) {
	pcm := make([]int16, len(samples))
	for i, v := range samples {
		pcm[i] = clampInt16(v)
	}
	buf := make([]byte, maxOpusFrameBytes)
	n, err := h.enc.Encode(pcm, buf)
	if err != nil {
		return nil, fmt.Errorf("music: opus encode: %w", err)
	}
	return buf[:n], nil
}

// harmonicDecoder wraps one mono 48kHz Opus decoder.
type harmonicDecoder struct {
	dec *opus.Decoder
}

func newHarmonicDecoder() (*harmonicDecoder, error) {
	dec, err := opus.NewDecoder(SampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("music: new opus decoder: %w", err)
	}
	return &harmonicDecoder{dec: dec}, nil
}

// Decode expands one compressed harmonic payload into RawBlockSize
// float64 samples, rescaled by the container's stored scale factor.
func (h *harmonicDecoder) Decode(payload []byte, scale float32) ([]float64, error) {
	pcm := make([]int16, RawBlockSize)
	n, err := h.dec.Decode(payload, pcm)
	if err != nil {
		return nil, fmt.Errorf("music: opus decode: %w", err)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = float64(pcm[i]) * float64(scale)
	}
	return out, nil
}

// codecSet holds one encoder or decoder per harmonic channel, stateful
// across packets the way a single Opus stream must be.
type codecSet struct {
	encoders []*harmonicEncoder
	decoders []*harmonicDecoder
}

func newEncoderSet(numHarmonics int) (*codecSet, error) {
	cs := &codecSet{encoders: make([]*harmonicEncoder, numHarmonics)}
	for i := range cs.encoders {
		enc, err := newHarmonicEncoder()
		if err != nil {
			return nil, err
		}
		cs.encoders[i] = enc
	}
	return cs, nil
}

func newDecoderSet(numHarmonics int) (*codecSet, error) {
	cs := &codecSet{decoders: make([]*harmonicDecoder, numHarmonics)}
	for i := range cs.decoders {
		dec, err := newHarmonicDecoder()
		if err != nil {
			return nil, err
		}
		cs.decoders[i] = dec
	}
	return cs, nil
}
