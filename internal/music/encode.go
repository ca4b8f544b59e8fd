package music

import (
	"fmt"
	"io"
)

// Encoder turns interleaved PCM into the spherical-harmonic container
// format: header first, then one packet per RawBlockSize-sample block.
type Encoder struct {
	cfg          Configuration
	numHarmonics int
	codecs       *codecSet
	writer       io.Writer
	wroteHeader  bool
	totalSamples uint32
	scales       []float32
	gain         float64
}

// NewEncoder prepares an encoder for cfg. totalSamples is the sample
// count per channel the header will advertise; it must be known up
// front since the header precedes every packet. peak is the maximum
// absolute sample magnitude across the *entire* source signal, not just
// the first block — the caller scans the whole PCM once (PeakOfPCM)
// before encoding it in blocks. original_source/music-container's
// save_pcm normalizes once over the whole clip before deriving its
// per-harmonic scales; a per-block peak would derive a new gain every
// packet with no way for the decoder to undo it.
func NewEncoder(w io.Writer, cfg Configuration, totalSamples uint32, peak int16) (*Encoder, error) {
	n := NumHarmonics(cfg.SHOrder())
	codecs, err := newEncoderSet(n)
	if err != nil {
		return nil, err
	}
	return &Encoder{
		cfg:          cfg,
		numHarmonics: n,
		codecs:       codecs,
		writer:       w,
		totalSamples: totalSamples,
		gain:         gainFactor(peak),
	}, nil
}

// EncodeBlock applies the encoder's fixed gain and compresses one
// RawBlockSize-sample interleaved PCM block (the final block may be
// shorter, e.g. at end of stream), writing it as the next packet. The
// first call also emits the container header. Its per-harmonic scale
// factors are derived once, not renegotiated per packet: after the
// whole-clip gain no input sample leaves the int16 range, so each scale
// comes from that harmonic's peak for full-scale input, which keeps every
// block, however loud, inside the i16 range.
func (e *Encoder) EncodeBlock(pcm []int16) error {
	normalized := applyGain(pcm, e.gain)
	harmonics, err := ToHarmonics(e.cfg, normalized, e.cfg.NumChannels())
	if err != nil {
		return err
	}

	if !e.wroteHeader {
		// Two full-scale frames: every channel at -32768, then the first
		// channel at 32767 and the rest at -32768, which between them
		// reach each harmonic's largest possible magnitude.
		ch := e.cfg.NumChannels()
		extremes := make([]int16, 2*ch)
		for c := range extremes {
			extremes[c] = -32768
		}
		extremes[ch] = 32767
		bounds, err := ToHarmonics(e.cfg, extremes, ch)
		if err != nil {
			return err
		}
		scales := make([]float32, e.numHarmonics)
		for i, h := range bounds {
			scales[i] = derivedScale(PeakOf(h))
		}
		e.scales = scales
		if err := WriteHeader(e.writer, Header{
			Version:      ContainerVersion,
			SHOrder:      e.cfg.SHOrder(),
			TotalSamples: e.totalSamples,
			Scales:       scales,
		}); err != nil {
			return err
		}
		e.wroteHeader = true
	}

	packet := Packet{Harmonics: make([][]byte, e.numHarmonics)}
	for i, h := range harmonics {
		scale := float64(e.scales[i])
		if scale == 0 {
			scale = 1
		}
		rescaled := make([]float64, len(h))
		for j, v := range h {
			rescaled[j] = v / scale
		}
		payload, err := e.codecs.encoders[i].Encode(rescaled)
		if err != nil {
			return fmt.Errorf("music: encode harmonic %d: %w", i, err)
		}
		packet.Harmonics[i] = payload
	}
	return WritePacket(e.writer, packet)
}
