package music

import (
	"bytes"
	"math"
	"testing"
)

// generateStereoPCM produces a deterministic two-tone stereo signal:
// left channel a 440Hz sine, right channel a 220Hz sine, so mid and side
// both carry non-trivial content.
func generateStereoPCM(numSamples int) []int16 {
	pcm := make([]int16, numSamples*2)
	for i := 0; i < numSamples; i++ {
		t := float64(i) / SampleRate
		l := int16(0.5 * 32767 * math.Sin(2*math.Pi*440*t))
		r := int16(0.5 * 32767 * math.Sin(2*math.Pi*220*t))
		pcm[i*2] = l
		pcm[i*2+1] = r
	}
	return pcm
}

func TestStereoRoundTripWithSeek(t *testing.T) {
	t.Parallel()

	const numSamples = 10 * SampleRate // 10 seconds
	pcm := generateStereoPCM(numSamples)

	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, ConfigStereo, numSamples, PeakOfPCM(pcm))
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}

	numBlocks := numSamples / RawBlockSize
	for b := 0; b < numBlocks; b++ {
		start := b * RawBlockSize * 2
		end := start + RawBlockSize*2
		if err := enc.EncodeBlock(pcm[start:end]); err != nil {
			t.Fatalf("encode block %d: %v", b, err)
		}
	}

	dec, err := NewDecoder(bytes.NewReader(buf.Bytes()), ConfigStereo)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	if dec.Header().TotalSamples != numSamples {
		t.Fatalf("total samples: got %d want %d", dec.Header().TotalSamples, numSamples)
	}

	const targetSample = 240000
	if err := dec.SeekToSample(targetSample); err != nil {
		t.Fatalf("seek: %v", err)
	}

	got, err := dec.NextPacket()
	if err != nil {
		t.Fatalf("decode packet after seek: %v", err)
	}
	if len(got) != RawBlockSize*2 {
		t.Fatalf("packet length: got %d want %d", len(got), RawBlockSize*2)
	}

	want := pcm[targetSample*2 : (targetSample+RawBlockSize)*2]
	var maxDiff int
	for i := range want {
		diff := int(got[i]) - int(want[i])
		if diff < 0 {
			diff = -diff
		}
		if diff > maxDiff {
			maxDiff = diff
		}
	}
	// Opus is lossy and the harmonic transform is approximate; allow
	// headroom while still catching a broken round trip.
	const tolerance = 4000
	if maxDiff > tolerance {
		t.Fatalf("decoded samples diverge from source: max abs diff %d exceeds tolerance %d", maxDiff, tolerance)
	}
}

func TestMonoOmniRoundTrip(t *testing.T) {
	t.Parallel()

	const numSamples = RawBlockSize * 3
	pcm := make([]int16, numSamples)
	for i := range pcm {
		t := float64(i) / SampleRate
		pcm[i] = int16(0.4 * 32767 * math.Sin(2*math.Pi*330*t))
	}

	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, ConfigOmni, numSamples, PeakOfPCM(pcm))
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}
	for b := 0; b < 3; b++ {
		start := b * RawBlockSize
		if err := enc.EncodeBlock(pcm[start : start+RawBlockSize]); err != nil {
			t.Fatalf("encode block %d: %v", b, err)
		}
	}

	dec, err := NewDecoder(bytes.NewReader(buf.Bytes()), ConfigOmni)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}

	for b := 0; b < 3; b++ {
		if _, err := dec.NextPacket(); err != nil {
			t.Fatalf("decode packet %d: %v", b, err)
		}
	}
	if _, err := dec.NextPacket(); err != ErrEndOfStream {
		t.Fatalf("expected ErrEndOfStream at end of stream, got %v", err)
	}
}

// TestVaryingLoudnessRoundTrip uses a quiet first block and a much
// louder later block, so a per-block peak normalization (rather than one
// gain derived from the whole signal) would flatten the dynamics and
// fail the tolerance check below.
func TestVaryingLoudnessRoundTrip(t *testing.T) {
	t.Parallel()

	const numSamples = RawBlockSize * 4
	pcm := make([]int16, numSamples)
	for i := range pcm {
		t := float64(i) / SampleRate
		block := i / RawBlockSize
		amplitude := 0.05
		if block == 2 {
			amplitude = 0.9
		}
		pcm[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*440*t))
	}

	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, ConfigOmni, numSamples, PeakOfPCM(pcm))
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}
	for b := 0; b < 4; b++ {
		start := b * RawBlockSize
		if err := enc.EncodeBlock(pcm[start : start+RawBlockSize]); err != nil {
			t.Fatalf("encode block %d: %v", b, err)
		}
	}

	dec, err := NewDecoder(bytes.NewReader(buf.Bytes()), ConfigOmni)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}

	var maxDiff int
	for b := 0; b < 4; b++ {
		got, err := dec.NextPacket()
		if err != nil {
			t.Fatalf("decode packet %d: %v", b, err)
		}
		want := pcm[b*RawBlockSize : (b+1)*RawBlockSize]
		for i := range want {
			diff := int(got[i]) - int(want[i])
			if diff < 0 {
				diff = -diff
			}
			if diff > maxDiff {
				maxDiff = diff
			}
		}
	}
	const tolerance = 4000
	if maxDiff > tolerance {
		t.Fatalf("decoded samples diverge from source: max abs diff %d exceeds tolerance %d", maxDiff, tolerance)
	}
}

func TestDerivedScaleHandlesSilence(t *testing.T) {
	t.Parallel()
	if got := derivedScale(0); got != 1.0 {
		t.Fatalf("silent harmonic scale: got %v want 1.0", got)
	}
}
