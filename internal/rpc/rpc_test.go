package rpc

import (
	"context"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"hexnode/internal/dag"
	"hexnode/internal/filefetch"
	"hexnode/internal/music"
	"hexnode/internal/overlay"
	"hexnode/internal/peerid"
	"hexnode/internal/store"
)

type noopSpreader struct{}

func (noopSpreader) Spread(payload []byte, dest overlay.Destination) {}
func (noopSpreader) PeerCount() int                                  { return 0 }

func newTestHandler(t *testing.T) (*Handler, peerid.ID) {
	t.Helper()
	self, err := peerid.Generate()
	if err != nil {
		t.Fatalf("generate id: %v", err)
	}
	st, err := store.Open(filepath.Join(t.TempDir(), "node.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	fetch := filefetch.New(self, t.TempDir(), noopSpreader{}, func(dag.TrackKey) bool { return false })
	return New(self, st, fetch, nil), self
}

func TestUpsertAndGetTrack(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t)

	var key dag.TrackKey
	key[0] = 0x01
	track := dag.Track{Key: key, Title: "Test Track", Channels: 2}

	upsertResp := h.Handle(context.Background(), Request{ID: uuid.New(), Kind: KindUpsertTrack, Track: &track})
	if upsertResp.Error != "" {
		t.Fatalf("upsert_track error: %s", upsertResp.Error)
	}
	if upsertResp.Track == nil || upsertResp.Track.Title != "Test Track" {
		t.Fatalf("unexpected upsert answer: %+v", upsertResp)
	}

	getResp := h.Handle(context.Background(), Request{ID: uuid.New(), Kind: KindGetTrack, TrackKey: &key})
	if getResp.Error != "" {
		t.Fatalf("get_track error: %s", getResp.Error)
	}
	if getResp.Track.Title != "Test Track" {
		t.Fatalf("get_track title mismatch: %+v", getResp.Track)
	}
}

func TestSearchFindsUpsertedTrack(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t)

	var key dag.TrackKey
	key[0] = 0x02
	track := dag.Track{Key: key, Title: "Searchable Song"}
	h.Handle(context.Background(), Request{ID: uuid.New(), Kind: KindUpsertTrack, Track: &track})

	resp := h.Handle(context.Background(), Request{ID: uuid.New(), Kind: KindSearch, Query: "Searchable"})
	if resp.Error != "" {
		t.Fatalf("search error: %s", resp.Error)
	}
	if len(resp.Tracks) != 1 || resp.Tracks[0].Title != "Searchable Song" {
		t.Fatalf("search results: %+v", resp.Tracks)
	}
}

func TestUploadEncodesAndStoresTrack(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t)

	const numSamples = music.RawBlockSize * 2
	pcmBytes := make([]byte, numSamples*2) // mono
	for i := 0; i < numSamples; i++ {
		v := int16(0.3 * 32767 * math.Sin(2*math.Pi*440*float64(i)/music.SampleRate))
		binary.LittleEndian.PutUint16(pcmBytes[i*2:i*2+2], uint16(v))
	}

	resp := h.Handle(context.Background(), Request{
		ID:             uuid.New(),
		Kind:           KindUpload,
		UploadPCM:      pcmBytes,
		UploadChannels: 1,
		UploadTitle:    "Uploaded",
	})
	if resp.Error != "" {
		t.Fatalf("upload error: %s", resp.Error)
	}
	if resp.UploadedTrack == nil || resp.UploadedTrack.Title != "Uploaded" {
		t.Fatalf("unexpected upload answer: %+v", resp)
	}

	getResp := h.Handle(context.Background(), Request{ID: uuid.New(), Kind: KindGetTrack, TrackKey: &resp.UploadedTrack.Key})
	if getResp.Error != "" {
		t.Fatalf("get uploaded track: %s", getResp.Error)
	}
}

func TestStreamLifecycle(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t)

	const numSamples = music.RawBlockSize * 2
	pcmBytes := make([]byte, numSamples*2)
	for i := 0; i < numSamples; i++ {
		v := int16(1000)
		binary.LittleEndian.PutUint16(pcmBytes[i*2:i*2+2], uint16(v))
	}
	uploadResp := h.Handle(context.Background(), Request{
		ID: uuid.New(), Kind: KindUpload, UploadPCM: pcmBytes, UploadChannels: 1,
	})
	if uploadResp.Error != "" {
		t.Fatalf("upload error: %s", uploadResp.Error)
	}
	key := uploadResp.UploadedTrack.Key

	startResp := h.Handle(context.Background(), Request{ID: uuid.New(), Kind: KindStreamStart, TrackKey: &key})
	if startResp.Error != "" {
		t.Fatalf("stream_start error: %s", startResp.Error)
	}
	if startResp.StreamSessionID == "" {
		t.Fatalf("expected a stream session id")
	}

	packetResp := h.Handle(context.Background(), Request{ID: uuid.New(), Kind: KindStreamNextPacket, StreamSessionID: startResp.StreamSessionID})
	if packetResp.Error != "" {
		t.Fatalf("stream_next_packet error: %s", packetResp.Error)
	}
	if len(packetResp.PacketSamples) != music.RawBlockSize {
		t.Fatalf("packet length: got %d want %d", len(packetResp.PacketSamples), music.RawBlockSize)
	}

	endResp := h.Handle(context.Background(), Request{ID: uuid.New(), Kind: KindStreamEnd, StreamSessionID: startResp.StreamSessionID})
	if endResp.Error != "" {
		t.Fatalf("stream_end error: %s", endResp.Error)
	}
}

func TestSummaryReflectsStoreContents(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t)

	var key dag.TrackKey
	key[0] = 0x03
	h.Handle(context.Background(), Request{ID: uuid.New(), Kind: KindUpsertTrack, Track: &dag.Track{Key: key, Title: "One"}})

	resp := h.Handle(context.Background(), Request{ID: uuid.New(), Kind: KindSummary})
	if resp.Error != "" {
		t.Fatalf("summary error: %s", resp.Error)
	}
	if resp.Summary.TrackCount != 1 {
		t.Fatalf("track count: got %d want 1", resp.Summary.TrackCount)
	}
}

func TestUnknownRequestKind(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t)

	resp := h.Handle(context.Background(), Request{ID: uuid.New(), Kind: "nonsense"})
	if resp.Error == "" {
		t.Fatalf("expected error for unknown request kind")
	}
}
