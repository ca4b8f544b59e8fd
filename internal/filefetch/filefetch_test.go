package filefetch

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hexnode/internal/dag"
	"hexnode/internal/overlay"
	"hexnode/internal/peerid"
)

// bus wires a fixed set of Services together without a real overlay
// network: Spread delivers to every other registered service, which is
// enough to exercise both broadcast (AskForFile) and directed
// (HasFile/GetFile) traffic in a small fixed-membership test.
type bus struct {
	services map[peerid.ID]*Service
}

type loopbackSpreader struct {
	self peerid.ID
	bus  *bus
}

func (l loopbackSpreader) Spread(payload []byte, _ overlay.Destination) {
	for id, svc := range l.bus.services {
		if id == l.self {
			continue
		}
		svc.HandleOther(l.self, payload)
	}
}

func (l loopbackSpreader) PeerCount() int {
	return len(l.bus.services) - 1
}

func newNode(t *testing.T, b *bus, hasFileKeys map[dag.TrackKey]bool) (peerid.ID, *Service) {
	t.Helper()
	id, err := peerid.Generate()
	if err != nil {
		t.Fatalf("generate id: %v", err)
	}
	dir := t.TempDir()
	svc := New(id, dir, loopbackSpreader{self: id, bus: b}, func(key dag.TrackKey) bool {
		return hasFileKeys[key]
	})
	b.services[id] = svc
	return id, svc
}

func genKey(b byte) dag.TrackKey {
	var k dag.TrackKey
	k[0] = b
	return k
}

func TestFileFetchSuccess(t *testing.T) {
	t.Parallel()
	key := genKey(0x01)
	content := []byte("audio bytes")

	b := &bus{services: make(map[peerid.ID]*Service)}
	idA, svcA := newNode(t, b, map[dag.TrackKey]bool{key: true})
	_, svcB := newNode(t, b, map[dag.TrackKey]bool{})

	// Seed A's on-disk file so onGetFileReq can serve it.
	if err := svcA.installAtomic(key, content); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := svcB.AskForFile(ctx, key)
	if err != nil {
		t.Fatalf("ask for file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("payload mismatch: got %q want %q", got, content)
	}

	installed, err := os.ReadFile(filepath.Join(svcB.dataDir, key.String()))
	if err != nil {
		t.Fatalf("read installed file: %v", err)
	}
	if !bytes.Equal(installed, content) {
		t.Fatalf("installed file mismatch")
	}
	_ = idA
}

func TestFileFetchFailureNoPeerHasFile(t *testing.T) {
	t.Parallel()
	key := genKey(0x02)

	b := &bus{services: make(map[peerid.ID]*Service)}
	_, svcA := newNode(t, b, map[dag.TrackKey]bool{})
	_, svcC := newNode(t, b, map[dag.TrackKey]bool{})
	_, svcB := newNode(t, b, map[dag.TrackKey]bool{})
	_ = svcA
	_ = svcC

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := svcB.AskForFile(ctx, key)
	if err != ErrNoPeerHadFile {
		t.Fatalf("expected ErrNoPeerHadFile, got %v", err)
	}
}

func TestAskForFileWithNoPeersResolvesImmediately(t *testing.T) {
	t.Parallel()
	b := &bus{services: make(map[peerid.ID]*Service)}
	_, svc := newNode(t, b, map[dag.TrackKey]bool{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := svc.AskForFile(ctx, genKey(0x03))
	if err != ErrNoPeerHadFile {
		t.Fatalf("expected ErrNoPeerHadFile with zero peers, got %v", err)
	}
}
