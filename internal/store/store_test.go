package store

import (
	"path/filepath"
	"testing"

	"hexnode/internal/dag"
	"hexnode/internal/peerid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "hex.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func genID(t *testing.T, b byte) peerid.ID {
	t.Helper()
	var id peerid.ID
	id[0] = b
	return id
}

// TestTwoNodeReplicationScenario covers the receiving node's half of the
// two-node replication scenario: one store applies an inbound UpsertTrack
// transition. No second node or overlay is involved.
func TestTwoNodeReplicationScenario(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	author := genID(t, 0xA)
	trackKey := genID(t, 0x01)
	body, err := dag.EncodeUpsertTrack(dag.Track{Key: trackKey, Title: "T"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	tr := dag.Transition{Author: author, Body: body}
	if err := st.Store(tr); err != nil {
		t.Fatalf("store: %v", err)
	}

	track, err := st.GetTrack(trackKey)
	if err != nil {
		t.Fatalf("get track: %v", err)
	}
	if track.Title != "T" {
		t.Fatalf("expected title T, got %q", track.Title)
	}

	tips := st.Tips()
	found := false
	for _, k := range tips {
		if k == tr.Key() {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected tips to include the stored transition's key")
	}
}

func TestOutOfOrderArrivalScenario(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	author := genID(t, 0xA)

	body1, _ := dag.EncodeUpsertTrack(dag.Track{Key: genID(t, 1), Title: "t1"})
	t1 := dag.Transition{Author: author, Body: body1}
	t1Key := t1.Key()

	body2, _ := dag.EncodeUpsertTrack(dag.Track{Key: genID(t, 2), Title: "t2"})
	t2 := dag.Transition{Author: author, Parents: []peerid.ID{t1Key}, Body: body2}
	t2Key := t2.Key()

	if err := st.Store(t2); err != nil {
		t.Fatalf("store t2: %v", err)
	}
	stored2, ok := st.lookupLocked(t2Key)
	if !ok || stored2.State != dag.StatePending {
		t.Fatalf("expected t2 pending before t1 arrives, got %+v ok=%v", stored2, ok)
	}
	missing := st.Missing()
	if len(missing) != 1 || missing[0] != t1Key {
		t.Fatalf("expected missing() == [t1], got %v", missing)
	}

	if err := st.Store(t1); err != nil {
		t.Fatalf("store t1: %v", err)
	}
	stored1, _ := st.lookupLocked(t1Key)
	stored2, _ = st.lookupLocked(t2Key)
	if stored1.State != dag.StateAppliedInternal {
		t.Fatalf("expected t1 applied-internal, got %v", stored1.State)
	}
	if stored2.State != dag.StateAppliedTip {
		t.Fatalf("expected t2 applied-tip, got %v", stored2.State)
	}
}

func TestPlaylistOriginInvariant(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	origin := genID(t, 0x1)
	other := genID(t, 0x2)
	plKey := genID(t, 0xF)
	trackA := genID(t, 0xA)
	trackB := genID(t, 0xB)

	body, _ := dag.EncodeUpsertPlaylist(dag.Playlist{Key: plKey, Title: "mix", Tracks: []dag.TrackKey{trackA}})
	if err := st.Store(dag.Transition{Author: origin, Body: body}); err != nil {
		t.Fatalf("store initial playlist: %v", err)
	}

	pl, err := st.GetPlaylist(plKey)
	if err != nil {
		t.Fatalf("get playlist: %v", err)
	}
	if pl.Origin != origin {
		t.Fatalf("expected first author to be adopted as origin")
	}

	// Another peer tries to reorder: only title/desc should apply.
	body2, _ := dag.EncodeUpsertPlaylist(dag.Playlist{Key: plKey, Title: "renamed", Tracks: []dag.TrackKey{trackB}})
	parent := dag.Transition{Author: origin, Body: body}
	if err := st.Store(dag.Transition{Author: other, Parents: []peerid.ID{parent.Key()}, Body: body2}); err != nil {
		t.Fatalf("store other-author update: %v", err)
	}

	pl, err = st.GetPlaylist(plKey)
	if err != nil {
		t.Fatalf("get playlist after update: %v", err)
	}
	if pl.Title != "renamed" {
		t.Fatalf("expected title to update to 'renamed', got %q", pl.Title)
	}
	if len(pl.Tracks) != 1 || pl.Tracks[0] != trackA {
		t.Fatalf("expected track ordering unchanged by non-origin author, got %v", pl.Tracks)
	}
}

func TestSearchMatchesTitle(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	author := genID(t, 0x1)

	body, _ := dag.EncodeUpsertTrack(dag.Track{Key: genID(t, 1), Title: "Harmonic Drift", Album: "Spheres"})
	if err := st.Store(dag.Transition{Author: author, Body: body}); err != nil {
		t.Fatalf("store: %v", err)
	}

	results, err := st.Search("Harmonic")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "Harmonic Drift" {
		t.Fatalf("expected one match, got %v", results)
	}
}
