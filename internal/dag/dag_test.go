package dag

import (
	"testing"

	"hexnode/internal/peerid"
)

func mustID(t *testing.T, b byte) peerid.ID {
	t.Helper()
	var id peerid.ID
	id[0] = b
	return id
}

func TestComputeKeyOrderIndependent(t *testing.T) {
	t.Parallel()
	a := mustID(t, 1)
	b := mustID(t, 2)
	body := []byte("hello")

	k1 := ComputeKey([]peerid.ID{a, b}, body)
	k2 := ComputeKey([]peerid.ID{b, a}, body)
	if k1 != k2 {
		t.Fatalf("key must not depend on parent order: %v != %v", k1, k2)
	}
}

func TestTransitionKeyMatchesComputeKey(t *testing.T) {
	t.Parallel()
	body, err := EncodeUpsertTrack(Track{Key: mustID(t, 9), Title: "T"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	tr := Transition{Parents: []peerid.ID{mustID(t, 1)}, Body: body}
	if tr.Key() != ComputeKey(tr.Parents, tr.Body) {
		t.Fatalf("transition key does not match digest(parents||body)")
	}
}

func TestDecodeActionRejectsUnknownBody(t *testing.T) {
	t.Parallel()
	if _, err := DecodeAction([]byte(`{"kind":"not_a_real_kind"}`)); err == nil {
		t.Fatalf("expected decode to reject unknown action kind")
	}
	if _, err := DecodeAction([]byte(`not json at all`)); err == nil {
		t.Fatalf("expected decode to reject invalid json")
	}
}

func TestDecodeActionRequiresMatchingPayload(t *testing.T) {
	t.Parallel()
	if _, err := DecodeAction([]byte(`{"kind":"upsert_track"}`)); err == nil {
		t.Fatalf("expected decode to reject upsert_track with no track payload")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	track := Track{Key: mustID(t, 3), Title: "Song", Duration: 120.5}
	body, err := EncodeUpsertTrack(track)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	action, err := DecodeAction(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if action.Kind != ActionUpsertTrack || action.Track == nil || action.Track.Title != "Song" {
		t.Fatalf("round trip mismatch: %+v", action)
	}
}

func TestComputeSubgraphEmitsOnlyUnknown(t *testing.T) {
	t.Parallel()

	// genesis <- a1 <- a2 (local), genesis is known to the remote.
	genesisBody, _ := EncodeUpsertTrack(Track{Key: mustID(t, 1), Title: "g"})
	genesis := Transition{Body: genesisBody}
	gKey := genesis.Key()

	a1Body, _ := EncodeUpsertTrack(Track{Key: mustID(t, 2), Title: "a1"})
	a1 := Transition{Parents: []peerid.ID{gKey}, Body: a1Body}
	a1Key := a1.Key()

	a2Body, _ := EncodeUpsertTrack(Track{Key: mustID(t, 3), Title: "a2"})
	a2 := Transition{Parents: []peerid.ID{a1Key}, Body: a2Body}
	a2Key := a2.Key()

	store := map[peerid.ID]Transition{
		gKey:  genesis,
		a1Key: a1,
		a2Key: a2,
	}
	lookup := func(k peerid.ID) (Transition, bool) {
		t, ok := store[k]
		return t, ok
	}

	remoteTips := []Transition{genesis}
	got := ComputeSubgraph([]peerid.ID{a2Key}, remoteTips, lookup)

	if len(got) != 2 {
		t.Fatalf("expected 2 transitions (a1, a2), got %d", len(got))
	}
	if got[0].Key() != a1Key || got[1].Key() != a2Key {
		t.Fatalf("expected parents-before-children order a1,a2, got %v, %v", got[0].Key(), got[1].Key())
	}
}
