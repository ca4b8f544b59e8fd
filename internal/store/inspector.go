package store

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"hexnode/internal/dag"
	"hexnode/internal/peerid"
)

// Verifier defaults to dag.AcceptAllVerifier; callers that need
// authenticity beyond content-addressing can override it before the
// first Store call.
var _ dag.Inspector = (*Store)(nil)

// SetVerifier installs the signature-verification hook used by Approve.
func (s *Store) SetVerifier(v dag.Verifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifier = v
}

// Approve cheaply validates a transition without touching storage: the
// body must decode to a known action and the key must equal the digest
// of parents||body.
func (s *Store) Approve(t dag.Transition) bool {
	if _, err := dag.DecodeAction(t.Body); err != nil {
		slog.Debug("transition rejected: undecodable body", "err", err)
		return false
	}
	v := s.verifier
	if v == nil {
		v = dag.AcceptAllVerifier{}
	}
	if !v.Verify(t) {
		slog.Debug("transition rejected: signature verification failed")
		return false
	}
	return true
}

// Has reports whether a transition with this key is already stored.
func (s *Store) Has(key peerid.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasLocked(key)
}

func (s *Store) hasLocked(key peerid.ID) bool {
	var n int
	row := s.db.QueryRow(`SELECT 1 FROM transitions WHERE key = ?`, key.String())
	return row.Scan(&n) == nil
}

// Store persists t, computing its state and cascading apply to any
// pending transition that becomes eligible as a result.
func (s *Store) Store(t dag.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := t.Key()
	if s.hasLocked(key) {
		return nil // immutable once stored
	}

	parentsJSON, err := marshalKeys(t.Parents)
	if err != nil {
		return err
	}

	state := s.computeInitialStateLocked(t.Parents)

	_, err = s.db.Exec(
		`INSERT INTO transitions (key, author, parents, body, signature, state) VALUES (?, ?, ?, ?, ?, ?)`,
		key.String(), t.Author.String(), parentsJSON, t.Body, t.Signature, string(state),
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}

	if state == dag.StateAppliedTip {
		if err := s.applyLocked(t); err != nil {
			return err
		}
		s.demoteParentsLocked(t.Parents)
	}

	return s.promotePendingLocked()
}

// computeInitialStateLocked decides pending vs applied-tip for a
// not-yet-stored transition based on the current state of its parents.
func (s *Store) computeInitialStateLocked(parents []peerid.ID) dag.State {
	for _, p := range parents {
		var state string
		row := s.db.QueryRow(`SELECT state FROM transitions WHERE key = ?`, p.String())
		if err := row.Scan(&state); err != nil {
			return dag.StatePending // parent absent
		}
		if dag.State(state) == dag.StatePending {
			return dag.StatePending
		}
	}
	return dag.StateAppliedTip
}

// demoteParentsLocked marks each parent as applied-internal: it now has
// a child referencing it, so it can no longer be a tip.
func (s *Store) demoteParentsLocked(parents []peerid.ID) {
	for _, p := range parents {
		_, _ = s.db.Exec(
			`UPDATE transitions SET state = ? WHERE key = ? AND state = ?`,
			string(dag.StateAppliedInternal), p.String(), string(dag.StateAppliedTip),
		)
	}
}

// promotePendingLocked repeatedly scans pending transitions, applying any
// whose parents are now all applied, until a full pass makes no change.
func (s *Store) promotePendingLocked() error {
	for {
		rows, err := s.db.Query(`SELECT key, author, parents, body, signature FROM transitions WHERE state = ?`, string(dag.StatePending))
		if err != nil {
			return fmt.Errorf("query pending transitions: %w", err)
		}

		type pendingRow struct {
			key     string
			t       dag.Transition
			parents []peerid.ID
		}
		var pending []pendingRow
		for rows.Next() {
			var keyStr, authorStr, parentsJSON string
			var body, sig []byte
			if err := rows.Scan(&keyStr, &authorStr, &parentsJSON, &body, &sig); err != nil {
				rows.Close()
				return fmt.Errorf("scan pending transition: %w", err)
			}
			parents, err := unmarshalKeys(parentsJSON)
			if err != nil {
				rows.Close()
				return err
			}
			author, _ := peerid.Parse(authorStr)
			pending = append(pending, pendingRow{
				key:     keyStr,
				parents: parents,
				t: dag.Transition{
					Author:    author,
					Parents:   parents,
					Body:      body,
					Signature: sig,
					State:     dag.StatePending,
				},
			})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate pending transitions: %w", err)
		}

		promoted := 0
		for _, pr := range pending {
			if !s.allAppliedLocked(pr.parents) {
				continue
			}
			if _, err := s.db.Exec(`UPDATE transitions SET state = ? WHERE key = ?`, string(dag.StateAppliedTip), pr.key); err != nil {
				return fmt.Errorf("promote transition: %w", err)
			}
			if err := s.applyLocked(pr.t); err != nil {
				return err
			}
			s.demoteParentsLocked(pr.parents)
			promoted++
		}
		if promoted == 0 {
			return nil
		}
	}
}

func (s *Store) allAppliedLocked(parents []peerid.ID) bool {
	for _, p := range parents {
		var state string
		row := s.db.QueryRow(`SELECT state FROM transitions WHERE key = ?`, p.String())
		if err := row.Scan(&state); err != nil {
			return false
		}
		if dag.State(state) == dag.StatePending {
			return false
		}
	}
	return true
}

// applyLocked decodes t's body and performs the upsert/delete it names.
func (s *Store) applyLocked(t dag.Transition) error {
	action, err := dag.DecodeAction(t.Body)
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	switch action.Kind {
	case dag.ActionUpsertTrack:
		return s.upsertTrackLocked(*action.Track)
	case dag.ActionUpsertPlaylist:
		return s.upsertPlaylistLocked(*action.Playlist, t.Author)
	case dag.ActionUpsertToken:
		return s.upsertTokenLocked(*action.Token)
	case dag.ActionDeleteTrack:
		return s.deleteTrackLocked(*action.TrackKey)
	case dag.ActionDeletePlaylist:
		return s.deletePlaylistLocked(*action.PlaylistKey, t.Author)
	case dag.ActionDeleteToken:
		return s.deleteTokenLocked(*action.TokenID)
	default:
		return fmt.Errorf("apply: unknown action kind %q", action.Kind)
	}
}

// Restore loads transitions by key; missing keys are simply absent from
// the result.
func (s *Store) Restore(keys []peerid.ID) []dag.Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []dag.Transition
	for _, k := range keys {
		t, ok := s.lookupLocked(k)
		if ok {
			out = append(out, t)
		}
	}
	return out
}

func (s *Store) lookupLocked(key peerid.ID) (dag.Transition, bool) {
	var authorStr, parentsJSON, state string
	var body, sig []byte
	row := s.db.QueryRow(`SELECT author, parents, body, signature, state FROM transitions WHERE key = ?`, key.String())
	if err := row.Scan(&authorStr, &parentsJSON, &body, &sig, &state); err != nil {
		return dag.Transition{}, false
	}
	parents, err := unmarshalKeys(parentsJSON)
	if err != nil {
		return dag.Transition{}, false
	}
	author, _ := peerid.Parse(authorStr)
	return dag.Transition{
		Author:    author,
		Parents:   parents,
		Body:      body,
		Signature: sig,
		State:     dag.State(state),
	}, true
}

// Tips returns the keys currently marked applied-tip.
func (s *Store) Tips() []peerid.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keysWithStateLocked(dag.StateAppliedTip)
}

func (s *Store) keysWithStateLocked(state dag.State) []peerid.ID {
	rows, err := s.db.Query(`SELECT key FROM transitions WHERE state = ?`, string(state))
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []peerid.ID
	for rows.Next() {
		var keyStr string
		if err := rows.Scan(&keyStr); err != nil {
			continue
		}
		if id, err := peerid.Parse(keyStr); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// Missing returns parent keys referenced by pending transitions but not
// present locally.
func (s *Store) Missing() []peerid.ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT parents FROM transitions WHERE state = ?`, string(dag.StatePending))
	if err != nil {
		return nil
	}
	defer rows.Close()

	seen := make(map[peerid.ID]bool)
	var out []peerid.ID
	for rows.Next() {
		var parentsJSON string
		if err := rows.Scan(&parentsJSON); err != nil {
			continue
		}
		parents, err := unmarshalKeys(parentsJSON)
		if err != nil {
			continue
		}
		for _, p := range parents {
			if seen[p] || s.hasLocked(p) {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// Subgraph returns the transitions the remote, whose tips are given,
// appears not to have.
func (s *Store) Subgraph(remoteTips []dag.Transition) []dag.Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	localTips := s.keysWithStateLocked(dag.StateAppliedTip)
	return dag.ComputeSubgraph(localTips, remoteTips, s.lookupLocked)
}

func marshalKeys(ids []peerid.ID) (string, error) {
	hexes := make([]string, len(ids))
	for i, id := range ids {
		hexes[i] = id.String()
	}
	raw, err := json.Marshal(hexes)
	if err != nil {
		return "", fmt.Errorf("marshal parent keys: %w", err)
	}
	return string(raw), nil
}

func unmarshalKeys(s string) ([]peerid.ID, error) {
	var hexes []string
	if err := json.Unmarshal([]byte(s), &hexes); err != nil {
		return nil, fmt.Errorf("unmarshal parent keys: %w", err)
	}
	out := make([]peerid.ID, 0, len(hexes))
	for _, h := range hexes {
		id, err := peerid.Parse(h)
		if err != nil {
			raw, decErr := hex.DecodeString(h)
			if decErr != nil {
				return nil, err
			}
			copy(id[:], raw)
		}
		out = append(out, id)
	}
	return out, nil
}

var errNoRows = sql.ErrNoRows

func isNoRows(err error) bool { return errors.Is(err, errNoRows) }
