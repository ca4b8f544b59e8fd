package store

import (
	"fmt"

	"hexnode/internal/dag"
	"hexnode/internal/peerid"
)

func (s *Store) upsertTokenLocked(t dag.Token) error {
	playedJSON, err := marshalKeys(t.Played)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO tokens (id, playlist_key, played, position, last_use)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	playlist_key = excluded.playlist_key,
	played = excluded.played,
	position = excluded.position,
	last_use = excluded.last_use
`
	_, err = s.db.Exec(q, t.ID.String(), t.PlaylistKey.String(), playedJSON, t.Position, t.LastUse)
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

func (s *Store) deleteTokenLocked(id dag.TokenID) error {
	if _, err := s.db.Exec(`DELETE FROM tokens WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// GetToken returns the current materialized token row.
func (s *Store) GetToken(id dag.TokenID) (dag.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const q = `SELECT id, playlist_key, played, position, last_use FROM tokens WHERE id = ?`
	var idStr, playlistStr, playedJSON string
	var position uint32
	var lastUse int64
	err := s.db.QueryRow(q, id.String()).Scan(&idStr, &playlistStr, &playedJSON, &position, &lastUse)
	if err != nil {
		if isNoRows(err) {
			return dag.Token{}, ErrNotFound
		}
		return dag.Token{}, fmt.Errorf("get token: %w", err)
	}
	played, err := unmarshalKeys(playedJSON)
	if err != nil {
		return dag.Token{}, err
	}
	parsedID, _ := peerid.Parse(idStr)
	playlistKey, _ := peerid.Parse(playlistStr)
	return dag.Token{ID: parsedID, PlaylistKey: playlistKey, Played: played, Position: position, LastUse: lastUse}, nil
}

// ResumeToken reconstructs where a physical card left off: its bound
// playlist, the track it was on, and its in-track position. This is the
// "resume" semantics SPEC_FULL §12 adds beyond bare token CRUD.
func (s *Store) ResumeToken(id dag.TokenID) (dag.Playlist, dag.TrackKey, uint32, error) {
	tok, err := s.GetToken(id)
	if err != nil {
		return dag.Playlist{}, dag.TrackKey{}, 0, err
	}
	playlist, err := s.GetPlaylist(tok.PlaylistKey)
	if err != nil {
		return dag.Playlist{}, dag.TrackKey{}, 0, err
	}
	var track dag.TrackKey
	if n := len(tok.Played); n > 0 {
		track = tok.Played[n-1]
	} else if len(playlist.Tracks) > 0 {
		track = playlist.Tracks[0]
	}
	return playlist, track, tok.Position, nil
}
