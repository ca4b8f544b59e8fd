package store

import (
	"fmt"
	"time"

	"hexnode/internal/dag"
	"hexnode/internal/peerid"
)

// upsertPlaylistLocked applies the playlist origin invariant (spec.md
// §4.5): if no origin is recorded yet, the authoring peer is adopted as
// origin (SPEC_FULL §12 resolves the "origin peer disappears" open
// question this way). Once an origin is set, only that peer may change
// track ordering; other authors' upserts only touch title/desc.
func (s *Store) upsertPlaylistLocked(p dag.Playlist, author peerid.ID) error {
	existing, err := s.getPlaylistLocked(p.Key)
	switch {
	case err == nil:
		origin := existing.Origin
		if origin.Zero() {
			origin = author // first introducer wins
		}
		title, desc := p.Title, p.Desc
		tracks := existing.Tracks
		if author == origin {
			tracks = p.Tracks
		}
		return s.writePlaylistLocked(dag.Playlist{Key: p.Key, Title: title, Desc: desc, Tracks: tracks, Origin: origin})
	case err == ErrNotFound:
		origin := p.Origin
		if origin.Zero() {
			origin = author
		}
		return s.writePlaylistLocked(dag.Playlist{Key: p.Key, Title: p.Title, Desc: p.Desc, Tracks: p.Tracks, Origin: origin})
	default:
		return err
	}
}

func (s *Store) writePlaylistLocked(p dag.Playlist) error {
	tracksJSON, err := marshalKeys(p.Tracks)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO playlists (key, title, desc, tracks, origin, created_at_unix_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	title = excluded.title,
	desc = excluded.desc,
	tracks = excluded.tracks,
	origin = excluded.origin
`
	_, err = s.db.Exec(q, p.Key.String(), p.Title, p.Desc, tracksJSON, p.Origin.String(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert playlist: %w", err)
	}
	return nil
}

// deletePlaylistLocked honors the origin invariant: only the recorded
// origin peer may delete a playlist.
func (s *Store) deletePlaylistLocked(key dag.PlaylistKey, author peerid.ID) error {
	existing, err := s.getPlaylistLocked(key)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if !existing.Origin.Zero() && existing.Origin != author {
		return nil // silently ignored: not the origin
	}
	if _, err := s.db.Exec(`DELETE FROM playlists WHERE key = ?`, key.String()); err != nil {
		return fmt.Errorf("delete playlist: %w", err)
	}
	return nil
}

// GetPlaylist returns the current materialized playlist row.
func (s *Store) GetPlaylist(key dag.PlaylistKey) (dag.Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getPlaylistLocked(key)
}

func (s *Store) getPlaylistLocked(key dag.PlaylistKey) (dag.Playlist, error) {
	const q = `SELECT key, title, desc, tracks, origin FROM playlists WHERE key = ?`
	var keyStr, title, desc, tracksJSON, originStr string
	err := s.db.QueryRow(q, key.String()).Scan(&keyStr, &title, &desc, &tracksJSON, &originStr)
	if err != nil {
		if isNoRows(err) {
			return dag.Playlist{}, ErrNotFound
		}
		return dag.Playlist{}, fmt.Errorf("get playlist: %w", err)
	}
	tracks, err := unmarshalKeys(tracksJSON)
	if err != nil {
		return dag.Playlist{}, err
	}
	parsedKey, _ := peerid.Parse(keyStr)
	origin, _ := peerid.Parse(originStr)
	return dag.Playlist{Key: parsedKey, Title: title, Desc: desc, Tracks: tracks, Origin: origin}, nil
}

// ListPlaylists returns every materialized playlist row.
func (s *Store) ListPlaylists() ([]dag.Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT key, title, desc, tracks, origin FROM playlists ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}
	defer rows.Close()

	var out []dag.Playlist
	for rows.Next() {
		var keyStr, title, desc, tracksJSON, originStr string
		if err := rows.Scan(&keyStr, &title, &desc, &tracksJSON, &originStr); err != nil {
			return nil, fmt.Errorf("scan playlist: %w", err)
		}
		tracks, err := unmarshalKeys(tracksJSON)
		if err != nil {
			return nil, err
		}
		key, _ := peerid.Parse(keyStr)
		origin, _ := peerid.Parse(originStr)
		out = append(out, dag.Playlist{Key: key, Title: title, Desc: desc, Tracks: tracks, Origin: origin})
	}
	return out, rows.Err()
}
