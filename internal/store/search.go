package store

import (
	"fmt"

	"hexnode/internal/dag"
)

// Search implements the RPC "search" request kind (spec.md §6), recovered
// in full from original_source/database/src/search.rs: a substring match
// over title/album/interpret/composer, ordered by title.
func (s *Store) Search(query string) ([]dag.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	like := "%" + query + "%"
	const q = `
SELECT key, fingerprint, title, album, interpret, people, composer, duration, favs_count, lossless, channels, bitrate
FROM tracks
WHERE title LIKE ? OR album LIKE ? OR interpret LIKE ? OR composer LIKE ?
ORDER BY title
`
	rows, err := s.db.Query(q, like, like, like, like)
	if err != nil {
		return nil, fmt.Errorf("search tracks: %w", err)
	}
	defer rows.Close()

	var out []dag.Track
	for rows.Next() {
		track, err := scanTrack(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, track)
	}
	return out, rows.Err()
}
