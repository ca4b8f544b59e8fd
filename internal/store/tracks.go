package store

import (
	"encoding/json"
	"fmt"
	"time"

	"hexnode/internal/dag"
	"hexnode/internal/peerid"
)

func (s *Store) upsertTrackLocked(t dag.Track) error {
	fpJSON, err := json.Marshal(t.Fingerprint)
	if err != nil {
		return fmt.Errorf("marshal track fingerprint: %w", err)
	}

	const q = `
INSERT INTO tracks (key, fingerprint, title, album, interpret, people, composer, duration, favs_count, lossless, channels, bitrate, created_at_unix_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	fingerprint = excluded.fingerprint,
	title = excluded.title,
	album = excluded.album,
	interpret = excluded.interpret,
	people = excluded.people,
	composer = excluded.composer,
	duration = excluded.duration,
	favs_count = excluded.favs_count,
	lossless = excluded.lossless,
	channels = excluded.channels,
	bitrate = excluded.bitrate
`
	_, err = s.db.Exec(q,
		t.Key.String(), string(fpJSON), t.Title, t.Album, t.Interpret, t.People, t.Composer,
		t.Duration, t.FavsCount, boolToInt(t.Lossless), t.Channels, t.Bitrate, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert track: %w", err)
	}
	return nil
}

func (s *Store) deleteTrackLocked(key dag.TrackKey) error {
	if _, err := s.db.Exec(`DELETE FROM tracks WHERE key = ?`, key.String()); err != nil {
		return fmt.Errorf("delete track: %w", err)
	}
	return nil
}

// GetTrack returns the current materialized track row, or ErrNotFound.
func (s *Store) GetTrack(key dag.TrackKey) (dag.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const q = `SELECT key, fingerprint, title, album, interpret, people, composer, duration, favs_count, lossless, channels, bitrate FROM tracks WHERE key = ?`
	row := s.db.QueryRow(q, key.String())
	return scanTrack(row.Scan)
}

// ListTracks returns every materialized track row.
func (s *Store) ListTracks() ([]dag.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const q = `SELECT key, fingerprint, title, album, interpret, people, composer, duration, favs_count, lossless, channels, bitrate FROM tracks ORDER BY title`
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
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

func scanTrack(scan func(dest ...any) error) (dag.Track, error) {
	var (
		keyStr, fpJSON                                             string
		title, album, interpret, people, composer                  string
		duration                                                   float64
		favsCount                                                   uint32
		lossless                                                    int
		channels                                                    uint8
		bitrate                                                     uint32
	)
	err := scan(&keyStr, &fpJSON, &title, &album, &interpret, &people, &composer, &duration, &favsCount, &lossless, &channels, &bitrate)
	if err != nil {
		if isNoRows(err) {
			return dag.Track{}, ErrNotFound
		}
		return dag.Track{}, fmt.Errorf("scan track: %w", err)
	}

	key, err := peerid.Parse(keyStr)
	if err != nil {
		return dag.Track{}, fmt.Errorf("parse track key: %w", err)
	}
	var fp []uint32
	if err := json.Unmarshal([]byte(fpJSON), &fp); err != nil {
		return dag.Track{}, fmt.Errorf("unmarshal track fingerprint: %w", err)
	}

	return dag.Track{
		Key:         key,
		Fingerprint: fp,
		Title:       title,
		Album:       album,
		Interpret:   interpret,
		People:      people,
		Composer:    composer,
		Duration:    duration,
		FavsCount:   favsCount,
		Lossless:    lossless != 0,
		Channels:    channels,
		Bitrate:     bitrate,
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
