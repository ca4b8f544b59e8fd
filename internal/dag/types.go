// Package dag implements the transition DAG: content-addressed, signed
// mutation records and the inspector contract the overlay drives them
// through.
package dag

import "hexnode/internal/peerid"

// TrackKey, PlaylistKey and TokenID all share the 32-byte id space.
type (
	TrackKey    = peerid.ID
	PlaylistKey = peerid.ID
	TokenID     = peerid.ID
)

// Track is the metadata row for one audio track. The payload itself lives
// at data/<key> and is owned by the file-fetch subsystem, not here.
type Track struct {
	Key         TrackKey `json:"key"`
	Fingerprint []uint32 `json:"fingerprint,omitempty"`
	Title       string   `json:"title,omitempty"`
	Album       string   `json:"album,omitempty"`
	Interpret   string   `json:"interpret,omitempty"`
	People      string   `json:"people,omitempty"`
	Composer    string   `json:"composer,omitempty"`
	Duration    float64  `json:"duration"`
	FavsCount   uint32   `json:"favs_count"`

	// Lossless, Channels and Bitrate are not part of spec.md's Track but
	// are recovered from the original audio_file metadata (SPEC_FULL §3).
	Lossless bool   `json:"lossless,omitempty"`
	Channels uint8  `json:"channels,omitempty"`
	Bitrate  uint32 `json:"bitrate,omitempty"`
}

// Playlist is an ordered, origin-owned sequence of track keys.
type Playlist struct {
	Key    PlaylistKey `json:"key"`
	Title  string      `json:"title"`
	Desc   string      `json:"desc,omitempty"`
	Tracks []TrackKey  `json:"tracks"`
	Origin peerid.ID   `json:"origin"`
}

// Token is the resumable playback state bound to one physical card.
type Token struct {
	ID          TokenID     `json:"id"`
	PlaylistKey PlaylistKey `json:"playlist_key,omitempty"`
	Played      []TrackKey  `json:"played,omitempty"`
	Position    uint32      `json:"position,omitempty"`
	LastUse     int64       `json:"last_use"`
}

// PeerPresence is the identity+address tuple advertised in a Join.
type PeerPresence struct {
	ID   peerid.ID `json:"id"`
	Addr string    `json:"addr"`
}

// NetworkKey is the 32-byte symmetric key shared by a swarm.
type NetworkKey [32]byte
