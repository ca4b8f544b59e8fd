// Package rpc is the local IPC surface external frontends talk to: a
// single request/answer packet pair carrying every operation kind
// (spec.md §6).
package rpc

import (
	"github.com/google/uuid"

	"hexnode/internal/dag"
)

// Kind discriminates which fields of a Request/Answer are populated.
type Kind string

const (
	KindSearch           Kind = "search"
	KindGetTrack         Kind = "get_track"
	KindUpsertTrack      Kind = "upsert_track"
	KindDeleteTrack      Kind = "delete_track"
	KindGetPlaylist      Kind = "get_playlist"
	KindListPlaylists    Kind = "list_playlists"
	KindUpsertPlaylist   Kind = "upsert_playlist"
	KindDeletePlaylist   Kind = "delete_playlist"
	KindGetToken         Kind = "get_token"
	KindUpsertToken      Kind = "upsert_token"
	KindDeleteToken      Kind = "delete_token"
	KindResumeToken      Kind = "resume_token"
	KindStreamStart      Kind = "stream_start"
	KindStreamNextPacket Kind = "stream_next_packet"
	KindStreamSeek       Kind = "stream_seek"
	KindStreamEnd        Kind = "stream_end"
	KindUpload           Kind = "upload"
	KindDownload         Kind = "download"
	KindProgress         Kind = "progress"
	KindSummary          Kind = "summary"
	KindAskForFile       Kind = "ask_for_file"
)

// Request is the exhaustive request packet: every request carries a
// 128-bit id and a kind, and only the fields relevant to that kind are
// populated (spec.md §6).
type Request struct {
	ID   uuid.UUID `json:"id"`
	Kind Kind       `json:"kind"`

	Query string `json:"query,omitempty"`

	Track    *dag.Track    `json:"track,omitempty"`
	TrackKey *dag.TrackKey `json:"track_key,omitempty"`

	Playlist    *dag.Playlist    `json:"playlist,omitempty"`
	PlaylistKey *dag.PlaylistKey `json:"playlist_key,omitempty"`

	Token   *dag.Token   `json:"token,omitempty"`
	TokenID *dag.TokenID `json:"token_id,omitempty"`

	StreamSessionID string `json:"stream_session_id,omitempty"`
	SeekSample      uint32 `json:"seek_sample,omitempty"`

	UploadPCM       []byte `json:"upload_pcm,omitempty"`
	UploadChannels  uint8  `json:"upload_channels,omitempty"`
	UploadTagSource []byte `json:"upload_tag_source,omitempty"`
	UploadTitle     string `json:"upload_title,omitempty"`
	UploadAlbum     string `json:"upload_album,omitempty"`
	UploadInterpret string `json:"upload_interpret,omitempty"`
	UploadComposer  string `json:"upload_composer,omitempty"`
	UploadLossless  bool   `json:"upload_lossless,omitempty"`

	DownloadFormat string         `json:"download_format,omitempty"`
	DownloadKeys   []dag.TrackKey `json:"download_keys,omitempty"`

	ProgressID string `json:"progress_id,omitempty"`
}

// Answer mirrors Request and echoes its id. Errors are reported as a
// string rather than a distinct error type, matching spec.md §6's
// "result union".
type Answer struct {
	ID    uuid.UUID `json:"id"`
	Error string    `json:"error,omitempty"`

	Tracks    []dag.Track    `json:"tracks,omitempty"`
	Track     *dag.Track     `json:"track,omitempty"`
	Playlist  *dag.Playlist  `json:"playlist,omitempty"`
	Playlists []dag.Playlist `json:"playlists,omitempty"`
	Token     *dag.Token     `json:"token,omitempty"`

	ResumePlaylist *dag.Playlist `json:"resume_playlist,omitempty"`
	ResumeTrack    *dag.TrackKey `json:"resume_track,omitempty"`
	ResumePosition uint32        `json:"resume_position,omitempty"`

	StreamSessionID string  `json:"stream_session_id,omitempty"`
	TotalSamples    uint32  `json:"total_samples,omitempty"`
	PacketSamples   []int16 `json:"packet_samples,omitempty"`
	EndOfStream     bool    `json:"end_of_stream,omitempty"`

	UploadedTrack *dag.Track `json:"uploaded_track,omitempty"`

	ProgressID      string  `json:"progress_id,omitempty"`
	ProgressPercent float64 `json:"progress_percent,omitempty"`
	ProgressDone    bool    `json:"progress_done,omitempty"`
	FilePayload     []byte  `json:"file_payload,omitempty"`

	Summary *Summary `json:"summary,omitempty"`
}

// Summary answers the "event/summary queries" request kind with node-wide
// counters.
type Summary struct {
	TrackCount    int `json:"track_count"`
	PlaylistCount int `json:"playlist_count"`
	PeerCount     int `json:"peer_count"`
}

func errAnswer(id uuid.UUID, err error) Answer {
	return Answer{ID: id, Error: err.Error()}
}

func okAnswer(id uuid.UUID) Answer {
	return Answer{ID: id}
}
