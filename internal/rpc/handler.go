package rpc

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"hexnode/internal/dag"
	"hexnode/internal/filefetch"
	"hexnode/internal/music"
	"hexnode/internal/peerid"
	"hexnode/internal/store"
)

// Broadcaster is the subset of overlay.Overlay the RPC layer authors
// outbound transitions through.
type Broadcaster interface {
	BroadcastTransition(t dag.Transition)
	PeerCount() int
}

// Handler implements every request kind spec.md §6 names, backed by the
// local store, the file-fetch service, and (optionally) the overlay.
type Handler struct {
	self  peerid.ID
	store *store.Store
	fetch *filefetch.Service
	peers Broadcaster

	mu       sync.Mutex
	streams  map[string]*streamSession
	progress map[string]*progressEntry
}

// New constructs a Handler. peers may be nil for a node with no overlay
// configured (metadata-only mode).
func New(self peerid.ID, st *store.Store, fetch *filefetch.Service, peers Broadcaster) *Handler {
	return &Handler{
		self:     self,
		store:    st,
		fetch:    fetch,
		peers:    peers,
		streams:  make(map[string]*streamSession),
		progress: make(map[string]*progressEntry),
	}
}

// Handle dispatches one request and returns its answer. It never panics
// on a malformed request; any domain error surfaces as Answer.Error.
func (h *Handler) Handle(ctx context.Context, req Request) Answer {
	switch req.Kind {
	case KindSearch:
		return h.handleSearch(req)
	case KindGetTrack:
		return h.handleGetTrack(req)
	case KindUpsertTrack:
		return h.handleUpsertTrack(req)
	case KindDeleteTrack:
		return h.handleDeleteTrack(req)
	case KindGetPlaylist:
		return h.handleGetPlaylist(req)
	case KindListPlaylists:
		return h.handleListPlaylists(req)
	case KindUpsertPlaylist:
		return h.handleUpsertPlaylist(req)
	case KindDeletePlaylist:
		return h.handleDeletePlaylist(req)
	case KindGetToken:
		return h.handleGetToken(req)
	case KindUpsertToken:
		return h.handleUpsertToken(req)
	case KindDeleteToken:
		return h.handleDeleteToken(req)
	case KindResumeToken:
		return h.handleResumeToken(req)
	case KindStreamStart:
		return h.handleStreamStart(req)
	case KindStreamNextPacket:
		return h.handleStreamNextPacket(req)
	case KindStreamSeek:
		return h.handleStreamSeek(req)
	case KindStreamEnd:
		return h.handleStreamEnd(req)
	case KindUpload:
		return h.handleUpload(req)
	case KindDownload:
		return h.handleDownload(ctx, req)
	case KindProgress:
		return h.handleProgress(req)
	case KindSummary:
		return h.handleSummary(req)
	case KindAskForFile:
		return h.handleAskForFile(ctx, req)
	default:
		return errAnswer(req.ID, fmt.Errorf("rpc: unknown request kind %q", req.Kind))
	}
}

func (h *Handler) handleSearch(req Request) Answer {
	tracks, err := h.store.Search(req.Query)
	if err != nil {
		return errAnswer(req.ID, err)
	}
	a := okAnswer(req.ID)
	a.Tracks = tracks
	return a
}

func (h *Handler) handleGetTrack(req Request) Answer {
	if req.TrackKey == nil {
		return errAnswer(req.ID, fmt.Errorf("rpc: get_track requires track_key"))
	}
	track, err := h.store.GetTrack(*req.TrackKey)
	if err != nil {
		return errAnswer(req.ID, err)
	}
	a := okAnswer(req.ID)
	a.Track = &track
	return a
}

// authorAndStore builds a transition over the current tips, applies it
// locally through the store's Inspector surface, and broadcasts it if an
// overlay is wired — the "authors outbound transitions in response to
// local actions" half of the control flow spec.md's overview describes.
func (h *Handler) authorAndStore(body []byte) (dag.Transition, error) {
	parents := h.store.Tips()
	t := dag.Transition{Author: h.self, Parents: parents, Body: body}
	if err := h.store.Store(t); err != nil {
		return dag.Transition{}, fmt.Errorf("rpc: store transition: %w", err)
	}
	if h.peers != nil {
		h.peers.BroadcastTransition(t)
	}
	return t, nil
}

func (h *Handler) handleUpsertTrack(req Request) Answer {
	if req.Track == nil {
		return errAnswer(req.ID, fmt.Errorf("rpc: upsert_track requires track"))
	}
	body, err := dag.EncodeUpsertTrack(*req.Track)
	if err != nil {
		return errAnswer(req.ID, err)
	}
	if _, err := h.authorAndStore(body); err != nil {
		return errAnswer(req.ID, err)
	}
	track, err := h.store.GetTrack(req.Track.Key)
	if err != nil {
		return errAnswer(req.ID, err)
	}
	a := okAnswer(req.ID)
	a.Track = &track
	return a
}

func (h *Handler) handleDeleteTrack(req Request) Answer {
	if req.TrackKey == nil {
		return errAnswer(req.ID, fmt.Errorf("rpc: delete_track requires track_key"))
	}
	body, err := dag.EncodeDeleteTrack(*req.TrackKey)
	if err != nil {
		return errAnswer(req.ID, err)
	}
	if _, err := h.authorAndStore(body); err != nil {
		return errAnswer(req.ID, err)
	}
	return okAnswer(req.ID)
}

func (h *Handler) handleGetPlaylist(req Request) Answer {
	if req.PlaylistKey == nil {
		return errAnswer(req.ID, fmt.Errorf("rpc: get_playlist requires playlist_key"))
	}
	p, err := h.store.GetPlaylist(*req.PlaylistKey)
	if err != nil {
		return errAnswer(req.ID, err)
	}
	a := okAnswer(req.ID)
	a.Playlist = &p
	return a
}

func (h *Handler) handleListPlaylists(req Request) Answer {
	playlists, err := h.store.ListPlaylists()
	if err != nil {
		return errAnswer(req.ID, err)
	}
	a := okAnswer(req.ID)
	a.Playlists = playlists
	return a
}

func (h *Handler) handleUpsertPlaylist(req Request) Answer {
	if req.Playlist == nil {
		return errAnswer(req.ID, fmt.Errorf("rpc: upsert_playlist requires playlist"))
	}
	body, err := dag.EncodeUpsertPlaylist(*req.Playlist)
	if err != nil {
		return errAnswer(req.ID, err)
	}
	if _, err := h.authorAndStore(body); err != nil {
		return errAnswer(req.ID, err)
	}
	p, err := h.store.GetPlaylist(req.Playlist.Key)
	if err != nil {
		return errAnswer(req.ID, err)
	}
	a := okAnswer(req.ID)
	a.Playlist = &p
	return a
}

func (h *Handler) handleDeletePlaylist(req Request) Answer {
	if req.PlaylistKey == nil {
		return errAnswer(req.ID, fmt.Errorf("rpc: delete_playlist requires playlist_key"))
	}
	body, err := dag.EncodeDeletePlaylist(*req.PlaylistKey)
	if err != nil {
		return errAnswer(req.ID, err)
	}
	if _, err := h.authorAndStore(body); err != nil {
		return errAnswer(req.ID, err)
	}
	return okAnswer(req.ID)
}

func (h *Handler) handleGetToken(req Request) Answer {
	if req.TokenID == nil {
		return errAnswer(req.ID, fmt.Errorf("rpc: get_token requires token_id"))
	}
	tok, err := h.store.GetToken(*req.TokenID)
	if err != nil {
		return errAnswer(req.ID, err)
	}
	a := okAnswer(req.ID)
	a.Token = &tok
	return a
}

func (h *Handler) handleUpsertToken(req Request) Answer {
	if req.Token == nil {
		return errAnswer(req.ID, fmt.Errorf("rpc: upsert_token requires token"))
	}
	body, err := dag.EncodeUpsertToken(*req.Token)
	if err != nil {
		return errAnswer(req.ID, err)
	}
	if _, err := h.authorAndStore(body); err != nil {
		return errAnswer(req.ID, err)
	}
	tok, err := h.store.GetToken(req.Token.ID)
	if err != nil {
		return errAnswer(req.ID, err)
	}
	a := okAnswer(req.ID)
	a.Token = &tok
	return a
}

func (h *Handler) handleDeleteToken(req Request) Answer {
	if req.TokenID == nil {
		return errAnswer(req.ID, fmt.Errorf("rpc: delete_token requires token_id"))
	}
	body, err := dag.EncodeDeleteToken(*req.TokenID)
	if err != nil {
		return errAnswer(req.ID, err)
	}
	if _, err := h.authorAndStore(body); err != nil {
		return errAnswer(req.ID, err)
	}
	return okAnswer(req.ID)
}

func (h *Handler) handleResumeToken(req Request) Answer {
	if req.TokenID == nil {
		return errAnswer(req.ID, fmt.Errorf("rpc: resume_token requires token_id"))
	}
	playlist, track, position, err := h.store.ResumeToken(*req.TokenID)
	if err != nil {
		return errAnswer(req.ID, err)
	}
	a := okAnswer(req.ID)
	a.ResumePlaylist = &playlist
	a.ResumeTrack = &track
	a.ResumePosition = position
	return a
}

func (h *Handler) handleSummary(req Request) Answer {
	tracks, err := h.store.ListTracks()
	if err != nil {
		return errAnswer(req.ID, err)
	}
	playlists, err := h.store.ListPlaylists()
	if err != nil {
		return errAnswer(req.ID, err)
	}
	peerCount := 0
	if h.peers != nil {
		peerCount = h.peers.PeerCount()
	}
	a := okAnswer(req.ID)
	a.Summary = &Summary{TrackCount: len(tracks), PlaylistCount: len(playlists), PeerCount: peerCount}
	return a
}

func (h *Handler) handleAskForFile(ctx context.Context, req Request) Answer {
	if req.TrackKey == nil {
		return errAnswer(req.ID, fmt.Errorf("rpc: ask_for_file requires track_key"))
	}
	payload, err := h.fetch.AskForFile(ctx, *req.TrackKey)
	if err != nil {
		return errAnswer(req.ID, err)
	}
	a := okAnswer(req.ID)
	a.FilePayload = payload
	return a
}

// handleUpload encodes client-supplied raw PCM into the container
// format, installs it content-addressed, and authors an UpsertTrack
// transition for it. Metadata comes either from UploadTagSource (sniffed
// via dhowden/tag) or directly from the Upload* request fields.
func (h *Handler) handleUpload(req Request) Answer {
	if len(req.UploadPCM)%2 != 0 {
		return errAnswer(req.ID, fmt.Errorf("rpc: upload_pcm must be an even number of bytes"))
	}
	channels := req.UploadChannels
	if channels == 0 {
		channels = 2
	}
	cfg := music.ConfigurationForChannels(channels)

	pcm := make([]int16, len(req.UploadPCM)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(req.UploadPCM[i*2 : i*2+2]))
	}
	totalFrames := len(pcm) / int(channels)

	var buf bytes.Buffer
	enc, err := music.NewEncoder(&buf, cfg, uint32(totalFrames), music.PeakOfPCM(pcm))
	if err != nil {
		return errAnswer(req.ID, err)
	}
	blockSamples := music.RawBlockSize * int(channels)
	for start := 0; start < len(pcm); start += blockSamples {
		end := start + blockSamples
		block := make([]int16, blockSamples)
		if end > len(pcm) {
			copy(block, pcm[start:])
		} else {
			copy(block, pcm[start:end])
		}
		if err := enc.EncodeBlock(block); err != nil {
			return errAnswer(req.ID, err)
		}
	}

	containerBytes := buf.Bytes()
	digest := sha256.Sum256(containerBytes)
	key, err := peerid.FromBytes(digest[:])
	if err != nil {
		return errAnswer(req.ID, err)
	}

	if err := h.fetch.InstallLocal(key, containerBytes); err != nil {
		return errAnswer(req.ID, err)
	}

	title, album, interpret, composer := req.UploadTitle, req.UploadAlbum, req.UploadInterpret, req.UploadComposer
	if len(req.UploadTagSource) > 0 {
		meta, err := music.SniffTags(bytes.NewReader(req.UploadTagSource))
		if err != nil {
			slog.Debug("rpc: tag sniff failed, falling back to supplied metadata", "err", err)
		} else {
			title, album, interpret, composer = meta.Title, meta.Album, meta.Artist, meta.Composer
		}
	}

	track := dag.Track{
		Key:       key,
		Title:     title,
		Album:     album,
		Interpret: interpret,
		Composer:  composer,
		Duration:  float64(totalFrames) / music.SampleRate,
		Lossless:  req.UploadLossless,
		Channels:  channels,
	}
	body, err := dag.EncodeUpsertTrack(track)
	if err != nil {
		return errAnswer(req.ID, err)
	}
	if _, err := h.authorAndStore(body); err != nil {
		return errAnswer(req.ID, err)
	}

	a := okAnswer(req.ID)
	a.UploadedTrack = &track
	return a
}

// progressEntry tracks one in-flight multi-key download.
type progressEntry struct {
	mu      sync.Mutex
	total   int
	done    int
	results map[dag.TrackKey][]byte
	errs    map[dag.TrackKey]error
	finished bool
}

// handleDownload kicks off a background fetch for every requested key
// not already installed locally, returning a progress id the caller
// polls with the progress request kind.
func (h *Handler) handleDownload(ctx context.Context, req Request) Answer {
	if len(req.DownloadKeys) == 0 {
		return errAnswer(req.ID, fmt.Errorf("rpc: download requires download_keys"))
	}

	entry := &progressEntry{
		total:   len(req.DownloadKeys),
		results: make(map[dag.TrackKey][]byte),
		errs:    make(map[dag.TrackKey]error),
	}
	progressID := uuid.NewString()

	h.mu.Lock()
	h.progress[progressID] = entry
	h.mu.Unlock()

	go func() {
		for _, key := range req.DownloadKeys {
			if h.fetch.HasLocal(key) {
				entry.mu.Lock()
				entry.done++
				entry.mu.Unlock()
				continue
			}
			fetchCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			payload, err := h.fetch.AskForFile(fetchCtx, key)
			cancel()
			entry.mu.Lock()
			if err != nil {
				entry.errs[key] = err
			} else {
				entry.results[key] = payload
			}
			entry.done++
			entry.mu.Unlock()
		}
		entry.mu.Lock()
		entry.finished = true
		entry.mu.Unlock()
	}()

	a := okAnswer(req.ID)
	a.ProgressID = progressID
	return a
}

func (h *Handler) handleProgress(req Request) Answer {
	h.mu.Lock()
	entry, ok := h.progress[req.ProgressID]
	h.mu.Unlock()
	if !ok {
		return errAnswer(req.ID, fmt.Errorf("rpc: unknown progress_id %q", req.ProgressID))
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	a := okAnswer(req.ID)
	a.ProgressID = req.ProgressID
	if entry.total > 0 {
		a.ProgressPercent = 100 * float64(entry.done) / float64(entry.total)
	}
	a.ProgressDone = entry.finished
	return a
}
