package rpc

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"hexnode/internal/music"
)

// streamSession is one open streaming window over an installed track's
// container file (spec.md §6's "streaming window" request kinds).
type streamSession struct {
	file *os.File
	dec  *music.Decoder
}

func (h *Handler) handleStreamStart(req Request) Answer {
	if req.TrackKey == nil {
		return errAnswer(req.ID, fmt.Errorf("rpc: stream_start requires track_key"))
	}
	track, err := h.store.GetTrack(*req.TrackKey)
	if err != nil {
		return errAnswer(req.ID, err)
	}
	file, err := h.fetch.OpenSeeker(*req.TrackKey)
	if err != nil {
		return errAnswer(req.ID, fmt.Errorf("rpc: open track file: %w", err))
	}
	cfg := music.ConfigurationForChannels(track.Channels)
	dec, err := music.NewDecoder(file, cfg)
	if err != nil {
		_ = file.Close()
		return errAnswer(req.ID, err)
	}

	sessionID := uuid.NewString()
	h.mu.Lock()
	h.streams[sessionID] = &streamSession{file: file, dec: dec}
	h.mu.Unlock()

	a := okAnswer(req.ID)
	a.StreamSessionID = sessionID
	a.TotalSamples = dec.Header().TotalSamples
	return a
}

func (h *Handler) lookupStream(sessionID string) (*streamSession, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.streams[sessionID]
	if !ok {
		return nil, fmt.Errorf("rpc: unknown stream_session_id %q", sessionID)
	}
	return sess, nil
}

func (h *Handler) handleStreamNextPacket(req Request) Answer {
	sess, err := h.lookupStream(req.StreamSessionID)
	if err != nil {
		return errAnswer(req.ID, err)
	}
	samples, err := sess.dec.NextPacket()
	a := okAnswer(req.ID)
	a.StreamSessionID = req.StreamSessionID
	if err == music.ErrEndOfStream {
		a.EndOfStream = true
		return a
	}
	if err != nil {
		return errAnswer(req.ID, err)
	}
	a.PacketSamples = samples
	return a
}

func (h *Handler) handleStreamSeek(req Request) Answer {
	sess, err := h.lookupStream(req.StreamSessionID)
	if err != nil {
		return errAnswer(req.ID, err)
	}
	if err := sess.dec.SeekToSample(req.SeekSample); err != nil {
		return errAnswer(req.ID, err)
	}
	a := okAnswer(req.ID)
	a.StreamSessionID = req.StreamSessionID
	return a
}

func (h *Handler) handleStreamEnd(req Request) Answer {
	h.mu.Lock()
	sess, ok := h.streams[req.StreamSessionID]
	if ok {
		delete(h.streams, req.StreamSessionID)
	}
	h.mu.Unlock()
	if !ok {
		return errAnswer(req.ID, fmt.Errorf("rpc: unknown stream_session_id %q", req.StreamSessionID))
	}
	_ = sess.file.Close()
	return okAnswer(req.ID)
}
