// Package filefetch implements the on-demand audio payload fetch
// protocol: AskForFile/HasFile/GetFile riding the overlay's opaque
// Other(bytes) channel (spec.md §4.6).
package filefetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"hexnode/internal/dag"
	"hexnode/internal/overlay"
	"hexnode/internal/peerid"
)

// ErrNoPeerHadFile is the one-shot failure when every peer's counter
// reached zero without a payload arriving.
var ErrNoPeerHadFile = errors.New("filefetch: no peer had the file")

type msgKind string

const (
	kindAskForFile msgKind = "ask_for_file"
	kindHasFile    msgKind = "has_file"
	kindGetFileReq msgKind = "get_file_req"
	kindGetFileAns msgKind = "get_file_ans"
)

// wireMsg is the opaque payload carried inside the overlay's Other(bytes)
// channel.
type wireMsg struct {
	Kind    msgKind      `json:"kind"`
	Key     dag.TrackKey `json:"key"`
	Has     bool         `json:"has,omitempty"`
	Payload []byte       `json:"payload,omitempty"`
}

// Spreader is the subset of overlay.Overlay the file-fetch service
// drives: broadcast and directed delivery over the same framed sessions.
type Spreader interface {
	Spread(payload []byte, dest overlay.Destination)
	PeerCount() int
}

// request tracks one in-flight AskForFile at the requester. pending is
// the number of HasFile answers still outstanding; awaiting is the
// number of GetFileReq round-trips sent to peers that answered
// has=true but haven't yet replied with a payload (or a failed
// install). The request only fails once both reach zero — a peer that
// claimed to have the file must not also count toward the "nobody had
// it" quorum just because its HasFile answer decremented pending.
type request struct {
	mu       sync.Mutex
	pending  int
	awaiting int
	resolved bool
	done     chan Result
}

// Result is what an AskForFile call resolves to.
type Result struct {
	Payload []byte
	Err     error
}

// Service implements the requester and responder sides of the protocol
// and owns the content-addressed data/ tree.
type Service struct {
	self     peerid.ID
	dataDir  string
	spreader Spreader
	hasFile  func(key dag.TrackKey) bool

	mu       sync.Mutex
	requests map[dag.TrackKey]*request
}

// New constructs a file-fetch service rooted at dataDir.
func New(self peerid.ID, dataDir string, spreader Spreader, hasFile func(key dag.TrackKey) bool) *Service {
	return &Service{
		self:     self,
		dataDir:  dataDir,
		spreader: spreader,
		hasFile:  hasFile,
		requests: make(map[dag.TrackKey]*request),
	}
}

// AskForFile broadcasts AskForFile(key) and resolves when either a peer's
// payload arrives or every peer's counter has been spent. Concurrent asks
// for the same key coalesce onto the same pending request.
func (s *Service) AskForFile(ctx context.Context, key dag.TrackKey) ([]byte, error) {
	s.mu.Lock()
	req, existed := s.requests[key]
	if !existed {
		numPeers := s.spreader.PeerCount()
		req = &request{pending: numPeers, done: make(chan Result, 1)}
		s.requests[key] = req
		if numPeers == 0 {
			req.done <- Result{Err: ErrNoPeerHadFile}
			delete(s.requests, key)
		}
	}
	s.mu.Unlock()

	if !existed {
		s.broadcast(wireMsg{Kind: kindAskForFile, Key: key})
	}

	select {
	case res := <-req.done:
		req.done <- res // let other waiters on the same key observe it too
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HandleOther decodes and dispatches one message from the overlay's
// Other(bytes) channel.
func (s *Service) HandleOther(from peerid.ID, payload []byte) {
	var msg wireMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		slog.Debug("filefetch: undecodable message", "from", from, "err", err)
		return
	}
	switch msg.Kind {
	case kindAskForFile:
		s.sendTo(from, wireMsg{Kind: kindHasFile, Key: msg.Key, Has: s.hasFile(msg.Key)})
	case kindHasFile:
		s.onHasFile(from, msg)
	case kindGetFileReq:
		s.onGetFileReq(from, msg.Key)
	case kindGetFileAns:
		s.onGetFileAns(msg.Key, msg.Payload)
	}
}

func (s *Service) onHasFile(from peerid.ID, msg wireMsg) {
	s.mu.Lock()
	req, ok := s.requests[msg.Key]
	s.mu.Unlock()
	if !ok {
		return
	}

	req.mu.Lock()
	if req.resolved {
		req.mu.Unlock()
		return
	}
	req.pending--
	askProvider := msg.Has
	if askProvider {
		req.awaiting++
	}
	noProviders := req.pending <= 0 && req.awaiting <= 0
	if noProviders {
		req.resolved = true
	}
	req.mu.Unlock()

	// sendTo below can re-enter this service synchronously (the test
	// spreader, and any same-process loopback peer, deliver inline), so
	// req.mu must already be released before this call.
	if askProvider {
		s.sendTo(from, wireMsg{Kind: kindGetFileReq, Key: msg.Key})
	}
	if noProviders {
		req.done <- Result{Err: ErrNoPeerHadFile}
		s.forgetRequest(msg.Key, req)
	}
}

func (s *Service) onGetFileReq(from peerid.ID, key dag.TrackKey) {
	path := filepath.Join(s.dataDir, key.String())
	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("filefetch: get_file_req for absent file", "key", key, "err", err)
		return
	}
	s.sendTo(from, wireMsg{Kind: kindGetFileAns, Key: key, Payload: raw})
}

func (s *Service) onGetFileAns(key dag.TrackKey, payload []byte) {
	s.mu.Lock()
	req, ok := s.requests[key]
	s.mu.Unlock()
	if !ok {
		return
	}

	req.mu.Lock()
	if req.resolved {
		req.mu.Unlock()
		return
	}
	req.awaiting--
	if err := s.installAtomic(key, payload); err != nil {
		slog.Error("filefetch: atomic install failed", "key", key, "err", err)
		noProviders := req.pending <= 0 && req.awaiting <= 0
		if noProviders {
			req.resolved = true
		}
		req.mu.Unlock()
		if noProviders {
			req.done <- Result{Err: ErrNoPeerHadFile}
			s.forgetRequest(key, req)
		}
		return
	}
	req.resolved = true
	req.mu.Unlock()

	slog.Info("filefetch: payload installed", "key", key, "size", humanize.Bytes(uint64(len(payload))))
	req.done <- Result{Payload: payload}
	s.forgetRequest(key, req)
}

// forgetRequest prunes req's map entry once resolved, so a later ask for
// the same key (e.g. after a peer that previously lacked the file
// acquires it) starts a fresh request instead of replaying a cached
// failure.
func (s *Service) forgetRequest(key dag.TrackKey, req *request) {
	s.mu.Lock()
	if s.requests[key] == req {
		delete(s.requests, key)
	}
	s.mu.Unlock()
}

// installAtomic writes payload to data/<key> via temp-file-then-rename,
// a no-op if the file already exists (create-if-absent, per spec.md §5).
func (s *Service) installAtomic(key dag.TrackKey, payload []byte) error {
	finalPath := filepath.Join(s.dataDir, key.String())
	if _, err := os.Stat(finalPath); err == nil {
		return nil // already installed; later duplicates are ignored
	}
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dataDir, ".download-"+uuid.NewString())
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(payload)
	closeErr := tmp.Close()
	if writeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write payload: %w", writeErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("install file: %w", err)
	}
	return nil
}

// Open opens an already-installed audio file for reading.
func (s *Service) Open(key dag.TrackKey) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.dataDir, key.String()))
}

// OpenSeeker opens an already-installed audio file for seekable reading,
// for callers (the streaming window) that need to jump to an arbitrary
// packet offset rather than read sequentially.
func (s *Service) OpenSeeker(key dag.TrackKey) (*os.File, error) {
	return os.Open(filepath.Join(s.dataDir, key.String()))
}

// HasLocal reports whether key's payload is already installed in
// dataDir, without consulting the caller-supplied hasFile closure (which
// may report tracks known about but not yet downloaded).
func (s *Service) HasLocal(key dag.TrackKey) bool {
	_, err := os.Stat(filepath.Join(s.dataDir, key.String()))
	return err == nil
}

// InstallLocal atomically writes payload as key's local file, for
// callers that produce a track's audio locally (the upload RPC path)
// rather than receiving it over the network.
func (s *Service) InstallLocal(key dag.TrackKey, payload []byte) error {
	return s.installAtomic(key, payload)
}

func (s *Service) broadcast(msg wireMsg) {
	raw, err := json.Marshal(msg)
	if err != nil {
		slog.Error("filefetch: encode failed", "err", err)
		return
	}
	s.spreader.Spread(raw, overlay.Everyone())
}

func (s *Service) sendTo(to peerid.ID, msg wireMsg) {
	raw, err := json.Marshal(msg)
	if err != nil {
		slog.Error("filefetch: encode failed", "err", err)
		return
	}
	s.spreader.Spread(raw, overlay.ToPeer(to))
}
