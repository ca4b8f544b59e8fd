package overlay

import (
	"sync"

	"hexnode/internal/peerid"
	"hexnode/internal/transport"
)

// State is a peer session's position in the handshake lifecycle
// (spec.md §4.3).
type State int

const (
	StateConnecting State = iota
	StateSendJoin
	StateWaitForJoin
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSendJoin:
		return "send_join"
	case StateWaitForJoin:
		return "wait_for_join"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Peer is one remote node's session: its identity, address, and the
// framed session used to reach it. Readers own only a tag and forward
// to the central mailbox; there is no back-pointer from the session to
// the table (spec.md §9's cyclic-ownership note).
type Peer struct {
	ID      peerid.ID
	Addr    string
	Session *transport.Session

	mu    sync.Mutex
	state State
}

func newPeer(id peerid.ID, addr string, sess *transport.Session, state State) *Peer {
	return &Peer{ID: id, Addr: addr, Session: sess, state: state}
}

// State returns the peer's current lifecycle state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// setState transitions the peer to a new state.
func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// table is the peer-table: a mutex-protected map of established peer
// sessions (a peer is added only once its handshake completes),
// generalized from the teacher's room.go client map.
type table struct {
	mu    sync.RWMutex
	byID  map[peerid.ID]*Peer
}

func newTable() *table {
	return &table{byID: make(map[peerid.ID]*Peer)}
}

// add registers a peer under its id. If an entry for the same id already
// exists, the older session is kept and false is returned (spec.md §4.3
// de-duplication: "keep the older session and close the new one").
func (t *table) add(p *Peer) (kept *Peer, isNew bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.byID[p.ID]; ok {
		return existing, false
	}
	t.byID[p.ID] = p
	return p, true
}

func (t *table) remove(id peerid.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, id)
}

func (t *table) get(id peerid.ID) (*Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.byID[id]
	return p, ok
}

func (t *table) has(id peerid.ID) bool {
	_, ok := t.get(id)
	return ok
}

func (t *table) snapshot() []*Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Peer, 0, len(t.byID))
	for _, p := range t.byID {
		out = append(out, p)
	}
	return out
}

func (t *table) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
