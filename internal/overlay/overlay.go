package overlay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hexnode/internal/dag"
	"hexnode/internal/discovery"
	"hexnode/internal/peerid"
	"hexnode/internal/transport"
)

// OtherHandler receives Other(bytes) messages, routed to the file-fetch
// subsystem per spec.md §4.3.
type OtherHandler interface {
	HandleOther(from peerid.ID, payload []byte)
}

// Destination selects which peers a Spread targets.
type Destination struct {
	everyone bool
	peer     peerid.ID
}

// Everyone targets every established peer.
func Everyone() Destination { return Destination{everyone: true} }

// ToPeer targets a single peer by id.
func ToPeer(id peerid.ID) Destination { return Destination{peer: id} }

// Overlay brings up sessions, runs the handshake, exchanges peer
// samples, and fans messages out to the replication and file layers.
type Overlay struct {
	self      dag.PeerPresence
	key       transport.Key
	inspector dag.Inspector
	other     OtherHandler
	limiter   *rate.Limiter

	table *table

	firstPeerMu      sync.Mutex
	firstEstablished bool
}

// New constructs an Overlay. dialRate bounds outbound connection
// attempts per second, generalizing the teacher's hand-rolled per-IP
// connection counters (room.go) to overlay-wide dial pacing.
func New(self dag.PeerPresence, key transport.Key, inspector dag.Inspector, other OtherHandler, dialRate rate.Limit) *Overlay {
	o := &Overlay{
		self:      self,
		key:       key,
		inspector: inspector,
		other:     other,
		limiter:   rate.NewLimiter(dialRate, 1),
		table:     newTable(),
	}
	return o
}

// SetOtherHandler wires the Other(bytes) receiver after construction, for
// callers (cmd/hexd) where the handler (filefetch.Service) itself takes
// the Overlay as its Spreader and so cannot exist before it.
func (o *Overlay) SetOtherHandler(other OtherHandler) {
	o.other = other
}

// Listen accepts inbound connections on addr until ctx is canceled.
func (o *Overlay) Listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("overlay: listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("overlay: accept: %w", err)
		}
		go o.handleConn(conn)
	}
}

// Dial initiates an outbound connection to addr, rate-limited. It returns
// once the TCP connection is up; the handshake and the session then run
// in the background, as for accepted connections.
func (o *Overlay) Dial(ctx context.Context, addr string) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("overlay: dial %s: %w", addr, err)
	}
	go o.handleConn(conn)
	return nil
}

func (o *Overlay) handleConn(conn net.Conn) {
	sess := transport.NewSession(conn, o.key)
	peer, err := o.handshake(sess)
	if err != nil {
		slog.Debug("overlay handshake failed", "remote", conn.RemoteAddr(), "err", err)
		_ = sess.Close()
		return
	}

	go o.flushLoop(peer)
	o.readLoop(peer)
}

// handshake runs the SendJoin/WaitForJoin exchange and applies the
// de-duplication rules from spec.md §4.3.
func (o *Overlay) handshake(sess *transport.Session) (*Peer, error) {
	joinMsg := WireMessage{Type: MsgJoin, Join: &JoinPayload{
		Presence: o.self,
		Tips:     o.inspector.Restore(o.inspector.Tips()),
		Missing:  o.inspector.Missing(),
	}}
	encoded, err := joinMsg.Encode()
	if err != nil {
		return nil, err
	}
	if err := transport.WriteFrame(sess.Conn(), o.key, encoded); err != nil {
		return nil, fmt.Errorf("overlay: send join: %w", err)
	}

	raw, err := sess.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("overlay: await join: %w", err)
	}
	msg, err := DecodeMessage(raw)
	if err != nil {
		return nil, err
	}
	if msg.Type != MsgJoin || msg.Join == nil {
		return nil, errors.New("overlay: protocol error: expected join as first message")
	}

	remote := msg.Join.Presence
	if err := o.checkSelfConnection(remote, sess); err != nil {
		return nil, err
	}

	candidate := newPeer(remote.ID, remote.Addr, sess, StateEstablished)
	kept, isNew := o.table.add(candidate)
	if !isNew {
		return nil, fmt.Errorf("overlay: duplicate peer %s: keeping older session", remote.ID)
	}

	o.onEstablished(kept, *msg.Join)
	return kept, nil
}

// checkSelfConnection rejects a handshake where the remote's id matches
// ours and the remote IP is one of our own (self-connection via LAN
// reflection).
func (o *Overlay) checkSelfConnection(remote dag.PeerPresence, sess *transport.Session) error {
	if remote.ID != o.self.ID {
		return nil
	}
	local, err := discovery.LocalAddrs()
	if err != nil {
		return nil // best-effort; don't fail the handshake over this
	}
	host, _, err := net.SplitHostPort(sess.RemoteAddr().String())
	if err == nil && local[host] {
		return errors.New("overlay: rejecting self-connection via LAN reflection")
	}
	return nil
}

// onEstablished runs the post-handshake catch-up: send anything the
// remote is missing, send the subgraph it doesn't have, and on this
// node's first established peer, kick off peer sampling.
func (o *Overlay) onEstablished(p *Peer, join JoinPayload) {
	if missingHere := o.inspector.Restore(join.Missing); len(missingHere) > 0 {
		for _, t := range missingHere {
			o.sendTo(p, WireMessage{Type: MsgPush, Push: &t})
		}
	}
	if toSend := o.inspector.Subgraph(join.Tips); len(toSend) > 0 {
		for i := range toSend {
			o.sendTo(p, WireMessage{Type: MsgPush, Push: &toSend[i]})
		}
	}

	o.firstPeerMu.Lock()
	first := !o.firstEstablished
	o.firstEstablished = true
	o.firstPeerMu.Unlock()
	if first {
		o.sendTo(p, WireMessage{Type: MsgGetPeers})
	}
}

func (o *Overlay) sendTo(p *Peer, msg WireMessage) {
	encoded, err := msg.Encode()
	if err != nil {
		slog.Debug("overlay encode failed", "err", err)
		return
	}
	p.Session.Enqueue(encoded) // Enqueue wakes the peer's flush loop
}

// flushLoop drains one peer's write queue whenever it is woken, exiting
// once the peer has been removed from the table.
func (o *Overlay) flushLoop(p *Peer) {
	for range p.Session.Wake() {
		if p.State() == StateClosed {
			return
		}
		if err := p.Session.Flush(); err != nil {
			o.dropPeer(p, err)
			return
		}
	}
}

// readLoop forwards decoded messages to the central dispatch until the
// session closes or protocol-violates.
func (o *Overlay) readLoop(p *Peer) {
	for {
		raw, err := p.Session.ReadMessage()
		if err != nil {
			o.dropPeer(p, err)
			return
		}
		msg, err := DecodeMessage(raw)
		if err != nil {
			o.dropPeer(p, err)
			return
		}
		o.dispatch(p, msg)
	}
}

func (o *Overlay) dispatch(from *Peer, msg WireMessage) {
	switch msg.Type {
	case MsgPush:
		// Applied locally only, not re-forwarded; convergence relies on
		// the author's own BroadcastTransition reaching every peer
		// directly rather than on relay-by-receiver.
		if msg.Push == nil {
			return
		}
		if !o.inspector.Approve(*msg.Push) {
			slog.Debug("push rejected by inspector", "from", from.ID)
			return
		}
		if err := o.inspector.Store(*msg.Push); err != nil {
			slog.Debug("push store failed", "from", from.ID, "err", err)
		}
	case MsgGetPeers:
		if msg.GetPeers == nil {
			// Request: reply with our table minus the requester.
			o.sendTo(from, WireMessage{Type: MsgGetPeers, GetPeers: &GetPeersPayload{List: o.peerSampleExcluding(from.ID)}})
			return
		}
		for _, presence := range msg.GetPeers.List {
			if presence.ID == o.self.ID || o.table.has(presence.ID) {
				continue
			}
			go func(addr string) {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := o.Dial(ctx, addr); err != nil {
					slog.Debug("overlay peer-sample dial failed", "addr", addr, "err", err)
				}
			}(presence.Addr)
		}
	case MsgOther:
		if o.other != nil {
			o.other.HandleOther(from.ID, msg.Other)
		}
	case MsgClose:
		o.dropPeer(from, nil)
	default:
		slog.Debug("overlay: unknown message type", "type", msg.Type)
	}
}

func (o *Overlay) peerSampleExcluding(exclude peerid.ID) []dag.PeerPresence {
	var out []dag.PeerPresence
	for _, p := range o.table.snapshot() {
		if p.ID == exclude {
			continue
		}
		out = append(out, dag.PeerPresence{ID: p.ID, Addr: p.Addr})
	}
	return out
}

func (o *Overlay) dropPeer(p *Peer, cause error) {
	p.setState(StateClosed)
	o.table.remove(p.ID)
	_ = p.Session.Close()
	select {
	case p.Session.Wake() <- struct{}{}:
	default:
	}
	if cause != nil {
		log.Printf("overlay: peer %s session closed: %v", p.ID, cause)
	}
}

// BroadcastTransition authors an outbound Push to every established peer,
// the "authors outbound transitions in response to local actions" half of
// the inspector's contract (spec.md's control-flow summary).
func (o *Overlay) BroadcastTransition(t dag.Transition) {
	msg := WireMessage{Type: MsgPush, Push: &t}
	for _, p := range o.table.snapshot() {
		o.sendTo(p, msg)
	}
}

// Spread enqueues packet to the writer(s) selected by dest. Failures on
// one peer do not block others; the failing peer is marked for removal.
func (o *Overlay) Spread(payload []byte, dest Destination) {
	msg := WireMessage{Type: MsgOther, Other: payload}
	if dest.everyone {
		for _, p := range o.table.snapshot() {
			o.sendTo(p, msg)
		}
		return
	}
	if p, ok := o.table.get(dest.peer); ok {
		o.sendTo(p, msg)
	}
}

// PeerCount returns the number of established peers.
func (o *Overlay) PeerCount() int {
	return o.table.count()
}
