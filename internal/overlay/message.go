// Package overlay implements peer discovery, the framed-session
// handshake, peer-sample exchange, and message fan-out (spec.md §4.3).
package overlay

import (
	"encoding/json"
	"fmt"

	"hexnode/internal/dag"
	"hexnode/internal/peerid"
)

// MsgType identifies which overlay message a WireMessage carries.
type MsgType string

const (
	MsgJoin     MsgType = "join"
	MsgGetPeers MsgType = "get_peers"
	MsgPush     MsgType = "push"
	MsgClose    MsgType = "close"
	MsgOther    MsgType = "other"
)

// JoinPayload is the handshake message exchanged on connect: identity,
// current tips, and the keys this node is still missing.
type JoinPayload struct {
	Presence dag.PeerPresence  `json:"presence"`
	Tips     []WireTransition  `json:"tips"`
	Missing  []peerid.ID       `json:"missing"`
}

// WireTransition is dag.Transition's JSON-safe wire form (parents/body
// encode cleanly through encoding/json's []byte-as-base64 handling; the
// [32]byte id array needs the same treatment dag.Transition's own fields
// already provide via peerid.ID's array type, so this is a direct alias).
type WireTransition = dag.Transition

// GetPeersPayload carries Option<list> semantics: a GetPeers message with
// no payload (WireMessage.GetPeers == nil) is the request (None); a
// message carrying a payload, even one whose List is nil or empty, is the
// answer (Some(list)).
type GetPeersPayload struct {
	List []dag.PeerPresence `json:"list,omitempty"`
}

// WireMessage is the envelope carried over one framed session.
type WireMessage struct {
	Type     MsgType          `json:"type"`
	Join     *JoinPayload     `json:"join,omitempty"`
	GetPeers *GetPeersPayload `json:"get_peers,omitempty"`
	Push     *WireTransition  `json:"push,omitempty"`
	Other    []byte           `json:"other,omitempty"`
}

// Encode serializes m for a framed session.
func (m WireMessage) Encode() ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("overlay: encode message: %w", err)
	}
	return raw, nil
}

// DecodeMessage parses one framed payload into a WireMessage.
func DecodeMessage(raw []byte) (WireMessage, error) {
	var m WireMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return WireMessage{}, fmt.Errorf("overlay: decode message: %w", err)
	}
	return m, nil
}
