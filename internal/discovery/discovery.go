// Package discovery implements the LAN broadcast probe/reply protocol
// that yields a bootstrap peer address for a given network key
// (spec.md §4.2).
package discovery

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	packetSize    = 1 + 32 + 2
	beaconPeriod  = 500 * time.Millisecond
	defaultTimeout = 2 * time.Second
)

// ErrNoPeerFound is returned by Beacon when the timeout elapses with no
// matching reply.
var ErrNoPeerFound = errors.New("discovery: no peer found")

// packet is the wire structure exchanged by both probe and reply: a
// version byte, sha256(NetworkKey) (not the key itself), and the
// sender's contact port.
type packet struct {
	version     byte
	keyDigest   [32]byte
	contactPort uint16
}

func (p packet) encode() []byte {
	buf := make([]byte, packetSize)
	buf[0] = p.version
	copy(buf[1:33], p.keyDigest[:])
	binary.LittleEndian.PutUint16(buf[33:35], p.contactPort)
	return buf
}

func decodePacket(raw []byte) (packet, bool) {
	if len(raw) != packetSize {
		return packet{}, false
	}
	var p packet
	p.version = raw[0]
	copy(p.keyDigest[:], raw[1:33])
	p.contactPort = binary.LittleEndian.Uint16(raw[33:35])
	return p, true
}

// KeyDigest hashes a NetworkKey the way discovery puts it on the wire:
// the swarm is identified without exposing the key itself.
func KeyDigest(networkKey [32]byte) [32]byte {
	return sha256.Sum256(networkKey[:])
}

// LocalAddrs returns the set of IP addresses bound to this host's
// interfaces. Exported for the overlay's self-connection dedup check
// (spec.md §4.3), which needs the same "is this my own IP" test.
func LocalAddrs() (map[string]bool, error) {
	return localAddrs()
}

// localAddrs returns the set of IP addresses bound to this host's
// interfaces, used to filter out self-replies.
func localAddrs() (map[string]bool, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("discovery: list interface addrs: %w", err)
	}
	out := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip != nil {
			out[ip.String()] = true
		}
	}
	return out, nil
}
