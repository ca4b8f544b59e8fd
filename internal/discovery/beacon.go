package discovery

import (
	"net"
	"time"
)

// BeaconConfig configures one bootstrap attempt.
type BeaconConfig struct {
	Port        int           // well-known UDP discovery port
	Version     byte
	KeyDigest   [32]byte
	ContactPort uint16 // this host's own contact port, advertised and used for self-filtering
	Timeout     time.Duration
}

// Beacon periodically broadcasts a probe and returns the contact address
// of the first peer whose reply matches, substituting the peer's
// advertised contact port as the destination port. If no match arrives
// before Timeout, it returns ErrNoPeerFound (not an error the caller
// needs to treat as fatal — spec.md §4.2 frames it as a plain timeout).
func Beacon(cfg BeaconConfig) (*net.UDPAddr, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	local, err := localAddrs()
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := conn.SetReadBuffer(1 << 16); err != nil {
		// Non-fatal: some platforms/sandboxes disallow tuning this.
		_ = err
	}

	broadcastAddr := &net.UDPAddr{IP: net.IPv4bcast, Port: cfg.Port}
	probe := packet{version: cfg.Version, keyDigest: cfg.KeyDigest, contactPort: cfg.ContactPort}
	probeBytes := probe.encode()

	deadline := time.Now().Add(timeout)
	_ = conn.SetReadDeadline(deadline)

	ticker := time.NewTicker(beaconPeriod)
	defer ticker.Stop()

	if _, err := conn.WriteToUDP(probeBytes, broadcastAddr); err != nil {
		return nil, err
	}

	buf := make([]byte, packetSize+64)
	for {
		if time.Now().After(deadline) {
			return nil, ErrNoPeerFound
		}

		select {
		case <-ticker.C:
			_, _ = conn.WriteToUDP(probeBytes, broadcastAddr)
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue // read timeout; loop until deadline
		}
		reply, ok := decodePacket(buf[:n])
		if !ok || reply.version != cfg.Version || reply.keyDigest != cfg.KeyDigest {
			continue
		}
		if local[remote.IP.String()] && reply.contactPort == cfg.ContactPort {
			continue // self-reply via broadcast reflection
		}

		return &net.UDPAddr{IP: remote.IP, Port: int(reply.contactPort)}, nil
	}
}
