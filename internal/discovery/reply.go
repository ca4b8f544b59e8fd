package discovery

import (
	"log/slog"
	"net"
)

// ReplyServer listens for probe packets on port and answers any whose
// version and key digest match, as long as the probe did not originate
// from one of this host's own IPs with the same contact port.
type ReplyServer struct {
	conn        *net.UDPConn
	version     byte
	keyDigest   [32]byte
	contactPort uint16
}

// NewReplyServer binds a UDP socket on port. Broadcast is enabled (Go
// sets SO_BROADCAST on UDP sockets); address reuse is not set, so the
// bind fails if another socket already holds the port.
func NewReplyServer(port int, version byte, networkKeyDigest [32]byte, contactPort uint16) (*ReplyServer, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	return &ReplyServer{conn: conn, version: version, keyDigest: networkKeyDigest, contactPort: contactPort}, nil
}

// Close stops the reply server.
func (r *ReplyServer) Close() error {
	return r.conn.Close()
}

// Serve blocks, replying to matching probes until the socket is closed.
func (r *ReplyServer) Serve() error {
	buf := make([]byte, packetSize+64)
	local, err := localAddrs()
	if err != nil {
		return err
	}

	for {
		n, remote, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		p, ok := decodePacket(buf[:n])
		if !ok || p.version != r.version || p.keyDigest != r.keyDigest {
			continue
		}
		if local[remote.IP.String()] && p.contactPort == r.contactPort {
			continue // self-reflection via LAN broadcast
		}

		reply := packet{version: r.version, keyDigest: r.keyDigest, contactPort: r.contactPort}
		if _, err := r.conn.WriteToUDP(reply.encode(), remote); err != nil {
			slog.Debug("discovery reply write failed", "remote", remote, "err", err)
		}
	}
}
