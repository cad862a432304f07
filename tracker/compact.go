package tracker

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/tharunyogenthra/bitleech/peer"
)

const compactPeerSize = 6

// DecodeCompactPeers parses the BEP 23 compact peer format: 6 bytes per
// peer, 4 bytes of big-endian IPv4 address followed by a 2-byte
// big-endian port.
func DecodeCompactPeers(data []byte) ([]peer.Endpoint, error) {
	if len(data)%compactPeerSize != 0 {
		return nil, fmt.Errorf("compact peer list length %d not a multiple of %d", len(data), compactPeerSize)
	}
	n := len(data) / compactPeerSize
	out := make([]peer.Endpoint, n)
	for i := 0; i < n; i++ {
		off := i * compactPeerSize
		ip := make(net.IP, 4)
		copy(ip, data[off:off+4])
		port := binary.BigEndian.Uint16(data[off+4 : off+6])
		out[i] = peer.Endpoint{IP: ip, Port: port}
	}
	return out, nil
}

// EncodeCompactPeers renders a peer list in the compact format; the
// inverse of DecodeCompactPeers, used by tests to assert round-trip
// fidelity.
func EncodeCompactPeers(peers []peer.Endpoint) []byte {
	out := make([]byte, 0, len(peers)*compactPeerSize)
	for _, p := range peers {
		ip4 := p.IP.To4()
		out = append(out, ip4...)
		out = binary.BigEndian.AppendUint16(out, p.Port)
	}
	return out
}
