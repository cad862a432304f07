package peer

import (
	"io"
)

const protocolString = "BitTorrent protocol"

// Handshake is the fixed 68-byte frame exchanged before any other
// message: 0x13, "BitTorrent protocol", 8 reserved zero bytes, a 20-byte
// info-hash, and a 20-byte peer id.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake builds a Handshake for the given info-hash and peer id.
func NewHandshake(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{InfoHash: infoHash, PeerID: peerID}
}

// Serialize renders the handshake in its 68-byte wire form.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, 49+len(protocolString))
	cursor := 0
	buf[cursor] = byte(len(protocolString))
	cursor++
	cursor += copy(buf[cursor:], protocolString)
	cursor += copy(buf[cursor:], make([]byte, 8)) // reserved
	cursor += copy(buf[cursor:], h.InfoHash[:])
	copy(buf[cursor:], h.PeerID[:])
	return buf
}

// ReadHandshake reads a 68-byte handshake frame from r.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	lenBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	pstrLen := int(lenBuf[0])
	rest := make([]byte, pstrLen+48)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	cursor := pstrLen + 8
	var h Handshake
	copy(h.InfoHash[:], rest[cursor:cursor+20])
	cursor += 20
	copy(h.PeerID[:], rest[cursor:cursor+20])
	return &h, nil
}
