package peer

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageID identifies a wire message's first payload byte.
type MessageID uint8

const (
	MsgChoke         MessageID = 0
	MsgUnchoke       MessageID = 1
	MsgInterested    MessageID = 2
	MsgNotInterested MessageID = 3
	MsgHave          MessageID = 4
	MsgBitfield      MessageID = 5
	MsgRequest       MessageID = 6
	MsgPiece         MessageID = 7
	MsgCancel        MessageID = 8
)

// BlockSize is the granularity of wire request messages: 16 KiB.
const BlockSize = 16384

// Message is a framed non-handshake wire message: a 4-byte big-endian
// length prefix (of ID+Payload), an ID byte, and a payload.
type Message struct {
	ID      MessageID
	Payload []byte
}

// Serialize renders m in its framed wire form. A nil Message serializes
// to the zero-length keep-alive frame.
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4)
	}
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// ReadMessage reads one framed message from r. A zero-length frame (a
// keep-alive) yields (nil, nil).
func ReadMessage(r io.Reader) (*Message, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length == 0 {
		return nil, nil
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return &Message{ID: MessageID(body[0]), Payload: body[1:]}, nil
}

// FormatRequest builds a request message: <index:4><begin:4><length:4>.
func FormatRequest(index, begin, length int) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return &Message{ID: MsgRequest, Payload: payload}
}

// FormatHave builds a have message: <index:4>.
func FormatHave(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return &Message{ID: MsgHave, Payload: payload}
}

// ParsePieceMessage validates msg as a piece message for the expected
// index and copies its block into buf at the offset the message carries.
// It returns the number of bytes copied.
func ParsePieceMessage(expectedIndex int, buf []byte, msg *Message) (int, error) {
	if msg.ID != MsgPiece {
		return 0, fmt.Errorf("expected PIECE message, got id %d", msg.ID)
	}
	if len(msg.Payload) < 8 {
		return 0, fmt.Errorf("piece payload too short: %d bytes", len(msg.Payload))
	}
	index := int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	if index != expectedIndex {
		return 0, fmt.Errorf("expected piece %d, got %d", expectedIndex, index)
	}
	begin := int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	if begin < 0 || begin >= len(buf) {
		return 0, fmt.Errorf("begin offset %d out of range for buffer of length %d", begin, len(buf))
	}
	block := msg.Payload[8:]
	if begin+len(block) > len(buf) {
		return 0, fmt.Errorf("block of %d bytes at offset %d overruns buffer of length %d", len(block), begin, len(buf))
	}
	copy(buf[begin:], block)
	return len(block), nil
}

// ParseHaveMessage validates and extracts the piece index from a have
// message.
func ParseHaveMessage(msg *Message) (int, error) {
	if msg.ID != MsgHave {
		return 0, fmt.Errorf("expected HAVE message, got id %d", msg.ID)
	}
	if len(msg.Payload) != 4 {
		return 0, fmt.Errorf("have payload must be 4 bytes, got %d", len(msg.Payload))
	}
	return int(binary.BigEndian.Uint32(msg.Payload)), nil
}
