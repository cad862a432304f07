package peer

import (
	"crypto/sha1"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePeer drives the remote side of a net.Pipe to stand in for a real
// TCP peer during session tests.
func fakePeer(t *testing.T, conn net.Conn, infoHash [20]byte, data []byte, blockSize int) {
	t.Helper()

	hs, err := ReadHandshake(conn)
	require.NoError(t, err)
	assert.Equal(t, infoHash, hs.InfoHash)

	resp := NewHandshake(infoHash, [20]byte{9, 9, 9})
	_, err = conn.Write(resp.Serialize())
	require.NoError(t, err)

	_, err = conn.Write((&Message{ID: MsgBitfield, Payload: []byte{0xFF}}).Serialize())
	require.NoError(t, err)

	msg, err := ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, MsgUnchoke, msg.ID)

	msg, err = ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, MsgInterested, msg.ID)

	_, err = conn.Write((&Message{ID: MsgUnchoke}).Serialize())
	require.NoError(t, err)

	for requested := 0; requested < len(data); {
		req, err := ReadMessage(conn)
		require.NoError(t, err)
		require.Equal(t, MsgRequest, req.ID)
		begin := int(req.Payload[4])<<24 | int(req.Payload[5])<<16 | int(req.Payload[6])<<8 | int(req.Payload[7])
		length := int(req.Payload[8])<<24 | int(req.Payload[9])<<16 | int(req.Payload[10])<<8 | int(req.Payload[11])

		block := append([]byte{0, 0, 0, 0}, byte(begin>>24), byte(begin>>16), byte(begin>>8), byte(begin))
		block = append(block, data[begin:begin+length]...)
		_, err = conn.Write((&Message{ID: MsgPiece, Payload: block}).Serialize())
		require.NoError(t, err)
		requested += length
	}

	have, err := ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, MsgHave, have.ID)
}

func TestDialAndDownloadSinglePiece(t *testing.T) {
	client, remote := net.Pipe()
	defer remote.Close()

	infoHash := sha1.Sum([]byte("info"))
	data := []byte("hello")

	go fakePeer(t, remote, infoHash, data, BlockSize)

	s := &Session{
		Endpoint: Endpoint{IP: net.ParseIP("127.0.0.1"), Port: 1},
		conn:     client,
		state:    StateHandshakeSent,
		choked:   true,
		peerID:   [20]byte{1},
		infoHash: infoHash,
	}
	require.NoError(t, s.doHandshake())
	require.NoError(t, s.awaitBitfield())
	require.NoError(t, s.sendUnchoke())
	require.NoError(t, s.sendInterested())
	require.NoError(t, s.awaitUnchoke())
	assert.False(t, s.choked)

	buf, err := s.DownloadPiece(0, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, buf)
}

func TestDownloadPieceAbortsOnPeerClose(t *testing.T) {
	client, remote := net.Pipe()

	s := &Session{
		conn:     client,
		state:    StateActive,
		choked:   false,
		infoHash: [20]byte{1},
	}
	bf := Bitfield([]byte{0xFF})
	s.bitfield = bf

	go func() {
		time.Sleep(10 * time.Millisecond)
		remote.Close()
	}()

	_, err := s.DownloadPiece(0, 32768)
	require.Error(t, err)
	assert.Equal(t, 1, s.Failures())
}
