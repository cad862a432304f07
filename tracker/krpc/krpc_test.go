package krpc

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeGetPeersValuesReply(t *testing.T) {
	var id NodeID
	copy(id[:], "01234567890123456789")
	var infoHash [20]byte
	copy(infoHash[:], "abcdefghijabcdefghij")

	query := EncodeGetPeers("1", id, infoHash)
	assert.Contains(t, string(query), "1:q9:get_peers")

	peerRecord := []byte{1, 2, 3, 4, 0x1A, 0xE1}
	reply := []byte("d1:rd2:id20:" + string(id[:]) + "6:valuesl6:" + string(peerRecord) + "ee1:t1:12:y1:re")
	decoded, err := DecodeReply(reply)
	require.NoError(t, err)
	assert.Equal(t, "1", decoded.TransactionID)
	require.Len(t, decoded.Values, 1)
	assert.Equal(t, peerRecord, decoded.Values[0])
}

func TestDecodeReplyWithNodes(t *testing.T) {
	node := Node{Addr: &net.UDPAddr{IP: net.ParseIP("1.2.3.4").To4(), Port: 6881}}
	copy(node.ID[:], "aaaaaaaaaaaaaaaaaaaa")
	record := make([]byte, 26)
	copy(record[:20], node.ID[:])
	copy(record[20:24], node.Addr.IP.To4())
	record[24] = byte(node.Addr.Port >> 8)
	record[25] = byte(node.Addr.Port)

	reply := []byte("d1:rd2:id20:bbbbbbbbbbbbbbbbbbbb5:nodes26:" + string(record) + "e1:t1:21:y1:re")
	decoded, err := DecodeReply(reply)
	require.NoError(t, err)
	require.Len(t, decoded.Nodes, 1)
	assert.Equal(t, node.ID, decoded.Nodes[0].ID)
	assert.Equal(t, 6881, decoded.Nodes[0].Addr.Port)
}

func TestDecodeReplyIgnoresNonResponseMessages(t *testing.T) {
	query := []byte("d1:ad2:id20:01234567890123456789e1:q9:find_node1:t1:11:y1:qe")
	decoded, err := DecodeReply(query)
	require.NoError(t, err)
	assert.Empty(t, decoded.Nodes)
	assert.Empty(t, decoded.Values)
}

func TestParseCompactNodesRejectsBadLength(t *testing.T) {
	_, err := ParseCompactNodes([]byte{1, 2, 3})
	require.Error(t, err)
}
