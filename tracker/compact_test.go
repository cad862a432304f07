package tracker

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tharunyogenthra/bitleech/peer"
)

func TestCompactPeerRoundTrip(t *testing.T) {
	peers := []peer.Endpoint{
		{IP: net.ParseIP("1.2.3.4").To4(), Port: 6881},
		{IP: net.ParseIP("255.255.255.0").To4(), Port: 1},
	}
	encoded := EncodeCompactPeers(peers)
	decoded, err := DecodeCompactPeers(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	for i := range peers {
		assert.True(t, peers[i].IP.Equal(decoded[i].IP))
		assert.Equal(t, peers[i].Port, decoded[i].Port)
	}
}

func TestDecodeCompactPeersRejectsBadLength(t *testing.T) {
	_, err := DecodeCompactPeers([]byte{1, 2, 3})
	require.Error(t, err)
}
