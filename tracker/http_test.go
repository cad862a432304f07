package tracker

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tharunyogenthra/bitleech/metainfo"
)

func descriptorWithAnnounce(announce string, announceList [][]string) *metainfo.Descriptor {
	return &metainfo.Descriptor{
		Announce:     announce,
		AnnounceList: announceList,
		InfoHash:     "0102030405060708090a0b0c0d0e0f1011121314",
		Info: metainfo.Info{
			Files: []metainfo.File{{Length: 5}},
		},
	}
}

func TestObtainHTTPFallsThroughAnnounceListInOrder(t *testing.T) {
	var hits []string

	badServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, "bad")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badServer.Close()

	goodServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, "good")
		w.Write([]byte("d8:completei1e10:incompletei0e8:intervali1800e6:peers6:\x01\x02\x03\x04\x1a\xe1e"))
	}))
	defer goodServer.Close()

	d := descriptorWithAnnounce(badServer.URL, [][]string{{goodServer.URL}})
	peers, err := ObtainHTTP(d, GeneratePeerID(), DefaultListenPort, nil, nil)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "1.2.3.4", peers[0].IP.String())
	assert.Equal(t, []string{"bad", "good"}, hits)
}

func TestObtainHTTPSkipsNonHTTPSchemes(t *testing.T) {
	d := descriptorWithAnnounce("udp://tracker.example:80/announce", nil)
	_, err := ObtainHTTP(d, GeneratePeerID(), DefaultListenPort, nil, nil)
	require.Error(t, err)
}

func TestBuildTrackerURLEncodesRawFields(t *testing.T) {
	d := descriptorWithAnnounce("http://tracker.example/announce", nil)
	// An info-hash with bytes that must be percent-encoded to round-trip
	// safely: 0x00 and 0xFF are not valid raw query bytes.
	d.InfoHash = "00ffaabbccddeeff00112233445566778899aabb"[:40]
	peerID := [20]byte{0x00, 0xFF}
	raw, err := hexToRaw20(d.InfoHash)
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), raw[0])
	assert.Equal(t, byte(0xFF), raw[1])

	u, err := buildTrackerURLForTest(d, peerID)
	require.NoError(t, err)
	assert.Contains(t, u, "info_hash=%00%FF")
	assert.Contains(t, u, "peer_id=%00%FF")
}

func buildTrackerURLForTest(d *metainfo.Descriptor, peerID [20]byte) (string, error) {
	base, err := url.Parse(d.Announce)
	if err != nil {
		return "", err
	}
	return buildTrackerURL(base, d, peerID, DefaultListenPort)
}
