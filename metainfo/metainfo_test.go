package metainfo

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tharunyogenthra/bitleech/bencode"
	"github.com/tharunyogenthra/bitleech/bterrors"
)

func singleFileTorrent(data []byte, pieceLength int) []byte {
	sum := sha1.Sum(data)
	return []byte(fmt.Sprintf(
		"d8:announce9:http://x/4:infod6:lengthi%de4:name5:hello12:piece lengthi%de6:pieces20:%see",
		len(data), pieceLength, string(sum[:]),
	))
}

func TestParseSingleFileTorrentComputesInfoHash(t *testing.T) {
	data := []byte("hello")
	raw := singleFileTorrent(data, 32768)

	d, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "http://x/", d.Announce)
	assert.Equal(t, "hello", d.Info.Name)
	assert.Equal(t, int64(32768), d.Info.PieceLength)
	require.Len(t, d.Info.Files, 1)
	assert.Equal(t, int64(5), d.Info.Files[0].Length)
	assert.Equal(t, []string{"hello"}, d.Info.Files[0].Path)

	require.Len(t, d.Info.Pieces, 1)
	expected := sha1.Sum(data)
	assert.Equal(t, hex.EncodeToString(expected[:]), d.Info.Pieces[0])

	span, err := findInfoSpanForTest(raw)
	require.NoError(t, err)
	wantHash := sha1.Sum(raw[span.Start:span.End])
	assert.Equal(t, hex.EncodeToString(wantHash[:]), d.InfoHash)
}

func findInfoSpanForTest(raw []byte) (bencode.Span, error) {
	// Mirrors computeInfoHash's approach using the exported codec entry
	// point, to assert the loader actually hashed the source bytes and
	// not a re-encoding of them.
	return bencode.SpanOfTopLevelKey(raw, "info")
}

func TestParseMultiFileTorrent(t *testing.T) {
	raw := []byte("d8:announce9:http://x/4:infod5:filesld6:lengthi3e4:pathl1:a1:bee" +
		"d6:lengthi4e4:pathl1:ceee4:name3:dir12:piece lengthi7e6:pieces40:" +
		"aaaaaaaaaaaaaaaaaaaabbbbbbbbbbbbbbbbbbbbee")
	d, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, d.Info.Files, 2)
	assert.Equal(t, []string{"a", "b"}, d.Info.Files[0].Path)
	assert.Equal(t, int64(3), d.Info.Files[0].Length)
	assert.Equal(t, []string{"c"}, d.Info.Files[1].Path)
	assert.Equal(t, int64(4), d.Info.Files[1].Length)
	assert.Len(t, d.Info.Pieces, 2)
}

func TestParseMissingRequiredKeyFails(t *testing.T) {
	raw := []byte("d4:infod6:lengthi5e4:name5:helloee")
	_, err := Parse(raw)
	require.Error(t, err)
	var im *bterrors.InvalidMetainfo
	require.ErrorAs(t, err, &im)
	assert.Equal(t, "announce", im.Field)
}

func TestParsePiecesNotMultipleOf20Fails(t *testing.T) {
	raw := []byte("d8:announce9:http://x/4:infod6:lengthi5e4:name5:hello12:piece lengthi5e6:pieces3:abcee")
	_, err := Parse(raw)
	require.Error(t, err)
	var im *bterrors.InvalidMetainfo
	require.ErrorAs(t, err, &im)
	assert.Equal(t, "info.pieces", im.Field)
}

func TestParseAnnounceListTiers(t *testing.T) {
	raw := []byte("d8:announce9:http://x/13:announce-listll9:http://y/el9:http://z/ee4:infod6:lengthi5e4:name5:hello12:piece lengthi5e6:pieces20:aaaaaaaaaaaaaaaaaaaaee")
	d, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, d.AnnounceList, 2)
	assert.Equal(t, []string{"http://y/"}, d.AnnounceList[0])
	assert.Equal(t, []string{"http://z/"}, d.AnnounceList[1])
}
