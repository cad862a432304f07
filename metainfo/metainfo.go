// Package metainfo parses a .torrent file into a typed descriptor and
// computes its info-hash from the exact source bytes of the "info"
// dictionary.
package metainfo

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/tharunyogenthra/bitleech/bencode"
	"github.com/tharunyogenthra/bitleech/bterrors"
)

// File is one entry of a (possibly synthetic, for single-file torrents)
// file list: a length and an ordered sequence of path components.
type File struct {
	Length int64
	Path   []string
}

// Info is the embedded info dictionary: output name, uniform piece
// length, the ordered SHA-1 piece digests (40-char lowercase hex), and
// the file list.
type Info struct {
	Name        string
	PieceLength int64
	Pieces      []string // 40-char lowercase hex per piece
	Files       []File
}

// TotalLength returns the sum of all file lengths.
func (i Info) TotalLength() int64 {
	var total int64
	for _, f := range i.Files {
		total += f.Length
	}
	return total
}

// InfoHashBytes decodes InfoHash back to its raw 20-byte form.
func (d *Descriptor) InfoHashBytes() ([20]byte, error) {
	var out [20]byte
	raw, err := hex.DecodeString(d.InfoHash)
	if err != nil {
		return out, &bterrors.InvalidMetainfo{Field: "info_hash", Reason: err.Error()}
	}
	if len(raw) != 20 {
		return out, &bterrors.InvalidMetainfo{Field: "info_hash", Reason: "decoded length is not 20 bytes"}
	}
	copy(out[:], raw)
	return out, nil
}

// PieceSize returns the expected byte length of the piece at index: the
// uniform PieceLength for every piece except (possibly) the last, which
// is whatever remainder TotalLength leaves over.
func (i Info) PieceSize(index int) int64 {
	if index == len(i.Pieces)-1 {
		if remainder := i.TotalLength() % i.PieceLength; remainder != 0 {
			return remainder
		}
	}
	return i.PieceLength
}

// Descriptor is a fully parsed metainfo file.
type Descriptor struct {
	Announce     string
	AnnounceList [][]string
	Comment      string
	CreatedBy    string
	CreationDate int64
	Encoding     string
	URLList      []string
	Info         Info
	InfoHash     string // 40-char lowercase hex, SHA-1 of the raw info bytes
}

// Load reads and parses the .torrent file at path.
func Load(path string) (*Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &bterrors.IOFailure{Path: path, Reason: err.Error()}
	}
	return Parse(raw)
}

// Parse decodes a metainfo byte buffer into a Descriptor.
func Parse(raw []byte) (*Descriptor, error) {
	top, err := bencode.Decode(raw)
	if err != nil {
		return nil, err
	}
	if top.Kind != bencode.KindDict {
		return nil, &bterrors.InvalidMetainfo{Field: "<root>", Reason: "top-level value is not a dictionary"}
	}

	announce, ok := top.GetString("announce")
	if !ok {
		return nil, &bterrors.InvalidMetainfo{Field: "announce", Reason: "missing or not a string"}
	}

	infoVal, ok := top.GetDict("info")
	if !ok {
		return nil, &bterrors.InvalidMetainfo{Field: "info", Reason: "missing or not a dictionary"}
	}

	infoHash, err := computeInfoHash(raw, "info")
	if err != nil {
		return nil, err
	}

	info, err := parseInfo(infoVal)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{
		Announce:     announce,
		AnnounceList: parseAnnounceList(top),
		Info:         info,
		InfoHash:     infoHash,
	}
	if s, ok := top.GetString("comment"); ok {
		d.Comment = s
	}
	if s, ok := top.GetString("created by"); ok {
		d.CreatedBy = s
	}
	if n, ok := top.GetInt("creation date"); ok {
		d.CreationDate = n
	}
	if s, ok := top.GetString("encoding"); ok {
		d.Encoding = s
	}
	if list, ok := top.GetList("url-list"); ok {
		for _, v := range list {
			if v.Kind == bencode.KindString {
				d.URLList = append(d.URLList, string(v.Str))
			}
		}
	}
	return d, nil
}

// computeInfoHash re-scans raw for the top-level dictionary and returns
// the SHA-1 (40-char lowercase hex) of the exact byte span the key
// "info" maps to. This must operate on the original bytes, never a
// re-encoding, or the hash will not match what peers and trackers expect
// of a non-canonical source file.
func computeInfoHash(raw []byte, key string) (string, error) {
	span, err := bencode.SpanOfTopLevelKey(raw, key)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(raw[span.Start:span.End])
	return hex.EncodeToString(sum[:]), nil
}

func parseAnnounceList(top bencode.Value) [][]string {
	outer, ok := top.GetList("announce-list")
	if !ok {
		return nil
	}
	var tiers [][]string
	for _, tierVal := range outer {
		if tierVal.Kind != bencode.KindList {
			continue
		}
		var tier []string
		for _, u := range tierVal.List {
			if u.Kind == bencode.KindString {
				tier = append(tier, string(u.Str))
			}
		}
		tiers = append(tiers, tier)
	}
	return tiers
}

func parseInfo(infoVal bencode.Value) (Info, error) {
	name, ok := infoVal.GetString("name")
	if !ok {
		return Info{}, &bterrors.InvalidMetainfo{Field: "info.name", Reason: "missing or not a string"}
	}
	pieceLength, ok := infoVal.GetInt("piece length")
	if !ok {
		return Info{}, &bterrors.InvalidMetainfo{Field: "info.piece length", Reason: "missing or not an integer"}
	}
	piecesRaw, ok := infoVal.GetBytes("pieces")
	if !ok {
		return Info{}, &bterrors.InvalidMetainfo{Field: "info.pieces", Reason: "missing or not a byte string"}
	}
	if len(piecesRaw)%20 != 0 {
		return Info{}, &bterrors.InvalidMetainfo{Field: "info.pieces", Reason: fmt.Sprintf("length %d not a multiple of 20", len(piecesRaw))}
	}
	pieces := make([]string, len(piecesRaw)/20)
	for i := range pieces {
		pieces[i] = hex.EncodeToString(piecesRaw[i*20 : i*20+20])
	}

	info := Info{Name: name, PieceLength: pieceLength, Pieces: pieces}

	if filesList, ok := infoVal.GetList("files"); ok {
		for _, fv := range filesList {
			length, ok := fv.GetInt("length")
			if !ok {
				return Info{}, &bterrors.InvalidMetainfo{Field: "info.files[].length", Reason: "missing or not an integer"}
			}
			pathList, ok := fv.GetList("path")
			if !ok {
				return Info{}, &bterrors.InvalidMetainfo{Field: "info.files[].path", Reason: "missing or not a list"}
			}
			var path []string
			for _, p := range pathList {
				if p.Kind == bencode.KindString {
					path = append(path, string(p.Str))
				}
			}
			info.Files = append(info.Files, File{Length: length, Path: path})
		}
	} else {
		length, ok := infoVal.GetInt("length")
		if !ok {
			return Info{}, &bterrors.InvalidMetainfo{Field: "info.length", Reason: "single-file torrent missing length and no files list present"}
		}
		info.Files = []File{{Length: length, Path: []string{name}}}
	}

	return info, nil
}
