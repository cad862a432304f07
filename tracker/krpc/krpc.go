// Package krpc implements the minimal KRPC message set the core needs
// for a BEP 5 get_peers walk: find_node and get_peers queries, and
// responses carrying nodes or values. Messages are bencoded dictionaries
// built on the project's own span-aware bencode codec rather than a
// second ad hoc encoder.
package krpc

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/tharunyogenthra/bitleech/bencode"
)

// NodeID is a 160-bit identifier, the same space as an info-hash.
type NodeID [20]byte

// Node is a compact 26-byte node record: 20-byte id, 4-byte IPv4
// address, 2-byte big-endian port.
type Node struct {
	ID   NodeID
	Addr *net.UDPAddr
}

const nodeRecordSize = 26
const peerRecordSize = 6

// EncodeFindNode builds a find_node query.
func EncodeFindNode(txID string, id, target NodeID) []byte {
	return bencode.Encode(bencode.Dict(map[string]bencode.Value{
		"t": bencode.Str(txID),
		"y": bencode.Str("q"),
		"q": bencode.Str("find_node"),
		"a": bencode.Dict(map[string]bencode.Value{
			"id":     bencode.Str(string(id[:])),
			"target": bencode.Str(string(target[:])),
		}),
	}))
}

// EncodeGetPeers builds a get_peers query.
func EncodeGetPeers(txID string, id NodeID, infoHash [20]byte) []byte {
	return bencode.Encode(bencode.Dict(map[string]bencode.Value{
		"t": bencode.Str(txID),
		"y": bencode.Str("q"),
		"q": bencode.Str("get_peers"),
		"a": bencode.Dict(map[string]bencode.Value{
			"id":        bencode.Str(string(id[:])),
			"info_hash": bencode.Str(string(infoHash[:])),
		}),
	}))
}

// Reply is a decoded KRPC response relevant to the get_peers walk: it
// may carry Nodes (keep searching), Values (peers found), both, or
// neither (an error or unrelated reply).
type Reply struct {
	TransactionID string
	Nodes         []Node
	Values        [][]byte // compact 6-byte peer records
}

// DecodeReply parses a bencoded KRPC message and extracts the fields the
// get_peers walk cares about. Non-response messages (queries, errors)
// return a Reply that carries only the TransactionID, with no Nodes or
// Values and no error, so the receive loop can simply ignore them.
func DecodeReply(raw []byte) (Reply, error) {
	v, err := bencode.Decode(raw)
	if err != nil {
		return Reply{}, err
	}
	t, _ := v.GetString("t")
	y, _ := v.GetString("y")
	if y != "r" {
		return Reply{TransactionID: t}, nil
	}
	r, ok := v.GetDict("r")
	if !ok {
		return Reply{TransactionID: t}, nil
	}

	reply := Reply{TransactionID: t}
	if nodesRaw, ok := r.GetBytes("nodes"); ok {
		nodes, err := ParseCompactNodes(nodesRaw)
		if err != nil {
			return Reply{}, err
		}
		reply.Nodes = nodes
	}
	if values, ok := r.GetList("values"); ok {
		for _, pv := range values {
			if pv.Kind == bencode.KindString && len(pv.Str) == peerRecordSize {
				reply.Values = append(reply.Values, pv.Str)
			}
		}
	}
	return reply, nil
}

// ParseCompactNodes parses a concatenated list of 26-byte compact node
// records.
func ParseCompactNodes(data []byte) ([]Node, error) {
	if len(data)%nodeRecordSize != 0 {
		return nil, fmt.Errorf("compact nodes length %d not a multiple of %d", len(data), nodeRecordSize)
	}
	n := len(data) / nodeRecordSize
	out := make([]Node, n)
	for i := 0; i < n; i++ {
		off := i * nodeRecordSize
		var id NodeID
		copy(id[:], data[off:off+20])
		ip := make(net.IP, 4)
		copy(ip, data[off+20:off+24])
		port := binary.BigEndian.Uint16(data[off+24 : off+26])
		out[i] = Node{ID: id, Addr: &net.UDPAddr{IP: ip, Port: int(port)}}
	}
	return out, nil
}
