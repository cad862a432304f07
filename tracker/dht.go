package tracker

import (
	"context"
	"crypto/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tharunyogenthra/bitleech/peer"
	"github.com/tharunyogenthra/bitleech/progress"
	"github.com/tharunyogenthra/bitleech/tracker/krpc"
)

// DefaultDHTTimeout is the wall-clock bound on the DHT phase when the
// caller does not override it.
const DefaultDHTTimeout = 5 * time.Second

// DHTListenPort is the UDP port the DHT phase binds by default.
const DHTListenPort = 6881

// bootstrapNodes are the well-known DHT entry points the walk starts
// from.
var bootstrapNodes = []string{
	"router.bittorrent.com:6881",
	"dht.transmissionbt.com:6881",
	"router.utorrent.com:6881",
}

// ObtainDHT runs a bounded-duration BEP 5 get_peers walk and returns
// whatever peers (port > 1024) have accumulated at the deadline. The
// walk is time-bounded, not completion-bounded: it never blocks past
// timeout waiting for a "final" answer.
func ObtainDHT(ctx context.Context, infoHash [20]byte, timeout time.Duration, sink progress.Sink, log *logrus.Entry) ([]peer.Endpoint, error) {
	if timeout <= 0 {
		timeout = DefaultDHTTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	ourID, err := randomNodeID()
	if err != nil {
		return nil, err
	}

	conn, err := bindDHTSocket()
	if err != nil {
		return nil, err
	}

	walk := &dhtWalk{
		conn:     conn,
		selfID:   ourID,
		infoHash: infoHash,
		queried:  make(map[string]bool),
		found:    make(map[string]peer.Endpoint),
		log:      log,
		sink:     sink,
	}

	deadline := time.Now().Add(timeout)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		walk.receiveLoop(runCtx)
	}()

	progress.Emit(sink, "starting DHT walk, bounded to %s", timeout)
	walk.bootstrap()

	<-runCtx.Done()
	conn.Close() // unblocks the pending read in receiveLoop
	wg.Wait()

	peers := walk.snapshot()
	progress.Emit(sink, "DHT walk finished, %d peers found", len(peers))
	return peers, nil
}

func bindDHTSocket() (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: DHTListenPort})
	if err == nil {
		return conn, nil
	}
	// Fall back to an ephemeral port if the default is already in use
	// locally; the DHT phase does not depend on a fixed inbound port
	// since it only ever initiates queries.
	return net.ListenUDP("udp", &net.UDPAddr{Port: 0})
}

func randomNodeID() (krpc.NodeID, error) {
	var id krpc.NodeID
	_, err := rand.Read(id[:])
	return id, err
}

// dhtWalk holds the mutable state of one bounded get_peers walk. The
// transaction counter and the queried/found maps are mutated only from
// the goroutines started by ObtainDHT and are protected by mu.
type dhtWalk struct {
	conn     *net.UDPConn
	selfID   krpc.NodeID
	infoHash [20]byte
	log      *logrus.Entry
	sink     progress.Sink

	mu      sync.Mutex
	txnSeq  int
	queried map[string]bool
	found   map[string]peer.Endpoint
}

func (w *dhtWalk) nextTxnID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.txnSeq++
	return strconv.Itoa(w.txnSeq)
}

func (w *dhtWalk) markQueried(addr string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.queried[addr] {
		return false
	}
	w.queried[addr] = true
	return true
}

func (w *dhtWalk) addPeer(e peer.Endpoint) {
	if e.Port <= 1024 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.found[e.String()] = e
}

func (w *dhtWalk) snapshot() []peer.Endpoint {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]peer.Endpoint, 0, len(w.found))
	for _, e := range w.found {
		out = append(out, e)
	}
	return out
}

func (w *dhtWalk) bootstrap() {
	for _, addr := range bootstrapNodes {
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			w.log.WithError(err).WithField("node", addr).Debug("could not resolve DHT bootstrap node")
			continue
		}
		if !w.markQueried(udpAddr.String()) {
			continue
		}
		txID := w.nextTxnID()
		msg := krpc.EncodeFindNode(txID, w.selfID, krpc.NodeID(w.infoHash))
		if _, err := w.conn.WriteToUDP(msg, udpAddr); err != nil {
			w.log.WithError(err).WithField("node", addr).Debug("failed to send find_node")
		}
	}
}

func (w *dhtWalk) queryGetPeers(addr *net.UDPAddr) {
	if !w.markQueried(addr.String()) {
		return
	}
	txID := w.nextTxnID()
	msg := krpc.EncodeGetPeers(txID, w.selfID, w.infoHash)
	if _, err := w.conn.WriteToUDP(msg, addr); err != nil {
		w.log.WithError(err).WithField("node", addr.String()).Debug("failed to send get_peers")
	}
}

func (w *dhtWalk) receiveLoop(ctx context.Context) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := w.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue // read timeout; re-check ctx
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		w.handlePacket(data)
	}
}

func (w *dhtWalk) handlePacket(data []byte) {
	reply, err := krpc.DecodeReply(data)
	if err != nil {
		return
	}
	for _, v := range reply.Values {
		endpoints, err := DecodeCompactPeers(v)
		if err != nil {
			continue
		}
		for _, e := range endpoints {
			w.addPeer(e)
		}
	}
	for _, node := range reply.Nodes {
		w.queryGetPeers(node.Addr)
	}
}
