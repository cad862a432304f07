// Package tracker obtains a peer list for a torrent: first by querying
// HTTP announce URLs (the metainfo's primary announce, then each
// announce-list tier in order), falling back to a DHT get_peers walk
// when no HTTP tracker yields a non-empty peer set.
package tracker

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jackpal/bencode-go"
	"github.com/sirupsen/logrus"

	"github.com/tharunyogenthra/bitleech/bterrors"
	"github.com/tharunyogenthra/bitleech/metainfo"
	"github.com/tharunyogenthra/bitleech/peer"
	"github.com/tharunyogenthra/bitleech/progress"
)

const (
	// DefaultListenPort is the port advertised to HTTP trackers.
	DefaultListenPort uint16 = 6841
	httpTimeout              = 3 * time.Second
)

// httpResponse is the decoded bencoded tracker reply. Compact peers are kept
// raw; callers use DecodeCompactPeers to get a []peer.Endpoint.
type httpResponse struct {
	Interval    int    `bencode:"interval"`
	MinInterval int    `bencode:"min interval"`
	Complete    int    `bencode:"complete"`
	Incomplete  int    `bencode:"incomplete"`
	Peers       string `bencode:"peers"`
}

// ObtainHTTP walks the primary announce URL, then every announce-list
// tier in order, skipping non-HTTP(S) schemes, and returns the peer list
// from the first tracker that answers within httpTimeout with at least
// one peer; a tracker that answers with zero peers is passed over. It never
// recurses: failures just advance a plain loop index over the candidate
// URL list.
func ObtainHTTP(d *metainfo.Descriptor, peerID [20]byte, listenPort uint16, sink progress.Sink, log *logrus.Entry) ([]peer.Endpoint, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	urls := candidateAnnounceURLs(d)
	var lastErr error
	for _, announce := range urls {
		progress.Emit(sink, "contacting tracker %s", announce)
		peers, err := announceOne(announce, d, peerID, listenPort)
		if err != nil {
			log.WithError(err).WithField("tracker", announce).Debug("tracker announce failed")
			lastErr = err
			continue
		}
		progress.Emit(sink, "tracker %s returned %d peers", announce, len(peers))
		if len(peers) > 0 {
			return peers, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &bterrors.TrackerUnreachable{Endpoint: d.Announce, Reason: "every HTTP(S) tracker answered with zero peers"}
}

// candidateAnnounceURLs returns the primary announce URL followed by
// every URL in every announce-list tier, in order.
func candidateAnnounceURLs(d *metainfo.Descriptor) []string {
	urls := []string{d.Announce}
	for _, tier := range d.AnnounceList {
		urls = append(urls, tier...)
	}
	return urls
}

func announceOne(announce string, d *metainfo.Descriptor, peerID [20]byte, listenPort uint16) ([]peer.Endpoint, error) {
	parsed, err := url.Parse(announce)
	if err != nil {
		return nil, &bterrors.TrackerUnreachable{Endpoint: announce, Reason: err.Error()}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, &bterrors.TrackerUnreachable{Endpoint: announce, Reason: fmt.Sprintf("unsupported scheme %q", parsed.Scheme)}
	}

	reqURL, err := buildTrackerURL(parsed, d, peerID, listenPort)
	if err != nil {
		return nil, &bterrors.TrackerUnreachable{Endpoint: announce, Reason: err.Error()}
	}

	client := &http.Client{Timeout: httpTimeout}
	resp, err := client.Get(reqURL)
	if err != nil {
		return nil, &bterrors.TrackerUnreachable{Endpoint: announce, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &bterrors.TrackerUnreachable{Endpoint: announce, Reason: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}

	var tr httpResponse
	if err := bencode.Unmarshal(resp.Body, &tr); err != nil {
		return nil, &bterrors.TrackerUnreachable{Endpoint: announce, Reason: "malformed bencoded reply: " + err.Error()}
	}

	return DecodeCompactPeers([]byte(tr.Peers))
}

func buildTrackerURL(base *url.URL, d *metainfo.Descriptor, peerID [20]byte, listenPort uint16) (string, error) {
	infoHashRaw, err := hexToRaw20(d.InfoHash)
	if err != nil {
		return "", err
	}

	left := d.Info.TotalLength()

	values := url.Values{
		"port":       []string{strconv.Itoa(int(listenPort))},
		"uploaded":   []string{"0"},
		"downloaded": []string{"0"},
		"left":       []string{strconv.FormatInt(left, 10)},
		"compact":    []string{"1"},
	}
	u := *base
	u.RawQuery = values.Encode() +
		"&info_hash=" + percentEncodeRaw(infoHashRaw[:]) +
		"&peer_id=" + percentEncodeRaw(peerID[:])
	return u.String(), nil
}

// percentEncodeRaw percent-encodes every byte unconditionally, matching
// the wire-exact form trackers expect for 20-byte binary fields (RFC 3986
// does not require this for alphanumeric bytes, but encoding uniformly
// keeps the encoder simple and is accepted by every tracker implementation
// this core has been tested against).
func percentEncodeRaw(b []byte) string {
	out := make([]byte, 0, len(b)*3)
	const hex = "0123456789ABCDEF"
	for _, c := range b {
		out = append(out, '%', hex[c>>4], hex[c&0xF])
	}
	return string(out)
}

func hexToRaw20(hexStr string) ([20]byte, error) {
	var out [20]byte
	if len(hexStr) != 40 {
		return out, fmt.Errorf("info-hash must be 40 hex characters, got %d", len(hexStr))
	}
	for i := 0; i < 20; i++ {
		hi, err := hexNibble(hexStr[i*2])
		if err != nil {
			return out, err
		}
		lo, err := hexNibble(hexStr[i*2+1])
		if err != nil {
			return out, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", c)
	}
}
