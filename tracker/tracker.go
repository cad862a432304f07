package tracker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tharunyogenthra/bitleech/bterrors"
	"github.com/tharunyogenthra/bitleech/metainfo"
	"github.com/tharunyogenthra/bitleech/peer"
	"github.com/tharunyogenthra/bitleech/progress"
)

// Options configures a tracker Obtain call.
type Options struct {
	ListenPort uint16        // advertised to HTTP trackers, default DefaultListenPort
	DHTTimeout time.Duration // wall-clock bound for the DHT fallback, default DefaultDHTTimeout
}

// Obtain returns a peer list for d: HTTP announce URLs are tried first,
// in order (primary, then each announce-list tier); if every HTTP
// tracker fails or returns zero peers, a bounded DHT get_peers walk is
// run as a fallback. bterrors.NoPeers is returned only if both paths
// yield nothing.
func Obtain(ctx context.Context, d *metainfo.Descriptor, peerID [20]byte, opts Options, sink progress.Sink, log *logrus.Entry) ([]peer.Endpoint, error) {
	if opts.ListenPort == 0 {
		opts.ListenPort = DefaultListenPort
	}
	if opts.DHTTimeout <= 0 {
		opts.DHTTimeout = DefaultDHTTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	peers, httpErr := ObtainHTTP(d, peerID, opts.ListenPort, sink, log)
	if httpErr == nil && len(peers) > 0 {
		return peers, nil
	}
	if httpErr != nil {
		log.WithError(httpErr).Debug("no HTTP tracker produced peers, falling back to DHT")
	} else {
		log.Debug("HTTP tracker returned zero peers, falling back to DHT")
	}

	progress.Emit(sink, "falling back to DHT")
	infoHash, err := hexToRaw20(d.InfoHash)
	if err != nil {
		return nil, err
	}
	dhtPeers, err := ObtainDHT(ctx, infoHash, opts.DHTTimeout, sink, log)
	if err != nil {
		return nil, err
	}
	if len(dhtPeers) == 0 {
		if httpErr != nil {
			return nil, errors.Wrap(&bterrors.NoPeers{}, httpErr.Error())
		}
		return nil, &bterrors.NoPeers{}
	}
	return dhtPeers, nil
}
