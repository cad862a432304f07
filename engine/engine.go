// Package engine sequences the metainfo loader, tracker client, and
// piece scheduler into a single one-shot download, and writes the
// assembled payload to disk.
package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tharunyogenthra/bitleech/bterrors"
	"github.com/tharunyogenthra/bitleech/metainfo"
	"github.com/tharunyogenthra/bitleech/peer"
	"github.com/tharunyogenthra/bitleech/progress"
	"github.com/tharunyogenthra/bitleech/scheduler"
	"github.com/tharunyogenthra/bitleech/tracker"
)

// Config is the complete set of knobs this core exposes.
type Config struct {
	ListenPort uint16        // advertised to HTTP trackers
	DHTTimeout time.Duration // wall-clock bound on the DHT fallback
	OutDir     string        // directory the assembled payload is written under
}

// DefaultConfig returns the configuration used when the caller overrides
// nothing.
func DefaultConfig() Config {
	return Config{
		ListenPort: tracker.DefaultListenPort,
		DHTTimeout: tracker.DefaultDHTTimeout,
		OutDir:     "tmp_torrent",
	}
}

// Result is what a successful Run produced.
type Result struct {
	OutputPath string
	Bytes      int64
}

// Run loads the metainfo at metainfoPath, obtains a peer list, dispatches
// and verifies every piece, and writes the assembled payload to
// cfg.OutDir/<name>. Every phase transition is reported through sink (if
// non-nil) and failures are logged through log (if nil, an entry on the
// logrus standard logger is used).
func Run(ctx context.Context, metainfoPath string, cfg Config, sink progress.Sink, log *logrus.Entry) (*Result, error) {
	if cfg.ListenPort == 0 {
		cfg.ListenPort = tracker.DefaultListenPort
	}
	if cfg.DHTTimeout <= 0 {
		cfg.DHTTimeout = tracker.DefaultDHTTimeout
	}
	if cfg.OutDir == "" {
		cfg.OutDir = "tmp_torrent"
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	progress.Emit(sink, "loading metainfo from %s", metainfoPath)
	d, err := metainfo.Load(metainfoPath)
	if err != nil {
		log.WithError(err).Error("failed to load metainfo")
		return nil, err
	}
	log = log.WithField("torrent", d.Info.Name).WithField("info_hash", d.InfoHash)
	progress.Emit(sink, "loaded %q, info-hash %s, %d pieces", d.Info.Name, d.InfoHash, len(d.Info.Pieces))

	peerID := tracker.GeneratePeerID()
	progress.Emit(sink, "contacting tracker(s)")
	endpoints, err := tracker.Obtain(ctx, d, peerID, tracker.Options{
		ListenPort: cfg.ListenPort,
		DHTTimeout: cfg.DHTTimeout,
	}, sink, log)
	if err != nil {
		log.WithError(err).Error("failed to obtain peers")
		return nil, err
	}
	progress.Emit(sink, "obtained %d candidate peers", len(endpoints))

	infoHash, err := d.InfoHashBytes()
	if err != nil {
		return nil, err
	}

	sessions := dialAll(endpoints, peerID, infoHash, sink, log)
	progress.Emit(sink, "%d of %d peers completed handshake", len(sessions), len(endpoints))

	payload, err := scheduler.Run(d, sessions, sink, log)
	if err != nil {
		log.WithError(err).Error("download failed")
		return nil, err
	}

	outPath, err := write(cfg.OutDir, d.Info.Name, payload)
	if err != nil {
		log.WithError(err).Error("failed to write output")
		return nil, err
	}

	progress.Emit(sink, "wrote %d bytes to %s", len(payload), outPath)
	return &Result{OutputPath: outPath, Bytes: int64(len(payload))}, nil
}

// dialAll connects to every candidate endpoint in parallel and returns a
// scheduler.Session per successful handshake; endpoints that fail to
// connect or handshake are logged and dropped, never retried here (the
// scheduler only ever sees sessions that are already active).
func dialAll(endpoints []peer.Endpoint, peerID, infoHash [20]byte, sink progress.Sink, log *logrus.Entry) []scheduler.Session {
	type outcome struct {
		session *peer.Session
		err     error
	}
	results := make([]outcome, len(endpoints))
	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		go func(i int, ep peer.Endpoint) {
			defer wg.Done()
			progress.Emit(sink, "connecting to %s", ep.String())
			s, err := peer.Dial(ep, peerID, infoHash, log)
			results[i] = outcome{session: s, err: err}
		}(i, ep)
	}
	wg.Wait()

	sessions := make([]scheduler.Session, 0, len(endpoints))
	for i, r := range results {
		if r.err != nil {
			progress.Emit(sink, "peer %s failed to connect: %v", endpoints[i].String(), r.err)
			log.WithError(r.err).WithField("peer", endpoints[i].String()).Debug("peer dial failed")
			continue
		}
		sessions = append(sessions, r.session)
	}
	return sessions
}

func write(outDir, name string, payload []byte) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", &bterrors.IOFailure{Path: outDir, Reason: err.Error()}
	}
	path := filepath.Join(outDir, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", &bterrors.IOFailure{Path: path, Reason: err.Error()}
	}
	return path, nil
}
