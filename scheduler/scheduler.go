// Package scheduler holds the set of active peer sessions, dispatches
// outstanding pieces across them, retries on failure, verifies the
// result against the descriptor's expected digests, and concatenates
// the verified pieces into the final payload.
package scheduler

import (
	"crypto/sha1"
	"encoding/hex"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tharunyogenthra/bitleech/bterrors"
	"github.com/tharunyogenthra/bitleech/metainfo"
	"github.com/tharunyogenthra/bitleech/progress"
)

// Session is the subset of *peer.Session the scheduler depends on,
// extracted so tests can drive the pass/retry/retirement logic against
// a fake in-process peer without opening a real socket.
type Session interface {
	HasPiece(index int) bool
	DownloadPiece(index, pieceLength int) ([]byte, error)
	Failures() int
	Dead() bool
	Close() error
	String() string
}

// failureThreshold mirrors peer.Session's own retirement threshold: a
// session that has failed more than this many piece downloads is
// dropped from the active set at the start of the next pass.
const failureThreshold = 3

// Run drives sessions to completion against d's piece set: on each pass
// it retires any session past the failure threshold, assigns at most one
// pending piece per surviving session (only if that session's bitfield
// advertises it), downloads assignments in parallel, and reappends
// failed indices to the pending FIFO. Once the FIFO drains it verifies
// every piece's SHA-1 against d.Info.Pieces and concatenates them in
// index order.
func Run(d *metainfo.Descriptor, sessions []Session, sink progress.Sink, log *logrus.Entry) ([]byte, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	numPieces := len(d.Info.Pieces)
	pending := make([]int, numPieces)
	for i := range pending {
		pending[i] = i
	}
	completed := make(map[int][]byte, numPieces)
	active := append([]Session(nil), sessions...)

	for pass := 1; len(pending) > 0; pass++ {
		active = retireDead(active, sink, log)
		if len(active) == 0 {
			return nil, &bterrors.NoProgress{Remaining: len(pending)}
		}

		progress.Emit(sink, "pass %d: %d pieces pending, %d sessions active", pass, len(pending), len(active))

		assignments, remaining := assign(active, pending)
		pending = remaining
		if len(assignments) == 0 {
			// No surviving session advertises any index we still need.
			// Availability only ever grows via a HAVE received inside a
			// piece download, and no session is being read from while
			// idle here, so nothing will change on a future pass either:
			// spinning would just loop forever. Fail terminally instead.
			return nil, &bterrors.NoProgress{Remaining: len(pending)}
		}

		results := downloadAll(d, assignments, sink, log)
		for _, r := range results {
			if r.err != nil {
				pending = append(pending, r.index)
				continue
			}
			completed[r.index] = r.buf
		}
	}

	progress.Emit(sink, "all pieces dispatched, verifying")
	return verifyAndConcat(d, completed)
}

type assignment struct {
	session Session
	index   int
}

type downloadResult struct {
	index int
	buf   []byte
	err   error
}

// retireDead drops sessions whose failure counter has passed the
// threshold or that have otherwise marked themselves dead, closing each
// one as it is dropped.
func retireDead(sessions []Session, sink progress.Sink, log *logrus.Entry) []Session {
	survivors := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if s.Dead() || s.Failures() > failureThreshold {
			progress.Emit(sink, "retiring session %s after %d failures", s, s.Failures())
			log.WithField("peer", s.String()).WithField("failures", s.Failures()).Debug("retiring session")
			s.Close()
			continue
		}
		survivors = append(survivors, s)
	}
	return survivors
}

// assign pops, for each session in order, the first pending index that
// session's bitfield advertises, so no two sessions are assigned the
// same piece in one pass. It returns the assignments made and whatever
// pending indices were not claimed.
func assign(sessions []Session, pending []int) ([]assignment, []int) {
	claimed := make(map[int]bool, len(pending))
	var assignments []assignment
	for _, s := range sessions {
		for _, idx := range pending {
			if claimed[idx] {
				continue
			}
			if s.HasPiece(idx) {
				claimed[idx] = true
				assignments = append(assignments, assignment{session: s, index: idx})
				break
			}
		}
	}
	remaining := pending[:0:0]
	for _, idx := range pending {
		if !claimed[idx] {
			remaining = append(remaining, idx)
		}
	}
	return assignments, remaining
}

// downloadAll runs every assignment's piece download in parallel and
// waits for all of them; one piece is in flight per session at a time,
// matching the scheduler's pass model.
func downloadAll(d *metainfo.Descriptor, assignments []assignment, sink progress.Sink, log *logrus.Entry) []downloadResult {
	results := make([]downloadResult, len(assignments))
	var wg sync.WaitGroup
	for i, a := range assignments {
		wg.Add(1)
		go func(i int, a assignment) {
			defer wg.Done()
			progress.Emit(sink, "piece %d dispatched to %s", a.index, a.session)
			buf, err := a.session.DownloadPiece(a.index, int(d.Info.PieceSize(a.index)))
			if err != nil {
				progress.Emit(sink, "piece %d failed on %s: %v", a.index, a.session, err)
				log.WithError(err).WithField("peer", a.session.String()).WithField("piece", a.index).Debug("piece download failed")
				results[i] = downloadResult{index: a.index, err: err}
				return
			}
			progress.Emit(sink, "piece %d complete from %s", a.index, a.session)
			results[i] = downloadResult{index: a.index, buf: buf}
		}(i, a)
	}
	wg.Wait()
	return results
}

// verifyAndConcat checks every completed piece's SHA-1 against the
// descriptor's expected digests and concatenates them in index order.
func verifyAndConcat(d *metainfo.Descriptor, completed map[int][]byte) ([]byte, error) {
	numPieces := len(d.Info.Pieces)
	if len(completed) != numPieces {
		return nil, &bterrors.CountMismatch{Expected: numPieces, Got: len(completed)}
	}

	out := make([]byte, 0, d.Info.TotalLength())
	for i := 0; i < numPieces; i++ {
		buf := completed[i]
		sum := sha1.Sum(buf)
		got := hex.EncodeToString(sum[:])
		if got != d.Info.Pieces[i] {
			return nil, &bterrors.HashMismatch{Index: i}
		}
		out = append(out, buf...)
	}
	return out, nil
}
