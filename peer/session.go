// Package peer implements the BitTorrent wire protocol: handshake
// framing, message framing, bitfield decoding, and the per-peer session
// state machine that performs handshake, bitfield exchange, choke
// tracking, and single-piece block assembly.
package peer

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tharunyogenthra/bitleech/bterrors"
)

// Endpoint is a canonical (IPv4, port) peer address.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP.String(), strconv.Itoa(int(e.Port)))
}

// State is one of the session lifecycle states from the spec's state
// machine table.
type State int

const (
	StateConnecting State = iota
	StateHandshakeSent
	StateBitfieldAwait
	StateInterestedSent
	StateActive
	StateDead
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateHandshakeSent:
		return "HandshakeSent"
	case StateBitfieldAwait:
		return "BitfieldAwait"
	case StateInterestedSent:
		return "InterestedSent"
	case StateActive:
		return "Active"
	case StateDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

const (
	connectTimeout      = 3 * time.Second
	bitfieldWaitTimeout = 10 * time.Second
	blockReadTimeout    = 10 * time.Second
	// failureThreshold is the number of PieceFailed results a session
	// tolerates before the scheduler retires it.
	failureThreshold = 3
)

// Session is a single handshaked connection to a remote peer, owned
// exclusively by the scheduler for its lifetime.
type Session struct {
	Endpoint Endpoint
	conn     net.Conn
	state    State
	choked   bool
	bitfield Bitfield
	failures int

	peerID   [20]byte
	infoHash [20]byte
	log      *logrus.Entry
}

// Dial connects to endpoint, performs the handshake and bitfield
// exchange, sends unchoke+interested, waits for the remote to unchoke us,
// and returns a Session in state Active. If the remote does not unchoke
// within the wait timeout, or sends any message other than choke, unchoke
// or have while we wait, Dial returns an error and no Session.
func Dial(endpoint Endpoint, peerID, infoHash [20]byte, log *logrus.Entry) (*Session, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("peer", endpoint.String())

	s := &Session{
		Endpoint: endpoint,
		state:    StateConnecting,
		choked:   true,
		peerID:   peerID,
		infoHash: infoHash,
		log:      log,
	}

	conn, err := net.DialTimeout("tcp", endpoint.String(), connectTimeout)
	if err != nil {
		s.state = StateDead
		return nil, &bterrors.HandshakeRejected{Endpoint: endpoint.String(), Reason: err.Error()}
	}
	s.conn = conn
	s.state = StateHandshakeSent
	log.Debug("dialed, sending handshake")

	if err := s.doHandshake(); err != nil {
		conn.Close()
		s.state = StateDead
		return nil, err
	}
	s.state = StateBitfieldAwait
	log.Debug("handshake complete, awaiting bitfield")

	if err := s.awaitBitfield(); err != nil {
		conn.Close()
		s.state = StateDead
		return nil, err
	}
	s.state = StateInterestedSent
	log.Debug("bitfield received, sending interested")

	if err := s.sendUnchoke(); err != nil {
		conn.Close()
		s.state = StateDead
		return nil, &bterrors.HandshakeRejected{Endpoint: endpoint.String(), Reason: err.Error()}
	}
	if err := s.sendInterested(); err != nil {
		conn.Close()
		s.state = StateDead
		return nil, &bterrors.HandshakeRejected{Endpoint: endpoint.String(), Reason: err.Error()}
	}

	if err := s.awaitUnchoke(); err != nil {
		conn.Close()
		s.state = StateDead
		return nil, err
	}
	s.state = StateActive
	log.Debug("peer unchoked us, session active")

	return s, nil
}

func (s *Session) doHandshake() error {
	s.conn.SetDeadline(time.Now().Add(connectTimeout))
	defer s.conn.SetDeadline(time.Time{})

	req := NewHandshake(s.infoHash, s.peerID)
	if _, err := s.conn.Write(req.Serialize()); err != nil {
		return &bterrors.HandshakeRejected{Endpoint: s.Endpoint.String(), Reason: err.Error()}
	}
	resp, err := ReadHandshake(s.conn)
	if err != nil {
		return &bterrors.HandshakeRejected{Endpoint: s.Endpoint.String(), Reason: err.Error()}
	}
	if resp.InfoHash != s.infoHash {
		return &bterrors.HandshakeRejected{Endpoint: s.Endpoint.String(), Reason: "info-hash mismatch in peer handshake"}
	}
	return nil
}

func (s *Session) awaitBitfield() error {
	s.conn.SetDeadline(time.Now().Add(bitfieldWaitTimeout))
	defer s.conn.SetDeadline(time.Time{})

	msg, err := ReadMessage(s.conn)
	if err != nil {
		return &bterrors.HandshakeRejected{Endpoint: s.Endpoint.String(), Reason: err.Error()}
	}
	if msg == nil || msg.ID != MsgBitfield {
		return &bterrors.HandshakeRejected{Endpoint: s.Endpoint.String(), Reason: "expected bitfield message"}
	}
	s.bitfield = Bitfield(msg.Payload)
	return nil
}

func (s *Session) awaitUnchoke() error {
	s.conn.SetDeadline(time.Now().Add(bitfieldWaitTimeout))
	defer s.conn.SetDeadline(time.Time{})

	for {
		msg, err := ReadMessage(s.conn)
		if err != nil {
			return &bterrors.HandshakeRejected{Endpoint: s.Endpoint.String(), Reason: err.Error()}
		}
		if msg == nil {
			continue
		}
		switch msg.ID {
		case MsgUnchoke:
			s.choked = false
			return nil
		case MsgChoke:
			s.choked = true
		case MsgHave:
			if idx, err := ParseHaveMessage(msg); err == nil {
				s.bitfield.SetPiece(idx)
			}
		default:
			return &bterrors.HandshakeRejected{Endpoint: s.Endpoint.String(), Reason: fmt.Sprintf("expected unchoke, got message id %d", msg.ID)}
		}
	}
}

func (s *Session) sendUnchoke() error {
	_, err := s.conn.Write((&Message{ID: MsgUnchoke}).Serialize())
	return err
}

func (s *Session) sendInterested() error {
	_, err := s.conn.Write((&Message{ID: MsgInterested}).Serialize())
	return err
}

func (s *Session) sendHave(index int) error {
	_, err := s.conn.Write(FormatHave(index).Serialize())
	return err
}

// HasPiece reports whether the session's last known bitfield advertises
// index as available.
func (s *Session) HasPiece(index int) bool {
	return s.bitfield.CheckPiece(index)
}

// Dead reports whether the session has been retired, either by its own
// failure or by exceeding the failure threshold.
func (s *Session) Dead() bool {
	return s.state == StateDead || s.failures > failureThreshold
}

// Failures returns the session's current failure count.
func (s *Session) Failures() int { return s.failures }

// String identifies the session by its remote endpoint, for logging.
func (s *Session) String() string { return s.Endpoint.String() }

// Close tears down the underlying connection.
func (s *Session) Close() error {
	s.state = StateDead
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// DownloadPiece requests and assembles the piece at index, whose
// expected byte length is pieceLength. Requests are issued one at a
// time, strictly pipelined to a backlog of one, at block granularity
// (BlockSize, or less for the final block). Any read/write error, or a
// PIECE message that is malformed or carries another index, aborts the
// piece and increments the session's failure counter; choke, unchoke and
// have are processed and every other message id is ignored. The caller is
// responsible for re-queuing the index.
func (s *Session) DownloadPiece(index, pieceLength int) ([]byte, error) {
	buf := make([]byte, pieceLength)
	downloaded := 0
	requested := 0

	defer s.conn.SetDeadline(time.Time{})

	for downloaded < pieceLength {
		if !s.choked && requested < pieceLength && downloaded >= requested {
			blockLen := BlockSize
			if pieceLength-requested < blockLen {
				blockLen = pieceLength - requested
			}
			if _, err := s.conn.Write(FormatRequest(index, requested, blockLen).Serialize()); err != nil {
				s.failures++
				s.state = StateDead
				return nil, &bterrors.PieceFailed{Index: index, Reason: err.Error()}
			}
			requested += blockLen
		}

		s.conn.SetDeadline(time.Now().Add(blockReadTimeout))
		msg, err := ReadMessage(s.conn)
		if err != nil {
			s.failures++
			s.state = StateDead
			return nil, &bterrors.PieceFailed{Index: index, Reason: err.Error()}
		}
		if msg == nil {
			continue
		}
		switch msg.ID {
		case MsgChoke:
			s.choked = true
		case MsgUnchoke:
			s.choked = false
		case MsgHave:
			if idx, err := ParseHaveMessage(msg); err == nil {
				s.bitfield.SetPiece(idx)
			}
		case MsgPiece:
			n, err := ParsePieceMessage(index, buf, msg)
			if err != nil {
				s.failures++
				return nil, &bterrors.PieceFailed{Index: index, Reason: err.Error()}
			}
			downloaded += n
		default:
			// Ignored per the core's wire protocol scope (cancel and
			// other extension messages carry no information we need).
		}
	}

	if err := s.sendHave(index); err != nil {
		s.log.WithError(err).Debug("failed to send have after completing piece")
	}

	return buf, nil
}
