package ping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/postalsys/muti-ping/internal/icmp"
	"github.com/postalsys/muti-ping/internal/logging"
)

// SessionState represents the phase an echo session is in.
type SessionState int

const (
	// StateSending means the session is pacing and transmitting a request.
	StateSending SessionState = iota
	// StateAwaitingReply means the session is blocked on the socket.
	StateAwaitingReply
	// StateClosed means the session has ended and released its socket.
	StateClosed
)

// String returns a human-readable name for the state.
func (s SessionState) String() string {
	switch s {
	case StateSending:
		return "SENDING"
	case StateAwaitingReply:
		return "AWAITING_REPLY"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Discard reasons reported to the Recorder.
const (
	DiscardMalformed  = "malformed"
	DiscardType       = "type"
	DiscardIdentifier = "identifier"
)

// Recorder receives session events for instrumentation.
type Recorder interface {
	RecordEchoSent(bytes int)
	RecordReply(bytes int, rtt time.Duration)
	RecordDiscard(reason string)
	RecordTransportError(op string)
}

// identityOwner is implemented by sockets whose kernel assigns the echo
// identifier.
type identityOwner interface {
	EchoID() (uint16, bool)
}

// Session is one echo exchange with a single destination. It alternates
// between sending a paced request and waiting for the next datagram until
// the sequence counter passes MaxEchoes.
//
// Run drives the session from one goroutine. The sequence counter and send
// timestamp are only touched by that goroutine; mu exists for Stats and
// State, which may be called from elsewhere.
type Session struct {
	mu    sync.RWMutex
	state SessionState
	tally tally

	identifier uint16
	nextSeq    int
	lastSend   time.Time

	dest    *net.IPAddr
	conn    icmp.Conn
	cfg     Config
	limiter *rate.Limiter
	buf     []byte

	logger   *slog.Logger
	recorder Recorder
	onSend   func(seq uint16)
	onResult func(EchoResult)
	now      func() time.Time

	closeOnce sync.Once
	closeErr  error
}

// NewSession creates a session that owns ep.Conn. The socket is closed when
// Run returns or Close is called, whichever happens first.
func NewSession(ep *Endpoint, cfg Config, logger *slog.Logger) (*Session, error) {
	if ep == nil || ep.Conn == nil || ep.Addr == nil {
		return nil, errors.New("session requires a destination and an open socket")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	id := defaultIdentifier()
	if cfg.Identifier != nil {
		id = *cfg.Identifier
	}
	if owner, ok := ep.Conn.(identityOwner); ok {
		if kid, ok := owner.EchoID(); ok {
			id = kid
		}
	}

	return &Session{
		state:      StateSending,
		identifier: id,
		dest:       ep.Addr,
		conn:       ep.Conn,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		buf:        make([]byte, cfg.BufferSize),
		logger: logger.With(
			slog.String(logging.KeyComponent, "session"),
			slog.String(logging.KeyDestination, ep.Addr.String()),
		),
		now: time.Now,
	}, nil
}

// SetRecorder sets the instrumentation sink. Call before Run.
func (s *Session) SetRecorder(r Recorder) {
	s.recorder = r
}

// OnSend registers a callback invoked after each request is transmitted.
// Call before Run.
func (s *Session) OnSend(fn func(seq uint16)) {
	s.onSend = fn
}

// OnResult registers a callback invoked for every matched reply. Call before
// Run. The callback runs on the session goroutine.
func (s *Session) OnResult(fn func(EchoResult)) {
	s.onResult = fn
}

// Identifier returns the echo identifier used by this session.
func (s *Session) Identifier() uint16 {
	return s.identifier
}

// Destination returns the address being pinged.
func (s *Session) Destination() *net.IPAddr {
	return s.dest
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.tally.snapshot()
	st.Destination = s.dest.String()
	st.Identifier = s.identifier
	st.State = s.state.String()
	return st
}

// Run cycles send and receive until the session is exhausted, a transport
// error occurs, or ctx is done. The socket is closed on every return path.
// Malformed or foreign datagrams are dropped without ending the session.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()

	// A blocked read only returns on data or deadline; force the deadline
	// when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	s.logger.Info("session started",
		slog.Int(logging.KeyIdentifier, int(s.identifier)),
		slog.Int(logging.KeyCount, s.cfg.MaxEchoes))

	for {
		if s.exhausted() {
			s.logger.Info("session finished", slog.Int(logging.KeySent, s.nextSeq))
			return nil
		}

		if err := s.send(ctx); err != nil {
			return err
		}
		if err := s.receive(ctx); err != nil {
			return err
		}
	}
}

// exhausted reports whether the next sequence number is past the bound.
// A zero bound sends nothing.
func (s *Session) exhausted() bool {
	return s.cfg.MaxEchoes == 0 || s.nextSeq > s.cfg.MaxEchoes
}

// send builds the next request, waits out the pacing interval and transmits.
func (s *Session) send(ctx context.Context) error {
	s.setState(StateSending)

	seq := uint16(s.nextSeq)
	s.nextSeq++
	req := icmp.NewEchoRequest(s.identifier, seq)
	packet := req.Marshal()

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	s.lastSend = s.now()
	if _, err := s.conn.WriteTo(packet, s.dest); err != nil {
		s.recordTransportError("send")
		return fmt.Errorf("send echo %d: %w", seq, err)
	}

	s.mu.Lock()
	s.tally.sent()
	s.mu.Unlock()
	if s.recorder != nil {
		s.recorder.RecordEchoSent(len(packet))
	}

	s.logger.Debug("echo sent", slog.Int(logging.KeySequence, int(seq)))
	if s.onSend != nil {
		s.onSend(seq)
	}
	return nil
}

// receive blocks for exactly one datagram and reports it if it answers this
// session. Replies are matched on type and identifier only, so a late reply
// to an earlier sequence is timed against the most recent send.
func (s *Session) receive(ctx context.Context) error {
	s.setState(StateAwaitingReply)

	n, _, err := s.conn.ReadFrom(s.buf)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.recordTransportError("receive")
		return fmt.Errorf("receive reply: %w", err)
	}
	received := s.now()

	reply, err := icmp.ParseEchoReply(s.buf[:n])
	if err != nil {
		s.discard(DiscardMalformed)
		return nil
	}
	if !reply.IsEchoReplyFor(s.identifier) {
		if reply.ICMP.Type() != icmp.TypeEchoReply {
			s.discard(DiscardType)
		} else {
			s.discard(DiscardIdentifier)
		}
		return nil
	}

	result := EchoResult{
		Bytes:    reply.PayloadLen(),
		Source:   reply.IP.Source(),
		Sequence: reply.ICMP.Sequence(),
		TTL:      reply.IP.TTL(),
		RTT:      received.Sub(s.lastSend),
	}

	s.mu.Lock()
	s.tally.reply(result.Bytes, result.RTT)
	s.mu.Unlock()
	if s.recorder != nil {
		s.recorder.RecordReply(result.Bytes, result.RTT)
	}

	s.logger.Debug("echo reply",
		slog.Int(logging.KeySequence, int(result.Sequence)),
		slog.String(logging.KeySource, result.Source.String()),
		slog.Int(logging.KeyTTL, int(result.TTL)),
		slog.Duration(logging.KeyRTT, result.RTT))

	if s.onResult != nil {
		s.onResult(result)
	}
	return nil
}

func (s *Session) discard(reason string) {
	s.mu.Lock()
	s.tally.discard()
	s.mu.Unlock()
	if s.recorder != nil {
		s.recorder.RecordDiscard(reason)
	}
}

func (s *Session) recordTransportError(op string) {
	if s.recorder != nil {
		s.recorder.RecordTransportError(op)
	}
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state
}

// Close releases the socket. Safe to call more than once; only the first
// call closes.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		s.closeErr = s.conn.Close()
		s.logger.Debug("session closed")
	})
	return s.closeErr
}
