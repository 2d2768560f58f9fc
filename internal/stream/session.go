package stream

import (
	"errors"
	"log"
	"sync"
)

// FrameWriter is the transport half of a session. gorilla/websocket
// connections satisfy it through a small adapter in the handler; tests supply
// an in-memory recorder.
type FrameWriter interface {
	WriteFrame(Frame) error
}

var (
	// ErrBusy is returned by Begin while another logical request is in flight
	// on the same session.
	ErrBusy = errors.New("previous request still streaming on this session")
	// ErrNoRequest is returned when Content/End/Fail is called outside a
	// logical request.
	ErrNoRequest = errors.New("no logical request in flight")
	// ErrClosed is returned once the session has been closed.
	ErrClosed = errors.New("session closed")
)

// Session serialises one duplex channel. It enforces the per-request frame
// grammar: one START, CONTENT frames with contiguous indices from zero, one
// END or ERROR. The session survives request failures; only a transport fault
// or Close finishes it.
type Session struct {
	ID string

	mu        sync.Mutex
	writer    FrameWriter
	inFlight  bool
	nextIndex int
	closed    bool
}

// NewSession wraps a transport writer.
func NewSession(id string, writer FrameWriter) *Session {
	return &Session{ID: id, writer: writer}
}

// Begin opens a logical request and emits its START frame. It fails with
// ErrBusy while another request streams on this session (single flight).
func (s *Session) Begin(requestID, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.inFlight {
		return ErrBusy
	}
	if err := s.writer.WriteFrame(StartFrame(requestID, model)); err != nil {
		return err
	}
	s.inFlight = true
	s.nextIndex = 0
	return nil
}

// Content emits the next CONTENT frame; indices are allocated here so they
// are contiguous by construction.
func (s *Session) Content(delta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.inFlight {
		return ErrNoRequest
	}
	if err := s.writer.WriteFrame(ContentFrame(delta, s.nextIndex)); err != nil {
		return err
	}
	s.nextIndex++
	return nil
}

// End emits the terminal END frame carrying completion metadata and closes
// the logical request.
func (s *Session) End(frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.inFlight {
		return ErrNoRequest
	}
	frame.Type = FrameEnd
	frame.IsEnd = true
	err := s.writer.WriteFrame(frame)
	s.inFlight = false
	return err
}

// Fail emits an ERROR frame and ends only the current logical request; the
// session stays usable for further requests.
func (s *Session) Fail(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err := s.writer.WriteFrame(ErrorFrame(message)); err != nil {
		log.Printf("[stream] session=%s failed to write error frame: %v", s.ID, err)
	}
	s.inFlight = false
}

// Heartbeat emits a HEARTBEAT frame; legal at any time.
func (s *Session) Heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.writer.WriteFrame(HeartbeatFrame())
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// InFlight reports whether a logical request is currently streaming.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Close marks the session dead. An in-flight request is simply abandoned;
// persistence is the orchestrator's concern and happens only on completion.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.inFlight = false
}
