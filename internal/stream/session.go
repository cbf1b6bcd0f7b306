package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/minhtran241/edge-computing-models/internal/model"
)

var (
	ErrConnection   = errors.New("connection error")
	ErrTransmission = errors.New("transmission error")
)

// HeaderDeviceID carries the client's device identifier at connect time.
const HeaderDeviceID = "device_id"

type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Handler runs on the session's read goroutine. It must return quickly;
// long-running work belongs on a work queue.
type Handler func(s Session, env model.Envelope)

// Session is one bidirectional event connection.
type Session interface {
	PeerID() string
	State() State
	On(event string, h Handler)
	Emit(ctx context.Context, event string, env model.Envelope) (time.Duration, error)
	Disconnect() error
	Done() <-chan struct{}
}

// Dialer opens outbound sessions.
type Dialer interface {
	Dial(ctx context.Context, address, deviceID string) (Session, error)
}

// Server accepts inbound sessions. Handlers must be registered before Listen.
type Server interface {
	On(event string, h Handler)
	OnConnect(func(Session))
	OnDisconnect(func(Session))
	Listen() error
	// Endpoint is an address a Dialer of the same mode can connect to.
	Endpoint() string
	Serve(ctx context.Context) error
	Close() error
}

type frameConn interface {
	WriteFrame(ctx context.Context, f Frame) error
	ReadFrame(ctx context.Context) (Frame, error)
	Close(reason string) error
}

type dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func newDispatcher() *dispatcher {
	return &dispatcher{handlers: make(map[string]Handler)}
}

func (d *dispatcher) On(event string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[event] = h
}

func (d *dispatcher) lookup(event string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[event]
	return h, ok
}

type session struct {
	peerID string
	conn   frameConn
	logger *slog.Logger
	events *dispatcher

	state     atomic.Int32
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	readCtx   context.Context
	stopRead  context.CancelFunc
}

func newSession(peerID string, conn frameConn, events *dispatcher, logger *slog.Logger) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		peerID:   peerID,
		conn:     conn,
		logger:   logger.With("peer_id", peerID),
		events:   events,
		done:     make(chan struct{}),
		readCtx:  ctx,
		stopRead: cancel,
	}
	s.state.Store(int32(StateConnected))
	return s
}

func (s *session) PeerID() string { return s.peerID }

func (s *session) State() State { return State(s.state.Load()) }

func (s *session) Done() <-chan struct{} { return s.done }

func (s *session) On(event string, h Handler) {
	s.events.On(event, h)
}

// Emit encodes env and writes it. The returned duration covers only the
// encode and write calls, not delivery.
func (s *session) Emit(ctx context.Context, event string, env model.Envelope) (time.Duration, error) {
	if st := s.State(); st != StateConnected {
		return 0, fmt.Errorf("%w: session %s is %s", ErrTransmission, s.peerID, st)
	}

	start := time.Now()
	data, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("%w: encode envelope: %v", ErrTransmission, err)
	}
	s.writeMu.Lock()
	err = s.conn.WriteFrame(ctx, Frame{Event: event, Data: data})
	s.writeMu.Unlock()
	elapsed := time.Since(start)

	if err != nil {
		_ = s.terminate(fmt.Sprintf("write failed: %v", err))
		return elapsed, fmt.Errorf("%w: emit %s to %s: %v", ErrTransmission, event, s.peerID, err)
	}
	return elapsed, nil
}

// Disconnect is idempotent; only the first call has side effects and can
// return an error.
func (s *session) Disconnect() error {
	return s.terminate("disconnect")
}

func (s *session) terminate(reason string) error {
	var err error
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateDisconnected))
		err = s.conn.Close(reason)
		s.stopRead()
		close(s.done)
		s.logger.Debug("session closed", "reason", reason)
	})
	return err
}

// readLoop dispatches inbound frames until the connection fails or the
// session is disconnected.
func (s *session) readLoop() {
	defer func() { _ = s.terminate("read loop ended") }()
	for {
		f, err := s.conn.ReadFrame(s.readCtx)
		if err != nil {
			if s.State() != StateDisconnected {
				s.logger.Debug("session read ended", "error", err)
			}
			return
		}
		s.dispatch(f)
	}
}

func (s *session) dispatch(f Frame) {
	h, ok := s.events.lookup(f.Event)
	if !ok {
		s.logger.Debug("no handler for event", "event", f.Event)
		return
	}
	var env model.Envelope
	if err := json.Unmarshal(f.Data, &env); err != nil {
		s.logger.Warn("dropping undecodable envelope", "event", f.Event, "error", err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event handler panicked", "event", f.Event, "panic", r)
		}
	}()
	h(s, env)
}
