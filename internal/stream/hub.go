package stream

import (
	"log/slog"
	"sync"
)

// hub tracks the live sessions of a server. Handlers registered on the hub
// are shared by every session it accepts.
type hub struct {
	*dispatcher
	logger *slog.Logger

	mu           sync.Mutex
	sessions     map[*session]struct{}
	closed       bool
	onConnect    func(Session)
	onDisconnect func(Session)
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		dispatcher: newDispatcher(),
		logger:     logger,
		sessions:   make(map[*session]struct{}),
	}
}

func (h *hub) OnConnect(fn func(Session)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = fn
}

func (h *hub) OnDisconnect(fn func(Session)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconnect = fn
}

// serve blocks for the lifetime of the session. The connect callback runs
// before the first frame is dispatched.
func (h *hub) serve(peerID string, fallback bool, conn frameConn) {
	if fallback {
		h.logger.Warn("client sent no device id, using session id", "peer_id", peerID)
	}
	s := newSession(peerID, conn, h.dispatcher, h.logger)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close("server closing")
		return
	}
	h.sessions[s] = struct{}{}
	onConnect, onDisconnect := h.onConnect, h.onDisconnect
	h.mu.Unlock()

	if onConnect != nil {
		onConnect(s)
	}
	go s.readLoop()
	<-s.Done()

	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	if onDisconnect != nil {
		onDisconnect(s)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	open := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		open = append(open, s)
	}
	h.mu.Unlock()

	for _, s := range open {
		if err := s.Disconnect(); err != nil {
			h.logger.Debug("close session", "peer_id", s.PeerID(), "error", err)
		}
	}
}

func (h *hub) sessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
