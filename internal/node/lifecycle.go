// Package node implements the three roles of the relay: the IoT client that
// produces payloads, the edge node that processes or forwards them, and the
// cloud server that collects results.
package node

import (
	"errors"
	"sync/atomic"
)

var ErrAlreadyStarted = errors.New("node already started")

type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Lifecycle moves strictly forward: Created, Running, Stopping, Stopped.
type Lifecycle struct {
	state atomic.Int32
}

func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

func (l *Lifecycle) start() error {
	if !l.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	return nil
}

func (l *Lifecycle) stopping() {
	l.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
}

func (l *Lifecycle) stopped() {
	l.state.Store(int32(StateStopped))
}

// Observer receives role events for health reporting. Calls must not block.
type Observer interface {
	PeerConnected(peerID string)
	PeerDisconnected(peerID string)
	UpstreamConnected(ok bool)
	PayloadHandled(peerID string)
}

type nopObserver struct{}

func (nopObserver) PeerConnected(string)    {}
func (nopObserver) PeerDisconnected(string) {}
func (nopObserver) UpstreamConnected(bool)  {}
func (nopObserver) PayloadHandled(string)   {}
