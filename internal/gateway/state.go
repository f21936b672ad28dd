package gateway

import (
	"sync"

	"github.com/rs/zerolog"
)

// ConnState is the lifecycle of one client connection. States only move
// forward; disconnected is reachable from any state and is final.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateAuthenticating
	StateAuthenticated
	StateJoinedRoom
	StateActive
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateJoinedRoom:
		return "joined-room"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

type connLifecycle struct {
	mu     sync.Mutex
	state  ConnState
	logger zerolog.Logger
}

func newConnLifecycle(logger zerolog.Logger) *connLifecycle {
	l := &connLifecycle{state: StateConnecting, logger: logger}
	logger.Debug().Str("state", StateConnecting.String()).Msg("connection state")
	return l
}

// advance moves to next and reports whether the transition was legal.
func (l *connLifecycle) advance(next ConnState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateDisconnected || next <= l.state {
		return false
	}
	l.logger.Debug().
		Str("from", l.state.String()).
		Str("state", next.String()).
		Msg("connection state")
	l.state = next
	return true
}

func (l *connLifecycle) current() ConnState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// with adds a field to every later transition log line.
func (l *connLifecycle) with(key, value string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger = l.logger.With().Str(key, value).Logger()
}
