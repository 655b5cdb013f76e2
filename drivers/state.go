package drivers

import (
	"sync"
)

// ConnectionState follows a transport from first dial to teardown.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	// Lost means the connection dropped without us asking it to.
	Lost
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Lost:
		return "lost"
	default:
		return "unknown"
	}
}

type stateTracker struct {
	mu        sync.Mutex
	state     ConnectionState
	ready     chan struct{}
	readyOnce sync.Once
	onChange  func(ConnectionState)
}

func newStateTracker(onChange func(ConnectionState)) *stateTracker {
	return &stateTracker{
		ready:    make(chan struct{}),
		onChange: onChange,
	}
}

func (t *stateTracker) set(state ConnectionState) {
	t.mu.Lock()
	changed := t.state != state
	t.state = state
	t.mu.Unlock()

	if state == Connected {
		t.readyOnce.Do(func() { close(t.ready) })
	}
	if changed && t.onChange != nil {
		t.onChange(state)
	}
}

func (t *stateTracker) get() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
