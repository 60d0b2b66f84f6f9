package progress

import "sync"

// Blocker freezes user interaction while a build is running
type Blocker interface {
	Block()
	Unblock()
}

type nopBlocker struct{}

func (nopBlocker) Block()   {}
func (nopBlocker) Unblock() {}

// suppressedKeys are the navigation keys swallowed while blocked
var suppressedKeys = []string{"Tab", "Enter", " ", "ArrowUp", "ArrowDown", "ArrowLeft", "ArrowRight"}

// LockState describes what the interaction lock currently enforces
type LockState struct {
	Held          bool     `json:"held"`
	FocusReleased bool     `json:"focus_released"`
	Inert         bool     `json:"inert"`
	ScrollFrozen  bool     `json:"scroll_frozen"`
	SuppressKeys  []string `json:"suppressed_keys,omitempty"`
}

// InteractionLock is the service side Blocker. Front ends consult it before
// serving anything interactive.
type InteractionLock struct {
	mu    sync.RWMutex
	state LockState
}

// NewInteractionLock returns a released lock
func NewInteractionLock() *InteractionLock {
	return &InteractionLock{}
}

// Block releases focus, marks the interactive region inert, suppresses
// navigation keys and freezes scrolling.
func (l *InteractionLock) Block() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = LockState{
		Held:          true,
		FocusReleased: true,
		Inert:         true,
		ScrollFrozen:  true,
		SuppressKeys:  append([]string(nil), suppressedKeys...),
	}
}

// Unblock reverts everything Block did
func (l *InteractionLock) Unblock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = LockState{}
}

// Held reports whether interaction is blocked
func (l *InteractionLock) Held() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Held
}

// State returns a copy of the current lock state
func (l *InteractionLock) State() LockState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := l.state
	st.SuppressKeys = append([]string(nil), l.state.SuppressKeys...)
	return st
}
