package mediasession

import (
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Registry is an in-process session directory. Apps running in the same
// process publish sessions through it; the coordinator consumes it through
// the Directory interface. It is also the session fixture used in tests.
type Registry struct {
	mu       sync.Mutex
	sessions map[int][]*Session
	subs     map[int]map[int]func([]Controller)
	nextSub  int
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[int][]*Session),
		subs:     make(map[int]map[int]func([]Controller)),
	}
}

// CreateSession publishes a new session for the given user and notifies
// session-list subscribers.
func (r *Registry) CreateSession(user int, pkg, class string) *Session {
	s := &Session{
		reg:       r,
		user:      user,
		token:     uuid.New(),
		pkg:       pkg,
		class:     class,
		state:     StateNone,
		listeners: make(map[int]StateListener),
	}
	r.mu.Lock()
	r.sessions[user] = append(r.sessions[user], s)
	subs, list := r.snapshotLocked(user)
	r.mu.Unlock()

	for _, fn := range subs {
		fn(list)
	}
	return s
}

// DestroySession removes a session from the active list and notifies
// session-list subscribers. Destroying twice is a no-op.
func (r *Registry) DestroySession(s *Session) {
	r.mu.Lock()
	cur := r.sessions[s.user]
	idx := slices.Index(cur, s)
	if idx < 0 {
		r.mu.Unlock()
		return
	}
	r.sessions[s.user] = slices.Delete(slices.Clone(cur), idx, idx+1)
	subs, list := r.snapshotLocked(s.user)
	r.mu.Unlock()

	for _, fn := range subs {
		fn(list)
	}
}

func (r *Registry) ActiveSessions(user int) []Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, list := r.snapshotLocked(user)
	return list
}

func (r *Registry) SubscribeSessions(user int, fn func([]Controller)) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[user] == nil {
		r.subs[user] = make(map[int]func([]Controller))
	}
	id := r.nextSub
	r.nextSub++
	r.subs[user][id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs[user], id)
	}
}

func (r *Registry) snapshotLocked(user int) ([]func([]Controller), []Controller) {
	list := make([]Controller, len(r.sessions[user]))
	for i, s := range r.sessions[user] {
		list[i] = s
	}
	subs := make([]func([]Controller), 0, len(r.subs[user]))
	for _, fn := range r.subs[user] {
		subs = append(subs, fn)
	}
	return subs, list
}

// Session is the Registry's controller implementation.
type Session struct {
	reg   *Registry
	user  int
	token uuid.UUID
	pkg   string
	class string

	mu        sync.Mutex
	state     PlaybackState
	listeners map[int]StateListener
	nextID    int

	// TransportErr, if set, makes all transport commands fail without
	// changing state. Used to exercise command-failure paths.
	TransportErr error
}

func (s *Session) Token() uuid.UUID    { return s.token }
func (s *Session) PackageName() string { return s.pkg }
func (s *Session) ClassName() string   { return s.class }

func (s *Session) PlaybackState() PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Subscribe(fn StateListener) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// SetPlaybackState updates the session's state and pushes it to listeners.
func (s *Session) SetPlaybackState(state PlaybackState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	fns := make([]StateListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(state)
	}
}

func (s *Session) Play() error {
	if err := s.transportErr(); err != nil {
		return err
	}
	s.SetPlaybackState(StatePlaying)
	return nil
}

func (s *Session) Pause() error {
	if err := s.transportErr(); err != nil {
		return err
	}
	s.SetPlaybackState(StatePaused)
	return nil
}

func (s *Session) Stop() error {
	if err := s.transportErr(); err != nil {
		return err
	}
	s.SetPlaybackState(StateStopped)
	return nil
}

func (s *Session) transportErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TransportErr
}
