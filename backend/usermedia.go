package backend

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/opencockpit/carmedia/backend/mediasession"
)

// Mode selects which of a user's two source slots an operation applies to.
type Mode int

const (
	ModePlayback Mode = iota
	ModeBrowse

	modeCount = 2
)

func (m Mode) Valid() bool {
	return m == ModePlayback || m == ModeBrowse
}

func (m Mode) String() string {
	switch m {
	case ModePlayback:
		return "playback"
	case ModeBrowse:
		return "browse"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// SourceListener receives the new primary source on every change for a
// (user, mode) it is registered on, including changes to the empty source.
// A returned error is logged and skipped; it never affects the mutation or
// other listeners.
type SourceListener interface {
	OnSourceChanged(user int, mode Mode, source mediasession.Component) error
}

// controllerWatch pairs a watched session controller with its registered
// state callback. The watch arena is owned exclusively by the session
// bridge; nothing else registers or unregisters controller callbacks.
type controllerWatch struct {
	controller mediasession.Controller
	cancel     func()
	// lastActive is the edge detector for implicit selection. Seeded
	// with the controller's state at watch time so that a controller
	// observed already active is handled by the reconcile scan, not by
	// its first state push.
	lastActive bool
}

// userMediaState is all media-source state for one logical user. Created on
// first touch, mutated only under the coordinator mutex, dropped entirely
// when the user becomes invisible.
type userMediaState struct {
	user      int
	ephemeral bool

	// Lifecycle: neither flag set = UNINITIALIZED, pendingInit =
	// PENDING_UNLOCK, initialized = ACTIVE. TORN_DOWN is represented by
	// the state being absent from the coordinator's table.
	pendingInit bool
	initialized bool

	primary             [modeCount]mediasession.Component
	removedWhilePrimary [modeCount]mediasession.Component
	history             [modeCount][]mediasession.Component
	listeners           [modeCount][]SourceListener

	independentPlayback bool

	// activeController is derived state: the watched controller matching
	// primary[ModePlayback], or nil. Re-derived on every reconcile and
	// every playback source change; never holds a controller that is not
	// in the watch arena.
	activeController     mediasession.Controller
	currentPlaybackState mediasession.PlaybackState

	watched map[uuid.UUID]*controllerWatch

	disabledByPowerPolicy    bool
	wasPlayingBeforeDisabled bool

	cancelSessions func()
	cancelPackages func()
}

func newUserMediaState(user int, independent bool) *userMediaState {
	return &userMediaState{
		user:                user,
		independentPlayback: independent,
		watched:             make(map[uuid.UUID]*controllerWatch),
	}
}

// primaryMatches reports whether the controller's identity satisfies the
// user's current playback source.
func (u *userMediaState) primaryMatches(c mediasession.Controller) bool {
	return u.primary[ModePlayback].Matches(c.PackageName(), c.ClassName())
}

// affectedModes returns the modes a mutation of the given mode applies to:
// just that mode when playback is independent, both modes otherwise.
func (u *userMediaState) affectedModes(mode Mode) []Mode {
	if u.independentPlayback {
		return []Mode{mode}
	}
	return []Mode{ModePlayback, ModeBrowse}
}

// teardown releases everything the user's state holds: session and package
// subscriptions and every controller watch. The state object must not be
// used afterwards.
func (u *userMediaState) teardown() {
	if u.cancelSessions != nil {
		u.cancelSessions()
		u.cancelSessions = nil
	}
	if u.cancelPackages != nil {
		u.cancelPackages()
		u.cancelPackages = nil
	}
	for _, w := range u.watched {
		w.cancel()
	}
	u.watched = make(map[uuid.UUID]*controllerWatch)
	u.activeController = nil
}

// Store keys. All per-user state is scoped by a user suffix; there are no
// global keys in this design.

func sourceKey(mode Mode, user int) string {
	return fmt.Sprintf("media_source_component_%s_u%d", mode, user)
}

func historyKey(mode Mode, user int) string {
	return fmt.Sprintf("media_source_history_%s_u%d", mode, user)
}

func playbackStateKey(user int) string {
	return fmt.Sprintf("media_playback_state_u%d", user)
}

func sourceStateKey(user int, source mediasession.Component) string {
	return fmt.Sprintf("media_playback_state_%s_u%d", source, user)
}

func independentKey(user int) string {
	return fmt.Sprintf("media_independent_playback_u%d", user)
}
