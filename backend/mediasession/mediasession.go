// Package mediasession models live media sessions: the component identity of
// a media app, coarse playback state, and the controller handle through which
// the coordinator observes and commands a running session.
package mediasession

import (
	"strings"

	"github.com/google/uuid"
)

// PlaybackState is the coarse playback state of a session.
type PlaybackState int

const (
	StateNone PlaybackState = iota
	StateStopped
	StatePaused
	StatePlaying
	StateBuffering
	StateError
)

func (s PlaybackState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateStopped:
		return "stopped"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	case StateBuffering:
		return "buffering"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Active reports whether the state counts as actively playing for
// implicit source selection (playing or buffering toward playing).
func (s PlaybackState) Active() bool {
	return s == StatePlaying || s == StateBuffering
}

// Component identifies a media service by package and class name.
// The zero value means "no source".
type Component struct {
	Package string
	Class   string
}

func (c Component) IsEmpty() bool {
	return c.Package == ""
}

func (c Component) String() string {
	if c.Class == "" {
		return c.Package
	}
	return c.Package + "/" + c.Class
}

// Matches reports whether a session with the given package and class identity
// satisfies this component. An empty class on the component is a package-only
// match, used when the origin class is unknown.
func (c Component) Matches(pkg, class string) bool {
	if c.Package == "" || c.Package != pkg {
		return false
	}
	return c.Class == "" || c.Class == class
}

// ParseComponent parses the string form produced by Component.String.
// Returns the zero Component for an empty or malformed string.
func ParseComponent(s string) Component {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "/") {
		return Component{}
	}
	pkg, class, _ := strings.Cut(s, "/")
	return Component{Package: pkg, Class: class}
}

// StateListener receives playback state pushes from a session controller.
type StateListener func(PlaybackState)

// Controller is a live handle to a running app's media session.
type Controller interface {
	// Token uniquely identifies the underlying session for the
	// session's whole lifetime.
	Token() uuid.UUID
	PackageName() string
	ClassName() string
	PlaybackState() PlaybackState

	// Subscribe registers a playback state listener and returns the
	// paired cancel func. Listeners may be invoked from arbitrary
	// goroutines.
	Subscribe(fn StateListener) (cancel func())

	// Transport commands.
	Play() error
	Pause() error
	Stop() error
}

// Directory is the session directory service: the per-user set of currently
// active session controllers, with a push subscription for changes.
type Directory interface {
	ActiveSessions(user int) []Controller
	SubscribeSessions(user int, fn func([]Controller)) (cancel func())
}
