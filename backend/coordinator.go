package backend

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/opencockpit/carmedia/backend/mediasession"
	"github.com/opencockpit/carmedia/backend/packages"
	"github.com/opencockpit/carmedia/backend/prefs"
	"github.com/opencockpit/carmedia/backend/util"
)

var (
	ErrInvalidMode = errors.New("invalid media source mode")
	ErrInvalidUser = errors.New("invalid user id")
	// ErrUnresolvedSource is returned when a caller tries to select a
	// component that does not resolve to a media browse service.
	ErrUnresolvedSource = errors.New("component is not a resolvable media browse service")
)

// ServiceIndex resolves installed media components and delivers package
// install/remove events. Implemented by *packages.Index.
type ServiceIndex interface {
	Resolve(user int, pkg, class string) (mediasession.Component, bool)
	Subscribe(user int, fn func(packages.Event)) (cancel func())
}

// Connector is the fire-and-forget bootstrap that brings up the
// browse/playback binding for a source outside this process. Start must not
// block.
type Connector interface {
	Start(user int, source mediasession.Component, autoplay bool)
}

// ConnectorFunc adapts a func to the Connector interface.
type ConnectorFunc func(user int, source mediasession.Component, autoplay bool)

func (f ConnectorFunc) Start(user int, source mediasession.Component, autoplay bool) {
	f(user, source, autoplay)
}

// Telemetry receives best-effort usage-interaction events. Implementations
// must not block.
type Telemetry interface {
	RecordSourceUse(user int, source mediasession.Component)
}

type logTelemetry struct {
	log zerolog.Logger
}

func (t logTelemetry) RecordSourceUse(user int, source mediasession.Component) {
	t.log.Debug().Int("user", user).Stringer("source", source).Msg("media source used")
}

// Coordinator arbitrates the single active media source per (user, mode)
// pair and keeps exactly one live binding to that source's session
// controller. All state mutations happen under one coordinator-wide mutex;
// external push events and listener fan-out run on one serial worker queue
// so that delivery order matches mutation order.
type Coordinator struct {
	cfg       *Config
	store     prefs.Store
	directory mediasession.Directory
	index     ServiceIndex
	connector Connector
	log       zerolog.Logger
	queue     *util.TaskQueue

	// Telemetry may be replaced before the first lifecycle event.
	Telemetry Telemetry

	mu            sync.Mutex
	users         map[int]*userMediaState
	unlocked      map[int]bool
	mediaDisabled bool
}

func NewCoordinator(
	cfg *Config,
	store prefs.Store,
	directory mediasession.Directory,
	index ServiceIndex,
	connector Connector,
	logger zerolog.Logger,
) *Coordinator {
	log := logger.With().Str("component", "coordinator").Logger()
	return &Coordinator{
		cfg:       cfg,
		store:     store,
		directory: directory,
		index:     index,
		connector: connector,
		log:       log,
		queue:     util.NewTaskQueue(),
		Telemetry: logTelemetry{log: log},
		users:     make(map[int]*userMediaState),
		unlocked:  make(map[int]bool),
	}
}

// Release tears down all per-user state and stops the worker queue.
func (c *Coordinator) Release() {
	c.mu.Lock()
	for user, u := range c.users {
		u.teardown()
		delete(c.users, user)
	}
	c.mu.Unlock()
	c.queue.Close()
}

// Drain blocks until all pending event and notification tasks have run.
func (c *Coordinator) Drain() {
	c.queue.Drain()
}

// SetSource selects the primary source for (user, mode). An empty source
// clears it; a non-empty source must resolve to a browse service for the
// user. Selecting the current source again is a no-op.
func (c *Coordinator) SetSource(user int, mode Mode, source mediasession.Component) error {
	if err := validate(user, mode); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !source.IsEmpty() {
		resolved, ok := c.index.Resolve(user, source.Package, source.Class)
		if !ok {
			return errors.Wrapf(ErrUnresolvedSource, "%s for user %d", source, user)
		}
		source = resolved
	}
	u := c.stateLocked(user)
	c.setPrimarySourceLocked(u, mode, source)
	return nil
}

// GetSource returns the current primary source for (user, mode); the zero
// Component if none is set.
func (c *Coordinator) GetSource(user int, mode Mode) (mediasession.Component, error) {
	if err := validate(user, mode); err != nil {
		return mediasession.Component{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(user).primary[mode], nil
}

// GetSourceHistory returns the most-recently-used prior sources for
// (user, mode), head first.
func (c *Coordinator) GetSourceHistory(user int, mode Mode) ([]mediasession.Component, error) {
	if err := validate(user, mode); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.stateLocked(user).history[mode]
	out := make([]mediasession.Component, len(h))
	copy(out, h)
	return out, nil
}

func (c *Coordinator) RegisterListener(user int, mode Mode, l SourceListener) error {
	if err := validate(user, mode); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.stateLocked(user)
	u.listeners[mode] = append(u.listeners[mode], l)
	return nil
}

func (c *Coordinator) UnregisterListener(user int, mode Mode, l SourceListener) error {
	if err := validate(user, mode); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.stateLocked(user)
	for i, reg := range u.listeners[mode] {
		if reg == l {
			u.listeners[mode] = append(u.listeners[mode][:i], u.listeners[mode][i+1:]...)
			return nil
		}
	}
	return nil
}

func (c *Coordinator) GetIndependentPlaybackConfig(user int) (bool, error) {
	if user < 0 {
		return false, ErrInvalidUser
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(user).independentPlayback, nil
}

// SetIndependentPlaybackConfig couples or uncouples the user's playback and
// browse sources. Turning coupling on (independent=false) immediately aligns
// the browse source with the playback source.
func (c *Coordinator) SetIndependentPlaybackConfig(user int, independent bool) error {
	if user < 0 {
		return ErrInvalidUser
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.stateLocked(user)
	if u.independentPlayback == independent {
		return nil
	}
	u.independentPlayback = independent
	c.persistInt(u, independentKey(u.user), boolToInt(independent))
	if !independent && u.primary[ModeBrowse] != u.primary[ModePlayback] {
		c.setPrimarySourceLocked(u, ModeBrowse, u.primary[ModePlayback])
	}
	return nil
}

// OnUserVisible handles a user becoming visible on some display. Ephemeral
// users never touch the persistent store.
func (c *Coordinator) OnUserVisible(user int, ephemeral bool) {
	c.queue.Post(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		u := c.stateLocked(user)
		u.ephemeral = ephemeral
		c.initUserLocked(u)
	})
}

// OnUserSwitch handles the foreground user switching to the given user.
// Initialization is identical to becoming visible.
func (c *Coordinator) OnUserSwitch(user int) {
	c.queue.Post(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.initUserLocked(c.stateLocked(user))
	})
}

// OnUserUnlocked handles a user's credential-encrypted storage unlocking.
func (c *Coordinator) OnUserUnlocked(user int) {
	c.queue.Post(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.unlocked[user] = true
		if u, ok := c.users[user]; ok && u.pendingInit {
			c.initUserLocked(u)
		}
	})
}

// OnUserInvisible tears down and drops all media state for the user.
func (c *Coordinator) OnUserInvisible(user int) {
	c.queue.Post(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		u, ok := c.users[user]
		if !ok {
			return
		}
		u.teardown()
		delete(c.users, user)
		c.log.Info().Int("user", user).Msg("user media state dropped")
	})
}

// stateLocked returns the user's media state, creating it on first touch.
func (c *Coordinator) stateLocked(user int) *userMediaState {
	u, ok := c.users[user]
	if !ok {
		u = newUserMediaState(user, c.cfg.Coordinator.IndependentPlayback)
		c.users[user] = u
	}
	return u
}

// initUserLocked transitions a user's state to ACTIVE: loads persisted
// sources, binds the package-event receiver and session listener, and kicks
// off the media connector bootstrap. With storage still locked the state
// parks in PENDING_UNLOCK until OnUserUnlocked.
func (c *Coordinator) initUserLocked(u *userMediaState) {
	if u.initialized {
		return
	}
	if !u.ephemeral && !c.unlocked[u.user] {
		u.pendingInit = true
		c.log.Info().Int("user", u.user).Msg("waiting for user storage unlock")
		return
	}
	u.pendingInit = false
	u.initialized = true
	u.disabledByPowerPolicy = c.mediaDisabled

	if u.ephemeral {
		def := c.defaultSource(u.user)
		for m := Mode(0); m < modeCount; m++ {
			u.primary[m] = def
		}
	} else {
		u.independentPlayback = intToBool(c.store.GetInt(
			independentKey(u.user), boolToInt(c.cfg.Coordinator.IndependentPlayback)))
		c.loadHistoryLocked(u)
		for m := Mode(0); m < modeCount; m++ {
			u.primary[m] = c.loadSourceLocked(u, m)
		}
		if !u.independentPlayback {
			// persisted slots may disagree after a config change
			u.primary[ModeBrowse] = u.primary[ModePlayback]
		}
	}

	// Listeners may have registered before initialization completed; the
	// restored sources are changes they are owed.
	for m := Mode(0); m < modeCount; m++ {
		if !u.primary[m].IsEmpty() {
			c.notifyListenersLocked(u, m, u.primary[m])
		}
	}

	user := u.user
	u.cancelPackages = c.index.Subscribe(user, func(ev packages.Event) {
		c.queue.Post(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if u, ok := c.users[user]; ok && u.initialized {
				c.handlePackageEventLocked(u, ev)
			}
		})
	})
	u.cancelSessions = c.directory.SubscribeSessions(user, func(list []mediasession.Controller) {
		c.queue.Post(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if u, ok := c.users[user]; ok && u.initialized {
				c.reconcileLocked(u, list)
			}
		})
	})
	c.reconcileLocked(u, c.directory.ActiveSessions(user))

	c.log.Info().
		Int("user", user).
		Stringer("playback", u.primary[ModePlayback]).
		Stringer("browse", u.primary[ModeBrowse]).
		Bool("ephemeral", u.ephemeral).
		Msg("user media state initialized")

	if comp := u.primary[ModePlayback]; !comp.IsEmpty() {
		c.startConnectorLocked(u, c.loadedStateLocked(u) == mediasession.StatePlaying)
	}
}

// loadSourceLocked reads the persisted source for a mode, falling back
// through history and the platform default when the persisted value is
// stale or malformed.
func (c *Coordinator) loadSourceLocked(u *userMediaState, mode Mode) mediasession.Component {
	raw := c.store.GetString(sourceKey(mode, u.user), "")
	comp := mediasession.ParseComponent(raw)
	if !comp.IsEmpty() {
		if _, ok := c.index.Resolve(u.user, comp.Package, comp.Class); ok {
			return comp
		}
		c.log.Warn().Int("user", u.user).Str("source", raw).
			Msg("persisted media source no longer resolves")
	}
	return c.resolveFallbackLocked(u, mode)
}

func (c *Coordinator) loadedStateLocked(u *userMediaState) mediasession.PlaybackState {
	if u.ephemeral {
		return mediasession.StateNone
	}
	return mediasession.PlaybackState(c.store.GetInt(
		playbackStateKey(u.user), int(mediasession.StateNone)))
}

func (c *Coordinator) defaultSource(user int) mediasession.Component {
	def := mediasession.ParseComponent(c.cfg.Coordinator.DefaultSource)
	if def.IsEmpty() {
		return mediasession.Component{}
	}
	if resolved, ok := c.index.Resolve(user, def.Package, def.Class); ok {
		return resolved
	}
	c.log.Error().Str("source", def.String()).
		Msg("configured default media source does not resolve")
	return mediasession.Component{}
}

// persist queues a best-effort store write for a non-ephemeral, unlocked
// user. Pre-unlock writes are skipped: persisted values are recoverable
// caches, not state of record.
func (c *Coordinator) persist(u *userMediaState, key, value string) {
	if u.ephemeral {
		return
	}
	if !c.unlocked[u.user] {
		c.log.Warn().Int("user", u.user).Str("key", key).
			Msg("skipping persist, user storage locked")
		return
	}
	c.queue.Post(func() {
		c.store.PutString(key, value)
	})
}

func (c *Coordinator) persistInt(u *userMediaState, key string, value int) {
	c.persist(u, key, fmt.Sprintf("%d", value))
}

// persistNowInt writes through synchronously. Used for the power-policy
// target state, which must not be lost to an abrupt shutdown.
func (c *Coordinator) persistNowInt(u *userMediaState, key string, value int) {
	if u.ephemeral {
		return
	}
	if !c.unlocked[u.user] {
		c.log.Warn().Int("user", u.user).Str("key", key).
			Msg("skipping persist, user storage locked")
		return
	}
	c.store.PutInt(key, value)
}

// savePlaybackStateLocked mirrors the coarse playback state to the store,
// both per user and per current source, for autoplay-on-restart policies.
func (c *Coordinator) savePlaybackStateLocked(u *userMediaState) {
	st := int(u.currentPlaybackState)
	c.persistInt(u, playbackStateKey(u.user), st)
	if comp := u.primary[ModePlayback]; !comp.IsEmpty() {
		c.persistInt(u, sourceStateKey(u.user, comp), st)
	}
}

// notifyListenersLocked posts the fan-out for a source change to the worker
// queue so listeners observe the mutation only after it completed and the
// lock was released. A failing listener is skipped.
func (c *Coordinator) notifyListenersLocked(u *userMediaState, mode Mode, source mediasession.Component) {
	if len(u.listeners[mode]) == 0 {
		return
	}
	ls := make([]SourceListener, len(u.listeners[mode]))
	copy(ls, u.listeners[mode])
	user := u.user
	c.queue.Post(func() {
		for _, l := range ls {
			if err := l.OnSourceChanged(user, mode, source); err != nil {
				c.log.Warn().Err(err).Int("user", user).Stringer("mode", mode).
					Msg("media source listener failed")
			}
		}
	})
}

// Dump writes a human-readable summary of the coordinator state, for the
// platform debug surface.
func (c *Coordinator) Dump(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(w, "*media source coordinator*")
	ids := make([]int, 0, len(c.users))
	for id := range c.users {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		u := c.users[id]
		fmt.Fprintf(w, "user %d (ephemeral=%v pendingInit=%v):\n", id, u.ephemeral, u.pendingInit)
		fmt.Fprintf(w, "\tplayback source: %s\n", u.primary[ModePlayback])
		fmt.Fprintf(w, "\tbrowse source: %s\n", u.primary[ModeBrowse])
		fmt.Fprintf(w, "\tindependent playback: %v\n", u.independentPlayback)
		fmt.Fprintf(w, "\tplayback state: %s\n", u.currentPlaybackState)
		fmt.Fprintf(w, "\twatched controllers: %d\n", len(u.watched))
		fmt.Fprintf(w, "\tcontroller bound: %v\n", u.activeController != nil)
		fmt.Fprintf(w, "\tdisabled by power policy: %v (was playing: %v)\n",
			u.disabledByPowerPolicy, u.wasPlayingBeforeDisabled)
	}
}

func validate(user int, mode Mode) error {
	if user < 0 {
		return ErrInvalidUser
	}
	if !mode.Valid() {
		return ErrInvalidMode
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}
