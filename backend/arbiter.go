package backend

import (
	"github.com/opencockpit/carmedia/backend/mediasession"
)

// setPrimarySourceLocked is the single decision point every source change
// funnels through: the public API, implicit selection from the session
// bridge, and package-removal fallback. Selecting the current source again
// is a no-op, so an app re-entering an active playback state never causes a
// redundant round of history writes and notifications.
func (c *Coordinator) setPrimarySourceLocked(u *userMediaState, mode Mode, source mediasession.Component) {
	if u.primary[mode] == source {
		return
	}
	prevWasPlaying := u.currentPlaybackState == mediasession.StatePlaying

	playbackChanged := false
	for _, m := range u.affectedModes(mode) {
		if u.primary[m] == source {
			continue
		}
		u.primary[m] = source
		if m == ModePlayback {
			playbackChanged = true
		}
		if !u.removedWhilePrimary[m].IsEmpty() &&
			u.removedWhilePrimary[m].Package == source.Package {
			u.removedWhilePrimary[m] = mediasession.Component{}
		}
		if !source.IsEmpty() {
			c.recordUseLocked(u, m, source)
		}
		c.persist(u, sourceKey(m, u.user), source.String())
		c.notifyListenersLocked(u, m, source)
		c.log.Info().Int("user", u.user).Stringer("mode", m).
			Stringer("source", source).Msg("primary media source changed")
	}

	if playbackChanged {
		c.quiesceActiveLocked(u)
		// The new source must not inherit the previous source's
		// playback or error state.
		u.activeController = nil
		u.currentPlaybackState = mediasession.StateNone
		c.rebindActiveLocked(u, u.watchedControllersLocked())
		if !source.IsEmpty() {
			c.startConnectorLocked(u, prevWasPlaying)
		}
	}

	if !source.IsEmpty() {
		c.Telemetry.RecordSourceUse(u.user, source)
	}
}

// quiesceActiveLocked pauses and stops the outgoing bound controller so a
// displaced source does not keep playing alongside its replacement. Command
// failures are logged and ignored like all transport failures.
func (c *Coordinator) quiesceActiveLocked(u *userMediaState) {
	ctrl := u.activeController
	if ctrl == nil {
		return
	}
	c.sendTransportLocked(u, false)
	if err := ctrl.Stop(); err != nil {
		c.log.Error().Err(err).Int("user", u.user).Str("command", "stop").
			Str("package", ctrl.PackageName()).Msg("transport command failed")
	}
}

// startConnectorLocked asks the media connector to bring up the new playback
// source, deciding autoplay per the configured policy. The call itself is
// posted to the worker queue so it runs outside the coordinator lock.
func (c *Coordinator) startConnectorLocked(u *userMediaState, prevWasPlaying bool) {
	source := u.primary[ModePlayback]
	if source.IsEmpty() || c.connector == nil {
		return
	}
	// Bringing up a source while media is power-disabled would be undone
	// immediately; the enable edge kicks the connector instead.
	if u.disabledByPowerPolicy {
		return
	}
	autoplay := false
	switch AutoplayMode(c.cfg.Coordinator.Autoplay) {
	case AutoplayAlways:
		autoplay = true
	case AutoplayRetainPerSource:
		if !u.ephemeral {
			last := mediasession.PlaybackState(c.store.GetInt(
				sourceStateKey(u.user, source), int(mediasession.StateNone)))
			autoplay = last == mediasession.StatePlaying
		}
	case AutoplayRetainPrevious:
		autoplay = prevWasPlaying
	}
	user := u.user
	c.queue.Post(func() {
		c.connector.Start(user, source, autoplay)
	})
}
