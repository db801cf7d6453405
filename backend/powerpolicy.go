package backend

import (
	"github.com/opencockpit/carmedia/backend/mediasession"
)

// OnPowerPolicyChanged handles a power-policy push event carrying the new
// enabled state of the media hardware component, for every known user.
func (c *Coordinator) OnPowerPolicyChanged(mediaEnabled bool) {
	c.queue.Post(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.mediaDisabled = !mediaEnabled
		for _, u := range c.users {
			c.setPowerDisabledLocked(u, !mediaEnabled)
		}
	})
}

// setPowerDisabledLocked applies a power transition to one user. On the
// disable edge the current playing state is recorded so it can be restored
// on the enable edge; the target state is persisted write-through so an
// abrupt shutdown mid-transition does not lose it.
func (c *Coordinator) setPowerDisabledLocked(u *userMediaState, disabled bool) {
	switch {
	case disabled && !u.disabledByPowerPolicy:
		u.disabledByPowerPolicy = true
		u.wasPlayingBeforeDisabled = u.currentPlaybackState == mediasession.StatePlaying
		if u.wasPlayingBeforeDisabled {
			c.sendTransportLocked(u, false)
			c.persistNowInt(u, playbackStateKey(u.user), int(mediasession.StatePaused))
		}
		c.log.Info().Int("user", u.user).Bool("wasPlaying", u.wasPlayingBeforeDisabled).
			Msg("media disabled by power policy")
	case !disabled && u.disabledByPowerPolicy:
		u.disabledByPowerPolicy = false
		if u.wasPlayingBeforeDisabled && u.currentPlaybackState != mediasession.StatePlaying {
			c.sendTransportLocked(u, true)
			c.persistNowInt(u, playbackStateKey(u.user), int(mediasession.StatePlaying))
		}
		c.startConnectorLocked(u, u.wasPlayingBeforeDisabled)
		u.wasPlayingBeforeDisabled = false
		c.log.Info().Int("user", u.user).Msg("media re-enabled by power policy")
	}
}

// enforcePowerPolicyLocked is invoked on every observed playback state
// change: while disabled the desired state is always not-playing, so a
// session that starts playing anyway is paused again.
func (c *Coordinator) enforcePowerPolicyLocked(u *userMediaState) {
	if u.disabledByPowerPolicy && u.currentPlaybackState == mediasession.StatePlaying {
		u.wasPlayingBeforeDisabled = true
		c.sendTransportLocked(u, false)
	}
}

// sendTransportLocked issues play (true) or pause (false) on the bound
// active controller. No controller bound is a no-op; a command failure is
// logged and does not alter the recorded source or power state.
func (c *Coordinator) sendTransportLocked(u *userMediaState, play bool) {
	ctrl := u.activeController
	if ctrl == nil {
		return
	}
	var err error
	cmd := "pause"
	if play {
		cmd = "play"
		err = ctrl.Play()
	} else {
		err = ctrl.Pause()
	}
	if err != nil {
		c.log.Error().Err(err).Int("user", u.user).Str("command", cmd).
			Str("package", ctrl.PackageName()).Msg("transport command failed")
	}
}
