package backend

import (
	"github.com/google/uuid"

	"github.com/opencockpit/carmedia/backend/mediasession"
)

// reconcileLocked diffs the new active-session list against the watch arena.
// Controllers already watched keep their callback: re-registering would make
// an app that is merely still playing look like a fresh "started playing"
// signal and undo an explicit user selection. New controllers are watched
// and collected as additions; watched controllers missing from the list are
// unwatched and dropped.
func (c *Coordinator) reconcileLocked(u *userMediaState, controllers []mediasession.Controller) {
	updated := make(map[uuid.UUID]*controllerWatch, len(controllers))
	var additions []mediasession.Controller

	for _, ctrl := range controllers {
		token := ctrl.Token()
		if w, ok := u.watched[token]; ok {
			updated[token] = w
			continue
		}
		w := &controllerWatch{
			controller: ctrl,
			lastActive: ctrl.PlaybackState().Active(),
		}
		user := u.user
		w.cancel = ctrl.Subscribe(func(state mediasession.PlaybackState) {
			c.queue.Post(func() {
				c.onPlaybackStateChanged(user, token, state)
			})
		})
		updated[token] = w
		additions = append(additions, ctrl)
	}

	for token, w := range u.watched {
		if _, ok := updated[token]; !ok {
			w.cancel()
			if u.activeController == w.controller {
				u.activeController = nil
			}
		}
	}
	u.watched = updated

	c.selectActivePlaybackLocked(u, additions)

	// A matching session may have existed before this user's state did,
	// e.g. across a user switch; scan the full list, not just additions.
	if u.activeController == nil {
		c.rebindActiveLocked(u, controllers)
	}
}

// selectActivePlaybackLocked routes the first addition already in an active
// playback state through the arbiter as an implicit selection, and binds it
// when it matches the (possibly just-changed) playback source.
func (c *Coordinator) selectActivePlaybackLocked(u *userMediaState, additions []mediasession.Controller) {
	for _, ctrl := range additions {
		if !ctrl.PlaybackState().Active() {
			continue
		}
		if !u.primaryMatches(ctrl) {
			comp, ok := c.index.Resolve(u.user, ctrl.PackageName(), ctrl.ClassName())
			if !ok {
				continue
			}
			c.setPrimarySourceLocked(u, ModePlayback, comp)
		}
		if u.primaryMatches(ctrl) {
			c.bindControllerLocked(u, ctrl)
		}
		return
	}
}

// onPlaybackStateChanged is the per-controller callback body, dispatched on
// the worker queue. Implicit selection is edge-triggered: only a transition
// from not-active to active counts, so a controller that stays playing never
// re-selects itself on unrelated state pushes.
func (c *Coordinator) onPlaybackStateChanged(user int, token uuid.UUID, state mediasession.PlaybackState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[user]
	if !ok {
		return
	}
	w, ok := u.watched[token]
	if !ok {
		return
	}
	ctrl := w.controller

	wasActive := w.lastActive
	w.lastActive = state.Active()

	if !wasActive && state.Active() {
		if !u.primaryMatches(ctrl) {
			if comp, ok := c.index.Resolve(user, ctrl.PackageName(), ctrl.ClassName()); ok {
				c.setPrimarySourceLocked(u, ModePlayback, comp)
			}
		}
		// An app may open a new session for the current source without
		// any source change; rebind so transport commands reach the
		// session that is actually playing.
		if u.primaryMatches(ctrl) {
			c.bindControllerLocked(u, ctrl)
		}
	}

	if u.activeController == ctrl {
		u.currentPlaybackState = state
		c.savePlaybackStateLocked(u)
		c.enforcePowerPolicyLocked(u)
	}
}

// bindControllerLocked makes ctrl the bound active controller and mirrors
// its current state.
func (c *Coordinator) bindControllerLocked(u *userMediaState, ctrl mediasession.Controller) {
	if u.activeController == ctrl {
		return
	}
	u.activeController = ctrl
	u.currentPlaybackState = ctrl.PlaybackState()
	c.savePlaybackStateLocked(u)
}

// rebindActiveLocked re-derives the bound active controller from the given
// controllers. The binding is always derived state; nothing outside the
// session bridge holds a controller reference across a reconcile boundary.
func (c *Coordinator) rebindActiveLocked(u *userMediaState, controllers []mediasession.Controller) {
	if u.primary[ModePlayback].IsEmpty() {
		u.activeController = nil
		return
	}
	for _, ctrl := range controllers {
		if u.primaryMatches(ctrl) {
			c.bindControllerLocked(u, ctrl)
			return
		}
	}
}

func (u *userMediaState) watchedControllersLocked() []mediasession.Controller {
	out := make([]mediasession.Controller, 0, len(u.watched))
	for _, w := range u.watched {
		out = append(out, w.controller)
	}
	return out
}
