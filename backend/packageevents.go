package backend

import (
	"github.com/opencockpit/carmedia/backend/mediasession"
	"github.com/opencockpit/carmedia/backend/packages"
)

// handlePackageEventLocked reacts to install/remove events for packages
// visible to the user. Removing the primary source's package marks it as
// removed-while-primary and falls back through history; a later reinstall of
// that package reinstates it.
func (c *Coordinator) handlePackageEventLocked(u *userMediaState, ev packages.Event) {
	switch ev.Kind {
	case packages.EventRemoved:
		for m := Mode(0); m < modeCount; m++ {
			if u.primary[m].IsEmpty() || u.primary[m].Package != ev.Package {
				continue
			}
			u.removedWhilePrimary[m] = u.primary[m]
			fallback := c.resolveFallbackLocked(u, m)
			c.log.Info().Int("user", u.user).Stringer("mode", m).
				Str("package", ev.Package).Stringer("fallback", fallback).
				Msg("primary media source uninstalled")
			c.setPrimarySourceLocked(u, m, fallback)
		}
	case packages.EventInstalled:
		for m := Mode(0); m < modeCount; m++ {
			marker := u.removedWhilePrimary[m]
			if marker.IsEmpty() || marker.Package != ev.Package {
				continue
			}
			restored, ok := c.index.Resolve(u.user, marker.Package, marker.Class)
			if !ok {
				continue
			}
			c.log.Info().Int("user", u.user).Stringer("mode", m).
				Stringer("source", restored).Msg("reinstalled media source restored")
			c.setPrimarySourceLocked(u, m, restored)
			u.removedWhilePrimary[m] = mediasession.Component{}
		}
	}
}
