package backend

import (
	"strings"

	"github.com/opencockpit/carmedia/backend/mediasession"
)

// recordUseLocked moves source to the head of the (user, mode) history,
// removing any earlier occurrence, and persists the list.
func (c *Coordinator) recordUseLocked(u *userMediaState, mode Mode, source mediasession.Component) {
	h := u.history[mode]
	out := make([]mediasession.Component, 0, len(h)+1)
	out = append(out, source)
	for _, comp := range h {
		if comp != source {
			out = append(out, comp)
		}
	}
	u.history[mode] = out
	c.persist(u, historyKey(mode, u.user), serializeHistory(out))
}

// resolveFallbackLocked walks the (user, mode) history head-first and
// returns the first entry that still resolves to a browse service, falling
// back to the platform default, and failing that to the empty component.
func (c *Coordinator) resolveFallbackLocked(u *userMediaState, mode Mode) mediasession.Component {
	for _, comp := range u.history[mode] {
		if _, ok := c.index.Resolve(u.user, comp.Package, comp.Class); ok {
			return comp
		}
	}
	return c.defaultSource(u.user)
}

func (c *Coordinator) loadHistoryLocked(u *userMediaState) {
	for m := Mode(0); m < modeCount; m++ {
		raw := c.store.GetString(historyKey(m, u.user), "")
		u.history[m] = parseHistory(raw)
	}
}

func serializeHistory(h []mediasession.Component) string {
	parts := make([]string, len(h))
	for i, comp := range h {
		parts[i] = comp.String()
	}
	return strings.Join(parts, ",")
}

// parseHistory tolerates malformed entries, dropping them and any
// duplicates a bad write may have left behind.
func parseHistory(raw string) []mediasession.Component {
	if raw == "" {
		return nil
	}
	var out []mediasession.Component
	seen := make(map[mediasession.Component]bool)
	for _, part := range strings.Split(raw, ",") {
		comp := mediasession.ParseComponent(part)
		if comp.IsEmpty() || seen[comp] {
			continue
		}
		seen[comp] = true
		out = append(out, comp)
	}
	return out
}
