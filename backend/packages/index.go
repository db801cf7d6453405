// Package packages indexes the media components installed on the system.
// Each installed package drops a TOML manifest into a shared directory
// describing the browse services it exports; the Index resolves
// (package, class) identities against those manifests and turns manifest
// file churn into per-user install/remove events.
package packages

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/opencockpit/carmedia/backend/mediasession"
)

const resolveCacheSize = 256

type EventKind int

const (
	EventInstalled EventKind = iota
	EventRemoved
)

func (k EventKind) String() string {
	if k == EventInstalled {
		return "installed"
	}
	return "removed"
}

// Event is a package install or removal, delivered to per-user subscribers.
type Event struct {
	Kind    EventKind
	Package string
}

// manifest is the on-disk schema of a package's media manifest.
type manifest struct {
	Package        string   `toml:"package"`
	BrowseServices []string `toml:"browse-services"`
	// Users restricts visibility to the listed user ids; empty means
	// visible to all users.
	Users []int `toml:"users"`
}

func (m manifest) visibleTo(user int) bool {
	return len(m.Users) == 0 || slices.Contains(m.Users, user)
}

type resolveKey struct {
	user  int
	pkg   string
	class string
}

// Index watches a manifest directory and answers browse-service resolution
// queries per user.
type Index struct {
	dir     string
	log     zerolog.Logger
	watcher *fsnotify.Watcher
	cache   *lru.Cache[resolveKey, mediasession.Component]
	done    chan struct{}

	mu      sync.Mutex
	pkgs    map[string]manifest
	subs    map[int]map[int]func(Event)
	nextSub int
}

// Open loads all manifests under dir and starts watching it for changes.
func Open(dir string, logger zerolog.Logger) (*Index, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating manifest watcher")
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "watching manifest dir %s", dir)
	}
	cache, err := lru.New[resolveKey, mediasession.Component](resolveCacheSize)
	if err != nil {
		watcher.Close()
		return nil, err
	}

	ix := &Index{
		dir:     dir,
		log:     logger.With().Str("component", "packages").Logger(),
		watcher: watcher,
		cache:   cache,
		done:    make(chan struct{}),
		pkgs:    make(map[string]manifest),
		subs:    make(map[int]map[int]func(Event)),
	}
	if err := ix.scan(); err != nil {
		watcher.Close()
		return nil, err
	}
	go ix.watch()
	return ix, nil
}

func (ix *Index) Close() error {
	err := ix.watcher.Close()
	<-ix.done
	return err
}

// Resolve maps a (package, class) identity to the browse-service component
// it belongs to, for the given user. An empty class resolves to the
// package's first exported browse service; a class that is not itself a
// browse service resolves the same way, covering session classes that
// differ from the browse class.
func (ix *Index) Resolve(user int, pkg, class string) (mediasession.Component, bool) {
	key := resolveKey{user: user, pkg: pkg, class: class}
	if comp, ok := ix.cache.Get(key); ok {
		return comp, !comp.IsEmpty()
	}

	ix.mu.Lock()
	m, ok := ix.pkgs[pkg]
	ix.mu.Unlock()

	var comp mediasession.Component
	if ok && m.visibleTo(user) && len(m.BrowseServices) > 0 {
		svc := m.BrowseServices[0]
		if class != "" && slices.Contains(m.BrowseServices, class) {
			svc = class
		}
		comp = mediasession.Component{Package: pkg, Class: svc}
	}
	ix.cache.Add(key, comp)
	return comp, !comp.IsEmpty()
}

// Subscribe registers fn for install/remove events about packages visible to
// the given user. Returns the paired cancel func.
func (ix *Index) Subscribe(user int, fn func(Event)) (cancel func()) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.subs[user] == nil {
		ix.subs[user] = make(map[int]func(Event))
	}
	id := ix.nextSub
	ix.nextSub++
	ix.subs[user][id] = fn
	return func() {
		ix.mu.Lock()
		defer ix.mu.Unlock()
		delete(ix.subs[user], id)
	}
}

func (ix *Index) scan() error {
	entries, err := os.ReadDir(ix.dir)
	if err != nil {
		return errors.Wrapf(err, "reading manifest dir %s", ix.dir)
	}
	for _, e := range entries {
		if e.IsDir() || !isManifest(e.Name()) {
			continue
		}
		m, err := readManifest(filepath.Join(ix.dir, e.Name()))
		if err != nil {
			ix.log.Error().Err(err).Str("file", e.Name()).Msg("skipping bad manifest")
			continue
		}
		ix.pkgs[m.Package] = m
	}
	return nil
}

func (ix *Index) watch() {
	defer close(ix.done)
	for {
		select {
		case ev, ok := <-ix.watcher.Events:
			if !ok {
				return
			}
			if !isManifest(filepath.Base(ev.Name)) {
				continue
			}
			switch {
			case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
				ix.handleInstalled(ev.Name)
			case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
				ix.handleRemoved(ev.Name)
			}
		case err, ok := <-ix.watcher.Errors:
			if !ok {
				return
			}
			ix.log.Error().Err(err).Msg("manifest watcher error")
		}
	}
}

func (ix *Index) handleInstalled(path string) {
	m, err := readManifest(path)
	if err != nil {
		ix.log.Error().Err(err).Str("file", path).Msg("ignoring bad manifest")
		return
	}
	ix.mu.Lock()
	ix.pkgs[m.Package] = m
	ix.mu.Unlock()
	ix.cache.Purge()
	ix.log.Info().Str("package", m.Package).Msg("package installed")
	ix.dispatch(Event{Kind: EventInstalled, Package: m.Package}, m)
}

func (ix *Index) handleRemoved(path string) {
	pkg := pkgFromFilename(filepath.Base(path))
	ix.mu.Lock()
	m, ok := ix.pkgs[pkg]
	delete(ix.pkgs, pkg)
	ix.mu.Unlock()
	if !ok {
		return
	}
	ix.cache.Purge()
	ix.log.Info().Str("package", pkg).Msg("package removed")
	ix.dispatch(Event{Kind: EventRemoved, Package: pkg}, m)
}

func (ix *Index) dispatch(ev Event, m manifest) {
	ix.mu.Lock()
	var fns []func(Event)
	for user, subs := range ix.subs {
		if !m.visibleTo(user) {
			continue
		}
		for _, fn := range subs {
			fns = append(fns, fn)
		}
	}
	ix.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func readManifest(path string) (manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return manifest{}, errors.Wrap(err, "reading manifest")
	}
	var m manifest
	if err := toml.Unmarshal(b, &m); err != nil {
		return manifest{}, errors.Wrap(err, "parsing manifest")
	}
	if m.Package == "" {
		m.Package = pkgFromFilename(filepath.Base(path))
	}
	return m, nil
}

func isManifest(name string) bool {
	return strings.HasSuffix(name, ".toml")
}

func pkgFromFilename(name string) string {
	return strings.TrimSuffix(name, ".toml")
}
