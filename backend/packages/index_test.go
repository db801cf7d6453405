package packages

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const manifestApp1 = `
package = "com.example.app1"
browse-services = ["BrowseService", "AltBrowseService"]
`

const manifestRestricted = `
package = "com.example.profile"
browse-services = ["BrowseService"]
users = [10]
`

func writeManifest(t *testing.T, dir, pkg, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, pkg+".toml"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func openTestIndex(t *testing.T, dir string) *Index {
	t.Helper()
	ix, err := Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "com.example.app1", manifestApp1)
	writeManifest(t, dir, "com.example.profile", manifestRestricted)
	ix := openTestIndex(t, dir)

	tests := []struct {
		name      string
		user      int
		pkg, cls  string
		wantClass string
		wantOK    bool
	}{
		{"empty class picks first service", 0, "com.example.app1", "", "BrowseService", true},
		{"listed class kept", 0, "com.example.app1", "AltBrowseService", "AltBrowseService", true},
		{"session class maps to browse service", 0, "com.example.app1", "PlaybackSession", "BrowseService", true},
		{"unknown package", 0, "com.example.nowhere", "", "", false},
		{"restricted visible user", 10, "com.example.profile", "", "BrowseService", true},
		{"restricted hidden user", 11, "com.example.profile", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp, ok := ix.Resolve(tt.user, tt.pkg, tt.cls)
			if ok != tt.wantOK {
				t.Fatalf("Resolve ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && comp.Class != tt.wantClass {
				t.Errorf("resolved class = %q, want %q", comp.Class, tt.wantClass)
			}
			// Second query hits the cache and must agree.
			comp2, ok2 := ix.Resolve(tt.user, tt.pkg, tt.cls)
			if ok2 != ok || comp2 != comp {
				t.Errorf("cached resolve disagrees: %v/%v vs %v/%v", comp2, ok2, comp, ok)
			}
		})
	}
}

func TestBadManifestIsSkipped(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "com.example.app1", manifestApp1)
	writeManifest(t, dir, "com.example.broken", "not [valid toml")
	ix := openTestIndex(t, dir)

	if _, ok := ix.Resolve(0, "com.example.app1", ""); !ok {
		t.Error("good manifest should resolve")
	}
	if _, ok := ix.Resolve(0, "com.example.broken", ""); ok {
		t.Error("broken manifest must not resolve")
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) waitFor(t *testing.T, want Event) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, ev := range r.events {
			if ev == want {
				r.mu.Unlock()
				return
			}
		}
		r.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event %+v", want)
}

func TestInstallRemoveEvents(t *testing.T) {
	dir := t.TempDir()
	ix := openTestIndex(t, dir)

	rec := &eventRecorder{}
	cancel := ix.Subscribe(0, rec.record)
	defer cancel()

	writeManifest(t, dir, "com.example.app1", manifestApp1)
	rec.waitFor(t, Event{Kind: EventInstalled, Package: "com.example.app1"})

	if _, ok := ix.Resolve(0, "com.example.app1", ""); !ok {
		t.Error("installed package should resolve")
	}

	if err := os.Remove(filepath.Join(dir, "com.example.app1.toml")); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, Event{Kind: EventRemoved, Package: "com.example.app1"})

	if _, ok := ix.Resolve(0, "com.example.app1", ""); ok {
		t.Error("removed package must no longer resolve")
	}
}

func TestEventsRespectUserVisibility(t *testing.T) {
	dir := t.TempDir()
	ix := openTestIndex(t, dir)

	visible := &eventRecorder{}
	hidden := &eventRecorder{}
	cancelA := ix.Subscribe(10, visible.record)
	defer cancelA()
	cancelB := ix.Subscribe(11, hidden.record)
	defer cancelB()

	writeManifest(t, dir, "com.example.profile", manifestRestricted)
	visible.waitFor(t, Event{Kind: EventInstalled, Package: "com.example.profile"})

	hidden.mu.Lock()
	n := len(hidden.events)
	hidden.mu.Unlock()
	if n != 0 {
		t.Errorf("user 11 received %d events for a package it cannot see", n)
	}
}
