package mediasession

import (
	"errors"
	"sync"
	"testing"
)

func TestComponentMatches(t *testing.T) {
	tests := []struct {
		name string
		comp Component
		pkg  string
		cls  string
		want bool
	}{
		{"exact", Component{"a", "B"}, "a", "B", true},
		{"class mismatch", Component{"a", "B"}, "a", "C", false},
		{"package mismatch", Component{"a", "B"}, "x", "B", false},
		{"package-only match", Component{Package: "a"}, "a", "Anything", true},
		{"empty component", Component{}, "a", "B", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.comp.Matches(tt.pkg, tt.cls); got != tt.want {
				t.Errorf("%v.Matches(%q, %q) = %v, want %v", tt.comp, tt.pkg, tt.cls, got, tt.want)
			}
		})
	}
}

func TestParseComponentRoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		want Component
	}{
		{"com.app/Browse", Component{"com.app", "Browse"}},
		{"com.app", Component{Package: "com.app"}},
		{"", Component{}},
		{"  ", Component{}},
		{"/Browse", Component{}},
	}
	for _, tt := range tests {
		if got := ParseComponent(tt.in); got != tt.want {
			t.Errorf("ParseComponent(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	c := Component{"com.app", "Browse"}
	if got := ParseComponent(c.String()); got != c {
		t.Errorf("round trip = %v, want %v", got, c)
	}
}

func TestRegistrySessionListNotifications(t *testing.T) {
	r := NewRegistry()

	var mu sync.Mutex
	var lists [][]Controller
	cancel := r.SubscribeSessions(10, func(list []Controller) {
		mu.Lock()
		lists = append(lists, list)
		mu.Unlock()
	})
	defer cancel()

	s1 := r.CreateSession(10, "com.a", "A")
	s2 := r.CreateSession(10, "com.b", "B")
	r.CreateSession(11, "com.c", "C") // other user, no notification

	mu.Lock()
	n := len(lists)
	mu.Unlock()
	if n != 2 {
		t.Fatalf("got %d notifications, want 2", n)
	}

	if got := r.ActiveSessions(10); len(got) != 2 {
		t.Fatalf("ActiveSessions(10) has %d entries, want 2", len(got))
	}

	r.DestroySession(s1)
	r.DestroySession(s1) // second destroy is a no-op

	mu.Lock()
	last := lists[len(lists)-1]
	n = len(lists)
	mu.Unlock()
	if n != 3 {
		t.Fatalf("got %d notifications, want 3", n)
	}
	if len(last) != 1 || last[0].Token() != s2.Token() {
		t.Errorf("remaining session list wrong: %v", last)
	}
}

func TestSessionStateSubscription(t *testing.T) {
	r := NewRegistry()
	s := r.CreateSession(10, "com.a", "A")

	var got []PlaybackState
	cancel := s.Subscribe(func(st PlaybackState) { got = append(got, st) })

	s.SetPlaybackState(StatePlaying)
	s.SetPlaybackState(StatePlaying) // unchanged, no push
	s.SetPlaybackState(StatePaused)
	cancel()
	s.SetPlaybackState(StatePlaying)

	want := []PlaybackState{StatePlaying, StatePaused}
	if len(got) != len(want) {
		t.Fatalf("got %d pushes %v, want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("push %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSessionTransportCommands(t *testing.T) {
	r := NewRegistry()
	s := r.CreateSession(10, "com.a", "A")

	if err := s.Play(); err != nil {
		t.Fatal(err)
	}
	if got := s.PlaybackState(); got != StatePlaying {
		t.Errorf("state after Play = %s", got)
	}
	if err := s.Pause(); err != nil {
		t.Fatal(err)
	}
	if got := s.PlaybackState(); got != StatePaused {
		t.Errorf("state after Pause = %s", got)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if got := s.PlaybackState(); got != StateStopped {
		t.Errorf("state after Stop = %s", got)
	}

	s.TransportErr = errors.New("session is dead")
	if err := s.Play(); err == nil {
		t.Error("Play on dead session should fail")
	}
	if got := s.PlaybackState(); got != StateStopped {
		t.Errorf("failed command changed state to %s", got)
	}
}
