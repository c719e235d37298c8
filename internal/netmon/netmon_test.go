// Package netmon provides unit tests for connectivity monitoring.
package netmon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeProbe answers a scripted connectivity state.
type fakeProbe struct {
	mu     sync.Mutex
	online bool
}

func (p *fakeProbe) Check(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *fakeProbe) set(online bool) {
	p.mu.Lock()
	p.online = online
	p.mu.Unlock()
}

// TestMonitorStartsOffline tests the initial state before any probe.
func TestMonitorStartsOffline(t *testing.T) {
	m := NewMonitor(&fakeProbe{}, time.Minute)
	if m.IsOnline() {
		t.Error("Expected monitor to start offline")
	}
}

// TestMonitorDetectsTransitions tests that probe flips surface as
// listener notifications.
func TestMonitorDetectsTransitions(t *testing.T) {
	probe := &fakeProbe{online: true}
	m := NewMonitor(probe, 10*time.Millisecond)

	transitions := make(chan bool, 8)
	m.OnChange(func(online bool) { transitions <- online })

	m.Start(context.Background())
	defer m.Stop()

	select {
	case online := <-transitions:
		if !online {
			t.Fatal("Expected first transition to online")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for online transition")
	}

	probe.set(false)
	select {
	case online := <-transitions:
		if online {
			t.Fatal("Expected transition to offline")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for offline transition")
	}
	if m.IsOnline() {
		t.Error("Expected IsOnline false after offline transition")
	}
}

// TestSetOnlineNotifiesOnceFlap tests that repeated SetOnline with the
// same state does not renotify.
func TestSetOnlineNotifiesOnceFlap(t *testing.T) {
	m := NewMonitor(&fakeProbe{}, time.Minute)
	count := 0
	m.OnChange(func(online bool) { count++ })

	m.SetOnline(true)
	m.SetOnline(true)
	m.SetOnline(true)
	if count != 1 {
		t.Errorf("Expected 1 notification, got %d", count)
	}

	m.SetOnline(false)
	if count != 2 {
		t.Errorf("Expected 2 notifications, got %d", count)
	}
}

// TestHTTPProbeAnyResponseIsOnline tests that server errors still count
// as reachability.
func TestHTTPProbeAnyResponseIsOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPProbe(srv.URL)
	if !p.Check(context.Background()) {
		t.Error("Expected a 503 response to count as online")
	}
}

// TestHTTPProbeTransportErrorIsOffline tests that an unreachable server
// counts as offline.
func TestHTTPProbeTransportErrorIsOffline(t *testing.T) {
	p := NewHTTPProbe("http://127.0.0.1:1/health")
	if p.Check(context.Background()) {
		t.Error("Expected connection refusal to count as offline")
	}
}
