// Package netmon observes connectivity and exposes the online/offline
// signal that gates dispatch.
package netmon

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/openpharm/posync/internal/logging"
)

// Probe answers whether the server is currently reachable.
type Probe interface {
	Check(ctx context.Context) bool
}

// HTTPProbe checks reachability by requesting a health URL. Any HTTP
// response counts as online; only transport errors count as offline.
type HTTPProbe struct {
	url    string
	client *http.Client
}

// NewHTTPProbe creates a probe against the given health URL.
func NewHTTPProbe(url string) *HTTPProbe {
	return &HTTPProbe{
		url: url,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Check performs one reachability probe.
func (p *HTTPProbe) Check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return true
}

// Monitor polls a probe and reports online/offline transitions.
// It starts offline until the first successful probe.
type Monitor struct {
	probe    Probe
	interval time.Duration

	mu        sync.RWMutex
	online    bool
	listeners []func(online bool)
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewMonitor creates a Monitor polling the probe at the given interval.
func NewMonitor(probe Probe, interval time.Duration) *Monitor {
	return &Monitor{
		probe:    probe,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins polling. The first probe runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop halts polling and waits for the poll loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	m.SetOnline(m.probe.Check(ctx))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.SetOnline(m.probe.Check(ctx))
		}
	}
}

// IsOnline returns the current connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records the connectivity state and notifies listeners on a
// transition. Also usable directly when connectivity is known out of
// band (a send just failed with a transport error, say).
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	listeners := append([]func(bool){}, m.listeners...)
	m.mu.Unlock()

	if !changed {
		return
	}

	logging.Info("Connectivity changed", map[string]interface{}{"online": online})
	for _, fn := range listeners {
		fn(online)
	}
}

// OnChange registers a listener for connectivity transitions.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}
