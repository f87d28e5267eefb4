package resilience

import (
	"fmt"
	"sync"

	"livetv-hub/work/client"
	"livetv-hub/work/config"
	"livetv-hub/work/gateway"
	"livetv-hub/work/logger"
	"livetv-hub/work/types"
)

// Manager owns the single active playback session. Starting a new channel
// tears the previous session down completely before the next one connects,
// so two sessions never hold the upstream at once.
type Manager struct {
	cfg      *config.Config
	client   *client.HeaderSettingClient
	gw       *gateway.Gateway
	autoplay Autoplayer

	// writeBack persists a working escalated strategy onto the channel
	writeBack func(channelID string, mode types.ConnectionMode)

	mu      sync.Mutex
	current *Session
}

// NewManager wires the session manager.
func NewManager(cfg *config.Config, hsc *client.HeaderSettingClient, gw *gateway.Gateway,
	autoplay Autoplayer, writeBack func(string, types.ConnectionMode)) *Manager {
	return &Manager{
		cfg:       cfg,
		client:    hsc,
		gw:        gw,
		autoplay:  autoplay,
		writeBack: writeBack,
	}
}

// transportFor builds the transport for one ladder rung. CORS emulation only
// applies to direct fetches from a secure origin; proxied fetches are always
// same-origin by construction.
func (m *Manager) transportFor(s gateway.Strategy) Transport {
	return &HTTPTransport{
		Client:       m.client,
		Gateway:      m.gw,
		SecureOrigin: m.cfg.Playback.SecureOrigin,
		Direct:       s.Mode == types.ModeDirect,
	}
}

// Play stops any active session and starts a fresh one for the channel.
func (m *Manager) Play(ch types.Channel) Status {
	m.mu.Lock()
	prev := m.current
	m.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}

	session := NewSession(m.cfg.Playback, ch, m.gw, m.transportFor, m.autoplay, m.writeBack)
	session.Start()

	m.mu.Lock()
	m.current = session
	m.mu.Unlock()

	logger.Info("{resilience/manager - Play} starting session for %s", ch.Name)
	return session.Snapshot()
}

// Stop tears down the active session, if any.
func (m *Manager) Stop() {
	m.mu.Lock()
	session := m.current
	m.current = nil
	m.mu.Unlock()

	if session != nil {
		session.Stop()
		logger.Info("{resilience/manager - Stop} session stopped")
	}
}

// Retry rebuilds the session for the same channel with fresh counters; user
// retry is an explicit reset, not a continuation of the failed attempt.
func (m *Manager) Retry() (Status, error) {
	m.mu.Lock()
	session := m.current
	m.mu.Unlock()

	if session == nil {
		return Status{}, fmt.Errorf("no active session to retry")
	}
	return m.Play(session.channel), nil
}

// SetQuality forwards a rendition change to the active session.
func (m *Manager) SetQuality(height int) error {
	m.mu.Lock()
	session := m.current
	m.mu.Unlock()

	if session == nil {
		return fmt.Errorf("no active session")
	}
	session.SetQuality(height)
	return nil
}

// Status reports the active session's snapshot; ok is false when idle.
func (m *Manager) Status() (Status, bool) {
	m.mu.Lock()
	session := m.current
	m.mu.Unlock()

	if session == nil {
		return Status{}, false
	}
	return session.Snapshot(), true
}
