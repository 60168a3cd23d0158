package live

import (
	"errors"
	"log/slog"
	"sync"
)

var ErrBridgeNotFound = errors.New("bridge not found")

type Manager struct {
	dialer      Dialer
	instruments Instruments
	defaults    Config
	bridges     map[string]*Bridge
	mu          sync.RWMutex
	log         *slog.Logger
}

type ManagerConfig struct {
	Dialer      Dialer
	Instruments Instruments
	Defaults    Config
	Log         *slog.Logger
}

// BridgeOptions carries the per-bridge devices and overrides of the
// manager defaults. Empty fields keep the default.
type BridgeOptions struct {
	UserID            string
	Voice             string
	SystemInstruction string
	Microphone        Microphone
	Speaker           Speaker
	Callbacks         Callbacks
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	return &Manager{
		dialer:      cfg.Dialer,
		instruments: cfg.Instruments,
		defaults:    cfg.Defaults,
		bridges:     make(map[string]*Bridge),
		log:         cfg.Log.With("component", "live_manager"),
	}
}

func (m *Manager) Create(opts BridgeOptions) (*Bridge, error) {
	cfg := m.defaults
	cfg.UserID = opts.UserID
	if opts.Voice != "" {
		cfg.Voice = opts.Voice
	}
	if opts.SystemInstruction != "" {
		cfg.SystemInstruction = opts.SystemInstruction
	}

	bridge, err := New(cfg, Dependencies{
		Dialer:      m.dialer,
		Microphone:  opts.Microphone,
		Speaker:     opts.Speaker,
		Callbacks:   opts.Callbacks,
		Instruments: m.instruments,
	}, m.log)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.bridges[bridge.ID()] = bridge
	m.mu.Unlock()

	m.log.Info("bridge created", "bridge_id", bridge.ID(), "user_id", opts.UserID)
	return bridge, nil
}

func (m *Manager) Get(id string) (*Bridge, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bridge, ok := m.bridges[id]
	return bridge, ok
}

func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	bridge, ok := m.bridges[id]
	if ok {
		delete(m.bridges, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrBridgeNotFound
	}

	bridge.Stop()
	m.log.Info("bridge removed", "bridge_id", id)
	return nil
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bridges)
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, b := range m.bridges {
		if b.Active() {
			n++
		}
	}
	return n
}

type BridgeInfo struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	State  State  `json:"state"`
	Status string `json:"status"`
	Voice  string `json:"voice"`
	Turns  int    `json:"transcript_entries"`
}

func (m *Manager) List() []BridgeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]BridgeInfo, 0, len(m.bridges))
	for _, b := range m.bridges {
		status := b.Status()
		infos = append(infos, BridgeInfo{
			ID:     b.ID(),
			UserID: b.UserID(),
			State:  status.State,
			Status: status.Text,
			Voice:  b.Config().Voice,
			Turns:  b.reconciler.Len(),
		})
	}
	return infos
}

func (m *Manager) Close() error {
	m.mu.Lock()
	bridges := make([]*Bridge, 0, len(m.bridges))
	for _, b := range m.bridges {
		bridges = append(bridges, b)
	}
	m.bridges = make(map[string]*Bridge)
	m.mu.Unlock()

	for _, b := range bridges {
		b.Stop()
	}
	return nil
}
