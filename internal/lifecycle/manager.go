package lifecycle

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/lfcamargo/wadash/internal/bus"
	"github.com/lfcamargo/wadash/internal/config"
	"github.com/lfcamargo/wadash/internal/status"
	"github.com/lfcamargo/wadash/internal/wa"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// settleDelay is the pause between a credential wipe and the restart it
// triggers, giving the provider time to drop the old socket.
const settleDelay = time.Second

// Snapshot is the UI-facing view of the session.
type Snapshot struct {
	Status      status.Public `json:"status"`
	Identity    string        `json:"identity,omitempty"`
	PairingCode string        `json:"pairingCode,omitempty"`
	QRPNG       string        `json:"qrPng,omitempty"`
}

// PairingPayload is broadcast whenever a fresh pairing code arrives.
type PairingPayload struct {
	Code  string `json:"code"`
	QRPNG string `json:"qrPng,omitempty"`
}

// Manager owns the session: it drives the adapter, enforces the state
// machine, schedules reconnects and holds the pairing code and identity.
// No other component mutates session state.
type Manager struct {
	machine *status.Machine
	bus     *bus.Bus
	factory wa.Factory
	policy  config.Reconnect
	logger  *zap.Logger
	session string

	// wipeCreds discards stored pairing credentials. Swappable in tests.
	wipeCreds func() error

	mu          sync.Mutex
	conn        wa.Conn
	generation  uint64
	starting    bool
	attempts    int
	retryTimer  *time.Timer
	pairingCode string
	identity    string
}

// New creates a manager for the given session. Nothing connects until Start.
func New(sessionName string, factory wa.Factory, machine *status.Machine, b *bus.Bus, policy config.Reconnect, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		machine:   machine,
		bus:       b,
		factory:   factory,
		policy:    policy,
		logger:    logger,
		session:   sessionName,
		wipeCreds: func() error { return wa.ClearCredentials(sessionName) },
	}
}

// Start brings the session up. It is safe to call at any time: while a
// start is in flight, while connecting or paired, or after the retry
// ceiling has parked the manager, it returns nil without side effects.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.starting {
		m.mu.Unlock()
		return nil
	}
	cur := m.machine.Current()
	if cur == status.Connecting || cur == status.Paired {
		m.mu.Unlock()
		return nil
	}
	if m.attempts > m.policy.MaxAttempts {
		m.logger.Warn("retry ceiling reached, refusing to start",
			zap.Int("attempts", m.attempts))
		m.mu.Unlock()
		return nil
	}

	m.starting = true
	m.stopRetryTimerLocked()
	// Tear down any superseded adapter before building a new one so a
	// stale instance can never deliver duplicate events.
	prev := m.conn
	m.conn = nil
	m.generation++
	gen := m.generation
	m.pairingCode = ""
	m.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	if err := m.machine.Transition(status.Connecting); err != nil {
		m.mu.Lock()
		m.starting = false
		m.mu.Unlock()
		return err
	}
	m.broadcastStatus()

	conn, err := m.factory(context.Background(), m.session, m.handlerFor(gen), m.logger)
	if err != nil {
		m.logger.Error("adapter construction failed", zap.Error(err))
		m.mu.Lock()
		m.starting = false
		m.mu.Unlock()
		_ = m.machine.Transition(status.Uninitialized)
		m.broadcastStatus()
		return nil
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	if err := conn.Connect(context.Background()); err != nil {
		m.logger.Error("connect failed", zap.Error(err))
		m.mu.Lock()
		m.starting = false
		m.mu.Unlock()
		m.handleClose(gen, err.Error(), false)
		return nil
	}

	m.mu.Lock()
	m.starting = false
	m.mu.Unlock()
	return nil
}

// Conn returns the live adapter, or nil when the session is down. The
// outbound path uses it together with the paired check.
func (m *Manager) Conn() wa.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// Paired reports whether the session is authenticated and open.
func (m *Manager) Paired() bool {
	return m.machine.Current() == status.Paired
}

// Status returns the UI-facing snapshot. The pairing code (and its QR
// rendering) is only exposed while a connection attempt is waiting for it.
func (m *Manager) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		Status:   m.machine.Current().ToPublic(),
		Identity: m.identity,
	}
	if snap.Status == status.PublicConnecting && m.pairingCode != "" {
		snap.PairingCode = m.pairingCode
		snap.QRPNG = qrDataURI(m.pairingCode)
	}
	return snap
}

// ForceReset cancels pending retries, discards the adapter and clears all
// session state. With wipeCredentials the stored pairing material is
// removed too, so the next Start requires a fresh pairing handshake.
func (m *Manager) ForceReset(wipeCredentials bool) {
	m.mu.Lock()
	m.stopRetryTimerLocked()
	m.generation++
	conn := m.conn
	m.conn = nil
	m.attempts = 0
	m.pairingCode = ""
	m.identity = ""
	m.starting = false
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	if cur := m.machine.Current(); cur != status.Uninitialized {
		_ = m.machine.Transition(status.Closing)
		_ = m.machine.Transition(status.Uninitialized)
	}

	if wipeCredentials {
		if err := m.wipeCreds(); err != nil {
			m.logger.Error("credential wipe failed", zap.Error(err))
		}
	}

	m.broadcastStatus()
}

// Reconnect wipes the stored credentials and restarts after a short
// settle delay. The restart reuses the single retry timer slot.
func (m *Manager) Reconnect() {
	m.ForceReset(true)

	m.mu.Lock()
	m.stopRetryTimerLocked()
	m.retryTimer = time.AfterFunc(settleDelay, func() { _ = m.Start() })
	m.mu.Unlock()
}

// Stop tears the session down without broadcasting; used at shutdown.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopRetryTimerLocked()
	m.generation++
	conn := m.conn
	m.conn = nil
	m.starting = false
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if cur := m.machine.Current(); cur != status.Uninitialized {
		_ = m.machine.Transition(status.Closing)
		_ = m.machine.Transition(status.Uninitialized)
	}
}

// handlerFor builds the adapter event handler for one connection attempt.
// The generation check drops anything from a superseded adapter.
func (m *Manager) handlerFor(gen uint64) wa.Handler {
	return func(evt wa.Event) {
		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		switch e := evt.(type) {
		case wa.PairingCode:
			m.mu.Lock()
			if gen != m.generation {
				m.mu.Unlock()
				return
			}
			m.pairingCode = e.Code
			m.mu.Unlock()
			m.logger.Info("pairing code received")
			m.bus.Emit("ui.pairing_code", PairingPayload{Code: e.Code, QRPNG: qrDataURI(e.Code)})

		case wa.ConnectionUp:
			m.mu.Lock()
			if gen != m.generation {
				m.mu.Unlock()
				return
			}
			m.attempts = 0
			m.stopRetryTimerLocked()
			m.pairingCode = ""
			m.identity = e.Identity
			m.mu.Unlock()
			m.logger.Info("session paired", zap.String("identity", e.Identity))
			_ = m.machine.Transition(status.Paired)
			m.broadcastStatus()

		case wa.ConnectionDown:
			m.logger.Warn("connection closed", zap.String("reason", e.Reason))
			m.handleClose(gen, e.Reason, false)

		case wa.LoggedOut:
			m.logger.Warn("logged out by provider", zap.String("reason", e.Reason))
			m.handleClose(gen, e.Reason, true)

		case wa.HistoryBatch:
			m.bus.Emit("wa.history_batch", e)
		case wa.LiveMessage:
			m.bus.Emit("wa.message", e)
		case wa.Receipt:
			m.bus.Emit("wa.receipt", e)
		case wa.Presence:
			m.bus.Emit("wa.presence", e)
		case wa.ChatPresence:
			m.bus.Emit("wa.chat_presence", e)
		}
	}
}

// handleClose resolves a dropped connection: terminal closes stop for
// good, everything else schedules the next attempt under the ceiling.
func (m *Manager) handleClose(gen uint64, reason string, terminal bool) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.generation++
	conn := m.conn
	m.conn = nil
	m.pairingCode = ""
	m.identity = ""
	m.starting = false

	var retryIn time.Duration
	if !terminal {
		m.attempts++
		if m.attempts > m.policy.MaxAttempts {
			m.logger.Warn("retry ceiling exceeded, giving up until manual restart",
				zap.Int("attempts", m.attempts))
		} else {
			retryIn = m.retryDelayLocked()
			m.stopRetryTimerLocked()
			m.retryTimer = time.AfterFunc(retryIn, func() { _ = m.Start() })
		}
	}
	attempt := m.attempts
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	if cur := m.machine.Current(); cur != status.Uninitialized {
		_ = m.machine.Transition(status.Uninitialized)
	}
	m.broadcastStatus()

	if retryIn > 0 {
		m.logger.Info("reconnect scheduled",
			zap.Int("attempt", attempt),
			zap.Duration("in", retryIn),
			zap.String("reason", reason))
	}
}

// retryDelayLocked computes min(base*attempt, cap).
func (m *Manager) retryDelayLocked() time.Duration {
	d := time.Duration(m.attempts) * m.policy.BaseDelay()
	if limit := m.policy.MaxDelay(); d > limit {
		d = limit
	}
	return d
}

// stopRetryTimerLocked cancels the pending retry, if any. Only one retry
// may ever be pending; every new schedule goes through here first.
func (m *Manager) stopRetryTimerLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) broadcastStatus() {
	m.bus.Emit("ui.status", m.Status())
}

func qrDataURI(code string) string {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
