package gate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"adgate/internal/adblock"
	"adgate/internal/models"
	"adgate/internal/pending"
)

const (
	// reapLinger keeps a terminal session queryable a while past its
	// redirect deadline, long enough for a straggling tab to read the
	// final snapshot.
	reapLinger      = time.Minute
	janitorInterval = 30 * time.Second
)

// Manager owns the live gate sessions. One session per pending slot: a
// duplicate tab attaches to the existing state machine instead of racing it.
// A janitor evicts sessions once they are terminal and past their redirect
// window, so abandoned gates do not accumulate.
type Manager struct {
	store       pending.Store
	source      adSource
	verifier    viewVerifier
	tokens      tokenIssuer
	impressions impressionSink
	blockers    *adblock.Detector
	hub         notifier

	reapAfter time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	stop     chan struct{}
	stopOnce sync.Once
}

func NewManager(store pending.Store, source adSource, verifier viewVerifier,
	tokens tokenIssuer, impressions impressionSink, blockers *adblock.Detector, hub notifier) *Manager {
	m := &Manager{
		store:       store,
		source:      source,
		verifier:    verifier,
		tokens:      tokens,
		impressions: impressions,
		blockers:    blockers,
		hub:         hub,
		reapAfter:   reapLinger,
		sessions:    make(map[string]*Session),
		stop:        make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *Manager) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.reap()
		}
	}
}

// reap evicts and disposes every finished session, which also drops its
// ad-blocker bookkeeping.
func (m *Manager) reap() {
	now := time.Now()
	m.mu.Lock()
	var done []*Session
	for id, s := range m.sessions {
		if s.reapable(now, m.reapAfter) {
			delete(m.sessions, id)
			done = append(done, s)
		}
	}
	m.mu.Unlock()

	for _, s := range done {
		s.Dispose()
	}
	if len(done) > 0 {
		slog.Debug("Reaped finished gate sessions", "count", len(done))
	}
}

// CreateIntent stores a content page's download intent verbatim and hands
// back the gate session id. Validation happens when the gate opens, so the
// gate page can show the user what is wrong with a bad record.
func (m *Manager) CreateIntent(ctx context.Context, rec models.PendingDownload) (string, error) {
	id := uuid.NewString()
	if err := m.store.Put(ctx, id, rec); err != nil {
		return "", err
	}
	slog.Info("Download intent registered", "session", id, "app", rec.AppName)
	return id, nil
}

// Open returns the session for id, creating and starting it on first call.
// The session runs on its own context: it outlives the HTTP request that
// opened it.
func (m *Manager) Open(id string, userAgent string) *Session {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return s
	}
	s := newSession(id, m.store, m.source, m.verifier, m.tokens, m.impressions, m.blockers, m.hub)
	s.userAgent = userAgent
	m.sessions[id] = s
	m.mu.Unlock()

	go s.begin(context.Background())
	return s
}

// Get returns an already opened session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Stop halts the janitor and disposes every live session; used on server
// shutdown.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Dispose()
	}
}
