package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crypto-temple/internal/adapter"
	apperrors "github.com/crypto-temple/internal/errors"
	"github.com/crypto-temple/internal/logging"
	"github.com/crypto-temple/internal/types"
)

// SessionState is the lifecycle of a wallet connection
type SessionState string

const (
	// SessionLoading means the snapshot fetch is in flight
	SessionLoading SessionState = "loading"
	// SessionReady means the snapshot is available
	SessionReady SessionState = "ready"
)

// Session is the public view of a wallet connection
type Session struct {
	ID          string                `json:"id"`
	Address     string                `json:"address"`
	State       SessionState          `json:"state"`
	Snapshot    *types.WalletSnapshot `json:"snapshot,omitempty"`
	ConnectedAt time.Time             `json:"connectedAt"`
}

type session struct {
	Session
	generation uint64
	cancel     context.CancelFunc
}

// SessionManager tracks connected wallets. Each connect or address switch
// starts a cancellable snapshot fetch tagged with a generation number; a
// fetch result is applied only while its session still carries that
// generation, so a late result can never land on a newer connection.
type SessionManager struct {
	wallets SnapshotFetcher
	timeout time.Duration
	now     func() time.Time
	logger  *logging.Logger

	mu         sync.Mutex
	sessions   map[string]*session
	generation uint64
	wg         sync.WaitGroup
}

// NewSessionManager creates a session manager. timeout bounds each fetch.
func NewSessionManager(wallets SnapshotFetcher, timeout time.Duration) *SessionManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SessionManager{
		wallets:  wallets,
		timeout:  timeout,
		now:      time.Now,
		sessions: make(map[string]*session),
		logger:   logging.WithComponent("sessions"),
	}
}

// Connect opens a session for address and starts loading its snapshot
func (m *SessionManager) Connect(address string) (Session, error) {
	if !adapter.ValidateAddress(address) {
		return Session{}, apperrors.NewInvalidAddressError(address)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s := &session{Session: Session{
		ID:          uuid.NewString(),
		Address:     address,
		State:       SessionLoading,
		ConnectedAt: m.now(),
	}}
	m.sessions[s.ID] = s
	m.startFetchLocked(s)

	m.logger.WithFields(map[string]interface{}{
		"session": s.ID,
		"address": address,
	}).Info("Wallet connected")
	return s.Session, nil
}

// Switch points an existing session at a different address, discarding
// any fetch still running for the previous one.
func (m *SessionManager) Switch(id, address string) (Session, error) {
	if !adapter.ValidateAddress(address) {
		return Session{}, apperrors.NewInvalidAddressError(address)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, apperrors.NewNotFoundError("session", id)
	}
	s.cancel()
	s.Address = address
	s.State = SessionLoading
	s.Snapshot = nil
	m.startFetchLocked(s)
	return s.Session, nil
}

// Disconnect closes a session and cancels its fetch
func (m *SessionManager) Disconnect(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return apperrors.NewNotFoundError("session", id)
	}
	s.cancel()
	delete(m.sessions, id)

	m.logger.WithField("session", id).Info("Wallet disconnected")
	return nil
}

// Get returns the current view of a session
func (m *SessionManager) Get(id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, apperrors.NewNotFoundError("session", id)
	}
	return s.Session, nil
}

// Count returns the number of open sessions
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close cancels every session and waits for in-flight fetches
func (m *SessionManager) Close() {
	m.mu.Lock()
	for id, s := range m.sessions {
		s.cancel()
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *SessionManager) startFetchLocked(s *session) {
	m.generation++
	gen := m.generation
	s.generation = gen

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	s.cancel = cancel

	id, address := s.ID, s.Address
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		snapshot, err := m.wallets.Snapshot(ctx, address)
		if err != nil {
			m.logger.WithError(err).WithField("session", id).Debug("Snapshot fetch abandoned")
			return
		}
		m.apply(id, gen, snapshot)
	}()
}

func (m *SessionManager) apply(id string, gen uint64, snapshot *types.WalletSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.generation != gen {
		m.logger.WithField("session", id).Debug("Discarding stale snapshot")
		return
	}
	s.Snapshot = snapshot
	s.State = SessionReady
}
