package sync

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mailbridge/mailbridge/internal/store"
)

// Manager serializes sync cycles per account. Two triggers for the same
// account racing each other would read the same cursor and write divergent
// successors; the registry guarantees at most one in-flight cycle per account
// and rejects the loser with ErrSyncRunning.
type Manager struct {
	runner *Runner
	log    *logrus.Entry

	mu      sync.Mutex
	running map[string]struct{}
}

// NewManager creates a sync manager around a runner.
func NewManager(runner *Runner, log *logrus.Entry) *Manager {
	return &Manager{
		runner:  runner,
		log:     log,
		running: make(map[string]struct{}),
	}
}

// RunInitial performs the account's initial sync within the caller's
// lifetime.
func (m *Manager) RunInitial(ctx context.Context, account *store.Account) error {
	if !m.acquire(account.ID) {
		return ErrSyncRunning
	}
	defer m.release(account.ID)

	return m.runner.InitialSync(ctx, account)
}

// RunIncremental performs an incremental sync within the caller's lifetime.
func (m *Manager) RunIncremental(ctx context.Context, account *store.Account) error {
	if !m.acquire(account.ID) {
		return ErrSyncRunning
	}
	defer m.release(account.ID)

	return m.runner.IncrementalSync(ctx, account)
}

// StartInitial kicks off the initial sync in the background, for triggers
// that must not block on it (the post-link callback). Errors are logged.
func (m *Manager) StartInitial(account *store.Account) {
	go func() {
		if err := m.RunInitial(context.Background(), account); err != nil {
			m.log.WithError(err).WithField("account", account.ID).Error("initial sync failed")
		}
	}()
}

// IsRunning reports whether a sync for the account is in flight.
func (m *Manager) IsRunning(accountID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.running[accountID]
	return ok
}

func (m *Manager) acquire(accountID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.running[accountID]; ok {
		return false
	}
	m.running[accountID] = struct{}{}
	return true
}

func (m *Manager) release(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.running, accountID)
}
