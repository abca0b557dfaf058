package sqlite

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
)

// Stores bundles the typed stores backed by one profile database.
type Stores struct {
	DB     *DB
	States *ScopeStateStore
	Grants *GrantStore
	Outbox *OutboxStore
}

// Manager opens and caches per-profile databases. Each profile gets its own
// database under basePath/<profile>/ so profiles never share verified state.
type Manager struct {
	basePath string
	stores   map[string]*Stores
	mu       sync.RWMutex
}

// NewManager creates a manager rooted at basePath.
func NewManager(basePath string) *Manager {
	return &Manager{
		basePath: basePath,
		stores:   make(map[string]*Stores),
	}
}

// Get returns the stores for a profile, opening the database on first use.
func (m *Manager) Get(profile string) (*Stores, error) {
	if profile == "" {
		return nil, errors.New("profile must not be empty")
	}

	m.mu.RLock()
	if stores, ok := m.stores[profile]; ok {
		m.mu.RUnlock()
		return stores, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring the write lock.
	if stores, ok := m.stores[profile]; ok {
		return stores, nil
	}

	db, err := Open(filepath.Join(m.basePath, profile))
	if err != nil {
		return nil, fmt.Errorf("open profile %s: %w", profile, err)
	}
	states, err := NewScopeStateStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	stores := &Stores{
		DB:     db,
		States: states,
		Grants: NewGrantStore(db),
		Outbox: NewOutboxStore(db),
	}
	m.stores[profile] = stores
	return stores, nil
}

// CloseAll closes every cached database.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, stores := range m.stores {
		if err := stores.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.stores = make(map[string]*Stores)
	return errors.Join(errs...)
}

// BasePath returns the root directory for profile databases.
func (m *Manager) BasePath() string {
	return m.basePath
}
