package staging

import (
	"sort"
	"sync"
	"time"

	"dakbench/internal/logging"
	"dakbench/internal/store"
)

// Persistence is the storage contract the manager writes through to.
// *store.Store satisfies it.
type Persistence interface {
	ReadSession(key string) (*store.PersistedSession, bool)
	WriteSession(key string, session *store.PersistedSession) (int64, error)
	DeleteSession(key string) error
	Revision(key string) (int64, bool)
}

// Listener receives the post-mutation snapshot. Listeners run synchronously
// on the mutating goroutine in registration order; they must not block.
type Listener func(Session)

type listenerEntry struct {
	id int
	fn Listener
}

// Manager owns the in-memory staging ground for the active session and keeps
// it synchronized with the persistence layer.
type Manager struct {
	mu        sync.Mutex
	persist   Persistence
	key       SessionKey
	bound     bool
	files     map[string]StagedFile
	message   string
	revision  int64
	listeners []listenerEntry
	nextID    int
	now       func() time.Time
}

// NewManager creates a manager writing through to persist.
func NewManager(persist Persistence) *Manager {
	return &Manager{
		persist: persist,
		files:   make(map[string]StagedFile),
		now:     time.Now,
	}
}

// Initialize binds the manager to a session key and loads any persisted state
// for it. Re-initializing with a different key discards the previous in-memory
// state; nothing is merged.
func (m *Manager) Initialize(key SessionKey) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.key = key
	m.bound = true
	m.files = make(map[string]StagedFile)
	m.message = ""
	m.revision = 0

	persisted, found := m.persist.ReadSession(key.String())
	if !found {
		logging.Staging("initialized empty session %s", key)
		return ok()
	}

	for _, f := range persisted.Files {
		m.files[f.Path] = StagedFile{
			Path:      f.Path,
			Content:   f.Content,
			Metadata:  f.Metadata,
			UpdatedAt: f.UpdatedAt,
		}
	}
	m.message = persisted.Message
	m.revision = persisted.Revision

	logging.Staging("initialized session %s: files=%d revision=%d", key, len(m.files), m.revision)
	return ok()
}

// Key returns the bound session key.
func (m *Manager) Key() SessionKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.key
}

// Revision returns the last persisted revision this manager has seen.
func (m *Manager) Revision() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revision
}

// UpdateFile upserts a staged file. The entry fully replaces any previous one
// for the same path. The in-memory state is updated even when the
// write-through fails; in that case the Result carries ErrPersistence.
func (m *Manager) UpdateFile(path, content string, metadata map[string]string) Result {
	m.mu.Lock()
	if !m.bound {
		m.mu.Unlock()
		return fail(ErrNotInitialized)
	}

	m.files[path] = StagedFile{
		Path:      path,
		Content:   content,
		Metadata:  metadata,
		UpdatedAt: m.now(),
	}
	res := m.persistLocked()
	snapshot := m.snapshotLocked()
	listeners := m.listenersLocked()
	m.mu.Unlock()

	logging.StagingDebug("updated %s in %s (%d bytes)", path, snapshot.Key, len(content))
	notify(listeners, snapshot)
	return res
}

// RemoveFile deletes the staged entry for path. Removing an absent path is a
// no-op that still succeeds and does not notify listeners.
func (m *Manager) RemoveFile(path string) Result {
	m.mu.Lock()
	if !m.bound {
		m.mu.Unlock()
		return fail(ErrNotInitialized)
	}

	if _, present := m.files[path]; !present {
		m.mu.Unlock()
		return ok()
	}

	delete(m.files, path)
	res := m.persistLocked()
	snapshot := m.snapshotLocked()
	listeners := m.listenersLocked()
	m.mu.Unlock()

	logging.StagingDebug("removed %s from %s", path, snapshot.Key)
	notify(listeners, snapshot)
	return res
}

// SetMessage stores the pending commit message.
func (m *Manager) SetMessage(message string) Result {
	m.mu.Lock()
	if !m.bound {
		m.mu.Unlock()
		return fail(ErrNotInitialized)
	}

	m.message = message
	res := m.persistLocked()
	snapshot := m.snapshotLocked()
	listeners := m.listenersLocked()
	m.mu.Unlock()

	notify(listeners, snapshot)
	return res
}

// Clear empties the staging ground and persists the empty state.
func (m *Manager) Clear() Result {
	m.mu.Lock()
	if !m.bound {
		m.mu.Unlock()
		return fail(ErrNotInitialized)
	}

	m.files = make(map[string]StagedFile)
	m.message = ""
	res := m.persistLocked()
	snapshot := m.snapshotLocked()
	listeners := m.listenersLocked()
	m.mu.Unlock()

	logging.Staging("cleared session %s", snapshot.Key)
	notify(listeners, snapshot)
	return res
}

// Snapshot returns a copy of the current session state. Never blocks on I/O.
func (m *Manager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// AddListener registers a listener and returns its unsubscribe function.
func (m *Manager) AddListener(fn Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, entry := range m.listeners {
			if entry.id == id {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// Reload re-reads the persisted session if its revision is newer than the one
// this manager last saw. Used by the invalidation watcher when another
// process writes the same session key. Reports whether a reload happened.
func (m *Manager) Reload() bool {
	m.mu.Lock()
	if !m.bound {
		m.mu.Unlock()
		return false
	}

	persisted, found := m.persist.ReadSession(m.key.String())
	if !found || persisted.Revision <= m.revision {
		m.mu.Unlock()
		return false
	}

	m.files = make(map[string]StagedFile, len(persisted.Files))
	for _, f := range persisted.Files {
		m.files[f.Path] = StagedFile{
			Path:      f.Path,
			Content:   f.Content,
			Metadata:  f.Metadata,
			UpdatedAt: f.UpdatedAt,
		}
	}
	m.message = persisted.Message
	m.revision = persisted.Revision
	snapshot := m.snapshotLocked()
	listeners := m.listenersLocked()
	m.mu.Unlock()

	logging.Staging("reloaded session %s at revision %d", snapshot.Key, snapshot.Revision)
	notify(listeners, snapshot)
	return true
}

// persistLocked writes the current state through to storage and records the
// new revision. Callers must hold m.mu.
func (m *Manager) persistLocked() Result {
	persisted := &store.PersistedSession{
		SchemaVersion: store.SchemaVersion,
		Message:       m.message,
	}
	for _, f := range m.files {
		persisted.Files = append(persisted.Files, store.PersistedFile{
			Path:      f.Path,
			Content:   f.Content,
			Metadata:  f.Metadata,
			UpdatedAt: f.UpdatedAt,
		})
	}

	revision, err := m.persist.WriteSession(m.key.String(), persisted)
	if err != nil {
		logging.StagingWarn("persistence failed for %s, in-memory state kept: %v", m.key, err)
		return wrapPersistence(err)
	}
	m.revision = revision
	return ok()
}

func (m *Manager) snapshotLocked() Session {
	session := Session{
		Key:      m.key,
		Message:  m.message,
		Revision: m.revision,
		Files:    make([]StagedFile, 0, len(m.files)),
	}
	for _, f := range m.files {
		session.Files = append(session.Files, f)
	}
	sort.Slice(session.Files, func(i, j int) bool {
		return session.Files[i].Path < session.Files[j].Path
	})
	return session
}

func (m *Manager) listenersLocked() []Listener {
	fns := make([]Listener, len(m.listeners))
	for i, entry := range m.listeners {
		fns[i] = entry.fn
	}
	return fns
}

func notify(listeners []Listener, snapshot Session) {
	for _, fn := range listeners {
		fn(snapshot)
	}
}
