package staging

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dakbench/internal/store"
)

var testKey = SessionKey{Owner: "acme", Repo: "dak-repo", Branch: "main"}

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.NewStore(":memory:", "")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := NewManager(st)
	require.True(t, m.Initialize(testKey).Ok())
	return m, st
}

func TestUpdateFileLastWriteWins(t *testing.T) {
	m, _ := newTestManager(t)

	require.True(t, m.UpdateFile("input/fsh/profiles/Foo.fsh", "Profile: Foo", nil).Ok())
	require.True(t, m.UpdateFile("input/fsh/profiles/Foo.fsh", "Profile: FooV2", map[string]string{"tool": "editor"}).Ok())

	snapshot := m.Snapshot()
	require.Len(t, snapshot.Files, 1)
	f, ok := snapshot.File("input/fsh/profiles/Foo.fsh")
	require.True(t, ok)
	assert.Equal(t, "Profile: FooV2", f.Content)
	assert.Equal(t, "editor", f.Metadata["tool"])
}

func TestRemoveFileIdempotent(t *testing.T) {
	m, _ := newTestManager(t)

	require.True(t, m.UpdateFile("a.yaml", "a: 1", nil).Ok())

	calls := 0
	m.AddListener(func(Session) { calls++ })

	// Removing a path that is not staged is a no-op that still succeeds
	res := m.RemoveFile("not-staged.yaml")
	assert.True(t, res.Ok())
	assert.Len(t, m.Snapshot().Files, 1)
	assert.Equal(t, 0, calls, "no-op removal must not notify")

	res = m.RemoveFile("a.yaml")
	assert.True(t, res.Ok())
	assert.Empty(t, m.Snapshot().Files)
	assert.Equal(t, 1, calls)
}

func TestClearEmptiesMemoryAndStorage(t *testing.T) {
	m, st := newTestManager(t)

	require.True(t, m.UpdateFile("a.yaml", "a: 1", nil).Ok())
	require.True(t, m.UpdateFile("b.yaml", "b: 2", nil).Ok())
	require.True(t, m.SetMessage("wip").Ok())

	require.True(t, m.Clear().Ok())

	snapshot := m.Snapshot()
	assert.Empty(t, snapshot.Files)
	assert.Empty(t, snapshot.Message)

	persisted, ok := st.ReadSession(testKey.String())
	require.True(t, ok)
	assert.Empty(t, persisted.Files, "persisted blob must reflect the empty state")
	assert.Empty(t, persisted.Message)
}

func TestListenersOrderedAndCalledOnce(t *testing.T) {
	m, _ := newTestManager(t)

	var order []string
	m.AddListener(func(s Session) {
		order = append(order, "first")
		assert.Len(t, s.Files, 1)
	})
	m.AddListener(func(s Session) {
		order = append(order, "second")
		assert.Len(t, s.Files, 1)
	})

	require.True(t, m.UpdateFile("a.yaml", "a: 1", nil).Ok())
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestListenerUnsubscribe(t *testing.T) {
	m, _ := newTestManager(t)

	calls := 0
	unsubscribe := m.AddListener(func(Session) { calls++ })

	require.True(t, m.UpdateFile("a.yaml", "a: 1", nil).Ok())
	unsubscribe()
	require.True(t, m.UpdateFile("a.yaml", "a: 2", nil).Ok())

	assert.Equal(t, 1, calls)
}

func TestSnapshotSortedByPath(t *testing.T) {
	m, _ := newTestManager(t)

	require.True(t, m.UpdateFile("z.yaml", "z: 1", nil).Ok())
	require.True(t, m.UpdateFile("a.yaml", "a: 1", nil).Ok())
	require.True(t, m.UpdateFile("m.yaml", "m: 1", nil).Ok())

	snapshot := m.Snapshot()
	require.Len(t, snapshot.Files, 3)
	assert.Equal(t, "a.yaml", snapshot.Files[0].Path)
	assert.Equal(t, "m.yaml", snapshot.Files[1].Path)
	assert.Equal(t, "z.yaml", snapshot.Files[2].Path)
}

func TestReinitializeDiscardsPreviousSession(t *testing.T) {
	m, _ := newTestManager(t)

	require.True(t, m.UpdateFile("a.yaml", "a: 1", nil).Ok())

	other := SessionKey{Owner: "acme", Repo: "dak-repo", Branch: "develop"}
	require.True(t, m.Initialize(other).Ok())
	assert.Empty(t, m.Snapshot().Files)

	// The original session is still persisted and loads back intact
	require.True(t, m.Initialize(testKey).Ok())
	assert.Len(t, m.Snapshot().Files, 1)
}

func TestNotInitialized(t *testing.T) {
	st, err := store.NewStore(":memory:", "")
	require.NoError(t, err)
	defer st.Close()

	m := NewManager(st)
	res := m.UpdateFile("a.yaml", "a: 1", nil)
	assert.ErrorIs(t, res.Err(), ErrNotInitialized)
}

// failingPersistence applies reads against an inner store but fails all writes.
type failingPersistence struct {
	inner *store.Store
	err   error
}

func (p *failingPersistence) ReadSession(key string) (*store.PersistedSession, bool) {
	return p.inner.ReadSession(key)
}

func (p *failingPersistence) WriteSession(key string, s *store.PersistedSession) (int64, error) {
	return 0, p.err
}

func (p *failingPersistence) DeleteSession(key string) error { return p.err }

func (p *failingPersistence) Revision(key string) (int64, bool) { return p.inner.Revision(key) }

func TestPersistenceFailureKeepsInMemoryState(t *testing.T) {
	st, err := store.NewStore(":memory:", "")
	require.NoError(t, err)
	defer st.Close()

	m := NewManager(&failingPersistence{inner: st, err: errors.New("disk full")})
	require.True(t, m.Initialize(testKey).Ok())

	calls := 0
	m.AddListener(func(Session) { calls++ })

	res := m.UpdateFile("a.yaml", "a: 1", nil)
	assert.False(t, res.Ok())
	assert.ErrorIs(t, res.Err(), ErrPersistence)

	// Staged edit survives the storage fault
	assert.Len(t, m.Snapshot().Files, 1)
	assert.Equal(t, 1, calls, "listeners still see the in-memory mutation")
}

func TestReloadPicksUpForeignWrite(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "staging.db")

	st1, err := store.NewStore(dbPath, "")
	require.NoError(t, err)
	defer st1.Close()

	m := NewManager(st1)
	require.True(t, m.Initialize(testKey).Ok())
	require.True(t, m.UpdateFile("a.yaml", "a: 1", nil).Ok())
	localRev := m.Revision()

	// A second process writes the same session key
	st2, err := store.NewStore(dbPath, "")
	require.NoError(t, err)
	defer st2.Close()

	m2 := NewManager(st2)
	require.True(t, m2.Initialize(testKey).Ok())
	require.True(t, m2.UpdateFile("b.yaml", "b: 2", nil).Ok())
	require.Greater(t, m2.Revision(), localRev)

	require.True(t, m.Reload())
	snapshot := m.Snapshot()
	assert.Len(t, snapshot.Files, 2)
	assert.Equal(t, m2.Revision(), m.Revision())

	// A reload with nothing new is a no-op
	assert.False(t, m.Reload())
}
