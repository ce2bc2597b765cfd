package commit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dakbench/internal/github"
	"dakbench/internal/staging"
)

var testKey = staging.SessionKey{Owner: "acme", Repo: "dak-repo", Branch: "main"}

// fakeSourceControl scripts upstream behavior per path.
type fakeSourceControl struct {
	mu sync.Mutex

	// path -> existing blob SHA; missing means ErrNotFound on lookup
	upstream map[string]string
	// path -> error to return from CreateOrUpdateFile
	updateErr map[string]error

	shaCalls    int
	updateCalls int
	messages    []string
}

func (f *fakeSourceControl) GetFileSHA(ctx context.Context, owner, repo, path, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shaCalls++
	sha, ok := f.upstream[path]
	if !ok {
		return "", github.ErrNotFound
	}
	return sha, nil
}

func (f *fakeSourceControl) CreateOrUpdateFile(ctx context.Context, owner, repo, path string, req github.UpdateRequest) (*github.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	f.messages = append(f.messages, req.Message)
	if err := f.updateErr[path]; err != nil {
		return nil, err
	}
	return &github.CommitInfo{CommitSHA: "commit-" + path, ContentSHA: "blob-" + path}, nil
}

func (f *fakeSourceControl) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shaCalls, f.updateCalls
}

// fakeGround records clearing activity.
type fakeGround struct {
	mu      sync.Mutex
	removed []string
	cleared bool
}

func (g *fakeGround) RemoveFile(path string) staging.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removed = append(g.removed, path)
	return staging.Result{}
}

func (g *fakeGround) Clear() staging.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cleared = true
	return staging.Result{}
}

func sessionWith(files ...staging.StagedFile) staging.Session {
	return staging.Session{Key: testKey, Files: files}
}

func TestPermissionGateMakesNoNetworkCalls(t *testing.T) {
	sc := &fakeSourceControl{}
	coordinator := NewCoordinator(sc, nil)

	_, err := coordinator.Save(context.Background(), sessionWith(
		staging.StagedFile{Path: "a.fsh", Content: "Profile: A"},
	), Options{WriteAccess: false})

	assert.ErrorIs(t, err, ErrNoWriteAccess)
	shaCalls, updateCalls := sc.calls()
	assert.Zero(t, shaCalls)
	assert.Zero(t, updateCalls)
}

func TestNothingStaged(t *testing.T) {
	coordinator := NewCoordinator(&fakeSourceControl{}, nil)
	_, err := coordinator.Save(context.Background(), sessionWith(), Options{WriteAccess: true})
	assert.ErrorIs(t, err, ErrNothingStaged)
}

func TestNewFileIsCreated(t *testing.T) {
	sc := &fakeSourceControl{upstream: map[string]string{}}
	ground := &fakeGround{}
	coordinator := NewCoordinator(sc, ground)

	result, err := coordinator.Save(context.Background(), sessionWith(
		staging.StagedFile{Path: "input/fsh/profiles/Foo.fsh", Content: "Profile: Foo"},
	), Options{WriteAccess: true, Message: "add foo"})

	require.NoError(t, err)
	require.Len(t, result.Files, 1)
	assert.True(t, result.Files[0].Created, "missing upstream file must be treated as a create")
	assert.NoError(t, result.Files[0].Err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Zero(t, result.Failed)
	assert.NotEmpty(t, result.CommitSHA)
	assert.True(t, ground.cleared, "full success clears the whole staging ground")
}

func TestExistingFileSendsCurrentSHA(t *testing.T) {
	sc := &fakeSourceControl{upstream: map[string]string{"a.yaml": "oldsha"}}
	coordinator := NewCoordinator(sc, nil)

	result, err := coordinator.Save(context.Background(), sessionWith(
		staging.StagedFile{Path: "a.yaml", Content: "a: 2"},
	), Options{WriteAccess: true})

	require.NoError(t, err)
	assert.False(t, result.Files[0].Created)
	assert.Equal(t, 1, result.Succeeded)
}

func TestConflictDoesNotAbortOtherFiles(t *testing.T) {
	sc := &fakeSourceControl{
		upstream:  map[string]string{"a.yaml": "sha-a", "b.yaml": "sha-b"},
		updateErr: map[string]error{"a.yaml": github.ErrConflict},
	}
	coordinator := NewCoordinator(sc, nil)

	result, err := coordinator.Save(context.Background(), sessionWith(
		staging.StagedFile{Path: "a.yaml", Content: "a: 2"},
		staging.StagedFile{Path: "b.yaml", Content: "b: 2"},
	), Options{WriteAccess: true})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	byPath := map[string]FileResult{}
	for _, fr := range result.Files {
		byPath[fr.Path] = fr
	}
	assert.True(t, byPath["a.yaml"].Conflict())
	assert.NoError(t, byPath["b.yaml"].Err)

	// Both files were attempted
	_, updateCalls := sc.calls()
	assert.Equal(t, 2, updateCalls)
}

// Pins the partial-failure clear policy: only committed files leave the
// staging ground, failed ones stay staged for retry.
func TestPartialFailureClearsOnlyCommittedFiles(t *testing.T) {
	sc := &fakeSourceControl{
		upstream:  map[string]string{"a.yaml": "sha-a", "b.yaml": "sha-b"},
		updateErr: map[string]error{"a.yaml": github.ErrConflict},
	}
	ground := &fakeGround{}
	coordinator := NewCoordinator(sc, ground)

	result, err := coordinator.Save(context.Background(), sessionWith(
		staging.StagedFile{Path: "a.yaml", Content: "a: 2"},
		staging.StagedFile{Path: "b.yaml", Content: "b: 2"},
	), Options{WriteAccess: true})

	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)
	assert.False(t, ground.cleared, "partial failure must not clear the whole session")
	assert.Equal(t, []string{"b.yaml"}, ground.removed)
}

func TestNoClearingWhenNothingSucceeded(t *testing.T) {
	sc := &fakeSourceControl{
		upstream:  map[string]string{"a.yaml": "sha-a"},
		updateErr: map[string]error{"a.yaml": errors.New("boom")},
	}
	ground := &fakeGround{}
	coordinator := NewCoordinator(sc, ground)

	result, err := coordinator.Save(context.Background(), sessionWith(
		staging.StagedFile{Path: "a.yaml", Content: "a: 2"},
	), Options{WriteAccess: true})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.False(t, ground.cleared)
	assert.Empty(t, ground.removed)
}

func TestMessageFallsBackToSessionMessage(t *testing.T) {
	sc := &fakeSourceControl{upstream: map[string]string{}}
	coordinator := NewCoordinator(sc, nil)

	session := sessionWith(staging.StagedFile{Path: "a.yaml", Content: "a: 1"})
	session.Message = "pending session message"

	_, err := coordinator.Save(context.Background(), session, Options{WriteAccess: true})
	require.NoError(t, err)
	require.Len(t, sc.messages, 1)
	assert.Equal(t, "pending session message", sc.messages[0])
}

func TestAttemptIDsAreUnique(t *testing.T) {
	sc := &fakeSourceControl{upstream: map[string]string{}}
	coordinator := NewCoordinator(sc, nil)
	session := sessionWith(staging.StagedFile{Path: "a.yaml", Content: "a: 1"})

	r1, err := coordinator.Save(context.Background(), session, Options{WriteAccess: true})
	require.NoError(t, err)
	r2, err := coordinator.Save(context.Background(), session, Options{WriteAccess: true})
	require.NoError(t, err)
	assert.NotEqual(t, r1.AttemptID, r2.AttemptID)
}
