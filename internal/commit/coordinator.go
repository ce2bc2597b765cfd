// Package commit reconciles a staged session against the upstream repository
// and performs the save. Each staged file is committed independently; one
// file's failure never aborts the others, and only the files that actually
// landed upstream are removed from the staging ground.
package commit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dakbench/internal/github"
	"dakbench/internal/logging"
	"dakbench/internal/staging"
)

// Errors returned by Save before any per-file work starts.
var (
	// ErrNoWriteAccess means the caller does not have push permission.
	// Checked before any network call.
	ErrNoWriteAccess = errors.New("commit: write access required")

	// ErrNothingStaged means the session holds no files.
	ErrNothingStaged = errors.New("commit: nothing staged")
)

// DefaultConcurrency bounds the per-file commit fan-out.
const DefaultConcurrency = 4

// SourceControl is the upstream contract. *github.Client satisfies it.
type SourceControl interface {
	GetFileSHA(ctx context.Context, owner, repo, path, ref string) (string, error)
	CreateOrUpdateFile(ctx context.Context, owner, repo, path string, req github.UpdateRequest) (*github.CommitInfo, error)
}

// Ground is the slice of the staging manager the coordinator needs to clear
// committed files.
type Ground interface {
	RemoveFile(path string) staging.Result
	Clear() staging.Result
}

// FileResult is the per-file outcome of a save attempt.
type FileResult struct {
	Path      string
	Created   bool // true when the file did not exist upstream
	NewSHA    string
	CommitSHA string
	Err       error
}

// Conflict reports whether this file failed because upstream changed since it
// was staged.
func (r FileResult) Conflict() bool {
	return errors.Is(r.Err, github.ErrConflict)
}

// SaveResult aggregates a save attempt.
type SaveResult struct {
	AttemptID string // correlates log lines across files
	CommitSHA string // last commit created; empty if nothing succeeded
	Files     []FileResult
	Succeeded int
	Failed    int
}

// Options configures one save attempt.
type Options struct {
	Message     string // falls back to the session's pending message
	WriteAccess bool
	Concurrency int // <= 0 selects DefaultConcurrency
}

// Coordinator performs best-effort multi-file commits.
type Coordinator struct {
	sc     SourceControl
	ground Ground // may be nil for library use
}

// NewCoordinator creates a coordinator. ground may be nil, in which case the
// caller is responsible for clearing committed files itself.
func NewCoordinator(sc SourceControl, ground Ground) *Coordinator {
	return &Coordinator{sc: sc, ground: ground}
}

// Save commits every staged file to the session's branch. Files are attempted
// independently with bounded parallelism. On return, files that committed
// successfully have been removed from the staging ground; failed files stay
// staged for a later retry.
func (c *Coordinator) Save(ctx context.Context, session staging.Session, opts Options) (*SaveResult, error) {
	if !opts.WriteAccess {
		return nil, ErrNoWriteAccess
	}
	if len(session.Files) == 0 {
		return nil, ErrNothingStaged
	}

	message := opts.Message
	if message == "" {
		message = session.Message
	}
	if message == "" {
		message = fmt.Sprintf("Update %d file(s) via dakbench", len(session.Files))
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	result := &SaveResult{
		AttemptID: uuid.NewString(),
		Files:     make([]FileResult, len(session.Files)),
	}
	logging.Commit("save %s: %d files to %s (concurrency=%d)",
		result.AttemptID, len(session.Files), session.Key, concurrency)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, staged := range session.Files {
		i, staged := i, staged
		g.Go(func() error {
			fr := c.saveOne(gctx, session.Key, staged, message)
			mu.Lock()
			result.Files[i] = fr
			if fr.Err == nil {
				result.Succeeded++
				result.CommitSHA = fr.CommitSHA
			} else {
				result.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	// Per-file errors are collected in result, never returned from the group.
	_ = g.Wait()

	c.clearCommitted(result)

	logging.Commit("save %s finished: succeeded=%d failed=%d", result.AttemptID, result.Succeeded, result.Failed)
	return result, nil
}

// saveOne commits a single staged file.
func (c *Coordinator) saveOne(ctx context.Context, key staging.SessionKey, staged staging.StagedFile, message string) FileResult {
	fr := FileResult{Path: staged.Path}

	sha, err := c.sc.GetFileSHA(ctx, key.Owner, key.Repo, staged.Path, key.Branch)
	switch {
	case errors.Is(err, github.ErrNotFound):
		fr.Created = true
	case err != nil:
		logging.CommitError("sha lookup failed for %s: %v", staged.Path, err)
		fr.Err = err
		return fr
	}

	info, err := c.sc.CreateOrUpdateFile(ctx, key.Owner, key.Repo, staged.Path, github.UpdateRequest{
		Content: staged.Content,
		SHA:     sha,
		Branch:  key.Branch,
		Message: message,
	})
	if err != nil {
		if errors.Is(err, github.ErrConflict) {
			logging.CommitError("conflict on %s: upstream changed since staging", staged.Path)
		} else {
			logging.CommitError("commit failed for %s: %v", staged.Path, err)
		}
		fr.Err = err
		return fr
	}

	fr.NewSHA = info.ContentSHA
	fr.CommitSHA = info.CommitSHA
	logging.CommitDebug("committed %s: created=%v sha=%s", staged.Path, fr.Created, fr.NewSHA)
	return fr
}

// clearCommitted removes the successfully committed subset from the staging
// ground. When every file landed, the whole session (including the pending
// message) is cleared instead.
func (c *Coordinator) clearCommitted(result *SaveResult) {
	if c.ground == nil || result.Succeeded == 0 {
		return
	}

	if result.Failed == 0 {
		if res := c.ground.Clear(); !res.Ok() {
			logging.CommitError("failed to clear staging ground after save: %v", res.Err())
		}
		return
	}

	for _, fr := range result.Files {
		if fr.Err != nil {
			continue
		}
		if res := c.ground.RemoveFile(fr.Path); !res.Ok() {
			logging.CommitError("failed to unstage committed file %s: %v", fr.Path, res.Err())
		}
	}
}
