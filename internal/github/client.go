// Package github is a minimal GitHub contents API client covering the calls
// the commit coordinator needs: blob SHA lookup, create-or-update of a file
// on a branch, and a couple of read helpers for the CLI.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dakbench/internal/logging"
)

// Sentinel errors mapped from GitHub API responses.
var (
	// ErrNotFound means the path does not exist at the requested ref.
	ErrNotFound = errors.New("github: not found")

	// ErrConflict means the supplied SHA no longer matches upstream.
	ErrConflict = errors.New("github: sha conflict")

	// ErrPermission means the token lacks write access (or auth failed).
	ErrPermission = errors.New("github: permission denied")
)

// DefaultBaseURL is the public GitHub REST API endpoint.
const DefaultBaseURL = "https://api.github.com"

// Client talks to the GitHub REST API with token authentication.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a GitHub API client. An empty baseURL selects the public
// API; a zero timeout defaults to 30 seconds.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// CommitInfo describes the result of a successful create-or-update call.
type CommitInfo struct {
	CommitSHA  string // SHA of the commit that was created
	ContentSHA string // new blob SHA of the file
}

// UpdateRequest carries one create-or-update call.
type UpdateRequest struct {
	Content string // full new file content (plain text)
	SHA     string // current blob SHA; empty for a new file
	Branch  string
	Message string
}

// Branch is the subset of branch metadata the CLI shows.
type Branch struct {
	Name      string
	CommitSHA string
	Protected bool
}

// Entry is one item from a directory listing.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	SHA  string `json:"sha"`
	Type string `json:"type"` // file or dir
	Size int    `json:"size"`
}

type contentResponse struct {
	SHA string `json:"sha"`
}

type updateResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

type branchResponse struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
	Protected bool `json:"protected"`
}

// GetFileSHA returns the blob SHA of path at ref. A missing path reports
// ErrNotFound; the coordinator treats that as "new file".
func (c *Client) GetFileSHA(ctx context.Context, owner, repo, path, ref string) (string, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL, owner, repo, escapePath(path))
	if ref != "" {
		endpoint += "?ref=" + url.QueryEscape(ref)
	}

	var result contentResponse
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return "", err
	}
	return result.SHA, nil
}

// CreateOrUpdateFile writes path on the given branch. Supply the current blob
// SHA to update an existing file; omit it to create a new one. A SHA mismatch
// reports ErrConflict.
func (c *Client) CreateOrUpdateFile(ctx context.Context, owner, repo, path string, req UpdateRequest) (*CommitInfo, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL, owner, repo, escapePath(path))

	payload := map[string]string{
		"message": req.Message,
		"content": base64.StdEncoding.EncodeToString([]byte(req.Content)),
		"branch":  req.Branch,
	}
	if req.SHA != "" {
		payload["sha"] = req.SHA
	}

	var result updateResponse
	if err := c.doJSON(ctx, http.MethodPut, endpoint, payload, &result); err != nil {
		return nil, err
	}

	logging.API("committed %s/%s/%s on %s: commit=%s", owner, repo, path, req.Branch, result.Commit.SHA)
	return &CommitInfo{
		CommitSHA:  result.Commit.SHA,
		ContentSHA: result.Content.SHA,
	}, nil
}

// GetBranch fetches branch metadata.
func (c *Client) GetBranch(ctx context.Context, owner, repo, branch string) (*Branch, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/branches/%s", c.baseURL, owner, repo, url.PathEscape(branch))

	var result branchResponse
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, err
	}
	return &Branch{
		Name:      result.Name,
		CommitSHA: result.Commit.SHA,
		Protected: result.Protected,
	}, nil
}

// ListContents lists a directory at ref.
func (c *Client) ListContents(ctx context.Context, owner, repo, dir, ref string) ([]Entry, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL, owner, repo, escapePath(dir))
	if ref != "" {
		endpoint += "?ref=" + url.QueryEscape(ref)
	}

	var entries []Entry
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// doJSON performs one API call, mapping error status codes to the package
// sentinels.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload, result interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	logging.APIDebug("%s %s", method, endpoint)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("github request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if result == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}

	bodyBytes, _ := io.ReadAll(resp.Body)
	return statusError(resp.StatusCode, bodyBytes)
}

// statusError maps an API error response to a sentinel where one applies.
// GitHub reports SHA mismatches as 409, and as 422 with a "does not match"
// message on some endpoints.
func statusError(status int, body []byte) error {
	switch status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w (status %d)", ErrPermission, status)
	case http.StatusConflict:
		return fmt.Errorf("%w (status %d)", ErrConflict, status)
	case http.StatusUnprocessableEntity:
		if bytes.Contains(body, []byte("does not match")) {
			return fmt.Errorf("%w (status %d)", ErrConflict, status)
		}
	}
	return fmt.Errorf("github returned status %d: %s", status, truncate(string(body), 200))
}

// escapePath escapes each segment of a repository path while keeping the
// slashes.
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
