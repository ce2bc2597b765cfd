package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFileSHA(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/repos/acme/dak-repo/contents/input/fsh/profiles/Foo.fsh", r.URL.Path)
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]string{"sha": "abc123"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token", 0)
	sha, err := client.GetFileSHA(context.Background(), "acme", "dak-repo", "input/fsh/profiles/Foo.fsh", "main")
	require.NoError(t, err)
	assert.Equal(t, "abc123", sha)
}

func TestGetFileSHANotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Not Found"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token", 0)
	_, err := client.GetFileSHA(context.Background(), "acme", "dak-repo", "missing.fsh", "main")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateOrUpdateFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "add profile", payload["message"])
		assert.Equal(t, "main", payload["branch"])
		assert.Equal(t, "oldsha", payload["sha"])

		decoded, err := base64.StdEncoding.DecodeString(payload["content"])
		require.NoError(t, err)
		assert.Equal(t, "Profile: Foo", string(decoded))

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"content":{"sha":"newsha"},"commit":{"sha":"commitsha"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token", 0)
	info, err := client.CreateOrUpdateFile(context.Background(), "acme", "dak-repo", "input/fsh/profiles/Foo.fsh", UpdateRequest{
		Content: "Profile: Foo",
		SHA:     "oldsha",
		Branch:  "main",
		Message: "add profile",
	})
	require.NoError(t, err)
	assert.Equal(t, "commitsha", info.CommitSHA)
	assert.Equal(t, "newsha", info.ContentSHA)
}

func TestCreateOmitsSHAForNewFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_, hasSHA := payload["sha"]
		assert.False(t, hasSHA, "new file create must not send a sha")

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"content":{"sha":"newsha"},"commit":{"sha":"commitsha"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token", 0)
	_, err := client.CreateOrUpdateFile(context.Background(), "acme", "dak-repo", "new.fsh", UpdateRequest{
		Content: "Profile: New",
		Branch:  "main",
		Message: "add new",
	})
	require.NoError(t, err)
}

func TestConflictMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"conflict status", http.StatusConflict, `{"message":"is at abc but expected def"}`},
		{"unprocessable with sha mismatch", http.StatusUnprocessableEntity, `{"message":"sha does not match"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, "test-token", 0)
			_, err := client.CreateOrUpdateFile(context.Background(), "acme", "dak-repo", "x.fsh", UpdateRequest{
				Content: "x", SHA: "stale", Branch: "main", Message: "m",
			})
			assert.ErrorIs(t, err, ErrConflict)
		})
	}
}

func TestPermissionMapping(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(`{"message":"denied"}`))
		}))

		client := NewClient(server.URL, "bad-token", 0)
		_, err := client.CreateOrUpdateFile(context.Background(), "acme", "dak-repo", "x.fsh", UpdateRequest{
			Content: "x", Branch: "main", Message: "m",
		})
		assert.ErrorIs(t, err, ErrPermission, "status %d", status)
		server.Close()
	}
}

func TestGetBranch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/dak-repo/branches/main", r.URL.Path)
		w.Write([]byte(`{"name":"main","commit":{"sha":"headsha"},"protected":true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token", 0)
	branch, err := client.GetBranch(context.Background(), "acme", "dak-repo", "main")
	require.NoError(t, err)
	assert.Equal(t, "main", branch.Name)
	assert.Equal(t, "headsha", branch.CommitSHA)
	assert.True(t, branch.Protected)
}

func TestListContents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/dak-repo/contents/input/fsh", r.URL.Path)
		w.Write([]byte(`[{"name":"Foo.fsh","path":"input/fsh/Foo.fsh","sha":"s1","type":"file","size":42}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token", 0)
	entries, err := client.ListContents(context.Background(), "acme", "dak-repo", "input/fsh", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Foo.fsh", entries[0].Name)
	assert.Equal(t, "file", entries[0].Type)
}
