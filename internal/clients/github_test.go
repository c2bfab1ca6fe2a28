package clients

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestGitHub(serverURL string) *GitHubClient {
	c := NewGitHubClient("lumia-chat/lumia", "gh-token", NewBreaker(testLogger()))
	c.apiBase = serverURL
	return c
}

func TestReadFileDecodesContent(t *testing.T) {
	source := "def handler(update):\n    return route(update)\n"
	// GitHub wraps base64 content at 60 columns, so the payload carries
	// embedded newlines.
	encoded := base64.StdEncoding.EncodeToString([]byte(source))
	wrapped := encoded[:20] + "\n" + encoded[20:]

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/lumia-chat/lumia/contents/core/router.py", r.URL.Path)
		require.Equal(t, "main", r.URL.Query().Get("ref"))
		require.Equal(t, "Bearer gh-token", r.Header.Get("Authorization"))
		require.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		require.Equal(t, "2022-11-28", r.Header.Get("X-GitHub-Api-Version"))
		w.Write([]byte(`{"content":"` + wrapped + `","sha":"abc123"}`))
	}))
	defer server.Close()

	c := newTestGitHub(server.URL)
	content, sha, err := c.ReadFile(context.Background(), "core/router.py", "main")
	require.NoError(t, err)
	require.Equal(t, source, content)
	require.Equal(t, "abc123", sha)
}

func TestReadFileMissingPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Not Found"}`))
	}))
	defer server.Close()

	c := newTestGitHub(server.URL)
	_, _, err := c.ReadFile(context.Background(), "gone.py", "main")
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 404")
}

func TestHeadSHAResolvesBranchTip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/lumia-chat/lumia/git/ref/heads/main", r.URL.Path)
		w.Write([]byte(`{"ref":"refs/heads/main","object":{"sha":"deadbeef","type":"commit"}}`))
	}))
	defer server.Close()

	c := newTestGitHub(server.URL)
	sha, err := c.HeadSHA(context.Background(), "main")
	require.NoError(t, err)
	require.Equal(t, "deadbeef", sha)
}

func TestCreateBranchToleratesExisting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"Reference already exists"}`))
	}))
	defer server.Close()

	c := newTestGitHub(server.URL)
	err := c.CreateBranch(context.Background(), "fix/abc", "deadbeef")
	require.NoError(t, err)
}

func TestCreateBranchSendsQualifiedRef(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/lumia-chat/lumia/git/refs", r.URL.Path)
		captured, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ref":"refs/heads/fix/abc"}`))
	}))
	defer server.Close()

	c := newTestGitHub(server.URL)
	require.NoError(t, c.CreateBranch(context.Background(), "fix/abc", "deadbeef"))
	require.Equal(t, "refs/heads/fix/abc", gjson.GetBytes(captured, "ref").String())
	require.Equal(t, "deadbeef", gjson.GetBytes(captured, "sha").String())
}

func TestCommitFileSendsBlobSHAAndBranch(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "PUT", r.Method)
		captured, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"commit":{"sha":"fedcba"}}`))
	}))
	defer server.Close()

	c := newTestGitHub(server.URL)
	err := c.CommitFile(context.Background(), "fix/abc", "core/router.py", "abc123", "patched\n", "fix(abc): patch router")
	require.NoError(t, err)

	payload := gjson.ParseBytes(captured)
	require.Equal(t, "fix(abc): patch router", payload.Get("message").String())
	require.Equal(t, "abc123", payload.Get("sha").String())
	require.Equal(t, "fix/abc", payload.Get("branch").String())
	decoded, err := base64.StdEncoding.DecodeString(payload.Get("content").String())
	require.NoError(t, err)
	require.Equal(t, "patched\n", string(decoded))
}

func TestOpenPullRequestReturnsURL(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/lumia-chat/lumia/pulls", r.URL.Path)
		captured, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"html_url":"https://github.com/lumia-chat/lumia/pull/7"}`))
	}))
	defer server.Close()

	c := newTestGitHub(server.URL)
	url, err := c.OpenPullRequest(context.Background(), "fix: null update", "details", "fix/abc", "main")
	require.NoError(t, err)
	require.Equal(t, "https://github.com/lumia-chat/lumia/pull/7", url)

	payload := gjson.ParseBytes(captured)
	require.Equal(t, "fix/abc", payload.Get("head").String())
	require.Equal(t, "main", payload.Get("base").String())
}
