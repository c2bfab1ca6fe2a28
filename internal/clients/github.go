package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const githubAPIBase = "https://api.github.com"

// GitHubClient wraps the handful of REST calls the fix pipeline needs:
// reading files, cutting branches, committing and opening pull requests
// against the monitored repository.
type GitHubClient struct {
	apiBase    string
	repo       string
	token      string
	httpClient *http.Client
	breaker    *Breaker
}

// NewGitHubClient targets a repository in "owner/name" form.
func NewGitHubClient(repo, token string, breaker *Breaker) *GitHubClient {
	return &GitHubClient{
		apiBase:    githubAPIBase,
		repo:       repo,
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		breaker:    breaker,
	}
}

func (c *GitHubClient) doRequest(ctx context.Context, method, url string, payload interface{}) (int, []byte, error) {
	if !c.breaker.Allow(c.apiBase) {
		return 0, nil, fmt.Errorf("circuit open for github API")
	}

	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal github payload: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, _ := http.NewRequestWithContext(ctx, method, url, reqBody)
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure(c.apiBase)
		return 0, nil, fmt.Errorf("failed to call github API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.RecordFailure(c.apiBase)
		return 0, nil, fmt.Errorf("failed to read github response: %w", err)
	}
	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure(c.apiBase)
	} else {
		c.breaker.RecordSuccess(c.apiBase)
	}
	return resp.StatusCode, body, nil
}

// ReadFile fetches a file's decoded content and blob SHA at the given ref.
func (c *GitHubClient) ReadFile(ctx context.Context, path, ref string) (string, string, error) {
	url := fmt.Sprintf("%s/repos/%s/contents/%s?ref=%s", c.apiBase, c.repo, path, ref)
	status, body, err := c.doRequest(ctx, "GET", url, nil)
	if err != nil {
		return "", "", err
	}
	if status != http.StatusOK {
		return "", "", fmt.Errorf("failed to read %s at %s: status %d", path, ref, status)
	}

	encoded := gjson.GetBytes(body, "content").String()
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(encoded, "\n", ""))
	if err != nil {
		return "", "", fmt.Errorf("failed to decode content of %s: %w", path, err)
	}
	return string(decoded), gjson.GetBytes(body, "sha").String(), nil
}

// HeadSHA returns the commit SHA at the tip of a branch.
func (c *GitHubClient) HeadSHA(ctx context.Context, branch string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/git/ref/heads/%s", c.apiBase, c.repo, branch)
	status, body, err := c.doRequest(ctx, "GET", url, nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("failed to resolve head of %s: status %d", branch, status)
	}

	sha := gjson.GetBytes(body, "object.sha").String()
	if sha == "" {
		return "", fmt.Errorf("github ref response for %s has no object sha", branch)
	}
	return sha, nil
}

// CreateBranch creates a branch at the given commit SHA. An already
// existing branch is treated as success so a retried fix reuses it.
func (c *GitHubClient) CreateBranch(ctx context.Context, name, sha string) error {
	url := fmt.Sprintf("%s/repos/%s/git/refs", c.apiBase, c.repo)
	payload := map[string]string{"ref": "refs/heads/" + name, "sha": sha}
	status, body, err := c.doRequest(ctx, "POST", url, payload)
	if err != nil {
		return err
	}
	if status == http.StatusOK || status == http.StatusCreated {
		return nil
	}
	if strings.Contains(string(body), "Reference already exists") {
		return nil
	}
	return fmt.Errorf("failed to create branch %s: status %d", name, status)
}

// CommitFile replaces one file on a branch. The blob SHA must match the
// file version the new content was derived from.
func (c *GitHubClient) CommitFile(ctx context.Context, branch, path, fileSHA, content, message string) error {
	url := fmt.Sprintf("%s/repos/%s/contents/%s", c.apiBase, c.repo, path)
	payload := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"sha":     fileSHA,
		"branch":  branch,
	}
	status, _, err := c.doRequest(ctx, "PUT", url, payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("failed to commit %s to %s: status %d", path, branch, status)
	}
	return nil
}

// OpenPullRequest opens a PR and returns its web URL.
func (c *GitHubClient) OpenPullRequest(ctx context.Context, title, prBody, head, base string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/pulls", c.apiBase, c.repo)
	payload := map[string]string{"title": title, "body": prBody, "head": head, "base": base}
	status, body, err := c.doRequest(ctx, "POST", url, payload)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("failed to open pull request: status %d", status)
	}

	prURL := gjson.GetBytes(body, "html_url").String()
	if prURL == "" {
		return "", fmt.Errorf("github pull request response has no html_url")
	}
	return prURL, nil
}
