// Package gitclient provides a GitHub contents-API adapter for the sync
// workflow's repository contract.
package gitclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bindery/internal/sync"
)

const defaultBaseURL = "https://api.github.com"

// GitHub calls the GitHub REST API. It implements sync.RepoClient.
type GitHub struct {
	baseURL    string
	httpClient *http.Client
}

// NewGitHub constructs a GitHub client. An empty baseURL targets the public
// API; tests point it at a local server.
func NewGitHub(baseURL string) *GitHub {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &GitHub{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type commitResponse struct {
	SHA string `json:"sha"`
}

type contentResponse struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// LatestCommit returns the SHA of the most recent commit on the repository's
// default branch, or "" when the repository has no commits.
func (c *GitHub) LatestCommit(ctx context.Context, repo, token string) (string, error) {
	var commits []commitResponse
	path := fmt.Sprintf("/repos/%s/commits?per_page=1", repo)
	if err := c.get(ctx, path, token, &commits); err != nil {
		return "", err
	}
	if len(commits) == 0 {
		return "", nil
	}
	return commits[0].SHA, nil
}

// ListTopLevel returns the repository's root tree entries.
func (c *GitHub) ListTopLevel(ctx context.Context, repo, token string) ([]sync.RepoEntry, error) {
	var contents []contentResponse
	path := fmt.Sprintf("/repos/%s/contents", repo)
	if err := c.get(ctx, path, token, &contents); err != nil {
		return nil, err
	}
	entries := make([]sync.RepoEntry, 0, len(contents))
	for _, item := range contents {
		entries = append(entries, sync.RepoEntry{Path: item.Path, Type: item.Type})
	}
	return entries, nil
}

// FetchFile returns the file content in its base64 transport encoding.
func (c *GitHub) FetchFile(ctx context.Context, repo, path, token string) ([]byte, error) {
	var content contentResponse
	endpoint := fmt.Sprintf("/repos/%s/contents/%s", repo, url.PathEscape(path))
	if err := c.get(ctx, endpoint, token, &content); err != nil {
		return nil, err
	}
	if content.Encoding != "" && content.Encoding != "base64" {
		return nil, fmt.Errorf("unsupported content encoding %q for %s", content.Encoding, path)
	}
	return []byte(content.Content), nil
}

func (c *GitHub) get(ctx context.Context, path, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("github: %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("github: decode %s response: %w", path, err)
	}
	return nil
}
