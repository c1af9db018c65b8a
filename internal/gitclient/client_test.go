package gitclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newAPIServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, h := range handlers {
		mux.HandleFunc(pattern, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLatestCommit(t *testing.T) {
	var gotAuth string
	srv := newAPIServer(t, map[string]http.HandlerFunc{
		"/repos/acme/book/commits": func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			json.NewEncoder(w).Encode([]map[string]string{{"sha": "sha-abc"}})
		},
	})
	c := NewGitHub(srv.URL)

	sha, err := c.LatestCommit(context.Background(), "acme/book", "gh-token")
	if err != nil {
		t.Fatalf("latest commit: %v", err)
	}
	if sha != "sha-abc" {
		t.Fatalf("sha = %q", sha)
	}
	if gotAuth != "Bearer gh-token" {
		t.Fatalf("authorization = %q", gotAuth)
	}
}

func TestLatestCommitEmptyRepo(t *testing.T) {
	srv := newAPIServer(t, map[string]http.HandlerFunc{
		"/repos/acme/book/commits": func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode([]map[string]string{})
		},
	})
	c := NewGitHub(srv.URL)

	sha, err := c.LatestCommit(context.Background(), "acme/book", "")
	if err != nil {
		t.Fatalf("latest commit: %v", err)
	}
	if sha != "" {
		t.Fatalf("sha = %q, want empty", sha)
	}
}

func TestListTopLevel(t *testing.T) {
	srv := newAPIServer(t, map[string]http.HandlerFunc{
		"/repos/acme/book/contents": func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode([]map[string]string{
				{"path": "introduction.md", "type": "file"},
				{"path": "img", "type": "dir"},
			})
		},
	})
	c := NewGitHub(srv.URL)

	entries, err := c.ListTopLevel(context.Background(), "acme/book", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d", len(entries))
	}
	if entries[0].Path != "introduction.md" || entries[0].Type != "file" {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
	if entries[1].Path != "img" || entries[1].Type != "dir" {
		t.Fatalf("unexpected entry: %+v", entries[1])
	}
}

func TestFetchFile(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("# Chapter One\n"))
	srv := newAPIServer(t, map[string]http.HandlerFunc{
		"/repos/acme/book/contents/chapter-1.md": func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{
				"path":     "chapter-1.md",
				"type":     "file",
				"encoding": "base64",
				"content":  encoded,
			})
		},
	})
	c := NewGitHub(srv.URL)

	content, err := c.FetchFile(context.Background(), "acme/book", "chapter-1.md", "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	// The client returns the transport encoding untouched.
	if string(content) != encoded {
		t.Fatalf("content = %q, want base64 payload", content)
	}
}

func TestFetchFileRejectsUnknownEncoding(t *testing.T) {
	srv := newAPIServer(t, map[string]http.HandlerFunc{
		"/repos/acme/book/contents/chapter-1.md": func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"encoding": "utf-16", "content": "??"})
		},
	})
	c := NewGitHub(srv.URL)

	if _, err := c.FetchFile(context.Background(), "acme/book", "chapter-1.md", ""); err == nil {
		t.Fatalf("expected error for unsupported encoding")
	}
}

func TestGetSurfacesAPIErrors(t *testing.T) {
	srv := newAPIServer(t, map[string]http.HandlerFunc{
		"/repos/acme/book/commits": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
		},
	})
	c := NewGitHub(srv.URL)

	if _, err := c.LatestCommit(context.Background(), "acme/book", ""); err == nil {
		t.Fatalf("expected error for 404 response")
	}
}
