package sync

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"bindery/internal/util"
	"bindery/pkg/domain"
)

// ErrNoChange indicates the repository has no commit newer than the product's
// sync marker; the sync is a no-op.
var ErrNoChange = errors.New("content already up to date")

const introductionFile = "introduction.md"

var chapterFilePattern = regexp.MustCompile(`^chapter-([1-9][0-9]*)\.md$`)

// RepoClient fetches commit history and file content for a repository.
type RepoClient interface {
	LatestCommit(ctx context.Context, repo, token string) (string, error)
	ListTopLevel(ctx context.Context, repo, token string) ([]RepoEntry, error)
	// FetchFile returns the file content still in its base64 transport
	// encoding, as served by the contents API.
	FetchFile(ctx context.Context, repo, path, token string) ([]byte, error)
}

// RepoEntry is one top-level entry of a repository tree.
type RepoEntry struct {
	Path string
	Type string // "file" or "dir"
}

// Catalog is the slice of the product store the sync workflow needs.
type Catalog interface {
	GetProduct(id string) (domain.Product, bool, error)
	SetLastSyncedCommit(productID, commit string) error
	UpsertChapter(domain.Chapter) error
}

// Result reports whether a sync advanced the commit marker, and to which
// commit.
type Result struct {
	Updated bool   `json:"updated"`
	Commit  string `json:"commit,omitempty"`
}

// Orchestrator synchronizes a product's chapters from its source repository.
type Orchestrator struct {
	catalog     Catalog
	repos       RepoClient
	concurrency int
}

// New constructs the sync orchestrator. Concurrency bounds the per-file
// fan-out; values <= 0 fall back to 4.
func New(catalog Catalog, repos RepoClient, concurrency int) *Orchestrator {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Orchestrator{catalog: catalog, repos: repos, concurrency: concurrency}
}

// Sync pulls the latest commit of the product's repository and upserts every
// recognized chapter file. Individual file failures are logged and do not
// abort the run; the commit marker advances once the fan-out has settled.
func (o *Orchestrator) Sync(ctx context.Context, productID, token string) (Result, error) {
	product, ok, err := o.catalog.GetProduct(productID)
	if err != nil {
		return Result{}, fmt.Errorf("load product: %w", err)
	}
	if !ok {
		return Result{}, domain.ErrProductNotFound
	}

	commit, err := o.repos.LatestCommit(ctx, product.Repo, token)
	if err != nil {
		return Result{}, fmt.Errorf("latest commit: %w", err)
	}
	if commit == "" || commit == product.LastSyncedCommit {
		return Result{Commit: product.LastSyncedCommit}, ErrNoChange
	}

	entries, err := o.repos.ListTopLevel(ctx, product.Repo, token)
	if err != nil {
		return Result{}, fmt.Errorf("list repository: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, entry := range entries {
		position, ok := chapterPosition(entry)
		if !ok {
			continue
		}
		path := entry.Path
		g.Go(func() error {
			if err := o.syncFile(gctx, product, path, position, token); err != nil {
				slog.Error("chapter sync failed",
					"product", product.ID,
					"slug", product.Slug,
					"path", path,
					"err", err,
				)
			}
			// Per-file failures stay isolated from the rest of the run.
			return nil
		})
	}
	_ = g.Wait()

	if err := o.catalog.SetLastSyncedCommit(product.ID, commit); err != nil {
		return Result{}, fmt.Errorf("advance sync marker: %w", err)
	}
	return Result{Updated: true, Commit: commit}, nil
}

// chapterPosition applies the allow-list: regular files named
// introduction.md (position 0) or chapter-<n>.md (position n). Everything
// else is skipped without error.
func chapterPosition(entry RepoEntry) (int, bool) {
	if entry.Type != "file" {
		return 0, false
	}
	if entry.Path == introductionFile {
		return 0, true
	}
	match := chapterFilePattern.FindStringSubmatch(entry.Path)
	if match == nil {
		return 0, false
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (o *Orchestrator) syncFile(ctx context.Context, product domain.Product, path string, position int, token string) error {
	encoded, err := o.repos.FetchFile(ctx, product.Repo, path, token)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	text, err := decodeContent(encoded)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	meta, body, err := splitFrontMatter(text)
	if err != nil {
		return err
	}
	chapter := domain.Chapter{
		ID:        util.NewID(),
		ProductID: product.ID,
		Path:      path,
		Title:     chapterTitle(meta, path, position),
		Position:  position,
		Body:      body,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := o.catalog.UpsertChapter(chapter); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

// decodeContent strips the line breaks the contents API inserts into its
// base64 payload before decoding.
func decodeContent(encoded []byte) (string, error) {
	compact := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' {
			return -1
		}
		return r
	}, string(encoded))
	raw, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func chapterTitle(meta map[string]string, path string, position int) string {
	if title := strings.TrimSpace(meta["title"]); title != "" {
		return title
	}
	if path == introductionFile {
		return "Introduction"
	}
	return fmt.Sprintf("Chapter %d", position)
}
