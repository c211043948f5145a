package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ryanmoran/gitbox/internal"
	"github.com/ryanmoran/gitbox/internal/cache"
	"github.com/ryanmoran/gitbox/internal/companion"
)

// HomeFilesKey caches the document listing.
const HomeFilesKey = "home_files"

// Caller reaches the companion service. *sandbox.Manager implements it.
type Caller interface {
	EnsureReady(ctx context.Context) (internal.Session, error)
	Call(ctx context.Context, session internal.Session, method, path string, payload, out any) (companion.Envelope, error)
}

type Store struct {
	caller    Caller
	cache     *cache.Cache
	ttl       time.Duration
	extension string
	logger    *slog.Logger
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a Store. Cached reads live for config.Cache.ContentTTL.
func New(caller Caller, c *cache.Cache, config internal.Config, options ...Option) *Store {
	s := &Store{
		caller:    caller,
		cache:     c,
		ttl:       config.Cache.ContentTTL,
		extension: config.Store.Extension,
		logger:    slog.Default(),
	}
	if s.ttl <= 0 {
		s.ttl = internal.DefaultContentTTL
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// ContentKey caches a document's current content.
func ContentKey(file string) string {
	return file
}

// HistoryKey caches a document's revision list.
func HistoryKey(file string) string {
	return "commits-" + file
}

// DiffKey caches the patch a revision applied to a document.
func DiffKey(name, rev string) string {
	return name + "-diff-" + rev
}

// BeforeKey and AfterKey cache the two sides of a snapshot.
func BeforeKey(name, rev string) string {
	return name + "-before-" + rev
}

func AfterKey(name, rev string) string {
	return name + "-after-" + rev
}

// fileName normalizes name the same way the companion does, so cache keys
// match whatever form the caller used.
func (s *Store) fileName(name string) (string, error) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "./")
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return "", fmt.Errorf("%w: %q", internal.ErrInvalidName, name)
	}
	if !strings.HasSuffix(name, s.extension) {
		name += s.extension
	}
	return name, nil
}

func (s *Store) call(ctx context.Context, method, path string, payload, out any) error {
	session, err := s.caller.EnsureReady(ctx)
	if err != nil {
		return err
	}
	_, err = s.caller.Call(ctx, session, method, path, payload, out)
	return err
}

func (s *Store) invalidate(ctx context.Context, keys ...string) error {
	if err := s.cache.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", strings.Join(keys, ", "), err)
	}
	return nil
}

// ListDocuments returns the document names, without extension.
func (s *Store) ListDocuments(ctx context.Context) ([]string, error) {
	files, _, err := cache.Fetch(ctx, s.cache, HomeFilesKey, s.ttl, func(ctx context.Context) ([]string, bool, error) {
		var result companion.FilesResult
		if err := s.call(ctx, http.MethodGet, companion.RouteFiles, nil, &result); err != nil {
			return nil, false, err
		}
		return result.Files, len(result.Files) > 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	if files == nil {
		files = []string{}
	}
	return files, nil
}

// ReadDocument returns a document's current content. A missing document is
// internal.ErrNotFound.
func (s *Store) ReadDocument(ctx context.Context, name string) (string, error) {
	file, err := s.fileName(name)
	if err != nil {
		return "", err
	}

	content, _, err := cache.Fetch(ctx, s.cache, ContentKey(file), s.ttl, func(ctx context.Context) (string, bool, error) {
		var result companion.ContentResult
		if err := s.call(ctx, http.MethodPost, companion.RouteFileContent, companion.FileRequest{FileName: file}, &result); err != nil {
			return "", false, err
		}
		return result.Content, result.Content != "", nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to read document %q: %w", name, err)
	}
	return content, nil
}

// WriteDocument replaces a document's content and commits it, creating the
// document on first write. Writing the current content again succeeds
// without a new revision.
func (s *Store) WriteDocument(ctx context.Context, name, content string) error {
	file, err := s.fileName(name)
	if err != nil {
		return err
	}

	var result companion.WriteResult
	if err := s.call(ctx, http.MethodPost, companion.RouteUpdateFile, companion.FileRequest{FileName: file, Content: content}, &result); err != nil {
		return fmt.Errorf("failed to write document %q: %w", name, err)
	}
	s.logger.Debug("document written", slog.String("file", file), slog.Bool("committed", result.Committed))

	return s.invalidate(ctx, ContentKey(file), HistoryKey(file), HomeFilesKey)
}

// CreateDocument stores content under a new random name and returns that
// name without extension.
func (s *Store) CreateDocument(ctx context.Context, content string) (string, error) {
	var result companion.CreateResult
	if err := s.call(ctx, http.MethodPost, companion.RouteCreateFile, companion.FileRequest{Content: content}, &result); err != nil {
		return "", fmt.Errorf("failed to create document: %w", err)
	}

	if err := s.invalidate(ctx, HomeFilesKey); err != nil {
		return "", err
	}

	return strings.TrimSuffix(result.FileName, s.extension), nil
}

// History returns a document's revisions, newest first. A document that was
// never committed has an empty history.
func (s *Store) History(ctx context.Context, name string) ([]internal.Revision, error) {
	file, err := s.fileName(name)
	if err != nil {
		return nil, err
	}

	revisions, _, err := cache.Fetch(ctx, s.cache, HistoryKey(file), s.ttl, func(ctx context.Context) ([]internal.Revision, bool, error) {
		var result companion.CommitsResult
		if err := s.call(ctx, http.MethodPost, companion.RouteCommits, companion.FileRequest{FileName: file}, &result); err != nil {
			return nil, false, err
		}
		return result.Commits, len(result.Commits) > 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read history of %q: %w", name, err)
	}
	if revisions == nil {
		revisions = []internal.Revision{}
	}
	return revisions, nil
}

// DiffAt returns the patch rev applied to a document, as git prints it.
func (s *Store) DiffAt(ctx context.Context, name, rev string) (string, error) {
	file, err := s.fileName(name)
	if err != nil {
		return "", err
	}
	document := strings.TrimSuffix(file, s.extension)

	diff, _, err := cache.Fetch(ctx, s.cache, DiffKey(document, rev), s.ttl, func(ctx context.Context) (string, bool, error) {
		var result companion.DiffResult
		if err := s.call(ctx, http.MethodPost, companion.RouteDiff, companion.FileRequest{FileName: file, Commit: rev}, &result); err != nil {
			return "", false, err
		}
		if result.Diff == "" {
			return "", false, fmt.Errorf("empty diff: %w", internal.ErrNotFound)
		}
		return result.Diff, true, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to diff %q at %s: %w", name, rev, err)
	}
	return diff, nil
}

// SnapshotAt returns a document's content just before and just after rev.
// Either side is nil when the document did not exist there; when neither
// exists the result is internal.ErrNotFound.
func (s *Store) SnapshotAt(ctx context.Context, name, rev string) (internal.Snapshot, error) {
	file, err := s.fileName(name)
	if err != nil {
		return internal.Snapshot{}, err
	}
	document := strings.TrimSuffix(file, s.extension)

	var snapshot internal.Snapshot
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		content, err := s.contentAt(ctx, BeforeKey(document, rev), file, rev, true)
		snapshot.Before = content
		return err
	})
	group.Go(func() error {
		content, err := s.contentAt(ctx, AfterKey(document, rev), file, rev, false)
		snapshot.After = content
		return err
	})

	if err := group.Wait(); err != nil {
		return internal.Snapshot{}, fmt.Errorf("failed to snapshot %q at %s: %w", name, rev, err)
	}

	if snapshot.Before == nil && snapshot.After == nil {
		return internal.Snapshot{}, fmt.Errorf("snapshot of %q at %s: %w", name, rev, internal.ErrNotFound)
	}
	return snapshot, nil
}

func (s *Store) contentAt(ctx context.Context, key, file, rev string, parent bool) (*string, error) {
	content, _, err := cache.Fetch(ctx, s.cache, key, s.ttl, func(ctx context.Context) (string, bool, error) {
		var result companion.ContentResult
		request := companion.FileRequest{FileName: file, Commit: rev, Parent: parent}
		if err := s.call(ctx, http.MethodPost, companion.RouteFileAtCommit, request, &result); err != nil {
			return "", false, err
		}
		return result.Content, result.Content != "", nil
	})
	if errors.Is(err, internal.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &content, nil
}

// Restore makes a document's content equal to its content at rev and
// commits that as a new revision.
func (s *Store) Restore(ctx context.Context, name, rev string) error {
	file, err := s.fileName(name)
	if err != nil {
		return err
	}

	var result companion.WriteResult
	if err := s.call(ctx, http.MethodPost, companion.RouteRestoreFile, companion.FileRequest{FileName: file, Commit: rev}, &result); err != nil {
		return fmt.Errorf("failed to restore %q to %s: %w", name, rev, err)
	}
	s.logger.Debug("document restored", slog.String("file", file), slog.String("revision", rev), slog.Bool("committed", result.Committed))

	return s.invalidate(ctx, ContentKey(file), HistoryKey(file))
}

// Status returns the repository's working-tree status. It is never cached.
func (s *Store) Status(ctx context.Context) (string, error) {
	var result companion.StatusResult
	if err := s.call(ctx, http.MethodGet, companion.RouteStatus, nil, &result); err != nil {
		return "", fmt.Errorf("failed to get status: %w", err)
	}
	return result.Status, nil
}
