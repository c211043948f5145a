package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/ryanmoran/gitbox/internal"
)

// DefaultBranch is the single line of history every repository keeps.
const DefaultBranch = "main"

const logFormat = "--pretty=format:%H|%an|%ae|%ad|%s"

var revisionPattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z._/~^-]*$`)

// Repository is the document repository rooted at the storage directory.
type Repository struct {
	runner    Runner
	extension string
}

// NewRepository creates a Repository for the runner's working directory.
// Document names without extension get it appended.
func NewRepository(runner Runner, extension string) *Repository {
	return &Repository{
		runner:    runner,
		extension: extension,
	}
}

// Dir returns the storage directory.
func (r *Repository) Dir() string {
	return r.runner.Dir()
}

// FileName maps a document name onto a file name inside the storage
// directory. A leading "./" is stripped and the extension is appended when
// missing. Names that would escape the directory are rejected with
// internal.ErrInvalidName.
func (r *Repository) FileName(name string) (string, error) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "./")

	switch {
	case name == "", name == ".", name == "..":
		return "", fmt.Errorf("%w: %q", internal.ErrInvalidName, name)
	case filepath.IsAbs(name), strings.ContainsAny(name, "/\\\x00"):
		return "", fmt.Errorf("%w: %q must not contain path separators", internal.ErrInvalidName, name)
	case strings.HasPrefix(name, "-"):
		return "", fmt.Errorf("%w: %q must not start with a dash", internal.ErrInvalidName, name)
	}

	if !strings.HasSuffix(name, r.extension) {
		name += r.extension
	}
	return name, nil
}

// DocumentName strips the extension from a file name.
func (r *Repository) DocumentName(fileName string) string {
	return strings.TrimSuffix(fileName, r.extension)
}

func checkRevision(rev string) error {
	if !revisionPattern.MatchString(rev) {
		return fmt.Errorf("%w: revision %q", internal.ErrInvalidName, rev)
	}
	return nil
}

// Init creates the repository with an empty initial commit on the default
// branch unless one already exists. It reports whether anything was created.
func (r *Repository) Init(ctx context.Context) (bool, error) {
	if err := os.MkdirAll(r.Dir(), 0755); err != nil {
		return false, fmt.Errorf("failed to create storage directory %q: %w\nCheck that the volume is mounted and writable", r.Dir(), err)
	}

	if _, err := os.Stat(filepath.Join(r.Dir(), ".git")); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to inspect repository at %q: %w", r.Dir(), err)
	}

	steps := [][]string{
		{"init", "--quiet"},
		{"symbolic-ref", "HEAD", "refs/heads/" + DefaultBranch},
		{"commit", "--quiet", "--allow-empty", "-m", "initialize repository"},
	}
	for _, args := range steps {
		if _, err := r.runner.Run(ctx, args...); err != nil {
			return false, fmt.Errorf("failed to initialize repository at %q: %w", r.Dir(), err)
		}
	}

	return true, nil
}

// List returns the names of all documents in the storage directory, without
// their extension, sorted.
func (r *Repository) List() ([]string, error) {
	entries, err := os.ReadDir(r.Dir())
	if err != nil {
		return nil, fmt.Errorf("failed to list storage directory %q: %w", r.Dir(), err)
	}

	pattern := "*" + r.extension
	names := []string{}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		ok, err := doublestar.Match(pattern, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to match %q against %q: %w", entry.Name(), pattern, err)
		}
		if ok {
			names = append(names, r.DocumentName(entry.Name()))
		}
	}
	sort.Strings(names)

	return names, nil
}

// Read returns the working-tree content of a document.
func (r *Repository) Read(name string) (string, error) {
	file, err := r.FileName(name)
	if err != nil {
		return "", err
	}

	content, err := os.ReadFile(filepath.Join(r.Dir(), file))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("document %q: %w", name, internal.ErrNotFound)
		}
		return "", fmt.Errorf("failed to read document %q: %w", name, err)
	}

	return string(content), nil
}

// History returns the commits touching a document, newest first. An
// untracked document has an empty history.
func (r *Repository) History(ctx context.Context, name string) ([]internal.Revision, error) {
	file, err := r.FileName(name)
	if err != nil {
		return nil, err
	}
	path := "./" + file

	tracked, err := r.runner.Run(ctx, "ls-files", "--", path)
	if err != nil {
		return nil, fmt.Errorf("failed to check whether %q is tracked: %w", name, err)
	}
	if strings.TrimSpace(tracked.Stdout) == "" {
		return []internal.Revision{}, nil
	}

	output, err := r.runner.Run(ctx, "log", logFormat, "--date=iso", "--", path)
	if err != nil {
		return nil, fmt.Errorf("failed to read history of %q: %w", name, err)
	}

	return ParseLog(output.Stdout), nil
}

// ParseLog parses "%H|%an|%ae|%ad|%s" lines. Everything after the fourth
// separator belongs to the message.
func ParseLog(text string) []internal.Revision {
	revisions := []internal.Revision{}
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if line == "" {
			continue
		}

		fields := strings.SplitN(line, "|", 5)
		for len(fields) < 5 {
			fields = append(fields, "")
		}
		revisions = append(revisions, internal.Revision{
			Hash:    fields[0],
			Author:  fields[1],
			Email:   fields[2],
			Date:    fields[3],
			Message: fields[4],
		})
	}
	return revisions
}

// Show returns a document's content at rev, or at its first parent when
// parent is set. A revision or path that does not resolve is
// internal.ErrNotFound.
func (r *Repository) Show(ctx context.Context, name, rev string, parent bool) (string, error) {
	file, err := r.FileName(name)
	if err != nil {
		return "", err
	}
	if err := checkRevision(rev); err != nil {
		return "", err
	}

	ref := rev
	if parent {
		ref += "^"
	}

	output, err := r.runner.Run(ctx, "show", ref+":./"+file)
	if err != nil {
		if exitCode(err) > 0 {
			return "", fmt.Errorf("document %q at %s: %w", name, ref, internal.ErrNotFound)
		}
		return "", fmt.Errorf("failed to show document %q at %s: %w", name, ref, err)
	}

	return output.Stdout, nil
}

// Diff returns the patch rev applied to a document.
func (r *Repository) Diff(ctx context.Context, name, rev string) (string, error) {
	file, err := r.FileName(name)
	if err != nil {
		return "", err
	}
	if err := checkRevision(rev); err != nil {
		return "", err
	}

	output, err := r.runner.Run(ctx, "show", "--no-color", rev, "--", "./"+file)
	if err != nil {
		if exitCode(err) > 0 {
			return "", fmt.Errorf("diff of %q at %s: %w", name, rev, internal.ErrNotFound)
		}
		return "", fmt.Errorf("failed to diff document %q at %s: %w", name, rev, err)
	}

	return output.Stdout, nil
}

// Update writes content to a document and commits it as "update <file>". It
// reports whether a commit was made; saving identical content is not an
// error.
func (r *Repository) Update(ctx context.Context, name, content string) (bool, error) {
	file, err := r.FileName(name)
	if err != nil {
		return false, err
	}
	return r.commit(ctx, file, content, "update "+file)
}

// Create stores content under a fresh random name, commits it as
// "create <file>" and returns the file name.
func (r *Repository) Create(ctx context.Context, content string) (string, error) {
	file := uuid.NewString() + r.extension
	if _, err := r.commit(ctx, file, content, "create "+file); err != nil {
		return "", err
	}
	return file, nil
}

// Restore replaces a document with its content at rev and commits it as
// "restore <file> to <rev>".
func (r *Repository) Restore(ctx context.Context, name, rev string) (bool, error) {
	content, err := r.Show(ctx, name, rev, false)
	if err != nil {
		return false, err
	}

	file, err := r.FileName(name)
	if err != nil {
		return false, err
	}
	return r.commit(ctx, file, content, fmt.Sprintf("restore %s to %s", file, rev))
}

// Status returns the output of "git status".
func (r *Repository) Status(ctx context.Context) (string, error) {
	output, err := r.runner.Run(ctx, "status")
	if err != nil {
		return "", fmt.Errorf("failed to get repository status: %w", err)
	}
	return output.Stdout, nil
}

// GC runs "git gc --auto".
func (r *Repository) GC(ctx context.Context) error {
	if _, err := r.runner.Run(ctx, "gc", "--auto", "--quiet"); err != nil {
		return fmt.Errorf("failed to collect garbage: %w", err)
	}
	return nil
}

func (r *Repository) commit(ctx context.Context, file, content, message string) (bool, error) {
	path := "./" + file

	if err := os.WriteFile(filepath.Join(r.Dir(), file), []byte(content), 0644); err != nil {
		return false, fmt.Errorf("failed to write %q: %w\nCheck that the storage volume is writable", file, err)
	}

	if _, err := r.runner.Run(ctx, "add", "--", path); err != nil {
		return false, fmt.Errorf("failed to stage %q: %w", file, err)
	}

	// exit status 0 means nothing is staged for this path
	_, err := r.runner.Run(ctx, "diff", "--cached", "--quiet", "--", path)
	switch exitCode(err) {
	case -1:
		if err != nil {
			return false, fmt.Errorf("failed to compare %q with HEAD: %w", file, err)
		}
		return false, nil
	case 1:
	default:
		return false, fmt.Errorf("failed to compare %q with HEAD: %w", file, err)
	}

	if _, err := r.runner.Run(ctx, "commit", "--quiet", "-m", message, "--", path); err != nil {
		return false, fmt.Errorf("failed to commit %q: %w", file, err)
	}

	return true, nil
}
