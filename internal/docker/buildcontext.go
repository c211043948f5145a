package docker

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const dockerignoreFile = ".dockerignore"

type ignoreRule struct {
	pattern string
	negate  bool
}

// ignoreRules holds .dockerignore patterns. The last matching rule decides,
// and a pattern that matches a directory excludes everything below it.
type ignoreRules []ignoreRule

func readIgnoreRules(dir string) (ignoreRules, error) {
	file, err := os.Open(filepath.Join(dir, dockerignoreFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dockerignoreFile, err)
	}
	defer file.Close()

	var rules ignoreRules
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rule := ignoreRule{}
		if strings.HasPrefix(line, "!") {
			rule.negate = true
			line = strings.TrimSpace(line[1:])
		}
		rule.pattern = strings.TrimPrefix(path.Clean(filepath.ToSlash(line)), "/")
		if !doublestar.ValidatePattern(rule.pattern) {
			return nil, fmt.Errorf("invalid %s pattern %q", dockerignoreFile, line)
		}
		rules = append(rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dockerignoreFile, err)
	}

	return rules, nil
}

func (r ignoreRules) excluded(name string) bool {
	excluded := false
	for _, rule := range r {
		if matchesPathOrParent(rule.pattern, name) {
			excluded = !rule.negate
		}
	}
	return excluded
}

func (r ignoreRules) negates() bool {
	for _, rule := range r {
		if rule.negate {
			return true
		}
	}
	return false
}

func matchesPathOrParent(pattern, name string) bool {
	parts := strings.Split(name, "/")
	for i := 1; i <= len(parts); i++ {
		if ok, _ := doublestar.Match(pattern, strings.Join(parts[:i], "/")); ok {
			return true
		}
	}
	return false
}

// writeBuildContext tars the regular files under dir into w, skipping what
// .dockerignore excludes. The Dockerfile is always included.
func writeBuildContext(dir, dockerfile string, w io.Writer) error {
	rules, err := readIgnoreRules(dir)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(w)

	err = filepath.WalkDir(dir, func(current string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, current)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := filepath.ToSlash(rel)

		if entry.IsDir() {
			if rules.excluded(name) && !rules.negates() {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		if name != dockerfile && rules.excluded(name) {
			return nil
		}

		return addFile(tw, current, name)
	})
	if err != nil {
		return fmt.Errorf("failed to write build context from %q: %w", dir, err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish build context: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, source, name string) error {
	info, err := os.Stat(source)
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", name, err)
	}

	file, err := os.Open(source)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := io.Copy(tw, file); err != nil {
		return fmt.Errorf("failed to add %s to build context: %w", name, err)
	}
	return nil
}
