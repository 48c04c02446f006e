// Package repos scans and accesses the files of the repository a feature
// targets. The walk honours .gitignore-style exclusions well enough for
// prompt-context assembly: VCS metadata, worktrees, and anything listed in
// the repository's .gitignore are skipped.
package repos

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNotDirectory is returned when the repository root is not a directory.
var ErrNotDirectory = errors.New("repository path is not a directory")

// alwaysSkipped are directories never scanned regardless of ignore rules.
var alwaysSkipped = map[string]bool{
	".git":   true,
	".trees": true,
}

// FileInfo describes one scanned file.
type FileInfo struct {
	// Path is relative to the repository root, slash-separated.
	Path string
	// Size is the file size in bytes.
	Size int64
	// Extension is the extension without the dot, empty when none.
	Extension string
}

// Filter narrows a scan. Zero value matches every file.
type Filter struct {
	// Extensions restricts matches to these extensions (without dots).
	Extensions []string
	// Pattern is a doublestar glob matched against the relative path.
	Pattern string
	// MinSize and MaxSize bound the file size; zero means unbounded.
	MinSize int64
	MaxSize int64
}

// Matches reports whether the file passes the filter.
func (f Filter) Matches(file FileInfo) bool {
	if len(f.Extensions) > 0 {
		found := false
		for _, ext := range f.Extensions {
			if file.Extension == ext {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MinSize > 0 && file.Size < f.MinSize {
		return false
	}
	if f.MaxSize > 0 && file.Size > f.MaxSize {
		return false
	}
	if f.Pattern != "" {
		ok, err := doublestar.Match(f.Pattern, file.Path)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// Repository provides read access to a feature's target repository.
type Repository struct {
	root    string
	ignores []string
}

// New opens a repository rooted at root. The root must exist and be a
// directory. .gitignore patterns at the root are loaded once.
func New(root string) (*Repository, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("repos: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repos: %w: %s", ErrNotDirectory, root)
	}

	r := &Repository{root: root}
	r.ignores = loadIgnorePatterns(filepath.Join(root, ".gitignore"))
	return r, nil
}

// Root returns the repository root path.
func (r *Repository) Root() string {
	return r.root
}

// List returns every non-ignored file, filtered.
func (r *Repository) List(filter Filter) ([]FileInfo, error) {
	var files []FileInfo

	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(r.root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if alwaysSkipped[d.Name()] || strings.HasPrefix(d.Name(), ".") || r.ignored(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if r.ignored(rel) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		file := FileInfo{
			Path:      rel,
			Size:      info.Size(),
			Extension: strings.TrimPrefix(filepath.Ext(rel), "."),
		}
		if filter.Matches(file) {
			files = append(files, file)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repos: walking %q: %w", r.root, err)
	}
	return files, nil
}

// Read returns the content of a file relative to the root.
func (r *Repository) Read(rel string) (string, error) {
	data, err := os.ReadFile(filepath.Join(r.root, rel))
	if err != nil {
		return "", fmt.Errorf("repos: reading %q: %w", rel, err)
	}
	return string(data), nil
}

// Exists reports whether the relative path exists.
func (r *Repository) Exists(rel string) bool {
	_, err := os.Stat(filepath.Join(r.root, rel))
	return err == nil
}

// ignored reports whether the relative path matches an ignore pattern.
func (r *Repository) ignored(rel string) bool {
	for _, pattern := range r.ignores {
		target := rel
		if strings.HasSuffix(pattern, "/") {
			pattern = strings.TrimSuffix(pattern, "/")
			target = strings.TrimSuffix(rel, "/")
		} else {
			target = strings.TrimSuffix(rel, "/")
		}
		if ok, err := doublestar.Match(pattern, target); err == nil && ok {
			return true
		}
		// A bare name matches at any depth, per gitignore semantics.
		if !strings.Contains(pattern, "/") {
			if ok, err := doublestar.Match("**/"+pattern, target); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// loadIgnorePatterns reads non-comment lines from a .gitignore file.
// A missing file yields no patterns.
func loadIgnorePatterns(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close() //nolint:errcheck

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		patterns = append(patterns, strings.TrimPrefix(line, "/"))
	}
	return patterns
}
