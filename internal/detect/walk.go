package detect

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/papapumpkin/optifix/internal/rules"
)

// IgnoreDirs are directory names never descended into: version control,
// dependency caches, build output, editor state, and archive folders.
var IgnoreDirs = []string{
	".git", ".svn", ".hg",
	"__pycache__", "venv", ".venv", "env", ".env", "dist", "build", "site-packages",
	".tox", ".pytest_cache", ".mypy_cache", ".ruff_cache", "htmlcov", "eggs", ".eggs",
	"node_modules", ".next", ".nuxt", "coverage", ".yarn", "bower_components", "jspm_packages", "out", ".cache",
	"target", "vendor", "bin", "pkg", ".gradle",
	".idea", ".vscode", ".history",
	"archive", "backups", "backup", "tmp", "temp", "logs", "legacy", "old", "deprecated", "migrated",
	"_backup", "_archive", "_ARCHIVE", "_old", "_tmp", "_temp",
	".optifix",
}

// IgnoreExtensions are file extensions of editor, patch and backup leftovers.
var IgnoreExtensions = []string{".bak", ".old", ".tmp", ".swp", ".log", ".orig", ".rej"}

// WalkOptions controls candidate discovery.
type WalkOptions struct {
	// Exclude holds doublestar globs matched against slash-separated paths
	// relative to the walk root (e.g. "**/testdata/**", "gen/*.py"). Files
	// named explicitly are matched relative to the working directory.
	Exclude []string
}

// Collect expands paths into the sorted set of scannable files. Directories
// are walked; files are kept when the catalog has rules for them.
func Collect(catalog *rules.Catalog, paths []string, opts WalkOptions) ([]string, error) {
	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("collecting %s: %w", p, err)
		}
		if !info.IsDir() {
			if Candidate(catalog, p) && !excluded(opts.Exclude, cwdRel(p)) {
				add(p)
			}
			continue
		}
		found, err := Walk(catalog, p, opts)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			add(f)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Walk returns every candidate file below root, pruning ignored directories.
func Walk(catalog *rules.Catalog, root string, opts WalkOptions) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil // unreadable subtree
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path != root && (slices.Contains(IgnoreDirs, d.Name()) || excluded(opts.Exclude, rel)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if Candidate(catalog, path) && !excluded(opts.Exclude, rel) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return files, nil
}

// Candidate reports whether a file is worth reading: a supported extension,
// not an editor leftover, and not a backup copy.
func Candidate(catalog *rules.Catalog, path string) bool {
	name := strings.ToLower(filepath.Base(path))
	if slices.Contains(IgnoreExtensions, filepath.Ext(name)) {
		return false
	}
	if strings.Contains(name, "_backup") || strings.Contains(name, "backup_") {
		return false
	}
	return catalog.LanguageFor(path) != ""
}

// cwdRel returns path relative to the working directory in slash form, the
// same frame a walk of "." matches excludes in. Files outside the working
// directory fall back to their base name.
func cwdRel(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Base(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return filepath.Base(path)
	}
	rel, err := filepath.Rel(wd, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}

func excluded(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
