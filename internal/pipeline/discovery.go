// Package pipeline discovers, filters, and indexes files: it is the glue
// between file discovery, the parse package's extraction, and the store
// package's persistence, run either sequentially or across a bounded
// worker pool depending on how many files need indexing.
package pipeline

import (
	"bytes"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/canopy-dev/canopy/internal/parse"
)

// DiscoverFiles lists candidate files under root matching globs (nil or
// empty means "supported extensions, no glob narrowing"). If root is
// inside a git repository, git ls-files does the discovery and gitignore
// filtering; otherwise DiscoverFiles falls back to a filesystem walk that
// applies ignorePatterns itself.
func DiscoverFiles(root string, globs []string, ignorePatterns []string) ([]string, error) {
	paths, err := gitListFiles(root)
	if err != nil {
		paths, err = walkListFiles(root, ignorePatterns)
		if err != nil {
			return nil, err
		}
	}
	if len(globs) == 0 {
		return paths, nil
	}
	var filtered []string
	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			rel = p
		}
		if matchesAny(rel, globs) {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// gitListFiles uses git ls-files to discover tracked and untracked (but not
// ignored) files under root, filtered to files canopy can parse in some
// way (a recognized grammar, markdown, or plain text worth chunking).
func gitListFiles(root string) ([]string, error) {
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pipeline: git ls-files: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		absPath := filepath.Join(root, line)
		if isIndexableCandidate(absPath) {
			paths = append(paths, absPath)
		}
	}
	return paths, nil
}

// walkListFiles discovers files by walking the filesystem, used when root
// isn't a git repository. ignorePatterns are matched against paths
// relative to root using the same semantics as a .gitignore file.
func walkListFiles(root string, ignorePatterns []string) ([]string, error) {
	matcher := ignore.CompileIgnoreLines(ignorePatterns...)

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		if rel != "." && matcher.MatchesPath(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if isIndexableCandidate(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: walk %s: %w", root, err)
	}
	return paths, nil
}

// isIndexableCandidate reports whether path is worth attempting to parse:
// it has a recognized grammar, is markdown, or is plausibly text.
func isIndexableCandidate(path string) bool {
	if _, ok := parse.LanguageForFile(path); ok {
		return true
	}
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown") {
		return true
	}
	return looksLikeText(filepath.Ext(lower))
}

// textExtensions is the set of extensions the generic chunker is willing
// to index absent a grammar. Binary formats are excluded outright rather
// than relying on content sniffing, since the pipeline never opens a file
// just to decide whether to skip it.
var textExtensions = map[string]bool{
	".txt": true, ".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".cfg": true, ".ini": true, ".sh": true, ".bash": true, ".sql": true,
	".proto": true, ".graphql": true, ".xml": true, ".html": true, ".css": true,
}

func looksLikeText(ext string) bool { return textExtensions[ext] }

func matchesAny(rel string, globs []string) bool {
	for _, g := range globs {
		if ok, err := doublestar.Match(g, rel); err == nil && ok {
			return true
		}
	}
	return false
}
