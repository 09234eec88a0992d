package canopy

import (
	"fmt"
	"os/exec"
	"strings"
)

// DirtyStatus classifies an uncommitted change reported by git.
type DirtyStatus string

const (
	DirtyModified DirtyStatus = "modified"
	DirtyAdded    DirtyStatus = "added"
	DirtyDeleted  DirtyStatus = "deleted"
	DirtyRenamed  DirtyStatus = "renamed"
	DirtyUnmerged DirtyStatus = "unmerged"
)

// DirtyFile is one path git status reports as uncommitted.
type DirtyFile struct {
	Path   string
	Status DirtyStatus
}

// DetectDirty runs `git status --porcelain=v2 -z` in repoRoot and returns
// every uncommitted file, for runtime mode "auto"'s local overlay.
func DetectDirty(repoRoot string) ([]DirtyFile, error) {
	cmd := exec.Command("git", "status", "--porcelain=v2", "-z")
	cmd.Dir = repoRoot
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("canopy: git status: %w", err)
	}
	return parsePorcelainV2(string(out)), nil
}

// parsePorcelainV2 parses NUL-delimited `git status --porcelain=v2 -z`
// output. Record types: '1' ordinary changed, '2' renamed/copied,
// 'u' unmerged, '?' untracked.
func parsePorcelainV2(output string) []DirtyFile {
	var files []DirtyFile
	parts := strings.Split(output, "\x00")
	for i := 0; i < len(parts); i++ {
		entry := strings.TrimSpace(parts[i])
		if entry == "" {
			continue
		}
		switch {
		case strings.HasPrefix(entry, "1 "):
			if path, ok := fieldAt(entry, 8); ok {
				files = append(files, DirtyFile{Path: path, Status: classifyXY(entry)})
			}
		case strings.HasPrefix(entry, "2 "):
			if path, ok := fieldAt(entry, 9); ok {
				files = append(files, DirtyFile{Path: path, Status: DirtyRenamed})
			}
			i++ // skip the origPath field that follows a renamed entry
		case strings.HasPrefix(entry, "u "):
			if path, ok := fieldAt(entry, 10); ok {
				files = append(files, DirtyFile{Path: path, Status: DirtyUnmerged})
			}
		case strings.HasPrefix(entry, "? "):
			files = append(files, DirtyFile{Path: entry[2:], Status: DirtyAdded})
		}
	}
	return files
}

// fieldAt splits entry on spaces and returns the field at idx, joined back
// with any remaining spaces (paths themselves never contain the field
// separator up to idx, but may contain spaces beyond it).
func fieldAt(entry string, idx int) (string, bool) {
	fields := strings.SplitN(entry, " ", idx+1)
	if len(fields) <= idx {
		return "", false
	}
	return fields[idx], true
}

// classifyXY maps the two-letter XY status code of an ordinary changed
// entry to a DirtyStatus: a D in either position means deleted, A in the
// index position means added, anything else is a modification.
func classifyXY(entry string) DirtyStatus {
	fields := strings.SplitN(entry, " ", 3)
	if len(fields) < 2 || len(fields[1]) < 2 {
		return DirtyModified
	}
	xy := fields[1]
	if xy[0] == 'D' || xy[1] == 'D' {
		return DirtyDeleted
	}
	if xy[0] == 'A' {
		return DirtyAdded
	}
	return DirtyModified
}

// DirtyPaths reduces a DirtyFile list to the set of paths, dropping
// deleted files (nothing to reindex there) unless includeDeleted is set.
func DirtyPaths(files []DirtyFile, includeDeleted bool) []string {
	var out []string
	for _, f := range files {
		if f.Status == DirtyDeleted && !includeDeleted {
			continue
		}
		out = append(out, f.Path)
	}
	return out
}

// DirtyPathSet is DirtyPaths(files, true) as a lookup set, deleted files
// included, for MergeResults.
func DirtyPathSet(files []DirtyFile) map[string]bool {
	set := make(map[string]bool, len(files))
	for _, f := range files {
		set[f.Path] = true
	}
	return set
}
