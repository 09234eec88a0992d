package pipeline

import (
	"os"
	"time"

	"github.com/canopy-dev/canopy/internal/store"
)

// Decision is what the skip policy decided about a candidate file.
type Decision int

const (
	// NeedsIndex means the file must be (re)parsed and written.
	NeedsIndex Decision = iota
	// UpToDate means the stored metadata already reflects this file.
	UpToDate
	// Missing means the file no longer exists on disk and should be
	// removed from the index.
	Missing
)

// ShouldIndex decides whether path needs (re)indexing by comparing its
// current mtime/size against the stored FileMeta, falling back to a
// content hash comparison whenever mtime alone isn't conclusive: either the
// mtime/size changed outright (e.g. a checkout that resets mtimes without
// changing content) or a matching mtime has gone past ttl. A hash match
// refreshes the stored mtime so the next call doesn't re-hash unchanged
// content. ttl bounds how long a file can go unverified even with a
// matching mtime; zero disables the TTL check.
func ShouldIndex(s *store.Store, path string, meta store.FileMeta, known bool, now time.Time, ttl time.Duration) (Decision, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Missing, nil
		}
		return NeedsIndex, err
	}
	if !known {
		return NeedsIndex, nil
	}

	sameMTime := info.ModTime().UnixNano() == meta.MTime
	sameSize := info.Size() == meta.Size
	if sameMTime && sameSize {
		if ttl <= 0 {
			return UpToDate, nil
		}
		age := now.Sub(time.Unix(0, meta.MTime))
		if age < ttl {
			return UpToDate, nil
		}
	}
	// mtime/size disagree, or a matching mtime is past ttl: neither is
	// conclusive on its own, so fall back to a content hash comparison.
	return verifyByHash(s, path, meta, info)
}

func verifyByHash(s *store.Store, path string, meta store.FileMeta, info os.FileInfo) (Decision, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return NeedsIndex, err
	}
	if store.ContentHash(content) != meta.Hash {
		return NeedsIndex, nil
	}
	if err := s.TouchFileMTime(path, info.ModTime().UnixNano(), info.Size()); err != nil {
		return NeedsIndex, err
	}
	return UpToDate, nil
}
