package store

import (
	"crypto/sha256"
	"encoding/hex"
	"os"

	"github.com/cespare/xxhash/v2"
)

// FastHash returns a cheap 64-bit xxhash of content. The skip policy does
// not call it; change detection compares the ContentHash digest stored in
// the files table. Grounded on the teacher's use of xxhash for its own
// content-change checks.
func FastHash(content []byte) uint64 {
	return xxhash.Sum64(content)
}

// ContentHash returns the hex-encoded sha256 digest stored in files.hash,
// which the skip policy compares to decide whether a file's content
// changed.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ReadFileForIndex reads path's content and mtime with the mtime captured
// before the read, so a concurrent write during the read can only make the
// captured metadata stale in the safe direction (the file will be picked
// up again on the next scan) rather than record a false-fresh mtime for
// content the read never actually saw.
func ReadFileForIndex(path string) (content []byte, mtime int64, size int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, 0, err
	}
	mtime = info.ModTime().UnixNano()
	content, err = os.ReadFile(path)
	if err != nil {
		return nil, 0, 0, err
	}
	return content, mtime, int64(len(content)), nil
}
