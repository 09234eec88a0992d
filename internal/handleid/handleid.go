// Package handleid computes canopy's content-derived handle identifiers.
// It exists as its own leaf package so both the root package (which
// exposes it as canopy.NewHandleID) and internal/pipeline (which needs to
// stamp ids onto rows before they ever reach the root package) can compute
// the same id without creating an import cycle between them.
package handleid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// New derives the 25-character stable id: 'h' followed by 24 lowercase hex
// characters, from a sha256 digest of the UTF-8 encoded triple (path,
// "start-end", name-or-empty). Truncated to 96 bits — collision resistance
// over realistic corpora is the goal, not cryptographic strength, so 12
// bytes is ample headroom.
func New(filePath string, spanStart, spanEnd int, name string) string {
	input := fmt.Sprintf("%s\x00%d-%d\x00%s", filePath, spanStart, spanEnd, name)
	sum := sha256.Sum256([]byte(input))
	return "h" + hex.EncodeToString(sum[:12])
}
