package store

import (
	"database/sql"
	"fmt"
)

// MaxFilesPerTx bounds how many files' worth of nodes/refs a single Batch
// commits in one SQLite transaction, following the teacher pipeline's
// batching cutoff to keep WAL checkpoints and lock hold times bounded on
// large repos.
const MaxFilesPerTx = 500

// Batch stages inserts/deletes for a run of files and commits them as one
// transaction. The indexing pipeline's writer goroutine owns exactly one
// Batch at a time; Store.writeMu enforces that no two batches interleave.
type Batch struct {
	s        *Store
	tx       *sql.Tx
	nFiles   int
	touched  []string // file paths written this batch, for symcache delta
	removed  []string // file paths deleted this batch
}

// BeginBatch starts a new write transaction. Callers must call Commit or
// Abort exactly once.
func (s *Store) BeginBatch() (*Batch, error) {
	s.writeMu.Lock()
	tx, err := s.db.Begin()
	if err != nil {
		s.writeMu.Unlock()
		return nil, fmt.Errorf("store: begin batch: %w", err)
	}
	return &Batch{s: s, tx: tx}, nil
}

// UpsertFile records or updates a file's metadata, content blob, and
// replaces its nodes/refs/fts rows wholesale. Re-indexing a file is always
// delete-then-insert rather than diffed, matching the pipeline's per-file
// atomicity requirement (spec I2).
func (b *Batch) UpsertFile(meta FileMeta, content []byte, nodes []PendingNode, refs []PendingRef) error {
	if _, err := b.tx.Exec(
		`INSERT INTO files(path, mtime, size, hash, last_gen) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET mtime=excluded.mtime, size=excluded.size, hash=excluded.hash, last_gen=excluded.last_gen`,
		meta.Path, meta.MTime, meta.Size, meta.Hash, meta.LastGen,
	); err != nil {
		return fmt.Errorf("store: upsert file %s: %w", meta.Path, err)
	}

	if _, err := b.tx.Exec(
		`INSERT INTO file_blobs(path, content) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET content=excluded.content`,
		meta.Path, content,
	); err != nil {
		return fmt.Errorf("store: upsert blob %s: %w", meta.Path, err)
	}

	if err := b.clearFileRows(meta.Path); err != nil {
		return err
	}

	nodeStmt, err := b.tx.Prepare(
		`INSERT INTO nodes(file_path, node_type, name, parent, qualifier, span_start, span_end, line_start, line_end, tokens, handle_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare node insert: %w", err)
	}
	defer nodeStmt.Close()

	ftsContentStmt, err := b.tx.Prepare(`INSERT INTO fts_content(node_id, content) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare fts_content insert: %w", err)
	}
	defer ftsContentStmt.Close()

	ftsSymbolStmt, err := b.tx.Prepare(`INSERT INTO fts_symbol(node_id, name) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare fts_symbol insert: %w", err)
	}
	defer ftsSymbolStmt.Close()

	for _, n := range nodes {
		res, err := nodeStmt.Exec(meta.Path, n.NodeType, n.Name, n.Parent, n.Qualifier,
			n.SpanStart, n.SpanEnd, n.LineStart, n.LineEnd, n.Tokens, n.HandleID)
		if err != nil {
			return fmt.Errorf("store: insert node %s: %w", n.HandleID, err)
		}
		nodeID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("store: node id %s: %w", n.HandleID, err)
		}
		if n.Content != "" {
			if _, err := ftsContentStmt.Exec(nodeID, n.Content); err != nil {
				return fmt.Errorf("store: index fts_content %s: %w", n.HandleID, err)
			}
		}
		if n.Name != "" {
			if _, err := ftsSymbolStmt.Exec(nodeID, n.Name); err != nil {
				return fmt.Errorf("store: index fts_symbol %s: %w", n.HandleID, err)
			}
		}
	}

	refStmt, err := b.tx.Prepare(
		`INSERT INTO refs(file_path, span_start, span_end, line_start, line_end, name, qualifier, ref_type, source_handle_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare ref insert: %w", err)
	}
	defer refStmt.Close()

	for _, r := range refs {
		if _, err := refStmt.Exec(meta.Path, r.SpanStart, r.SpanEnd, r.LineStart, r.LineEnd,
			r.Name, r.Qualifier, r.RefType, r.SourceHandleID); err != nil {
			return fmt.Errorf("store: insert ref %s: %w", r.Name, err)
		}
	}

	b.nFiles++
	b.touched = append(b.touched, meta.Path)
	return nil
}

// RemoveFile deletes a file and (via ON DELETE CASCADE) its nodes/refs. FTS
// rows are cleaned up explicitly since fts5 content isn't a foreign-key
// child of nodes.
func (b *Batch) RemoveFile(path string) error {
	if err := b.clearFileRows(path); err != nil {
		return err
	}
	if _, err := b.tx.Exec(`DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("store: delete file %s: %w", path, err)
	}
	b.nFiles++
	b.removed = append(b.removed, path)
	return nil
}

func (b *Batch) clearFileRows(path string) error {
	rows, err := b.tx.Query(`SELECT id FROM nodes WHERE file_path = ?`, path)
	if err != nil {
		return fmt.Errorf("store: select stale nodes %s: %w", path, err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if _, err := b.tx.Exec(`DELETE FROM fts_content WHERE node_id = ?`, id); err != nil {
			return fmt.Errorf("store: clear fts_content for node %d: %w", id, err)
		}
		if _, err := b.tx.Exec(`DELETE FROM fts_symbol WHERE node_id = ?`, id); err != nil {
			return fmt.Errorf("store: clear fts_symbol for node %d: %w", id, err)
		}
	}
	if _, err := b.tx.Exec(`DELETE FROM nodes WHERE file_path = ?`, path); err != nil {
		return fmt.Errorf("store: clear nodes %s: %w", path, err)
	}
	if _, err := b.tx.Exec(`DELETE FROM refs WHERE file_path = ?`, path); err != nil {
		return fmt.Errorf("store: clear refs %s: %w", path, err)
	}
	return nil
}

// Full reports whether the batch has reached MaxFilesPerTx and should be
// committed before more files are staged.
func (b *Batch) Full() bool { return b.nFiles >= MaxFilesPerTx }

// Touched returns the file paths upserted so far this batch, for the
// caller to apply as a symbol-cache delta after Commit succeeds.
func (b *Batch) Touched() []string { return b.touched }

// Removed returns the file paths deleted so far this batch.
func (b *Batch) Removed() []string { return b.removed }

// Commit finalizes the transaction and releases the writer lock.
func (b *Batch) Commit() error {
	defer b.s.writeMu.Unlock()
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("store: commit batch: %w", err)
	}
	return nil
}

// Abort rolls back the transaction and releases the writer lock. Safe to
// call after a failed Commit only if Commit itself did not already release
// the lock; callers should treat Commit and Abort as mutually exclusive.
func (b *Batch) Abort() error {
	defer b.s.writeMu.Unlock()
	if err := b.tx.Rollback(); err != nil {
		return fmt.Errorf("store: abort batch: %w", err)
	}
	return nil
}
