package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// GetFileMeta fetches the metadata row for path, or (FileMeta{}, false) if
// the file is not indexed.
func (s *Store) GetFileMeta(path string) (FileMeta, bool, error) {
	var m FileMeta
	err := s.db.QueryRow(`SELECT path, mtime, size, hash, last_gen FROM files WHERE path = ?`, path).
		Scan(&m.Path, &m.MTime, &m.Size, &m.Hash, &m.LastGen)
	if err == sql.ErrNoRows {
		return FileMeta{}, false, nil
	}
	if err != nil {
		return FileMeta{}, false, fmt.Errorf("store: get file meta %s: %w", path, err)
	}
	return m, true, nil
}

// BatchLoadMetadata fetches metadata rows for many paths in one query, used
// by the pipeline's skip policy to avoid one round trip per candidate file.
func (s *Store) BatchLoadMetadata(paths []string) (map[string]FileMeta, error) {
	out := make(map[string]FileMeta, len(paths))
	if len(paths) == 0 {
		return out, nil
	}
	const chunkSize = 500
	for start := 0; start < len(paths); start += chunkSize {
		end := start + chunkSize
		if end > len(paths) {
			end = len(paths)
		}
		chunk := paths[start:end]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, p := range chunk {
			args[i] = p
		}
		rows, err := s.db.Query(
			fmt.Sprintf(`SELECT path, mtime, size, hash, last_gen FROM files WHERE path IN (%s)`, placeholders),
			args...)
		if err != nil {
			return nil, fmt.Errorf("store: batch load metadata: %w", err)
		}
		for rows.Next() {
			var m FileMeta
			if err := rows.Scan(&m.Path, &m.MTime, &m.Size, &m.Hash, &m.LastGen); err != nil {
				rows.Close()
				return nil, err
			}
			out[m.Path] = m
		}
		rows.Close()
	}
	return out, nil
}

// ExactSymbol returns every node whose name matches exactly, optionally
// narrowed to Filter.Paths.
func (s *Store) ExactSymbol(name string, f Filter) ([]NodeRow, error) {
	if len(f.Paths) == 0 {
		return s.queryNodes(`SELECT file_path, node_type, name, parent, qualifier, span_start, span_end, line_start, line_end, tokens, handle_id
			FROM nodes WHERE name = ?`, name)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Paths)), ",")
	args := make([]any, 0, len(f.Paths)+1)
	args = append(args, name)
	for _, p := range f.Paths {
		args = append(args, p)
	}
	q := fmt.Sprintf(`SELECT file_path, node_type, name, parent, qualifier, span_start, span_end, line_start, line_end, tokens, handle_id
		FROM nodes WHERE name = ? AND file_path IN (%s)`, placeholders)
	return s.queryNodes(q, args...)
}

// SearchText runs an FTS5 match against node content, returning node rows
// ranked by bm25, optionally narrowed to Filter.Paths.
func (s *Store) SearchText(matchQuery string, limit int, f Filter) ([]NodeRow, error) {
	base := `SELECT n.file_path, n.node_type, n.name, n.parent, n.qualifier, n.span_start, n.span_end, n.line_start, n.line_end, n.tokens, n.handle_id
		FROM fts_content fc JOIN nodes n ON n.id = fc.node_id
		WHERE fc.content MATCH ?`
	args := []any{matchQuery}
	if len(f.Paths) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Paths)), ",")
		base += fmt.Sprintf(" AND n.file_path IN (%s)", placeholders)
		for _, p := range f.Paths {
			args = append(args, p)
		}
	}
	base += " ORDER BY bm25(fts_content) LIMIT ?"
	args = append(args, limit)
	return s.queryNodes(base, args...)
}

// SearchSymbolFTS runs an FTS5 match against node names, for the fuzzy
// symbol lookup path when ExactSymbol misses.
func (s *Store) SearchSymbolFTS(matchQuery string, limit int, f Filter) ([]NodeRow, error) {
	base := `SELECT n.file_path, n.node_type, n.name, n.parent, n.qualifier, n.span_start, n.span_end, n.line_start, n.line_end, n.tokens, n.handle_id
		FROM fts_symbol fs JOIN nodes n ON n.id = fs.node_id
		WHERE fs.name MATCH ?`
	args := []any{matchQuery}
	if len(f.Paths) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Paths)), ",")
		base += fmt.Sprintf(" AND n.file_path IN (%s)", placeholders)
		for _, p := range f.Paths {
			args = append(args, p)
		}
	}
	base += " ORDER BY bm25(fts_symbol) LIMIT ?"
	args = append(args, limit)
	return s.queryNodes(base, args...)
}

// AllSymbolNames returns every distinct node name, for the fuzzy "did you
// mean" edit-distance pass when both exact and FTS symbol lookups miss.
func (s *Store) AllSymbolNames() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT name FROM nodes WHERE name IS NOT NULL AND name != ''`)
	if err != nil {
		return nil, fmt.Errorf("store: list symbol names: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, nil
}

// RefsOf returns references to name, optionally narrowed to Filter.Paths.
func (s *Store) RefsOf(name string, f Filter) ([]RefRow, error) {
	base := `SELECT file_path, span_start, span_end, line_start, line_end, name, qualifier, ref_type, source_handle_id
		FROM refs WHERE name = ?`
	args := []any{name}
	if len(f.Paths) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Paths)), ",")
		base += fmt.Sprintf(" AND file_path IN (%s)", placeholders)
		for _, p := range f.Paths {
			args = append(args, p)
		}
	}
	rows, err := s.db.Query(base, args...)
	if err != nil {
		return nil, fmt.Errorf("store: refs of %s: %w", name, err)
	}
	defer rows.Close()
	var out []RefRow
	for rows.Next() {
		var r RefRow
		var qualifier, source sql.NullString
		if err := rows.Scan(&r.FilePath, &r.SpanStart, &r.SpanEnd, &r.LineStart, &r.LineEnd, &r.Name, &qualifier, &r.RefType, &source); err != nil {
			return nil, err
		}
		r.Qualifier = qualifier.String
		r.SourceHandleID = source.String
		out = append(out, r)
	}
	return out, nil
}

// NodesInFile returns every node defined in path, ordered by span start.
func (s *Store) NodesInFile(path string) ([]NodeRow, error) {
	return s.queryNodes(`SELECT file_path, node_type, name, parent, qualifier, span_start, span_end, line_start, line_end, tokens, handle_id
		FROM nodes WHERE file_path = ? ORDER BY span_start`, path)
}

// NodesByParentName returns every node whose parent field equals parent,
// across all files (or narrowed to Filter.Paths), for the query algebra's
// parent(name) primitive.
func (s *Store) NodesByParentName(parent string, f Filter) ([]NodeRow, error) {
	if len(f.Paths) == 0 {
		return s.queryNodes(`SELECT file_path, node_type, name, parent, qualifier, span_start, span_end, line_start, line_end, tokens, handle_id
			FROM nodes WHERE parent = ?`, parent)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Paths)), ",")
	args := make([]any, 0, len(f.Paths)+1)
	args = append(args, parent)
	for _, p := range f.Paths {
		args = append(args, p)
	}
	q := fmt.Sprintf(`SELECT file_path, node_type, name, parent, qualifier, span_start, span_end, line_start, line_end, tokens, handle_id
		FROM nodes WHERE parent = ? AND file_path IN (%s)`, placeholders)
	return s.queryNodes(q, args...)
}

// NodesByParentAndChildName returns nodes named child whose parent field
// equals parent, for the query algebra's children_named(parent, child)
// primitive — a qualified lookup like "AuthController.validate".
func (s *Store) NodesByParentAndChildName(parent, child string, f Filter) ([]NodeRow, error) {
	if len(f.Paths) == 0 {
		return s.queryNodes(`SELECT file_path, node_type, name, parent, qualifier, span_start, span_end, line_start, line_end, tokens, handle_id
			FROM nodes WHERE parent = ? AND name = ?`, parent, child)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Paths)), ",")
	args := make([]any, 0, len(f.Paths)+2)
	args = append(args, parent, child)
	for _, p := range f.Paths {
		args = append(args, p)
	}
	q := fmt.Sprintf(`SELECT file_path, node_type, name, parent, qualifier, span_start, span_end, line_start, line_end, tokens, handle_id
		FROM nodes WHERE parent = ? AND name = ? AND file_path IN (%s)`, placeholders)
	return s.queryNodes(q, args...)
}

// NodesByParent returns the direct named children of parent within path,
// for children_named() queries.
func (s *Store) NodesByParent(path, parent string) ([]NodeRow, error) {
	return s.queryNodes(`SELECT file_path, node_type, name, parent, qualifier, span_start, span_end, line_start, line_end, tokens, handle_id
		FROM nodes WHERE file_path = ? AND parent = ? ORDER BY span_start`, path, parent)
}

func (s *Store) queryNodes(query string, args ...any) ([]NodeRow, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query nodes: %w", err)
	}
	defer rows.Close()
	var out []NodeRow
	for rows.Next() {
		var n NodeRow
		var name, parent, qualifier sql.NullString
		if err := rows.Scan(&n.FilePath, &n.NodeType, &name, &parent, &qualifier,
			&n.SpanStart, &n.SpanEnd, &n.LineStart, &n.LineEnd, &n.Tokens, &n.HandleID); err != nil {
			return nil, err
		}
		n.Name = name.String
		n.Parent = parent.String
		n.Qualifier = qualifier.String
		out = append(out, n)
	}
	return out, nil
}

// GetContent slices the raw text of [start,end) out of a file's stored
// blob. SQLite's substr is 1-indexed and length-based, hence the +1/len
// arithmetic; this is canopy's memory-mapped read path in the sense that
// SQLite serves it straight out of the OS page cache via the mmap_size
// pragma set at Open, rather than canopy re-reading the file from disk.
func (s *Store) GetContent(path string, start, end int) (string, error) {
	var content string
	err := s.db.QueryRow(`SELECT substr(content, ?, ?) FROM file_blobs WHERE path = ?`,
		start+1, end-start, path).Scan(&content)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("store: no blob for %s: %w", path, sql.ErrNoRows)
	}
	if err != nil {
		return "", fmt.Errorf("store: get content %s[%d:%d]: %w", path, start, end, err)
	}
	return content, nil
}

// FullContent returns a file's entire stored blob.
func (s *Store) FullContent(path string) (string, error) {
	var content string
	err := s.db.QueryRow(`SELECT content FROM file_blobs WHERE path = ?`, path).Scan(&content)
	if err != nil {
		return "", fmt.Errorf("store: full content %s: %w", path, err)
	}
	return content, nil
}

// AllFilePaths returns every indexed file path, for full symbol-cache
// warm-up on Store open.
func (s *Store) AllFilePaths() ([]string, error) {
	rows, err := s.db.Query(`SELECT path FROM files`)
	if err != nil {
		return nil, fmt.Errorf("store: all file paths: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
