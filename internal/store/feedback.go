package store

import "fmt"

// RecordQuery appends one feedback_query row and returns its id, so the
// caller can attach feedback_query_handle rows to it.
func (s *Store) RecordQuery(fingerprint, patternSummary, glob string, ts int64) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO feedback_query(fingerprint, pattern_summary, glob, ts) VALUES (?, ?, ?, ?)`,
		fingerprint, patternSummary, glob, ts)
	if err != nil {
		return 0, fmt.Errorf("store: record query feedback: %w", err)
	}
	return res.LastInsertId()
}

// RecordQueryHandle logs that handleID with the given nodeType surfaced in
// response to glob at queryID, feeding glob_hit_rate_at_k below.
func (s *Store) RecordQueryHandle(queryID int64, handleID, nodeType, glob string, ts int64) error {
	_, err := s.db.Exec(
		`INSERT INTO feedback_query_handle(query_id, handle_id, node_type, glob, ts) VALUES (?, ?, ?, ?, ?)`,
		queryID, handleID, nodeType, glob, ts)
	if err != nil {
		return fmt.Errorf("store: record query-handle feedback: %w", err)
	}
	return nil
}

// RecordExpand logs an expand_then_answer decision on handleID, and whether
// the agent went on to use the expanded content (accepted).
func (s *Store) RecordExpand(handleID string, accepted bool, ts int64) error {
	acc := 0
	if accepted {
		acc = 1
	}
	_, err := s.db.Exec(`INSERT INTO feedback_expand(handle_id, accepted, ts) VALUES (?, ?, ?)`, handleID, acc, ts)
	if err != nil {
		return fmt.Errorf("store: record expand feedback: %w", err)
	}
	return nil
}

// HandleExpandAcceptRate returns the Beta(1,1)-smoothed acceptance rate for
// handleID: (accepted+1)/(total+2). With no history this is exactly 0.5,
// a neutral prior that neither boosts nor penalizes an unseen handle in the
// evidence ranker's scoring formula.
func (s *Store) HandleExpandAcceptRate(handleID string) (float64, error) {
	var total, accepted int
	err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(accepted), 0) FROM feedback_expand WHERE handle_id = ?`,
		handleID).Scan(&total, &accepted)
	if err != nil {
		return 0.5, fmt.Errorf("store: expand accept rate %s: %w", handleID, err)
	}
	return (float64(accepted) + 1) / (float64(total) + 2), nil
}

// GlobHitRateAtK returns the add-one-smoothed rate at which nodeType
// results under glob have historically appeared in the top k of a result
// set, used by the evidence ranker (scoreHandle) to reweight a handle's
// score by how its node type has paid off under the query's glob. With no
// history for glob this is 0.5.
func (s *Store) GlobHitRateAtK(nodeType, glob string) (float64, error) {
	var total, hits int
	err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN node_type = ? THEN 1 ELSE 0 END), 0) FROM feedback_query_handle WHERE glob = ?`,
		nodeType, glob).Scan(&total, &hits)
	if err != nil {
		return 0.5, fmt.Errorf("store: glob hit rate %s/%s: %w", nodeType, glob, err)
	}
	if total == 0 {
		return 0.5, nil
	}
	return (float64(hits) + 1) / (float64(total) + 2), nil
}
