package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"battlegate/internal/match"
	"battlegate/pkg/logger"
)

// Store persists finished match results to SQLite. It is best-effort
// analytics: a write failure is logged, never surfaced to the match path.
type Store struct {
	db     *sql.DB
	logger *logger.ColoredLogger
}

const schema = `
CREATE TABLE IF NOT EXISTS match_results (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	match_id    TEXT NOT NULL,
	mode        TEXT NOT NULL,
	format_id   TEXT NOT NULL,
	difficulty  INTEGER NOT NULL DEFAULT 0,
	winner      TEXT NOT NULL DEFAULT '',
	turns       INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	reason      TEXT NOT NULL,
	ended_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_match_results_ended_at ON match_results(ended_at);
CREATE INDEX IF NOT EXISTS idx_match_results_mode ON match_results(mode);
`

// Open creates or opens the history database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}

	s := &Store{db: db, logger: logger.HistoryLogger}
	s.logger.Info("Match history database ready at %s", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record writes one finished match. Fits the match.CloseHook signature so
// it can be handed straight to the coordinators.
func (s *Store) Record(res match.Result) {
	_, err := s.db.Exec(
		`INSERT INTO match_results (match_id, mode, format_id, difficulty, winner, turns, duration_ms, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.MatchID, res.Mode, res.FormatID, res.Difficulty,
		res.Winner, res.Turns, res.Duration.Milliseconds(), string(res.Reason),
	)
	if err != nil {
		s.logger.Error("Failed to record match %s: %v", res.MatchID, err)
		return
	}
	s.logger.Debug("Recorded match %s: winner=%q turns=%d reason=%s",
		res.MatchID, res.Winner, res.Turns, res.Reason)
}

// ResultRow is one persisted match result.
type ResultRow struct {
	MatchID    string    `json:"matchID"`
	Mode       string    `json:"mode"`
	FormatID   string    `json:"formatID"`
	Difficulty int       `json:"difficulty,omitempty"`
	Winner     string    `json:"winner"`
	Turns      int       `json:"turns"`
	DurationMS int64     `json:"durationMs"`
	Reason     string    `json:"reason"`
	EndedAt    time.Time `json:"endedAt"`
}

// RecentResults returns the most recent finished matches, newest first.
func (s *Store) RecentResults(limit int) ([]ResultRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT match_id, mode, format_id, difficulty, winner, turns, duration_ms, reason, ended_at
		 FROM match_results ORDER BY ended_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query match results: %w", err)
	}
	defer rows.Close()

	results := make([]ResultRow, 0, limit)
	for rows.Next() {
		var r ResultRow
		if err := rows.Scan(&r.MatchID, &r.Mode, &r.FormatID, &r.Difficulty,
			&r.Winner, &r.Turns, &r.DurationMS, &r.Reason, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("failed to scan match result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// HandleRecent serves GET /history/recent as JSON.
func (s *Store) HandleRecent(w http.ResponseWriter, r *http.Request) {
	results, err := s.RecentResults(50)
	if err != nil {
		s.logger.Error("History query failed: %v", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}
