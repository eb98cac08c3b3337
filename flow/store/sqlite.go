package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of SnapshotStore.
//
// It stores run snapshots in a single-file database. Designed for:
//   - Development and testing with zero setup
//   - Single-process deployments needing persistence across restarts
//
// SQLiteStore uses WAL mode for concurrent reads and transactional
// snapshot replacement.
//
// Schema:
//   - flow_runs: one row per run (state, query, saved_at)
//   - flow_nodes: one row per node (status, task, result, timestamps)
//   - flow_edges: one row per dependency edge
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a new SQLite-backed snapshot store.
//
// The path parameter specifies the database file location:
//   - "./runs.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// The store creates the database file and schema on first use and
// enables WAL mode so readers do not block the writer.
//
// Example:
//
//	snaps, err := store.NewSQLiteStore("./runs.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer snaps.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS flow_runs (
			run_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			query TEXT NOT NULL DEFAULT '',
			saved_at TIMESTAMP NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create flow_runs table: %w", err)
	}

	nodesTable := `
		CREATE TABLE IF NOT EXISTS flow_nodes (
			run_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			key TEXT NOT NULL,
			seq INTEGER NOT NULL,
			status TEXT NOT NULL,
			task TEXT NOT NULL,
			result TEXT,
			result_err TEXT NOT NULL DEFAULT '',
			pause_reason TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			PRIMARY KEY (run_id, node_id)
		)
	`
	if _, err := s.db.ExecContext(ctx, nodesTable); err != nil {
		return fmt.Errorf("failed to create flow_nodes table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_flow_nodes_run ON flow_nodes(run_id, seq)"); err != nil {
		return fmt.Errorf("failed to create idx_flow_nodes_run: %w", err)
	}

	edgesTable := `
		CREATE TABLE IF NOT EXISTS flow_edges (
			run_id TEXT NOT NULL,
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			PRIMARY KEY (run_id, from_id, to_id)
		)
	`
	if _, err := s.db.ExecContext(ctx, edgesTable); err != nil {
		return fmt.Errorf("failed to create flow_edges table: %w", err)
	}
	return nil
}

// SaveSnapshot replaces the run's snapshot in a single transaction.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		"DELETE FROM flow_nodes WHERE run_id = ?",
		"DELETE FROM flow_edges WHERE run_id = ?",
		"DELETE FROM flow_runs WHERE run_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, snap.RunID); err != nil {
			return fmt.Errorf("failed to clear previous snapshot: %w", err)
		}
	}

	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO flow_runs (run_id, state, query, saved_at) VALUES (?, ?, ?, ?)",
		snap.RunID, snap.State, snap.Query, savedAt,
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for seq, n := range snap.Nodes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO flow_nodes
				(run_id, node_id, key, seq, status, task, result, result_err, pause_reason, attempts, created_at, started_at, completed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.RunID, n.NodeID, n.Key, seq, n.Status,
			string(n.Task), nullableJSON(n.Result), n.ResultErr, nullableJSON(n.PauseReason),
			n.Attempts, nullableTime(n.CreatedAt), nullableTime(n.StartedAt), nullableTime(n.CompletedAt),
		); err != nil {
			return fmt.Errorf("failed to insert node %s: %w", n.Key, err)
		}
	}

	for _, e := range snap.Edges {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO flow_edges (run_id, from_id, to_id) VALUES (?, ?, ?)",
			snap.RunID, e.FromID, e.ToID,
		); err != nil {
			return fmt.Errorf("failed to insert edge %s->%s: %w", e.FromID, e.ToID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads back the run's snapshot, or ErrNotFound.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, runID string) (Snapshot, error) {
	snap := Snapshot{RunID: runID}

	row := s.db.QueryRowContext(ctx,
		"SELECT state, query, saved_at FROM flow_runs WHERE run_id = ?", runID)
	if err := row.Scan(&snap.State, &snap.Query, &snap.SavedAt); err != nil {
		if err == sql.ErrNoRows {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("failed to load run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, key, status, task, result, result_err, pause_reason, attempts, created_at, started_at, completed_at
		 FROM flow_nodes WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		n := NodeRecord{RunID: runID}
		var task string
		var result, pause sql.NullString
		var created, started, completed sql.NullTime
		if err := rows.Scan(&n.NodeID, &n.Key, &n.Status, &task, &result, &n.ResultErr, &pause, &n.Attempts, &created, &started, &completed); err != nil {
			return Snapshot{}, fmt.Errorf("failed to scan node: %w", err)
		}
		n.Task = []byte(task)
		if result.Valid {
			n.Result = []byte(result.String)
		}
		if pause.Valid {
			n.PauseReason = []byte(pause.String)
		}
		if created.Valid {
			n.CreatedAt = created.Time
		}
		if started.Valid {
			n.StartedAt = started.Time
		}
		if completed.Valid {
			n.CompletedAt = completed.Time
		}
		snap.Nodes = append(snap.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("failed to iterate nodes: %w", err)
	}

	edgeRows, err := s.db.QueryContext(ctx,
		"SELECT from_id, to_id FROM flow_edges WHERE run_id = ?", runID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load edges: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		e := EdgeRecord{RunID: runID}
		if err := edgeRows.Scan(&e.FromID, &e.ToID); err != nil {
			return Snapshot{}, fmt.Errorf("failed to scan edge: %w", err)
		}
		snap.Edges = append(snap.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("failed to iterate edges: %w", err)
	}

	return snap, nil
}

// DeleteSnapshot removes the run's snapshot.
func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		"DELETE FROM flow_nodes WHERE run_id = ?",
		"DELETE FROM flow_edges WHERE run_id = ?",
		"DELETE FROM flow_runs WHERE run_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, runID); err != nil {
			return fmt.Errorf("failed to delete snapshot: %w", err)
		}
	}
	return tx.Commit()
}

// ListRuns returns every persisted run ID, sorted.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT run_id FROM flow_runs ORDER BY run_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
