package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of SnapshotStore.
//
// Designed for:
//   - Production deployments requiring durable snapshots
//   - Multiple processes sharing one snapshot database
//   - Audit trails over completed runs
//
// MySQLStore uses connection pooling and transactional whole-run
// replacement, mirroring the SQLite backend's schema.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore creates a new MySQL-backed snapshot store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// parseTime=true is required so TIMESTAMP columns scan into time.Time:
//
//	user:password@tcp(localhost:3306)/flowgraph?parseTime=true
//
// Security warning: never hardcode credentials. Read the DSN from the
// environment:
//
//	dsn := os.Getenv("MYSQL_DSN")
//	snaps, err := store.NewMySQLStore(dsn)
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS flow_runs (
			run_id VARCHAR(64) PRIMARY KEY,
			state VARCHAR(32) NOT NULL,
			query TEXT NOT NULL,
			saved_at TIMESTAMP NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create flow_runs table: %w", err)
	}

	nodesTable := `
		CREATE TABLE IF NOT EXISTS flow_nodes (
			run_id VARCHAR(64) NOT NULL,
			node_id VARCHAR(64) NOT NULL,
			node_key VARCHAR(255) NOT NULL,
			seq INT NOT NULL,
			status VARCHAR(32) NOT NULL,
			task JSON NOT NULL,
			result JSON,
			result_err TEXT,
			pause_reason JSON,
			attempts INT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NULL,
			started_at TIMESTAMP NULL,
			completed_at TIMESTAMP NULL,
			PRIMARY KEY (run_id, node_id),
			INDEX idx_flow_nodes_run (run_id, seq)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, nodesTable); err != nil {
		return fmt.Errorf("failed to create flow_nodes table: %w", err)
	}

	edgesTable := `
		CREATE TABLE IF NOT EXISTS flow_edges (
			run_id VARCHAR(64) NOT NULL,
			from_id VARCHAR(64) NOT NULL,
			to_id VARCHAR(64) NOT NULL,
			PRIMARY KEY (run_id, from_id, to_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, edgesTable); err != nil {
		return fmt.Errorf("failed to create flow_edges table: %w", err)
	}
	return nil
}

// SaveSnapshot replaces the run's snapshot in a single transaction.
func (m *MySQLStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	tx, err := m.db.BeginTx(ctx, nil)
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
				(run_id, node_id, node_key, seq, status, task, result, result_err, pause_reason, attempts, created_at, started_at, completed_at)
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
func (m *MySQLStore) LoadSnapshot(ctx context.Context, runID string) (Snapshot, error) {
	snap := Snapshot{RunID: runID}

	row := m.db.QueryRowContext(ctx,
		"SELECT state, query, saved_at FROM flow_runs WHERE run_id = ?", runID)
	if err := row.Scan(&snap.State, &snap.Query, &snap.SavedAt); err != nil {
		if err == sql.ErrNoRows {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("failed to load run: %w", err)
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT node_id, node_key, status, task, result, result_err, pause_reason, attempts, created_at, started_at, completed_at
		 FROM flow_nodes WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		n := NodeRecord{RunID: runID}
		var task string
		var result, resultErr, pause sql.NullString
		var created, started, completed sql.NullTime
		if err := rows.Scan(&n.NodeID, &n.Key, &n.Status, &task, &result, &resultErr, &pause, &n.Attempts, &created, &started, &completed); err != nil {
			return Snapshot{}, fmt.Errorf("failed to scan node: %w", err)
		}
		if created.Valid {
			n.CreatedAt = created.Time
		}
		n.Task = []byte(task)
		if result.Valid {
			n.Result = []byte(result.String)
		}
		if resultErr.Valid {
			n.ResultErr = resultErr.String
		}
		if pause.Valid {
			n.PauseReason = []byte(pause.String)
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

	edgeRows, err := m.db.QueryContext(ctx,
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
func (m *MySQLStore) DeleteSnapshot(ctx context.Context, runID string) error {
	tx, err := m.db.BeginTx(ctx, nil)
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
func (m *MySQLStore) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT run_id FROM flow_runs ORDER BY run_id")
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
func (m *MySQLStore) Close() error {
	return m.db.Close()
}
