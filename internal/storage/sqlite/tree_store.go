// Package sqlite provides a SQLite implementation of storage.TreeStore.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/metacluster/internal/storage"
	"github.com/scrypster/metacluster/pkg/types"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// TreeStore implements storage.TreeStore using SQLite.
type TreeStore struct {
	db *sql.DB
}

var _ storage.TreeStore = (*TreeStore)(nil)

// NewTreeStore opens (or creates) the database at dsn, configures WAL mode
// and applies pending migrations. Use ":memory:" for a throwaway store.
func NewTreeStore(ctx context.Context, dsn string) (*TreeStore, error) {
	if path := dbPathFromDSN(dsn); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer; a single connection
	// serialises writes and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	mgr, err := storage.NewMigrationManager(ctx, db, sub, storage.QuestionMark)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	if _, err := mgr.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to run migrations: %w", err)
	}

	return &TreeStore{db: db}, nil
}

// SaveTree stores tree under runID, replacing an earlier run with that ID.
func (s *TreeStore) SaveTree(ctx context.Context, runID string, tree *types.Tree) error {
	if err := storage.ValidateSave(runID, tree); err != nil {
		return err
	}
	info := storage.NewRunInfo(runID, tree)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM clusters WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("sqlite: failed to replace run %s: %w", runID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", runID); err != nil {
		return fmt.Errorf("sqlite: failed to replace run %s: %w", runID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, rounds, degraded, degraded_reason, root_count, cluster_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, info.ID, info.CreatedAt, info.Rounds, info.Degraded, info.DegradedReason, info.RootCount, info.ClusterCount)
	if err != nil {
		return fmt.Errorf("sqlite: failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO clusters (run_id, id, name, description, level, parent_id, synthetic, member_ids, child_ids, centroid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("sqlite: failed to prepare cluster insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range tree.Clusters {
		members, children, err := marshalIDs(c)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx, runID, c.ID, c.Name, c.Description, c.Level,
			nullableString(c.ParentID), c.Synthetic, members, children, storage.EncodeVector(c.Centroid))
		if err != nil {
			return fmt.Errorf("sqlite: failed to insert cluster %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit run %s: %w", runID, err)
	}
	return nil
}

// LoadTree returns the tree saved under runID.
func (s *TreeStore) LoadTree(ctx context.Context, runID string) (*types.Tree, error) {
	var info storage.RunInfo
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, rounds, degraded, degraded_reason, root_count, cluster_count
		FROM runs WHERE id = ?
	`, runID).Scan(&info.ID, &info.CreatedAt, &info.Rounds, &info.Degraded, &info.DegradedReason, &info.RootCount, &info.ClusterCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load run %s: %w", runID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, level, parent_id, synthetic, member_ids, child_ids, centroid
		FROM clusters WHERE run_id = ?
		ORDER BY level, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query clusters: %w", err)
	}
	defer rows.Close()

	var clusters []*types.Cluster
	for rows.Next() {
		var (
			c                 types.Cluster
			parent            sql.NullString
			members, children string
			centroid          []byte
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Level, &parent, &c.Synthetic, &members, &children, &centroid); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan cluster: %w", err)
		}
		if parent.Valid {
			p := parent.String
			c.ParentID = &p
		}
		if err := json.Unmarshal([]byte(members), &c.MemberIDs); err != nil {
			return nil, fmt.Errorf("sqlite: cluster %s member_ids: %w", c.ID, err)
		}
		if err := json.Unmarshal([]byte(children), &c.ChildIDs); err != nil {
			return nil, fmt.Errorf("sqlite: cluster %s child_ids: %w", c.ID, err)
		}
		if c.Centroid, err = storage.DecodeVector(centroid); err != nil {
			return nil, fmt.Errorf("sqlite: cluster %s centroid: %w", c.ID, err)
		}
		clusters = append(clusters, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to read clusters: %w", err)
	}

	tree := types.NewTree(clusters)
	tree.Rounds = info.Rounds
	tree.Degraded = info.Degraded
	tree.DegradedReason = info.DegradedReason
	return tree, nil
}

// DeleteRun removes the run saved under runID.
func (s *TreeStore) DeleteRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM clusters WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("sqlite: failed to delete clusters of run %s: %w", runID, err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", runID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to get rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return tx.Commit()
}

// ListRuns returns stored runs, most recent first.
func (s *TreeStore) ListRuns(ctx context.Context) ([]storage.RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, rounds, degraded, degraded_reason, root_count, cluster_count
		FROM runs ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []storage.RunInfo
	for rows.Next() {
		var r storage.RunInfo
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Rounds, &r.Degraded, &r.DegradedReason, &r.RootCount, &r.ClusterCount); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan run: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (s *TreeStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func marshalIDs(c *types.Cluster) (string, string, error) {
	members, err := json.Marshal(nonNil(c.MemberIDs))
	if err != nil {
		return "", "", fmt.Errorf("sqlite: cluster %s member_ids: %w", c.ID, err)
	}
	children, err := json.Marshal(nonNil(c.ChildIDs))
	if err != nil {
		return "", "", fmt.Errorf("sqlite: cluster %s child_ids: %w", c.ID, err)
	}
	return string(members), string(children), nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// dbPathFromDSN extracts the filesystem path from a SQLite DSN.
// Handles bare paths ("/path/to/db.sqlite") and file: URIs ("file:/path/to/db.sqlite?mode=rwc").
// Returns empty string for in-memory databases or unparseable DSNs.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}

	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" || u.Query().Get("mode") == "memory" {
			return ""
		}
		return path
	}

	return dsn
}
