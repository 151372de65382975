package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Backup writes a consistent copy of the database to destPath using
// VACUUM INTO, which handles WAL mode correctly, and verifies the copy with
// PRAGMA integrity_check. destPath must not exist.
func (s *TreeStore) Backup(ctx context.Context, destPath string) error {
	if destPath == "" {
		return fmt.Errorf("sqlite: backup path is required")
	}
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("sqlite: backup target %s already exists", destPath)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("sqlite: failed to create backup directory: %w", err)
	}

	// VACUUM INTO does not accept a bind parameter for the file name.
	quoted := "'" + strings.ReplaceAll(destPath, "'", "''") + "'"
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO "+quoted); err != nil {
		return fmt.Errorf("sqlite: failed to back up database: %w", err)
	}

	if err := verifyBackup(ctx, destPath); err != nil {
		_ = os.Remove(destPath)
		return err
	}
	return nil
}

// verifyBackup runs SQLite's integrity check against the file at path.
func verifyBackup(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("sqlite: failed to open backup: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("sqlite: failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("sqlite: backup integrity check failed: %s", result)
	}
	return nil
}
