package jsonl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/scrypster/metacluster/internal/storage"
	"github.com/scrypster/metacluster/pkg/types"
)

const runInfoFileName = "run.json"

var runIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// TreeStore keeps each run in its own directory:
//
//	<dir>/<runID>/meta_clusters.jsonl
//	<dir>/<runID>/run.json
type TreeStore struct {
	dir string
	mu  sync.Mutex
}

var _ storage.TreeStore = (*TreeStore)(nil)

// NewTreeStore creates the store directory if needed.
func NewTreeStore(dir string) (*TreeStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: jsonl store directory is required", storage.ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jsonl: failed to create store directory: %w", err)
	}
	return &TreeStore{dir: dir}, nil
}

func (s *TreeStore) runDir(runID string) (string, error) {
	if !runIDPattern.MatchString(runID) || runID == "." || runID == ".." {
		return "", fmt.Errorf("%w: run ID %q must match %s", storage.ErrInvalidInput, runID, runIDPattern)
	}
	return filepath.Join(s.dir, runID), nil
}

// SaveTree writes the checkpoint and run metadata for runID.
func (s *TreeStore) SaveTree(ctx context.Context, runID string, tree *types.Tree) error {
	if err := storage.ValidateSave(runID, tree); err != nil {
		return err
	}
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("jsonl: failed to create run directory: %w", err)
	}
	if err := WriteTreeFile(filepath.Join(dir, TreeFileName), tree); err != nil {
		return err
	}

	info := storage.NewRunInfo(runID, tree)
	return writeFileAtomic(filepath.Join(dir, runInfoFileName), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	})
}

// LoadTree reads the checkpoint saved under runID.
func (s *TreeStore) LoadTree(ctx context.Context, runID string) (*types.Tree, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := readRunInfo(dir)
	if err != nil {
		return nil, err
	}
	tree, err := ReadTreeFile(filepath.Join(dir, TreeFileName))
	if err != nil {
		return nil, err
	}
	tree.Rounds = info.Rounds
	tree.Degraded = info.Degraded
	tree.DegradedReason = info.DegradedReason
	return tree, nil
}

// DeleteRun removes the run directory.
func (s *TreeStore) DeleteRun(ctx context.Context, runID string) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(filepath.Join(dir, runInfoFileName)); errors.Is(err, fs.ErrNotExist) {
		return storage.ErrNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("jsonl: failed to delete run %s: %w", runID, err)
	}
	return nil
}

// ListRuns returns every run with readable metadata, most recent first.
// Directories without run.json are skipped.
func (s *TreeStore) ListRuns(ctx context.Context) ([]storage.RunInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("jsonl: failed to list runs: %w", err)
	}

	var runs []storage.RunInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := readRunInfo(filepath.Join(s.dir, e.Name()))
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		runs = append(runs, info)
	}

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

// Close is a no-op; the store holds no open handles.
func (s *TreeStore) Close() error { return nil }

func readRunInfo(dir string) (storage.RunInfo, error) {
	var info storage.RunInfo
	data, err := os.ReadFile(filepath.Join(dir, runInfoFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return info, storage.ErrNotFound
	}
	if err != nil {
		return info, fmt.Errorf("jsonl: %w", err)
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("jsonl: %s: %w", filepath.Join(dir, runInfoFileName), err)
	}
	return info, nil
}

// writeFileAtomic writes through fn into a temporary sibling of path and
// renames it into place once fn and the close succeed.
func writeFileAtomic(path string, fn func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("jsonl: failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("jsonl: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if err := fn(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("jsonl: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("jsonl: failed to rename into place: %w", err)
	}
	return nil
}
