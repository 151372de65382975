// Package jsonl reads reduction input and writes reduction output as JSON
// Lines, and provides a directory-backed storage.TreeStore on top of the
// same format.
//
// Input files hold one types.BaseCluster or types.ConversationSummary per
// line. Output files (meta_clusters.jsonl) hold one types.Cluster per line,
// leaves first, ordered by level and then ID.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/scrypster/metacluster/pkg/types"
)

// maxLineBytes bounds a single line; centroids of large embedding models
// easily exceed bufio's 64 KiB default.
const maxLineBytes = 64 << 20

// TreeFileName is the conventional name of a checkpoint file.
const TreeFileName = "meta_clusters.jsonl"

// decodeLines calls fn with each non-blank line of r. Line numbers are 1-based.
func decodeLines(r io.Reader, fn func(line int, data []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		if err := fn(line, data); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("jsonl: read failed after line %d: %w", line, err)
	}
	return nil
}

// ReadBaseClusters decodes one BaseCluster per line. Clusters are not
// validated here; the reducer rejects invalid input as a whole.
func ReadBaseClusters(r io.Reader) ([]types.BaseCluster, error) {
	var out []types.BaseCluster
	err := decodeLines(r, func(line int, data []byte) error {
		var b types.BaseCluster
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("jsonl: line %d: %w", line, err)
		}
		out = append(out, b)
		return nil
	})
	return out, err
}

// ReadSummaries decodes one ConversationSummary per line.
func ReadSummaries(r io.Reader) ([]types.ConversationSummary, error) {
	var out []types.ConversationSummary
	err := decodeLines(r, func(line int, data []byte) error {
		var s types.ConversationSummary
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("jsonl: line %d: %w", line, err)
		}
		if s.ID == "" {
			return fmt.Errorf("jsonl: line %d: summary id is required", line)
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// ReadTree decodes a checkpoint file. Run metadata (rounds, degraded) is not
// part of the file and is left zero.
func ReadTree(r io.Reader) (*types.Tree, error) {
	var clusters []*types.Cluster
	err := decodeLines(r, func(line int, data []byte) error {
		var c types.Cluster
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("jsonl: line %d: %w", line, err)
		}
		clusters = append(clusters, &c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return types.NewTree(clusters), nil
}

// WriteTree encodes every cluster of tree, one per line, in tree order.
func WriteTree(w io.Writer, tree *types.Tree) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, c := range tree.Clusters {
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("jsonl: encode cluster %s: %w", c.ID, err)
		}
	}
	return bw.Flush()
}

// SummaryIndex maps conversation IDs to summary text.
type SummaryIndex map[string]string

// NewSummaryIndex indexes summaries by ID. Later duplicates win.
func NewSummaryIndex(summaries []types.ConversationSummary) SummaryIndex {
	idx := make(SummaryIndex, len(summaries))
	for _, s := range summaries {
		idx[s.ID] = s.Text
	}
	return idx
}

// Lookup returns the summary text for a conversation. It has the shape of
// engine.SummaryLookup.
func (idx SummaryIndex) Lookup(id string) (string, bool) {
	text, ok := idx[id]
	return text, ok
}

// ReadBaseClustersFile opens path and calls ReadBaseClusters.
func ReadBaseClustersFile(path string) ([]types.BaseCluster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("jsonl: %w", err)
	}
	defer f.Close()
	return ReadBaseClusters(f)
}

// ReadSummariesFile opens path and calls ReadSummaries.
func ReadSummariesFile(path string) ([]types.ConversationSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("jsonl: %w", err)
	}
	defer f.Close()
	return ReadSummaries(f)
}

// ReadTreeFile opens path and calls ReadTree.
func ReadTreeFile(path string) (*types.Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("jsonl: %w", err)
	}
	defer f.Close()
	return ReadTree(f)
}

// WriteTreeFile writes tree to path atomically: the data goes to a
// temporary file in the same directory which is then renamed over path.
func WriteTreeFile(path string, tree *types.Tree) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		return WriteTree(w, tree)
	})
}
