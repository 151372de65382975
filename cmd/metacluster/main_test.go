package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/metacluster/internal/config"
	"github.com/scrypster/metacluster/internal/llm"
	"github.com/scrypster/metacluster/internal/storage/jsonl"
	"github.com/scrypster/metacluster/internal/storage/storagetest"
	"github.com/scrypster/metacluster/pkg/types"
)

// oneGroupGenerator proposes a single group and assigns every cluster to it.
type oneGroupGenerator struct{}

func (oneGroupGenerator) GetModel() string { return "fake" }

func (oneGroupGenerator) GenerateStructured(_ context.Context, req llm.StructuredRequest, out any) error {
	switch req.Name {
	case "ProposedGroups":
		*out.(*llm.GroupProposalResponse) = llm.GroupProposalResponse{
			Groups: []llm.GroupResponse{{Name: "Everything", Description: "All conversations."}},
		}
	case "ParentChoice":
		*out.(*llm.ParentChoiceResponse) = llm.ParentChoiceResponse{ParentName: "Everything"}
	default:
		return fmt.Errorf("%w: unexpected request %q", llm.ErrTransport, req.Name)
	}
	return nil
}

func writeBase(t *testing.T, dir string, n int) string {
	t.Helper()
	path := filepath.Join(dir, "clusters.jsonl")
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := 0; i < n; i++ {
		require.NoError(t, enc.Encode(types.BaseCluster{
			ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("base-%d", i))).String(),
			Name:        fmt.Sprintf("Cluster %d", i),
			Description: "A base cluster.",
			MemberIDs:   []string{fmt.Sprintf("conv-%d", i)},
		}))
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func testApp(t *testing.T, engine string) *app {
	t.Helper()
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	cfg.Storage.Engine = engine
	cfg.Storage.DataPath = t.TempDir()
	cfg.Engine.MaxClusters = 1
	return &app{cfg: cfg, logger: zerolog.Nop()}
}

func TestRunReduce(t *testing.T) {
	dir := t.TempDir()
	a := testApp(t, "sqlite")
	o := &reduceOptions{
		basePath:  writeBase(t, dir, 6),
		outPath:   filepath.Join(dir, "meta_clusters.jsonl"),
		tracePath: filepath.Join(dir, "trace.jsonl"),
		runID:     "run-test",
		maxRounds: -1,
	}

	var out bytes.Buffer
	require.NoError(t, runReduce(context.Background(), a, o, oneGroupGenerator{}, nil, &out))

	assert.Contains(t, out.String(), "Run:      run-test")
	assert.Contains(t, out.String(), "Roots:    1")
	assert.Contains(t, out.String(), "Rounds:   1")

	tree, err := jsonl.ReadTreeFile(o.outPath)
	require.NoError(t, err)
	require.Len(t, tree.RootIDs, 1)
	root, _ := tree.Get(tree.RootIDs[0])
	assert.Equal(t, "Everything", root.Name)
	assert.Equal(t, 6, root.Count())

	store, err := a.openStore(context.Background())
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-test", runs[0].ID)

	f, err := os.Open(o.tracePath)
	require.NoError(t, err)
	defer f.Close()
	kinds := map[string]int{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e struct {
			Kind string `json:"kind"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		kinds[e.Kind]++
	}
	assert.Equal(t, 1, kinds["round_started"])
	assert.Equal(t, 6, kinds["cluster_resolved"])
	assert.Equal(t, 1, kinds["parent_created"])
}

func TestRunReduce_NoStore(t *testing.T) {
	dir := t.TempDir()
	a := testApp(t, "jsonl")
	o := &reduceOptions{basePath: writeBase(t, dir, 3), noStore: true, maxRounds: -1}

	var out bytes.Buffer
	require.NoError(t, runReduce(context.Background(), a, o, oneGroupGenerator{}, nil, &out))
	assert.NotContains(t, out.String(), "Run:")

	entries, err := os.ReadDir(a.cfg.Storage.DataPath)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunReduce_MaxRoundsZeroIsDegraded(t *testing.T) {
	dir := t.TempDir()
	a := testApp(t, "jsonl")
	o := &reduceOptions{basePath: writeBase(t, dir, 3), noStore: true, maxRounds: 0}

	var out bytes.Buffer
	require.NoError(t, runReduce(context.Background(), a, o, oneGroupGenerator{}, nil, &out))
	assert.Contains(t, out.String(), "Roots:    3")
	assert.Contains(t, out.String(), "Degraded: "+types.DegradedMaxRounds)
}

func TestRunReduce_MissingBase(t *testing.T) {
	a := testApp(t, "jsonl")
	o := &reduceOptions{basePath: filepath.Join(t.TempDir(), "missing.jsonl"), maxRounds: -1}
	err := runReduce(context.Background(), a, o, oneGroupGenerator{}, nil, &bytes.Buffer{})
	assert.Error(t, err)
}

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd_TreeAndRuns(t *testing.T) {
	dataPath := t.TempDir()
	t.Setenv("METACLUSTER_STORAGE_ENGINE", "jsonl")
	t.Setenv("METACLUSTER_DATA_PATH", dataPath)

	store, err := jsonl.NewTreeStore(filepath.Join(dataPath, "runs"))
	require.NoError(t, err)
	require.NoError(t, store.SaveTree(context.Background(), "run-1", storagetest.SampleTree()))

	out, err := executeRoot(t, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, types.DegradedMaxRounds)

	out, err = executeRoot(t, "tree", "--run-id", "run-1")
	require.NoError(t, err)
	assert.Contains(t, out, "2 roots, 5 conversations, 1 rounds")
	assert.Contains(t, out, "Billing (4)\n  Refunds (2)")
	assert.Contains(t, out, "Other* (1)\n  Poetry (1)")

	_, err = executeRoot(t, "runs", "delete", "run-1")
	require.NoError(t, err)
	out, err = executeRoot(t, "runs", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "run-1")

	_, err = executeRoot(t, "runs", "delete", "run-1")
	assert.Error(t, err)
}

func TestRootCmd_TreeFlags(t *testing.T) {
	t.Setenv("METACLUSTER_DATA_PATH", t.TempDir())

	_, err := executeRoot(t, "tree")
	assert.Error(t, err)
	_, err = executeRoot(t, "tree", "--in", "a", "--run-id", "b")
	assert.Error(t, err)
	_, err = executeRoot(t, "--store", "cassandra", "runs", "list")
	assert.Error(t, err)
}

func TestPrintTree_Depth(t *testing.T) {
	var buf bytes.Buffer
	printTree(&buf, storagetest.SampleTree(), 0)
	full := buf.String()
	assert.Equal(t, 8, strings.Count(full, "\n"))

	buf.Reset()
	printTree(&buf, storagetest.SampleTree(), 1)
	assert.Equal(t, full, buf.String())

	tree := storagetest.SampleTree()
	buf.Reset()
	printTree(&buf, tree, 0)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "Billing (4)", lines[2])
	assert.Equal(t, "  Refunds (2)", lines[3])
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("loud", &bytes.Buffer{})
	assert.Error(t, err)

	var buf bytes.Buffer
	logger, err := newLogger("WARN", &buf)
	require.NoError(t, err)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestRootCmd_Backup(t *testing.T) {
	dataPath := t.TempDir()
	t.Setenv("METACLUSTER_DATA_PATH", dataPath)

	_, err := executeRoot(t, "--store", "jsonl", "runs", "backup", filepath.Join(dataPath, "copy.db"))
	assert.Error(t, err, "jsonl store has no backup")

	dest := filepath.Join(t.TempDir(), "copy.db")
	_, err = executeRoot(t, "--store", "sqlite", "runs", "backup", dest)
	require.NoError(t, err)
	_, err = os.Stat(dest)
	assert.NoError(t, err)
}

// lockedBuffer is a bytes.Buffer safe for a writer goroutine and a reader.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchAndReduce(t *testing.T) {
	dir := t.TempDir()
	a := testApp(t, "jsonl")
	o := &reduceOptions{basePath: writeBase(t, dir, 3), noStore: true, maxRounds: -1}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out lockedBuffer
	done := make(chan error, 1)
	go func() { done <- watchAndReduce(ctx, a, o, oneGroupGenerator{}, nil, &out) }()

	// Give fsnotify a moment to register
	time.Sleep(100 * time.Millisecond)
	writeBase(t, dir, 5)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Clusters: 6")
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watchAndReduce did not stop")
	}
}
