package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/scrypster/metacluster/internal/llm"
	"github.com/scrypster/metacluster/pkg/types"
)

// scriptedGenerator is a deterministic StructuredGenerator. Each request kind
// is answered by its own function; unset functions use the defaults below.
type scriptedGenerator struct {
	mu       sync.Mutex
	calls    map[string]int
	requests []llm.StructuredRequest

	propose    func(prompt string) (llm.GroupProposalResponse, error)
	resolve    func(ctx context.Context, prompt string) (llm.ParentChoiceResponse, error)
	synthesize func(prompt string) (llm.ParentSynthesisResponse, error)
}

func newScriptedGenerator() *scriptedGenerator {
	return &scriptedGenerator{
		calls:   make(map[string]int),
		propose: topicProposer,
		resolve: hashResolver,
	}
}

func (g *scriptedGenerator) GetModel() string { return "scripted" }

func (g *scriptedGenerator) GenerateStructured(ctx context.Context, req llm.StructuredRequest, out any) error {
	g.mu.Lock()
	g.calls[req.Name]++
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	switch req.Name {
	case "ProposedGroups":
		resp, err := g.propose(req.Prompt)
		if err != nil {
			return err
		}
		*out.(*llm.GroupProposalResponse) = resp
	case "ParentChoice":
		resp, err := g.resolve(ctx, req.Prompt)
		if err != nil {
			return err
		}
		*out.(*llm.ParentChoiceResponse) = resp
	case "ParentSynthesis":
		if g.synthesize == nil {
			return fmt.Errorf("%w: no synthesis script", llm.ErrTransport)
		}
		resp, err := g.synthesize(req.Prompt)
		if err != nil {
			return err
		}
		*out.(*llm.ParentSynthesisResponse) = resp
	default:
		return fmt.Errorf("unexpected request %q", req.Name)
	}
	return nil
}

func (g *scriptedGenerator) count(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[name]
}

// promptsFor returns the prompts of every ParentChoice request about cluster.
func (g *scriptedGenerator) promptsFor(cluster string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, r := range g.requests {
		if r.Name == "ParentChoice" && promptClusterName(r.Prompt) == cluster {
			out = append(out, r.Prompt)
		}
	}
	return out
}

var targetPattern = regexp.MustCompile(`TARGET: Roughly (\d+) groups`)

// topicProposer proposes "Topic 1".."Topic k" with k = min(target, clusters).
func topicProposer(prompt string) (llm.GroupProposalResponse, error) {
	target := 1
	if m := targetPattern.FindStringSubmatch(prompt); m != nil {
		target, _ = strconv.Atoi(m[1])
	}
	k := min(target, strings.Count(prompt, "<cluster>"))

	var resp llm.GroupProposalResponse
	for i := 1; i <= k; i++ {
		resp.Groups = append(resp.Groups, llm.GroupResponse{
			Name:        fmt.Sprintf("Topic %d", i),
			Description: fmt.Sprintf("Conversations about topic %d.", i),
		})
	}
	return resp, nil
}

// hashResolver picks a candidate from a hash of the cluster name.
func hashResolver(_ context.Context, prompt string) (llm.ParentChoiceResponse, error) {
	cands := promptCandidates(prompt)
	if len(cands) == 0 {
		return llm.ParentChoiceResponse{}, fmt.Errorf("%w: no candidates in prompt", llm.ErrMalformedOutput)
	}
	h := fnv.New32a()
	h.Write([]byte(promptClusterName(prompt)))
	return llm.ParentChoiceResponse{
		Reasoning:  "closest topic",
		ParentName: cands[int(h.Sum32()%uint32(len(cands)))],
	}, nil
}

func promptClusterName(prompt string) string {
	const marker = "<specific_cluster>\nName: "
	i := strings.Index(prompt, marker)
	if i < 0 {
		return ""
	}
	rest := prompt[i+len(marker):]
	if j := strings.IndexByte(rest, '\n'); j >= 0 {
		return rest[:j]
	}
	return rest
}

var numbered = regexp.MustCompile(`^\d+\. `)

func promptCandidates(prompt string) []string {
	const open, closing = "<higher_level_clusters>\n", "</higher_level_clusters>"
	i := strings.Index(prompt, open)
	j := strings.Index(prompt, closing)
	if i < 0 || j < i {
		return nil
	}
	var out []string
	for _, line := range strings.Split(prompt[i+len(open):j], "\n") {
		line = strings.TrimSuffix(strings.TrimPrefix(line, "<cluster>"), "</cluster>")
		line = numbered.ReplaceAllString(line, "")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// ownCentroid reads the centroid stored on the cluster itself.
func ownCentroid(c *types.Cluster) []float32 { return c.Centroid }

func leafID(i int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("leaf-%d", i))).String()
}

// makeBase returns n base clusters named "Cluster 01".. with two members each.
func makeBase(n int) []types.BaseCluster {
	base := make([]types.BaseCluster, n)
	for i := range base {
		base[i] = types.BaseCluster{
			ID:          leafID(i),
			Name:        fmt.Sprintf("Cluster %02d", i+1),
			Description: fmt.Sprintf("Users asked about subject %d.", i+1),
			MemberIDs:   []string{fmt.Sprintf("conv-%03d-a", i), fmt.Sprintf("conv-%03d-b", i)},
		}
	}
	return base
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CallTimeout = 2 * time.Second
	cfg.ConcurrencyLimit = 8
	return cfg
}

func newTestReducer(t *testing.T, gen llm.StructuredGenerator, cfg Config, opts Options) *Reducer {
	t.Helper()
	r, err := NewReducer(gen, cfg, opts)
	if err != nil {
		t.Fatalf("NewReducer: %v", err)
	}
	return r
}

// treeShape renders parent links and levels for comparison between runs.
func treeShape(tree *types.Tree) []string {
	out := make([]string, 0, len(tree.Clusters))
	for _, c := range tree.Clusters {
		parent := "-"
		if c.ParentID != nil {
			parent = *c.ParentID
		}
		out = append(out, fmt.Sprintf("%d %s %s %s <- %s", c.Level, c.ID, c.Name, parent, strings.Join(c.ChildIDs, ",")))
	}
	return out
}
