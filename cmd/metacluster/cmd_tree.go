package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scrypster/metacluster/internal/storage/jsonl"
	"github.com/scrypster/metacluster/pkg/types"
)

func newTreeCmd(a *app) *cobra.Command {
	var (
		inPath   string
		runID    string
		maxDepth int
	)
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print a meta-cluster hierarchy with member counts",
		Example: `  metacluster tree --in meta_clusters.jsonl
  metacluster tree --run-id 3f0c... --store sqlite --depth 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				tree *types.Tree
				err  error
			)
			switch {
			case inPath != "" && runID != "":
				return fmt.Errorf("--in and --run-id are mutually exclusive")
			case inPath != "":
				tree, err = jsonl.ReadTreeFile(inPath)
			case runID != "":
				store, serr := a.openStore(cmd.Context())
				if serr != nil {
					return serr
				}
				defer store.Close()
				tree, err = store.LoadTree(cmd.Context(), runID)
			default:
				return fmt.Errorf("one of --in or --run-id is required")
			}
			if err != nil {
				return err
			}
			printTree(cmd.OutOrStdout(), tree, maxDepth)
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "meta_clusters.jsonl checkpoint to print")
	cmd.Flags().StringVar(&runID, "run-id", "", "Stored run to print")
	cmd.Flags().IntVar(&maxDepth, "depth", 0, "Print at most this many levels below the roots (0 = all)")
	return cmd
}

// printTree writes the hierarchy rooted at tree.Roots(), largest roots first.
// Synthetic groups are marked with an asterisk.
func printTree(w io.Writer, tree *types.Tree, maxDepth int) {
	roots := tree.Roots()
	sortBySize(roots)

	total := 0
	for _, r := range roots {
		total += r.Count()
	}
	fmt.Fprintf(w, "%d roots, %d conversations, %d rounds\n", len(roots), total, tree.Rounds)
	if tree.Degraded {
		fmt.Fprintf(w, "degraded: %s\n", tree.DegradedReason)
	}

	var walk func(c *types.Cluster, depth int)
	walk = func(c *types.Cluster, depth int) {
		marker := ""
		if c.Synthetic {
			marker = "*"
		}
		fmt.Fprintf(w, "%s%s%s (%d)\n", strings.Repeat("  ", depth), c.Name, marker, c.Count())
		if maxDepth > 0 && depth >= maxDepth {
			return
		}
		children := tree.Children(c.ID)
		sortBySize(children)
		for _, child := range children {
			walk(child, depth+1)
		}
	}
	for _, r := range roots {
		walk(r, 0)
	}
}

// sortBySize orders clusters by member count descending, then by name.
func sortBySize(cs []*types.Cluster) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Count() != cs[j].Count() {
			return cs[i].Count() > cs[j].Count()
		}
		return cs[i].Name < cs[j].Name
	})
}
