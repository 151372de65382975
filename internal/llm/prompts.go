// Package llm provides generative model integration for the reduction engine:
// provider clients with structured (JSON schema) output, a circuit breaker,
// retry and rate limiting decorators, embedders, and the prompt templates
// used to propose, resolve and name parent clusters.
package llm

import (
	"fmt"
	"strings"

	"github.com/scrypster/metacluster/pkg/types"
)

// ProposeGroupsInstructions is the system instruction for grouping calls.
const ProposeGroupsInstructions = `You are tasked with creating higher-level cluster names based on a given list of clusters and their descriptions. Your goal is to come up with broader categories that could encompass one or more of the provided clusters.

Guidelines:
- Every input cluster must fit at least one of the groups you propose.
- Group names are short imperative sentences of at most ten words, specific enough to be meaningful but not so specific that they only fit one cluster.
- Descriptions are two sentences in the past tense.
- Group names must be distinct from each other.
- Do not include quotes or trailing punctuation in names.`

// ResolveParentInstructions is the system instruction for assignment calls.
const ResolveParentInstructions = `You are tasked with categorizing a specific cluster into one of the provided higher-level clusters for observability, monitoring, and content moderation. Determine which higher-level cluster best fits the given specific cluster based on its name and description.

Your answer must be one of the provided higher-level cluster names, copied exactly, including capitalization and punctuation.`

// SynthesizeParentInstructions is the system instruction for naming calls.
const SynthesizeParentInstructions = `You are tasked with summarizing a group of related cluster names into a short, precise, and accurate overall description and name. The name must be an imperative sentence of at most ten words that captures the user's request. The description must be two sentences in the past tense that distinguish this group from other groups.`

// ProposeGroupsPrompt lists the clusters to be grouped. Synthetic catch-all
// clusters are listed last and flagged so the model folds them into a
// topical group when one fits.
func ProposeGroupsPrompt(clusters []*types.Cluster, targetCount int) string {
	var b strings.Builder
	b.WriteString("TASK: Propose higher-level groups for the clusters below.\n")
	fmt.Fprintf(&b, "TARGET: Roughly %d groups. Fewer is fine if the clusters are similar.\n\n", targetCount)

	b.WriteString("<cluster_list>\n")
	var catchAll []*types.Cluster
	for _, c := range clusters {
		if c.Synthetic {
			catchAll = append(catchAll, c)
			continue
		}
		writeCluster(&b, c)
	}
	for _, c := range catchAll {
		writeCluster(&b, c)
	}
	b.WriteString("</cluster_list>\n")

	if len(catchAll) > 0 {
		b.WriteString("\nNOTE: Clusters named \"")
		b.WriteString(types.OtherGroupName)
		b.WriteString("\" are catch-alls from an earlier pass. Prefer folding them into a topical group over proposing another catch-all.\n")
	}

	b.WriteString("\nOUTPUT: a JSON object with a \"groups\" array of {\"name\", \"description\"} objects.\n")
	return b.String()
}

func writeCluster(b *strings.Builder, c *types.Cluster) {
	b.WriteString("<cluster>")
	b.WriteString(c.Name)
	if c.Description != "" {
		b.WriteString(": ")
		b.WriteString(c.Description)
	}
	b.WriteString("</cluster>\n")
}

// ResolvePromptInput carries everything shown to the model for one
// assignment attempt.
type ResolvePromptInput struct {
	Name        string
	Description string
	// Examples are representative member summaries (leaf clusters).
	Examples []string
	// ChildNames are the names of the cluster's children (parent clusters).
	ChildNames []string
	Candidates []string
	// Attempt is 1-based.
	Attempt int
	// PreviousAnswer is the rejected answer of the previous attempt.
	PreviousAnswer string
}

// ResolveParentPrompt builds the assignment prompt. Later attempts are
// stricter: attempt 2 quotes the rejected answer, attempt 3 and later number
// the candidates and require a verbatim copy.
func ResolveParentPrompt(in ResolvePromptInput) string {
	var b strings.Builder

	b.WriteString("TASK: Choose the higher-level cluster that best fits the specific cluster.\n\n")
	b.WriteString("<specific_cluster>\n")
	fmt.Fprintf(&b, "Name: %s\n", in.Name)
	if in.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", in.Description)
	}
	b.WriteString("</specific_cluster>\n")

	if len(in.Examples) > 0 {
		b.WriteString("\n<examples>\n")
		for _, ex := range in.Examples {
			fmt.Fprintf(&b, "- %s\n", oneLine(ex))
		}
		b.WriteString("</examples>\n")
	}
	if len(in.ChildNames) > 0 {
		b.WriteString("\n<subclusters>\n")
		for _, n := range in.ChildNames {
			fmt.Fprintf(&b, "- %s\n", n)
		}
		b.WriteString("</subclusters>\n")
	}

	b.WriteString("\n<higher_level_clusters>\n")
	if in.Attempt >= 3 {
		for i, c := range in.Candidates {
			fmt.Fprintf(&b, "%d. %s\n", i+1, c)
		}
	} else {
		for _, c := range in.Candidates {
			fmt.Fprintf(&b, "<cluster>%s</cluster>\n", c)
		}
	}
	b.WriteString("</higher_level_clusters>\n")

	if in.Attempt >= 2 && in.PreviousAnswer != "" {
		fmt.Fprintf(&b, "\nYour previous answer %q is not one of the higher-level clusters.\n", in.PreviousAnswer)
	}
	if in.Attempt >= 3 {
		b.WriteString("Copy exactly one line from the numbered list above, without the number. Any other answer is rejected.\n")
	}

	b.WriteString("\nOUTPUT: a JSON object with \"reasoning\" and \"parent_name\".\n")
	return b.String()
}

// SynthesizeParentPrompt asks for a fresh name and description of a parent
// from its children.
func SynthesizeParentPrompt(name, description string, children []*types.Cluster) string {
	var b strings.Builder
	b.WriteString("TASK: Write a name and description for this group of clusters.\n\n")
	fmt.Fprintf(&b, "Working name: %s\n", name)
	if description != "" {
		fmt.Fprintf(&b, "Working description: %s\n", description)
	}
	b.WriteString("\n<cluster_list>\n")
	for _, c := range children {
		writeCluster(&b, c)
	}
	b.WriteString("</cluster_list>\n")
	b.WriteString("\nOUTPUT: a JSON object with \"name\" and \"description\".\n")
	return b.String()
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	const maxExample = 400
	if r := []rune(s); len(r) > maxExample {
		return string(r[:maxExample]) + "..."
	}
	return s
}
