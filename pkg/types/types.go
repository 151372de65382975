// Package types defines the core data structures for the metacluster taxonomy
// engine. These types represent conversation summaries, the atomic base
// clusters produced upstream, and the parent-linked clusters the reduction
// engine builds on top of them.
package types

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// OtherGroupName is the label given to the synthetic fallback group that
// collects clusters the resolver could not place.
const OtherGroupName = "Other"

// ConversationSummary is a summarized conversation with its embedding.
// It is produced upstream and never modified by the engine.
type ConversationSummary struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// BaseCluster is an atomic cluster produced by the base-clustering stage.
type BaseCluster struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	MemberIDs   []string  `json:"member_ids"`
	Centroid    []float32 `json:"centroid,omitempty"`
	ParentID    *string   `json:"parent_id"`
}

// Cluster is a node of the taxonomy. Level 0 clusters are the original base
// clusters; every reduction round adds a level above its inputs.
type Cluster struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	MemberIDs   []string  `json:"member_ids"`
	ChildIDs    []string  `json:"child_ids"`
	ParentID    *string   `json:"parent_id"`
	Level       int       `json:"level"`
	Centroid    []float32 `json:"centroid,omitempty"`

	// Synthetic marks the "Other" group created when resolution failed.
	Synthetic bool `json:"synthetic,omitempty"`
}

// ProposedGroup is a candidate parent label produced by the proposer.
type ProposedGroup struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// IsRoot reports whether the cluster currently has no parent.
func (c *Cluster) IsRoot() bool {
	return c.ParentID == nil
}

// IsLeaf reports whether the cluster is an original base cluster.
func (c *Cluster) IsLeaf() bool {
	return c.Level == 0
}

// Count returns the number of conversations under the cluster.
func (c *Cluster) Count() int {
	return len(c.MemberIDs)
}

// Clone returns a deep copy of the cluster.
func (c *Cluster) Clone() *Cluster {
	out := *c
	out.MemberIDs = append([]string(nil), c.MemberIDs...)
	out.ChildIDs = append([]string(nil), c.ChildIDs...)
	if c.Centroid != nil {
		out.Centroid = append([]float32(nil), c.Centroid...)
	}
	if c.ParentID != nil {
		p := *c.ParentID
		out.ParentID = &p
	}
	return &out
}

// EmbeddableText is the text used when a cluster is embedded.
func (c *Cluster) EmbeddableText() string {
	return fmt.Sprintf("Name: %s\nDescription: %s", c.Name, c.Description)
}

// Validate checks the fields a base cluster must carry before reduction.
func (b BaseCluster) Validate() error {
	if _, err := uuid.Parse(b.ID); err != nil {
		return fmt.Errorf("base cluster id %q is not a UUID: %w", b.ID, err)
	}
	if b.Name == "" {
		return fmt.Errorf("base cluster %s: name is required", b.ID)
	}
	if len(b.MemberIDs) == 0 {
		return fmt.Errorf("base cluster %s: at least one member is required", b.ID)
	}
	if b.ParentID != nil {
		return fmt.Errorf("base cluster %s: parent_id must be unset", b.ID)
	}
	return nil
}

// ToCluster converts a base cluster into a level 0 Cluster.
// Member IDs are deduplicated and sorted.
func (b BaseCluster) ToCluster() *Cluster {
	c := &Cluster{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		MemberIDs:   SortedUnique(b.MemberIDs),
		Level:       0,
	}
	if b.Centroid != nil {
		c.Centroid = append([]float32(nil), b.Centroid...)
	}
	return c
}

// SortedUnique returns the distinct values of ids in ascending order.
func SortedUnique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
