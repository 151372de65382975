package engine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/scrypster/metacluster/pkg/types"
)

// checkRound validates a staged generation of parents against the current
// roots without touching the forest. Every root must become the child of
// exactly one new parent, parent members must be the union of their
// children's members, levels must increase and conversation coverage must be
// preserved without duplicates.
func checkRound(f *forest, roots, parents []*types.Cluster) error {
	var errs []error

	rootSet := make(map[string]*types.Cluster, len(roots))
	before := 0
	for _, r := range roots {
		if !r.IsRoot() {
			errs = append(errs, fmt.Errorf("cluster %s is not a root", r.ID))
		}
		rootSet[r.ID] = r
		before += len(r.MemberIDs)
	}

	owner := make(map[string]string, len(roots))
	members := make(map[string]string, before)
	newIDs := make(map[string]struct{}, len(parents))

	for _, p := range parents {
		if _, exists := f.get(p.ID); exists {
			errs = append(errs, fmt.Errorf("parent %s reuses an existing id", p.ID))
		}
		if _, dup := newIDs[p.ID]; dup {
			errs = append(errs, fmt.Errorf("parent id %s created twice", p.ID))
		}
		newIDs[p.ID] = struct{}{}

		if p.ParentID != nil {
			errs = append(errs, fmt.Errorf("parent %s already has a parent", p.ID))
		}
		if len(p.ChildIDs) == 0 {
			errs = append(errs, fmt.Errorf("parent %s has no children", p.ID))
			continue
		}

		var union []string
		maxLevel := -1
		for _, cid := range p.ChildIDs {
			child, ok := rootSet[cid]
			if !ok {
				errs = append(errs, fmt.Errorf("parent %s adopts %s, which is not a current root", p.ID, cid))
				continue
			}
			if prev, taken := owner[cid]; taken {
				errs = append(errs, fmt.Errorf("root %s adopted by both %s and %s", cid, prev, p.ID))
				continue
			}
			owner[cid] = p.ID
			union = append(union, child.MemberIDs...)
			maxLevel = max(maxLevel, child.Level)
		}

		if p.Level != maxLevel+1 {
			errs = append(errs, fmt.Errorf("parent %s has level %d, want %d", p.ID, p.Level, maxLevel+1))
		}
		if !slices.Equal(p.MemberIDs, types.SortedUnique(union)) {
			errs = append(errs, fmt.Errorf("parent %s members are not the union of its children", p.ID))
		}
		for _, m := range p.MemberIDs {
			if prev, dup := members[m]; dup {
				errs = append(errs, fmt.Errorf("conversation %s under both %s and %s", m, prev, p.ID))
				continue
			}
			members[m] = p.ID
		}
	}

	for id := range rootSet {
		if _, ok := owner[id]; !ok {
			errs = append(errs, fmt.Errorf("root %s was not assigned a parent", id))
		}
	}
	if len(members) != before {
		errs = append(errs, fmt.Errorf("coverage changed: %d conversations under roots, %d under parents", before, len(members)))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}
	return nil
}

// checkTree validates a finished tree: shape, coverage of the base members
// and level monotonicity.
func checkTree(tree *types.Tree, baseMembers int) error {
	var errs []error
	covered := make(map[string]struct{}, baseMembers)

	for _, root := range tree.Roots() {
		for _, m := range root.MemberIDs {
			if _, dup := covered[m]; dup {
				errs = append(errs, fmt.Errorf("conversation %s under more than one root", m))
			}
			covered[m] = struct{}{}
		}
	}
	if len(covered) != baseMembers {
		errs = append(errs, fmt.Errorf("roots cover %d conversations, want %d", len(covered), baseMembers))
	}

	for _, c := range tree.Clusters {
		if c.ParentID == nil {
			continue
		}
		p, ok := tree.Get(*c.ParentID)
		if !ok {
			errs = append(errs, fmt.Errorf("cluster %s points at missing parent %s", c.ID, *c.ParentID))
			continue
		}
		if p.Level <= c.Level {
			errs = append(errs, fmt.Errorf("parent %s level %d not above child %s level %d", p.ID, p.Level, c.ID, c.Level))
		}
		if !slices.Contains(p.ChildIDs, c.ID) {
			errs = append(errs, fmt.Errorf("parent %s does not list child %s", p.ID, c.ID))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}
	return nil
}
