package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseClusterValidate(t *testing.T) {
	valid := BaseCluster{
		ID:        "6f1c0b2e-8c1f-4a8e-9a55-0c7a3c1d2e10",
		Name:      "Debug Python imports",
		MemberIDs: []string{"c1"},
	}
	require.NoError(t, valid.Validate())

	hexID := valid
	hexID.ID = "6f1c0b2e8c1f4a8e9a550c7a3c1d2e10"
	assert.NoError(t, hexID.Validate(), "32-hex ids are accepted")

	badID := valid
	badID.ID = "cluster-1"
	assert.Error(t, badID.Validate())

	noMembers := valid
	noMembers.MemberIDs = nil
	assert.Error(t, noMembers.Validate())

	parent := "6f1c0b2e-8c1f-4a8e-9a55-0c7a3c1d2e11"
	withParent := valid
	withParent.ParentID = &parent
	assert.Error(t, withParent.Validate())
}

func TestToClusterDedupesMembers(t *testing.T) {
	b := BaseCluster{
		ID:        "6f1c0b2e-8c1f-4a8e-9a55-0c7a3c1d2e10",
		Name:      "n",
		MemberIDs: []string{"b", "a", "b"},
		Centroid:  []float32{1, 2},
	}
	c := b.ToCluster()
	assert.Equal(t, []string{"a", "b"}, c.MemberIDs)
	assert.Equal(t, 0, c.Level)
	assert.True(t, c.IsRoot())
	assert.True(t, c.IsLeaf())

	b.Centroid[0] = 9
	assert.Equal(t, float32(1), c.Centroid[0], "centroid must be copied")
}

func TestClusterClone(t *testing.T) {
	p := "parent"
	c := &Cluster{ID: "x", MemberIDs: []string{"m"}, ChildIDs: []string{"c"}, ParentID: &p}
	cp := c.Clone()
	cp.MemberIDs[0] = "changed"
	*cp.ParentID = "other"
	assert.Equal(t, "m", c.MemberIDs[0])
	assert.Equal(t, "parent", *c.ParentID)
}

func TestTreeNavigation(t *testing.T) {
	root := "r"
	leafA := &Cluster{ID: "a", Level: 0, ParentID: &root, MemberIDs: []string{"1"}}
	leafB := &Cluster{ID: "b", Level: 0, ParentID: &root, MemberIDs: []string{"2"}}
	r := &Cluster{ID: "r", Level: 1, ChildIDs: []string{"a", "b"}, MemberIDs: []string{"1", "2"}}

	tree := NewTree([]*Cluster{r, leafB, leafA})
	require.Len(t, tree.Clusters, 3)
	assert.Equal(t, "a", tree.Clusters[0].ID)
	assert.Equal(t, "r", tree.Clusters[2].ID)
	assert.Equal(t, []string{"r"}, tree.RootIDs)
	assert.Len(t, tree.Children("r"), 2)
	assert.Len(t, tree.Leaves(), 2)
	assert.Equal(t, 1, tree.Depth())

	got, ok := tree.Get("b")
	require.True(t, ok)
	assert.Equal(t, leafB, got)
}
