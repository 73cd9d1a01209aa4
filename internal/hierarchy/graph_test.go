package hierarchy

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/untibullet/teamhub/internal/models"
)

type fixture struct {
	teams map[string]models.Team
	list  []models.Team
}

func newFixture(names ...string) *fixture {
	f := &fixture{teams: make(map[string]models.Team)}
	for _, n := range names {
		t := models.Team{ID: uuid.New(), Name: n}
		f.teams[n] = t
		f.list = append(f.list, t)
	}
	return f
}

func (f *fixture) id(name string) uuid.UUID {
	return f.teams[name].ID
}

func (f *fixture) graph(pairs ...[2]string) *Graph {
	edges := make([]models.HierarchyEdge, 0, len(pairs))
	for _, p := range pairs {
		edges = append(edges, models.HierarchyEdge{ParentTeamID: f.id(p[0]), ChildTeamID: f.id(p[1])})
	}
	return NewGraph(f.list, edges)
}

func names(nodes []models.TeamNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}

func teamNames(teams []models.Team) []string {
	out := make([]string, 0, len(teams))
	for _, t := range teams {
		out = append(out, t.Name)
	}
	return out
}

func TestCanAddEdgeSelfParent(t *testing.T) {
	f := newFixture("A")
	g := f.graph()

	assert.False(t, g.CanAddEdge(f.id("A"), f.id("A")))
}

func TestCanAddEdgeRejectsCycles(t *testing.T) {
	f := newFixture("A", "B", "C", "D")

	g := f.graph([2]string{"A", "B"})
	assert.False(t, g.CanAddEdge(f.id("B"), f.id("A")), "2-cycle")

	g = f.graph([2]string{"A", "B"}, [2]string{"B", "C"})
	assert.False(t, g.CanAddEdge(f.id("C"), f.id("A")), "3-cycle")
	assert.True(t, g.CanAddEdge(f.id("A"), f.id("C")), "shortcut edge keeps the graph acyclic")
	assert.True(t, g.CanAddEdge(f.id("D"), f.id("A")))
}

func TestCanAddEdgeMultiParentDAG(t *testing.T) {
	f := newFixture("A", "B", "C", "D")
	// Ромб: D имеет двух родителей
	g := f.graph(
		[2]string{"A", "B"},
		[2]string{"A", "C"},
		[2]string{"B", "D"},
		[2]string{"C", "D"},
	)

	assert.False(t, g.CanAddEdge(f.id("D"), f.id("A")))
	assert.False(t, g.CanAddEdge(f.id("D"), f.id("C")))
	assert.True(t, g.CanAddEdge(f.id("B"), f.id("C")))
}

func TestDescendantsOrderedByLevelThenName(t *testing.T) {
	f := newFixture("Root", "Zeta", "Alpha", "Leaf")
	g := f.graph(
		[2]string{"Root", "Zeta"},
		[2]string{"Root", "Alpha"},
		[2]string{"Zeta", "Leaf"},
	)

	nodes, err := g.Descendants(f.id("Root"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Zeta", "Leaf"}, names(nodes))
	assert.Equal(t, 0, nodes[0].Level)
	assert.Equal(t, 1, nodes[2].Level)
	require.NotNil(t, nodes[2].ParentTeamID)
	assert.Equal(t, f.id("Zeta"), *nodes[2].ParentTeamID)
}

func TestAncestors(t *testing.T) {
	f := newFixture("A", "B", "C")
	g := f.graph([2]string{"A", "B"}, [2]string{"B", "C"})

	nodes, err := g.Ancestors(f.id("C"))
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, names(nodes))
	assert.Equal(t, []int{0, 1}, []int{nodes[0].Level, nodes[1].Level})

	nodes, err = g.Ancestors(f.id("A"))
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestDescendantsDiamondVisitsOnce(t *testing.T) {
	f := newFixture("A", "B", "C", "D")
	g := f.graph(
		[2]string{"A", "B"},
		[2]string{"A", "C"},
		[2]string{"B", "D"},
		[2]string{"C", "D"},
	)

	nodes, err := g.Descendants(f.id("A"))
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C", "D"}, names(nodes))
}

func TestTraversalDetectsCorruptedCycle(t *testing.T) {
	f := newFixture("A", "B", "C")
	g := f.graph(
		[2]string{"A", "B"},
		[2]string{"B", "C"},
		[2]string{"C", "B"},
	)

	_, err := g.Descendants(f.id("A"))
	assert.ErrorIs(t, err, models.ErrIntegrity)

	_, err = g.Ancestors(f.id("B"))
	assert.ErrorIs(t, err, models.ErrIntegrity)

	_, err = g.Tree()
	assert.ErrorIs(t, err, models.ErrIntegrity)
}

func TestTreeDetectsRootlessCycle(t *testing.T) {
	f := newFixture("A", "B", "Solo")
	g := f.graph([2]string{"A", "B"}, [2]string{"B", "A"})

	_, err := g.Tree()
	assert.ErrorIs(t, err, models.ErrIntegrity)
}

func TestRootsLeavesTree(t *testing.T) {
	f := newFixture("Eng", "Platform", "Apps", "Sales")
	g := f.graph([2]string{"Eng", "Platform"}, [2]string{"Eng", "Apps"})

	assert.Equal(t, []string{"Eng", "Sales"}, teamNames(g.Roots()))
	assert.Equal(t, []string{"Apps", "Platform", "Sales"}, teamNames(g.Leaves()))
	assert.Equal(t, []string{"Eng"}, teamNames(g.Parents(f.id("Apps"))))
	assert.Equal(t, []string{"Apps", "Platform"}, teamNames(g.Children(f.id("Eng"))))

	tree, err := g.Tree()
	require.NoError(t, err)
	assert.Equal(t, []string{"Eng", "Sales", "Apps", "Platform"}, names(tree))
	assert.Nil(t, tree[0].ParentTeamID)
	require.NotNil(t, tree[2].ParentTeamID)
	assert.Equal(t, f.id("Eng"), *tree[2].ParentTeamID)
}
