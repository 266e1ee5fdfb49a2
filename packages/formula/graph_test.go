package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependencyGraphAddAndQuery(t *testing.T) {
	dg := NewDependencyGraph()
	dg.AddDependency(2, 0)
	dg.AddDependency(2, 1)
	dg.AddDependency(3, 2)

	assert.Equal(t, []int{0, 1}, dg.Precedents(2))
	assert.Equal(t, []int{2}, dg.Dependents(0))
	assert.Equal(t, []int{3}, dg.Dependents(2))
	assert.Equal(t, []int{2, 3}, dg.FormulaColumns())
	assert.True(t, dg.IsFormulaColumn(2))
	assert.False(t, dg.IsFormulaColumn(0))
	assert.Equal(t, 4, dg.NodeCount())

	// adding the same edge twice changes nothing
	dg.AddDependency(2, 0)
	assert.Equal(t, []int{0, 1}, dg.Precedents(2))

	// negative ids are ignored
	dg.AddDependency(-1, 0)
	dg.AddDependency(5, -2)
	assert.Equal(t, 4, dg.NodeCount())

	assert.Nil(t, dg.Precedents(42))
	assert.Nil(t, dg.Dependents(42))
}

func TestDependencyGraphAllDependents(t *testing.T) {
	dg := NewDependencyGraph()
	dg.AddDependency(1, 0)
	dg.AddDependency(2, 1)
	dg.AddDependency(3, 1)
	dg.AddDependency(4, 3)

	assert.Equal(t, []int{1, 2, 3, 4}, dg.AllDependents(0))
	assert.Equal(t, []int{4}, dg.AllDependents(3))
	assert.Empty(t, dg.AllDependents(4))
	assert.Empty(t, dg.AllDependents(99))
}

func TestDependencyGraphRecalculationOrder(t *testing.T) {
	dg := NewDependencyGraph()
	dg.AddDependency(1, 0) // C1 = C0 * 2
	dg.AddDependency(2, 1) // C2 = C1 + 10

	order, hasCycle := dg.RecalculationOrderFrom(0)
	assert.False(t, hasCycle)
	assert.Equal(t, []int{1, 2}, order)

	order, hasCycle = dg.RecalculationOrder()
	assert.False(t, hasCycle)
	assert.Equal(t, []int{1, 2}, order)

	// a diamond keeps every column after its precedents
	dg.AddDependency(3, 0)
	dg.AddDependency(4, 2)
	dg.AddDependency(4, 3)
	order, hasCycle = dg.RecalculationOrderFrom(0)
	require.False(t, hasCycle)
	require.Len(t, order, 4)
	position := make(map[int]int)
	for i, id := range order {
		position[id] = i
	}
	for _, id := range order {
		for _, precedent := range dg.Precedents(id) {
			if p, ok := position[precedent]; ok {
				assert.Less(t, p, position[id], "C%d must come before C%d", precedent, id)
			}
		}
	}
	// ties are broken by ascending id
	assert.Equal(t, []int{1, 2, 3, 4}, order)
}

func TestDependencyGraphOrderWithCycle(t *testing.T) {
	dg := NewDependencyGraph()
	dg.AddDependency(1, 0)
	dg.AddDependency(0, 1)
	dg.AddDependency(2, 5)

	order, hasCycle := dg.RecalculationOrder()
	assert.True(t, hasCycle)
	assert.Equal(t, []int{2}, order)
}

func TestDependencyGraphWillCreateCycle(t *testing.T) {
	dg := NewDependencyGraph()
	dg.AddDependency(1, 0)
	dg.AddDependency(2, 1)

	assert.True(t, dg.WillCreateCycle(0, 2))
	assert.True(t, dg.WillCreateCycle(0, 1))
	assert.True(t, dg.WillCreateCycle(3, 3))
	assert.False(t, dg.WillCreateCycle(3, 2))
	assert.False(t, dg.WillCreateCycle(2, 0))

	// the check does not modify the graph
	assert.Equal(t, 3, dg.NodeCount())
	assert.False(t, dg.HasCycle())
}

func TestDependencyGraphTryFindCycle(t *testing.T) {
	dg := NewDependencyGraph()
	dg.AddDependency(0, 1)
	dg.AddDependency(1, 0)

	found, cycle := dg.TryFindCycle()
	require.True(t, found)
	assert.ElementsMatch(t, []int{0, 1}, cycle)

	dg = NewDependencyGraph()
	dg.AddDependency(1, 0)
	dg.AddDependency(2, 1)
	dg.AddDependency(3, 2)
	dg.AddDependency(1, 3)
	dg.AddDependency(4, 0)

	found, cycle = dg.TryFindCycle()
	require.True(t, found)
	assert.ElementsMatch(t, []int{1, 2, 3}, cycle)

	dg = NewDependencyGraph()
	dg.AddDependency(7, 7)
	found, cycle = dg.TryFindCycle()
	require.True(t, found)
	assert.Equal(t, []int{7}, cycle)
}

func TestDependencyGraphNoCycleThroughDataColumns(t *testing.T) {
	dg := NewDependencyGraph()
	dg.AddDependency(1, 0)
	dg.AddDependency(2, 0)

	found, cycle := dg.TryFindCycle()
	assert.False(t, found)
	assert.Nil(t, cycle)
}

func TestDependencyGraphRemoveDependencies(t *testing.T) {
	dg := NewDependencyGraph()
	dg.AddDependency(1, 0)
	dg.AddDependency(2, 1)

	dg.RemoveDependencies(1)

	assert.False(t, dg.IsFormulaColumn(1))
	assert.Empty(t, dg.Precedents(1))
	assert.Empty(t, dg.Dependents(1))
	assert.Empty(t, dg.Dependents(0))
	assert.Empty(t, dg.Precedents(2))
	for _, id := range dg.FormulaColumns() {
		assert.NotContains(t, dg.Precedents(id), 1)
		assert.NotContains(t, dg.Dependents(id), 1)
	}
	// only the formula column C2 is still tracked
	assert.Equal(t, []int{2}, dg.FormulaColumns())
	assert.Equal(t, 1, dg.NodeCount())

	dg.RemoveDependencies(2)
	assert.Equal(t, 0, dg.NodeCount())

	// removing an unknown column is a no-op
	dg.RemoveDependencies(99)
	assert.Equal(t, 0, dg.NodeCount())
}

func TestDependencyGraphMarkFormulaAndClear(t *testing.T) {
	dg := NewDependencyGraph()
	dg.MarkFormula(3)
	dg.MarkFormula(-1)
	assert.Equal(t, []int{3}, dg.FormulaColumns())

	order, hasCycle := dg.RecalculationOrder()
	assert.False(t, hasCycle)
	assert.Equal(t, []int{3}, order)

	dg.AddDependency(4, 3)
	dg.Clear()
	assert.Equal(t, 0, dg.NodeCount())
	assert.Empty(t, dg.FormulaColumns())
}
