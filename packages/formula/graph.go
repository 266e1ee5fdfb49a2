package formula

import (
	"slices"
	"sort"
)

// DependencyNode represents a column in the dependency graph
type DependencyNode struct {
	ID int

	// column-to-column dependencies
	Precedents map[int]*DependencyNode // columns this column reads
	Dependents map[int]*DependencyNode // columns that read this column

	// IsFormula marks columns whose value is produced by a formula. only
	// these take part in ordering and cycle search; plain data columns
	// appear as referenced leaves.
	IsFormula bool
}

// DependencyGraph records "formula column X reads column Y" edges and
// derives recalculation order and cycles from them. it is not safe for
// concurrent use.
type DependencyGraph struct {
	nodes map[int]*DependencyNode
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[int]*DependencyNode),
	}
}

// getOrCreateNode gets an existing node or creates a new one
func (dg *DependencyGraph) getOrCreateNode(id int) *DependencyNode {
	if node, exists := dg.nodes[id]; exists {
		return node
	}
	node := &DependencyNode{
		ID:         id,
		Precedents: make(map[int]*DependencyNode),
		Dependents: make(map[int]*DependencyNode),
	}
	dg.nodes[id] = node
	return node
}

// link and unlink are the only places edges change, so both directions of
// an edge always exist together
func (dg *DependencyGraph) link(from, to *DependencyNode) {
	from.Precedents[to.ID] = to
	to.Dependents[from.ID] = from
}

func (dg *DependencyGraph) unlink(from, to *DependencyNode) {
	delete(from.Precedents, to.ID)
	delete(to.Dependents, from.ID)
	dg.cleanupNodeIfEmpty(from.ID)
	dg.cleanupNodeIfEmpty(to.ID)
}

// cleanupNodeIfEmpty removes a node that is neither a formula nor part of
// any edge
func (dg *DependencyGraph) cleanupNodeIfEmpty(id int) {
	node, exists := dg.nodes[id]
	if !exists {
		return
	}
	if node.IsFormula || len(node.Precedents) > 0 || len(node.Dependents) > 0 {
		return
	}
	delete(dg.nodes, id)
}

// AddDependency records that formula reads referenced. negative ids are
// ignored.
func (dg *DependencyGraph) AddDependency(formula, referenced int) {
	if formula < 0 || referenced < 0 {
		return
	}
	from := dg.getOrCreateNode(formula)
	from.IsFormula = true
	to := dg.getOrCreateNode(referenced)
	dg.link(from, to)
}

// MarkFormula tracks a formula column that has no references yet, e.g. a
// constant formula
func (dg *DependencyGraph) MarkFormula(formula int) {
	if formula < 0 {
		return
	}
	dg.getOrCreateNode(formula).IsFormula = true
}

// RemoveDependencies removes formula from the graph in both roles: it stops
// being tracked, loses the edges to the columns it read, and the formulas
// that read it lose their edge to it.
func (dg *DependencyGraph) RemoveDependencies(formula int) {
	node, exists := dg.nodes[formula]
	if !exists {
		return
	}
	node.IsFormula = false

	for _, precedent := range node.Precedents {
		dg.unlink(node, precedent)
	}
	for _, dependent := range node.Dependents {
		dg.unlink(dependent, node)
	}
	dg.cleanupNodeIfEmpty(formula)
}

// IsFormulaColumn reports whether id is a tracked formula column
func (dg *DependencyGraph) IsFormulaColumn(id int) bool {
	node, exists := dg.nodes[id]
	return exists && node.IsFormula
}

// FormulaColumns returns all tracked formula columns, sorted
func (dg *DependencyGraph) FormulaColumns() []int {
	var result []int
	for id, node := range dg.nodes {
		if node.IsFormula {
			result = append(result, id)
		}
	}
	sort.Ints(result)
	return result
}

// Dependents returns the columns directly reading id, sorted
func (dg *DependencyGraph) Dependents(id int) []int {
	node, exists := dg.nodes[id]
	if !exists {
		return nil
	}
	return sortedKeys(node.Dependents)
}

// Precedents returns the columns id directly reads, sorted
func (dg *DependencyGraph) Precedents(id int) []int {
	node, exists := dg.nodes[id]
	if !exists {
		return nil
	}
	return sortedKeys(node.Precedents)
}

// AllDependents returns every column affected by a change of id
// (transitive closure over dependents), sorted. id itself is only included
// when it sits on a cycle.
func (dg *DependencyGraph) AllDependents(id int) []int {
	visited := make(map[int]struct{})
	queue := []int{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		node, exists := dg.nodes[current]
		if !exists {
			continue
		}
		for dependentID := range node.Dependents {
			if _, seen := visited[dependentID]; seen {
				continue
			}
			visited[dependentID] = struct{}{}
			queue = append(queue, dependentID)
		}
	}
	return sortedKeys(visited)
}

// RecalculationOrderFrom returns everything downstream of changed in an
// order where every column comes after the columns it reads. hasCycle is
// true when some affected columns could not be ordered; they are left out.
func (dg *DependencyGraph) RecalculationOrderFrom(changed int) (order []int, hasCycle bool) {
	return dg.topologicalOrder(dg.AllDependents(changed))
}

// RecalculationOrder orders every tracked formula column
func (dg *DependencyGraph) RecalculationOrder() (order []int, hasCycle bool) {
	return dg.topologicalOrder(dg.FormulaColumns())
}

// topologicalOrder runs Kahn's algorithm over the subset, counting only
// edges internal to it. ties are broken by ascending id.
func (dg *DependencyGraph) topologicalOrder(subset []int) ([]int, bool) {
	members := make(map[int]struct{}, len(subset))
	for _, id := range subset {
		members[id] = struct{}{}
	}

	inDegree := make(map[int]int, len(subset))
	for _, id := range subset {
		inDegree[id] = 0
		node, exists := dg.nodes[id]
		if !exists {
			continue
		}
		for precedentID := range node.Precedents {
			if _, in := members[precedentID]; in {
				inDegree[id]++
			}
		}
	}

	var ready []int
	for _, id := range subset {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Ints(ready)

	order := make([]int, 0, len(subset))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		node, exists := dg.nodes[current]
		if !exists {
			continue
		}
		var released []int
		for dependentID := range node.Dependents {
			if _, in := members[dependentID]; !in {
				continue
			}
			inDegree[dependentID]--
			if inDegree[dependentID] == 0 {
				released = append(released, dependentID)
			}
		}
		if len(released) > 0 {
			ready = append(ready, released...)
			sort.Ints(ready)
		}
	}

	return order, len(order) < len(subset)
}

// WillCreateCycle reports whether adding "formula reads referenced" would
// close a cycle. it walks the dependents of formula looking for
// referenced, so it is cheap enough to run on every edit.
func (dg *DependencyGraph) WillCreateCycle(formula, referenced int) bool {
	if formula == referenced {
		return true
	}
	visited := map[int]struct{}{formula: {}}
	queue := []int{formula}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		node, exists := dg.nodes[current]
		if !exists {
			continue
		}
		for dependentID := range node.Dependents {
			if dependentID == referenced {
				return true
			}
			if _, seen := visited[dependentID]; !seen {
				visited[dependentID] = struct{}{}
				queue = append(queue, dependentID)
			}
		}
	}
	return false
}

// node colors for TryFindCycle
const (
	colorWhite = iota
	colorGray
	colorBlack
)

// TryFindCycle runs a three-color DFS over the formula columns, following
// only edges into other formula columns. the returned path lists the cycle
// members in discovery order.
func (dg *DependencyGraph) TryFindCycle() (bool, []int) {
	color := make(map[int]int)
	parent := make(map[int]int)
	var cycle []int

	var visit func(id int) bool
	visit = func(id int) bool {
		color[id] = colorGray
		node := dg.nodes[id]
		for _, next := range sortedKeys(node.Precedents) {
			if !dg.IsFormulaColumn(next) {
				continue
			}
			switch color[next] {
			case colorGray:
				// walk back from id to next through the parent links
				cycle = []int{id}
				for current := id; current != next; {
					current = parent[current]
					cycle = append(cycle, current)
				}
				slices.Reverse(cycle)
				return true
			case colorWhite:
				parent[next] = id
				if visit(next) {
					return true
				}
			}
		}
		color[id] = colorBlack
		return false
	}

	for _, id := range dg.FormulaColumns() {
		if color[id] == colorWhite && visit(id) {
			return true, cycle
		}
	}
	return false, nil
}

// HasCycle checks if there are circular dependencies
func (dg *DependencyGraph) HasCycle() bool {
	found, _ := dg.TryFindCycle()
	return found
}

// NodeCount returns the number of nodes in the graph
func (dg *DependencyGraph) NodeCount() int {
	return len(dg.nodes)
}

// Clear removes all nodes and dependencies from the graph
func (dg *DependencyGraph) Clear() {
	dg.nodes = make(map[int]*DependencyNode)
}

func sortedKeys[V any](m map[int]V) []int {
	result := make([]int, 0, len(m))
	for k := range m {
		result = append(result, k)
	}
	sort.Ints(result)
	return result
}
