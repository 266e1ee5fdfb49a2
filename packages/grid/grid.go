package grid

import (
	"context"
	"strings"

	"go.alis.build/alog"
	"google.golang.org/grpc/codes"

	"github.com/IAFahim/tabulate-sub000/packages/formula"
)

// Cell holds the value of one row/column intersection. formula cells that
// failed keep a nil-kind Value and the error.
type Cell struct {
	Value formula.Value
	Err   *CellError
}

type column struct {
	id      int
	name    string
	formula string
	program *formula.Program
	refs    []int // referenced column ids
	vars    []int // referenced variable indices
}

func (c *column) isFormula() bool {
	return c.program != nil
}

// Grid is an in-memory table of typed columns, where a column either holds
// plain data or is computed from a formula over other columns of the same
// row and grid-wide variables. it is not safe for concurrent use.
type Grid struct {
	engine *formula.Engine
	graph  *formula.DependencyGraph

	columns      map[int]*column
	columnOrder  []int // ids in insertion order
	nextColumnID int

	rows      []map[int]*Cell
	variables map[int]formula.Value
}

// New creates an empty grid. the options configure the formula engine.
func New(opts ...formula.Option) (*Grid, error) {
	engine, err := formula.NewEngine(opts...)
	if err != nil {
		return nil, NewApplicationError(codes.InvalidArgument, "invalid engine options: %v", err)
	}
	return &Grid{
		engine:    engine,
		graph:     formula.NewDependencyGraph(),
		columns:   make(map[int]*column),
		variables: make(map[int]formula.Value),
	}, nil
}

// Engine returns the formula engine used by the grid
func (g *Grid) Engine() *formula.Engine {
	return g.engine
}

// DependencyGraph returns the column dependency graph
func (g *Grid) DependencyGraph() *formula.DependencyGraph {
	return g.graph
}

// AddColumn appends a data column and returns its id. ids are never reused.
func (g *Grid) AddColumn(ctx context.Context, name string) int {
	id := g.nextColumnID
	g.nextColumnID++
	g.columns[id] = &column{id: id, name: name}
	g.columnOrder = append(g.columnOrder, id)
	alog.Debugf(ctx, "added column %s (%q)", formula.ColumnRef(id), name)
	return id
}

// RemoveColumn deletes a column and its cells. a column still read by a
// formula can not be removed.
func (g *Grid) RemoveColumn(ctx context.Context, id int) error {
	if _, err := g.column(id); err != nil {
		return err
	}
	if dependents := g.graph.Dependents(id); len(dependents) > 0 {
		return NewApplicationError(codes.FailedPrecondition,
			"column %s is referenced by %s", formula.ColumnRef(id), joinRefs(dependents))
	}

	g.graph.RemoveDependencies(id)
	delete(g.columns, id)
	for i, existing := range g.columnOrder {
		if existing == id {
			g.columnOrder = append(g.columnOrder[:i], g.columnOrder[i+1:]...)
			break
		}
	}
	for _, row := range g.rows {
		delete(row, id)
	}
	alog.Debugf(ctx, "removed column %s", formula.ColumnRef(id))
	return nil
}

// Columns returns the column metadata in insertion order
func (g *Grid) Columns() []formula.Column {
	result := make([]formula.Column, 0, len(g.columnOrder))
	for _, id := range g.columnOrder {
		c := g.columns[id]
		result = append(result, formula.Column{ID: c.id, Name: c.name, IsFormula: c.isFormula()})
	}
	return result
}

// Formula returns the formula text of a column, if it has one
func (g *Grid) Formula(col int) (string, bool) {
	c, exists := g.columns[col]
	if !exists || !c.isFormula() {
		return "", false
	}
	return c.formula, true
}

// AddRow appends an empty row, fills in its formula cells and returns its
// index
func (g *Grid) AddRow(ctx context.Context) int {
	g.rows = append(g.rows, make(map[int]*Cell))
	row := len(g.rows) - 1

	order, hasCycle := g.graph.RecalculationOrder()
	if hasCycle {
		g.reportCycle(ctx)
	}
	for _, id := range order {
		g.evaluateCell(ctx, g.columns[id], row)
	}
	return row
}

// RowCount returns the number of rows
func (g *Grid) RowCount() int {
	return len(g.rows)
}

// Set stores a plain value in a data column and recalculates every formula
// that depends on it
func (g *Grid) Set(ctx context.Context, row, col int, value any) error {
	c, err := g.column(col)
	if err != nil {
		return err
	}
	if err := g.checkRow(row); err != nil {
		return err
	}
	if c.isFormula() {
		return NewApplicationError(codes.FailedPrecondition,
			"column %s is computed by a formula and can not be set directly", formula.ColumnRef(col))
	}

	g.rows[row][col] = &Cell{Value: formula.ValueOf(value)}

	order, hasCycle := g.graph.RecalculationOrderFrom(col)
	if hasCycle {
		g.reportCycle(ctx)
	}
	for _, id := range order {
		g.evaluateCell(ctx, g.columns[id], row)
	}
	return nil
}

// Get returns the value of a cell. a formula cell whose evaluation failed
// returns its *CellError.
func (g *Grid) Get(row, col int) (formula.Value, error) {
	if _, err := g.column(col); err != nil {
		return formula.Null(), err
	}
	if err := g.checkRow(row); err != nil {
		return formula.Null(), err
	}
	cell := g.rows[row][col]
	if cell == nil {
		return formula.Null(), nil
	}
	if cell.Err != nil {
		return formula.Null(), cell.Err
	}
	return cell.Value, nil
}

// SetVariable sets the grid-wide value behind V<index> and recalculates the
// formulas reading it
func (g *Grid) SetVariable(ctx context.Context, index int, value any) error {
	if index < 0 {
		return NewApplicationError(codes.InvalidArgument, "variable index must not be negative: %d", index)
	}
	g.variables[index] = formula.ValueOf(value)

	affected := make(map[int]struct{})
	for _, c := range g.columns {
		if !c.isFormula() || !containsInt(c.vars, index) {
			continue
		}
		affected[c.id] = struct{}{}
		for _, dependent := range g.graph.AllDependents(c.id) {
			affected[dependent] = struct{}{}
		}
	}
	if len(affected) == 0 {
		return nil
	}

	order, hasCycle := g.graph.RecalculationOrder()
	if hasCycle {
		g.reportCycle(ctx)
	}
	for _, id := range order {
		if _, ok := affected[id]; ok {
			g.recalculateColumn(ctx, id)
		}
	}
	return nil
}

// Variable returns the value behind V<index>
func (g *Grid) Variable(index int) (formula.Value, bool) {
	v, ok := g.variables[index]
	return v, ok
}

// Validate checks a formula for column col without applying it: syntax,
// references, and whether it would close a dependency cycle
func (g *Grid) Validate(col int, text string) formula.ValidationResult {
	validator := g.engine.Validator()
	if r := validator.Validate(text, g.Columns(), col); !r.IsValid {
		return r
	}
	refs, err := g.engine.ColumnIDs(text)
	if err != nil {
		return formula.Failure("Invalid formula", err.Error(), "Check the formula for unsupported characters.")
	}
	return validator.ValidateDependencies(g.graph, col, refs)
}

// SetFormula turns col into a formula column. an invalid formula is not
// applied and the failure is returned as the ValidationResult; the error is
// reserved for bad arguments. blank text clears the formula.
func (g *Grid) SetFormula(ctx context.Context, col int, text string) (formula.ValidationResult, error) {
	c, err := g.column(col)
	if err != nil {
		return formula.ValidationResult{}, err
	}
	if strings.TrimSpace(text) == "" {
		return formula.Success(), g.ClearFormula(ctx, col)
	}

	if r := g.Validate(col, text); !r.IsValid {
		alog.Debugf(ctx, "rejected formula %q for %s: %s", text, formula.ColumnRef(col), r.ErrorMessage)
		return r, nil
	}

	program, err := g.engine.Compile(text)
	if err != nil {
		return formula.ValidationResult{}, NewApplicationError(codes.InvalidArgument, "%v", err)
	}
	refs, err := g.engine.ColumnIDs(text)
	if err != nil {
		return formula.ValidationResult{}, NewApplicationError(codes.InvalidArgument, "%v", err)
	}
	vars, err := variableIndices(g.engine, text)
	if err != nil {
		return formula.ValidationResult{}, NewApplicationError(codes.InvalidArgument, "%v", err)
	}

	g.relink(col, refs)
	c.formula = text
	c.program = program
	c.refs = refs
	c.vars = vars
	alog.Debugf(ctx, "set formula of %s to %q", formula.ColumnRef(col), text)

	g.recalculateColumn(ctx, col)
	g.recalculateDependents(ctx, col)
	return formula.Success(), nil
}

// ClearFormula turns col back into a data column. its cells keep their last
// computed values.
func (g *Grid) ClearFormula(ctx context.Context, col int) error {
	c, err := g.column(col)
	if err != nil {
		return err
	}
	if !c.isFormula() {
		return nil
	}

	dependents := g.graph.Dependents(col)
	g.graph.RemoveDependencies(col)
	for _, dependent := range dependents {
		g.graph.AddDependency(dependent, col)
	}
	c.formula = ""
	c.program = nil
	c.refs = nil
	c.vars = nil
	for _, row := range g.rows {
		if cell := row[col]; cell != nil && cell.Err != nil {
			delete(row, col)
		}
	}
	alog.Debugf(ctx, "cleared formula of %s", formula.ColumnRef(col))

	g.recalculateDependents(ctx, col)
	return nil
}

// Calculate recalculates every formula column in dependency order
func (g *Grid) Calculate(ctx context.Context) error {
	order, hasCycle := g.graph.RecalculationOrder()
	for _, id := range order {
		g.recalculateColumn(ctx, id)
	}
	alog.Debugf(ctx, "recalculated %d formula column(s)", len(order))
	if hasCycle {
		return g.reportCycle(ctx)
	}
	return nil
}

// relink replaces the edges leaving col with edges to refs while keeping
// the edges of the formulas that read col
func (g *Grid) relink(col int, refs []int) {
	dependents := g.graph.Dependents(col)
	g.graph.RemoveDependencies(col)
	g.graph.MarkFormula(col)
	for _, ref := range refs {
		g.graph.AddDependency(col, ref)
	}
	for _, dependent := range dependents {
		g.graph.AddDependency(dependent, col)
	}
}

func (g *Grid) recalculateDependents(ctx context.Context, col int) {
	order, hasCycle := g.graph.RecalculationOrderFrom(col)
	if hasCycle {
		g.reportCycle(ctx)
	}
	for _, id := range order {
		g.recalculateColumn(ctx, id)
	}
}

func (g *Grid) recalculateColumn(ctx context.Context, id int) {
	c, exists := g.columns[id]
	if !exists || !c.isFormula() {
		return
	}
	for row := range g.rows {
		g.evaluateCell(ctx, c, row)
	}
}

// evaluateCell computes one formula cell. every operand of a formula is
// evaluated, conditional branches included, so an error in any referenced
// cell of the same row propagates without evaluating.
func (g *Grid) evaluateCell(ctx context.Context, c *column, row int) {
	if c == nil || !c.isFormula() {
		return
	}
	cells := g.rows[row]

	for _, ref := range c.refs {
		if upstream := cells[ref]; upstream != nil && upstream.Err != nil {
			cells[c.id] = &Cell{Err: upstream.Err}
			return
		}
	}

	v, err := c.program.Evaluate(g.scope(row, c))
	if err != nil {
		alog.Debugf(ctx, "%s row %d: %v", formula.ColumnRef(c.id), row, err)
		cells[c.id] = &Cell{Err: cellErrorFrom(err)}
		return
	}
	cells[c.id] = &Cell{Value: v}
}

// scope exposes the referenced cells of one row and all variables
func (g *Grid) scope(row int, c *column) *formula.Scope {
	scope := formula.NewScope()
	cells := g.rows[row]
	for _, ref := range c.refs {
		scope.SetColumn(ref, func() formula.Value {
			if cell := cells[ref]; cell != nil {
				return cell.Value
			}
			return formula.Null()
		})
	}
	for index, v := range g.variables {
		scope.SetVariable(index, formula.Constant(v))
	}
	return scope
}

// reportCycle logs the cycle, marks its cells with #REF! and returns it as
// a FailedPrecondition error
func (g *Grid) reportCycle(ctx context.Context) error {
	found, cycle := g.graph.TryFindCycle()
	if !found {
		return nil
	}
	alog.Warnf(ctx, "circular reference between columns %s", joinRefs(cycle))

	cellErr := NewCellError(ErrorCodeRef, "Circular reference detected", nil)
	for _, id := range cycle {
		for _, row := range g.rows {
			row[id] = &Cell{Err: cellErr}
		}
	}
	return NewApplicationError(codes.FailedPrecondition, "circular reference between columns %s", joinRefs(cycle))
}

func (g *Grid) column(id int) (*column, error) {
	c, exists := g.columns[id]
	if !exists {
		return nil, NewApplicationError(codes.NotFound, "column %s not found", formula.ColumnRef(id))
	}
	return c, nil
}

func (g *Grid) checkRow(row int) error {
	if row < 0 || row >= len(g.rows) {
		return NewApplicationError(codes.OutOfRange, "row %d out of range [0, %d)", row, len(g.rows))
	}
	return nil
}

func variableIndices(engine *formula.Engine, text string) ([]int, error) {
	refs, err := engine.VariableReferences(text)
	if err != nil {
		return nil, err
	}
	indices := make([]int, 0, len(refs))
	for _, ref := range refs {
		if index, ok := formula.ParseVariableRef(ref); ok {
			indices = append(indices, index)
		}
	}
	return indices, nil
}

func containsInt(values []int, target int) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func joinRefs(ids []int) string {
	refs := make([]string, len(ids))
	for i, id := range ids {
		refs[i] = formula.ColumnRef(id)
	}
	return strings.Join(refs, ", ")
}
