package grid

import (
	"context"
	"fmt"

	"go.alis.build/alog"
	"google.golang.org/grpc/codes"

	"github.com/IAFahim/tabulate-sub000/packages/formula"
)

// RunnableGrid provides a chainable API over a Grid. the first error stops
// every later step and is kept until Run, Error or Reset.
type RunnableGrid struct {
	ctx  context.Context
	grid *Grid
	err  error
}

// NewRunnableGrid creates a RunnableGrid over a fresh grid. ctx is used for
// every logged step.
func NewRunnableGrid(ctx context.Context, opts ...formula.Option) *RunnableGrid {
	g, err := New(opts...)
	return &RunnableGrid{ctx: ctx, grid: g, err: err}
}

// Columns adds data columns by name (chainable)
func (r *RunnableGrid) Columns(names ...string) *RunnableGrid {
	if r.err != nil {
		return r // no-op if there's already an error
	}
	for _, name := range names {
		r.grid.AddColumn(r.ctx, name)
	}
	return r
}

// Rows appends n empty rows (chainable)
func (r *RunnableGrid) Rows(n int) *RunnableGrid {
	if r.err != nil {
		return r
	}
	for i := 0; i < n; i++ {
		r.grid.AddRow(r.ctx)
	}
	return r
}

// Set sets a data cell (chainable)
func (r *RunnableGrid) Set(row, col int, value any) *RunnableGrid {
	if r.err != nil {
		return r
	}
	r.err = r.grid.Set(r.ctx, row, col, value)
	return r
}

// SetColumn fills a data column from the first row down (chainable)
func (r *RunnableGrid) SetColumn(col int, values ...any) *RunnableGrid {
	if r.err != nil {
		return r
	}
	for row, value := range values {
		if err := r.grid.Set(r.ctx, row, col, value); err != nil {
			r.err = err
			return r
		}
	}
	return r
}

// Variable sets V<index> (chainable)
func (r *RunnableGrid) Variable(index int, value any) *RunnableGrid {
	if r.err != nil {
		return r
	}
	r.err = r.grid.SetVariable(r.ctx, index, value)
	return r
}

// Formula sets the formula of a column (chainable). a rejected formula
// becomes an InvalidArgument error carrying the validation message.
func (r *RunnableGrid) Formula(col int, text string) *RunnableGrid {
	if r.err != nil {
		return r
	}
	result, err := r.grid.SetFormula(r.ctx, col, text)
	if err != nil {
		r.err = err
		return r
	}
	if !result.IsValid {
		r.err = NewApplicationError(codes.InvalidArgument, "%s: %s %s",
			result.ErrorMessage, result.DetailedDescription, result.Suggestion)
	}
	return r
}

// Calculate recalculates all formulas (chainable)
func (r *RunnableGrid) Calculate() *RunnableGrid {
	if r.err != nil {
		return r
	}
	r.err = r.grid.Calculate(r.ctx)
	return r
}

// Run executes a final calculation and returns the grid and any error
func (r *RunnableGrid) Run() (*Grid, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.err = r.grid.Calculate(r.ctx); r.err != nil {
		return nil, r.err
	}
	return r.grid, nil
}

// Error returns the current error state
func (r *RunnableGrid) Error() error {
	return r.err
}

// Reset clears the error state (chainable)
func (r *RunnableGrid) Reset() *RunnableGrid {
	if r.grid != nil {
		r.err = nil
	}
	return r
}

// Grid returns the underlying grid, bypassing error tracking
func (r *RunnableGrid) Grid() *Grid {
	return r.grid
}

// Value is a helper to get a single value from the chain. a cell error is
// returned as a value-less Null and recorded as the chain error.
func (r *RunnableGrid) Value(row, col int) formula.Value {
	if r.err != nil {
		return formula.Null()
	}
	v, err := r.grid.Get(row, col)
	if err != nil {
		r.err = err
		return formula.Null()
	}
	return v
}

// Log logs the value of a cell at info level (chainable)
func (r *RunnableGrid) Log(row, col int) *RunnableGrid {
	if r.err != nil {
		return r
	}

	v, err := r.grid.Get(row, col)
	var output string
	switch {
	case err != nil:
		output = fmt.Sprintf("%s[%d]: %v", formula.ColumnRef(col), row, err)
	case v.IsNull():
		output = fmt.Sprintf("%s[%d]: <empty>", formula.ColumnRef(col), row)
	default:
		output = fmt.Sprintf("%s[%d]: %v", formula.ColumnRef(col), row, v)
	}
	alog.Info(r.ctx, output)
	return r
}
