package solver

import (
	"fmt"

	"github.com/example/go-camera/internal/arr"
	"github.com/example/go-camera/internal/hx"
)

// BuffersPerWorkspace is the number of full-grid arrays a Workspace holds.
const BuffersPerWorkspace = 6

// Workspace holds the arrays one reconstruction needs. It is owned by a
// single goroutine and reused across slices.
type Workspace struct {
	b    *arr.Array // measured data, zero off-schedule
	x    *arr.Array // estimate
	y    *arr.Array // momentum sequence
	z    *arr.Array // trial step
	g    *arr.Array // gradient
	spec *arr.Array // spectral buffer
}

// NewWorkspace allocates a workspace for grids of dimensionality d.
func NewWorkspace(d hx.Dim, extents ...int) (*Workspace, error) {
	ws := &Workspace{}
	for _, p := range ws.slots() {
		a, err := arr.New(d, extents...)
		if err != nil {
			return nil, fmt.Errorf("solver: workspace: %w", err)
		}
		*p = a
	}

	return ws, nil
}

// WorkspaceBytes returns the memory a workspace of the given shape needs.
func WorkspaceBytes(d hx.Dim, extents ...int) (int64, error) {
	n, err := arr.Bytes(d, extents...)
	if err != nil {
		return 0, err
	}

	return BuffersPerWorkspace * n, nil
}

func (ws *Workspace) slots() []**arr.Array {
	return []**arr.Array{&ws.b, &ws.x, &ws.y, &ws.z, &ws.g, &ws.spec}
}

// Measured returns the array the caller loads measured samples into.
func (ws *Workspace) Measured() *arr.Array { return ws.b }

// Estimate returns the current reconstruction. After Solve it holds the
// final time-domain estimate.
func (ws *Workspace) Estimate() *arr.Array { return ws.x }

// Release drops every buffer.
func (ws *Workspace) Release() {
	for _, p := range ws.slots() {
		(*p).Release()
		*p = nil
	}
}
