package application

import (
	"context"

	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

var _ ports.Executable = (*UnitAdapter)(nil)

// UnitAdapter lets a ports.Unit, possibly wrapped in a stage budget guard,
// sit in a Pipeline.
type UnitAdapter struct {
	unit ports.Unit
	id   string
}

// NewUnitAdapter wraps unit under id. An empty id falls back to the unit's
// name.
func NewUnitAdapter(unit ports.Unit, id string) *UnitAdapter {
	if id == "" {
		id = unit.Name()
	}
	return &UnitAdapter{unit: unit, id: id}
}

func (ua *UnitAdapter) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	return ua.unit.Execute(ctx, state)
}

func (ua *UnitAdapter) ID() string { return ua.id }
