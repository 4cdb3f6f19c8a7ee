// Package lifecycle owns job status transitions.
package lifecycle

import (
	"fmt"

	"data-cleaning-service/internal/models"
)

// Definition is a state graph. Escape, when set, is reachable from every state.
type Definition struct {
	Edges  map[models.Status][]models.Status
	Escape models.Status
}

// Default returns the cleaning pipeline graph.
func Default() Definition {
	return Definition{
		Edges: map[models.Status][]models.Status{
			models.StatusPending:    {models.StatusProfiling},
			models.StatusProfiling:  {models.StatusSuggesting, models.StatusFailed},
			models.StatusSuggesting: {models.StatusApplying, models.StatusFailed},
			models.StatusApplying:   {models.StatusDone, models.StatusFailed},
			models.StatusDone:       {},
			models.StatusFailed:     {models.StatusProfiling},
		},
		Escape: models.StatusFailed,
	}
}

// Machine validates transitions against an immutable Definition.
type Machine struct {
	edges  map[models.Status]map[models.Status]bool
	escape models.Status
}

func NewMachine(def Definition) *Machine {
	m := &Machine{edges: make(map[models.Status]map[models.Status]bool, len(def.Edges)), escape: def.Escape}
	for from, targets := range def.Edges {
		set := make(map[models.Status]bool, len(targets))
		for _, to := range targets {
			set[to] = true
		}
		m.edges[from] = set
	}
	return m
}

// CanTransition reports whether from -> to is allowed. The escape state is
// always reachable.
func (m *Machine) CanTransition(from, to models.Status) bool {
	if m.escape != "" && to == m.escape {
		return true
	}
	return m.edges[from][to]
}

// Validate returns models.ErrInvalidTransition when from -> to is not allowed.
func (m *Machine) Validate(from, to models.Status) error {
	if !m.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}
	return nil
}

// Known reports whether s is a state of the graph.
func (m *Machine) Known(s models.Status) bool {
	_, ok := m.edges[s]
	return ok
}

// Terminal reports whether s has no outgoing edges besides the escape.
func (m *Machine) Terminal(s models.Status) bool {
	return len(m.edges[s]) == 0
}
