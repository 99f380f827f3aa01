// Package rx manages parameters that are shared between
// the recurrent steps of a model.
//
// A model with an RX step of n keeps up to n copies (slots)
// of each step parameter, and step i uses slot i mod n.
// The copies are allowed to drift apart during training
// and are pulled back together by a relaxation penalty.
package rx

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// Shared is the slot of parameters that have exactly one
// copy, regardless of the step.
const Shared = -1

// A Key identifies a parameter by slot and subcomponent.
type Key struct {
	Slot int
	Name string
}

func (k Key) String() string {
	if k.Slot == Shared {
		return k.Name
	}
	return fmt.Sprintf("RX%d/%s", k.Slot, k.Name)
}

// A Registry owns the parameters of a model.
//
// Parameters are created once, the first time they are
// requested, and the same *anydiff.Var is returned for
// every later request.
// A Registry is not safe for concurrent creation.
type Registry struct {
	Creator anyvec.Creator
	RXStep  int

	vars map[Key]*anydiff.Var
	keys []Key
}

// NewRegistry creates an empty registry.
func NewRegistry(c anyvec.Creator, rxStep int) *Registry {
	if rxStep < 1 {
		panic("RX step must be positive")
	}
	return &Registry{
		Creator: c,
		RXStep:  rxStep,
		vars:    map[Key]*anydiff.Var{},
	}
}

// SlotForStep maps a recurrent step index to its slot.
func (r *Registry) SlotForStep(step int) int {
	return step % r.RXStep
}

// Param returns the parameter for the key, creating it
// with init if it does not exist yet.
func (r *Registry) Param(slot int, name string, init func() anyvec.Vector) *anydiff.Var {
	if slot != Shared && (slot < 0 || slot >= r.RXStep) {
		panic(fmt.Sprintf("slot %d out of range", slot))
	}
	key := Key{Slot: slot, Name: name}
	if v, ok := r.vars[key]; ok {
		return v
	}
	v := anydiff.NewVar(init())
	r.vars[key] = v
	r.keys = append(r.keys, key)
	return v
}

// Lookup finds an existing parameter.
func (r *Registry) Lookup(slot int, name string) (*anydiff.Var, bool) {
	v, ok := r.vars[Key{Slot: slot, Name: name}]
	return v, ok
}

// Keys returns the keys in creation order.
func (r *Registry) Keys() []Key {
	return append([]Key{}, r.keys...)
}

// Vars returns every parameter in creation order.
func (r *Registry) Vars() []*anydiff.Var {
	res := make([]*anydiff.Var, len(r.keys))
	for i, k := range r.keys {
		res[i] = r.vars[k]
	}
	return res
}

// A Group is the set of slot copies of one subcomponent
// parameter.
type Group struct {
	Name  string
	Slots []int
	Vars  []*anydiff.Var
}

// Groups returns one Group for every slotted parameter
// name, in order of first creation.
// Slots that were never created are absent from a Group.
func (r *Registry) Groups() []*Group {
	var res []*Group
	byName := map[string]*Group{}
	for _, k := range r.keys {
		if k.Slot == Shared {
			continue
		}
		group, ok := byName[k.Name]
		if !ok {
			group = &Group{Name: k.Name}
			byName[k.Name] = group
			res = append(res, group)
		}
		group.Slots = append(group.Slots, k.Slot)
		group.Vars = append(group.Vars, r.vars[k])
	}
	return res
}
