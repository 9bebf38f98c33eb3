package rpc

import (
	"errors"
	"fmt"
	"sort"

	"github.com/blukai/netplay/internal/protocol"
	"github.com/blukai/netplay/internal/world"
)

var (
	ErrUnknownFunction = errors.New("unknown rpc function")
	ErrEntityNotFound  = errors.New("entity not found")
	ErrInvalidParams   = errors.New("invalid rpc params")
	ErrNoInvoke        = errors.New("descriptor has no invoke func")
)

// Requirement says what a callable needs injected besides its params.
type Requirement uint8

const (
	RequiresNothing Requirement = iota
	// RequiresEntity means the first param is an Int entity id. It is
	// resolved against the local world and stripped from the params.
	RequiresEntity
)

// Call is what a callable receives.
type Call struct {
	// Entity is nil unless the descriptor requires an entity.
	Entity *world.Entity
	// Others holds every other live entity, never Entity itself.
	Others []*world.Entity
	Params protocol.Params
}

type Func func(call *Call) error

type Descriptor struct {
	Requires Requirement
	// Params is the declared signature of what remains after injection.
	Params []protocol.Kind
	Invoke Func
}

func NoParams(fn func()) Descriptor {
	return Descriptor{
		Requires: RequiresNothing,
		Invoke: func(*Call) error {
			fn()
			return nil
		},
	}
}

func IntParam(fn func(int32)) Descriptor {
	return Descriptor{
		Requires: RequiresNothing,
		Params:   []protocol.Kind{protocol.KindInt},
		Invoke: func(call *Call) error {
			n, err := call.Params.Int(0)
			if err != nil {
				return err
			}
			fn(n)
			return nil
		},
	}
}

func OnEntity(params []protocol.Kind, fn Func) Descriptor {
	return Descriptor{
		Requires: RequiresEntity,
		Params:   params,
		Invoke:   fn,
	}
}

// Registry maps function names to descriptors. It is built once at startup
// and never changes afterwards, so it is safe to share between goroutines.
type Registry struct {
	fns map[string]Descriptor
}

func NewRegistry(fns map[string]Descriptor) (*Registry, error) {
	r := &Registry{
		fns: make(map[string]Descriptor, len(fns)),
	}
	for name, d := range fns {
		if d.Invoke == nil {
			return nil, fmt.Errorf("%w: %q", ErrNoInvoke, name)
		}
		params := make([]protocol.Kind, len(d.Params))
		copy(params, d.Params)
		d.Params = params
		r.fns[name] = d
	}
	return r, nil
}

func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.fns[name]
	return d, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.fns))
	for name := range r.fns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch resolves call.Function and invokes it. Entity lookups go to w,
// the local mutable collection. Any error means nothing was invoked, except
// for errors returned by the callable itself.
func (r *Registry) Dispatch(w *world.World, call protocol.RPCCall) error {
	d, ok := r.fns[call.Function]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFunction, call.Function)
	}

	params := protocol.Params(call.Params)

	switch d.Requires {
	case RequiresNothing:
		if err := params.Check(d.Params); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInvalidParams, call.Function, err)
		}
		return d.Invoke(&Call{Params: params})
	case RequiresEntity:
		objectID, err := params.Int(0)
		if err != nil {
			return fmt.Errorf("%w: %q: entity id: %w", ErrInvalidParams, call.Function, err)
		}
		rest := params[1:]
		if err := rest.Check(d.Params); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInvalidParams, call.Function, err)
		}
		if w == nil {
			return fmt.Errorf("%w: %d", ErrEntityNotFound, objectID)
		}

		var invokeErr error
		found := w.Act(objectID, func(target *world.Entity, others []*world.Entity) {
			invokeErr = d.Invoke(&Call{
				Entity: target,
				Others: others,
				Params: rest,
			})
		})
		if !found {
			return fmt.Errorf("%w: %d", ErrEntityNotFound, objectID)
		}
		if invokeErr != nil {
			return fmt.Errorf("%q: %w", call.Function, invokeErr)
		}
		return nil
	default:
		return fmt.Errorf("%q: unknown requirement %d", call.Function, d.Requires)
	}
}
