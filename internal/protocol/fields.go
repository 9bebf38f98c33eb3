package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMissingField = errors.New("missing field")
	ErrFieldKind    = errors.New("unexpected field kind")
	ErrParamCount   = errors.New("unexpected param count")
)

func kindOf(v Value) string {
	if v == nil {
		return "nil"
	}
	return v.Kind().String()
}

func field[T Value](env *Envelope, key string) (T, error) {
	var zero T

	v, ok := env.Fields[key]
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrMissingField, key)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf(
			"%w: %q (got %s; want %s)",
			ErrFieldKind,
			key,
			kindOf(v),
			zero.Kind(),
		)
	}

	return t, nil
}

func (env *Envelope) Text(key string) (string, error) {
	v, err := field[Text](env, key)
	return string(v), err
}

func (env *Envelope) Int(key string) (int32, error) {
	v, err := field[Int](env, key)
	return int32(v), err
}

func (env *Envelope) EntitySnapshot(key string) (EntityState, error) {
	v, err := field[EntitySnapshot](env, key)
	return EntityState(v), err
}

func (env *Envelope) EntityMap(key string) (map[int32]EntityState, error) {
	v, err := field[EntityMap](env, key)
	return v, err
}

func (env *Envelope) Motion(key string) (Motion, error) {
	return field[Motion](env, key)
}

func (env *Envelope) RPCCall(key string) (RPCCall, error) {
	return field[RPCCall](env, key)
}

func (env *Envelope) AnimationState(key string) (AnimationState, error) {
	return field[AnimationState](env, key)
}

// Goal is the request name every message carries.
func (env *Envelope) Goal() (string, error) {
	return env.Text(FieldGoal)
}

// Params are the positional arguments of an rpc call.
type Params []Value

func param[T Value](p Params, i int) (T, error) {
	var zero T

	if i < 0 || i >= len(p) {
		return zero, fmt.Errorf("%w: no param %d (got %d params)", ErrParamCount, i, len(p))
	}
	t, ok := p[i].(T)
	if !ok {
		return zero, fmt.Errorf(
			"%w: param %d (got %s; want %s)",
			ErrFieldKind,
			i,
			kindOf(p[i]),
			zero.Kind(),
		)
	}

	return t, nil
}

func (p Params) Text(i int) (string, error) {
	v, err := param[Text](p, i)
	return string(v), err
}

func (p Params) Int(i int) (int32, error) {
	v, err := param[Int](p, i)
	return int32(v), err
}

func (p Params) EntitySnapshot(i int) (EntityState, error) {
	v, err := param[EntitySnapshot](p, i)
	return EntityState(v), err
}

func (p Params) Motion(i int) (Motion, error) {
	return param[Motion](p, i)
}

func (p Params) AnimationState(i int) (AnimationState, error) {
	return param[AnimationState](p, i)
}

// Check validates the params against a declared signature.
func (p Params) Check(kinds []Kind) error {
	if len(p) != len(kinds) {
		return fmt.Errorf("%w (got %d; want %d)", ErrParamCount, len(p), len(kinds))
	}
	for i, want := range kinds {
		if got := kindOf(p[i]); p[i] == nil || p[i].Kind() != want {
			return fmt.Errorf("%w: param %d (got %s; want %s)", ErrFieldKind, i, got, want)
		}
	}
	return nil
}
