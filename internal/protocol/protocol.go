package protocol

import (
	"encoding"
	"fmt"
	"sort"
)

const (
	// MaxDatagramSize is the receive buffer size on both ends. Anything
	// bigger would arrive truncated, so the encoder refuses to produce it.
	MaxDatagramSize = 1 << 10
)

const (
	// TargetLoopback addresses the host's own in-process client.
	TargetLoopback int32 = -1
	// TargetAuthority addresses the authority; peers always send with it.
	TargetAuthority int32 = 0
)

// Envelope is the unit that goes onto the wire: a routing target plus a set
// of named values. Field order is irrelevant; encoding sorts keys so that
// equal envelopes produce equal bytes.
type Envelope struct {
	Target int32
	Fields map[string]Value
}

var (
	_ encoding.BinaryMarshaler   = (*Envelope)(nil)
	_ encoding.BinaryUnmarshaler = (*Envelope)(nil)
)

func NewEnvelope(target int32) *Envelope {
	return &Envelope{
		Target: target,
		Fields: make(map[string]Value),
	}
}

// Set stores v under key and returns env so construction can be chained.
func (env *Envelope) Set(key string, v Value) *Envelope {
	if env.Fields == nil {
		env.Fields = make(map[string]Value)
	}
	env.Fields[key] = v
	return env
}

func (env *Envelope) Get(key string) (Value, bool) {
	v, ok := env.Fields[key]
	return v, ok
}

func (env *Envelope) MarshalBinary() ([]byte, error) {
	e := encoder{}

	keys := make([]string, 0, len(env.Fields))
	for key := range env.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	e.int32(env.Target)
	e.uvarint(uint64(len(keys)))
	for _, key := range keys {
		e.str(key)
		if err := e.value(env.Fields[key], 0); err != nil {
			return nil, fmt.Errorf("could not marshal field %q: %w", key, err)
		}
	}

	if e.buf.Len() > MaxDatagramSize {
		return nil, fmt.Errorf(
			"%w (got %d; want <= %d)",
			ErrEnvelopeTooLarge,
			e.buf.Len(),
			MaxDatagramSize,
		)
	}

	return e.buf.Bytes(), nil
}

// UnmarshalBinary fails closed: unknown kinds, out of range enums, duplicate
// keys and leftover bytes all reject the whole envelope.
func (env *Envelope) UnmarshalBinary(data []byte) error {
	if len(data) > MaxDatagramSize {
		return fmt.Errorf(
			"%w (got %d; want <= %d)",
			ErrEnvelopeTooLarge,
			len(data),
			MaxDatagramSize,
		)
	}

	d := decoder{data: data}

	target, err := d.int32()
	if err != nil {
		return fmt.Errorf("could not unmarshal target: %w", err)
	}

	n, err := d.count()
	if err != nil {
		return fmt.Errorf("could not unmarshal field count: %w", err)
	}

	fields := make(map[string]Value, n)
	for i := 0; i < n; i++ {
		key, err := d.str()
		if err != nil {
			return fmt.Errorf("could not unmarshal key %d: %w", i, err)
		}
		if _, ok := fields[key]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateKey, key)
		}
		v, err := d.value(0)
		if err != nil {
			return fmt.Errorf("could not unmarshal field %q: %w", key, err)
		}
		fields[key] = v
	}

	if d.remaining() != 0 {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, d.remaining())
	}

	env.Target = target
	env.Fields = fields

	return nil
}
