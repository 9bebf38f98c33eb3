package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/blukai/netplay/internal/byteorder"
	"github.com/blukai/netplay/internal/debug"
	"github.com/blukai/netplay/internal/zigzag"
)

// wire layout (all integers are zigzag varints unless noted):
//
//	envelope = target:int32 count:uvarint (key:string value){count}
//	string   = len:uvarint bytes
//	value    = kind:u8 payload
//	entity   = anim:u8 owner:int32 object:int32 character:u8 x y vx vy:f32be facing:u8
//	motion   = x y vx vy:f32be anim:u8 facing:u8
//	map      = count:uvarint (id:int32 entity){count}
//	rpc      = function:string count:uvarint value{count}

const maxRPCDepth = 4

var (
	ErrEnvelopeTooLarge = errors.New("envelope exceeds datagram size")
	ErrTruncated        = errors.New("truncated data")
	ErrTrailingBytes    = errors.New("trailing bytes")
	ErrUnknownKind      = errors.New("unknown value kind")
	ErrInvalidEnum      = errors.New("invalid enum value")
	ErrDuplicateKey     = errors.New("duplicate key")
	ErrNilValue         = errors.New("nil value")
	ErrTooDeep          = errors.New("rpc call nested too deep")
)

type encoder struct {
	buf bytes.Buffer
	tmp [binary.MaxVarintLen64]byte
}

func (e *encoder) u8(v uint8) {
	e.buf.WriteByte(v)
}

func (e *encoder) uvarint(v uint64) {
	n := binary.PutUvarint(e.tmp[:], v)
	e.buf.Write(e.tmp[:n])
}

func (e *encoder) int32(v int32) {
	e.uvarint(uint64(zigzag.Encode32(v)))
}

func (e *encoder) str(s string) {
	e.uvarint(uint64(len(s)))
	e.buf.WriteString(s)
}

func (e *encoder) f32(v float32) {
	e.buf.Write(byteorder.Htonf(v))
}

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) entity(s EntityState) error {
	if !s.Anim.Valid() {
		return fmt.Errorf("%w: animation state %d", ErrInvalidEnum, s.Anim)
	}
	if !s.Character.Valid() {
		return fmt.Errorf("%w: character kind %d", ErrInvalidEnum, s.Character)
	}
	e.u8(uint8(s.Anim))
	e.int32(s.OwnerID)
	e.int32(s.ObjectID)
	e.u8(uint8(s.Character))
	e.f32(s.Position.X)
	e.f32(s.Position.Y)
	e.f32(s.Velocity.X)
	e.f32(s.Velocity.Y)
	e.bool(s.FacingRight)
	return nil
}

func (e *encoder) value(v Value, depth int) error {
	if v == nil {
		return ErrNilValue
	}

	e.u8(uint8(v.Kind()))

	switch v := v.(type) {
	case Text:
		e.str(string(v))
	case Int:
		e.int32(int32(v))
	case EntitySnapshot:
		return e.entity(EntityState(v))
	case EntityMap:
		ids := make([]int32, 0, len(v))
		for id := range v {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		e.uvarint(uint64(len(ids)))
		for _, id := range ids {
			e.int32(id)
			if err := e.entity(v[id]); err != nil {
				return fmt.Errorf("entity %d: %w", id, err)
			}
		}
	case Motion:
		if !v.Anim.Valid() {
			return fmt.Errorf("%w: animation state %d", ErrInvalidEnum, v.Anim)
		}
		e.f32(v.X)
		e.f32(v.Y)
		e.f32(v.VX)
		e.f32(v.VY)
		e.u8(uint8(v.Anim))
		e.bool(v.FacingRight)
	case RPCCall:
		if depth >= maxRPCDepth {
			return ErrTooDeep
		}
		e.str(v.Function)
		e.uvarint(uint64(len(v.Params)))
		for i, param := range v.Params {
			if err := e.value(param, depth+1); err != nil {
				return fmt.Errorf("param %d: %w", i, err)
			}
		}
	case AnimationState:
		if !v.Valid() {
			return fmt.Errorf("%w: animation state %d", ErrInvalidEnum, v)
		}
		e.u8(uint8(v))
	default:
		debug.Assert(false, fmt.Sprintf("unhandled value kind: %s", v.Kind()))
	}

	return nil
}

type decoder struct {
	data []byte
	off  int
}

func (d *decoder) remaining() int {
	return len(d.data) - d.off
}

func (d *decoder) u8() (uint8, error) {
	if d.remaining() < 1 {
		return 0, ErrTruncated
	}
	v := d.data[d.off]
	d.off += 1
	return v, nil
}

func (d *decoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.data[d.off:])
	if n == 0 {
		return 0, ErrTruncated
	}
	if n < 0 {
		return 0, fmt.Errorf("varint overflows 64 bits")
	}
	d.off += n
	return v, nil
}

func (d *decoder) int32() (int32, error) {
	v, err := d.uvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("varint %d overflows 32 bits", v)
	}
	return zigzag.Decode32(uint32(v)), nil
}

// count reads a collection length. every element takes at least one byte,
// so a count larger than what is left can't be honest.
func (d *decoder) count() (int, error) {
	v, err := d.uvarint()
	if err != nil {
		return 0, err
	}
	if v > uint64(d.remaining()) {
		return 0, ErrTruncated
	}
	return int(v), nil
}

func (d *decoder) str() (string, error) {
	n, err := d.count()
	if err != nil {
		return "", err
	}
	s := string(d.data[d.off : d.off+n])
	d.off += n
	return s, nil
}

func (d *decoder) f32() (float32, error) {
	if d.remaining() < 4 {
		return 0, ErrTruncated
	}
	v := byteorder.Ntohf(d.data[d.off : d.off+4])
	d.off += 4
	return v, nil
}

func (d *decoder) bool() (bool, error) {
	v, err := d.u8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: bool %d", ErrInvalidEnum, v)
	}
}

func (d *decoder) anim() (AnimationState, error) {
	v, err := d.u8()
	if err != nil {
		return 0, err
	}
	anim := AnimationState(v)
	if !anim.Valid() {
		return 0, fmt.Errorf("%w: animation state %d", ErrInvalidEnum, v)
	}
	return anim, nil
}

func (d *decoder) entity() (EntityState, error) {
	s := EntityState{}
	var err error

	if s.Anim, err = d.anim(); err != nil {
		return s, err
	}
	if s.OwnerID, err = d.int32(); err != nil {
		return s, err
	}
	if s.ObjectID, err = d.int32(); err != nil {
		return s, err
	}

	kind, err := d.u8()
	if err != nil {
		return s, err
	}
	s.Character = CharacterKind(kind)
	if !s.Character.Valid() {
		return s, fmt.Errorf("%w: character kind %d", ErrInvalidEnum, kind)
	}

	for _, f := range []*float32{&s.Position.X, &s.Position.Y, &s.Velocity.X, &s.Velocity.Y} {
		if *f, err = d.f32(); err != nil {
			return s, err
		}
	}
	if s.FacingRight, err = d.bool(); err != nil {
		return s, err
	}

	return s, nil
}

func (d *decoder) value(depth int) (Value, error) {
	tag, err := d.u8()
	if err != nil {
		return nil, err
	}
	kind := Kind(tag)
	if !kind.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, tag)
	}

	switch kind {
	case KindText:
		s, err := d.str()
		if err != nil {
			return nil, err
		}
		return Text(s), nil
	case KindInt:
		n, err := d.int32()
		if err != nil {
			return nil, err
		}
		return Int(n), nil
	case KindEntitySnapshot:
		s, err := d.entity()
		if err != nil {
			return nil, err
		}
		return EntitySnapshot(s), nil
	case KindEntityMap:
		n, err := d.count()
		if err != nil {
			return nil, err
		}
		m := make(EntityMap, n)
		for i := 0; i < n; i++ {
			id, err := d.int32()
			if err != nil {
				return nil, err
			}
			if _, ok := m[id]; ok {
				return nil, fmt.Errorf("%w: entity %d", ErrDuplicateKey, id)
			}
			s, err := d.entity()
			if err != nil {
				return nil, fmt.Errorf("entity %d: %w", id, err)
			}
			m[id] = s
		}
		return m, nil
	case KindMotion:
		m := Motion{}
		for _, f := range []*float32{&m.X, &m.Y, &m.VX, &m.VY} {
			if *f, err = d.f32(); err != nil {
				return nil, err
			}
		}
		if m.Anim, err = d.anim(); err != nil {
			return nil, err
		}
		if m.FacingRight, err = d.bool(); err != nil {
			return nil, err
		}
		return m, nil
	case KindRPCCall:
		if depth >= maxRPCDepth {
			return nil, ErrTooDeep
		}
		call := RPCCall{}
		if call.Function, err = d.str(); err != nil {
			return nil, err
		}
		n, err := d.count()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			call.Params = make([]Value, 0, n)
		}
		for i := 0; i < n; i++ {
			param, err := d.value(depth + 1)
			if err != nil {
				return nil, fmt.Errorf("param %d: %w", i, err)
			}
			call.Params = append(call.Params, param)
		}
		return call, nil
	case KindAnimationState:
		anim, err := d.anim()
		if err != nil {
			return nil, err
		}
		return anim, nil
	}

	debug.Assert(false, fmt.Sprintf("unhandled value kind: %s", kind))
	return nil, nil
}
