package protocol

import "fmt"

// Kind is the wire tag of a Value variant.
type Kind uint8

const (
	_ Kind = iota
	KindText
	KindInt
	KindEntitySnapshot
	KindEntityMap
	KindMotion
	KindRPCCall
	KindAnimationState

	kindMax
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindEntitySnapshot:
		return "entity_snapshot"
	case KindEntityMap:
		return "entity_map"
	case KindMotion:
		return "motion"
	case KindRPCCall:
		return "rpc_call"
	case KindAnimationState:
		return "animation_state"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) valid() bool {
	return k > 0 && k < kindMax
}

// Value is a wire-transmissible value. The set of implementations is closed:
// only the types declared in this file satisfy it.
type Value interface {
	Kind() Kind
	isValue()
}

type Text string

type Int int32

type EntitySnapshot EntityState

type EntityMap map[int32]EntityState

type Motion struct {
	X           float32
	Y           float32
	VX          float32
	VY          float32
	Anim        AnimationState
	FacingRight bool
}

type RPCCall struct {
	Function string
	Params   []Value
}

func (Text) Kind() Kind           { return KindText }
func (Int) Kind() Kind            { return KindInt }
func (EntitySnapshot) Kind() Kind { return KindEntitySnapshot }
func (EntityMap) Kind() Kind      { return KindEntityMap }
func (Motion) Kind() Kind         { return KindMotion }
func (RPCCall) Kind() Kind        { return KindRPCCall }
func (AnimationState) Kind() Kind { return KindAnimationState }

func (Text) isValue()           {}
func (Int) isValue()            {}
func (EntitySnapshot) isValue() {}
func (EntityMap) isValue()      {}
func (Motion) isValue()         {}
func (RPCCall) isValue()        {}
func (AnimationState) isValue() {}

var (
	_ Value = Text("")
	_ Value = Int(0)
	_ Value = EntitySnapshot{}
	_ Value = EntityMap(nil)
	_ Value = Motion{}
	_ Value = RPCCall{}
	_ Value = AnimationState(0)
)
