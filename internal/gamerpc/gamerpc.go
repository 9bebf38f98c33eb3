// Package gamerpc holds the callables the game registers for remote
// invocation.
package gamerpc

import (
	"io"

	"github.com/blukai/netplay/internal/protocol"
	"github.com/blukai/netplay/internal/rpc"
	"github.com/phuslu/log"
)

const (
	AnimationForce = "animation_force"
	TakeDamage     = "take_damage"
	Spikes         = "spikes"
	Ping           = "ping"
)

// collider and attack reach, in world units
const (
	bodyWidth   = 32
	bodyHeight  = 64
	reachOffset = 32
	reachWidth  = 50
	reachHeight = 30
)

type rect struct {
	x, y, w, h float32
}

func (r rect) overlaps(o rect) bool {
	return r.x < o.x+o.w && o.x < r.x+r.w &&
		r.y < o.y+o.h && o.y < r.y+r.h
}

func body(s protocol.EntityState) rect {
	return rect{x: s.Position.X, y: s.Position.Y, w: bodyWidth, h: bodyHeight}
}

// reach is the zone in front of s, following the direction it faces.
func reach(s protocol.EntityState) rect {
	x := s.Position.X - reachWidth
	if s.FacingRight {
		x = s.Position.X + reachOffset
	}
	return rect{x: x, y: s.Position.Y, w: reachWidth, h: reachHeight}
}

func NewRegistry(logger *log.Logger) (*rpc.Registry, error) {
	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	return rpc.NewRegistry(map[string]rpc.Descriptor{
		AnimationForce: rpc.OnEntity(
			[]protocol.Kind{protocol.KindAnimationState},
			animationForce,
		),
		TakeDamage: rpc.OnEntity(
			[]protocol.Kind{protocol.KindInt},
			takeDamage,
		),
		Spikes: rpc.OnEntity(
			[]protocol.Kind{protocol.KindInt},
			spikes,
		),
		Ping: rpc.NoParams(func() {
			logger.Info().Msg("ping")
		}),
	})
}

func animationForce(call *rpc.Call) error {
	anim, err := call.Params.AnimationState(0)
	if err != nil {
		return err
	}
	call.Entity.ForceAnimation(anim)
	return nil
}

func takeDamage(call *rpc.Call) error {
	damage, err := call.Params.Int(0)
	if err != nil {
		return err
	}
	call.Entity.TakeDamage(damage)
	return nil
}

// spikes hurts every live entity within reach of the caller, never the
// caller itself.
func spikes(call *rpc.Call) error {
	damage, err := call.Params.Int(0)
	if err != nil {
		return err
	}
	if call.Entity.Dead {
		return nil
	}

	zone := reach(call.Entity.State)
	for _, other := range call.Others {
		if other.Dead || !zone.overlaps(body(other.State)) {
			continue
		}
		other.TakeDamage(damage)
	}
	return nil
}

// Call builds the wire form of an entity targeted call.
func Call(function string, objectID int32, params ...protocol.Value) protocol.RPCCall {
	return protocol.RPCCall{
		Function: function,
		Params:   append([]protocol.Value{protocol.Int(objectID)}, params...),
	}
}
