package gamerpc_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/blukai/netplay/internal/gamerpc"
	"github.com/blukai/netplay/internal/protocol"
	"github.com/blukai/netplay/internal/rpc"
	"github.com/blukai/netplay/internal/world"
	"github.com/matryer/is"
	"github.com/phuslu/log"
)

func setup(is *is.I) (*rpc.Registry, *world.World) {
	is.Helper()

	rpcs, err := gamerpc.NewRegistry(nil)
	is.NoErr(err)

	w := world.New()
	w.Upsert(protocol.EntityState{ObjectID: 1, Position: protocol.Vec2{X: 0, Y: 0}, FacingRight: true})
	// within reach of 1
	w.Upsert(protocol.EntityState{ObjectID: 2, Position: protocol.Vec2{X: 40, Y: 0}})
	// far away
	w.Upsert(protocol.EntityState{ObjectID: 3, Position: protocol.Vec2{X: 500, Y: 0}})

	return rpcs, w
}

func TestNames(t *testing.T) {
	is := is.New(t)

	rpcs, _ := setup(is)
	is.Equal(rpcs.Names(), []string{
		gamerpc.AnimationForce,
		gamerpc.Ping,
		gamerpc.Spikes,
		gamerpc.TakeDamage,
	})
}

func TestAnimationForce(t *testing.T) {
	is := is.New(t)

	rpcs, w := setup(is)
	w.Act(1, func(target *world.Entity, _ []*world.Entity) { target.Frame = 4 })

	is.NoErr(rpcs.Dispatch(w, gamerpc.Call(gamerpc.AnimationForce, 1, protocol.AnimAttack1)))

	e, _ := w.Get(1)
	is.Equal(e.State.Anim, protocol.AnimAttack1)
	is.Equal(e.Frame, 0)

	err := rpcs.Dispatch(w, gamerpc.Call(gamerpc.AnimationForce, 1, protocol.Int(2)))
	is.True(errors.Is(err, rpc.ErrInvalidParams))
}

func TestTakeDamage(t *testing.T) {
	is := is.New(t)

	rpcs, w := setup(is)

	is.NoErr(rpcs.Dispatch(w, gamerpc.Call(gamerpc.TakeDamage, 2, protocol.Int(40))))
	e, _ := w.Get(2)
	is.Equal(e.Health, int32(60))
	is.True(!e.Dead)

	is.NoErr(rpcs.Dispatch(w, gamerpc.Call(gamerpc.TakeDamage, 2, protocol.Int(80))))
	e, _ = w.Get(2)
	is.Equal(e.Health, int32(0))
	is.True(e.Dead)
	is.Equal(e.State.Anim, protocol.AnimDeath)

	err := rpcs.Dispatch(w, gamerpc.Call(gamerpc.TakeDamage, 9, protocol.Int(1)))
	is.True(errors.Is(err, rpc.ErrEntityNotFound))
}

func TestSpikes(t *testing.T) {
	is := is.New(t)

	rpcs, w := setup(is)

	is.NoErr(rpcs.Dispatch(w, gamerpc.Call(gamerpc.Spikes, 1, protocol.Int(15))))

	caller, _ := w.Get(1)
	is.Equal(caller.Health, world.MaxHealth)
	near, _ := w.Get(2)
	is.Equal(near.Health, world.MaxHealth-15)
	far, _ := w.Get(3)
	is.Equal(far.Health, world.MaxHealth)
}

func TestSpikesFacingAway(t *testing.T) {
	is := is.New(t)

	rpcs, w := setup(is)
	w.ApplyMotion(1, protocol.Motion{FacingRight: false})

	is.NoErr(rpcs.Dispatch(w, gamerpc.Call(gamerpc.Spikes, 1, protocol.Int(15))))

	near, _ := w.Get(2)
	is.Equal(near.Health, world.MaxHealth)
}

func TestPing(t *testing.T) {
	is := is.New(t)

	buf := &bytes.Buffer{}
	rpcs, err := gamerpc.NewRegistry(&log.Logger{
		Level:  log.InfoLevel,
		Writer: &log.IOWriter{Writer: buf},
	})
	is.NoErr(err)

	is.NoErr(rpcs.Dispatch(nil, protocol.RPCCall{Function: gamerpc.Ping}))
	is.True(strings.Contains(buf.String(), "ping"))

	err = rpcs.Dispatch(nil, protocol.RPCCall{Function: gamerpc.Ping, Params: []protocol.Value{protocol.Int(1)}})
	is.True(errors.Is(err, rpc.ErrInvalidParams))
}
