package peer_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/blukai/netplay/internal/peer"
	"github.com/blukai/netplay/internal/protocol"
	"github.com/blukai/netplay/internal/rpc"
	"github.com/blukai/netplay/internal/session"
	"github.com/blukai/netplay/internal/transport"
	"github.com/blukai/netplay/internal/world"
	"github.com/matryer/is"
)

var authorityAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 13882}

// fakeAuthority answers what the peer enqueues synchronously, the way the
// real one would a tick later.
type fakeAuthority struct {
	mu      sync.Mutex
	sent    []*protocol.Envelope
	respond func(env *protocol.Envelope) []*protocol.Envelope
	full    bool

	peer *peer.Peer
}

func (f *fakeAuthority) Enqueue(out transport.Outbound) bool {
	f.mu.Lock()
	if f.full {
		f.mu.Unlock()
		return false
	}
	f.sent = append(f.sent, out.Env)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		for _, reply := range respond(out.Env) {
			f.peer.HandleEnvelope(reply, authorityAddr)
		}
	}
	return true
}

func (f *fakeAuthority) goals() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	goals := make([]string, 0, len(f.sent))
	for _, env := range f.sent {
		g, _ := env.Goal()
		goals = append(goals, g)
	}
	return goals
}

func (f *fakeAuthority) setFull(full bool) {
	f.mu.Lock()
	f.full = full
	f.mu.Unlock()
}

func (f *fakeAuthority) last() *protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

// standard answers like a fresh authority that assigned client id 3.
func standard(env *protocol.Envelope) []*protocol.Envelope {
	goal, _ := env.Goal()
	switch goal {
	case protocol.GoalSync:
		return []*protocol.Envelope{protocol.NewConfirmConnect(3, 3, "session-a")}
	case protocol.GoalAddPlayer:
		request, _ := env.Int(protocol.FieldRequest)
		return []*protocol.Envelope{
			protocol.NewRetPlayerObjID(3, 10+request).
				Set(protocol.FieldRequest, protocol.Int(request)),
		}
	case protocol.GoalGetSyncPlayers:
		return []*protocol.Envelope{
			protocol.NewRetSyncPlayers(3, map[int32]protocol.EntityState{
				1: {ObjectID: 1, OwnerID: -1},
				2: {ObjectID: 2, OwnerID: 1},
			}),
		}
	}
	return nil
}

func newPeer(respond func(env *protocol.Envelope) []*protocol.Envelope, cfg peer.Config) (*peer.Peer, *fakeAuthority) {
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Millisecond
	}
	f := &fakeAuthority{respond: respond}
	f.peer = peer.New(f, cfg, nil)
	return f.peer, f
}

func TestConnect(t *testing.T) {
	is := is.New(t)

	p, f := newPeer(standard, peer.Config{Authority: authorityAddr})

	_, ok := p.ID()
	is.True(!ok)

	id, err := p.Connect(context.Background())
	is.NoErr(err)
	is.Equal(id, int32(3))
	is.Equal(p.Session(), "session-a")
	is.Equal(f.goals(), []string{protocol.GoalSync})

	got, ok := p.ID()
	is.True(ok)
	is.Equal(got, int32(3))

	_, err = p.Connect(context.Background())
	is.True(errors.Is(err, session.ErrAlreadyStarted))
}

func TestConnectRetriesThenFails(t *testing.T) {
	is := is.New(t)

	p, f := newPeer(nil, peer.Config{Attempts: 3})

	_, err := p.Connect(context.Background())
	is.True(errors.Is(err, session.ErrBootstrapFailed))
	is.Equal(len(f.goals()), 3)

	_, ok := p.ID()
	is.True(!ok)
}

func TestConnectSurvivesLostReplies(t *testing.T) {
	is := is.New(t)

	var n int
	p, _ := newPeer(func(env *protocol.Envelope) []*protocol.Envelope {
		n += 1
		if n < 3 {
			return nil
		}
		return standard(env)
	}, peer.Config{})

	id, err := p.Connect(context.Background())
	is.NoErr(err)
	is.Equal(id, int32(3))
}

func TestConnectRejectsAuthorityID(t *testing.T) {
	is := is.New(t)

	var n int
	p, _ := newPeer(func(env *protocol.Envelope) []*protocol.Envelope {
		n += 1
		if n == 1 {
			return []*protocol.Envelope{protocol.NewConfirmConnect(0, protocol.TargetAuthority, "session-a")}
		}
		return standard(env)
	}, peer.Config{})

	id, err := p.Connect(context.Background())
	is.NoErr(err)
	is.Equal(id, int32(3))
	is.True(n > 1)
}

func TestConnectFailsOnAuthorityIDOnly(t *testing.T) {
	is := is.New(t)

	p, _ := newPeer(func(env *protocol.Envelope) []*protocol.Envelope {
		return []*protocol.Envelope{protocol.NewConfirmConnect(0, protocol.TargetAuthority, "session-a")}
	}, peer.Config{Attempts: 2})

	_, err := p.Connect(context.Background())
	is.True(errors.Is(err, session.ErrBootstrapFailed))
	_, ok := p.ID()
	is.True(!ok)
	is.Equal(p.Session(), "")
}

func TestForeignDatagramIsDropped(t *testing.T) {
	is := is.New(t)

	p, _ := newPeer(nil, peer.Config{Authority: authorityAddr})
	stranger := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}

	p.HandleEnvelope(protocol.NewAddPlayer(1, protocol.EntityState{ObjectID: 5}), stranger)
	is.Equal(p.Replica().Len(), 0)

	p.HandleEnvelope(protocol.NewAddPlayer(1, protocol.EntityState{ObjectID: 5}), authorityAddr)
	is.Equal(p.Replica().Len(), 1)
}

func TestAddEntity(t *testing.T) {
	is := is.New(t)

	p, f := newPeer(standard, peer.Config{})

	_, err := p.AddEntity(context.Background(), protocol.EntityState{})
	is.True(errors.Is(err, peer.ErrNotConnected))

	_, err = p.Connect(context.Background())
	is.NoErr(err)

	s, err := p.AddEntity(context.Background(), protocol.EntityState{Character: protocol.CharacterWitch})
	is.NoErr(err)
	is.Equal(s.ObjectID, int32(11))
	is.Equal(s.OwnerID, int32(3))
	is.Equal(s.Character, protocol.CharacterWitch)

	sent := f.last()
	request, err := sent.Int(protocol.FieldRequest)
	is.NoErr(err)
	is.Equal(request, int32(1))

	cached, ok := p.Replica().Get(11)
	is.True(ok)
	is.Equal(cached, s)

	e, ok := p.World().Get(11)
	is.True(ok)
	is.Equal(e.State, s)
}

func TestAddEntityFails(t *testing.T) {
	is := is.New(t)

	p, _ := newPeer(func(env *protocol.Envelope) []*protocol.Envelope {
		goal, _ := env.Goal()
		if goal == protocol.GoalAddPlayer {
			return nil
		}
		return standard(env)
	}, peer.Config{Attempts: 2})

	_, err := p.Connect(context.Background())
	is.NoErr(err)

	_, err = p.AddEntity(context.Background(), protocol.EntityState{})
	is.True(errors.Is(err, session.ErrBootstrapFailed))
	is.Equal(p.Replica().Len(), 0)
}

func TestStrayObjectIDIsIgnored(t *testing.T) {
	is := is.New(t)

	p, _ := newPeer(standard, peer.Config{})
	_, err := p.Connect(context.Background())
	is.NoErr(err)

	p.HandleEnvelope(protocol.NewRetPlayerObjID(3, 4).Set(protocol.FieldRequest, protocol.Int(42)), authorityAddr)
	p.HandleEnvelope(protocol.NewRetPlayerObjID(3, 4), authorityAddr)
	is.Equal(p.Replica().Len(), 0)
}

func TestRequestSync(t *testing.T) {
	is := is.New(t)

	p, _ := newPeer(standard, peer.Config{})
	p.Replica().Insert(protocol.EntityState{ObjectID: 9})

	n, err := p.RequestSync(context.Background())
	is.NoErr(err)
	is.Equal(n, 2)

	// whole map replace
	is.Equal(p.Replica().Len(), 2)
	_, ok := p.Replica().Get(9)
	is.True(!ok)

	is.Equal(p.World().Len(), 2)
}

func TestRequestSyncCancelled(t *testing.T) {
	is := is.New(t)

	p, _ := newPeer(nil, peer.Config{Interval: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.RequestSync(ctx)
	is.True(errors.Is(err, session.ErrBootstrapFailed))
	is.True(errors.Is(err, context.DeadlineExceeded))
}

func TestMotionBroadcast(t *testing.T) {
	is := is.New(t)

	p, _ := newPeer(nil, peer.Config{})
	p.HandleEnvelope(protocol.NewAddPlayer(3, protocol.EntityState{ObjectID: 2, OwnerID: 1}), authorityAddr)

	m := protocol.Motion{X: 5, Y: 6, VX: 1, Anim: protocol.AnimRunning}
	p.HandleEnvelope(protocol.NewMotionBroadcast(3, 2, m), authorityAddr)

	s, ok := p.Replica().Get(2)
	is.True(ok)
	is.Equal(s.MotionSample(), m)

	e, ok := p.World().Get(2)
	is.True(ok)
	is.Equal(e.State.Position, protocol.Vec2{X: 5, Y: 6})

	// unknown entity leaves everything as it was
	before := p.Replica().Snapshot()
	p.HandleEnvelope(protocol.NewMotionBroadcast(3, 77, m), authorityAddr)
	is.Equal(p.Replica().Snapshot(), before)
	is.Equal(p.World().Len(), 1)
}

func TestSendMotion(t *testing.T) {
	is := is.New(t)

	p, f := newPeer(standard, peer.Config{})
	_, err := p.Connect(context.Background())
	is.NoErr(err)
	s, err := p.AddEntity(context.Background(), protocol.EntityState{})
	is.NoErr(err)

	p.HandleEnvelope(protocol.NewAddPlayer(3, protocol.EntityState{ObjectID: 1, OwnerID: 1}), authorityAddr)

	m := protocol.Motion{X: 1, Y: 1, FacingRight: true}

	err = p.SendMotion(99, m)
	is.True(errors.Is(err, peer.ErrUnknownEntity))
	err = p.SendMotion(1, m)
	is.True(errors.Is(err, peer.ErrNotOwner))

	is.NoErr(p.SendMotion(s.ObjectID, m))

	sent := f.last()
	goal, err := sent.Goal()
	is.NoErr(err)
	is.Equal(goal, protocol.GoalObjectPosUpdate)
	is.Equal(sent.Target, protocol.TargetAuthority)
	got, err := sent.Motion(protocol.FieldMotion)
	is.NoErr(err)
	is.Equal(got, m)

	cached, _ := p.Replica().Get(s.ObjectID)
	is.True(cached.FacingRight)
}

func TestSendMotionRecoversFromFullQueue(t *testing.T) {
	is := is.New(t)

	p, f := newPeer(standard, peer.Config{})
	_, err := p.Connect(context.Background())
	is.NoErr(err)
	s, err := p.AddEntity(context.Background(), protocol.EntityState{})
	is.NoErr(err)

	f.setFull(true)
	err = p.SendMotion(s.ObjectID, protocol.Motion{X: 1})
	is.True(errors.Is(err, peer.ErrQueueFull))

	f.setFull(false)
	is.NoErr(p.SendMotion(s.ObjectID, protocol.Motion{X: 2}))

	got, err := f.last().Motion(protocol.FieldMotion)
	is.NoErr(err)
	is.Equal(got.X, float32(2))
}

func TestRPC(t *testing.T) {
	rpcs, err := rpc.NewRegistry(map[string]rpc.Descriptor{
		"hit": rpc.OnEntity([]protocol.Kind{protocol.KindInt}, func(call *rpc.Call) error {
			n, err := call.Params.Int(0)
			if err != nil {
				return err
			}
			call.Entity.TakeDamage(n)
			return nil
		}),
	})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("received", func(t *testing.T) {
		is := is.New(t)

		w := world.New()
		w.Upsert(protocol.EntityState{ObjectID: 1})
		p, _ := newPeer(nil, peer.Config{RPC: rpcs, World: w})

		call := protocol.RPCCall{Function: "hit", Params: []protocol.Value{protocol.Int(1), protocol.Int(30)}}
		p.HandleEnvelope(protocol.NewRPCCall(3, call), authorityAddr)

		e, _ := w.Get(1)
		is.Equal(e.Health, world.MaxHealth-30)
	})

	t.Run("sent", func(t *testing.T) {
		is := is.New(t)

		w := world.New()
		w.Upsert(protocol.EntityState{ObjectID: 1})
		p, f := newPeer(standard, peer.Config{RPC: rpcs, World: w})

		call := protocol.RPCCall{Function: "hit", Params: []protocol.Value{protocol.Int(1), protocol.Int(5)}}
		is.True(errors.Is(p.SendRPC(call), peer.ErrNotConnected))

		_, err := p.Connect(context.Background())
		is.NoErr(err)

		is.NoErr(p.SendRPC(call))
		e, _ := w.Get(1)
		is.Equal(e.Health, world.MaxHealth-5)

		sent, err := f.last().RPCCall(protocol.FieldRPC)
		is.NoErr(err)
		is.Equal(sent, call)

		// nothing goes out when the local dispatch fails
		before := len(f.goals())
		err = p.SendRPC(protocol.RPCCall{Function: "nope"})
		is.True(errors.Is(err, rpc.ErrUnknownFunction))
		is.Equal(len(f.goals()), before)
	})
}
