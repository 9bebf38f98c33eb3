package authority

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/blukai/netplay/internal/protocol"
	"github.com/blukai/netplay/internal/rpc"
	"github.com/blukai/netplay/internal/transport"
	"github.com/blukai/netplay/internal/world"
	"github.com/google/uuid"
	"github.com/phuslu/log"
)

var (
	ErrUnknownGoal  = errors.New("unknown goal")
	ErrUnregistered = errors.New("sender is not registered")
)

type Config struct {
	// Loopback is the reply address of the host's own client. It is
	// registered as protocol.TargetLoopback and never broadcast to.
	Loopback *net.UDPAddr
	// RPC resolves incoming rpc calls; nil means an empty table.
	RPC *rpc.Registry
	// World is the host's local entity collection; optional.
	World *world.World
}

// Authority holds the single writable copy of entity state. One mutex
// guards the registry and the entity map; handlers finish their mutation
// and compute what to send before releasing it, and nothing is sent or
// waited on while it is held.
type Authority struct {
	mu       sync.Mutex
	registry *Registry
	entities *Entities
	requests requests

	session string
	out     transport.Enqueuer
	rpcs    *rpc.Registry
	world   *world.World

	logger *log.Logger
}

var _ transport.Handler = (*Authority)(nil)

func New(out transport.Enqueuer, cfg Config, logger *log.Logger) *Authority {
	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	rpcs := cfg.RPC
	if rpcs == nil {
		rpcs, _ = rpc.NewRegistry(nil)
	}

	a := &Authority{
		registry: NewRegistry(),
		entities: NewEntities(),
		requests: make(requests),

		session: uuid.NewString(),
		out:     out,
		rpcs:    rpcs,
		world:   cfg.World,

		logger: logger,
	}
	if cfg.Loopback != nil {
		a.registry.RegisterLoopback(cfg.Loopback)
	}

	return a
}

// Session identifies this authority process; peers receive it with their
// client id.
func (a *Authority) Session() string {
	return a.session
}

// Peers counts registered remote peers.
func (a *Authority) Peers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registry.Len()
}

func (a *Authority) AllocateEntityID() int32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entities.AllocateID()
}

// AddEntity registers s on behalf of owner and announces it to every other
// peer. It returns the new object id.
func (a *Authority) AddEntity(s protocol.EntityState, owner int32) int32 {
	a.mu.Lock()
	s = a.entities.Add(s, owner)
	outs := a.announceLocked(s)
	a.mu.Unlock()

	a.spawn(s)
	a.enqueue(outs)

	return s.ObjectID
}

// ApplyMotion is the host side motion path; sender is usually
// protocol.TargetLoopback.
func (a *Authority) ApplyMotion(sender, objectID int32, m protocol.Motion) error {
	a.mu.Lock()
	outs, err := a.applyMotionLocked(sender, objectID, m)
	a.mu.Unlock()
	if err != nil {
		a.logger.Error().
			Int("object_id", int(objectID)).
			Msgf("could not apply motion: %v", err)
		return err
	}

	a.move(objectID, m)
	a.enqueue(outs)

	return nil
}

// SyncPlayers returns a copy of the full entity map.
func (a *Authority) SyncPlayers() map[int32]protocol.EntityState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entities.Snapshot()
}

// DispatchRPC runs call against the host's local world.
func (a *Authority) DispatchRPC(call protocol.RPCCall) error {
	return a.rpcs.Dispatch(a.world, call)
}

// BroadcastRPC forwards call to every remote peer. The host is expected to
// have applied it locally already.
func (a *Authority) BroadcastRPC(call protocol.RPCCall) int {
	a.mu.Lock()
	outs := a.fanOutLocked(protocol.TargetLoopback, func(target int32) *protocol.Envelope {
		return protocol.NewRPCCall(target, call)
	})
	a.mu.Unlock()

	a.enqueue(outs)
	return len(outs)
}

func (a *Authority) HandleEnvelope(env *protocol.Envelope, from *net.UDPAddr) []transport.Outbound {
	goal, err := env.Goal()
	if err != nil {
		a.logger.Error().
			Str("addr", from.String()).
			Msgf("could not read goal: %v", err)
		return nil
	}

	var outs []transport.Outbound
	switch goal {
	case protocol.GoalSync:
		outs, err = a.handleSync(from)
	case protocol.GoalGetSyncPlayers:
		outs, err = a.handleGetSyncPlayers(from)
	case protocol.GoalAddPlayer:
		outs, err = a.handleAddPlayer(env, from)
	case protocol.GoalObjectPosUpdate:
		outs, err = a.handleObjectPosUpdate(env, from)
	case protocol.GoalRPCCall:
		outs, err = a.handleRPCCall(env, from)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownGoal, goal)
	}

	if err != nil {
		a.logger.Error().
			Str("addr", from.String()).
			Str("goal", goal).
			Msgf("could not handle message: %v", err)
		return nil
	}
	return outs
}

func (a *Authority) handleSync(from *net.UDPAddr) ([]transport.Outbound, error) {
	a.mu.Lock()
	id, fresh := a.registry.Register(from)
	a.mu.Unlock()

	if fresh {
		a.logger.Info().
			Str("addr", from.String()).
			Int("client_id", int(id)).
			Msg("registered peer")
	}

	return []transport.Outbound{{
		Addr: from,
		Env:  protocol.NewConfirmConnect(id, id, a.session),
	}}, nil
}

func (a *Authority) handleGetSyncPlayers(from *net.UDPAddr) ([]transport.Outbound, error) {
	a.mu.Lock()
	target, ok := a.registry.Lookup(from)
	players := a.entities.Snapshot()
	a.mu.Unlock()

	if !ok {
		target = protocol.TargetAuthority
	}

	return []transport.Outbound{{
		Addr: from,
		Env:  protocol.NewRetSyncPlayers(target, players),
	}}, nil
}

func (a *Authority) handleAddPlayer(env *protocol.Envelope, from *net.UDPAddr) ([]transport.Outbound, error) {
	player, err := env.EntitySnapshot(protocol.FieldPlayer)
	if err != nil {
		return nil, err
	}
	request, hasRequest, err := optionalInt(env, protocol.FieldRequest)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	owner, ok := a.registry.Lookup(from)
	if !ok {
		return nil, ErrUnregistered
	}

	if hasRequest {
		// a retry whose first attempt got through, answer again without
		// creating a second entity
		if id, ok := a.requests.lookup(owner, request); ok {
			return []transport.Outbound{a.retPlayerObjID(from, owner, id, request, hasRequest)}, nil
		}
	}

	s := a.entities.Add(player, owner)
	if hasRequest {
		a.requests.remember(owner, request, s.ObjectID)
	}

	a.logger.Info().
		Int("object_id", int(s.ObjectID)).
		Int("owner_id", int(owner)).
		Msg("added entity")

	outs := []transport.Outbound{a.retPlayerObjID(from, owner, s.ObjectID, request, hasRequest)}
	outs = append(outs, a.announceLocked(s)...)

	// the world has its own lock and never calls back into the authority
	a.spawn(s)

	return outs, nil
}

func (a *Authority) retPlayerObjID(
	to *net.UDPAddr,
	target int32,
	objectID int32,
	request int32,
	hasRequest bool,
) transport.Outbound {
	env := protocol.NewRetPlayerObjID(target, objectID)
	if hasRequest {
		env.Set(protocol.FieldRequest, protocol.Int(request))
	}
	return transport.Outbound{Addr: to, Env: env}
}

func (a *Authority) handleObjectPosUpdate(env *protocol.Envelope, from *net.UDPAddr) ([]transport.Outbound, error) {
	objectID, err := env.Int(protocol.FieldObjectID)
	if err != nil {
		return nil, err
	}
	motion, err := env.Motion(protocol.FieldMotion)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	sender, ok := a.registry.Lookup(from)
	if !ok {
		a.mu.Unlock()
		return nil, ErrUnregistered
	}
	outs, err := a.applyMotionLocked(sender, objectID, motion)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	a.move(objectID, motion)

	return outs, nil
}

func (a *Authority) handleRPCCall(env *protocol.Envelope, from *net.UDPAddr) ([]transport.Outbound, error) {
	call, err := env.RPCCall(protocol.FieldRPC)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	sender, ok := a.registry.Lookup(from)
	a.mu.Unlock()
	if !ok {
		return nil, ErrUnregistered
	}

	if err := a.rpcs.Dispatch(a.world, call); err != nil {
		return nil, err
	}

	a.mu.Lock()
	outs := a.fanOutLocked(sender, func(target int32) *protocol.Envelope {
		return protocol.NewRPCCall(target, call)
	})
	a.mu.Unlock()

	return outs, nil
}

func (a *Authority) applyMotionLocked(sender, objectID int32, m protocol.Motion) ([]transport.Outbound, error) {
	if _, err := a.entities.ApplyMotion(sender, objectID, m); err != nil {
		return nil, err
	}

	return a.fanOutLocked(sender, func(target int32) *protocol.Envelope {
		return protocol.NewMotionBroadcast(target, objectID, m)
	}), nil
}

// announceLocked pushes a freshly added entity to everyone but its owner.
func (a *Authority) announceLocked(s protocol.EntityState) []transport.Outbound {
	return a.fanOutLocked(s.OwnerID, func(target int32) *protocol.Envelope {
		return protocol.NewAddPlayer(target, s)
	})
}

// fanOutLocked builds one envelope per remote peer, skipping except and the
// loopback peer.
func (a *Authority) fanOutLocked(except int32, build func(target int32) *protocol.Envelope) []transport.Outbound {
	others := a.registry.others(except)
	outs := make([]transport.Outbound, 0, len(others))
	for _, p := range others {
		outs = append(outs, transport.Outbound{Addr: p.addr, Env: build(p.id)})
	}
	return outs
}

func (a *Authority) spawn(s protocol.EntityState) {
	if a.world != nil {
		a.world.Upsert(s)
	}
}

func (a *Authority) move(objectID int32, m protocol.Motion) {
	if a.world != nil {
		a.world.ApplyMotion(objectID, m)
	}
}

func (a *Authority) enqueue(outs []transport.Outbound) {
	for _, out := range outs {
		a.out.Enqueue(out)
	}
}

func optionalInt(env *protocol.Envelope, key string) (int32, bool, error) {
	if _, ok := env.Get(key); !ok {
		return 0, false, nil
	}
	v, err := env.Int(key)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}
