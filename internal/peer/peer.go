package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/blukai/netplay/internal/protocol"
	"github.com/blukai/netplay/internal/replica"
	"github.com/blukai/netplay/internal/rpc"
	"github.com/blukai/netplay/internal/session"
	"github.com/blukai/netplay/internal/transport"
	"github.com/blukai/netplay/internal/world"
	"github.com/phuslu/log"
)

var (
	ErrNotConnected    = errors.New("not connected")
	ErrUnknownEntity   = errors.New("unknown entity")
	ErrNotOwner        = errors.New("entity is owned by another peer")
	ErrQueueFull       = errors.New("outbound queue full")
	ErrSyncInProgress  = errors.New("sync already in progress")
	ErrUnknownGoal     = errors.New("unknown goal")
	ErrUnknownRequest  = errors.New("no pending request")
	ErrForeignDatagram = errors.New("datagram is not from the authority")
	ErrReservedID      = errors.New("client id is reserved for the authority")
)

type Config struct {
	// Authority, when set, is the only address envelopes are accepted from.
	Authority *net.UDPAddr

	// Attempts and Interval bound every wait on the authority: connect,
	// entity creation and sync pulls.
	Attempts int
	Interval time.Duration

	RPC   *rpc.Registry
	World *world.World
}

// Peer is the non-authoritative side. It never replies to anything it
// receives; requests go out through the Enqueuer and answers resolve the
// bootstrap that is waiting for them.
type Peer struct {
	mu          sync.Mutex
	session     string
	sync        *session.Bootstrap[int]
	pending     map[int32]*session.Bootstrap[int32]
	nextRequest int32
	owned       map[int32]struct{}

	connect *session.Bootstrap[int32]

	cfg     Config
	out     transport.Enqueuer
	replica *replica.Cache
	world   *world.World
	rpcs    *rpc.Registry

	logger *log.Logger
}

var _ transport.Handler = (*Peer)(nil)

func New(out transport.Enqueuer, cfg Config, logger *log.Logger) *Peer {
	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	if cfg.Attempts <= 0 {
		cfg.Attempts = session.DefaultAttempts
	}
	if cfg.Interval <= 0 {
		cfg.Interval = session.DefaultInterval
	}

	w := cfg.World
	if w == nil {
		w = world.New()
	}
	rpcs := cfg.RPC
	if rpcs == nil {
		rpcs, _ = rpc.NewRegistry(nil)
	}

	return &Peer{
		pending: make(map[int32]*session.Bootstrap[int32]),
		owned:   make(map[int32]struct{}),

		connect: session.New[int32](cfg.Attempts, cfg.Interval),

		cfg:     cfg,
		out:     out,
		replica: replica.New(logger),
		world:   w,
		rpcs:    rpcs,

		logger: logger,
	}
}

// ID is the client id the authority assigned; ok is false until Connect
// succeeded.
func (p *Peer) ID() (id int32, ok bool) {
	return p.connect.Value()
}

func (p *Peer) Session() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

func (p *Peer) Replica() *replica.Cache {
	return p.replica
}

func (p *Peer) World() *world.World {
	return p.world
}

func (p *Peer) send(env *protocol.Envelope) error {
	if !p.out.Enqueue(transport.Outbound{Env: env}) {
		return ErrQueueFull
	}
	return nil
}

// Connect repeats sync until the authority hands out a client id. It can
// only be called once; a failed connect is final.
func (p *Peer) Connect(ctx context.Context) (int32, error) {
	env := protocol.NewSync()
	id, err := p.connect.Run(ctx, func() error {
		return p.send(env)
	})
	if err != nil {
		return 0, fmt.Errorf("could not connect: %w", err)
	}

	p.logger.Info().
		Int("client_id", int(id)).
		Str("session", p.Session()).
		Int("attempts", p.connect.Attempts()).
		Msg("connected")

	return id, nil
}

// AddEntity asks the authority to create s and waits for its object id.
// Once confirmed, the entity is owned by this peer and present in both the
// replica and the world.
func (p *Peer) AddEntity(ctx context.Context, s protocol.EntityState) (protocol.EntityState, error) {
	clientID, ok := p.ID()
	if !ok {
		return s, ErrNotConnected
	}

	b := session.New[int32](p.cfg.Attempts, p.cfg.Interval)

	p.mu.Lock()
	p.nextRequest += 1
	request := p.nextRequest
	p.pending[request] = b
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, request)
		p.mu.Unlock()
	}()

	env := protocol.NewAddPlayer(protocol.TargetAuthority, s).
		Set(protocol.FieldRequest, protocol.Int(request))
	objectID, err := b.Run(ctx, func() error {
		return p.send(env)
	})
	if err != nil {
		return s, fmt.Errorf("could not add entity: %w", err)
	}

	s.ObjectID = objectID
	s.OwnerID = clientID

	p.mu.Lock()
	p.owned[objectID] = struct{}{}
	p.mu.Unlock()

	p.replica.Insert(s)
	p.world.Upsert(s)

	p.logger.Info().
		Int("object_id", int(objectID)).
		Msg("added entity")

	return s, nil
}

// RequestSync pulls the full entity map and reports how many entities it
// held. Only one pull can be in flight.
func (p *Peer) RequestSync(ctx context.Context) (int, error) {
	b := session.New[int](p.cfg.Attempts, p.cfg.Interval)

	p.mu.Lock()
	if p.sync != nil {
		p.mu.Unlock()
		return 0, ErrSyncInProgress
	}
	p.sync = b
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.sync = nil
		p.mu.Unlock()
	}()

	env := protocol.NewGetSyncPlayers()
	n, err := b.Run(ctx, func() error {
		return p.send(env)
	})
	if err != nil {
		return 0, fmt.Errorf("could not sync: %w", err)
	}
	return n, nil
}

// SendMotion updates an owned entity locally and tells the authority.
func (p *Peer) SendMotion(objectID int32, m protocol.Motion) error {
	if _, ok := p.replica.Get(objectID); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, objectID)
	}

	p.mu.Lock()
	_, owned := p.owned[objectID]
	p.mu.Unlock()
	if !owned {
		return fmt.Errorf("%w: %d", ErrNotOwner, objectID)
	}

	p.replica.ApplyMotion(objectID, m)
	p.world.ApplyMotion(objectID, m)

	return p.send(protocol.NewObjectPosUpdate(objectID, m))
}

// SendRPC runs call locally and, if that worked, has the authority relay it
// to everyone else.
func (p *Peer) SendRPC(call protocol.RPCCall) error {
	if _, ok := p.ID(); !ok {
		return ErrNotConnected
	}
	if err := p.rpcs.Dispatch(p.world, call); err != nil {
		return err
	}
	return p.send(protocol.NewRPCCall(protocol.TargetAuthority, call))
}

func (p *Peer) HandleEnvelope(env *protocol.Envelope, from *net.UDPAddr) []transport.Outbound {
	if p.cfg.Authority != nil && !sameAddr(p.cfg.Authority, from) {
		p.logger.Warn().
			Str("addr", from.String()).
			Msgf("dropping envelope: %v", ErrForeignDatagram)
		return nil
	}

	goal, err := env.Goal()
	if err != nil {
		p.logger.Error().
			Str("addr", from.String()).
			Msgf("could not read goal: %v", err)
		return nil
	}

	switch goal {
	case protocol.GoalConfirmConnect:
		err = p.handleConfirmConnect(env)
	case protocol.GoalRetSyncPlayers:
		err = p.handleRetSyncPlayers(env)
	case protocol.GoalAddPlayer:
		err = p.handleAddPlayer(env)
	case protocol.GoalRetPlayerObjID:
		err = p.handleRetPlayerObjID(env)
	case protocol.GoalMotionBroadcast:
		err = p.handleMotionBroadcast(env)
	case protocol.GoalRPCCall:
		err = p.handleRPCCall(env)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownGoal, goal)
	}

	if err != nil {
		p.logger.Error().
			Str("addr", from.String()).
			Str("goal", goal).
			Msgf("could not handle message: %v", err)
	}
	return nil
}

func (p *Peer) handleConfirmConnect(env *protocol.Envelope) error {
	id, err := env.Int(protocol.FieldID)
	if err != nil {
		return err
	}
	sess, err := env.Text(protocol.FieldSession)
	if err != nil {
		return err
	}

	if p.connect.State() != session.AwaitingID {
		p.logger.Debug().
			Int("client_id", int(id)).
			Msg("ignoring late confirm connect")
		return nil
	}
	// 0 addresses the authority itself and is never handed to a peer
	if id == protocol.TargetAuthority {
		return fmt.Errorf("%w: %d", ErrReservedID, id)
	}

	// session first, so it is set by the time Connect returns
	p.mu.Lock()
	p.session = sess
	p.mu.Unlock()

	p.connect.Resolve(id)
	return nil
}

func (p *Peer) handleRetSyncPlayers(env *protocol.Envelope) error {
	players, err := env.EntityMap(protocol.FieldPlayers)
	if err != nil {
		return err
	}

	p.replica.Replace(players)
	for _, s := range players {
		p.world.Upsert(s)
	}

	p.mu.Lock()
	b := p.sync
	p.mu.Unlock()
	if b != nil {
		b.Resolve(len(players))
	}
	return nil
}

func (p *Peer) handleAddPlayer(env *protocol.Envelope) error {
	s, err := env.EntitySnapshot(protocol.FieldPlayer)
	if err != nil {
		return err
	}

	p.replica.Insert(s)
	p.world.Upsert(s)
	return nil
}

func (p *Peer) handleRetPlayerObjID(env *protocol.Envelope) error {
	id, err := env.Int(protocol.FieldID)
	if err != nil {
		return err
	}
	request, err := env.Int(protocol.FieldRequest)
	if err != nil {
		return err
	}

	p.mu.Lock()
	b, ok := p.pending[request]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownRequest, request)
	}

	b.Resolve(id)
	return nil
}

func (p *Peer) handleMotionBroadcast(env *protocol.Envelope) error {
	objectID, err := env.Int(protocol.FieldObjectID)
	if err != nil {
		return err
	}
	m, err := env.Motion(protocol.FieldMotion)
	if err != nil {
		return err
	}

	if p.replica.ApplyMotion(objectID, m) {
		p.world.ApplyMotion(objectID, m)
	}
	return nil
}

func (p *Peer) handleRPCCall(env *protocol.Envelope) error {
	call, err := env.RPCCall(protocol.FieldRPC)
	if err != nil {
		return err
	}
	return p.rpcs.Dispatch(p.world, call)
}

func sameAddr(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
