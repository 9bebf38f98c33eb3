package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/blukai/netplay/internal/protocol"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
	"golang.org/x/time/rate"
)

const (
	DefaultTick      = 8 * time.Millisecond
	DefaultQueueSize = 256
)

var ErrNoDestination = errors.New("no destination address")

// Outbound is an envelope on its way out. A nil Addr means the loop's
// configured remote.
type Outbound struct {
	Addr *net.UDPAddr
	Env  *protocol.Envelope
}

// Handler consumes decoded envelopes on the loop goroutine and returns what
// should be sent in response.
type Handler interface {
	HandleEnvelope(env *protocol.Envelope, from *net.UDPAddr) []Outbound
}

// Enqueuer is the application side of a Loop.
type Enqueuer interface {
	Enqueue(out Outbound) bool
}

type HandlerFunc func(env *protocol.Envelope, from *net.UDPAddr) []Outbound

func (f HandlerFunc) HandleEnvelope(env *protocol.Envelope, from *net.UDPAddr) []Outbound {
	return f(env, from)
}

type Config struct {
	Network string
	// Address is what the socket binds to.
	Address string
	// Remote is where queued envelopes without an explicit address go.
	Remote string

	Tick      time.Duration
	QueueSize int

	// RateLimit is the per-source datagram rate; zero disables the guard.
	RateLimit rate.Limit
	RateBurst int
}

// Loop owns one udp socket. Everything that touches the socket happens on
// the goroutine running Run; the application only talks to it through
// Enqueue.
type Loop struct {
	conn   *net.UDPConn
	buf    []byte
	remote *net.UDPAddr

	logger *log.Logger

	tick  time.Duration
	queue chan Outbound
	guard *guard
}

func NewLoop(cfg Config, logger *log.Logger) (*Loop, error) {
	if cfg.Network == "" {
		cfg.Network = "udp4"
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	addr, err := net.ResolveUDPAddr(cfg.Network, cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("could not resolve udp addr: %w", err)
	}

	var remote *net.UDPAddr
	if cfg.Remote != "" {
		remote, err = net.ResolveUDPAddr(cfg.Network, cfg.Remote)
		if err != nil {
			return nil, fmt.Errorf("could not resolve remote udp addr: %w", err)
		}
	}

	conn, err := net.ListenUDP(cfg.Network, addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen udp: %w", err)
	}

	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	l := &Loop{
		conn: conn,
		// one extra byte to tell a full datagram from a truncated one
		buf:    make([]byte, protocol.MaxDatagramSize+1),
		remote: remote,

		logger: logger,

		tick:  cfg.Tick,
		queue: make(chan Outbound, cfg.QueueSize),
	}
	if cfg.RateLimit > 0 {
		l.guard = newGuard(cfg.RateLimit, cfg.RateBurst)
	}

	return l, nil
}

// Addr can be useful to retreive the bound address when the loop was
// constructed with ":0".
func (l *Loop) Addr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

func (l *Loop) Remote() *net.UDPAddr {
	return l.remote
}

// Enqueue hands an envelope to the loop without blocking. It reports false
// when the queue is full and the envelope was dropped.
func (l *Loop) Enqueue(out Outbound) bool {
	select {
	case l.queue <- out:
		return true
	default:
		l.logger.Warn().
			Int("queue_size", cap(l.queue)).
			Msg("outbound queue full, dropping envelope")
		return false
	}
}

// Run polls the socket until ctx is done and then closes it. Every cycle
// waits at most one tick for a datagram, which paces both cpu usage and
// replication latency.
func (l *Loop) Run(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return l.conn.Close()
		default:
			l.poll(h)
		}
	}
}

func (l *Loop) poll(h Handler) {
	if err := l.conn.SetReadDeadline(time.Now().Add(l.tick)); err != nil {
		l.logger.Error().
			Msgf("could not set read deadline: %v", err)
		time.Sleep(l.tick)
		return
	}

	n, addr, err := l.conn.ReadFromUDP(l.buf)
	switch {
	case err == nil:
		l.recv(h, l.buf[:n], addr)
	case isTimeout(err):
		// nothing arrived this tick
	default:
		l.logger.Error().
			Msgf("could not read from udp: %v", err)
		time.Sleep(l.tick)
	}

	l.drain()
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (l *Loop) recv(h Handler, data []byte, addr *net.UDPAddr) {
	if l.guard != nil && !l.guard.allow(addr) {
		l.logger.Warn().
			Str("addr", addr.String()).
			Msg("rate limited, dropping datagram")
		return
	}

	if len(data) > protocol.MaxDatagramSize {
		l.logger.Error().
			Str("addr", addr.String()).
			Msgf("oversized datagram (got > %d bytes), dropping", protocol.MaxDatagramSize)
		return
	}

	env := &protocol.Envelope{}
	if err := env.UnmarshalBinary(data); err != nil {
		l.logger.Error().
			Str("addr", addr.String()).
			Str("bytes", fmt.Sprintf("%v", data)).
			Msgf("could not unmarshal envelope: %v", err)
		return
	}

	l.logger.Debug().
		Str("addr", addr.String()).
		Int("size", len(data)).
		Int("fields", len(env.Fields)).
		Msg("recv")

	if outs := h.HandleEnvelope(env, addr); len(outs) > 0 {
		l.send(outs)
	}
}

func (l *Loop) drain() {
	for {
		select {
		case out := <-l.queue:
			l.send([]Outbound{out})
		default:
			return
		}
	}
}

func (l *Loop) send(outs []Outbound) {
	var errs error
	for _, out := range outs {
		if err := l.sendOne(out); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs != nil {
		l.logger.Error().
			Msgf("could not send: %v", errs)
	}
}

func (l *Loop) sendOne(out Outbound) error {
	addr := out.Addr
	if addr == nil {
		addr = l.remote
	}
	if addr == nil {
		return ErrNoDestination
	}

	data, err := out.Env.MarshalBinary()
	if err != nil {
		return fmt.Errorf("could not marshal envelope for %s: %w", addr, err)
	}

	l.logger.Debug().
		Str("addr", addr.String()).
		Int("size", len(data)).
		Msg("send")

	if _, err := l.conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("could not write to %s: %w", addr, err)
	}
	return nil
}
