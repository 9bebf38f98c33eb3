package nettest_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/blukai/netplay/internal/authority"
	"github.com/blukai/netplay/internal/gamerpc"
	"github.com/blukai/netplay/internal/peer"
	"github.com/blukai/netplay/internal/transport"
	"github.com/blukai/netplay/internal/world"
	"github.com/phuslu/log"
)

const tick = 2 * time.Millisecond

func newLogger() *log.Logger {
	logger := log.DefaultLogger

	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Level = log.WarnLevel
	if testing.Verbose() {
		logger.Level = log.DebugLevel
	}
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}

	return &logger
}

type host struct {
	*authority.Authority
	world *world.World
	addr  *net.UDPAddr
}

func startHost(ctx context.Context, t *testing.T, loopback *net.UDPAddr) *host {
	t.Helper()

	logger := newLogger()

	loop, err := transport.NewLoop(transport.Config{
		Address: "127.0.0.1:0",
		Tick:    tick,
	}, logger)
	if err != nil {
		t.Fatalf("could not construct host loop: %v", err)
	}

	rpcs, err := gamerpc.NewRegistry(logger)
	if err != nil {
		t.Fatalf("could not construct rpc registry: %v", err)
	}

	w := world.New()
	a := authority.New(loop, authority.Config{
		Loopback: loopback,
		RPC:      rpcs,
		World:    w,
	}, logger)
	go loop.Run(ctx, a)

	return &host{Authority: a, world: w, addr: loop.Addr()}
}

// newPeerLoop binds the peer's socket without running it yet, so its address
// can be handed to the host as the loopback address.
func newPeerLoop(t *testing.T, remote *net.UDPAddr) *transport.Loop {
	t.Helper()

	cfg := transport.Config{
		Address: "127.0.0.1:0",
		Tick:    tick,
	}
	if remote != nil {
		cfg.Remote = remote.String()
	}
	loop, err := transport.NewLoop(cfg, newLogger())
	if err != nil {
		t.Fatalf("could not construct peer loop: %v", err)
	}
	return loop
}

func startPeer(ctx context.Context, t *testing.T, hostAddr *net.UDPAddr) *peer.Peer {
	t.Helper()
	return runPeer(ctx, t, newPeerLoop(t, hostAddr), hostAddr)
}

func runPeer(ctx context.Context, t *testing.T, loop *transport.Loop, hostAddr *net.UDPAddr) *peer.Peer {
	t.Helper()

	logger := newLogger()

	rpcs, err := gamerpc.NewRegistry(logger)
	if err != nil {
		t.Fatalf("could not construct rpc registry: %v", err)
	}

	p := peer.New(loop, peer.Config{
		Authority: hostAddr,
		Attempts:  5,
		Interval:  50 * time.Millisecond,
		RPC:       rpcs,
	}, logger)
	go loop.Run(ctx, p)

	return p
}

// eventually polls cond until it holds or a second has passed.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(tick)
	}
	t.Fatalf("timed out waiting for %s", what)
}
