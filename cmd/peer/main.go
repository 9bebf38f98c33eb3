package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blukai/netplay/internal/gamerpc"
	"github.com/blukai/netplay/internal/peer"
	"github.com/blukai/netplay/internal/protocol"
	"github.com/blukai/netplay/internal/session"
	"github.com/blukai/netplay/internal/transport"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	AuthorityAddr string        `envconfig:"AUTHORITY_ADDR" required:"true"`
	BindAddr      string        `envconfig:"BIND_ADDR" default:"0.0.0.0:0"`
	Tick          time.Duration `envconfig:"TICK" default:"8ms"`
	QueueSize     int           `envconfig:"QUEUE_SIZE" default:"256"`
	SyncAttempts  int           `envconfig:"SYNC_ATTEMPTS" default:"5"`
	SyncInterval  time.Duration `envconfig:"SYNC_INTERVAL" default:"200ms"`
	SlowSync      bool          `envconfig:"SLOW_SYNC" default:"false"`
	Character     string        `envconfig:"CHARACTER" default:"witcher"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`
}

func loadConfig() (*Config, error) {
	// .env is optional, the environment wins over it
	_ = godotenv.Load()

	config := new(Config)
	if err := envconfig.Process("netplay", config); err != nil {
		return nil, err
	}
	if config.SlowSync {
		config.SyncInterval = session.DefaultSlowInterval
	}
	return config, nil
}

func configureLogger(level string) *log.Logger {
	logger := log.DefaultLogger

	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Level = log.ParseLevel(level)
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}

	return &logger
}

func parseCharacter(s string) (protocol.CharacterKind, error) {
	switch s {
	case "witcher":
		return protocol.CharacterWitcher, nil
	case "witch":
		return protocol.CharacterWitch, nil
	default:
		return 0, fmt.Errorf("unknown character %q", s)
	}
}

// play bootstraps the peer and then keeps its entity alive with periodic
// motion updates until ctx is done.
func play(ctx context.Context, p *peer.Peer, kind protocol.CharacterKind, tick time.Duration, logger *log.Logger) error {
	if _, err := p.Connect(ctx); err != nil {
		return err
	}

	s, err := p.AddEntity(ctx, protocol.EntityState{Character: kind})
	if err != nil {
		return err
	}

	// the initial pull is best effort, pushes and later pulls fill the gaps
	if n, err := p.RequestSync(ctx); err != nil {
		logger.Warn().Msgf("could not pull initial state: %v", err)
	} else {
		logger.Info().Int("entities", n).Msg("synced")
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	m := s.MotionSample()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.SendMotion(s.ObjectID, m); err != nil {
				logger.Error().Msgf("could not send motion: %v", err)
			}
		}
	}
}

func erringMain() error {
	config, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	logger := configureLogger(config.LogLevel)

	kind, err := parseCharacter(config.Character)
	if err != nil {
		return err
	}

	authorityAddr, err := net.ResolveUDPAddr("udp4", config.AuthorityAddr)
	if err != nil {
		return fmt.Errorf("could not resolve authority addr: %w", err)
	}

	rpcs, err := gamerpc.NewRegistry(logger)
	if err != nil {
		return fmt.Errorf("could not construct rpc registry: %w", err)
	}

	loop, err := transport.NewLoop(transport.Config{
		Network:   "udp4",
		Address:   config.BindAddr,
		Remote:    config.AuthorityAddr,
		Tick:      config.Tick,
		QueueSize: config.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("could not construct peer loop: %w", err)
	}

	p := peer.New(loop, peer.Config{
		Authority: authorityAddr,
		Attempts:  config.SyncAttempts,
		Interval:  config.SyncInterval,
		RPC:       rpcs,
	}, logger)

	logger.Info().Msgf("started peer on %s, authority %s", loop.Addr(), authorityAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(ctx, p)
	})
	g.Go(func() error {
		// motion is sent about every 100ms, not every tick
		return play(ctx, p, kind, 100*time.Millisecond, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("peer run failed: %w", err)
	}

	return nil
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "peer failed: %v\n", err)
		os.Exit(42)
	}
}
