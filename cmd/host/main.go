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

	"github.com/blukai/netplay/internal/authority"
	"github.com/blukai/netplay/internal/gamerpc"
	"github.com/blukai/netplay/internal/transport"
	"github.com/blukai/netplay/internal/world"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Config struct {
	HostAddr     string        `envconfig:"HOST_ADDR" required:"true" default:"0.0.0.0:13882"`
	LoopbackAddr string        `envconfig:"LOOPBACK_ADDR" default:"127.0.0.1:28831"`
	Tick         time.Duration `envconfig:"TICK" default:"8ms"`
	QueueSize    int           `envconfig:"QUEUE_SIZE" default:"256"`
	RateLimit    float64       `envconfig:"RATE_LIMIT" default:"0"`
	RateBurst    int           `envconfig:"RATE_BURST" default:"32"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`
}

func loadConfig() (*Config, error) {
	// .env is optional, the environment wins over it
	_ = godotenv.Load()

	config := new(Config)
	if err := envconfig.Process("netplay", config); err != nil {
		return nil, err
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

func erringMain() error {
	config, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	logger := configureLogger(config.LogLevel)

	var loopback *net.UDPAddr
	if config.LoopbackAddr != "" {
		loopback, err = net.ResolveUDPAddr("udp4", config.LoopbackAddr)
		if err != nil {
			return fmt.Errorf("could not resolve loopback addr: %w", err)
		}
	}

	rpcs, err := gamerpc.NewRegistry(logger)
	if err != nil {
		return fmt.Errorf("could not construct rpc registry: %w", err)
	}

	loop, err := transport.NewLoop(transport.Config{
		Network:   "udp4",
		Address:   config.HostAddr,
		Tick:      config.Tick,
		QueueSize: config.QueueSize,
		RateLimit: rate.Limit(config.RateLimit),
		RateBurst: config.RateBurst,
	}, logger)
	if err != nil {
		return fmt.Errorf("could not construct host loop: %w", err)
	}

	host := authority.New(loop, authority.Config{
		Loopback: loopback,
		RPC:      rpcs,
		World:    world.New(),
	}, logger)

	logger.Info().
		Str("session", host.Session()).
		Strs("rpcs", rpcs.Names()).
		Msgf("started host on %s", loop.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(ctx, host)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msgf("shutting down (%d peers)", host.Peers())
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("host run failed: %w", err)
	}

	return nil
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "host failed: %v\n", err)
		os.Exit(42)
	}
}
