package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"

	"github.com/dense-identity/callsig/internal/config"
	"github.com/dense-identity/callsig/internal/relay"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}

	// 1) Load relay.Config via the generic loader
	if err := config.LoadEnv(); err != nil {
		log.Fatal().Err(err).Msg("failed to load env file")
	}
	cfg, err := config.New[relay.Config]()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2) Connect the mailbox store
	store, err := relay.NewRedisStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open mailbox store")
	}
	defer store.Close()

	// 3) Make sure the port has a leading ":"
	addr := cfg.Port
	if !strings.HasPrefix(addr, ":") && !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", addr).Msg("failed to listen")
	}

	// 4) Create gRPC server and register the relay service
	grpcServer := grpc.NewServer()
	relay.RegisterRelayServer(grpcServer, relay.NewServer(cfg, store))

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		grpcServer.GracefulStop()
	}()

	log.Info().Str("addr", addr).Msg("relay listening")
	if err := grpcServer.Serve(lis); err != nil {
		log.Fatal().Err(err).Msg("gRPC serve error")
	}
}
