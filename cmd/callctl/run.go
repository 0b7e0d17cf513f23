package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dense-identity/callsig/internal/clock"
	"github.com/dense-identity/callsig/internal/config"
	"github.com/dense-identity/callsig/internal/directory"
	"github.com/dense-identity/callsig/internal/history"
	"github.com/dense-identity/callsig/internal/media"
	"github.com/dense-identity/callsig/internal/policy"
	"github.com/dense-identity/callsig/internal/relay"
	"github.com/dense-identity/callsig/internal/transport"
	"github.com/dense-identity/callsig/internal/voip"
)

var (
	callPeer   string
	autoAnswer bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the signaling endpoint",
	Args:  cobra.NoArgs,
	RunE:  runEndpoint,
}

func init() {
	runCmd.Flags().StringVar(&callPeer, "call", "", "call this contact once the endpoint is up")
	runCmd.Flags().BoolVar(&autoAnswer, "auto-answer", false, "answer incoming calls automatically")
}

// carrier is a transport that can also receive.
type carrier interface {
	voip.Transport
	Attach(h transport.Handler)
	Run(ctx context.Context) error
}

func runEndpoint(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	peerCfg, err := config.New[config.PeerConfig]()
	if err != nil {
		return err
	}
	if err := peerCfg.ParseKeysAsBytes(); err != nil {
		return err
	}
	voipCfg, err := config.New[voip.Config]()
	if err != nil {
		return err
	}
	policyCfg, err := config.New[policy.Config]()
	if err != nil {
		return err
	}
	historyCfg, err := config.New[history.Config]()
	if err != nil {
		return err
	}
	mediaCfg, err := config.New[media.Config]()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("auto-answer") {
		mediaCfg.AutoAnswer = autoAnswer
	}

	contacts, err := directory.Load(peerCfg.ContactsFile)
	if err != nil {
		return err
	}
	log.Info().Int("contacts", contacts.Len()).Str("file", peerCfg.ContactsFile).Msg("directory loaded")

	store, err := history.Open(ctx, historyCfg.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	gate, err := policy.New(policyCfg, clock.Real())
	if err != nil {
		return err
	}

	self := transport.Identity{Name: peerCfg.MyIdentity, PrivateKey: peerCfg.PkePrivateKey}
	var c carrier
	if peerCfg.NatsURL != "" {
		nc, err := transport.ConnectNATS(transport.NATSConfig{URL: peerCfg.NatsURL, MaxReconnects: -1})
		if err != nil {
			return err
		}
		defer nc.Close()
		if c, err = transport.NewNATS(self, contacts, nc, voipCfg.EventBuffer, log.Logger); err != nil {
			return err
		}
		log.Info().Str("url", peerCfg.NatsURL).Msg("using NATS carrier")
	} else {
		client, err := relay.Dial(peerCfg.RelayServerAddr, peerCfg.UseTls)
		if err != nil {
			return err
		}
		defer client.Close()
		if c, err = transport.NewRelay(self, contacts, client, peerCfg.PollInterval, log.Logger); err != nil {
			return err
		}
		log.Info().Str("addr", peerCfg.RelayServerAddr).Msg("using relay carrier")
	}

	svc := voip.NewService(*voipCfg, voip.Deps{
		Transport: c,
		History:   store,
		Policy:    gate,
		Renderer:  logRenderer{},
		Logger:    &log.Logger,
	})
	c.Attach(svc)

	recorder := history.NewRecorder(store, log.Logger)
	outcomes, stopOutcomes := history.Subscribe(svc.Events())
	defer stopOutcomes()
	feed, stopFeed := svc.Events().Subscribe()
	defer stopFeed()
	controller := media.NewController(svc, *mediaCfg, log.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error { return recorder.Run(gctx, outcomes) })
	g.Go(func() error { return controller.Run(gctx) })
	g.Go(func() error { return logEvents(gctx, feed) })

	if callPeer != "" {
		if _, err := contacts.Lookup(callPeer); err != nil {
			return err
		}
		if _, err := controller.Call(ctx, callPeer); err != nil {
			log.Error().Err(err).Str("peer", callPeer).Msg("call failed")
		}
	}

	log.Info().Str("identity", peerCfg.MyIdentity).Msg("endpoint running")
	<-gctx.Done()
	if err := svc.EndCall(context.Background()); err != nil && !errors.Is(err, voip.ErrNoSuchCall) {
		log.Warn().Err(err).Msg("ending call on shutdown")
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
