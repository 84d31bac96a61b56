package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Dial/internal/adapters/callapi"
	"github.com/dkeye/Dial/internal/adapters/media"
	"github.com/dkeye/Dial/internal/adapters/media/device"
	"github.com/dkeye/Dial/internal/adapters/rtc"
	"github.com/dkeye/Dial/internal/adapters/wsclient"
	"github.com/dkeye/Dial/internal/app/orch"
	"github.com/dkeye/Dial/internal/config"
	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	fs := config.ClientFlags()
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("bad flags")
	}
	cfg, err := config.LoadClient(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	self := domain.UserID(cfg.UserID)

	var (
		src    core.MediaSource
		codecs rtc.Codecs
	)
	switch cfg.Media {
	case "device":
		d, err := device.New(device.Options{})
		if err != nil {
			log.Fatal().Err(err).Msg("device capture")
		}
		src, codecs = d, d
	default:
		src = media.Static{}
	}
	peers, err := rtc.NewFactory(cfg.STUN, codecs)
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc api")
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, cfg.DialTimeout)
	ws, err := wsclient.Dial(dialCtx, cfg.ServerURL, self, wsclient.Options{})
	dialCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("signaling dial")
	}
	defer ws.Close()

	api := callapi.New(cfg.ServerURL, self, &http.Client{Timeout: cfg.APITimeout})
	a := newAgent(self, api, rtc.NewStreamManager(), cfg.SaveDir, os.Stdout)
	a.orch = orch.New(self, orch.Deps{
		Transport: ws,
		API:       api,
		Media:     src,
		Peers:     peers,
	}, a.hooks(), orch.Config{
		NegotiationTimeout: cfg.NegotiationTimeout,
		ICERestartGrace:    cfg.ICERestartGrace,
		APITimeout:         cfg.APITimeout,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.orch.Run(gctx) })
	g.Go(func() error { return a.readCommands(gctx, os.Stdin) })

	log.Info().Str("user", cfg.UserID).Str("server", cfg.ServerURL).Str("media", cfg.Media).Msg("Dial client started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("client stopped")
		os.Exit(1)
	}
	log.Info().Msg("Client exited gracefully")
}
