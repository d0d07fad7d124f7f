package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dkeye/speakcall/internal/adapters/backend"
	"github.com/dkeye/speakcall/internal/adapters/device"
	router "github.com/dkeye/speakcall/internal/adapters/http"
	"github.com/dkeye/speakcall/internal/adapters/player"
	"github.com/dkeye/speakcall/internal/adapters/rtc"
	"github.com/dkeye/speakcall/internal/adapters/signal"
	"github.com/dkeye/speakcall/internal/app/frames"
	"github.com/dkeye/speakcall/internal/app/loop"
	"github.com/dkeye/speakcall/internal/app/orch"
	"github.com/dkeye/speakcall/internal/app/session"
	"github.com/dkeye/speakcall/internal/app/vad"
	"github.com/dkeye/speakcall/internal/config"
	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/dkeye/speakcall/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

func newAgentCmd(v *viper.Viper, cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run a call agent with its local control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), cfg())
		},
	}
	cmd.Flags().Int("port", 0, "control API port")
	cmd.Flags().String("relay-url", "", "signaling relay WebSocket URL")
	cmd.Flags().String("user-id", "", "participant id announced to the relay")
	cmd.Flags().String("user-name", "", "display name")
	cmd.Flags().Bool("auto-answer", false, "answer every incoming call while idle")
	_ = v.BindPFlag("agent.port", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("agent.relay_url", cmd.Flags().Lookup("relay-url"))
	_ = v.BindPFlag("agent.user.id", cmd.Flags().Lookup("user-id"))
	_ = v.BindPFlag("agent.user.name", cmd.Flags().Lookup("user-name"))
	_ = v.BindPFlag("call.auto_answer", cmd.Flags().Lookup("auto-answer"))
	return cmd
}

func localParticipant(u config.UserConfig) (domain.Participant, error) {
	p, err := domain.NewParticipant(u.ID, u.Name)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("agent user: %w", err)
	}
	p.CanHear = u.CanHear
	p.CanSpeak = u.CanSpeak
	p.SignRelay = u.SignRelay
	return *p, nil
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		RingTimeout:     cfg.Call.RingTimeout,
		CandidateBuffer: cfg.Call.CandidateBuffer,
		CaptionTTL:      cfg.Call.CaptionTTL,
		RecordDir:       cfg.Agent.Media.RecordDir,
		VAD: vad.Config{
			Tick:             cfg.VAD.Tick,
			SpeakThreshold:   cfg.VAD.SpeakThreshold,
			SilenceThreshold: cfg.VAD.SilenceThreshold,
			Hangover:         cfg.VAD.Hangover,
			MaxSegment:       cfg.VAD.MaxSegment,
		},
		Frames: frames.Config{
			Period:   cfg.Frames.Period,
			Width:    cfg.Frames.Width,
			Height:   cfg.Frames.Height,
			Quality:  cfg.Frames.Quality,
			LabelTTL: cfg.Frames.LabelTTL,
		},
	}
}

func runAgent(ctx context.Context, cfg *config.Config) error {
	local, err := localParticipant(cfg.Agent.User)
	if err != nil {
		return err
	}
	reg := newRegistry()
	m := metrics.New(reg)

	// The loop outlives ctx so the agent can hang up on the way out.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	l := loop.New(clock.RealClock{}, 256)

	client := signal.NewClient(signal.DefaultClientConfig(cfg.Agent.RelayURL), l)

	rc := rtc.DefaultConfig()
	rc.ICEServers = cfg.Agent.ICE.Servers
	rc.PortMin = cfg.Agent.ICE.PortMin
	rc.PortMax = cfg.Agent.ICE.PortMax
	links, err := rtc.NewFactory(rc)
	if err != nil {
		return err
	}

	var stt core.Transcriber
	if cfg.Agent.STT.URL != "" {
		stt = backend.NewTranscriber(backend.Config{
			URL:        cfg.Agent.STT.URL,
			Timeout:    cfg.Agent.STT.Backend.Timeout,
			MaxRetries: cfg.Agent.STT.Backend.MaxRetries,
		}, nil)
	}

	hub := router.NewEventHub(64)
	agent := orch.New(orch.Config{AutoAnswer: cfg.Call.AutoAnswer, Session: sessionConfig(cfg)}, local, session.Deps{
		Loop:   l,
		Signal: client,
		Devices: device.NewProvider(device.Config{
			AudioFile: cfg.Agent.Media.AudioFile,
			VideoFile: cfg.Agent.Media.VideoFile,
		}),
		Links:       links,
		Transcriber: stt,
		Player:      player.New(player.Config{Command: cfg.Agent.Player.Command, Args: cfg.Agent.Player.Args}),
		Notifier:    hub,
		Metrics:     m,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Agent.Port),
		Handler: router.SetupAgentRouter(ctx, cfg, agent, hub, reg),
	}

	loopDone := make(chan error, 1)
	go func() { loopDone <- l.Run(loopCtx) }()
	if err := l.Do(ctx, agent.Start); err != nil {
		return err
	}
	log.Info().Str("module", "agent").
		Str("user_id", string(local.ID)).
		Str("relay", cfg.Agent.RelayURL).
		Bool("stt", stt != nil).
		Msg("agent started")

	// The relay link outlives ctx too, so the hang-up still reaches the peer.
	clientCtx, stopClient := context.WithCancel(context.Background())
	defer stopClient()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := client.Run(clientCtx); clientCtx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error { return serve(gctx, srv, "speakcall agent") })
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.Do(stopCtx, agent.Stop); err != nil {
			log.Warn().Err(err).Str("module", "agent").Msg("stop agent")
		}
		stopClient()
		return nil
	})
	err = g.Wait()

	stopLoop()
	<-loopDone
	return err
}
