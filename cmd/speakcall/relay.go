package main

import (
	"fmt"
	"net/http"

	"github.com/dkeye/speakcall/internal/adapters/backend"
	router "github.com/dkeye/speakcall/internal/adapters/http"
	"github.com/dkeye/speakcall/internal/adapters/signal"
	"github.com/dkeye/speakcall/internal/app"
	"github.com/dkeye/speakcall/internal/config"
	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRelayCmd(v *viper.Viper, cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the signaling relay with presence, TTS and sign recognition",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd, cfg())
		},
	}
	cmd.Flags().Int("port", 0, "listen port")
	cmd.Flags().String("tts-url", "", "text-to-speech service URL")
	cmd.Flags().String("sign-url", "", "sign recognition service URL")
	_ = v.BindPFlag("relay.port", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("relay.tts_url", cmd.Flags().Lookup("tts-url"))
	_ = v.BindPFlag("relay.sign_url", cmd.Flags().Lookup("sign-url"))
	return cmd
}

func runRelay(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()
	reg := newRegistry()
	m := metrics.New(reg)

	bc := backend.Config{
		Timeout:    cfg.Relay.Backend.Timeout,
		MaxRetries: cfg.Relay.Backend.MaxRetries,
	}
	var synth core.Synthesizer
	if cfg.Relay.TTSURL != "" {
		c := bc
		c.URL = cfg.Relay.TTSURL
		synth = backend.NewSynthesizer(c, nil)
	}
	var signs core.SignRecognizer
	if cfg.Relay.SignURL != "" {
		c := bc
		c.URL = cfg.Relay.SignURL
		signs = backend.NewSignRecognizer(c, nil)
	}

	rc := signal.DefaultRelayConfig()
	rc.ReadLimit = cfg.Relay.ReadLimit
	rc.PingPeriod = cfg.Relay.PingPeriod
	rc.SendBuffer = cfg.Relay.SendBuffer
	rc.FrameLimit = cfg.Relay.FrameLimit
	rc.FrameWindow = cfg.Relay.FrameWindow
	rc.BackendCalls = cfg.Relay.Backend.MaxConcurrent
	rc.BackendTimeout = cfg.Relay.Backend.Timeout

	ctl := signal.NewSignalWSController(rc, signal.RelayDeps{
		Registry: app.NewRegistry(),
		Policy:   app.SimplePolicy{},
		Synth:    synth,
		Signs:    signs,
		Metrics:  m,
	})
	log.Info().Str("module", "relay").
		Bool("tts", synth != nil).
		Bool("signs", signs != nil).
		Msg("relay configured")

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Relay.Port),
		Handler: router.SetupRelayRouter(ctx, cfg, ctl, reg),
	}
	return serve(ctx, srv, "speakcall relay")
}
