package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/dkeye/speakcall/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func newRootCmd() *cobra.Command {
	v := config.New()
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "speakcall",
		Short:         "Accessible one-to-one calls with live captions and sign recognition",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogger(zerolog.InfoLevel, true)
			c, err := config.Load(v)
			if err != nil {
				return err
			}
			level, _ := zerolog.ParseLevel(c.Log.Level)
			setupLogger(level, c.Log.Console)
			cfg = c
			return nil
		},
	}
	root.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().String("mode", "", "run mode (debug, release, test)")
	_ = v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("mode", root.PersistentFlags().Lookup("mode"))

	get := func() *config.Config { return cfg }
	root.AddCommand(newRelayCmd(v, get))
	root.AddCommand(newAgentCmd(v, get))
	return root
}

func setupLogger(level zerolog.Level, console bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	zerolog.SetGlobalLevel(level)
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// serve runs srv until ctx ends, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, name string) error {
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg(name + " started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down " + name)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}
	log.Info().Msg(name + " exited gracefully")
	return nil
}
