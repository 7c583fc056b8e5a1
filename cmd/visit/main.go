// Command visit joins or demonstrates a televisit video visit from a terminal.
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/televisit/internal/app/session"
	"github.com/dkeye/televisit/internal/config"
	"github.com/dkeye/televisit/internal/core"
	"github.com/dkeye/televisit/internal/metrics"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "visit"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	var g globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Telehealth video visit client",
		Long: `visit runs one side of a patient/provider video visit: it opens the
camera and microphone, negotiates a peer connection over the configured
signaling transport and records the call outcome when the visit ends.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			lvl, err := zerolog.ParseLevel(g.logLevel)
			if err != nil {
				lvl = zerolog.InfoLevel
			}
			zerolog.SetGlobalLevel(lvl)
		},
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML); default config/config.$CONFIG_ENV.yaml")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(joinCmd(&g), demoCmd(&g))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func loadConfig(g *globalFlags) (*config.Config, error) {
	if g.configPath != "" {
		return config.LoadFile(g.configPath)
	}
	return config.Load()
}

// serveMetrics exposes m on addr when addr is set.
func serveMetrics(addr string) *metrics.Metrics {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if addr == "" {
		return m
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Str("addr", addr).Msg("metrics listener stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("metrics exposed")
	return m
}

func printTransitions(prefix string) session.Option {
	return session.WithStateListener(func(t session.Transition) {
		line := fmt.Sprintf("%s%s -> %s (%s)", prefix, t.From, t.To, t.Cause)
		if t.To == core.StateFailed && t.Err != nil {
			line += ": " + core.Reason(t.Err)
		}
		fmt.Println(line)
	})
}
