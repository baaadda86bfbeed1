package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"covey/internal/app"
	"covey/internal/config"
	"covey/internal/executor"
	"covey/internal/logging"
	"covey/internal/support/buildinfo"
)

func main() {
	if err := logging.Configure(logging.LevelInfo, logging.FormatText); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("daemon failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configFile string
		dataDir    string
		runnerPath string
		logFormat  string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:     "coveyd",
		Short:   "Covey bot activation daemon",
		Version: buildinfo.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level, logFormat)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			a, err := app.New(app.Options{
				ConfigFile: configFile,
				DataDir:    dataDir,
				Executor:   &executor.Command{Path: runnerPath, Models: cfg.Models},
			})
			if err != nil {
				return err
			}
			if err := a.Run(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			slog.Info("shutting down")

			shutdownCtx, cancel := signalFreeContext(30 * time.Second)
			defer cancel()
			a.Shutdown(shutdownCtx)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatText, "Log format: text or json")
	cmd.Flags().StringVar(&configFile, "config", defaultConfigFile(), "Bot configuration file")
	cmd.Flags().StringVar(&dataDir, "data-dir", defaultDataDir(), "State directory")
	cmd.Flags().StringVar(&runnerPath, "runner", "", "Agent runner binary")
	return cmd
}

// signalFreeContext gives shutdown a deadline decoupled from the
// already-cancelled signal context.
func signalFreeContext(d time.Duration) (ctx context.Context, cancel context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

func defaultConfigFile() string {
	return "/etc/covey/bots.yaml"
}

func defaultDataDir() string {
	return "/var/lib/covey"
}
