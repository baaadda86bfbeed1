package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	botscmd "covey/cmd/covey/bots"
	runscmd "covey/cmd/covey/runs"
	"covey/cmd/covey/ui"
	"covey/internal/logging"
	"covey/internal/support/buildinfo"
)

func main() {
	var (
		debug   bool
		dataDir string
	)
	if err := logging.Configure(logging.LevelWarn, logging.FormatText); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "covey",
		Short:         "Inspect the covey activation daemon",
		Version:       buildinfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.Configure()
			level := logging.LevelWarn
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level, logging.FormatText)
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Daemon state directory")

	root.AddCommand(botscmd.Cmd(&dataDir))
	root.AddCommand(runscmd.Cmd(&dataDir))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		os.Exit(1)
	}
}
