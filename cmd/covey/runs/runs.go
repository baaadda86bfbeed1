// Package runscmd implements "covey runs".
package runscmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"covey/cmd/covey/cmdutil"
	"covey/cmd/covey/ui"
)

// Cmd returns the "covey runs" command group.
func Cmd(dataDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect bot run history",
	}
	cmd.AddCommand(listCmd(dataDir))
	cmd.AddCommand(showCmd(dataDir))
	return cmd
}

func listCmd(dataDir *string) *cobra.Command {
	var (
		bot   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := cmdutil.OpenStore(*dataDir)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context(), bot, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println(ui.Muted("no runs recorded"))
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					shortID(r.RunID),
					r.Bot,
					ui.Status(r.Status),
					r.Trigger,
					fmt.Sprintf("%d/%d", r.InTokens, r.OutTokens),
					r.StartedAt,
				})
			}
			fmt.Println(ui.Table([]string{"RUN", "BOT", "STATUS", "TRIGGER", "TOKENS", "STARTED"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&bot, "bot", "", "Filter by bot name")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	return cmd
}

func showCmd(dataDir *string) *cobra.Command {
	var withOutput bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := cmdutil.OpenStore(*dataDir)
			if err != nil {
				return err
			}
			defer st.Close()

			run, ok, err := st.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("run %q not found", args[0])
			}

			completed := run.CompletedAt
			if completed == "" {
				completed = ui.Muted("in progress")
			}
			fmt.Println(ui.KeyValues("  ",
				ui.KV("Run", run.RunID),
				ui.KV("Bot", run.Bot),
				ui.KV("Status", ui.Status(run.Status)),
				ui.KV("Trigger", run.Trigger),
				ui.KV("Tokens", fmt.Sprintf("%d in / %d out", run.InTokens, run.OutTokens)),
				ui.KV("Cost", fmt.Sprintf("$%.4f", run.Cost)),
				ui.KV("Started", run.StartedAt),
				ui.KV("Completed", completed),
			))
			if withOutput && strings.TrimSpace(run.Output) != "" {
				fmt.Println(run.Output)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withOutput, "output", false, "Print the run's output body")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
