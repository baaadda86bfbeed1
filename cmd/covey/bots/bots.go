// Package botscmd implements "covey bots".
package botscmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"covey/cmd/covey/cmdutil"
	"covey/cmd/covey/ui"
)

// Cmd returns the "covey bots" command group. dataDir points at the
// root persistent flag value.
func Cmd(dataDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bots",
		Short: "Inspect configured bots",
	}
	cmd.AddCommand(listCmd(dataDir))
	cmd.AddCommand(showCmd(dataDir))
	return cmd
}

func listCmd(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bots and their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := cmdutil.OpenStore(*dataDir)
			if err != nil {
				return err
			}
			defer st.Close()

			bots, err := st.ListBots(cmd.Context())
			if err != nil {
				return err
			}
			if len(bots) == 0 {
				fmt.Println(ui.Muted("no bots recorded"))
				return nil
			}

			rows := make([][]string, 0, len(bots))
			for _, b := range bots {
				lastRun := b.LastRunAt
				if lastRun == "" {
					lastRun = ui.Muted("never")
				}
				rows = append(rows, []string{b.Name, b.DisplayName, ui.Status(b.Status), lastRun})
			}
			fmt.Println(ui.Table([]string{"NAME", "DISPLAY NAME", "STATUS", "LAST RUN"}, rows))
			return nil
		},
	}
}

func showCmd(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one bot's record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := cmdutil.OpenStore(*dataDir)
			if err != nil {
				return err
			}
			defer st.Close()

			bots, err := st.ListBots(cmd.Context())
			if err != nil {
				return err
			}
			for _, b := range bots {
				if b.Name != args[0] {
					continue
				}
				lastRun := b.LastRunAt
				if lastRun == "" {
					lastRun = "never"
				}
				fmt.Println(ui.KeyValues("  ",
					ui.KV("Name", b.Name),
					ui.KV("Display Name", b.DisplayName),
					ui.KV("Status", ui.Status(b.Status)),
					ui.KV("Last Run", lastRun),
					ui.KV("Updated", b.UpdatedAt),
				))
				return nil
			}
			return fmt.Errorf("bot %q not found", args[0])
		},
	}
}
