package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var endSession string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions, or end one with --end",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if endSession != "" {
			if err := a.core.EndSession(ctx, endSession); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ended %s\n", endSession)
			return nil
		}

		sessions, err := a.core.ListSessions()
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		if len(sessions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tLAST ACTIVE")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Title, s.LastActive.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

func init() {
	sessionsCmd.Flags().StringVar(&endSession, "end", "", "end this session and reclaim its working set")
}
