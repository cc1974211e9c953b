package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"reportpilot/chart"
	"reportpilot/service"
)

var (
	askSession string
	askJSON    bool
	askCSV     bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Run one interaction from the command line",
	Long: `Run one interaction in a session and print the summary and result rows.
Reuse the same --session to refine earlier answers.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.core.RunInteraction(ctx, askSession, strings.Join(args, " "))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if askJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		in := res.Interaction
		fmt.Fprintf(out, "[%s #%d] %s\n", in.Strategy, in.Seq, in.Summary)
		if res.Routed != in.Strategy {
			fmt.Fprintf(out, "(routed to %s)\n", res.Routed)
		}
		for _, s := range res.Suggestions {
			fmt.Fprintf(out, "  - %s\n", s)
		}
		if in.PlanSQL != "" {
			fmt.Fprintf(out, "\n%s\n", in.PlanSQL)
		}
		if in.Chart != nil && res.Result != nil {
			if rendered, err := chart.Resolve(in.Chart, res.Result); err == nil {
				fmt.Fprintf(out, "\nchart: %s %q\n", rendered.Kind, rendered.Title)
			}
		}
		if askCSV && res.Result != nil {
			fmt.Fprintln(out)
			return service.WriteCSV(out, res.Result)
		}
		if res.Result != nil {
			fmt.Fprintf(out, "\n%d rows\n", res.Result.RowCount())
		}
		return nil
	},
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", defaultSession(), "session id")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full interaction result as JSON")
	askCmd.Flags().BoolVar(&askCSV, "csv", false, "print the result rows as CSV")
}

func defaultSession() string {
	if s := os.Getenv("REPORTPILOT_SESSION"); s != "" {
		return s
	}
	return "cli"
}
