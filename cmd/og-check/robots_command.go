package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"aivision-ssr/internal/inspect"
)

func newRobotsCommand(ctx *commandContext) *cobra.Command {
	var artistID string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "robots <site>",
		Short: "Check that every configured crawler may fetch artist pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			f, err := ctx.fetcher(cfg.Fetch.UserAgent, timeout)
			if err != nil {
				return err
			}
			route := cfg.Router.ArtistRoute
			if i := strings.Index(route, "*"); i >= 0 {
				route = route[:i]
			}

			report, err := inspect.CheckRobots(cmd.Context(), f, args[0], cfg.Router.BotSignatures, route+artistID)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(report.Verdicts))
			for _, v := range report.Verdicts {
				verdict := "allowed"
				if !v.Allowed {
					verdict = "BLOCKED"
				}
				rows = append(rows, []string{v.Agent, verdict})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%d) for %s\n", report.RobotsURL, report.StatusCode, report.Path)
			fmt.Fprintln(out, renderTable([]string{"Agent", "Verdict"}, rows))

			if blocked := report.Blocked(); len(blocked) > 0 {
				return fmt.Errorf("robots.txt blocks %s", strings.Join(blocked, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&artistID, "artist", "sample", "Artist id appended to the artist route")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	return cmd
}
