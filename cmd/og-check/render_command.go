package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"aivision-ssr/internal/inspect"
)

const facebookUA = "facebookexternalhit/1.1 (+http://www.facebook.com/externalhit_uatext.php)"

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var userAgent string
	var timeout time.Duration
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "render <url>",
		Short: "Fetch a page as a crawler and check its preview metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := ctx.fetcher(userAgent, timeout)
			if err != nil {
				return err
			}
			report, err := inspect.FetchPage(cmd.Context(), f, args[0])
			if err != nil {
				return err
			}
			problems := report.Problems()

			if asJSON {
				if err := writeJSON(cmd, map[string]any{
					"url":       report.URL,
					"status":    report.StatusCode,
					"title":     report.Metadata.Title,
					"canonical": report.Metadata.Canonical,
					"tags":      report.Metadata.Tags,
					"headers":   report.Header,
					"problems":  problems,
					"latencyMs": report.Latency.Milliseconds(),
				}); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s (%d) as %q in %s\n", report.URL, report.StatusCode, userAgent, report.Latency.Round(time.Millisecond))
				rows := [][]string{{"title", report.Metadata.Title}}
				for _, key := range report.Metadata.Keys() {
					rows = append(rows, []string{key, report.Metadata.Get(key)})
				}
				if report.Metadata.Canonical != "" {
					rows = append(rows, []string{"canonical", report.Metadata.Canonical})
				}
				for _, h := range []string{"Cache-Control", "Vercel-CDN-Cache-Control", "ETag"} {
					if v := report.Header[h]; v != "" {
						rows = append(rows, []string{h, v})
					}
				}
				fmt.Fprintln(out, renderTable([]string{"Key", "Value"}, rows))
				for _, p := range problems {
					fmt.Fprintf(out, "problem: %s\n", p)
				}
			}
			if len(problems) > 0 {
				return fmt.Errorf("%d preview problem(s): %s", len(problems), strings.Join(problems, "; "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userAgent, "as", facebookUA, "User-Agent to send")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}
