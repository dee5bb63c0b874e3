package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"aivision-ssr/internal/inspect"
)

func newBrowserCommand(ctx *commandContext) *cobra.Command {
	var opts inspect.BrowserOptions

	cmd := &cobra.Command{
		Use:   "browser <url>",
		Short: "Load a page in headless Chrome and report where a visitor lands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := inspect.NewBrowser(opts, ctx.logger(cmd.ErrOrStderr()))
			landing, err := b.Land(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			redirected := "no"
			if landing.Redirected() {
				redirected = "yes"
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Key", "Value"}, [][]string{
				{"requested", landing.RequestedURL},
				{"landed", landing.FinalURL},
				{"redirected", redirected},
				{"title", landing.Title},
				{"latency", landing.Latency.Round(time.Millisecond).String()},
			}))
			return nil
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "Overall browser timeout")
	cmd.Flags().DurationVar(&opts.Settle, "settle", 750*time.Millisecond, "Wait after load for client-side redirects")
	cmd.Flags().StringVar(&opts.UserAgent, "user-agent", "", "Browser User-Agent (defaults to desktop Chrome)")
	cmd.Flags().BoolVar(&opts.DisableHeadless, "headful", false, "Show the browser window")
	return cmd
}
