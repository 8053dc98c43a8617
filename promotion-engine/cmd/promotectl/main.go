package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/intakecalc/platform/promotion-engine/internal/config"
	"github.com/intakecalc/platform/promotion-engine/internal/opsclient"
)

func main() {
	cfg, err := config.LoadCtl()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := newRootCmd(cfg, os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg config.CtlConfig, out io.Writer) *cobra.Command {
	var (
		serviceURL string
		timeout    time.Duration
	)
	root := &cobra.Command{
		Use:           "promotectl",
		Short:         "Operate the prospect promotion pipeline",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&serviceURL, "service", cfg.ServiceURL, "Promotion service base URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", cfg.Timeout, "Request timeout")

	client := func() *opsclient.Client { return opsclient.New(serviceURL, timeout) }

	root.AddCommand(&cobra.Command{
		Use:   "retrigger <prospect-id>",
		Short: "Force a prospect back to client and run a promotion attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().Retrigger(cmd.Context(), args[0])
			var apiErr *opsclient.APIError
			if errors.As(err, &apiErr) && apiErr.Outcome != nil {
				_ = printJSON(cmd.OutOrStdout(), apiErr.Outcome)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "readiness <prospect-id>",
		Short: "Evaluate a prospect's source documents without promoting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := client().Readiness(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "history <prospect-id>",
		Short: "List promotion attempts for a prospect, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := client().History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	})
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
