package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dense-identity/callsig/internal/config"
	"github.com/dense-identity/callsig/internal/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [peer]",
	Short: "List recent call records",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New[history.Config]()
		if err != nil {
			return err
		}
		store, err := history.Open(cmd.Context(), cfg.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		var peer string
		if len(args) == 1 {
			peer = args[0]
		}
		records, err := store.Recent(cmd.Context(), peer, historyLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tPEER\tDIRECTION\tOUTCOME\tREASON\tDURATION")
		for _, r := range records {
			dir := "out"
			if r.Incoming {
				dir = "in"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.At.Format(time.DateTime), r.Peer, dir, r.Outcome, r.Reason, r.Duration.Round(time.Second))
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of records")
}
