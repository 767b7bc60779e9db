package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"xoracle/internal/application/usecase/monitor"
	"xoracle/internal/infrastructure/svc"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var start, end uint64

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recorded prices from the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := opts.load()
			if err != nil {
				return err
			}
			defer closeLog()

			sc, err := svc.NewStoreOnly(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer sc.Close()

			if !cmd.Flags().Changed("end") {
				all, err := sc.Store().Load(cmd.Context())
				if err != nil {
					return err
				}
				end = uint64(len(all))
			}
			entries, err := sc.Store().Range(cmd.Context(), start, end)
			if err != nil {
				return err
			}

			_, err = fmt.Fprint(cmd.OutOrStdout(), monitor.NewFormatter(cfg.Ledger.PriceDecimals).RenderHistory(start, entries))
			return err
		},
	}
	cmd.Flags().Uint64Var(&start, "start", 0, "first index (inclusive)")
	cmd.Flags().Uint64Var(&end, "end", 0, "last index (exclusive), defaults to history length")
	return cmd
}
