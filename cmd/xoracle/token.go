package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"xoracle/internal/domain/model"
	"xoracle/internal/infrastructure/auth"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <identity>",
		Short: "Mint a bearer token for a caller identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := opts.load()
			if err != nil {
				return err
			}
			defer closeLog()

			if ttl <= 0 {
				ttl = cfg.TokenTTL()
			}
			tok, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, ttl).Issue(model.Identity(args[0]))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to auth.token_ttl_sec")
	return cmd
}
