package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"xoracle/internal/infrastructure/config"
	"xoracle/internal/infrastructure/logger"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "xoracle",
		Short:         "Keeper-gated price ledger with heartbeat staleness checks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "configs/config.toml", "path to config.toml")

	cmd.AddCommand(
		newServeCmd(opts),
		newHistoryCmd(opts),
		newTokenCmd(opts),
	)
	return cmd
}

// load 读取配置并按配置重建日志输出；返回的 closer 关闭日志文件
func (o *rootOptions) load() (*config.Config, func(), error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	closer := logger.SetupWithOptions(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	return cfg, func() {
		if err := closer.Close(); err != nil {
			log.Error().Err(err).Msg("close log file failed")
		}
	}, nil
}
