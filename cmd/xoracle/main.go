package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"xoracle/internal/infrastructure/logger"
)

func main() {
	logger.Setup()

	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("xoracle exited")
		os.Exit(1)
	}
}
