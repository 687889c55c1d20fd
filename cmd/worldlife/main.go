package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/voxelarium/worldlife"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	service, err := worldlife.New()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create worldlife service")
	}
	if err := service.Start(); err != nil {
		log.Fatal().Err(err).Msg("worldlife service stopped with an error")
	}
}
