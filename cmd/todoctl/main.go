package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/canvastodo/card-server-go/internal/cli"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := cli.NewApp().Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("todoctl failed")
	}
}
