package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/toolink/groundchat/internal/cmd"
)

// Version information set via ldflags during build
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
