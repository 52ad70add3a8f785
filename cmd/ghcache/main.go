// Command ghcache runs the caching proxy in front of the GitHub API.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("ghcache failed")
		os.Exit(1)
	}
}
