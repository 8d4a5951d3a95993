// Command modcases runs the moderation case ledger: an HTTP collaborator API
// over a durable store, with an optional Redis or in-process cache.
package main

import (
	"os"

	_ "github.com/joho/godotenv/autoload"

	"github.com/rs/zerolog/log"
	cli "github.com/urfave/cli/v2"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(os.Args); err != nil {
		log.Error().Err(err).Msg("modcases exited")
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "modcases",
		Usage:   "moderation case ledger service",
		Version: version,
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity (debug, info, warn, error)",
			EnvVars: []string{"LOG_LEVEL"},
		},
	}

	app.Commands = []*cli.Command{
		serveCmd,
		migrateCmd,
		expireDueCmd,
		purgeIntentsCmd,
	}
	return app.Run(args)
}
