// Command nimi is a container-oriented process-identity-1 supervisor: it
// spawns a declaratively configured set of services, demultiplexes their
// logs, reaps orphaned descendants, restarts failed children per policy,
// and reloads configuration on hangup.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/myypo/nimi"
)

func main() {
	app := &cli.App{
		Name:  "nimi",
		Usage: "a small init process for declaratively configured services",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Usage: "enable debug-level logging"},
			&cli.StringFlag{Name: "log-format", Value: "console", Usage: "console or json"},
		},
		Commands: []*cli.Command{
			validateCommand,
			runCommand,
			statusCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error returned from a subcommand action to the process
// exit code specified in spec.md §6: 0 normal, 1 internal error, 2
// configuration error.
func exitCode(err error) int {
	var cfgErr *nimi.ConfigError
	if errors.As(err, &cfgErr) {
		return 2
	}
	return 1
}

func loggerFromContext(c *cli.Context) zerolog.Logger {
	log := nimi.NewLogger(os.Stderr, c.String("log-format") != "json")
	if c.Bool("debug") {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}
	return log
}

var validateCommand = &cli.Command{
	Name:  "validate",
	Usage: "parse and validate a configuration document",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Required: true, Usage: "path to the configuration document"},
	},
	Action: func(c *cli.Context) error {
		_, err := nimi.LoadConfig(c.String("config"))
		return err
	},
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "parse and run the services in a configuration document",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Required: true, Usage: "path to the configuration document"},
		&cli.StringFlag{Name: "root", Usage: "directory to write per-service state files under"},
	},
	Action: func(c *cli.Context) error {
		log := loggerFromContext(c)
		configPath := c.String("config")

		cfg, err := nimi.LoadConfig(configPath)
		if err != nil {
			return err
		}

		rt, err := nimi.NewRuntime(cfg, configPath, c.String("root"), log)
		if err != nil {
			return err
		}
		return rt.Run()
	},
}

var statusCommand = &cli.Command{
	Name:  "status",
	Usage: "print the recorded state of every service under a root directory",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Required: true, Usage: "path to the configuration document"},
		&cli.StringFlag{Name: "root", Usage: "directory to read per-service state files from", Value: "."},
	},
	Action: func(c *cli.Context) error {
		if _, err := nimi.LoadConfig(c.String("config")); err != nil {
			return err
		}
		return nimi.PrintStatus(os.Stdout, c.String("root"))
	},
}
