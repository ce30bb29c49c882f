// Package main implements the datagen binary. It serves the generation API
// or streams a single dataset to a file or stdout.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli"

	"github.com/datagen/datagen/internal/app"
	"github.com/datagen/datagen/internal/config"
	"github.com/datagen/datagen/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configurationFile string
	verbose           bool
	withCaller        bool
	logToStdErr       bool
)

func main() {
	app.Version = version

	cliApp := cli.NewApp()
	cliApp.Name = "datagen"
	cliApp.Usage = "Synthetic dataset generator streaming csv, json and xml"
	cliApp.Version = fmt.Sprintf("%s (commit: %s)", version, commit)
	cliApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "config, c",
			Usage:       "Load configuration from `FILE` (yaml, json or toml)",
			EnvVar:      "DATAGEN_CONFIG",
			Destination: &configurationFile,
		},
		cli.BoolFlag{
			Name:        "verbose",
			Usage:       "Show verbose output",
			Destination: &verbose,
		},
		cli.BoolFlag{
			Name:        "caller",
			Usage:       "Collect caller information for log messages",
			Destination: &withCaller,
		},
		cli.BoolFlag{
			Name:        "log-to-stderr",
			Usage:       "Redirects logging output to stderr",
			Destination: &logToStdErr,
		},
	}
	cliApp.Commands = []cli.Command{
		serveCommand(),
		generateCommand(),
		{
			Name:  "version",
			Usage: "Prints the version and exits",
			Action: func(*cli.Context) error {
				fmt.Printf("datagen version %s (commit: %s)\n", version, commit)
				return nil
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serveCommand() cli.Command {
	return cli.Command{
		Name:  "serve",
		Usage: "Runs the HTTP and gRPC generation services",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "data-dir", Usage: "Base directory for the job catalog and exports"},
			cli.StringFlag{Name: "http-addr", Usage: "HTTP listen address"},
			cli.StringFlag{Name: "grpc-addr", Usage: "gRPC listen address"},
			cli.BoolFlag{Name: "no-grpc", Usage: "Disables the gRPC service"},
			cli.BoolFlag{Name: "no-exports", Usage: "Disables export jobs"},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	if v := c.String("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v := c.String("http-addr"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := c.String("grpc-addr"); v != "" {
		cfg.GRPC.Addr = v
	}
	if c.Bool("no-grpc") {
		cfg.GRPC.Enabled = false
	}
	if c.Bool("no-exports") {
		cfg.Exports.Enabled = false
	}

	application, err := app.New(cfg)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("Failed to create application: %v", err), 3)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		return cli.NewExitError(fmt.Sprintf("Failed to start application: %v", err), 4)
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		logging.NewLogger("Main").Warnf("shutdown: %v", err)
	}
	if err := application.Stop(context.Background()); err != nil {
		return cli.NewExitError(fmt.Sprintf("Shutdown error: %v", err), 1)
	}
	return nil
}

// loadConfig loads configuration from file and environment and initializes
// logging. forceStderr keeps stdout free for data.
func loadConfig(forceStderr bool) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configurationFile != "" {
		fmt.Fprintf(os.Stderr, "Loading configuration file: %s\n", configurationFile)
		var err error
		cfg, err = config.LoadFromFile(configurationFile)
		if err != nil {
			return nil, cli.NewExitError(fmt.Sprintf("Configuration file couldn't be loaded: %v", err), 2)
		}
	}
	config.LoadFromEnv(cfg)

	if verbose {
		cfg.Logging.Level = "verbose"
	}
	if withCaller {
		cfg.Logging.Caller = true
	}
	if logToStdErr || forceStderr {
		cfg.Logging.Stderr = true
	}
	logging.Initialize(cfg.Logging)
	return cfg, nil
}
