package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/chmdznr/worldbackup/internal/logging"
	"github.com/chmdznr/worldbackup/pkg/version"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	app := &cli.App{
		Name:                 "wbackup",
		Usage:                "Change-detecting Minecraft world backups with remote upload and retention",
		Version:              version.Version,
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file",
				EnvVars: []string{"WBACKUP_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override logging.level (trace, debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Override logging.format (console, json)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("Version:    %s\n", version.Version)
					fmt.Printf("Git commit: %s\n", version.GitCommit)
					fmt.Printf("Built:      %s\n", version.BuildTime)
					return nil
				},
			},
			{
				Name:  "run",
				Usage: "Back up the world if it changed since the last backup",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Only report whether a backup would be made",
					},
					&cli.BoolFlag{
						Name:  "progress",
						Usage: "Show progress bars while archiving and uploading",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the run summary as JSON",
					},
				},
				Action: runBackup,
			},
			{
				Name:   "fingerprint",
				Usage:  "Print the current world fingerprint and whether it changed",
				Action: showFingerprint,
			},
			{
				Name:  "prune",
				Usage: "Apply local and remote retention without backing up",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "List what would be deleted",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the summary as JSON",
					},
				},
				Action: prune,
			},
			{
				Name:   "status",
				Usage:  "Show run statistics and local archives",
				Action: showStatus,
			},
			{
				Name:  "history",
				Usage: "List recent runs",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of runs to show",
						Value: 20,
					},
				},
				Action: showHistory,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.RunContext(ctx, os.Args)
	stop()
	if err != nil {
		logging.Error().Err(err).Msg("wbackup failed")
		os.Exit(1)
	}
}
