// Package main is rgbdctl, a headless tool to inspect, view and record RGB-D devices.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	_ "go.viam.com/rgbdsync/device/fake"
	"go.viam.com/rgbdsync/logging"
)

const (
	flagConfig   = "config"
	flagDriver   = "driver"
	flagDebug    = "debug"
	flagDuration = "duration"
	flagOut      = "out"
	flagEvery    = "every"
	flagLayout   = "layout"
	flagFile     = "file"
	flagImu      = "imu"
)

func main() {
	logger := logging.NewLogger("rgbdctl")
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := &cli.App{
		Name:            "rgbdctl",
		Usage:           "inspect, view and record RGB-D devices",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load device configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  flagDriver,
				Value: "fake",
				Usage: "device driver to open when no config file is given",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger.SetLevel(logging.DEBUG)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "profiles",
				Usage:  "list the stream profiles and IMU ranges of the device",
				Action: withDevice(ctx, logger, profilesAction),
			},
			{
				Name:  "view",
				Usage: "stream captures and write decoded montage snapshots",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: flagDuration, Usage: "stop after this long, zero streams until interrupted"},
					&cli.StringFlag{Name: flagOut, Value: ".", Usage: "directory for snapshots"},
					&cli.IntFlag{Name: flagEvery, Value: 30, Usage: "write a snapshot every N captures"},
					&cli.StringFlag{Name: flagLayout, Value: "horizontal", Usage: "montage layout: horizontal, vertical, grid, overlay or blend"},
				},
				Action: withDevice(ctx, logger, viewAction),
			},
			{
				Name:  "record",
				Usage: "record captures to a file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagOut, Required: true, Usage: "capture `FILE` to write"},
					&cli.DurationFlag{Name: flagDuration, Usage: "stop after this long, zero records until interrupted"},
					&cli.BoolFlag{Name: flagImu, Usage: "record IMU readings too"},
				},
				Action: withDevice(ctx, logger, recordAction),
			},
			{
				Name:  "playback",
				Usage: "replay a capture file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagFile, Required: true, Usage: "capture `FILE` to replay"},
				},
				Action: func(c *cli.Context) error {
					return playbackAction(ctx, c, logger)
				},
			},
			{
				Name:   "schema",
				Usage:  "print the JSON schema of the config file",
				Action: schemaAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatalf("%v", err)
	}
}
