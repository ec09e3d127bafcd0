// Command endit runs the HSM bridge's three cooperating daemons as
// subcommands of a single binary. The daemons are independent processes
// and only ever communicate through the staging tree.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/neicnordic/endit/internal/archiver"
	"github.com/neicnordic/endit/internal/config"
	"github.com/neicnordic/endit/internal/deleter"
	"github.com/neicnordic/endit/internal/logging"
	"github.com/neicnordic/endit/internal/retriever"
	"github.com/neicnordic/endit/internal/stage"
	"github.com/neicnordic/endit/internal/supervisor"
)

var configFlag = cli.StringFlag{
	Name:   "config, c",
	Usage:  "path to the ENDIT key/value configuration file",
	EnvVar: "ENDIT_CONFIG",
	Value:  "/etc/endit.conf",
}

var logLevelFlag = cli.StringFlag{
	Name:   "log-level",
	Usage:  "logrus level (debug, info, warn, error)",
	EnvVar: "ENDIT_LOG_LEVEL",
	Value:  "info",
}

func main() {
	app := cli.NewApp()
	app.Name = "endit"
	app.Usage = "dCache-to-tape HSM bridge: archiver, retriever, and deleter daemons"
	app.Flags = []cli.Flag{configFlag, logLevelFlag}
	app.Commands = []cli.Command{
		{
			Name:  "archiver",
			Usage: "watch out/ and spawn threshold-driven tape-archive workers",
			Flags: app.Flags,
			Action: runComponent("archiver", func(cfg *config.Schema, ov *config.OverrideState, logger logging.Logger) (supervisor.Component, error) {
				return archiver.New(cfg, ov, logger), nil
			}),
		},
		{
			Name:  "retriever",
			Usage: "watch request/ and spawn per-volume tape-retrieve workers",
			Flags: app.Flags,
			Action: runComponent("retriever", func(cfg *config.Schema, ov *config.OverrideState, logger logging.Logger) (supervisor.Component, error) {
				return retriever.New(cfg, ov, logger), nil
			}),
		},
		{
			Name:  "deleter",
			Usage: "watch trash/ and cron-process batched tape-delete requests",
			Flags: app.Flags,
			Action: runComponent("deleter", func(cfg *config.Schema, ov *config.OverrideState, logger logging.Logger) (supervisor.Component, error) {
				return deleter.New(cfg, ov, logger)
			}),
		},
		{
			Name:      "sample-config",
			Usage:     "write an annotated example configuration file",
			ArgsUsage: "[output-path]",
			Action:    sampleConfigAction,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildFunc constructs one daemon's supervisor.Component from its loaded
// config, override state, and logger. Archiver/retriever.New never fail
// once the config is valid; deleter.New additionally parses the cron
// schedule, which can fail, so every builder returns an error uniformly.
type buildFunc func(cfg *config.Schema, ov *config.OverrideState, logger logging.Logger) (supervisor.Component, error)

// runComponent is the shared bootstrap every subcommand runs: load
// config, stand up logging, verify the staging tree, clean stale
// leftovers from a previous run, build the component, and hand it to the
// supervisor loop until a terminating signal arrives.
func runComponent(name string, build buildFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		logger := logging.New(name, "", c.String("log-level"))

		cfg, err := config.Load(c.String("config"), logger)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("loading configuration: %v", err), 1)
		}
		logger = logging.New(name, cfg.LogDir, c.String("log-level"))

		if err := stage.EnsureWritable(cfg.Dir); err != nil {
			return cli.NewExitError(fmt.Sprintf("staging tree %q is not usable: %v", cfg.Dir, err), 1)
		}

		cleanStale(logger, stage.Path(cfg.Dir, "in"), cfg.StaleInAge)
		cleanStale(logger, stage.Path(cfg.Dir, "requestlists"), cfg.StaleListAge)

		ov := config.NewOverrideState(cfg.OverrideFile)

		component, err := build(cfg, ov, logger)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("starting %s: %v", name, err), 1)
		}

		logger.WithField("dir", cfg.Dir).Infof("%s starting", name)
		supervisor.Run(context.Background(), component)
		logger.Infof("%s shut down", name)
		return nil
	}
}

// sampleConfigAction writes the annotated example configuration to the
// path given as the first argument, or to stdout if none is given. It
// is a fixed template with no scheduling or validation logic of its
// own.
func sampleConfigAction(c *cli.Context) error {
	out := c.Args().First()
	if out == "" {
		return config.WriteSample(os.Stdout)
	}
	f, err := os.Create(out)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("creating %q: %v", out, err), 1)
	}
	defer f.Close()
	if err := config.WriteSample(f); err != nil {
		return cli.NewExitError(fmt.Sprintf("writing %q: %v", out, err), 1)
	}
	return nil
}

// cleanStale removes entries older than maxAge from dir, logging but not
// failing startup on error. Leftovers in in/ and requestlists/ from a
// previous run have no owner anymore and would otherwise accumulate
// forever.
func cleanStale(logger logging.Logger, dir string, maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}
	cutoff := time.Now().Add(-maxAge)
	removed, err := stage.CleanStale(dir, func(info os.FileInfo) bool {
		return info.ModTime().Before(cutoff)
	})
	if err != nil {
		logger.WithField("dir", dir).WithField("error", err).Warn("cleaning stale files failed")
		return
	}
	if removed > 0 {
		logger.WithField("dir", dir).WithField("removed", removed).Info("cleaned stale files from previous run")
	}
}
