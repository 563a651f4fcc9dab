package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ambeloe/efirom/config"
)

func main() {
	os.Exit(rMain())
}

func rMain() int {
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Println("ERROR: ", err)
		return 1
	}

	switch {
	case cfg.CLI.Debug:
		logrus.SetLevel(logrus.DebugLevel)
		logrus.Debug("debug mode enabled")
	case cfg.CLI.Quiet:
		logrus.SetLevel(logrus.WarnLevel)
	}

	displayConfig(cfg)

	ctx := context.Background()
	if cfg.CLI.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.CLI.Timeout)
		defer cancel()
	}

	switch cfg.Command() {
	case "extract":
		err = runExtract(ctx, cfg)
	case "scan":
		err = runScan(cfg)
	case "dump":
		err = runDump(ctx, cfg)
	default:
		err = errors.Errorf("unknown command %q", cfg.Command())
	}

	if err != nil {
		logrus.Errorf("error during %s: %s", cfg.Command(), err)
		return 1
	}

	return 0
}

func displayConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}

	logrus.Debug("efirom settings:")
	logrus.Debugf("  version: %s", config.VERSION)
	logrus.Debugf("  command: %s", cfg.Command())
	logrus.Debugf("  algorithm: %s", cfg.Algorithm)
	logrus.Debugf("  codec: %s", cfg.Codec)
	logrus.Debugf("  timeout: %s", cfg.CLI.Timeout)
	logrus.Debugf("  debug: %v", cfg.CLI.Debug)
	logrus.Debugf("  quiet: %v", cfg.CLI.Quiet)
}
