package main

import (
	"context"
	"os"
	"sort"

	"github.com/linuxboot/fiano/pkg/guid"
	"github.com/linuxboot/fiano/pkg/uefi"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ambeloe/efirom/config"
	"github.com/ambeloe/efirom/output"
	"github.com/ambeloe/efirom/sections"
)

func runDump(ctx context.Context, cfg *config.Config) error {
	file, err := os.ReadFile(cfg.CLI.Dump.Input)
	if err != nil {
		return errors.Wrap(err, "error reading input file")
	}

	w, err := output.New(cfg.CLI.Dump.Output, cfg.Codec)
	if err != nil {
		return err
	}

	fw, err := uefi.Parse(file)
	if err != nil {
		return errors.Wrap(err, "error parsing efi image")
	}

	n, err := dumpExecutables(ctx, fw, sections.NewExpander(cfg.Algorithm), w)
	if err != nil {
		return err
	}

	logrus.Infof("wrote %d executables to %s", n, cfg.CLI.Dump.Output)

	return nil
}

// dumpExecutables writes every executable of fw and returns how many were
// written. Volumes inside compressed sections are opened first so their
// files are found too. A file that cannot be opened is skipped with a
// warning.
func dumpExecutables(ctx context.Context, fw uefi.Firmware, e *sections.Expander, w *output.Writer) (int, error) {
	if err := e.ExpandFirmware(fw); err != nil {
		return 0, errors.Wrap(err, "error expanding compressed sections")
	}

	c := new(Collector)
	if err := c.Run(fw); err != nil {
		return 0, errors.Wrap(err, "error running parser on firmware")
	}

	logrus.Debugf("found %d executable files, %d unique GUIDs", c.Count, len(c.Files))

	guids := make([]guid.GUID, 0, len(c.Files))
	for g := range c.Files {
		guids = append(guids, g)
	}
	sort.Slice(guids, func(i, j int) bool {
		return guids[i].String() < guids[j].String()
	})

	written := 0
	for _, g := range guids {
		for i, f := range c.Files[g] {
			if err := ctx.Err(); err != nil {
				return written, err
			}

			x, err := FileToExecutable(f, e)
			if err != nil {
				logrus.Warnf("skipping: %s", err)
				continue
			}

			path, err := w.WriteFile(x.FileName(i), x.File)
			if err != nil {
				return written, err
			}

			logrus.WithField("type", x.Type).Debugf("wrote %s", path)
			written++
		}
	}

	return written, nil
}
