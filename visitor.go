package main

import (
	"crypto/sha256"

	"github.com/linuxboot/fiano/pkg/guid"
	"github.com/linuxboot/fiano/pkg/uefi"
)

// Collector gathers the executable files of a firmware image, grouped by
// file GUID. Byte identical copies, common across redundant volumes, are
// kept once.
type Collector struct {
	Count int

	Files map[guid.GUID][]*uefi.File
}

func (c *Collector) Run(f uefi.Firmware) error {
	c.Files = make(map[guid.GUID][]*uefi.File)

	if err := f.Apply(c); err != nil {
		return err
	}
	c.dedupFiles()

	return nil
}

func isExecutable(t uefi.FVFileType) bool {
	switch t {
	case uefi.FVFileTypeApplication, uefi.FVFileTypeDriver, uefi.FVFileTypeSMM:
		return true
	}
	return false
}

func (c *Collector) Visit(f uefi.Firmware) error {
	if uf, ok := f.(*uefi.File); ok && isExecutable(uf.Header.Type) {
		c.Files[uf.Header.GUID] = append(c.Files[uf.Header.GUID], uf)
		c.Count++
		return nil
	}

	return f.ApplyChildren(c)
}

func (c *Collector) dedupFiles() {
	for g, fs := range c.Files {
		if len(fs) < 2 {
			continue
		}

		seen := make(map[[sha256.Size]byte]bool, len(fs))
		kept := fs[:0]
		for _, f := range fs {
			sum := sha256.Sum256(f.Buf())
			if seen[sum] {
				continue
			}
			seen[sum] = true
			kept = append(kept, f)
		}
		c.Files[g] = kept
	}
}
