package main

import (
	"fmt"
	"strconv"

	"github.com/linuxboot/fiano/pkg/guid"
	"github.com/linuxboot/fiano/pkg/uefi"
	"github.com/pkg/errors"

	"github.com/ambeloe/efirom/sections"
)

type Executable struct {
	GUID guid.GUID
	Deps []uefi.DepExOp
	Type string

	Name string
	File []byte

	BuildNumber string
	Version     string
}

// FileName is <name>_<guid>_<version>_<n>.efi, n telling apart files that
// share a GUID.
func (x *Executable) FileName(n int) string {
	return fmt.Sprintf("%s_%s_%s_%d.efi", x.Name, x.GUID, x.Version, n)
}

// FileToExecutable pulls the PE32 image, name and version out of an
// executable file. Compressed and GUID-defined sections are opened with e
// unless they already carry their contents.
func FileToExecutable(f *uefi.File, e *sections.Expander) (*Executable, error) {
	var exec = Executable{
		GUID:        f.Header.GUID,
		Name:        "Unknown",
		BuildNumber: "UnknownBuild",
		Version:     "UnknownVersion",
	}

	switch f.Header.Type {
	case uefi.FVFileTypeApplication:
		exec.Type = "APP"
	case uefi.FVFileTypeDriver:
		exec.Type = "DXE"
	case uefi.FVFileTypeSMM:
		exec.Type = "SMM"
	}

	leaves, err := e.Flatten(f.Sections)
	if err != nil {
		return nil, errors.Wrapf(err, "file %s", exec.GUID)
	}
	for _, s := range leaves {
		exec.addLeaf(s)
	}

	if exec.File == nil {
		return nil, errors.Errorf("file %s has no PE32 section", exec.GUID)
	}

	return &exec, nil
}

func (x *Executable) addLeaf(s *uefi.Section) {
	switch s.Header.Type {
	case uefi.SectionTypePE32:
		x.File = sections.Body(s)
	case uefi.SectionTypeUserInterface:
		x.Name = s.Name
	case uefi.SectionTypeVersion:
		x.Version = s.Version
		x.BuildNumber = strconv.Itoa(int(s.BuildNumber))
	case uefi.SectionTypeDXEDepEx, uefi.SectionMMDepEx:
		x.Deps = s.DepEx
	}
}
