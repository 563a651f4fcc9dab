package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambeloe/efirom/config"
	"github.com/ambeloe/efirom/internal/testenc"
	"github.com/ambeloe/efirom/optionrom"
)

func twoImageROM() []byte {
	packed := testenc.EncodeBytes(driver, testenc.Options{})
	return append(romImage(0, false, 0, nil), romImage(optionrom.CodeTypeEFI, true, optionrom.CompressionEFI, packed)...)
}

func TestScanChain(t *testing.T) {
	images, err := scanChain(bytes.NewReader(twoImageROM()))
	require.NoError(t, err)
	require.Len(t, images, 2)

	assert.False(t, images[0].IsEFI())
	assert.True(t, images[1].IsEFI())
	assert.True(t, images[1].Compressed())
	assert.True(t, images[1].Last())
	assert.Equal(t, images[1].Offset+efiOffset, images[1].PayloadOffset())
}

func TestScanChainBroken(t *testing.T) {
	// the first image points at a second one that is not there
	rom := append(romImage(0, false, 0, nil), make([]byte, 64)...)

	images, err := scanChain(bytes.NewReader(rom))
	require.Error(t, err)
	assert.ErrorIs(t, err, optionrom.ErrBadSignature)
	assert.Len(t, images, 1)
}

func TestRunScan(t *testing.T) {
	dir := t.TempDir()

	cfg := &config.Config{CLI: &config.CLI{}}

	cfg.CLI.Scan.ROM = filepath.Join(dir, "rom.bin")
	require.NoError(t, os.WriteFile(cfg.CLI.Scan.ROM, twoImageROM(), 0600))
	assert.NoError(t, runScan(cfg))

	// a broken chain still lists what it found
	cfg.CLI.Scan.ROM = filepath.Join(dir, "broken.bin")
	require.NoError(t, os.WriteFile(cfg.CLI.Scan.ROM, append(romImage(0, false, 0, nil), 0, 0), 0600))
	assert.NoError(t, runScan(cfg))

	cfg.CLI.Scan.ROM = filepath.Join(dir, "garbage.bin")
	require.NoError(t, os.WriteFile(cfg.CLI.Scan.ROM, make([]byte, 128), 0600))
	err := runScan(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, optionrom.ErrBadSignature)

	cfg.CLI.Scan.ROM = filepath.Join(dir, "missing.bin")
	assert.Error(t, runScan(cfg))
}
