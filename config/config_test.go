package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambeloe/efirom/eficompress"
	"github.com/ambeloe/efirom/output"
)

func tempROM(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "card.rom")
	require.NoError(t, os.WriteFile(path, []byte{0x55, 0xAA}, 0644))

	return path
}

func TestParseExtract(t *testing.T) {
	rom := tempROM(t)
	out := filepath.Join(t.TempDir(), "card.efi")

	cfg, err := Parse([]string{"--algorithm", "tiano", "--codec", "xz", "-t", "5s", "extract", rom, out})
	require.NoError(t, err)

	assert.Equal(t, "extract", cfg.Command())
	assert.Equal(t, eficompress.Tiano, cfg.Algorithm)
	assert.Equal(t, output.XZ, cfg.Codec)
	assert.Equal(t, 5*time.Second, cfg.CLI.Timeout)
	assert.Equal(t, rom, cfg.CLI.Extract.ROM)
	assert.Equal(t, out, cfg.CLI.Extract.Out)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]string{"scan", tempROM(t)})
	require.NoError(t, err)

	assert.Equal(t, "scan", cfg.Command())
	assert.Equal(t, eficompress.Auto, cfg.Algorithm)
	assert.Equal(t, output.None, cfg.Codec)
	assert.Zero(t, cfg.CLI.Timeout)
	assert.False(t, cfg.CLI.Debug)
}

func TestParseDump(t *testing.T) {
	fw := tempROM(t)
	dir := t.TempDir()

	cfg, err := Parse([]string{"dump", "-i", fw, "-o", dir})
	require.NoError(t, err)

	assert.Equal(t, "dump", cfg.Command())
	assert.Equal(t, fw, cfg.CLI.Dump.Input)
	assert.Equal(t, dir, cfg.CLI.Dump.Output)
}

func TestParseEnv(t *testing.T) {
	t.Setenv("EFIROM_ALGORITHM", "efi")
	t.Setenv("EFIROM_DEBUG", "true")

	cfg, err := Parse([]string{"scan", tempROM(t)})
	require.NoError(t, err)

	assert.Equal(t, eficompress.EFI, cfg.Algorithm)
	assert.True(t, cfg.CLI.Debug)
}

func TestParseErrors(t *testing.T) {
	rom := tempROM(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown algorithm", args: []string{"--algorithm", "lzma", "scan", rom}},
		{name: "unknown codec", args: []string{"--codec", "zip", "scan", rom}},
		{name: "missing file", args: []string{"scan", filepath.Join(t.TempDir(), "nope.rom")}},
		{name: "debug and quiet", args: []string{"-d", "-q", "scan", rom}},
		{name: "negative timeout", args: []string{"--timeout", "-1s", "scan", rom}},
		{name: "dump without input", args: []string{"dump"}},
		{name: "no command", args: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestCommandOnEmptyConfig(t *testing.T) {
	var cfg *Config
	assert.Equal(t, "", cfg.Command())
	assert.Equal(t, "", (&Config{}).Command())
}
