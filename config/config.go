package config

import (
	_ "embed"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/ambeloe/efirom/eficompress"
	"github.com/ambeloe/efirom/output"
)

const (
	EnvVarPrefix = "EFIROM"

	MaxTimeout = 24 * time.Hour
)

// VERSION gets set during build
var VERSION = "0.0.0"

//go:embed help.txt
var helpText string

type Config struct {
	CLI *CLI

	Algorithm eficompress.Algorithm
	Codec     output.Codec
}

type CLI struct {
	Algorithm string        `kong:"help='Compression variant: auto, efi or tiano',default='auto',enum='auto,efi,tiano',short='a'"`
	Timeout   time.Duration `kong:"help='Give up decompressing after this long, 0 waits forever',default='0s',short='t'"`
	Codec     string        `kong:"help='Pack written files: none, xz or lz4',default='none',enum='none,xz,lz4',short='c'"`

	Debug   bool             `kong:"help='Enable debug output',short='d'"`
	Quiet   bool             `kong:"help='Only show warnings and errors',short='q'"`
	Version kong.VersionFlag `help:"Show version and exit" short:"v" env:"-"`

	Extract ExtractCmd `kong:"cmd,help='Decompress the EFI image of an option ROM or a raw compressed file'"`
	Scan    ScanCmd    `kong:"cmd,help='List the images of an option ROM'"`
	Dump    DumpCmd    `kong:"cmd,help='Dump the executables of a firmware volume'"`

	// Internal bits
	Ctx *kong.Context `kong:"-"`
}

type ExtractCmd struct {
	ROM string `kong:"arg,help='Option ROM or compressed file',type='existingfile'"`
	Out string `kong:"arg,help='Where to write the decompressed image',type='path'"`
}

type ScanCmd struct {
	ROM string `kong:"arg,help='Option ROM to list',type='existingfile'"`
}

type DumpCmd struct {
	Input  string `kong:"help='Input efi filesystem to open',short='i',required,type='existingfile'"`
	Output string `kong:"help='Output directory',short='o',default='.',type='path'"`
}

func options() []kong.Option {
	return []kong.Option{
		kong.Name("efirom"),
		kong.Description(strings.TrimSpace(helpText)),
		kong.UsageOnError(),
		kong.DefaultEnvars(EnvVarPrefix),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		kong.Vars{
			"version": VERSION,
		},
	}
}

func NewConfig() (*Config, error) {
	// Attempt to load .env
	_ = godotenv.Load(".env")

	cli := &CLI{}
	cli.Ctx = kong.Parse(cli, options()...)

	return newConfig(cli)
}

// Parse reads args the way NewConfig reads the command line, returning
// errors instead of exiting.
func Parse(args []string) (*Config, error) {
	cli := &CLI{}

	parser, err := kong.New(cli, options()...)
	if err != nil {
		return nil, errors.Wrap(err, "error building CLI parser")
	}

	cli.Ctx, err = parser.Parse(args)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing CLI args")
	}

	return newConfig(cli)
}

func newConfig(cli *CLI) (*Config, error) {
	if err := validateCLIArgs(cli); err != nil {
		return nil, errors.Wrap(err, "error validating args")
	}

	alg, err := eficompress.ParseAlgorithm(cli.Algorithm)
	if err != nil {
		return nil, err
	}

	codec, err := output.ParseCodec(cli.Codec)
	if err != nil {
		return nil, err
	}

	return &Config{
		CLI:       cli,
		Algorithm: alg,
		Codec:     codec,
	}, nil
}

// Command is the name of the selected subcommand.
func (c *Config) Command() string {
	if c == nil || c.CLI == nil || c.CLI.Ctx == nil {
		return ""
	}

	fields := strings.Fields(c.CLI.Ctx.Command())
	if len(fields) == 0 {
		return ""
	}

	return fields[0]
}

func validateCLIArgs(cli *CLI) error {
	if cli == nil {
		return errors.New("config cannot be nil")
	}

	if cli.Debug && cli.Quiet {
		return errors.New("--debug and --quiet are mutually exclusive")
	}

	if cli.Timeout < 0 || cli.Timeout > MaxTimeout {
		return errors.Errorf("timeout must be between 0 and %s", MaxTimeout)
	}

	return nil
}
