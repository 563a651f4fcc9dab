// Package output writes extracted images to disk, optionally packed.
package output

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

type Codec string

const (
	None Codec = "none"
	XZ   Codec = "xz"
	LZ4  Codec = "lz4"
)

const (
	dirPerm  = 0750
	filePerm = 0644
)

var ErrUnknownCodec = errors.New("unknown output codec")

// nameFilter keeps a file name inside the output directory. Names come
// from firmware UI sections and are not trusted.
var nameFilter = runes.Map(func(r rune) rune {
	switch {
	case r == '/', r == '\\', r == ':', r < 0x20, r == 0x7F, r == utf8.RuneError:
		return '_'
	}
	return r
})

// SafeName replaces path separators and control characters in name.
func SafeName(name string) string {
	out, _, err := transform.String(nameFilter, name)
	if err != nil {
		return "_"
	}

	switch out {
	case "", ".", "..":
		return "_" + out
	}

	return out
}

func ParseCodec(name string) (Codec, error) {
	switch c := Codec(strings.ToLower(name)); c {
	case None, XZ, LZ4:
		return c, nil
	case "":
		return None, nil
	}
	return "", errors.Wrapf(ErrUnknownCodec, "%q", name)
}

// Ext is the file name suffix added by the codec.
func (c Codec) Ext() string {
	switch c {
	case XZ:
		return ".xz"
	case LZ4:
		return ".lz4"
	}
	return ""
}

// Writer places files in one directory.
type Writer struct {
	Dir   string
	Codec Codec

	log *logrus.Entry
}

// New creates dir when it does not exist. An empty dir is the working
// directory.
func New(dir string, codec Codec) (*Writer, error) {
	if _, err := ParseCodec(string(codec)); err != nil {
		return nil, err
	}

	if dir != "" {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, errors.Wrap(err, "error creating output directory")
		}
	}

	return &Writer{
		Dir:   dir,
		Codec: codec,
		log:   logrus.WithField("pkg", "output"),
	}, nil
}

// WriteFile stores data under name, made safe and given the codec
// extension, and returns the path written.
func (w *Writer) WriteFile(name string, data []byte) (string, error) {
	path := filepath.Join(w.Dir, SafeName(name)+w.Codec.Ext())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return "", errors.Wrapf(err, "error creating file %s", path)
	}

	if err := w.pack(f, data); err != nil {
		_ = f.Close()
		return "", errors.Wrapf(err, "error writing file %s", path)
	}

	if err := f.Close(); err != nil {
		return "", errors.Wrapf(err, "error closing file %s", path)
	}

	w.log.Debugf("wrote %d bytes to %s", len(data), path)

	return path, nil
}

func (w *Writer) pack(dst io.Writer, data []byte) error {
	var wc io.WriteCloser

	switch w.Codec {
	case XZ:
		xw, err := xz.NewWriter(dst)
		if err != nil {
			return err
		}
		wc = xw
	case LZ4:
		wc = lz4.NewWriter(dst)
	default:
		_, err := dst.Write(data)
		return err
	}

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return err
	}

	return wc.Close()
}
