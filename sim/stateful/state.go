// Package stateful stores the tables of a simulator in a directory, one file
// per table, so that a later run can continue where this one stopped.
package stateful

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// A StateHolder can save its tables into a Dir and load them back.
type StateHolder interface {
	Save(dir string) error
	Load(dir string) error
}

// Dir is a directory of tables.
type Dir struct {
	Path  string
	Codec Codec
}

// NewDir creates a Dir that encodes tables as JSON.
func NewDir(path string) Dir {
	return Dir{Path: path, Codec: JSONCodec{}}
}

// Exists tells if the directory exists.
func (d Dir) Exists() bool {
	info, err := os.Stat(d.Path)
	return err == nil && info.IsDir()
}

func (d Dir) file(name string) string {
	return filepath.Join(d.Path, name+d.Codec.Ext())
}

// Save writes one table. The file is replaced atomically.
func (d Dir) Save(name string, v any) error {
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return errors.WithStack(err)
	}

	tmp, err := os.CreateTemp(d.Path, name+".*.tmp")
	if err != nil {
		return errors.WithStack(err)
	}
	defer os.Remove(tmp.Name())

	if err := d.Codec.Encode(tmp, v); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "encoding table %s", name)
	}

	if err := tmp.Close(); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(os.Rename(tmp.Name(), d.file(name)))
}

// Load reads one table into v. It returns false if the table was never
// saved.
func (d Dir) Load(name string, v any) (bool, error) {
	f, err := os.Open(d.file(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.WithStack(err)
	}
	defer f.Close()

	if err := d.Codec.Decode(f, v); err != nil {
		return false, errors.Wrapf(err, "decoding table %s", name)
	}

	return true, nil
}
