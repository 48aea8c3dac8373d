package persist

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jt05610/drawbot"
)

var _ Store = (*File)(nil)

// DefaultFile is where bindings are kept when nothing else is configured.
const DefaultFile = "DrawingMachine.vmp"

// File keeps bindings in a YAML document on disk.
type File struct {
	path string
}

type document struct {
	Nodes Bindings `yaml:"nodes"`
}

func NewFile(path string) *File {
	if path == "" {
		path = DefaultFile
	}
	return &File{path: path}
}

func (f *File) Path() string { return f.path }

// Load returns an empty set when the file does not exist. A file that cannot be
// decoded is a configuration error.
func (f *File) Load(context.Context) (Bindings, error) {
	in, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Bindings{}, nil
	}
	if err != nil {
		return nil, drawbot.NewConfigurationError(f.path, err)
	}
	defer in.Close()
	var doc document
	if err := yaml.NewDecoder(in).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Bindings{}, nil
		}
		return nil, drawbot.NewConfigurationError(f.path, errors.Wrap(err, "corrupt binding file"))
	}
	if err := doc.Nodes.Validate(); err != nil {
		return nil, drawbot.NewConfigurationError(f.path, err)
	}
	if doc.Nodes == nil {
		doc.Nodes = Bindings{}
	}
	return doc.Nodes, nil
}

// Save replaces the file atomically.
func (f *File) Save(_ context.Context, b Bindings) error {
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*")
	if err != nil {
		return errors.Wrap(err, "create binding file")
	}
	enc := yaml.NewEncoder(tmp)
	enc.SetIndent(2)
	if err := enc.Encode(document{Nodes: b}); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "encode bindings")
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
