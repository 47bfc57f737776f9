package signals

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

//go:embed builtin.toml
var builtinEmbed []byte

type fileSignal struct {
	Name    string  `toml:"name" yaml:"name"`
	Delay   float64 `toml:"delay" yaml:"delay"`
	Samples [][]int `toml:"samples" yaml:"samples"`
}

type libraryFile struct {
	Signals []fileSignal `toml:"signal" yaml:"signal"`
}

func (fsig fileSignal) toSignal() (Signal, error) {
	sig := Signal{
		Name:  fsig.Name,
		Delay: time.Duration(fsig.Delay * float64(time.Second)),
	}
	for i, pair := range fsig.Samples {
		if len(pair) != 2 {
			return Signal{}, fmt.Errorf("%w: %q sample %d must be [pin, value]", ErrValidation, fsig.Name, i)
		}
		sig.Samples = append(sig.Samples, Sample{Pin: pair[0], Value: pair[1] != 0})
	}
	return sig, sig.Validate()
}

func decode(name string, data []byte) ([]Signal, error) {
	var lf libraryFile

	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml":
		d := toml.NewDecoder(bytes.NewReader(data))
		d.DisallowUnknownFields()
		if err := d.Decode(&lf); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		if err := yaml.UnmarshalStrict(data, &lf); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported signal file %q", name)
	}

	out := make([]Signal, 0, len(lf.Signals))
	for _, fsig := range lf.Signals {
		sig, err := fsig.toSignal()
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}

// Builtin returns a library holding only the embedded signals
func Builtin() *Library {
	sigs, err := decode("builtin.toml", builtinEmbed)
	if err != nil {
		panic(err)
	}

	l := NewLibrary()
	for _, sig := range sigs {
		if err := l.Add(sig); err != nil {
			panic(err)
		}
	}
	return l
}

// LoadFile adds every signal defined in the named file.
func (l *Library) LoadFile(fsys afero.Fs, name string) (int, error) {
	data, err := afero.ReadFile(fsys, name)
	if err != nil {
		return 0, err
	}

	sigs, err := decode(name, data)
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", name, err)
	}
	for _, sig := range sigs {
		if err := l.Add(sig); err != nil {
			return 0, fmt.Errorf("load %s: %w", name, err)
		}
	}
	return len(sigs), nil
}

// LoadDir adds the signals from every .toml, .yaml and .yml file in dir.
// A missing directory is not an error.
func (l *Library) LoadDir(fsys afero.Fs, dir string) error {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".toml", ".yaml", ".yml":
		default:
			continue
		}

		path := filepath.Join(dir, entry.Name())
		n, err := l.LoadFile(fsys, path)
		if err != nil {
			return err
		}
		log.Debug().Str("file", path).Int("signals", n).Msg("Loaded signal file")
	}
	return nil
}
