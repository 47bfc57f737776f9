package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// VgpioFS is an Afero FS with added functionality
// to replicate OS filesystems in testing
type VgpioFS interface {
	afero.Fs
	Abs(string) (string, error)
	HomeDir() (string, error)
}

type vgpioOSFS struct {
	afero.Fs
}

func NewVgpioOSFS() VgpioFS {
	return &vgpioOSFS{
		afero.NewOsFs(),
	}
}

func (g *vgpioOSFS) Abs(path string) (string, error) {
	return filepath.Abs(path)
}

func (g *vgpioOSFS) HomeDir() (string, error) {
	return os.UserHomeDir()
}

type vgpioMemFS struct {
	afero.Fs
}

func NewVgpioMemFS() VgpioFS {
	return &vgpioMemFS{
		afero.NewMemMapFs(),
	}
}

func (g *vgpioMemFS) Abs(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	return filepath.Join("/", path), nil
}

func (g *vgpioMemFS) HomeDir() (string, error) {
	return "/home", nil
}
