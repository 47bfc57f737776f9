package main

import (
	_ "embed"
	"io"
	"os"
	"strings"
	"text/template"
)

//go:embed vgpio.service
var vgpioServiceEmbed string

type VgpioServiceParams struct {
	BinaryPath string
	Args       string
	User       string
}

// SystemdServiceFile renders a unit running this binary without a
// console, since systemd gives it no stdin.
func SystemdServiceFile(w io.Writer, flags Flags) error {
	tmpl, err := template.New("vgpio.service").Parse(vgpioServiceEmbed)
	if err != nil {
		return err
	}

	path, err := os.Executable()
	if err != nil {
		return err
	}

	args := []string{"-no-console"}
	if flags.ConfigPath != "" {
		args = append(args, "-config", flags.ConfigPath)
	}
	if flags.HTTPListen != "" {
		args = append(args, "-http", flags.HTTPListen)
	}

	params := VgpioServiceParams{
		BinaryPath: path,
		Args:       strings.Join(args, " "),
		User:       "pi",
	}

	return tmpl.Execute(w, params)
}
