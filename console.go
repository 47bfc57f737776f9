package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"gregoryjjb/vgpio/dispatch"
)

const (
	prompt = "(gpio)> "

	maxLineBytes = 64 * 1024
)

var errLineTooLong = fmt.Errorf("%w: line longer than %d bytes", dispatch.ErrValidation, maxLineBytes)

// RunConsole reads commands from in until exit or end of input, writing
// replies to out. Command failures are printed and never end the loop.
func RunConsole(in io.Reader, out io.Writer, d *dispatch.Dispatcher) error {
	fmt.Fprintln(out, dispatch.Help())

	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, prompt)
		line, err := readLine(reader)
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil && !errors.Is(err, errLineTooLong) {
			fmt.Fprintln(out)
			return err
		}

		var reply string
		if err == nil {
			reply, err = d.Execute(line)
		}
		if errors.Is(err, dispatch.ErrExit) {
			return err
		}
		if err != nil {
			reply = "Error: " + err.Error()
		}
		if reply != "" {
			fmt.Fprintln(out, reply)
		}
	}
}

// readLine returns the next line without its terminator. Lines over
// maxLineBytes are consumed whole and reported as errLineTooLong.
func readLine(r *bufio.Reader) (string, error) {
	var line []byte
	tooLong := false
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return "", err
		}
		if !tooLong {
			line = append(line, chunk...)
			if len(line) > maxLineBytes {
				tooLong, line = true, nil
			}
		}
		if !isPrefix {
			break
		}
	}

	if tooLong {
		return "", errLineTooLong
	}
	return string(line), nil
}

// Serve runs the console on in and out. Without a console it blocks
// until ctx is done.
func Serve(ctx context.Context, in io.Reader, out io.Writer, d *dispatch.Dispatcher, console bool) error {
	if !console {
		<-ctx.Done()
		return nil
	}
	return RunConsole(in, out, d)
}
