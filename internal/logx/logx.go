// Package logx is the engine's console logger: color-tagged level lines
// built around github.com/fatih/color and gated on github.com/mattn/go-isatty
// so a redirected stream never carries raw escape codes.
package logx

import (
	"fmt"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var (
	mu  sync.Mutex
	out = colorable.NewColorableStdout()
	err = colorable.NewColorableStderr()

	infoColor  = color.New(color.FgCyan)
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
)

func colorEnabled(f *os.File) bool {
	return isatty.IsTerminal(f.Fd())
}

// Infof prints an informational line to stdout.
func Infof(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if colorEnabled(os.Stdout) {
		infoColor.Fprintf(out, format, args...)
		return
	}
	fmt.Fprintf(out, format, args...)
}

// Warnf prints a warning line, used for non-fatal post-process failures
// (hash mismatch, extraction error) that do not demote Completed.
func Warnf(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if colorEnabled(os.Stderr) {
		warnColor.Fprintf(err, format, args...)
		return
	}
	fmt.Fprintf(err, format, args...)
}

// Errorf prints an error line. It never panics — that is a CLI-layer
// decision, not this package's.
func Errorf(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if colorEnabled(os.Stderr) {
		errorColor.Fprintf(err, format, args...)
		return
	}
	fmt.Fprintf(err, format, args...)
}
