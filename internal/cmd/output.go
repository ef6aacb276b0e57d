package cmd

import (
	"io"

	"github.com/fatih/color"
)

var noColor bool

// printStatus writes text on its own line, green when ok and red otherwise.
// Colors are dropped for --no-color, NO_COLOR and non-terminal output.
func printStatus(w io.Writer, ok bool, text string) {
	c := color.New(color.FgRed, color.Bold)
	if ok {
		c = color.New(color.FgGreen)
	}
	if noColor {
		c.DisableColor()
	}
	_, _ = c.Fprintln(w, text)
}
