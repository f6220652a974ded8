package ui

import (
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI color and style constants for CLI output
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorDim   = "\033[2m"

	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorWhite  = "\033[97m"
	ColorRed    = "\033[31m"
)

// Enabled is false when stdout is not a terminal or NO_COLOR is set
var Enabled = os.Getenv("NO_COLOR") == "" &&
	(isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))

func paint(style, s string) string {
	if !Enabled {
		return s
	}
	return style + s + ColorReset
}

// Bold wraps s in bold
func Bold(s string) string {
	return paint(ColorBold, s)
}

func Success(s string) string {
	return paint(ColorGreen, s)
}

// Info is dim yellow, for notes that are neither success nor failure
func Info(s string) string {
	return paint(ColorDim+ColorYellow, s)
}

func Error(s string) string {
	return paint(ColorRed, s)
}

// Label is a bold field name in a summary block
func Label(s string) string {
	return paint(ColorBold, s)
}

// Value is bright text for identifiers and counts
func Value(s string) string {
	return paint(ColorWhite, s)
}

// Muted dims s
func Muted(s string) string {
	return paint(ColorDim, s)
}
