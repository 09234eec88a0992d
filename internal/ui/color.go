// Package ui provides terminal output helpers for the canopy CLI: colored
// status lines and confidence-band highlighting, respecting NO_COLOR and
// --no-color.
package ui

import (
	"github.com/fatih/color"
)

var (
	Red    = color.New(color.FgRed)
	Yellow = color.New(color.FgYellow)
	Green  = color.New(color.FgGreen)
	Cyan   = color.New(color.FgCyan)
	Bold   = color.New(color.Bold)
	Dim    = color.New(color.Faint)
)

// Init configures global color output; call once from main() after flag
// parsing. fatih/color already honors NO_COLOR, but --no-color needs an
// explicit override.
func Init(noColor bool) {
	color.NoColor = noColor
}

func Success(msg string) { _, _ = Green.Println("✓ " + msg) }
func Warning(msg string) { _, _ = Yellow.Println("⚠ " + msg) }
func Error(msg string)   { _, _ = Red.Println("✗ " + msg) }
func Info(msg string)    { _, _ = Cyan.Println("ℹ " + msg) }

// ConfidenceLabel renders an evidence pack's confidence band as a colored
// tag: green for "expand_then_answer", yellow for "refine_query".
func ConfidenceLabel(band, action string) string {
	switch band {
	case "high":
		return Green.Sprintf("[%s] %s", band, action)
	default:
		return Yellow.Sprintf("[%s] %s", band, action)
	}
}

// SourceLabel renders a handle's provenance tag: dim "local", cyan
// "service".
func SourceLabel(source string) string {
	if source == "service" {
		return Cyan.Sprint(source)
	}
	return Dim.Sprint(source)
}
