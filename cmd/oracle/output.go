package main

import (
	"fmt"
	"os"
)

// ANSI SGR codes for the handful of styles the CLI uses. All human-facing
// chatter goes to stderr so answer text on stdout stays pipeable.
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
)

func paint(code, s string) string {
	if noColor {
		return s
	}
	return code + s + ansiReset
}

// note writes one prefixed, styled line to stderr.
func note(code, prefix, format string, args ...any) {
	fmt.Fprintln(os.Stderr, paint(code, prefix+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { note(ansiGreen, "✓ ", format, args...) }

func printError(format string, args ...any) { note(ansiRed, "✗ ", format, args...) }

func printWarning(format string, args ...any) { note(ansiYellow, "⚠ ", format, args...) }

func printStep(format string, args ...any) { note(ansiCyan, "→ ", format, args...) }

// printStatus renders an indented "label: value" line, label in bold.
func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", paint(ansiBold, label+":"), fmt.Sprintf(format, args...))
}
