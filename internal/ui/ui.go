// Package ui renders reef's human-facing output: colored status tags,
// aligned tables on stdout, and prefixed messages on stderr.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
)

var (
	out  io.Writer = os.Stdout
	errw io.Writer = os.Stderr
)

// SetOutput overrides the stdout and stderr writers. Nil restores the
// process streams.
func SetOutput(stdout, stderr io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	out, errw = stdout, stderr
}

// Stdout returns the current stdout writer.
func Stdout() io.Writer { return out }

// Stderr returns the current stderr writer.
func Stderr() io.Writer { return errw }

var stdoutColor = detectColor(os.Stdout)
var stderrColor = detectColor(os.Stderr)

func detectColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetColorEnabled overrides color detection.
func SetColorEnabled(enabled bool) {
	stdoutColor = enabled
	stderrColor = enabled
}

func ansi(on bool, code, s string) string {
	if !on {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Bold returns s in bold.
func Bold(s string) string { return ansi(stdoutColor, "1", s) }

// Dim returns s dimmed.
func Dim(s string) string { return ansi(stdoutColor, "2", s) }

// Green returns s in green.
func Green(s string) string { return ansi(stdoutColor, "32", s) }

// Red returns s in red.
func Red(s string) string { return ansi(stdoutColor, "31", s) }

// Yellow returns s in yellow.
func Yellow(s string) string { return ansi(stdoutColor, "33", s) }

// Status returns a green check or a red cross.
func Status(ok bool) string {
	if ok {
		return Green("✓")
	}
	return Red("✗")
}

// YesNo renders a flag column.
func YesNo(b bool) string {
	if b {
		return Green("yes")
	}
	return Dim("no")
}

// Section prints a bold title with a thin underline.
func Section(title string) {
	fmt.Fprintln(out, Bold(title))
	fmt.Fprintln(out, Dim(strings.Repeat("─", len([]rune(title)))))
}

// Outcome prints a one-line result for an operation, followed by indented
// detail when present.
func Outcome(ok bool, summary, detail string) {
	fmt.Fprintf(out, "%s %s\n", Status(ok), summary)
	detail = strings.TrimRight(detail, "\n")
	if detail == "" {
		return
	}
	for _, line := range strings.Split(detail, "\n") {
		fmt.Fprintf(out, "    %s\n", line)
	}
}

// Table writes tab-aligned rows to stdout.
type Table struct {
	tw *tabwriter.Writer
}

// NewTable starts a table with the given header.
func NewTable(header ...string) *Table {
	t := &Table{tw: tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)}
	for i, h := range header {
		header[i] = Bold(h)
	}
	t.Row(header...)
	return t
}

// Row appends a row.
func (t *Table) Row(cells ...string) {
	fmt.Fprintln(t.tw, strings.Join(cells, "\t"))
}

// Flush writes the table.
func (t *Table) Flush() error { return t.tw.Flush() }

// JSON writes v to stdout as indented JSON.
func JSON(v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// Warnf prints a warning to stderr.
func Warnf(format string, args ...any) {
	fmt.Fprintf(errw, "%s %s\n", ansi(stderrColor, "33", "Warning:"), fmt.Sprintf(format, args...))
}

// Errorf prints an error to stderr.
func Errorf(format string, args ...any) {
	fmt.Fprintf(errw, "%s %s\n", ansi(stderrColor, "31", "Error:"), fmt.Sprintf(format, args...))
}

// Infof prints a message to stderr with no prefix.
func Infof(format string, args ...any) {
	fmt.Fprintf(errw, format+"\n", args...)
}
