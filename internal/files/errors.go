package files

import (
	"fmt"
	"strings"

	"github.com/majorcontext/reef/internal/remote"
)

// PolicyError is returned when a path is rejected before any remote call.
type PolicyError struct {
	Path   string
	Reason string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("path %q %s", e.Path, e.Reason)
}

// SizeError is returned when a file exceeds the transfer ceiling.
type SizeError struct {
	Path  string
	Size  int64
	Limit int64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("%s is %d bytes, over the %d byte limit\n\n"+
		"Raise files.max_read_bytes in ~/.reef/config.yaml to allow larger files.",
		e.Path, e.Size, e.Limit)
}

// CommandError is returned when the remote side of a file operation exits
// nonzero.
type CommandError struct {
	Op       string
	Path     string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s: exit %d", e.Op, e.Path, e.ExitCode)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func commandError(op, path string, res *remote.Result) error {
	return &CommandError{Op: op, Path: path, ExitCode: res.ExitCode, Output: strings.TrimSpace(res.Combined())}
}
