// Package shellcmd builds remote command lines. Every caller-supplied
// identifier that is interpolated into a command must pass ValidateID first;
// arbitrary content never goes through shell quoting and is carried as
// base64 instead (see Base64Literal).
package shellcmd

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

var safeID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// PolicyError reports an identifier rejected before any remote call.
type PolicyError struct {
	Kind  string
	Value string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("invalid %s: %q (allowed: letters, digits, '-', '_')", e.Kind, e.Value)
}

// ValidateID checks that value is safe to interpolate into a command line.
// kind names the identifier in the error ("agent ID", "channel", ...).
func ValidateID(kind, value string) error {
	if !safeID.MatchString(value) {
		return &PolicyError{Kind: kind, Value: value}
	}
	return nil
}

// ValidateIDs validates kind/value pairs in order and returns the first
// failure.
func ValidateIDs(pairs ...string) error {
	if len(pairs)%2 != 0 {
		panic("shellcmd.ValidateIDs: odd number of arguments")
	}
	for i := 0; i < len(pairs); i += 2 {
		if err := ValidateID(pairs[i], pairs[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// Quote wraps value in single quotes for a POSIX shell.
func Quote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

// HomePath renders a "~/"-relative path so that $HOME expands while the
// remainder stays quoted: "~/.openclaw/a b" becomes "$HOME"/'.openclaw/a b'.
// Paths not starting with "~" are quoted as-is.
func HomePath(p string) string {
	switch {
	case p == "~":
		return `"$HOME"`
	case strings.HasPrefix(p, "~/"):
		rest := strings.TrimPrefix(p, "~/")
		if rest == "" {
			return `"$HOME"/`
		}
		return `"$HOME"/` + Quote(rest)
	default:
		return Quote(p)
	}
}

// Base64Literal encodes data as a single-quoted base64 word. The base64
// alphabet contains no shell metacharacters, so the literal is inert no
// matter what data holds.
func Base64Literal(data []byte) string {
	return "'" + base64.StdEncoding.EncodeToString(data) + "'"
}

// DecodeVar returns a prefix that sets the remote shell variable name to
// data, byte for byte, and the quoted reference to pass as an argument:
//
//	m="$(printf '%s' 'aGkKCg==' | base64 -d; printf .)"; m="${m%.}"; openclaw agent -m "$m"
//
// The trailing dot stops command substitution from eating trailing
// newlines. name must be a fixed identifier, never caller input.
func DecodeVar(name string, data []byte) (assign, ref string) {
	assign = name + `="$(printf '%s' ` + Base64Literal(data) + ` | base64 -d; printf .)"; ` +
		name + `="${` + name + `%.}"; `
	return assign, `"$` + name + `"`
}

// Join joins command fragments with "&&".
func Join(parts ...string) string {
	return strings.Join(parts, " && ")
}
