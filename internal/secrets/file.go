package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileResolver reads key material from a local file. Like ssh, it refuses
// files readable by group or others.
//
//	file:///etc/reef/keys/reef-a
//	file://~/.ssh/reef_ed25519
type FileResolver struct{}

// Scheme returns "file".
func (r *FileResolver) Scheme() string {
	return "file"
}

// Resolve reads the referenced file.
func (r *FileResolver) Resolve(ctx context.Context, reference string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path, err := filePath(reference)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", &NotFoundError{Reference: reference, Backend: "file"}
	}
	if err != nil {
		return "", &BackendError{Backend: "file", Reference: reference, Reason: err.Error()}
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return "", &BackendError{
			Backend:   "file",
			Reference: reference,
			Reason:    fmt.Sprintf("permissions %#o are too open", perm),
			Fix:       "Run: chmod 600 " + path,
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", &BackendError{Backend: "file", Reference: reference, Reason: err.Error()}
	}
	return string(data), nil
}

func filePath(ref string) (string, error) {
	rest := strings.TrimPrefix(ref, "file://")
	switch {
	case rest == "~" || strings.HasPrefix(rest, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", &InvalidReferenceError{Reference: ref, Reason: "cannot determine home directory"}
		}
		return filepath.Join(home, strings.TrimPrefix(rest, "~")), nil
	case filepath.IsAbs(rest):
		return filepath.Clean(rest), nil
	default:
		return "", &InvalidReferenceError{Reference: ref, Reason: "path must be absolute or start with ~/"}
	}
}

func init() {
	Register(&FileResolver{})
}
