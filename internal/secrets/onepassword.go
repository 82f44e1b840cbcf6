package secrets

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// OnePasswordResolver resolves secrets from 1Password using the op CLI.
type OnePasswordResolver struct {
	// run executes op with args and returns stdout and stderr. Nil uses
	// the op binary on PATH.
	run func(ctx context.Context, args ...string) (stdout, stderr []byte, err error)
}

// Scheme returns "op".
func (r *OnePasswordResolver) Scheme() string {
	return "op"
}

// Resolve fetches a secret using `op read`. Key material is returned with
// surrounding whitespace trimmed and a single trailing newline restored for
// PEM bodies.
func (r *OnePasswordResolver) Resolve(ctx context.Context, reference string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	run := r.run
	if run == nil {
		if _, err := exec.LookPath("op"); err != nil {
			return "", &BackendError{
				Backend:   "1Password",
				Reference: reference,
				Reason:    "op CLI not found in PATH",
				Fix:       "Install from https://1password.com/downloads/command-line/\nThen run: op signin",
			}
		}
		run = execOp
	}

	stdout, stderr, err := run(ctx, "read", reference)
	if err != nil {
		return "", r.parseOpError(stderr, reference)
	}
	return normalizeKey(string(stdout)), nil
}

func execOp(ctx context.Context, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, "op", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// parseOpError converts op CLI errors to actionable error types.
func (r *OnePasswordResolver) parseOpError(stderr []byte, reference string) error {
	msg := string(stderr)

	if strings.Contains(msg, "not currently signed in") || strings.Contains(msg, "not signed in") {
		return &BackendError{
			Backend:   "1Password",
			Reference: reference,
			Reason:    "not signed in",
			Fix:       "Run: eval $(op signin)\n\nOr for automation, set OP_SERVICE_ACCOUNT_TOKEN.",
		}
	}

	if strings.Contains(msg, "isn't an item") || strings.Contains(msg, "could not be found") {
		return &NotFoundError{
			Reference: reference,
			Backend:   "1Password",
		}
	}

	if strings.Contains(msg, "isn't a vault") || (strings.Contains(msg, "vault") && strings.Contains(msg, "not found")) {
		parts := strings.Split(strings.TrimPrefix(reference, "op://"), "/")
		vaultName := "unknown"
		if len(parts) > 0 && parts[0] != "" {
			vaultName = parts[0]
		}
		return &BackendError{
			Backend:   "1Password",
			Reference: reference,
			Reason:    "vault not found or not accessible",
			Fix:       "Vault \"" + vaultName + "\" not found.\n\nList available vaults with: op vault list",
		}
	}

	return &BackendError{
		Backend:   "1Password",
		Reference: reference,
		Reason:    strings.TrimSpace(msg),
	}
}

// normalizeKey trims whitespace and keeps PEM blocks newline-terminated.
func normalizeKey(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-----BEGIN ") {
		s += "\n"
	}
	return s
}

func init() {
	Register(&OnePasswordResolver{})
}
