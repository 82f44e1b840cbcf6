package secrets

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringResolver resolves secrets from the OS keyring (macOS Keychain,
// Secret Service on Linux, Windows Credential Manager).
//
//	keyring://reef/reef-a  service "reef", user "reef-a"
type KeyringResolver struct{}

// Scheme returns "keyring".
func (r *KeyringResolver) Scheme() string {
	return "keyring"
}

// Resolve reads the keyring entry for the reference's service and user.
func (r *KeyringResolver) Resolve(ctx context.Context, reference string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	service, user, err := parseKeyringReference(reference)
	if err != nil {
		return "", err
	}

	v, err := keyring.Get(service, user)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", &NotFoundError{Reference: reference, Backend: "keyring"}
	case err != nil:
		return "", &BackendError{
			Backend:   "keyring",
			Reference: reference,
			Reason:    err.Error(),
			Fix:       "On Linux, a Secret Service provider (gnome-keyring, kwallet) must be running.",
			Err:       err,
		}
	}
	return normalizeKey(v), nil
}

func parseKeyringReference(ref string) (service, user string, err error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "invalid URI"}
	}
	user = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || user == "" || strings.Contains(user, "/") {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "expected keyring://service/user"}
	}
	return u.Host, user, nil
}

func init() {
	Register(&KeyringResolver{})
}
