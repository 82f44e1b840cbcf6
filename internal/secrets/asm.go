package secrets

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// secretsManagerAPI is the subset of the Secrets Manager client used here.
type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// ASMResolver resolves secrets from AWS Secrets Manager.
//
//	asm:///reef/prod/ssh-key           default region from the environment
//	asm://us-west-2/reef/prod/ssh-key  explicit region
type ASMResolver struct {
	// newClient builds a client for region ("" means the SDK default).
	// Nil uses the default AWS config chain.
	newClient func(ctx context.Context, region string) (secretsManagerAPI, error)
}

// Scheme returns "asm".
func (r *ASMResolver) Scheme() string {
	return "asm"
}

// Resolve fetches the secret's current value. Binary secrets are returned
// as their raw bytes.
func (r *ASMResolver) Resolve(ctx context.Context, reference string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	region, secretID, err := parseASMReference(reference)
	if err != nil {
		return "", err
	}

	newClient := r.newClient
	if newClient == nil {
		newClient = defaultSecretsManager
	}
	client, err := newClient(ctx, region)
	if err != nil {
		return "", &BackendError{
			Backend:   "AWS Secrets Manager",
			Reference: reference,
			Reason:    "loading AWS config: " + err.Error(),
			Err:       err,
			Fix:       "Configure credentials:\n  aws configure\n  Or set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY\n  Or run: aws sso login",
		}
	}

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", parseASMError(err, reference, secretID)
	}

	switch {
	case out.SecretString != nil:
		return normalizeKey(*out.SecretString), nil
	case len(out.SecretBinary) > 0:
		return string(out.SecretBinary), nil
	default:
		return "", &NotFoundError{Reference: reference, Backend: "AWS Secrets Manager"}
	}
}

func defaultSecretsManager(ctx context.Context, region string) (secretsManagerAPI, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// parseASMReference extracts region and secret id from an asm:// URI.
// asm:///reef/key -> ("", "reef/key")
// asm://eu-west-1/reef/key -> ("eu-west-1", "reef/key")
func parseASMReference(ref string) (region, secretID string, err error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "invalid URI"}
	}
	if u.Scheme != "asm" {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "expected asm:// scheme"}
	}
	secretID = strings.TrimPrefix(u.Path, "/")
	if secretID == "" {
		return "", "", &InvalidReferenceError{Reference: ref, Reason: "missing secret id"}
	}
	return u.Host, secretID, nil
}

// parseASMError converts SDK errors to actionable error types.
func parseASMError(err error, reference, secretID string) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return &NotFoundError{Reference: reference, Backend: "AWS Secrets Manager"}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "AccessDeniedException"):
		return &BackendError{
			Backend:   "AWS Secrets Manager",
			Reference: reference,
			Reason:    "access denied",
			Fix:       "Check IAM permissions for secretsmanager:GetSecretValue on " + secretID,
			Err:       err,
		}
	case strings.Contains(msg, "ExpiredToken"):
		return &BackendError{
			Backend:   "AWS Secrets Manager",
			Reference: reference,
			Reason:    "AWS credentials expired",
			Fix:       "Run: aws sso login\nOr refresh your credentials.",
			Err:       err,
		}
	}
	return &BackendError{
		Backend:   "AWS Secrets Manager",
		Reference: reference,
		Reason:    msg,
		Err:       err,
	}
}

func init() {
	Register(&ASMResolver{})
}
