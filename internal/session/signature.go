package session

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/sigstore/cosign/v2/pkg/cosign"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/obslog"
	"github.com/docker/mcp-fleet/mcpfleetd/internal/store"
)

// SignaturePolicyMode mirrors store.SignaturePolicyPayload.Mode.
type SignaturePolicyMode string

const (
	ModeAuditOnly SignaturePolicyMode = "audit-only"
	ModeEnforcing SignaturePolicyMode = "enforcing"
)

// SignatureVerifier checks whether an image reference carries a valid
// cosign signature. It is grounded on the teacher's direct dependency on
// sigstore/cosign/v2 for image-provenance checks (SPEC_FULL.md 4.5).
type SignatureVerifier interface {
	Verify(ctx context.Context, image string, checkOpts *cosign.CheckOpts) (bool, error)
}

type cosignVerifier struct{}

// NewCosignVerifier returns the production SignatureVerifier, backed by
// cosign.VerifyImageSignatures.
func NewCosignVerifier() SignatureVerifier {
	return cosignVerifier{}
}

func (cosignVerifier) Verify(ctx context.Context, image string, checkOpts *cosign.CheckOpts) (bool, error) {
	ref, err := name.ParseReference(image)
	if err != nil {
		return false, err
	}
	_, verified, err := cosign.VerifyImageSignatures(ctx, ref, checkOpts)
	if err != nil {
		return false, err
	}
	return verified, nil
}

// auditLogger is the subset of internal/store used to record an
// audit-only signature failure without blocking the session.
type auditLogger interface {
	RecordAuditLog(ctx context.Context, category, action, actor, target string, metadata map[string]any, correlationID *string) error
}

// checkSignaturePolicy implements the enforcement rule of spec.md section
// 4.5: when a policy is configured and the image isn't in permit_unsigned,
// enforcing mode must see a passing verification or the session is
// refused; audit-only mode logs a signature_verify_failed row and
// proceeds regardless of outcome.
func checkSignaturePolicy(ctx context.Context, verifier SignatureVerifier, audit auditLogger, policy *store.SignaturePolicyPayload, image string, checkOpts *cosign.CheckOpts) error {
	if policy == nil {
		return nil
	}
	for _, permitted := range policy.PermitUnsigned {
		if permitted == image {
			return nil
		}
	}

	verified, err := verifier.Verify(ctx, image, checkOpts)
	if err == nil && verified {
		return nil
	}

	if SignaturePolicyMode(policy.Mode) == ModeEnforcing {
		return errSignatureVerificationFailed(image, err)
	}

	if auditErr := audit.RecordAuditLog(ctx, "session", "signature_verify_failed", "session-runtime", image, map[string]any{
		"error": errString(err),
	}, nil); auditErr != nil {
		obslog.Logf("session: failed to record signature_verify_failed audit entry: %v", auditErr)
	}
	return nil
}

func errSignatureVerificationFailed(image string, cause error) error {
	return errs.Wrap(errs.KindContainer, fmt.Sprintf("signature verification failed for image %q", image), cause)
}

func errString(err error) string {
	if err == nil {
		return "signature not verified"
	}
	return err.Error()
}
