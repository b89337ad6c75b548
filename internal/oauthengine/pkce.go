package oauthengine

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"github.com/docker/mcp-fleet/mcpfleetd/internal/errs"
)

// GenerateCodeVerifier mirrors cmd/docker-mcp/internal/oauth/pkce.go: 96
// random bytes, base64url-encoded without padding.
func GenerateCodeVerifier() (string, error) {
	b := make([]byte, 96)
	if _, err := rand.Read(b); err != nil {
		return "", errs.Wrap(errs.KindInternal, "generating code verifier", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateS256Challenge computes base64url(sha256(verifier)) without
// padding, per RFC 7636 section 4.2.
func GenerateS256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateState produces a 32-byte URL-safe random state token.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", errs.Wrap(errs.KindInternal, "generating state", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// verifyChallenge checks a code_verifier against the stored challenge for
// the given method, per spec.md section 4.6.
func verifyChallenge(method, challenge, verifier string) bool {
	switch method {
	case "S256":
		return GenerateS256Challenge(verifier) == challenge
	case "plain":
		return verifier == challenge
	default:
		return false
	}
}
