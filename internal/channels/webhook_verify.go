package channels

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SecretResolver is the narrow C1 vault surface a webhook adapter needs: turn
// a stored secret reference into its live value at verification time, so
// webhook secrets never sit in adapter config as plaintext.
type SecretResolver interface {
	Materialize(template string) (string, error)
}

// VerifyHMACSignature checks an HMAC-SHA256 webhook signature against body,
// resolving secretRef through resolver first. Returns false (never an
// error) on any resolution failure, so callers can treat it exactly like a
// bad signature.
func VerifyHMACSignature(resolver SecretResolver, secretRef string, body []byte, signature string) bool {
	if secretRef == "" {
		return true
	}
	if resolver == nil {
		return false
	}
	secret, err := resolver.Materialize(secretRef)
	if err != nil || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
