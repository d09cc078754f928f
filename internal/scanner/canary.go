package scanner

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// canaryPrefix marks a token as scanner-issued (spec §3 Canary token).
const canaryPrefix = "CANARY-"

// canaryToken issues a fresh high-entropy canary: CANARY-<32 hex chars>.
// The value is embedded in wrapped external content so the outbound side
// can detect it leaking back into a reply verbatim.
func canaryToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("scanner: generate canary: %w", err)
	}
	return canaryPrefix + hex.EncodeToString(buf), nil
}

// checkCanary reports whether token appears verbatim in output — evidence
// that content meant to be inert was echoed back by the model instead of
// being treated as untrusted data (spec §8 invariant 3, scenario S3).
func checkCanary(output, token string) bool {
	if token == "" {
		return false
	}
	return strings.Contains(output, token)
}

// looksLikeCanary reports whether s has the shape of a canary token (it
// contains the canary prefix). Nothing in the scanner calls it; outbound
// leak checks match the specific token issued for a session.
func looksLikeCanary(s string) bool {
	return strings.Contains(s, canaryPrefix)
}
