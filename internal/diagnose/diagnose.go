// Package diagnose centralizes the mapping from raw upstream/sandbox error
// text to a short, user-facing diagnosis and suggestion, per spec §7:
// "known error signatures (timeouts, DNS failures, auth, rate-limit, TLS,
// etc.) are mapped to a short diagnosis and an actionable suggestion for
// user-facing surfaces." The teacher's internal/providers references a
// RetryConfig/RetryDo retry layer that classifies upstream failures, but
// that file is not retrieved in this pack; this table is instead grounded
// on internal/providers/anthropic_stream.go's typed error event
// ("anthropic stream error: %s: %s", ev.Error.Type, ev.Error.Message),
// generalized from one provider's typed-error unwrapping into a
// substring-match table any caller (gateway, proxy, sandbox) can reuse.
package diagnose

import "strings"

// Diagnosis is the result of classifying an error.
type Diagnosis struct {
	Label      string // short machine-matchable category, e.g. "timeout"
	Message    string // human-readable diagnosis
	Suggestion string // actionable next step
}

type signature struct {
	substrings []string
	diagnosis  Diagnosis
}

// table is checked in order; the first signature with any matching
// substring wins.
var table = []signature{
	{
		substrings: []string{"context deadline exceeded", "i/o timeout", "timeout"},
		diagnosis: Diagnosis{
			Label:      "timeout",
			Message:    "the request timed out waiting for a response",
			Suggestion: "retry, or increase the configured timeout if this recurs",
		},
	},
	{
		substrings: []string{"no such host", "dns", "lookup"},
		diagnosis: Diagnosis{
			Label:      "dns",
			Message:    "the upstream host could not be resolved",
			Suggestion: "check the configured upstream URL and network/DNS connectivity",
		},
	},
	{
		substrings: []string{"401", "unauthorized", "invalid api key", "invalid x-api-key"},
		diagnosis: Diagnosis{
			Label:      "auth",
			Message:    "the upstream rejected the request's credentials",
			Suggestion: "verify the configured API key or OAuth token is current",
		},
	},
	{
		substrings: []string{"429", "rate limit", "rate_limit"},
		diagnosis: Diagnosis{
			Label:      "rate_limit",
			Message:    "the upstream is rate-limiting this host",
			Suggestion: "back off and retry after a delay; consider reducing request volume",
		},
	},
	{
		substrings: []string{"x509", "certificate", "tls"},
		diagnosis: Diagnosis{
			Label:      "tls",
			Message:    "a TLS/certificate error occurred while contacting the upstream",
			Suggestion: "check the system trust store and the upstream's certificate chain",
		},
	},
	{
		substrings: []string{"connection refused"},
		diagnosis: Diagnosis{
			Label:      "connection_refused",
			Message:    "the upstream refused the connection",
			Suggestion: "confirm the upstream is reachable and listening on the configured address",
		},
	},
}

// defaultDiagnosis is returned when no signature matches.
var defaultDiagnosis = Diagnosis{
	Label:      "unknown",
	Message:    "an unexpected error occurred",
	Suggestion: "check the audit log and host logs for more detail",
}

// Classify maps err's text to a Diagnosis. A nil error returns the zero
// Diagnosis.
func Classify(err error) Diagnosis {
	if err == nil {
		return Diagnosis{}
	}
	text := strings.ToLower(err.Error())
	for _, sig := range table {
		for _, s := range sig.substrings {
			if strings.Contains(text, s) {
				return sig.diagnosis
			}
		}
	}
	return defaultDiagnosis
}
