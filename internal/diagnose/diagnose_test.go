package diagnose

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{errors.New("Get \"https://api.anthropic.com\": context deadline exceeded"), "timeout"},
		{errors.New("dial tcp: lookup api.anthropic.com: no such host"), "dns"},
		{errors.New("upstream responded 401 Unauthorized"), "auth"},
		{errors.New("upstream responded 429 Too Many Requests"), "rate_limit"},
		{errors.New("x509: certificate signed by unknown authority"), "tls"},
		{errors.New("dial tcp 127.0.0.1:9: connection refused"), "connection_refused"},
		{errors.New("something completely unexpected happened"), "unknown"},
	}
	for _, c := range cases {
		got := Classify(c.err)
		if got.Label != c.want {
			t.Errorf("Classify(%q).Label = %q, want %q", c.err, got.Label, c.want)
		}
		if got.Message == "" || got.Suggestion == "" {
			t.Errorf("Classify(%q) missing message/suggestion: %+v", c.err, got)
		}
	}
}

func TestClassifyNilError(t *testing.T) {
	if got := Classify(nil); got != (Diagnosis{}) {
		t.Errorf("Classify(nil) = %+v, want zero value", got)
	}
}
