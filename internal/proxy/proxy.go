// Package proxy implements the credential-injecting forward proxy of spec
// §4.8: a local stream-socket HTTP server that forwards POST /v1/messages
// to the upstream model API after stripping any agent-supplied credential
// headers and injecting the host's real ones — the same x-api-key /
// anthropic-version header pair the teacher's Anthropic provider sets,
// moved from an outbound client into an inbound-request rewrite.
package proxy

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	maxBodyBytes        = 4 * 1024 * 1024
	anthropicAPIVersion = "2023-06-01"
)

// strippedRequestHeaders are stripped from the inbound request before
// forwarding: the standard hop-by-hop headers plus any header an agent
// might supply to smuggle its own credentials upstream.
var strippedRequestHeaders = []string{
	"Host", "Connection", "Content-Length",
	"X-Api-Key", "Authorization", "Anthropic-Version", "Anthropic-Beta",
}

// Config holds the upstream target and real credentials injected on every
// forwarded request.
type Config struct {
	UpstreamBaseURL string
	APIKey          string
	// OAuthToken, when set, is sent as a Bearer Authorization header
	// instead of x-api-key (spec §6: "upstream OAuth token" is a
	// recognized consumed environment variable alongside the API key).
	OAuthToken string
}

// Proxy is the credential-injecting forward proxy server.
type Proxy struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Proxy {
	if log == nil {
		log = slog.Default()
	}
	return &Proxy{
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
		log:    log,
	}
}

// Handler returns the http.Handler implementing spec §4.8 and §6's
// "Credential proxy" contract: only POST /v1/messages is accepted, other
// paths 404.
func (p *Proxy) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages", p.handleMessages)
	return mux
}

func (p *Proxy) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusInternalServerError)
		return
	}
	if len(body) > maxBodyBytes {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost,
		strings.TrimRight(p.cfg.UpstreamBaseURL, "/")+"/v1/messages", strings.NewReader(string(body)))
	if err != nil {
		http.Error(w, "failed to build upstream request", http.StatusBadGateway)
		return
	}

	copyHeadersExcept(upstreamReq.Header, r.Header, strippedRequestHeaders)
	p.injectCredentials(upstreamReq)

	resp, err := p.client.Do(upstreamReq)
	if err != nil {
		p.log.Warn("proxy: upstream request failed", "error", err)
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		if http.CanonicalHeaderKey(k) == "Transfer-Encoding" {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (p *Proxy) injectCredentials(req *http.Request) {
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	if p.cfg.APIKey != "" {
		req.Header.Set("x-api-key", p.cfg.APIKey)
		req.Header.Del("Authorization")
		return
	}
	if p.cfg.OAuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.OAuthToken)
		req.Header.Del("x-api-key")
	}
}

func copyHeadersExcept(dst, src http.Header, excluded []string) {
	skip := make(map[string]bool, len(excluded))
	for _, h := range excluded {
		skip[http.CanonicalHeaderKey(h)] = true
	}
	for k, vs := range src {
		if skip[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// ListenAndServe serves the proxy over a Unix domain socket at socketPath,
// removing any stale socket file left behind by a previous, uncleanly
// terminated run before binding.
func (p *Proxy) ListenAndServe(socketPath string) error {
	if err := removeStaleSocket(socketPath); err != nil {
		return err
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	server := &http.Server{Handler: p.Handler()}
	return server.Serve(ln)
}

func removeStaleSocket(path string) error {
	if _, err := net.DialTimeout("unix", path, 100*time.Millisecond); err == nil {
		return nil // a live listener is already bound; let net.Listen fail naturally
	}
	if err := removeIfExists(path); err != nil {
		return err
	}
	return nil
}
