package handlers

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/nextlevelbuilder/cagehost/internal/dispatcher"
)

const (
	defaultWebFetchMaxBytes = 200_000
	webFetchUserAgent       = "cagehost-web-fetch/1"
)

// WebSearcher abstracts the concrete search API a deployment wires in
// (spec §2 treats external collaborators "abstractly" beyond their
// contract). The default Deps has none configured, matching the teacher's
// pattern of a pluggable tool backend (internal/tools/web_search_brave.go,
// web_search_ddg.go are alternate concrete implementations of one
// interface in the teacher).
type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// SearchResult is one web_search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// webFetch implements web_fetch: a host-mediated GET (the sandboxed agent
// itself has no network access; this handler runs in the trusted host
// process) with SSRF protection against the private/loopback address
// space, and a byte cap on the response body.
func (d Deps) webFetch(ctx context.Context, _ dispatcher.Context, payload map[string]any) (map[string]any, error) {
	rawURL := str(payload, "url")
	maxBytes := int(num(payload, "max_bytes"))
	if maxBytes <= 0 {
		maxBytes = defaultWebFetchMaxBytes
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("web_fetch: invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("web_fetch: only http/https URLs are supported")
	}
	if err := checkSSRF(parsed); err != nil {
		return nil, fmt.Errorf("web_fetch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("web_fetch: %w", err)
	}
	req.Header.Set("User-Agent", webFetchUserAgent)

	resp, err := d.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("web_fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxBytes)+1))
	if err != nil {
		return nil, fmt.Errorf("web_fetch: reading body: %w", err)
	}
	truncated := len(body) > maxBytes
	if truncated {
		body = body[:maxBytes]
	}

	return map[string]any{
		"status":      resp.StatusCode,
		"contentType": resp.Header.Get("Content-Type"),
		"content":     string(body),
		"truncated":   truncated,
	}, nil
}

func (d Deps) webSearch(ctx context.Context, _ dispatcher.Context, payload map[string]any) (map[string]any, error) {
	if d.WebSearcher == nil {
		return nil, fmt.Errorf("web_search: no search backend configured")
	}
	maxResults := int(num(payload, "max_results"))
	if maxResults <= 0 {
		maxResults = 10
	}
	results, err := d.WebSearcher.Search(ctx, str(payload, "query"), maxResults)
	if err != nil {
		return nil, fmt.Errorf("web_search: %w", err)
	}
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{"title": r.Title, "url": r.URL, "snippet": r.Snippet})
	}
	return map[string]any{"results": out}, nil
}

// checkSSRF rejects URLs that resolve to loopback, link-local, or private
// address space, so web_fetch cannot be used to reach the host's own
// internal services (grounded on the teacher's web_fetch SSRF guard,
// internal/tools/web_fetch.go, reimplemented here against net.IP's
// built-in classifiers rather than a hand-rolled CIDR list).
func checkSSRF(u *url.URL) error {
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing hostname")
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		// DNS resolution failures surface as an ordinary fetch error, not
		// an SSRF block.
		return nil
	}
	for _, ip := range ips {
		if isDisallowedIP(ip) {
			return fmt.Errorf("refusing to fetch address %s (private/loopback/link-local)", ip)
		}
	}
	return nil
}

func isDisallowedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
