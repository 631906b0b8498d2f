package services

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"affiliate-gateway/internal/models"
)

// Prover performs one method-specific domain-ownership proof check. It
// reports whether the proof was found; an error describes a failed or
// inconclusive probe, not a system fault.
type Prover interface {
	Prove(ctx context.Context, t *models.Tenant, token string) (bool, error)
}

// DefaultProvers wires the three outbound proof methods. The api method
// has no prover; it completes through the inbound callback.
func DefaultProvers() map[models.VerificationMethod]Prover {
	client := &http.Client{Timeout: 10 * time.Second}
	return map[models.VerificationMethod]Prover{
		models.MethodDNS:  &DNSProver{Resolver: net.DefaultResolver},
		models.MethodFile: &FileProver{Client: client},
		models.MethodMeta: &MetaProver{Client: client},
	}
}

// domainHost extracts the bare hostname from a tenant's domain URL.
func domainHost(domainURL string) (string, error) {
	raw := domainURL
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("invalid domain url %q", domainURL)
	}
	return u.Hostname(), nil
}

// baseURL normalizes the tenant's domain URL for outbound fetches.
func baseURL(domainURL string) string {
	if strings.Contains(domainURL, "://") {
		return strings.TrimRight(domainURL, "/")
	}
	return "https://" + strings.TrimRight(domainURL, "/")
}

// DNSProver checks for a TXT record "affiliate-verify=<token>" on the
// _affiliate-verify subdomain of the tenant's host.
type DNSProver struct {
	Resolver *net.Resolver
}

func (p *DNSProver) Prove(ctx context.Context, t *models.Tenant, token string) (bool, error) {
	host, err := domainHost(t.DomainURL)
	if err != nil {
		return false, err
	}

	records, err := p.Resolver.LookupTXT(ctx, "_affiliate-verify."+host)
	if err != nil {
		return false, fmt.Errorf("txt lookup failed: %w", err)
	}

	want := "affiliate-verify=" + token
	for _, r := range records {
		if strings.TrimSpace(r) == want {
			return true, nil
		}
	}
	return false, fmt.Errorf("no matching txt record on _affiliate-verify.%s", host)
}

// FileProver fetches /.well-known/affiliate-verify.txt from the tenant's
// domain and expects the bare token as its content.
type FileProver struct {
	Client *http.Client
}

func (p *FileProver) Prove(ctx context.Context, t *models.Tenant, token string) (bool, error) {
	target := baseURL(t.DomainURL) + "/.well-known/affiliate-verify.txt"
	body, err := fetch(ctx, p.Client, target, 4<<10)
	if err != nil {
		return false, err
	}

	if strings.TrimSpace(string(body)) == token {
		return true, nil
	}
	return false, fmt.Errorf("token mismatch in %s", target)
}

// MetaProver fetches the tenant's homepage and looks for
// <meta name="affiliate-verify" content="<token>">.
type MetaProver struct {
	Client *http.Client
}

func (p *MetaProver) Prove(ctx context.Context, t *models.Tenant, token string) (bool, error) {
	target := baseURL(t.DomainURL) + "/"
	body, err := fetch(ctx, p.Client, target, 64<<10)
	if err != nil {
		return false, err
	}

	page := string(body)
	if strings.Contains(page, `name="affiliate-verify"`) &&
		strings.Contains(page, fmt.Sprintf(`content="%s"`, token)) {
		return true, nil
	}
	return false, fmt.Errorf("no matching meta tag on %s", target)
}

func fetch(ctx context.Context, client *http.Client, target string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, target)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxBytes))
}
