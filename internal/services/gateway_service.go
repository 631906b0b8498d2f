package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"affiliate-gateway/internal/metrics"
	"affiliate-gateway/internal/models"
	"affiliate-gateway/pkg/logging"
)

// Outcome is the terminal state of an authorization check.
type Outcome string

const (
	OutcomeAllowed      Outcome = "allowed"
	OutcomeUnauthorized Outcome = "unauthorized"
	OutcomeForbidden    Outcome = "forbidden"
	OutcomeRateLimited  Outcome = "rate_limited"
)

// Stable reason codes surfaced to callers.
const (
	ReasonUnknownAPIKey      = "unknown_api_key"
	ReasonInvalidSecret      = "invalid_secret"
	ReasonNotActive          = "not_active"
	ReasonSuspended          = "suspended"
	ReasonIPBlocked          = "ip_blocked"
	ReasonIPNotAllowed       = "ip_not_allowed"
	ReasonHTTPSRequired      = "https_required"
	ReasonEndpointBlocked    = "endpoint_blocked"
	ReasonEndpointNotAllowed = "endpoint_not_allowed"
	ReasonNotVerified        = "not_verified"
	ReasonRateLimited        = "rate_limited"
	ReasonEscalated          = "escalated"
)

// Endpoints unverified tenants may always reach, so they can complete
// the ownership proof.
var verificationAllowList = []string{"/api/verification/*"}

// Request is the gateway boundary input.
type Request struct {
	APIKey    string
	APISecret string
	Endpoint  string
	ClientIP  string
	Scheme    string
}

// Result is the gateway boundary output.
type Result struct {
	Outcome    Outcome
	Reason     string
	RetryAfter time.Duration
	Tenant     *models.Tenant
}

// GatewayService is the per-request façade: credential check, policy
// check, rate-limit check, in that order, failing closed at each stage.
// Rate-limit counters are only touched once credentials and policy pass.
type GatewayService struct {
	tenants  *TenantService
	limiter  *RateLimitService
	notifier Notifier
	usage    UsageRecorder
	alerts   *AlertService
}

// NewGatewayService creates the gateway façade. alerts may be nil.
func NewGatewayService(tenants *TenantService, limiter *RateLimitService, notifier Notifier, usage UsageRecorder, alerts *AlertService) *GatewayService {
	return &GatewayService{
		tenants:  tenants,
		limiter:  limiter,
		notifier: notifier,
		usage:    usage,
		alerts:   alerts,
	}
}

// Authorize runs the full decision pipeline for one inbound request.
func (g *GatewayService) Authorize(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	// CredentialCheck
	t, err := g.tenants.GetByAPIKey(ctx, req.APIKey)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return g.finish(Result{Outcome: OutcomeUnauthorized, Reason: ReasonUnknownAPIKey}), nil
		}
		return Result{}, err
	}
	if !g.tenants.CheckSecret(t, req.APISecret) {
		return g.finish(Result{Outcome: OutcomeUnauthorized, Reason: ReasonInvalidSecret, Tenant: t}), nil
	}

	if t.Status != models.TenantActive {
		// Pending tenants may still reach the verification endpoints,
		// since passing the proof is what activates them.
		pendingVerification := t.Status == models.TenantPending &&
			matchEndpoint(verificationAllowList, req.Endpoint)
		if !pendingVerification {
			reason := ReasonNotActive
			if t.Status == models.TenantSuspended {
				reason = ReasonSuspended
			}
			return g.finish(Result{Outcome: OutcomeForbidden, Reason: reason, Tenant: t}), nil
		}
	}

	// PolicyCheck
	if reason := g.checkPolicy(t, req); reason != "" {
		return g.finish(Result{Outcome: OutcomeForbidden, Reason: reason, Tenant: t}), nil
	}

	// RateLimitCheck
	limits := t.Limits()
	if len(limits) > 0 {
		dec, err := g.limiter.Check(ctx, t.APIKey, models.IdentifierAPIKey, req.Endpoint, limits)
		if err != nil {
			return Result{}, err
		}

		if dec.Escalate {
			g.suspend(ctx, t, fmt.Sprintf("rate limit escalation: %d violations within the configured window", dec.ViolationCount))
			return g.finish(Result{
				Outcome:    OutcomeForbidden,
				Reason:     ReasonEscalated,
				RetryAfter: dec.RetryAfter,
				Tenant:     t,
			}), nil
		}
		if !dec.Allowed {
			return g.finish(Result{
				Outcome:    OutcomeRateLimited,
				Reason:     ReasonRateLimited,
				RetryAfter: dec.RetryAfter,
				Tenant:     t,
			}), nil
		}
	}

	// Allowed: usage emission is fire-and-forget off the request path.
	if g.usage != nil {
		event := models.UsageEvent{
			TenantID:  t.ID,
			Endpoint:  req.Endpoint,
			Outcome:   string(OutcomeAllowed),
			LatencyMs: time.Since(start).Milliseconds(),
			Metadata: map[string]interface{}{
				"client_ip": req.ClientIP,
				"scheme":    req.Scheme,
			},
		}
		go g.usage.Record(event)
	}

	return g.finish(Result{Outcome: OutcomeAllowed, Tenant: t}), nil
}

func (g *GatewayService) finish(r Result) Result {
	metrics.Decisions.WithLabelValues(string(r.Outcome)).Inc()
	return r
}

// checkPolicy applies the IP, HTTPS, endpoint and verification rules.
// Returns the reason code for the first failed rule, or "" when all pass.
func (g *GatewayService) checkPolicy(t *models.Tenant, req Request) string {
	if matchIP(t.BlockedIPs, req.ClientIP) {
		return ReasonIPBlocked
	}
	if len(t.AllowedIPs) > 0 && !matchIP(t.AllowedIPs, req.ClientIP) {
		return ReasonIPNotAllowed
	}
	if t.RequireHTTPS && !strings.EqualFold(req.Scheme, "https") {
		return ReasonHTTPSRequired
	}
	if matchEndpoint(t.BlockedEndpoints, req.Endpoint) {
		return ReasonEndpointBlocked
	}
	if len(t.AllowedEndpoints) > 0 && !matchEndpoint(t.AllowedEndpoints, req.Endpoint) {
		return ReasonEndpointNotAllowed
	}

	// Unverified tenants are restricted to the verification endpoints
	// plus anything on their own explicit allow-list.
	if t.VerificationStatus != models.VerificationVerified {
		if !matchEndpoint(verificationAllowList, req.Endpoint) &&
			!matchEndpoint(t.AllowedEndpoints, req.Endpoint) {
			return ReasonNotVerified
		}
	}

	return ""
}

// suspend transitions the tenant to suspended and sends the single
// security notification for the escalation. The transition is
// idempotent: an already-suspended tenant is left alone and no second
// notification goes out, however many escalating denials race here.
func (g *GatewayService) suspend(ctx context.Context, t *models.Tenant, reason string) {
	suspended, err := g.tenants.SuspendOnce(ctx, t.ID, reason, "rate-limiter")
	if err != nil {
		logging.Errorf("failed to suspend tenant %d: %v", t.ID, err)
		return
	}
	if !suspended {
		return
	}

	metrics.Escalations.Inc()
	logging.Warnf("tenant %d (%s) suspended: %s", t.ID, t.DomainURL, reason)

	if g.notifier != nil {
		g.notifier.Dispatch(t.ID, "security.suspended", map[string]interface{}{
			"domain_url":   t.DomainURL,
			"reason":       reason,
			"suspended_at": time.Now().Format(time.RFC3339),
		})
	}
	if g.alerts != nil {
		tenant := *t
		go func() {
			if err := g.alerts.SendSuspensionAlert(&tenant, reason); err != nil {
				logging.Errorf("failed to send suspension alert for tenant %d: %v", tenant.ID, err)
			}
		}()
	}
}

// matchIP reports whether ip matches any entry in the list. Entries are
// plain addresses or CIDR blocks.
func matchIP(list []string, ip string) bool {
	addr := net.ParseIP(ip)
	for _, entry := range list {
		if strings.Contains(entry, "/") {
			_, cidr, err := net.ParseCIDR(entry)
			if err != nil {
				continue
			}
			if addr != nil && cidr.Contains(addr) {
				return true
			}
			continue
		}
		if entry == ip {
			return true
		}
	}
	return false
}

// matchEndpoint reports whether endpoint matches any pattern in the
// list. A pattern is an exact path, or a prefix ending in "*".
func matchEndpoint(patterns []string, endpoint string) bool {
	for _, p := range patterns {
		if strings.HasSuffix(p, "*") {
			if strings.HasPrefix(endpoint, strings.TrimSuffix(p, "*")) {
				return true
			}
			continue
		}
		if p == endpoint {
			return true
		}
	}
	return false
}
