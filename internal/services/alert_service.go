package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"affiliate-gateway/internal/config"
	"affiliate-gateway/internal/models"
)

// AlertService sends operator-facing email alerts through the Brevo API
// on security-relevant tenant transitions. It is a no-op when no API key
// is configured or the tenant has no contact address.
type AlertService struct {
	apiKey      string
	fromEmail   string
	fromName    string
	serviceName string
	client      *http.Client
}

// NewAlertService creates an alert service from the app configuration.
func NewAlertService() *AlertService {
	s := &AlertService{
		client: &http.Client{Timeout: 10 * time.Second},
	}
	if config.AppConfig != nil {
		s.apiKey = config.AppConfig.BrevoAPIKey
		s.fromEmail = config.AppConfig.BrevoFromEmail
		s.fromName = config.AppConfig.BrevoFromName
		s.serviceName = config.AppConfig.ServiceName
	}
	return s
}

// Enabled reports whether alerts are configured.
func (s *AlertService) Enabled() bool {
	return s != nil && s.apiKey != "" && s.fromEmail != ""
}

// EmailRequest represents Brevo email request structure
type EmailRequest struct {
	Sender      EmailSender `json:"sender"`
	To          []EmailTo   `json:"to"`
	Subject     string      `json:"subject"`
	HTMLContent string      `json:"htmlContent"`
	TextContent string      `json:"textContent"`
}

type EmailSender struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type EmailTo struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// SendSuspensionAlert notifies the tenant contact that the account was
// suspended and why.
func (s *AlertService) SendSuspensionAlert(t *models.Tenant, reason string) error {
	if !s.Enabled() || t.ContactEmail == "" {
		return nil
	}

	subject := fmt.Sprintf("[%s] Account suspended: %s", s.serviceName, t.DomainURL)
	text := fmt.Sprintf(
		"The account for %s has been suspended.\n\nReason: %s\n\nContact the operator to reinstate access.",
		t.DomainURL, reason)
	html := fmt.Sprintf(
		"<p>The account for <strong>%s</strong> has been suspended.</p><p>Reason: %s</p><p>Contact the operator to reinstate access.</p>",
		t.DomainURL, reason)

	return s.sendEmail(EmailRequest{
		Sender:      EmailSender{Name: s.fromName, Email: s.fromEmail},
		To:          []EmailTo{{Email: t.ContactEmail}},
		Subject:     subject,
		HTMLContent: html,
		TextContent: text,
	})
}

// SendVerificationFailedAlert notifies the tenant contact that domain
// verification exhausted its attempts.
func (s *AlertService) SendVerificationFailedAlert(t *models.Tenant) error {
	if !s.Enabled() || t.ContactEmail == "" {
		return nil
	}

	subject := fmt.Sprintf("[%s] Domain verification failed: %s", s.serviceName, t.DomainURL)
	text := fmt.Sprintf(
		"Domain verification for %s failed after %d attempts.\n\nRestart verification to receive a new token.",
		t.DomainURL, t.VerificationAttempts)
	html := fmt.Sprintf(
		"<p>Domain verification for <strong>%s</strong> failed after %d attempts.</p><p>Restart verification to receive a new token.</p>",
		t.DomainURL, t.VerificationAttempts)

	return s.sendEmail(EmailRequest{
		Sender:      EmailSender{Name: s.fromName, Email: s.fromEmail},
		To:          []EmailTo{{Email: t.ContactEmail}},
		Subject:     subject,
		HTMLContent: html,
		TextContent: text,
	})
}

// sendEmail sends email via Brevo API
func (s *AlertService) sendEmail(req EmailRequest) error {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal email request: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, "https://api.brevo.com/v3/smtp/email", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("brevo API error: status %d", resp.StatusCode)
	}

	return nil
}
