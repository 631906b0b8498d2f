package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"affiliate-gateway/internal/models"

	"github.com/stretchr/testify/require"
)

func TestCreateIssuesCredentials(t *testing.T) {
	svc := NewTenantService(newTestDB(t), nil, 5)
	ctx := context.Background()

	tenant, secret := createTenant(t, svc, nil)
	require.True(t, strings.HasPrefix(tenant.APIKey, "ag_"))
	require.NotEmpty(t, secret)
	require.NotEqual(t, secret, tenant.APISecretHash)

	got, err := svc.GetByAPIKey(ctx, tenant.APIKey)
	require.NoError(t, err)
	require.Equal(t, tenant.ID, got.ID)
	require.True(t, svc.CheckSecret(got, secret))
	require.False(t, svc.CheckSecret(got, "wrong-secret"))
}

func TestCreateRejectsDuplicateDomain(t *testing.T) {
	svc := NewTenantService(newTestDB(t), nil, 5)
	tenant, _ := createTenant(t, svc, nil)

	_, err := svc.Create(context.Background(), &models.Tenant{DomainURL: tenant.DomainURL})
	require.Error(t, err)
	require.Contains(t, err.Error(), "already exists")
}

func TestCreateRequiresDomain(t *testing.T) {
	svc := NewTenantService(newTestDB(t), nil, 5)

	_, err := svc.Create(context.Background(), &models.Tenant{})
	require.Error(t, err)
}

func TestGetByAPIKeyUnknown(t *testing.T) {
	svc := NewTenantService(newTestDB(t), nil, 5)

	_, err := svc.GetByAPIKey(context.Background(), "ag_nope")
	require.True(t, errors.Is(err, ErrTenantNotFound))
}

func TestCheckSecretEmptyHashRejects(t *testing.T) {
	svc := NewTenantService(newTestDB(t), nil, 5)

	tenant := &models.Tenant{}
	require.False(t, svc.CheckSecret(tenant, ""))
	require.False(t, svc.CheckSecret(tenant, "anything"))
}

func TestRegenerateCredentialsInvalidatesOldPair(t *testing.T) {
	svc := NewTenantService(newTestDB(t), nil, 5)
	ctx := context.Background()

	tenant, oldSecret := createTenant(t, svc, nil)
	oldKey := tenant.APIKey

	newKey, newSecret, err := svc.RegenerateCredentials(ctx, tenant.ID)
	require.NoError(t, err)
	require.NotEqual(t, oldKey, newKey)
	require.NotEqual(t, oldSecret, newSecret)

	_, err = svc.GetByAPIKey(ctx, oldKey)
	require.True(t, errors.Is(err, ErrTenantNotFound))

	got, err := svc.GetByAPIKey(ctx, newKey)
	require.NoError(t, err)
	require.True(t, svc.CheckSecret(got, newSecret))
	require.False(t, svc.CheckSecret(got, oldSecret))
}

func TestSuspendRaisesSecurityLevelAtomically(t *testing.T) {
	svc := NewTenantService(newTestDB(t), nil, 5)
	ctx := context.Background()

	tenant, _ := createTenant(t, svc, nil)

	require.NoError(t, svc.UpdateStatus(ctx, tenant.ID, models.TenantSuspended, "too many violations", "operator"))

	got, err := svc.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	require.Equal(t, models.TenantSuspended, got.Status)
	require.Equal(t, models.SecurityStrict, got.SecurityLevel)
	require.NotNil(t, got.SuspendedAt)
	require.Equal(t, "too many violations", got.SuspendedReason)
	require.Equal(t, "operator", got.SuspendedBy)
}

func TestSuspendOnceOwnsSingleTransition(t *testing.T) {
	svc := NewTenantService(newTestDB(t), nil, 5)
	ctx := context.Background()

	tenant, _ := createTenant(t, svc, nil)

	first, err := svc.SuspendOnce(ctx, tenant.ID, "rate limit escalation", "rate-limiter")
	require.NoError(t, err)
	require.True(t, first)

	second, err := svc.SuspendOnce(ctx, tenant.ID, "rate limit escalation", "rate-limiter")
	require.NoError(t, err)
	require.False(t, second)

	got, err := svc.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	require.Equal(t, models.TenantSuspended, got.Status)
	require.Equal(t, models.SecurityStrict, got.SecurityLevel)
	require.NotNil(t, got.SuspendedAt)
	require.Equal(t, "rate limit escalation", got.SuspendedReason)
	require.Equal(t, "rate-limiter", got.SuspendedBy)
}

func TestSuspendOnceUnknownTenant(t *testing.T) {
	svc := NewTenantService(newTestDB(t), nil, 5)

	_, err := svc.SuspendOnce(context.Background(), 999, "x", "rate-limiter")
	require.True(t, errors.Is(err, ErrTenantNotFound))
}

func TestReinstateClearsSuspensionRecord(t *testing.T) {
	svc := NewTenantService(newTestDB(t), nil, 5)
	ctx := context.Background()

	tenant, _ := createTenant(t, svc, nil)
	require.NoError(t, svc.UpdateStatus(ctx, tenant.ID, models.TenantSuspended, "abuse", "operator"))
	require.NoError(t, svc.UpdateStatus(ctx, tenant.ID, models.TenantActive, "", "operator"))

	got, err := svc.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	require.Equal(t, models.TenantActive, got.Status)
	require.Nil(t, got.SuspendedAt)
	require.Empty(t, got.SuspendedReason)
	require.Empty(t, got.SuspendedBy)
}

func TestUpdateStatusUnknownTenant(t *testing.T) {
	svc := NewTenantService(newTestDB(t), nil, 5)

	err := svc.UpdateStatus(context.Background(), 999, models.TenantSuspended, "x", "operator")
	require.True(t, errors.Is(err, ErrTenantNotFound))
}

func TestRecordVerificationAttemptSuccessActivatesPending(t *testing.T) {
	svc := NewTenantService(newTestDB(t), nil, 5)
	ctx := context.Background()

	tenant, _ := createTenant(t, svc, func(m *models.Tenant) {
		m.Status = models.TenantPending
		m.VerificationStatus = models.VerificationPending
		m.VerificationAttempts = 2
	})

	require.NoError(t, svc.RecordVerificationAttempt(ctx, tenant.ID, true, ""))

	got, err := svc.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	require.Equal(t, models.VerificationVerified, got.VerificationStatus)
	require.Equal(t, models.TenantActive, got.Status)
	require.Zero(t, got.VerificationAttempts)
	require.NotNil(t, got.LastVerificationAttempt)
}

func TestRecordVerificationAttemptFailuresReachCap(t *testing.T) {
	svc := NewTenantService(newTestDB(t), nil, 3)
	ctx := context.Background()

	tenant, _ := createTenant(t, svc, func(m *models.Tenant) {
		m.Status = models.TenantPending
		m.VerificationStatus = models.VerificationPending
	})

	for i := 1; i <= 3; i++ {
		require.NoError(t, svc.RecordVerificationAttempt(ctx, tenant.ID, false, "proof not found"))

		got, err := svc.GetByID(ctx, tenant.ID)
		require.NoError(t, err)
		require.Equal(t, i, got.VerificationAttempts)
		if i < 3 {
			require.Equal(t, models.VerificationPending, got.VerificationStatus)
		} else {
			require.Equal(t, models.VerificationFailed, got.VerificationStatus)
		}
		require.Equal(t, "proof not found", got.LastVerificationError)
	}
}

func TestWebhookFailureBookkeeping(t *testing.T) {
	svc := NewTenantService(newTestDB(t), nil, 5)
	ctx := context.Background()

	tenant, _ := createTenant(t, svc, func(m *models.Tenant) {
		m.WebhookURL = "https://hooks.example.com/inbox"
		m.WebhookSecret = "whsec"
	})

	failures, err := svc.RecordWebhookFailure(ctx, tenant.ID, "connection refused")
	require.NoError(t, err)
	require.Equal(t, 1, failures)

	failures, err = svc.RecordWebhookFailure(ctx, tenant.ID, "connection refused")
	require.NoError(t, err)
	require.Equal(t, 2, failures)

	require.NoError(t, svc.RecordWebhookSuccess(ctx, tenant.ID))

	got, err := svc.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	require.Zero(t, got.WebhookFailures)
	require.NotNil(t, got.WebhookLastSent)

	require.NoError(t, svc.DisableWebhook(ctx, tenant.ID, "disabled by operator"))
	got, err = svc.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	require.Empty(t, got.WebhookURL)
	require.Equal(t, "disabled by operator", got.WebhookDisabledReason)
}
