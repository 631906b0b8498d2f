package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"affiliate-gateway/internal/config"
	"affiliate-gateway/internal/models"
	"affiliate-gateway/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testAdminKey = "test-admin-key"

type testServer struct {
	router  *gin.Engine
	db      *gorm.DB
	tenants *services.TenantService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.Tenant{},
		&models.RateLimitWindow{},
		&models.RateLimitEvent{},
		&models.UsageEvent{},
	))

	prev := config.AppConfig
	config.AppConfig = &config.Config{AdminAPIKey: testAdminKey}
	t.Cleanup(func() { config.AppConfig = prev })

	tenants := services.NewTenantService(db, nil, 5)
	limiter := services.NewRateLimitService(db, 3, 24*time.Hour)
	gateway := services.NewGatewayService(tenants, limiter, nil, nil, nil)
	verification := services.NewVerificationService(tenants, nil, nil, nil, 5)

	router := gin.New()
	SetupRoutes(router, &API{
		DB:           db,
		Gateway:      gateway,
		Tenants:      tenants,
		Verification: verification,
	})

	return &testServer{router: router, db: db, tenants: tenants}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", decodeBody(t, w)["status"])
}

func TestAdminRoutesRequireKey(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/admin/tenants", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/admin/tenants", nil, map[string]string{"X-Admin-Key": "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/admin/tenants", nil, map[string]string{"X-Admin-Key": testAdminKey})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthorizeEndpointLifecycle(t *testing.T) {
	s := newTestServer(t)
	admin := map[string]string{"X-Admin-Key": testAdminKey}

	// Register a tenant with a one-per-minute cap.
	w := s.do(t, http.MethodPost, "/api/admin/tenants", gin.H{
		"domain_url":            "https://shop.example.com",
		"rate_limit_per_minute": 1,
	}, admin)
	require.Equal(t, http.StatusCreated, w.Code)

	data := decodeBody(t, w)["data"].(map[string]interface{})
	apiKey := data["api_key"].(string)
	apiSecret := data["api_secret"].(string)
	require.NotEmpty(t, apiKey)
	require.NotEmpty(t, apiSecret)

	authorize := func(endpoint string) *httptest.ResponseRecorder {
		return s.do(t, http.MethodPost, "/api/gateway/authorize", gin.H{
			"api_key":    apiKey,
			"api_secret": apiSecret,
			"endpoint":   endpoint,
			"client_ip":  "203.0.113.10",
			"scheme":     "https",
		}, nil)
	}

	// Pending tenants are forbidden outside the verification flow.
	w = authorize("/api/data")
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "not_active", decodeBody(t, w)["code"])

	// Complete api-method verification through the gateway-guarded routes.
	creds := map[string]string{
		"X-API-Key":         apiKey,
		"X-API-Secret":      apiSecret,
		"X-Forwarded-Proto": "https",
	}
	w = s.do(t, http.MethodPost, "/api/verification/begin", gin.H{"method": "api"}, creds)
	require.Equal(t, http.StatusOK, w.Code)
	token := decodeBody(t, w)["data"].(map[string]interface{})["token"].(string)
	require.NotEmpty(t, token)

	w = s.do(t, http.MethodPost, "/api/verification/callback", gin.H{"token": token}, creds)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "verified",
		decodeBody(t, w)["data"].(map[string]interface{})["verification_status"])

	// Verified and active: the first request passes, the second hits the cap.
	w = authorize("/api/data")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.Equal(t, true, body["success"])
	require.Equal(t, true, body["data"].(map[string]interface{})["allowed"])

	w = authorize("/api/data")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "rate_limited", decodeBody(t, w)["code"])
	require.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestAuthorizeEndpointRejectsBadCredentials(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/gateway/authorize", gin.H{
		"api_key":    "ag_unknown",
		"api_secret": "nope",
		"endpoint":   "/api/data",
		"scheme":     "https",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "unknown_api_key", decodeBody(t, w)["code"])
}

func TestAuthorizeEndpointValidatesInput(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/gateway/authorize", gin.H{
		"api_key": "ag_only",
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_request", decodeBody(t, w)["code"])
}

func TestVerificationRoutesRequireCredentials(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/verification/begin", gin.H{"method": "dns"}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "missing_credentials", decodeBody(t, w)["code"])
}

func TestSuspendAndReinstateRoutes(t *testing.T) {
	s := newTestServer(t)
	admin := map[string]string{"X-Admin-Key": testAdminKey}

	w := s.do(t, http.MethodPost, "/api/admin/tenants", gin.H{
		"domain_url": "https://blog.example.com",
	}, admin)
	require.Equal(t, http.StatusCreated, w.Code)
	tenant := decodeBody(t, w)["data"].(map[string]interface{})["tenant"].(map[string]interface{})
	id := fmt.Sprintf("%.0f", tenant["id"].(float64))

	w = s.do(t, http.MethodPost, "/api/admin/tenants/"+id+"/suspend",
		gin.H{"reason": "manual review"}, admin)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/admin/tenants/"+id, nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBody(t, w)["data"].(map[string]interface{})
	require.Equal(t, "suspended", got["status"])
	require.Equal(t, "manual review", got["suspended_reason"])

	w = s.do(t, http.MethodPost, "/api/admin/tenants/"+id+"/reinstate", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/admin/tenants/"+id, nil, admin)
	got = decodeBody(t, w)["data"].(map[string]interface{})
	require.Equal(t, "active", got["status"])
}

func TestTenantStatsRoute(t *testing.T) {
	s := newTestServer(t)
	admin := map[string]string{"X-Admin-Key": testAdminKey}

	w := s.do(t, http.MethodPost, "/api/admin/tenants", gin.H{
		"domain_url": "https://stats.example.com",
	}, admin)
	require.Equal(t, http.StatusCreated, w.Code)
	tenant := decodeBody(t, w)["data"].(map[string]interface{})["tenant"].(map[string]interface{})
	id := fmt.Sprintf("%.0f", tenant["id"].(float64))

	w = s.do(t, http.MethodGet, "/api/admin/tenants/"+id+"/stats", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decodeBody(t, w)["data"].(map[string]interface{})
	require.Contains(t, stats, "usage_events")
	require.Contains(t, stats, "violations")
	require.Equal(t, "pending", stats["verification_status"])
}
