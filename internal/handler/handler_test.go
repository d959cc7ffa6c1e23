package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"activation-relay/internal/bas"
	"activation-relay/internal/config"
	"activation-relay/internal/database"
	"activation-relay/internal/service"
	"activation-relay/internal/util"
)

const (
	testHost     = "ws-01.corp.example"
	testPID      = "12345-12345-123-123456-12-1234-3.0000-1234567"
	testPassword = "s3cret"
)

var testIID = strings.Repeat("1", 63)

type fakeActivator struct {
	mu     sync.Mutex
	calls  int
	result string
	err    error
}

func (f *fakeActivator) Call(ctx context.Context, requestType bas.RequestType, installationID, extendedProductID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

type fakeUpstream struct{}

func (fakeUpstream) BreakerState() string { return "closed" }

type testEnv struct {
	app       *fiber.App
	activator *fakeActivator
	store     *database.ActivationStore
	issuer    *util.TokenIssuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	db := database.InitTestDB(t)
	store := database.NewActivationStore(db)
	activator := &fakeActivator{result: "CID-0001"}
	audit := service.NewAuditLog(db)
	issuer := util.NewTokenIssuer("test-secret", time.Hour)

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	h := New(Deps{
		Activation: service.NewActivationService(store, activator, nil, log),
		Reports:    service.NewReportService(store, audit, nil, log),
		Audit:      audit,
		Issuer:     issuer,
		Admin:      config.AdminConfig{Username: "admin", PasswordHash: string(hash)},
		DB:         db,
		Upstream:   fakeUpstream{},
		Log:        log,
	})

	app := fiber.New()
	SetupRoutes(app, h, nil)

	return &testEnv{app: app, activator: activator, store: store, issuer: issuer}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]interface{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	token, _, err := e.issuer.GenerateToken("admin")
	require.NoError(t, err)
	return token
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "GET", "/health", nil, "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "closed", body["upstream_breaker"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, "GET", "/metrics", nil, "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
