package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowcoach/rowcoach-go/internal/docstore"
	"github.com/rowcoach/rowcoach-go/internal/docstore/docstoretest"
	"github.com/rowcoach/rowcoach-go/internal/metrics"
	"github.com/rowcoach/rowcoach-go/internal/model"
	"github.com/rowcoach/rowcoach-go/internal/repository"
	"github.com/rowcoach/rowcoach-go/internal/service"
)

const testSecret = "router-test-secret"

type testAPI struct {
	handler http.Handler
	store   *docstoretest.Server
}

func newTestAPI(t *testing.T, ready func(context.Context) error) *testAPI {
	t.Helper()
	store := docstoretest.New(t, "bin", "key")
	m := metrics.New(prometheus.NewRegistry())
	client, err := docstore.New(store.BaseURL(), "bin", "key", docstore.WithObserver(m))
	require.NoError(t, err)

	users := service.NewUserService(repository.NewDocumentUserRepository(client))
	if ready == nil {
		ready = client.Ping
	}

	h := NewRouter(RouterConfig{
		Auth:      NewAuthHandler(service.NewAuthService(users, testSecret, time.Hour)),
		Users:     NewUserHandler(users),
		Health:    NewHealthHandler(ready),
		Metrics:   m.Handler(),
		Observer:  m,
		JWTSecret: testSecret,
		AuthRate:  100,
		AuthBurst: 100,
	})
	return &testAPI{handler: h, store: store}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) register(t *testing.T, email, password, name string) model.AuthResponse {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/auth/register", "", model.CreateUserRequest{
		Email: email, Password: password, Name: name,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp model.AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestRegisterAndLogin(t *testing.T) {
	api := newTestAPI(t, nil)

	reg := api.register(t, "stroke@example.com", "catch-the-drive", "Stroke")
	assert.NotEmpty(t, reg.Token)
	assert.Equal(t, "stroke@example.com", reg.User.Email)

	rec := api.do(t, http.MethodPost, "/api/v1/auth/register", "", model.CreateUserRequest{
		Email: "stroke@example.com", Password: "catch-the-drive", Name: "Again",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/auth/login", "", model.LoginRequest{
		Email: "stroke@example.com", Password: "catch-the-drive",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, strings.ToLower(rec.Body.String()), "password")

	rec = api.do(t, http.MethodPost, "/api/v1/auth/login", "", model.LoginRequest{
		Email: "stroke@example.com", Password: "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid email or password", errorMessage(t, rec))
}

func TestRegisterBadRequests(t *testing.T) {
	api := newTestAPI(t, nil)

	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{name: "malformed json", body: "{", wantStatus: http.StatusBadRequest},
		{name: "missing email", body: model.CreateUserRequest{Password: "password123", Name: "Cox"}, wantStatus: http.StatusBadRequest},
		{name: "short password", body: model.CreateUserRequest{Email: "cox@example.com", Password: "x", Name: "Cox"}, wantStatus: http.StatusBadRequest},
		{name: "too large", body: `{"name":"` + strings.Repeat("a", maxBodyBytes) + `"}`, wantStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/api/v1/auth/register", "", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestRegisterStoreFailure(t *testing.T) {
	api := newTestAPI(t, nil)
	api.store.FailNext(http.MethodPut, http.StatusInternalServerError)

	rec := api.do(t, http.MethodPost, "/api/v1/auth/register", "", model.CreateUserRequest{
		Email: "cox@example.com", Password: "password123", Name: "Cox",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", errorMessage(t, rec))
}

func TestAuthenticatedRoutes(t *testing.T) {
	api := newTestAPI(t, nil)
	me := api.register(t, "bow@example.com", "password-bow", "Bow")
	other := api.register(t, "two@example.com", "password-two", "Two")

	rec := api.do(t, http.MethodGet, "/api/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/auth/me", me.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, me.User.ID, got.ID)

	rec = api.do(t, http.MethodGet, "/api/v1/users", me.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)
	assert.NotContains(t, rec.Body.String(), "$2a$")

	rec = api.do(t, http.MethodGet, "/api/v1/users/"+other.User.ID, me.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "two@example.com", got.Email)

	rec = api.do(t, http.MethodGet, "/api/v1/users/missing", me.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/users/me", me.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, me.User.ID, got.ID)
	assert.Equal(t, "bow@example.com", got.Email)
}

func TestUpdateMe(t *testing.T) {
	api := newTestAPI(t, nil)
	me := api.register(t, "bow@example.com", "password-bow", "Bow")
	api.register(t, "two@example.com", "password-two", "Two")

	rec := api.do(t, http.MethodPatch, "/api/v1/users/me", me.Token, map[string]string{
		"name": "Bow Seat", "password": "new-password-bow",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got model.UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Bow Seat", got.Name)
	assert.Equal(t, "bow@example.com", got.Email)

	rec = api.do(t, http.MethodPost, "/api/v1/auth/login", "", model.LoginRequest{Email: "bow@example.com", Password: "password-bow"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = api.do(t, http.MethodPost, "/api/v1/auth/login", "", model.LoginRequest{Email: "bow@example.com", Password: "new-password-bow"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPatch, "/api/v1/users/me", me.Token, map[string]string{"email": "two@example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPatch, "/api/v1/users/me", me.Token, map[string]string{"email": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = api.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `rowcoach_docstore_requests_total{op="get",status="200"} 1`)
	assert.Contains(t, rec.Body.String(), `route="/health/ready"`)
}

func TestReadyReportsStoreFailure(t *testing.T) {
	api := newTestAPI(t, func(context.Context) error { return errors.New("store down") })

	rec := api.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
