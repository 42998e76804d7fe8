package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rotorauth/rotor"
)

type mapIdentity map[string]rotor.UserRecord

func (m mapIdentity) FindByID(_ context.Context, userID string) (rotor.UserRecord, error) {
	rec, ok := m[userID]
	if !ok {
		return rotor.UserRecord{}, errors.New("no such user")
	}
	return rec, nil
}

type passwordAuth map[string]string // username -> userID, password is "secret"

func (a passwordAuth) Authenticate(_ context.Context, username, password string) (string, error) {
	userID, ok := a[username]
	if !ok || password != "secret" {
		return "", errors.New("invalid credentials")
	}
	return userID, nil
}

func newTestHandler(t *testing.T) (*Handler, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := rotor.DefaultConfig()
	cfg.Token.AccessTTL = time.Minute
	cfg.Token.RefreshTTL = time.Hour
	cfg.Token.PrivateKey = []byte("httpapi-test-secret")

	engine, err := rotor.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityProvider(mapIdentity{"user-1": {ID: "user-1", Verified: true}}).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return NewHandler(engine, passwordAuth{"alice": "user-1"}), mr
}

func doLogin(t *testing.T, h *Handler) tokenPairResponse {
	t.Helper()

	body, _ := json.Marshal(loginRequest{Username: "alice", Password: "secret"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Login(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var pair tokenPairResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	return pair
}

func doRefresh(t *testing.T, h *Handler, refreshToken string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+refreshToken)
	rec := httptest.NewRecorder()
	h.Refresh(rec, req)
	return rec
}

func TestLoginEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	doLogin(t, h)
}

func TestLoginBadCredentials(t *testing.T) {
	h, _ := newTestHandler(t)

	body, _ := json.Marshal(loginRequest{Username: "alice", Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Login(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshEndpointRotates(t *testing.T) {
	h, _ := newTestHandler(t)
	pair := doLogin(t, h)

	rec := doRefresh(t, h, pair.RefreshToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var next tokenPairResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &next))
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)
}

func TestRejectionBodiesAreIndistinguishable(t *testing.T) {
	h, _ := newTestHandler(t)
	pair := doLogin(t, h)

	// consume the token once, then replay it: theft-class rejection
	require.Equal(t, http.StatusOK, doRefresh(t, h, pair.RefreshToken).Code)
	replay := doRefresh(t, h, pair.RefreshToken)

	// a benign malformed-token rejection
	benign := doRefresh(t, h, "eyJhbGciOiJIUzI1NiJ9.garbage.sig")

	assert.Equal(t, http.StatusUnauthorized, replay.Code)
	assert.Equal(t, http.StatusUnauthorized, benign.Code)
	assert.Equal(t, replay.Body.String(), benign.Body.String(),
		"attacker must not be able to distinguish rejection causes")
}

func TestRefreshMissingToken(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	rec := httptest.NewRecorder()
	h.Refresh(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStoreOutageIs503(t *testing.T) {
	h, mr := newTestHandler(t)
	pair := doLogin(t, h)

	mr.Close()

	rec := doRefresh(t, h, pair.RefreshToken)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLogoutEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	pair := doLogin(t, h)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	h.Logout(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// the session's refresh token is now superseded: opaque 401
	assert.Equal(t, http.StatusUnauthorized, doRefresh(t, h, pair.RefreshToken).Code)
}

func TestLogoutAllEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	first := doLogin(t, h)
	second := doLogin(t, h)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout-all", nil)
	req.Header.Set("Authorization", "Bearer "+first.AccessToken)
	rec := httptest.NewRecorder()
	h.LogoutAll(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, http.StatusUnauthorized, doRefresh(t, h, first.RefreshToken).Code)
	assert.Equal(t, http.StatusUnauthorized, doRefresh(t, h, second.RefreshToken).Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/refresh", nil)
	rec := httptest.NewRecorder()
	h.Refresh(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
