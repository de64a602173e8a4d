package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testKey = "kb_live_0123456789abcdef"

type MockAuthValidator struct {
	mock.Mock
}

func (m *MockAuthValidator) ValidateAPIKey(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

func failHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})
}

func TestAPIKeyAuth_Success(t *testing.T) {
	mockValidator := new(MockAuthValidator)
	mockValidator.On("ValidateAPIKey", mock.Anything, testKey).Return("kb_live_", nil)

	var captured string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetClient(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	w := httptest.NewRecorder()

	APIKeyAuth(mockValidator)(handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "kb_live_", captured)
	mockValidator.AssertExpectations(t)
}

func TestAPIKeyAuth_MissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	APIKeyAuth(new(MockAuthValidator))(failHandler(t)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "missing authorization header")
	assert.Contains(t, w.Body.String(), `"code":401`)
}

func TestAPIKeyAuth_InvalidFormat(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc123")
	w := httptest.NewRecorder()

	APIKeyAuth(new(MockAuthValidator))(failHandler(t)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid authorization format")
}

func TestAPIKeyAuth_ValidationFails(t *testing.T) {
	mockValidator := new(MockAuthValidator)
	mockValidator.On("ValidateAPIKey", mock.Anything, "kb_live_bad").Return("", errors.New("invalid key"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer kb_live_bad")
	w := httptest.NewRecorder()

	APIKeyAuth(mockValidator)(failHandler(t)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid api key")
	mockValidator.AssertExpectations(t)
}

func TestAPIKeyAuth_NilValidatorDisablesAuth(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	APIKeyAuth(nil)(handler).ServeHTTP(w, req)

	assert.True(t, called)
}

func TestStaticKey(t *testing.T) {
	key := StaticKey(testKey)

	client, err := key.ValidateAPIKey(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, "kb_live_", client)

	_, err = key.ValidateAPIKey(context.Background(), testKey+"x")
	assert.Error(t, err)

	_, err = StaticKey("").ValidateAPIKey(context.Background(), "")
	assert.Error(t, err)
}

func TestGetClient_MissingContext(t *testing.T) {
	assert.Equal(t, "", GetClient(context.Background()))
}
