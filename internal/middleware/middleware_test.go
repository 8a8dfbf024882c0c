package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"settlement-service/internal/pkg/jwt"
	"settlement-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) VerifyAccessToken(token string) (*jwt.Claims, error) {
	args := m.Called(token)
	claims, _ := args.Get(0).(*jwt.Claims)
	return claims, args.Error(1)
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(verifier TokenVerifier) *gin.Engine {
	auth := NewAuthMiddleware(verifier)

	r := gin.New()
	r.Use(LoggingMiddleware(zap.NewNop()), RecoveryMiddleware(zap.NewNop()))
	r.GET("/staff", append(auth.StaffOnly(), func(c *gin.Context) {
		response.Success(c, http.StatusOK, "ok", gin.H{"subject": MustGetSubject(c)})
	})...)
	r.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})
	return r
}

func claimsFor(subject string, roles ...string) *jwt.Claims {
	return &jwt.Claims{
		Roles:            roles,
		Purpose:          jwt.PurposeAccess,
		RegisteredClaims: gojwt.RegisteredClaims{Subject: subject},
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAuth(t *testing.T) {
	verifier := new(MockVerifier)
	verifier.On("VerifyAccessToken", "staff-token").Return(claimsFor("staff-7", jwt.RoleStaff), nil)
	verifier.On("VerifyAccessToken", "gateway-token").Return(claimsFor("chat-gateway", jwt.RoleGateway), nil)
	verifier.On("VerifyAccessToken", "bad-token").Return(nil, errors.New("token is expired"))

	r := newRouter(verifier)

	tests := []struct {
		name    string
		header  string
		want    int
		message string
	}{
		{"missing token", "", http.StatusUnauthorized, "missing authorization token"},
		{"malformed header", "Token staff-token", http.StatusUnauthorized, "missing authorization token"},
		{"invalid token", "Bearer bad-token", http.StatusUnauthorized, "invalid or expired token"},
		{"wrong role", "Bearer gateway-token", http.StatusForbidden, "insufficient permissions"},
		{"staff", "Bearer staff-token", http.StatusOK, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/staff", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.want == http.StatusOK, body.Success)
			assert.Equal(t, tt.message, body.Message)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

func TestAuth_IgnoresQueryTokenOutsideWebsocket(t *testing.T) {
	verifier := new(MockVerifier)
	r := newRouter(verifier)

	req := httptest.NewRequest(http.MethodGet, "/staff?token=staff-token", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	verifier.AssertNotCalled(t, "VerifyAccessToken", mock.Anything)
}

func TestLoggingMiddleware_KeepsIncomingRequestID(t *testing.T) {
	verifier := new(MockVerifier)
	verifier.On("VerifyAccessToken", "staff-token").Return(claimsFor("staff-7", jwt.RoleAdmin), nil)
	r := newRouter(verifier)

	req := httptest.NewRequest(http.MethodGet, "/staff", nil)
	req.Header.Set("Authorization", "Bearer staff-token")
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-123", decode(t, w).RequestID)
}

func TestRecoveryMiddleware(t *testing.T) {
	r := newRouter(new(MockVerifier))

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, response.InternalMessage, body.Message)
	assert.Empty(t, body.Error)
}
