package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"settlement-service/internal/config"
	"settlement-service/internal/pkg/jwt"
	"settlement-service/internal/pkg/lock"
	"settlement-service/internal/pkg/ratelimit"
	"settlement-service/internal/repository/memory"
	"settlement-service/internal/websocket"

	"github.com/gin-gonic/gin"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	gatewayToken = "gateway-token"
	staffToken   = "staff-token"
)

type staticVerifier map[string]*jwt.Claims

func (v staticVerifier) VerifyAccessToken(token string) (*jwt.Claims, error) {
	claims, ok := v[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return claims, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.AppConfig{
		TopupMinAmount:     10_000,
		TopupMaxAmount:     5_000_000,
		TopupExpiryAfter:   24 * time.Hour,
		TopupReminderAfter: 12 * time.Hour,
		SchedulerInterval:  time.Hour,
	}
	repos := &repositories{
		wallets:       memory.NewWalletRepository(),
		requests:      memory.NewTopupRepository(),
		credentials:   memory.NewCredentialRepository(),
		transactions:  memory.NewAgentTransactionRepository(),
		notifications: memory.NewNotificationRepository(),
	}
	verifier := staticVerifier{
		gatewayToken: {Roles: []string{jwt.RoleGateway}, Purpose: jwt.PurposeAccess, RegisteredClaims: gojwt.RegisteredClaims{Subject: "chat-gateway"}},
		staffToken:   {Roles: []string{jwt.RoleStaff}, Purpose: jwt.PurposeAccess, RegisteredClaims: gojwt.RegisteredClaims{Subject: "staff-7"}},
	}

	logger := zap.NewNop()
	wired := wire(cfg, repos, lock.NewLocalLocker(), ratelimit.NewLocalLimiter(3, 15*time.Minute),
		verifier, websocket.NewHub(logger), time.UTC, logger)

	r := gin.New()
	SetupRouter(r, logger, wired.handlers)
	return r
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func call(t *testing.T, r *gin.Engine, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decodeData(t *testing.T, env envelope, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, target))
}

func TestRouter_Health(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_RolesAreEnforced(t *testing.T) {
	r := newTestRouter(t)

	code, _ := call(t, r, http.MethodGet, "/api/v1/wallets/acct-1/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = call(t, r, http.MethodGet, "/api/v1/wallets/acct-1/balance", staffToken, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = call(t, r, http.MethodGet, "/api/v1/admin/topups/awaiting", gatewayToken, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestRouter_TransferTopupFlow(t *testing.T) {
	r := newTestRouter(t)

	code, env := call(t, r, http.MethodPost, "/api/v1/topups", gatewayToken, gin.H{
		"account_id":   "acct-1",
		"amount":       50_000,
		"payment_path": "transfer",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decodeData(t, env, &created)
	assert.Equal(t, "pending", created.Status)

	code, env = call(t, r, http.MethodPost, "/api/v1/topups/"+created.ID+"/proof", gatewayToken, gin.H{
		"proof_ref": "s3://proofs/receipt.jpg",
	})
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = call(t, r, http.MethodGet, "/api/v1/admin/topups/awaiting", staffToken, nil)
	require.Equal(t, http.StatusOK, code)
	var queue struct {
		Count int `json:"count"`
	}
	decodeData(t, env, &queue)
	assert.Equal(t, 1, queue.Count)

	code, env = call(t, r, http.MethodPost, "/api/v1/admin/topups/"+created.ID+"/verify", staffToken, gin.H{
		"approve": true,
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	var verified struct {
		Status     string `json:"status"`
		VerifiedBy string `json:"verified_by"`
	}
	decodeData(t, env, &verified)
	assert.Equal(t, "verified", verified.Status)
	assert.Equal(t, "staff-7", verified.VerifiedBy)

	// verifying twice is refused
	code, _ = call(t, r, http.MethodPost, "/api/v1/admin/topups/"+created.ID+"/verify", staffToken, gin.H{
		"approve": true,
	})
	assert.Equal(t, http.StatusConflict, code)

	code, env = call(t, r, http.MethodGet, "/api/v1/wallets/acct-1/balance", gatewayToken, nil)
	require.Equal(t, http.StatusOK, code)
	var balance struct {
		Balance int64 `json:"balance"`
	}
	decodeData(t, env, &balance)
	assert.Equal(t, int64(50_000), balance.Balance)

	code, env = call(t, r, http.MethodGet, "/api/v1/accounts/acct-1/notifications", gatewayToken, nil)
	require.Equal(t, http.StatusOK, code)
	var notes struct {
		Notifications []struct {
			Type string `json:"type"`
		} `json:"notifications"`
	}
	decodeData(t, env, &notes)
	require.NotEmpty(t, notes.Notifications)
	assert.Equal(t, "topup_verified", notes.Notifications[0].Type)
}

func TestRouter_CashTopupFlow(t *testing.T) {
	r := newTestRouter(t)

	code, env := call(t, r, http.MethodPost, "/api/v1/admin/agents/credentials", staffToken, gin.H{
		"agent_id":       "AG1",
		"bound_identity": "+628111",
		"pin":            "1234",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)

	code, env = call(t, r, http.MethodPost, "/api/v1/topups", gatewayToken, gin.H{
		"account_id":   "acct-2",
		"amount":       100_000,
		"payment_path": "agent_cash",
		"agent_id":     "AG1",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var created struct {
		ID       string `json:"id"`
		LinkedTx string `json:"linked_agent_transaction_id"`
	}
	decodeData(t, env, &created)
	require.NotEmpty(t, created.LinkedTx)

	code, _ = call(t, r, http.MethodPost, "/api/v1/agent-transactions/"+created.LinkedTx+"/confirm", gatewayToken, gin.H{
		"bound_identity": "+628111",
		"pin":            "9999",
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = call(t, r, http.MethodPost, "/api/v1/agent-transactions/"+created.LinkedTx+"/confirm", gatewayToken, gin.H{
		"bound_identity": "+628111",
		"pin":            "1234",
	})
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = call(t, r, http.MethodGet, "/api/v1/topups/"+created.ID, gatewayToken, nil)
	require.Equal(t, http.StatusOK, code)
	var req struct {
		Status string `json:"status"`
	}
	decodeData(t, env, &req)
	assert.Equal(t, "verified", req.Status)

	code, env = call(t, r, http.MethodGet, "/api/v1/wallets/acct-2/balance", gatewayToken, nil)
	require.Equal(t, http.StatusOK, code)
	var balance struct {
		Balance int64 `json:"balance"`
	}
	decodeData(t, env, &balance)
	assert.Equal(t, int64(100_000), balance.Balance)

	// settling again is idempotent
	code, env = call(t, r, http.MethodPost, "/api/v1/admin/agent-transactions/"+created.LinkedTx+"/settle", staffToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "agent transaction already settled", env.Message)
}

func TestRouter_ErrorMapping(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		want   int
	}{
		{"malformed reference", http.MethodGet, "/api/v1/topups/not-a-ref", gatewayToken, nil, http.StatusBadRequest},
		{"wrong reference kind", http.MethodGet, "/api/v1/topups/A-251019-2345", gatewayToken, nil, http.StatusBadRequest},
		{"unknown request", http.MethodGet, "/api/v1/topups/T-251019-2345", gatewayToken, nil, http.StatusNotFound},
		{"amount below minimum", http.MethodPost, "/api/v1/topups", gatewayToken,
			gin.H{"account_id": "acct-9", "amount": 9_999, "payment_path": "transfer"}, http.StatusBadRequest},
		{"agent on transfer path", http.MethodPost, "/api/v1/topups", gatewayToken,
			gin.H{"account_id": "acct-9", "amount": 20_000, "payment_path": "transfer", "agent_id": "AG1"}, http.StatusConflict},
		{"verify without decision", http.MethodPost, "/api/v1/admin/topups/T-251019-2345/verify", staffToken,
			gin.H{"notes": "looks fine"}, http.StatusBadRequest},
		{"debit without funds", http.MethodPost, "/api/v1/admin/wallets/acct-9/debit", staffToken,
			gin.H{"amount": 1, "reason": "fee"}, http.StatusUnprocessableEntity},
		{"unknown statistics period", http.MethodGet, "/api/v1/agents/AG1/statistics?period=decade", gatewayToken, nil, http.StatusBadRequest},
		{"settle unknown transaction", http.MethodPost, "/api/v1/admin/agent-transactions/A-251019-2345/settle", staffToken, nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := call(t, r, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, code, env.Message)
			assert.False(t, env.Success)
		})
	}
}

func TestRouter_OneActiveRequestPerAccount(t *testing.T) {
	r := newTestRouter(t)
	body := gin.H{"account_id": "acct-3", "amount": 20_000, "payment_path": "transfer"}

	code, _ := call(t, r, http.MethodPost, "/api/v1/topups", gatewayToken, body)
	require.Equal(t, http.StatusCreated, code)

	code, env := call(t, r, http.MethodPost, "/api/v1/topups", gatewayToken, body)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "account already has an active topup request", env.Message)

	code, env = call(t, r, http.MethodGet, "/api/v1/accounts/acct-3/topups/active", gatewayToken, nil)
	assert.Equal(t, http.StatusOK, code, env.Message)
}
