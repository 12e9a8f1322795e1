//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go-photoshare/internal/app"
	"go-photoshare/internal/config"
)

const (
	adminUsername = "root"
	adminPassword = "root-password-123"
	userPassword  = "Password123!"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
	Meta *struct {
		Page  int `json:"page"`
		Limit int `json:"limit"`
		Total int `json:"total"`
	} `json:"meta"`
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type userBody struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Active    bool   `json:"active"`
	Confirmed bool   `json:"confirmed"`
	Banned    bool   `json:"banned"`
}

// testConfig runs against postgres when INTEGRATION_DATABASE_URL is set and in memory
// otherwise.
func testConfig() *config.Config {
	cfg := &config.Config{
		ServerPort:              "0",
		ServerReadHeaderTimeout: 10 * time.Second,
		ServerWriteTimeout:      30 * time.Second,
		ServerIdleTimeout:       120 * time.Second,
		RequestTimeout:          10 * time.Second,

		StoreDriver: config.StoreDriverMemory,
		DBMaxConns:  4,
		DBMinConns:  1,

		JWTSecret:     "integration-secret-0123456789abcdef",
		JWTAlgorithm:  "HS256",
		JWTIssuer:     "photoshare-test",
		JWTAccessTTL:  15 * time.Minute,
		JWTRefreshTTL: 24 * time.Hour,
		JWTClockSkew:  5 * time.Second,
		EmailTokenTTL: time.Hour,

		PasswordHashMemoryKB:    1024,
		PasswordHashIterations:  1,
		PasswordHashParallelism: 1,

		RefreshReusePolicy: config.ReusePolicyRevoke,

		BootstrapAdminUsername: adminUsername,
		BootstrapAdminEmail:    "root@photos.example",
		BootstrapAdminPassword: adminPassword,

		PublicBaseURL:    "http://photos.example",
		CORSOrigins:      []string{"*"},
		RateLimitRPM:     10000,
		AuthRateLimitRPM: 10000,

		LogLevel:  "error",
		LogFormat: "json",
	}

	if url := os.Getenv("INTEGRATION_DATABASE_URL"); url != "" {
		cfg.StoreDriver = config.StoreDriverPostgres
		cfg.DatabaseURL = url
	}
	return cfg
}

func newServer(t *testing.T, mutate func(*config.Config)) *httptest.Server {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	application, err := app.New(cfg)
	require.NoError(t, err)

	server := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		server.Close()
		application.Close()
	})
	return server
}

func doJSON(t *testing.T, method string, url string, body any, bearer string) (*http.Response, envelope) {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req, err := http.NewRequest(method, url, bytes.NewReader(payload))
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var parsed envelope
	_ = json.NewDecoder(resp.Body).Decode(&parsed)
	return resp, parsed
}

func decodeData(t *testing.T, env envelope, dst any) {
	t.Helper()
	require.True(t, env.Success, "expected success envelope, got %+v", env.Error)
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func requireErrorCode(t *testing.T, resp *http.Response, env envelope, status int, code string) {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	require.False(t, env.Success)
	require.NotNil(t, env.Error)
	require.Equal(t, code, env.Error.Code)
}

func signup(t *testing.T, server *httptest.Server, username string) userBody {
	t.Helper()

	resp, env := doJSON(t, http.MethodPost, server.URL+"/api/v1/auth/signup", map[string]string{
		"username": username,
		"email":    username + "@photos.example",
		"password": userPassword,
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var user userBody
	decodeData(t, env, &user)
	return user
}

func login(t *testing.T, server *httptest.Server, username string, password string) tokenPair {
	t.Helper()

	resp, env := doJSON(t, http.MethodPost, server.URL+"/api/v1/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pair tokenPair
	decodeData(t, env, &pair)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	return pair
}

// uniqueName keeps usernames apart when the suite shares a postgres database across runs.
func uniqueName(prefix string) string {
	return prefix + "_" + uuid.NewString()[:8]
}
