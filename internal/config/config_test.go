package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noEnv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

// =====================================================
// Loading
// =====================================================

func TestLoad_DefaultsOnly(t *testing.T) {
	config, err := Load("", noEnv(t))
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, config.LogLevel)
	assert.Equal(t, DefaultClientAddr, config.Client.Addr)
	assert.Equal(t, DefaultRetentionMaxAge, config.Client.RetentionMaxAge)
	assert.Equal(t, DefaultNetworkTimeout, config.Cache.NetworkTimeout)
	assert.Equal(t, DefaultPushTopic, config.Push.Topic)
	assert.Equal(t, float64(DefaultRateLimit), config.API.RateLimit)
	assert.Equal(t, DefaultAdminLimit, config.API.Admin.DefaultLimit)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "ridelink.yaml", `
LogLevel: DEBUG
Client:
  UserID: rider-1
  APIBaseURL: http://localhost:8080
  ProbeInterval: 10s
  RetentionMaxAge: 168h
Cache:
  Origin: http://localhost:8080
  Manifest: [/, /index.html]
  Groups:
    api:
      MaxEntries: 20
      MaxAge: 1m
Push:
  NsqdTCPAddrs: [127.0.0.1:4150]
  ConsumerEnabled: true
API:
  JWTSecret: file-secret
  RateLimit: 2.5
`)

	config, err := Load(path, noEnv(t))
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", config.LogLevel)
	assert.Equal(t, "rider-1", config.Client.UserID)
	assert.Equal(t, 10*time.Second, config.Client.ProbeInterval)
	assert.Equal(t, 7*24*time.Hour, config.Client.RetentionMaxAge)
	assert.Equal(t, []string{"/", "/index.html"}, config.Cache.Manifest)
	assert.Equal(t, CacheGroup{MaxEntries: 20, MaxAge: time.Minute}, config.Cache.Groups["api"])
	assert.Equal(t, 2.5, config.API.RateLimit)
	assert.Equal(t, "file-secret", config.API.JWTSecret)
	assert.NoError(t, config.ValidateClient())
	assert.NoError(t, config.ValidateAPI())
}

func TestLoad_EnvOverridesSecrets(t *testing.T) {
	path := writeFile(t, "ridelink.yaml", "API:\n  JWTSecret: file-secret\n")
	t.Setenv(EnvJWTSecret, "env-secret")
	t.Setenv(EnvAdminDSN, "user:pass@tcp(db:3306)/ridelink")

	config, err := Load(path, noEnv(t))
	require.NoError(t, err)
	assert.Equal(t, "env-secret", config.API.JWTSecret)
	assert.Equal(t, "user:pass@tcp(db:3306)/ridelink", config.API.Admin.DSN)
}

func TestLoad_DotEnvFile(t *testing.T) {
	envFile := writeFile(t, ".env", EnvSMSToken+"=from-dotenv\n")
	t.Setenv(EnvSMSToken, "")
	os.Unsetenv(EnvSMSToken)

	config, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", config.API.SMS.Token)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), noEnv(t))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "Client: [unclosed"), noEnv(t))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "neg.yaml", "Client:\n  SyncTimeout: -1s\n"), noEnv(t))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "url.yaml", "Client:\n  APIBaseURL: not-a-url\n"), noEnv(t))
	assert.Error(t, err)
}

func TestMustLoad_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustLoad(filepath.Join(t.TempDir(), "absent.yaml"), noEnv(t))
	})
}

// =====================================================
// Role Validation
// =====================================================

func TestValidateClient(t *testing.T) {
	config, err := Load("", noEnv(t))
	require.NoError(t, err)
	assert.Error(t, config.ValidateClient())

	config.Client.UserID = "rider-1"
	config.Client.APIBaseURL = "http://localhost:8080"
	assert.NoError(t, config.ValidateClient())

	config.Push.ConsumerEnabled = true
	assert.Error(t, config.ValidateClient())
}

func TestValidateAPI(t *testing.T) {
	t.Setenv(EnvJWTSecret, "")
	os.Unsetenv(EnvJWTSecret)

	config, err := Load("", noEnv(t))
	require.NoError(t, err)
	assert.Error(t, config.ValidateAPI())
}
