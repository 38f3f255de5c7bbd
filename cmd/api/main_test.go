package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/ridelink/backend/internal/api"
	"github.com/kimhsiao/ridelink/backend/internal/config"
	"github.com/kimhsiao/ridelink/backend/internal/logging"
)

const webOrigin = "https://rider.example.com"

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() config.Config {
	return config.Config{
		Push: config.Push{Topic: config.DefaultPushTopic},
		API: config.API{
			JWTSecret:      "secret",
			RateLimit:      100,
			RateBurst:      100,
			CORSOrigins:    []string{webOrigin},
			RequestTimeout: time.Second,
		},
	}
}

func TestNewApp_RequiresSecret(t *testing.T) {
	cfg := testConfig()
	cfg.API.JWTSecret = ""

	_, err := newApp(context.Background(), cfg, logging.Discard())
	require.Error(t, err)
}

func TestApp_HealthWithoutCollaborators(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(), logging.Discard())
	require.NoError(t, err)
	defer a.close()

	server := httptest.NewServer(a.handler())
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", webOrigin)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, webOrigin, resp.Header.Get("Access-Control-Allow-Origin"))

	var health api.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "unconfigured", health.Components["push"])
	assert.Equal(t, "unconfigured", health.Components["admin"])
}

func TestApp_HealthReportsUnreachableProducer(t *testing.T) {
	cfg := testConfig()
	cfg.Push.ProducerAddr = "127.0.0.1:1"

	a, err := newApp(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer a.close()
	require.NotNil(t, a.producer)

	w := httptest.NewRecorder()
	a.handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var health api.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.True(t, strings.HasPrefix(health.Components["push"], "error: "), health.Components["push"])
}

func TestApp_CloseEndsProducerLogPipe(t *testing.T) {
	cfg := testConfig()
	cfg.Push.ProducerAddr = "127.0.0.1:1"

	a, err := newApp(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, a.nsqLog)
	a.close()

	_, err = a.nsqLog.Write([]byte("late line\n"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestApp_ProtectedRoutesNeedToken(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(), logging.Discard())
	require.NoError(t, err)
	defer a.close()

	w := httptest.NewRecorder()
	a.handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sms", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestApp_SweepLoopStops(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(), logging.Discard())
	require.NoError(t, err)
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.sweepLoop(ctx, time.Millisecond)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep loop did not stop")
	}
}
