package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"webhookrelay/pkg/config"
	"webhookrelay/pkg/registry"
)

func writeServiceConfig(t *testing.T, webhookURL string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	doc := "services:\n  alerts:\n    target: grp_1\n    webhook_url: " + webhookURL + "\nglobal:\n  timeout_seconds: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func clearRelayEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{"TEST_MODE", "DEBUG", "HOST", "PORT", "WEBHOOKRELAY_CONFIG", "CONFIG_FILE"} {
		t.Setenv(key, "")
	}
	t.Setenv("WEBHOOKRELAY_LOG_LEVEL", "error")
}

func TestRunProbeSuccess(t *testing.T) {
	clearRelayEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	var out bytes.Buffer
	require.NoError(t, runProbe(context.Background(), writeServiceConfig(t, server.URL), &out))
	require.Contains(t, out.String(), "Glue webhook: SUCCESS")
}

func TestRunProbeFailureIsError(t *testing.T) {
	clearRelayEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	var out bytes.Buffer
	err := runProbe(context.Background(), writeServiceConfig(t, server.URL), &out)
	require.ErrorIs(t, err, errProbeFailed)
	require.Contains(t, out.String(), "FAILED")
}

func TestRunProbeMissingConfig(t *testing.T) {
	clearRelayEnv(t)

	err := runProbe(context.Background(), filepath.Join(t.TempDir(), "missing.yml"), io.Discard)
	require.Error(t, err)
}

func TestServeTestModeProbes(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("TEST_MODE", "true")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	var out bytes.Buffer
	require.NoError(t, runServe(context.Background(), writeServiceConfig(t, server.URL), &out))
	require.Contains(t, out.String(), "Total webhooks tested: 2")
}

func TestServeLoadOnceRequiresConfig(t *testing.T) {
	clearRelayEnv(t)

	err := runServe(context.Background(), filepath.Join(t.TempDir(), "missing.yml"), io.Discard)
	require.Error(t, err)
	require.Contains(t, err.Error(), "load config")
}

func TestServeRelaysUntilCanceled(t *testing.T) {
	clearRelayEnv(t)

	glue := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(glue.Close)

	port := freePort(t)
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", strconv.Itoa(port))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- runServe(ctx, writeServiceConfig(t, glue.URL), io.Discard)
	}()

	baseURL := "http://127.0.0.1:" + strconv.Itoa(port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	resp, err := http.Post(baseURL+"/services/alerts", "application/json", strings.NewReader(`{"text":"hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for serve to exit")
	}
}

func TestNewStoreSelectsMode(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Services = map[string]config.ServiceConfig{"a": {Target: "t", WebhookURL: "https://glue.local"}}

	store, err := newStore(&cfg, "unused.yml", nil, log)
	require.NoError(t, err)
	require.Equal(t, registry.LoadOnce, store.Mode())
	require.Equal(t, 1, store.Current().Len())

	_, err = newStore(&cfg, "unused.yml", os.ErrNotExist, log)
	require.Error(t, err)

	cfg.Server.Debug = true
	store, err = newStore(&cfg, "unused.yml", os.ErrNotExist, log)
	require.NoError(t, err)
	require.Equal(t, registry.ReloadEveryRequest, store.Mode())
	require.Nil(t, store.Current())
}

func freePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}
