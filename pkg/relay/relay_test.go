package relay

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"webhookrelay/pkg/config"
	"webhookrelay/pkg/dispatch"
	"webhookrelay/pkg/payload"
	"webhookrelay/pkg/registry"
)

type fakeDeliverer struct {
	mu           sync.Mutex
	result       dispatch.Result
	dispatched   []payload.Message
	destinations []registry.Destination
	timeouts     []time.Duration
	mirrored     int
	panicWith    any
}

func (f *fakeDeliverer) Dispatch(_ context.Context, msg payload.Message, dest registry.Destination, timeout time.Duration) dispatch.Result {
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, msg)
	f.destinations = append(f.destinations, dest)
	f.timeouts = append(f.timeouts, timeout)
	return f.result
}

func (f *fakeDeliverer) Mirror(context.Context, registry.Destination, []byte, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mirrored++
}

func (f *fakeDeliverer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatched)
}

type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

func (h *recordingHandler) WithGroup(_ string) slog.Handler { return h }

func (h *recordingHandler) LastLevel() slog.Level {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == 0 {
		return 0
	}
	return h.records[len(h.records)-1].Level
}

func (h *recordingHandler) messagesAtLeast(level slog.Level) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, record := range h.records {
		if record.Level < level {
			continue
		}
		var b strings.Builder
		b.WriteString(record.Message)
		record.Attrs(func(attr slog.Attr) bool {
			b.WriteString(" " + attr.Key + "=" + attr.Value.String())
			return true
		})
		out = append(out, b.String())
	}
	return out
}

func staticStore(webhookURL string) *registry.Store {
	cfg := config.Default()
	cfg.Global.TimeoutSeconds = 3
	cfg.Services = map[string]config.ServiceConfig{
		"known-service": {Target: "grp_1", WebhookURL: webhookURL},
		"incomplete":    {Target: "grp_2"},
	}
	store := registry.NewStore(nil, registry.LoadOnce)
	store.Set(registry.New(&cfg))
	return store
}

func jsonEnvelope(body string) payload.Envelope {
	return payload.Envelope{Encoding: payload.EncodingJSON, Body: []byte(body)}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleUnknownService(t *testing.T) {
	t.Parallel()

	deliverer := &fakeDeliverer{}
	r := New(staticStore("https://glue.local/hook"), deliverer, quietLogger())

	result := r.Handle(context.Background(), "nope", jsonEnvelope(`{"text":"hi"}`))
	require.Equal(t, dispatch.StatusError, result.Status)
	require.Equal(t, http.StatusBadRequest, result.ResponseCode)
	require.Contains(t, result.Message, "unknown service")
	require.Zero(t, deliverer.calls())
}

func TestHandleIncompleteService(t *testing.T) {
	t.Parallel()

	deliverer := &fakeDeliverer{}
	r := New(staticStore("https://glue.local/hook"), deliverer, quietLogger())

	result := r.Handle(context.Background(), "incomplete", jsonEnvelope(`{"text":"hi"}`))
	require.Equal(t, dispatch.StatusError, result.Status)
	require.Equal(t, http.StatusBadRequest, result.ResponseCode)
	require.Contains(t, result.Message, "missing target or webhook_url")
	require.Zero(t, deliverer.calls())
}

func TestHandlePayloadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  payload.Envelope
	}{
		{name: "empty body", env: jsonEnvelope("")},
		{name: "unparseable json", env: jsonEnvelope(`{"text":`)},
		{name: "no text", env: jsonEnvelope(`{"attachments":[]}`)},
		{name: "form without payload", env: payload.Envelope{Encoding: payload.EncodingForm, Body: []byte("a=b")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			deliverer := &fakeDeliverer{}
			r := New(staticStore("https://glue.local/hook"), deliverer, quietLogger())

			result := r.Handle(context.Background(), "known-service", tt.env)
			require.Equal(t, dispatch.StatusError, result.Status)
			require.Equal(t, http.StatusBadRequest, result.ResponseCode)
			require.NotEmpty(t, result.Message)
			require.Zero(t, deliverer.calls())
		})
	}
}

func TestHandlePassesDispatcherResultThrough(t *testing.T) {
	t.Parallel()

	want := dispatch.Failure(http.StatusInternalServerError, "Error forwarding webhook to target server: boom")
	deliverer := &fakeDeliverer{result: want}
	r := New(staticStore("https://glue.local/hook"), deliverer, quietLogger())

	body := `{"text":"Subject","attachments":[{"text":"see <https://x|docs>"}]}`
	result := r.Handle(context.Background(), "known-service", jsonEnvelope(body))
	require.Equal(t, want, result)

	require.Equal(t, 1, deliverer.calls())
	require.Equal(t, "see [docs](https://x)", deliverer.dispatched[0].Text)
	require.Equal(t, "Subject", deliverer.dispatched[0].ThreadSubject)
	require.Equal(t, "grp_1", deliverer.destinations[0].Target)
	require.Equal(t, 3*time.Second, deliverer.timeouts[0])
	require.Equal(t, 1, deliverer.mirrored)
}

func TestHandleConfigLoadFailure(t *testing.T) {
	t.Parallel()

	store := registry.NewStore(registry.FileSource{Path: filepath.Join(t.TempDir(), "missing.yml")}, registry.ReloadEveryRequest)
	deliverer := &fakeDeliverer{}
	r := New(store, deliverer, quietLogger())

	result := r.Handle(context.Background(), "known-service", jsonEnvelope(`{"text":"hi"}`))
	require.Equal(t, dispatch.StatusError, result.Status)
	require.Equal(t, http.StatusInternalServerError, result.ResponseCode)
	require.NotContains(t, result.Message, "missing.yml")
	require.Zero(t, deliverer.calls())
}

func TestHandleRecoversPanics(t *testing.T) {
	t.Parallel()

	deliverer := &fakeDeliverer{panicWith: "boom"}
	r := New(staticStore("https://glue.local/hook"), deliverer, quietLogger())

	result := r.Handle(context.Background(), "known-service", jsonEnvelope(`{"text":"hi"}`))
	require.Equal(t, dispatch.StatusError, result.Status)
	require.Equal(t, http.StatusInternalServerError, result.ResponseCode)
}

func TestHandleLogLevelsMatchStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result dispatch.Result
		want   slog.Level
	}{
		{name: "success", result: dispatch.Success("ok"), want: slog.LevelInfo},
		{name: "warning", result: dispatch.Warning("empty"), want: slog.LevelWarn},
		{name: "error", result: dispatch.Failure(http.StatusInternalServerError, "down"), want: slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			recorder := &recordingHandler{}
			r := New(staticStore("https://glue.local/hook"), &fakeDeliverer{result: tt.result}, slog.New(recorder))

			r.Handle(context.Background(), "known-service", jsonEnvelope(`{"text":"secret body"}`))
			require.Equal(t, tt.want, recorder.LastLevel())
		})
	}
}

func TestHandleDoesNotLogMessageBodyAtInfo(t *testing.T) {
	t.Parallel()

	recorder := &recordingHandler{}
	r := New(staticStore("https://glue.local/hook"), &fakeDeliverer{result: dispatch.Success("ok")}, slog.New(recorder))

	ctx := WithRequestID(context.Background(), "req-1")
	r.Handle(ctx, "known-service", jsonEnvelope(`{"text":"top secret"}`))

	for _, line := range recorder.messagesAtLeast(slog.LevelInfo) {
		require.NotContains(t, line, "top secret")
	}
}

func TestHandleEndToEnd(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	status := atomic.Int32{}
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(server.Close)

	r := New(staticStore(server.URL), dispatch.New(quietLogger()), quietLogger())

	result := r.Handle(context.Background(), "known-service", jsonEnvelope(`{"text":"T"}`))
	require.Equal(t, dispatch.Success("Webhook forwarded successfully"), result)

	result = r.Handle(context.Background(), "known-service", jsonEnvelope(`{"text":"   "}`))
	require.Equal(t, dispatch.StatusWarning, result.Status)
	require.Equal(t, http.StatusAccepted, result.ResponseCode)
	require.Equal(t, int32(1), calls.Load(), "warning must not reach the endpoint")

	status.Store(http.StatusServiceUnavailable)
	result = r.Handle(context.Background(), "known-service", jsonEnvelope(`{"text":"T"}`))
	require.Equal(t, dispatch.StatusError, result.Status)
	require.Equal(t, http.StatusInternalServerError, result.ResponseCode)
}

func TestHandleReloadModes(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	write := func(t *testing.T, path, id string) {
		t.Helper()
		doc := "services:\n  " + id + ":\n    target: grp\n    webhook_url: " + server.URL + "\n"
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	}

	for _, mode := range []registry.Mode{registry.LoadOnce, registry.ReloadEveryRequest} {
		t.Run(mode.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yml")
			write(t, path, "first")

			store := registry.NewStore(registry.FileSource{Path: path}, mode)
			_, err := store.Reload()
			require.NoError(t, err)
			r := New(store, dispatch.New(quietLogger()), quietLogger())

			require.Equal(t, dispatch.StatusSuccess, r.Handle(context.Background(), "first", jsonEnvelope(`{"text":"x"}`)).Status)

			write(t, path, "second")
			second := r.Handle(context.Background(), "second", jsonEnvelope(`{"text":"x"}`))
			first := r.Handle(context.Background(), "first", jsonEnvelope(`{"text":"x"}`))

			if mode == registry.ReloadEveryRequest {
				require.Equal(t, dispatch.StatusSuccess, second.Status)
				require.Equal(t, http.StatusBadRequest, first.ResponseCode)
			} else {
				require.Equal(t, http.StatusBadRequest, second.ResponseCode)
				require.Equal(t, dispatch.StatusSuccess, first.Status)
			}
		})
	}
}

func TestRequestIDContext(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", RequestIDFrom(context.Background()))
	require.Equal(t, "abc", RequestIDFrom(WithRequestID(context.Background(), "abc")))
}
