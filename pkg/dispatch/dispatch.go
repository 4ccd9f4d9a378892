// Package dispatch delivers normalized messages to their destination webhook
// and classifies the outcome.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"webhookrelay/pkg/config"
	"webhookrelay/pkg/payload"
	"webhookrelay/pkg/registry"
	"webhookrelay/pkg/relayerr"
)

const (
	defaultTimeout = time.Duration(config.DefaultTimeoutSeconds) * time.Second

	// responseDrainLimit bounds how much of a response body is read so the
	// connection can be closed cleanly.
	responseDrainLimit = 64 << 10
	responsePreviewLen = 200
)

// Outbound is the JSON body posted to the destination webhook.
type Outbound struct {
	Text          string `json:"text"`
	Target        string `json:"target"`
	ThreadSubject string `json:"threadSubject,omitempty"`
}

// HTTPStatusError reports a response outside the 2xx range.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("target server returned status %d", e.StatusCode)
}

// Dispatcher posts outbound payloads over HTTP.
type Dispatcher struct {
	client *http.Client
	log    *slog.Logger
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// New creates a Dispatcher. The default client opens a fresh connection for
// every delivery and never follows redirects.
func New(log *slog.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	d := &Dispatcher{
		client: newHTTPClient(),
		log:    log.With("component", "dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DisableKeepAlives:   true,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// BuildOutbound maps a message and destination to the outbound payload.
func BuildOutbound(msg payload.Message, dest registry.Destination) Outbound {
	return Outbound{
		Text:          msg.Text,
		Target:        dest.Target,
		ThreadSubject: msg.ThreadSubject,
	}
}

// Dispatch delivers msg to dest and classifies the outcome.
//
// Whitespace-only text yields a warning without any network call. A 2xx
// response is a success; transport failures, timeouts and every other
// status are errors. Delivery is attempted once.
func (d *Dispatcher) Dispatch(ctx context.Context, msg payload.Message, dest registry.Destination, timeout time.Duration) Result {
	if strings.TrimSpace(msg.Text) == "" {
		return Warning("Nothing to send: message text is empty")
	}

	out := BuildOutbound(msg, dest)
	log := d.log.With("service_id", dest.ServiceID, "webhook_host", hostOf(dest.WebhookURL))
	log.Debug("Forwarding webhook", "target", dest.Target, "thread", out.ThreadSubject != "")

	startedAt := time.Now()
	if err := d.Post(ctx, dest.WebhookURL, out, timeout); err != nil {
		log.Debug("Webhook delivery failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return Failure(http.StatusInternalServerError, "Error forwarding webhook to target server: "+relayerr.DetailFromError(err))
	}

	log.Debug("Webhook delivered", "duration_ms", time.Since(startedAt).Milliseconds())
	return Success("Webhook forwarded successfully")
}

// Post sends body as JSON to rawURL with a hard timeout. Cancellation of ctx
// does not abort the request; only the timeout does. Errors carry the
// delivery category.
func (d *Dispatcher) Post(ctx context.Context, rawURL string, body any, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return relayerr.Wrap(relayerr.ErrorDelivery, "encode payload", err)
	}

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, rawURL, bytes.NewReader(encoded))
	if err != nil {
		return relayerr.Wrap(relayerr.ErrorDelivery, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return relayerr.Wrap(relayerr.ErrorDelivery, fmt.Sprintf("request timed out after %s", timeout), err)
		}
		return relayerr.Wrap(relayerr.ErrorDelivery, "request failed: "+transportReason(err), err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, responseDrainLimit))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.log.Debug("Target server rejected webhook", "status", resp.StatusCode, "response", truncate(string(preview), responsePreviewLen))
		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode}
		return relayerr.Wrap(relayerr.ErrorDelivery, statusErr.Error(), statusErr)
	}

	return nil
}

// Mirror posts the original inbound document to dest.MirrorURL. It is best
// effort: failures are logged and never change the relay result.
func (d *Dispatcher) Mirror(ctx context.Context, dest registry.Destination, source []byte, timeout time.Duration) {
	if dest.MirrorURL == "" || len(source) == 0 {
		return
	}

	log := d.log.With("service_id", dest.ServiceID, "mirror_host", hostOf(dest.MirrorURL))
	if err := d.Post(ctx, dest.MirrorURL, json.RawMessage(source), timeout); err != nil {
		log.Error("Error forwarding to mirror webhook", "error", relayerr.DetailFromError(err))
		return
	}

	log.Info("Forwarded to mirror webhook")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// transportReason strips the request URL from client errors; webhook URLs
// usually embed credentials.
func transportReason(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err.Error()
	}
	return err.Error()
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Host
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
