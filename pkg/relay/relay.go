// Package relay sequences one inbound webhook through resolution, extraction
// and delivery, and maps every failure to a uniform result.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"webhookrelay/pkg/dispatch"
	"webhookrelay/pkg/payload"
	"webhookrelay/pkg/registry"
	"webhookrelay/pkg/relayerr"
)

// Deliverer sends normalized messages to a destination.
type Deliverer interface {
	Dispatch(ctx context.Context, msg payload.Message, dest registry.Destination, timeout time.Duration) dispatch.Result
	Mirror(ctx context.Context, dest registry.Destination, source []byte, timeout time.Duration)
}

// Relay handles inbound webhooks for every configured service.
type Relay struct {
	store     *registry.Store
	deliverer Deliverer
	log       *slog.Logger
}

// New creates a Relay over the given registry store and deliverer.
func New(store *registry.Store, deliverer Deliverer, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}

	return &Relay{
		store:     store,
		deliverer: deliverer,
		log:       log.With("component", "relay"),
	}
}

// Handle relays one inbound webhook for serviceID. It never returns an
// error: every failure is reported through the result.
func (r *Relay) Handle(ctx context.Context, serviceID string, env payload.Envelope) (result dispatch.Result) {
	if ctx == nil {
		ctx = context.Background()
	}

	startedAt := time.Now()
	log := r.log.With("service_id", serviceID, "encoding", string(env.Encoding))
	if requestID := RequestIDFrom(ctx); requestID != "" {
		log = log.With("request_id", requestID)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			result = dispatch.Failure(http.StatusInternalServerError, "Internal server error")
			log.Error("Relay panicked", "panic", fmt.Sprint(recovered))
		}
		logOutcome(log, result, time.Since(startedAt))
	}()

	reg, err := r.store.ForRequest()
	if err != nil {
		return failureFor(log, err)
	}
	if r.store.Mode() == registry.ReloadEveryRequest {
		log.Debug("Configuration reloaded for request")
	}

	dest, err := reg.Resolve(serviceID)
	if err != nil {
		return failureFor(log, err)
	}

	msg, err := payload.Extract(env)
	if err != nil {
		return failureFor(log, err)
	}
	log.Debug("Extracted message", "text", msg.Text, "thread_subject", msg.ThreadSubject)

	timeout := reg.Settings().Timeout
	result = r.deliverer.Dispatch(ctx, msg, dest, timeout)
	r.deliverer.Mirror(ctx, dest, msg.Source, timeout)

	return result
}

// failureFor maps a categorized error to its user-visible result.
func failureFor(log *slog.Logger, err error) dispatch.Result {
	category := relayerr.CategoryFromError(err)
	detail := relayerr.DetailFromError(err)

	switch category {
	case relayerr.ErrorUnknownService, relayerr.ErrorInvalidService,
		relayerr.ErrorMalformedPayload, relayerr.ErrorEmptyPayload:
		return dispatch.Failure(http.StatusBadRequest, detail)
	case relayerr.ErrorConfigLoad:
		log.Error("Configuration unavailable", "error", err)
		return dispatch.Failure(http.StatusInternalServerError, "Service configuration could not be loaded")
	default:
		log.Error("Unexpected relay failure", "error", err)
		return dispatch.Failure(http.StatusInternalServerError, "Internal server error")
	}
}

// logOutcome logs the final result at a level matching its status.
func logOutcome(log *slog.Logger, result dispatch.Result, elapsed time.Duration) {
	attrs := []any{
		"status", string(result.Status),
		"response_code", result.ResponseCode,
		"duration_ms", elapsed.Milliseconds(),
	}

	switch result.Status {
	case dispatch.StatusSuccess:
		log.Info("Webhook relayed", attrs...)
	case dispatch.StatusWarning:
		log.Warn("Webhook accepted with warning", append(attrs, "reason", result.Message)...)
	default:
		log.Error("Webhook relay failed", append(attrs, "reason", result.Message)...)
	}
}
