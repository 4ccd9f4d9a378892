package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"webhookrelay/pkg/config"
	"webhookrelay/pkg/dispatch"
	"webhookrelay/pkg/payload"
	"webhookrelay/pkg/relay"
	"webhookrelay/pkg/relayerr"
)

const (
	serviceName = "webhook-relay"

	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 1 << 20

	shutdownTimeout = 5 * time.Second
)

// Relayer handles one inbound webhook for a service.
type Relayer interface {
	Handle(ctx context.Context, serviceID string, env payload.Envelope) dispatch.Result
}

// Service is the inbound HTTP listener.
type Service struct {
	cfg     config.ServerConfig
	relayer Relayer
	log     *slog.Logger
	handler http.Handler
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func NewService(cfg config.ServerConfig, relayer Relayer, log *slog.Logger) (*Service, error) {
	if relayer == nil {
		return nil, errors.New("relayer is required")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		cfg:     cfg,
		relayer: relayer,
		log:     log.With("component", "gateway.service"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /services/{serviceID}", s.handleWebhook)
	mux.HandleFunc("/services/{serviceID}", s.handleMethodNotAllowed)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("/", s.handleNotFound)
	s.handler = s.recoverPanics(mux)

	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Service) Addr() string {
	host := strings.TrimSpace(s.cfg.Host)
	if host == "" {
		host = config.DefaultHost
	}

	port := s.cfg.Port
	if port <= 0 {
		port = config.DefaultPort
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Run listens on the configured address until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr(), err)
	}

	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is canceled, then shuts
// down gracefully.
func (s *Service) Serve(ctx context.Context, listener net.Listener) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("Listener shutdown incomplete", "error", err)
		}
	}()

	s.log.Info("Webhook relay listening", "address", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve webhooks: %w", err)
	}

	<-shutdownDone
	s.log.Info("Webhook relay stopped")
	return nil
}

func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, requestID)

	serviceID := r.PathValue("serviceID")
	log := s.log.With("service_id", serviceID, "request_id", requestID)

	encoding, err := payload.ParseEncoding(r.Header.Get("Content-Type"))
	if err != nil {
		reject(w, log, relayerr.DetailFromError(err))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		message := "could not read request body"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			message = fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)
		}
		reject(w, log, message)
		return
	}

	ctx := relay.WithRequestID(r.Context(), requestID)
	result := s.relayer.Handle(ctx, serviceID, payload.Envelope{Encoding: encoding, Body: body})
	writeResult(w, log, result)
}

func (s *Service) handleMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", http.MethodPost)
	writeJSON(w, s.log, http.StatusMethodNotAllowed, errorResponse{Status: "error", Message: "Method not allowed"})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.log, http.StatusOK, healthResponse{Status: "healthy", Service: serviceName})
}

func (s *Service) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.log, http.StatusNotFound, errorResponse{Status: "error", Message: "Endpoint not found"})
}

func (s *Service) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}
				s.log.Error("Request handler panicked", "path", r.URL.Path, "panic", fmt.Sprint(recovered))
				writeResult(w, s.log, dispatch.Failure(http.StatusInternalServerError, "Internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// reject answers a request that never reached the relay. It logs like any
// other failed relay outcome.
func reject(w http.ResponseWriter, log *slog.Logger, message string) {
	result := dispatch.Failure(http.StatusBadRequest, message)
	log.Error("Webhook relay failed",
		"status", string(result.Status),
		"response_code", result.ResponseCode,
		"reason", message,
	)
	writeResult(w, log, result)
}

func writeResult(w http.ResponseWriter, log *slog.Logger, result dispatch.Result) {
	statusCode := result.ResponseCode
	if statusCode < 100 || statusCode > 599 {
		statusCode = http.StatusInternalServerError
	}
	writeJSON(w, log, statusCode, result)
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("Failed to write response", "error", err)
	}
}
