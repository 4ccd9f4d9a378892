// Package registry maps service identifiers to delivery destinations.
//
// A Registry is an immutable snapshot built from one configuration document.
// Store holds the current snapshot and replaces it wholesale on reload, so
// concurrent readers never observe a partially updated registry.
package registry

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"webhookrelay/pkg/config"
	"webhookrelay/pkg/relayerr"
)

// Destination is where messages for one service are delivered.
type Destination struct {
	ServiceID   string
	Target      string
	WebhookURL  string
	Description string
	// MirrorURL optionally receives a best-effort copy of the inbound payload.
	MirrorURL string
}

// Settings are the global delivery settings of a snapshot.
type Settings struct {
	Timeout time.Duration
	// RetryAttempts is carried from configuration but not enforced: each
	// message is delivered at most once.
	RetryAttempts int
	LogLevel      string
}

// Registry is an immutable set of destinations keyed by service id.
type Registry struct {
	services map[string]Destination
	settings Settings
}

// New builds a snapshot from a parsed configuration document. Entries are
// copied; later changes to cfg do not affect the registry.
func New(cfg *config.Config) *Registry {
	if cfg == nil {
		defaults := config.Default()
		cfg = &defaults
	}

	services := make(map[string]Destination, len(cfg.Services))
	for id, svc := range cfg.Services {
		services[id] = Destination{
			ServiceID:   id,
			Target:      strings.TrimSpace(svc.Target),
			WebhookURL:  strings.TrimSpace(svc.WebhookURL),
			Description: svc.Description,
			MirrorURL:   strings.TrimSpace(svc.SlackWebhook),
		}
	}

	timeoutSeconds := cfg.Global.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = config.DefaultTimeoutSeconds
	}

	return &Registry{
		services: services,
		settings: Settings{
			Timeout:       time.Duration(timeoutSeconds) * time.Second,
			RetryAttempts: cfg.Global.RetryAttempts,
			LogLevel:      cfg.Global.LogLevel,
		},
	}
}

// Resolve returns the destination for serviceID. Lookup is exact and
// case-sensitive. Entries missing a target or a usable webhook_url fail
// with invalid_service rather than resolving.
func (r *Registry) Resolve(serviceID string) (Destination, error) {
	if r == nil {
		return Destination{}, relayerr.New(relayerr.ErrorConfigLoad, "no configuration loaded")
	}

	dest, ok := r.services[serviceID]
	if !ok {
		return Destination{}, relayerr.New(relayerr.ErrorUnknownService, "unknown service: "+serviceID)
	}

	if err := dest.Validate(); err != nil {
		return Destination{}, err
	}

	return dest, nil
}

// Validate checks that the destination can be delivered to.
func (d Destination) Validate() error {
	if d.Target == "" || d.WebhookURL == "" {
		return relayerr.New(relayerr.ErrorInvalidService, "incomplete service configuration (missing target or webhook_url)")
	}

	if !isHTTPURL(d.WebhookURL) {
		return relayerr.New(relayerr.ErrorInvalidService, "service webhook_url is not an absolute http(s) URL")
	}

	return nil
}

// Settings returns the global delivery settings.
func (r *Registry) Settings() Settings {
	if r == nil {
		return Settings{Timeout: time.Duration(config.DefaultTimeoutSeconds) * time.Second}
	}
	return r.settings
}

// ServiceIDs returns all configured service ids in sorted order.
func (r *Registry) ServiceIDs() []string {
	if r == nil {
		return nil
	}

	ids := make([]string, 0, len(r.services))
	for id := range r.services {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// Lookup returns the raw entry for serviceID without validating it.
func (r *Registry) Lookup(serviceID string) (Destination, bool) {
	if r == nil {
		return Destination{}, false
	}
	dest, ok := r.services[serviceID]
	return dest, ok
}

// Len returns the number of configured services.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.services)
}

func isHTTPURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}

	scheme := strings.ToLower(parsed.Scheme)
	return (scheme == "http" || scheme == "https") && parsed.Host != ""
}
