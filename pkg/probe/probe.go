// Package probe sends a test message to every configured webhook and reports
// which ones accepted it.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"webhookrelay/pkg/dispatch"
	"webhookrelay/pkg/registry"
	"webhookrelay/pkg/relayerr"
)

const maxConcurrentProbes = 4

// Outcome is the result of probing one webhook.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailed  Outcome = "FAILED"
	OutcomeError   Outcome = "ERROR"
	OutcomeSkipped Outcome = "SKIPPED"
)

// Webhook kinds probed for each service.
const (
	WebhookDestination = "Glue"
	WebhookMirror      = "Slack"
)

// Poster delivers a JSON body to a URL.
type Poster interface {
	Post(ctx context.Context, rawURL string, body any, timeout time.Duration) error
}

// Check is the outcome for one webhook of one service.
type Check struct {
	ServiceID string
	Webhook   string
	Outcome   Outcome
	Detail    string
}

// Report collects every check of a probe run, ordered by service id.
type Report struct {
	StartedAt time.Time
	Checks    []Check
}

type mirrorMessage struct {
	Text string `json:"text"`
}

// Run probes the destination and mirror webhook of every service in reg.
// Services with an incomplete destination, and services without a mirror,
// are reported as skipped.
func Run(ctx context.Context, reg *registry.Registry, poster Poster) Report {
	if ctx == nil {
		ctx = context.Background()
	}

	startedAt := time.Now().UTC()
	stamp := startedAt.Format(time.RFC3339)
	timeout := reg.Settings().Timeout

	ids := reg.ServiceIDs()
	checks := make([]Check, 2*len(ids))

	var g errgroup.Group
	g.SetLimit(maxConcurrentProbes)

	for i, id := range ids {
		dest, _ := reg.Lookup(id)

		g.Go(func() error {
			check := Check{ServiceID: id, Webhook: WebhookDestination}
			if err := dest.Validate(); err != nil {
				check.Outcome = OutcomeSkipped
				check.Detail = relayerr.DetailFromError(err)
			} else {
				out := dispatch.Outbound{
					Text:          "Test message from webhook-relay\nTimestamp: " + stamp,
					Target:        dest.Target,
					ThreadSubject: "Test Message - " + stamp,
				}
				check.Outcome, check.Detail = classify(poster.Post(ctx, dest.WebhookURL, out, timeout))
			}
			checks[2*i] = check
			return nil
		})

		g.Go(func() error {
			check := Check{ServiceID: id, Webhook: WebhookMirror}
			if dest.MirrorURL == "" {
				check.Outcome = OutcomeSkipped
				check.Detail = "not configured"
			} else {
				out := mirrorMessage{Text: "Test message from webhook-relay\nTimestamp: " + stamp}
				check.Outcome, check.Detail = classify(poster.Post(ctx, dest.MirrorURL, out, timeout))
			}
			checks[2*i+1] = check
			return nil
		})
	}

	_ = g.Wait()

	return Report{StartedAt: startedAt, Checks: checks}
}

func classify(err error) (Outcome, string) {
	if err == nil {
		return OutcomeSuccess, ""
	}

	var statusErr *dispatch.HTTPStatusError
	if errors.As(err, &statusErr) {
		return OutcomeFailed, fmt.Sprintf("status %d", statusErr.StatusCode)
	}

	return OutcomeError, relayerr.DetailFromError(err)
}

// Counts tallies checks per outcome.
func (r Report) Counts() map[Outcome]int {
	counts := make(map[Outcome]int, 4)
	for _, check := range r.Checks {
		counts[check.Outcome]++
	}
	return counts
}

// Failed reports whether any webhook failed or errored, or none succeeded.
func (r Report) Failed() bool {
	counts := r.Counts()
	return counts[OutcomeFailed] > 0 || counts[OutcomeError] > 0 || counts[OutcomeSuccess] == 0
}
