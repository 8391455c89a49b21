// Package export pushes finished case reports to external documentation
// systems. Only the rendered narrative leaves the process; the reasoning
// graph itself is never exported.
package export

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrTimeout marks an export that failed because the remote system did not
// answer in time, so callers can tell a slow endpoint from a rejecting one.
var ErrTimeout = errors.New("export timed out")

// Report is the payload handed to a provider. Body carries the rendered
// case narrative.
type Report struct {
	CaseID    string    `json:"caseId"`
	Workspace string    `json:"workspace"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Receipt identifies the exported document on the remote side.
type Receipt struct {
	Provider  string `json:"provider"`
	Reference string `json:"reference,omitempty"`
}

// Provider defines a report export target.
// Implementations should be concurrency-safe.
type Provider interface {
	// Name returns the provider name (e.g., "webhook", "fhir").
	Name() string
	// Export sends one report and returns a receipt for it.
	Export(ctx context.Context, report Report) (Receipt, error)
}

// NewFromEnv constructs a provider based on environment variables.
// DXGRAPH_EXPORT_PROVIDER: "webhook", "fhir", or empty for disabled.
func NewFromEnv() Provider {
	name := strings.ToLower(strings.TrimSpace(os.Getenv("DXGRAPH_EXPORT_PROVIDER")))
	switch name {
	case "webhook":
		if p := newWebhookFromEnv(); p != nil {
			return p
		}
		return nil
	case "fhir":
		if p := newFHIRFromEnv(); p != nil {
			return p
		}
		return nil
	default:
		return nil
	}
}

func exportTimeoutFromEnv() time.Duration {
	if v := os.Getenv("DXGRAPH_EXPORT_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 15 * time.Second
}

// wrapTransportErr maps deadline and timeout failures onto ErrTimeout and
// passes everything else through.
func wrapTransportErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Join(ErrTimeout, err)
	}
	return err
}
