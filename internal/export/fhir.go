package export

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cliniscribe/dxgraph/internal/buildinfo"
)

// fhirProvider creates a DocumentReference resource on a FHIR server, with
// the report narrative carried as a plain-text attachment.
type fhirProvider struct {
	baseURL string
	token   string
	http    *http.Client
}

func newFHIRFromEnv() Provider {
	base := strings.TrimRight(strings.TrimSpace(os.Getenv("DXGRAPH_FHIR_BASE_URL")), "/")
	if base == "" {
		return nil
	}
	return &fhirProvider{
		baseURL: base,
		token:   strings.TrimSpace(os.Getenv("DXGRAPH_FHIR_TOKEN")),
		http:    &http.Client{Timeout: exportTimeoutFromEnv()},
	}
}

func (p *fhirProvider) Name() string { return "fhir" }

func (p *fhirProvider) Export(ctx context.Context, report Report) (Receipt, error) {
	date := report.CreatedAt.UTC().Format(time.RFC3339)
	resource := map[string]interface{}{
		"resourceType": "DocumentReference",
		"status":       "current",
		"description":  report.Title,
		"date":         date,
		"identifier": []map[string]interface{}{
			{"system": "urn:dxgraph:case", "value": report.CaseID},
		},
		"content": []map[string]interface{}{
			{
				"attachment": map[string]interface{}{
					"contentType": "text/plain",
					"data":        base64.StdEncoding.EncodeToString([]byte(report.Body)),
					"title":       report.Title,
					"creation":    date,
				},
			},
		},
	}
	body, err := json.Marshal(resource)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to encode DocumentReference: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/DocumentReference", bytes.NewReader(body))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/fhir+json")
	req.Header.Set("Accept", "application/fhir+json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return Receipt{}, wrapTransportErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Servers answer failures with an OperationOutcome resource.
		var outcome struct {
			Issue []struct {
				Diagnostics string `json:"diagnostics"`
			} `json:"issue"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&outcome)
		if len(outcome.Issue) > 0 && outcome.Issue[0].Diagnostics != "" {
			return Receipt{}, fmt.Errorf("fhir export error: %s", outcome.Issue[0].Diagnostics)
		}
		return Receipt{}, fmt.Errorf("fhir export http status: %s", resp.Status)
	}

	receipt := Receipt{Provider: p.Name()}
	var out struct {
		ID string `json:"id"`
	}
	if derr := json.NewDecoder(resp.Body).Decode(&out); derr == nil && out.ID != "" {
		receipt.Reference = "DocumentReference/" + out.ID
	} else if loc := resp.Header.Get("Location"); loc != "" {
		receipt.Reference = loc
	}
	return receipt, nil
}
