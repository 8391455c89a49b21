package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/cliniscribe/dxgraph/internal/buildinfo"
)

// webhookProvider POSTs the report as JSON to a single configured URL.
type webhookProvider struct {
	url   string
	token string
	http  *http.Client
}

func newWebhookFromEnv() Provider {
	url := strings.TrimSpace(os.Getenv("DXGRAPH_EXPORT_WEBHOOK_URL"))
	if url == "" {
		return nil
	}
	return &webhookProvider{
		url:   url,
		token: strings.TrimSpace(os.Getenv("DXGRAPH_EXPORT_TOKEN")),
		http:  &http.Client{Timeout: exportTimeoutFromEnv()},
	}
}

func (p *webhookProvider) Name() string { return "webhook" }

func (p *webhookProvider) Export(ctx context.Context, report Report) (Receipt, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to encode report: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
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
		var b struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&b)
		if b.Error.Message != "" {
			return Receipt{}, fmt.Errorf("webhook export error: %s", b.Error.Message)
		}
		return Receipt{}, fmt.Errorf("webhook export http status: %s", resp.Status)
	}

	receipt := Receipt{Provider: p.Name()}
	if loc := resp.Header.Get("Location"); loc != "" {
		receipt.Reference = loc
	} else {
		var out struct {
			ID string `json:"id"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		receipt.Reference = out.ID
	}
	return receipt, nil
}
