package dns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	coredns "github.com/artpar/shipyard/internal/core/dns"
	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/retry"
)

const cloudflareBaseURL = "https://api.cloudflare.com/client/v4"

// Cloudflare is a minimal Cloudflare API client for DNS record management.
// Records are created proxied with automatic TTL.
type Cloudflare struct {
	apiToken   string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

type cfRecord struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

type cfError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type cfResultInfo struct {
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`
}

type cfResponse struct {
	Success    bool            `json:"success"`
	Errors     []cfError       `json:"errors"`
	Result     json.RawMessage `json:"result"`
	ResultInfo cfResultInfo    `json:"result_info"`
}

// NewCloudflare creates a Cloudflare client. An empty baseURL uses the public API.
func NewCloudflare(apiToken, baseURL string, logger *slog.Logger) *Cloudflare {
	if baseURL == "" {
		baseURL = cloudflareBaseURL
	}
	return &Cloudflare{
		apiToken:   apiToken,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("provider", "cloudflare"),
	}
}

func (c *Cloudflare) Settings() Settings {
	return Settings{TTL: 1, Proxied: true}
}

// ListRecords returns all records named hostname in the zone.
func (c *Cloudflare) ListRecords(ctx context.Context, zone domain.Zone, hostname string) ([]coredns.Record, error) {
	var all []coredns.Record
	page := 1

	for {
		path := fmt.Sprintf("/zones/%s/dns_records?name=%s&per_page=100&page=%d",
			zone.ID, url.QueryEscape(coredns.NormalizeHostname(hostname)), page)
		req, err := c.newRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}

		var resp cfResponse
		if err := c.do(req, &resp); err != nil {
			return nil, fmt.Errorf("list DNS records page %d: %w", page, err)
		}

		var records []cfRecord
		if err := json.Unmarshal(resp.Result, &records); err != nil {
			return nil, fmt.Errorf("parse records: %w", err)
		}
		for _, r := range records {
			all = append(all, coredns.Record(r))
		}

		if page >= resp.ResultInfo.TotalPages {
			break
		}
		page++
	}

	return all, nil
}

// DeleteRecord deletes a DNS record by ID.
func (c *Cloudflare) DeleteRecord(ctx context.Context, zone domain.Zone, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/zones/%s/dns_records/%s", zone.ID, id), nil)
	if err != nil {
		return err
	}

	var resp cfResponse
	if err := c.do(req, &resp); err != nil {
		return fmt.Errorf("delete DNS record %s: %w", id, err)
	}
	return nil
}

// CreateRecord creates a DNS record.
func (c *Cloudflare) CreateRecord(ctx context.Context, zone domain.Zone, record coredns.Record) (coredns.Record, error) {
	record.ID = ""
	body, err := json.Marshal(cfRecord(record))
	if err != nil {
		return coredns.Record{}, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/zones/%s/dns_records", zone.ID), bytes.NewReader(body))
	if err != nil {
		return coredns.Record{}, err
	}

	var resp cfResponse
	if err := c.do(req, &resp); err != nil {
		return coredns.Record{}, fmt.Errorf("create DNS record %s: %w", record.Name, err)
	}

	var created cfRecord
	if err := json.Unmarshal(resp.Result, &created); err != nil {
		return coredns.Record{}, fmt.Errorf("parse record: %w", err)
	}
	c.logger.Debug("dns record created", "zone_id", zone.ID, "name", created.Name, "type", created.Type)
	return coredns.Record(created), nil
}

func (c *Cloudflare) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Cloudflare) do(req *http.Request, out *cfResponse) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return retry.Permanent(fmt.Errorf("%w (status %d)", ErrUnauthorized, resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return retry.FromStatus(resp.StatusCode, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w (status %d)", err, resp.StatusCode)
	}
	if !out.Success {
		return retry.Permanent(fmt.Errorf("API error: %v", out.Errors))
	}
	return nil
}
