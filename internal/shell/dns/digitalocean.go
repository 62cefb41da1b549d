package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/digitalocean/godo"

	coredns "github.com/artpar/shipyard/internal/core/dns"
	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/retry"
)

// DigitalOcean manages records through the DigitalOcean domains API.
// Zones are addressed by domain name; record names are relative to it.
type DigitalOcean struct {
	client *godo.Client
	logger *slog.Logger
}

// NewDigitalOcean creates a DigitalOcean DNS provider.
func NewDigitalOcean(apiToken, baseURL string, logger *slog.Logger) (*DigitalOcean, error) {
	client := godo.NewFromToken(apiToken)
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DigitalOcean base URL: %w", err)
		}
		client.BaseURL = u
	}
	return &DigitalOcean{
		client: client,
		logger: logger.With("provider", "digitalocean"),
	}, nil
}

func (p *DigitalOcean) Settings() Settings {
	return Settings{TTL: 300}
}

// ListRecords returns the records named hostname in the zone.
func (p *DigitalOcean) ListRecords(ctx context.Context, zone domain.Zone, hostname string) ([]coredns.Record, error) {
	want := coredns.RelativeName(hostname, zone.Domain)
	opt := &godo.ListOptions{PerPage: 200}

	var out []coredns.Record
	for {
		records, resp, err := p.client.Domains.Records(ctx, zone.Domain, opt)
		if err != nil {
			return nil, fmt.Errorf("list records for %s: %w", zone.Domain, classify(err))
		}
		for _, r := range records {
			if r.Name != want {
				continue
			}
			out = append(out, p.toRecord(zone, r))
		}

		if resp == nil || resp.Links == nil || resp.Links.IsLastPage() {
			break
		}
		page, err := resp.Links.CurrentPage()
		if err != nil {
			return nil, fmt.Errorf("list records for %s: %w", zone.Domain, err)
		}
		opt.Page = page + 1
	}
	return out, nil
}

// DeleteRecord deletes a record by ID.
func (p *DigitalOcean) DeleteRecord(ctx context.Context, zone domain.Zone, id string) error {
	recordID, err := strconv.Atoi(id)
	if err != nil {
		return retry.Permanent(fmt.Errorf("invalid record id %q: %w", id, err))
	}
	if _, err := p.client.Domains.DeleteRecord(ctx, zone.Domain, recordID); err != nil {
		return fmt.Errorf("delete record %s: %w", id, classify(err))
	}
	return nil
}

// CreateRecord creates a record. CNAME targets are sent fully qualified.
func (p *DigitalOcean) CreateRecord(ctx context.Context, zone domain.Zone, record coredns.Record) (coredns.Record, error) {
	data := record.Content
	if record.Type == coredns.TypeCNAME {
		data += "."
	}

	created, _, err := p.client.Domains.CreateRecord(ctx, zone.Domain, &godo.DomainRecordEditRequest{
		Type: record.Type,
		Name: coredns.RelativeName(record.Name, zone.Domain),
		Data: data,
		TTL:  record.TTL,
	})
	if err != nil {
		return coredns.Record{}, fmt.Errorf("create record %s: %w", record.Name, classify(err))
	}

	p.logger.Debug("dns record created", "domain", zone.Domain, "name", created.Name, "type", created.Type)
	return p.toRecord(zone, *created), nil
}

func (p *DigitalOcean) toRecord(zone domain.Zone, r godo.DomainRecord) coredns.Record {
	name := zone.Domain
	if r.Name != "@" {
		name = r.Name + "." + zone.Domain
	}
	return coredns.Record{
		ID:      strconv.Itoa(r.ID),
		Type:    r.Type,
		Name:    coredns.NormalizeHostname(name),
		Content: coredns.NormalizeHostname(r.Data),
		TTL:     r.TTL,
	}
}

func classify(err error) error {
	var apiErr *godo.ErrorResponse
	if !errors.As(err, &apiErr) || apiErr.Response == nil {
		return err
	}
	status := apiErr.Response.StatusCode
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return retry.Permanent(fmt.Errorf("%w: %v", ErrUnauthorized, err))
	}
	return retry.FromStatus(status, err)
}
