// Package dns talks to DNS providers and resolvers.
// This is part of the Imperative Shell - handles I/O with DNS APIs.
package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	coredns "github.com/artpar/shipyard/internal/core/dns"
	"github.com/artpar/shipyard/internal/core/domain"
)

var ErrUnauthorized = errors.New("dns credentials rejected")

// Settings are the record options a provider creates records with.
type Settings struct {
	TTL     int
	Proxied bool
}

// Provider manages records within a zone.
type Provider interface {
	// ListRecords returns every record named hostname in zone.
	ListRecords(ctx context.Context, zone domain.Zone, hostname string) ([]coredns.Record, error)

	DeleteRecord(ctx context.Context, zone domain.Zone, id string) error

	// CreateRecord creates record and returns it with its provider ID.
	CreateRecord(ctx context.Context, zone domain.Zone, record coredns.Record) (coredns.Record, error)

	Settings() Settings
}

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	Type    string
	Token   string
	BaseURL string
}

// NewProvider creates a DNS provider client. An empty type selects Cloudflare.
func NewProvider(cfg ProviderConfig, logger *slog.Logger) (Provider, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: token is empty", ErrUnauthorized)
	}

	switch strings.ToLower(cfg.Type) {
	case "", "cloudflare":
		return NewCloudflare(cfg.Token, cfg.BaseURL, logger), nil

	case "digitalocean":
		return NewDigitalOcean(cfg.Token, cfg.BaseURL, logger)

	default:
		return nil, fmt.Errorf("unsupported dns provider: %s", cfg.Type)
	}
}
