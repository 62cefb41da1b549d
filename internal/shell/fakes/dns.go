package fakes

import (
	"context"
	"fmt"
	"sync"

	coredns "github.com/artpar/shipyard/internal/core/dns"
	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/dns"
)

// DNS is an in-memory DNS provider keyed by zone ID.
type DNS struct {
	recorder

	mu       sync.Mutex
	records  map[string][]coredns.Record
	settings dns.Settings
	nextID   int
}

// NewDNS creates an empty provider.
func NewDNS() *DNS {
	return &DNS{
		records:  make(map[string][]coredns.Record),
		settings: dns.Settings{TTL: 1, Proxied: true},
	}
}

// Seed adds an existing record to a zone.
func (d *DNS) Seed(zoneID string, record coredns.Record) coredns.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	record.ID = fmt.Sprintf("rec-%d", d.nextID)
	d.records[zoneID] = append(d.records[zoneID], record)
	return record
}

func (d *DNS) Settings() dns.Settings {
	return d.settings
}

func (d *DNS) ListRecords(ctx context.Context, zone domain.Zone, hostname string) ([]coredns.Record, error) {
	if err := d.record("ListRecords", zone.ID, hostname); err != nil {
		return nil, err
	}
	return d.Records(zone.ID, hostname), nil
}

func (d *DNS) DeleteRecord(ctx context.Context, zone domain.Zone, id string) error {
	if err := d.record("DeleteRecord", zone.ID, id); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	records := d.records[zone.ID]
	for i, r := range records {
		if r.ID == id {
			d.records[zone.ID] = append(records[:i:i], records[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("record %s not found", id)
}

func (d *DNS) CreateRecord(ctx context.Context, zone domain.Zone, record coredns.Record) (coredns.Record, error) {
	if err := d.record("CreateRecord", zone.ID, record.Type, record.Name, record.Content); err != nil {
		return coredns.Record{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	record.ID = fmt.Sprintf("rec-%d", d.nextID)
	d.records[zone.ID] = append(d.records[zone.ID], record)
	return record, nil
}

// Records returns the records named hostname in a zone.
func (d *DNS) Records(zoneID, hostname string) []coredns.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return coredns.Conflicting(d.records[zoneID], hostname)
}
