package cloudprovider

import "context"

type Record struct {
	ID      string
	Type    string
	Name    string
	Content string
	TTL     int
	Proxied bool
}

// RecordParams is the replacement content sent when updating a record.
type RecordParams struct {
	Type    string
	Name    string
	Content string
	TTL     int
}

type Provider interface {
	// ListDNSRecords returns every record named name in the configured zone,
	// in the order the provider reports them.
	ListDNSRecords(ctx context.Context, name string) ([]Record, error)
	UpdateDNSRecord(ctx context.Context, id string, params RecordParams) (*Record, error)
	GetProviderName() string
}
