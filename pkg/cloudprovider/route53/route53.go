package route53

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/smithy-go"
	"github.com/go-logr/logr"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/cloudprovider"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/metrics"
)

const (
	providerName = "route53"

	// automaticTTL is used when the caller asks for the provider default,
	// which Route53 does not have.
	automaticTTL = 300
)

// API is the subset of the Route53 client used here.
type API interface {
	ListResourceRecordSets(ctx context.Context, params *route53.ListResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error)
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
}

type Route53Provider struct {
	api    API
	zoneID string
	log    logr.Logger
}

// NewRoute53Provider builds a provider using the default AWS credential chain.
func NewRoute53Provider(ctx context.Context, hostedZoneID string, log logr.Logger) (*Route53Provider, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("route53: loading aws config: %w", err)
	}
	return NewWithAPI(route53.NewFromConfig(cfg), hostedZoneID, log)
}

func NewWithAPI(api API, hostedZoneID string, log logr.Logger) (*Route53Provider, error) {
	if hostedZoneID == "" {
		return nil, errors.New("route53: missing hosted zone id")
	}
	return &Route53Provider{api: api, zoneID: hostedZoneID, log: log}, nil
}

func (p *Route53Provider) GetProviderName() string {
	return providerName
}

func (p *Route53Provider) ListDNSRecords(ctx context.Context, name string) ([]cloudprovider.Record, error) {
	input := &route53.ListResourceRecordSetsInput{
		HostedZoneId:    aws.String(p.zoneID),
		StartRecordName: aws.String(name),
	}

	var records []cloudprovider.Record
	for {
		metrics.IncrementCloudProvider(providerName, "list")
		out, err := p.api.ListResourceRecordSets(ctx, input)
		if err != nil {
			return nil, wrapError("list", err)
		}

		// sets are returned in name order starting at name, so the first
		// foreign name ends the scan
		done := false
		for _, set := range out.ResourceRecordSets {
			if !sameName(aws.ToString(set.Name), name) {
				done = true
				break
			}
			if record, ok := toRecord(set); ok {
				records = append(records, record)
			}
		}
		if done || !out.IsTruncated {
			break
		}
		input.StartRecordName = out.NextRecordName
		input.StartRecordType = out.NextRecordType
		input.StartRecordIdentifier = out.NextRecordIdentifier
	}

	p.log.V(1).Info("listed dns records", "name", name, "count", len(records))
	return records, nil
}

func (p *Route53Provider) UpdateDNSRecord(ctx context.Context, id string, params cloudprovider.RecordParams) (*cloudprovider.Record, error) {
	if want := recordID(params.Name, params.Type); !strings.EqualFold(id, want) {
		return nil, &cloudprovider.ProviderError{Op: "update", Msg: fmt.Sprintf("record id %q does not address %q", id, want)}
	}

	ttl := params.TTL
	if ttl <= 1 {
		ttl = automaticTTL
	}

	metrics.IncrementCloudProvider(providerName, "update")
	_, err := p.api.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(p.zoneID),
		ChangeBatch: &types.ChangeBatch{
			Comment: aws.String("ddns update"),
			Changes: []types.Change{{
				Action: types.ChangeActionUpsert,
				ResourceRecordSet: &types.ResourceRecordSet{
					Name:            aws.String(params.Name),
					Type:            types.RRType(params.Type),
					TTL:             aws.Int64(int64(ttl)),
					ResourceRecords: []types.ResourceRecord{{Value: aws.String(params.Content)}},
				},
			}},
		},
	})
	if err != nil {
		return nil, wrapError("update", err)
	}

	p.log.Info("record updated successfully", "name", params.Name, "content", params.Content)
	return &cloudprovider.Record{
		ID:      id,
		Type:    params.Type,
		Name:    params.Name,
		Content: params.Content,
		TTL:     ttl,
	}, nil
}

func toRecord(set types.ResourceRecordSet) (cloudprovider.Record, bool) {
	// alias records carry no values and cannot hold an address we manage
	if len(set.ResourceRecords) == 0 {
		return cloudprovider.Record{}, false
	}
	name := strings.TrimSuffix(aws.ToString(set.Name), ".")
	return cloudprovider.Record{
		ID:      recordID(name, string(set.Type)),
		Type:    string(set.Type),
		Name:    name,
		Content: aws.ToString(set.ResourceRecords[0].Value),
		TTL:     int(aws.ToInt64(set.TTL)),
	}, true
}

func recordID(name, recordType string) string {
	return strings.TrimSuffix(name, ".") + "|" + recordType
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(a, "."), strings.TrimSuffix(b, "."))
}

func wrapError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &cloudprovider.ProviderError{
			Op:  op,
			Msg: fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage()),
		}
	}
	return fmt.Errorf("route53 %s: %w", op, err)
}
