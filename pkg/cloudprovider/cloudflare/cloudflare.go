package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-logr/logr"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/cloudprovider"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/metrics"
)

const (
	providerName = "cloudflare"

	DefaultBaseURL = "https://api.cloudflare.com/client/v4"
)

type CloudflareProvider struct {
	config Configuration
	client *http.Client
	log    logr.Logger
}

type Configuration struct {
	CloudflareToken string
	ZoneID          string
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

// Response is the envelope wrapping every Cloudflare v4 API reply.
type Response[T any] struct {
	Success  bool                     `json:"success"`
	Errors   []cloudprovider.APIError `json:"errors"`
	Messages []json.RawMessage        `json:"messages"`
	Result   *T                       `json:"result"`
}

type dnsRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Type    string `json:"type"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

type updateDNSRecord struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
}

func NewCloudflareProvider(config Configuration, log logr.Logger) (*CloudflareProvider, error) {
	if config.CloudflareToken == "" {
		return nil, errors.New("cloudflare: missing api token")
	}
	if config.ZoneID == "" {
		return nil, errors.New("cloudflare: missing zone id")
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	client := config.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &CloudflareProvider{config: config, client: client, log: log}, nil
}

func (c *CloudflareProvider) GetProviderName() string {
	return providerName
}

func (c *CloudflareProvider) ListDNSRecords(ctx context.Context, name string) ([]cloudprovider.Record, error) {
	query := url.Values{}
	query.Set("name", name)
	endpoint := fmt.Sprintf("%s/zones/%s/dns_records?%s", c.config.BaseURL, url.PathEscape(c.config.ZoneID), query.Encode())

	result, err := do[[]dnsRecord](ctx, c, "list", http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	records := make([]cloudprovider.Record, 0, len(*result))
	for _, r := range *result {
		records = append(records, r.toRecord())
	}
	c.log.V(1).Info("listed dns records", "name", name, "count", len(records))
	return records, nil
}

func (c *CloudflareProvider) UpdateDNSRecord(ctx context.Context, id string, params cloudprovider.RecordParams) (*cloudprovider.Record, error) {
	endpoint := fmt.Sprintf("%s/zones/%s/dns_records/%s", c.config.BaseURL, url.PathEscape(c.config.ZoneID), url.PathEscape(id))
	payload := updateDNSRecord{
		Type:    params.Type,
		Name:    params.Name,
		Content: params.Content,
		TTL:     params.TTL,
	}

	result, err := do[dnsRecord](ctx, c, "update", http.MethodPut, endpoint, payload)
	if err != nil {
		return nil, err
	}

	record := result.toRecord()
	c.log.Info("record updated successfully", "name", record.Name, "content", record.Content)
	return &record, nil
}

// do performs one authenticated round trip and unwraps the response
// envelope. Nothing is retried.
func do[T any](ctx context.Context, c *CloudflareProvider, op, method, endpoint string, body any) (*T, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("cloudflare %s: marshal request body: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("cloudflare %s: build request: %w", op, err)
	}
	c.setHeaders(req)

	metrics.IncrementCloudProvider(providerName, op)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudflare %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cloudflare %s: reading response: %w", op, err)
	}

	var envelope Response[T]
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &cloudprovider.ProviderError{
			Op:  op,
			Msg: fmt.Sprintf("undecodable response (%s): %v", resp.Status, err),
		}
	}
	if !envelope.Success {
		msg := "request failed"
		if len(envelope.Errors) == 0 {
			msg = fmt.Sprintf("request failed (%s)", resp.Status)
		}
		return nil, &cloudprovider.ProviderError{Op: op, Errors: envelope.Errors, Msg: msg}
	}
	if messages := renderMessages(envelope.Messages); len(messages) > 0 {
		c.log.Info("cloudflare messages", "operation", op, "messages", messages)
	}
	if envelope.Result == nil {
		return nil, &cloudprovider.ProviderError{Op: op, Msg: "no result in response"}
	}
	return envelope.Result, nil
}

// renderMessages accepts both plain strings and {code, message} objects.
func renderMessages(raw []json.RawMessage) []string {
	out := make([]string, 0, len(raw))
	for _, m := range raw {
		var s string
		if err := json.Unmarshal(m, &s); err == nil {
			out = append(out, s)
			continue
		}
		var apiMsg cloudprovider.APIError
		if err := json.Unmarshal(m, &apiMsg); err == nil && apiMsg.Message != "" {
			out = append(out, apiMsg.String())
			continue
		}
		out = append(out, string(m))
	}
	return out
}

func (c *CloudflareProvider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.config.CloudflareToken)
	req.Header.Set("Content-Type", "application/json")
}

func (r dnsRecord) toRecord() cloudprovider.Record {
	return cloudprovider.Record{
		ID:      r.ID,
		Type:    r.Type,
		Name:    r.Name,
		Content: r.Content,
		TTL:     r.TTL,
		Proxied: r.Proxied,
	}
}
