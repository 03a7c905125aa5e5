package ddns

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/cache"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/cloudprovider"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/cloudprovider/cloudflare"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/config"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/syncer"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/fs"
)

type staticResolver string

func (r staticResolver) Resolve(context.Context) (string, error) {
	return string(r), nil
}

type countingProvider struct {
	records []cloudprovider.Record
	err     error
	lists   int
	updates int
}

func (p *countingProvider) GetProviderName() string { return "counting" }

func (p *countingProvider) ListDNSRecords(context.Context, string) ([]cloudprovider.Record, error) {
	p.lists++
	return p.records, p.err
}

func (p *countingProvider) UpdateDNSRecord(_ context.Context, id string, params cloudprovider.RecordParams) (*cloudprovider.Record, error) {
	p.updates++
	p.records[0].Content = params.Content
	return &cloudprovider.Record{ID: id, Name: params.Name, Type: params.Type, Content: params.Content}, nil
}

// overlapProvider records the largest number of ListDNSRecords calls in
// flight at once.
type overlapProvider struct {
	countingProvider
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (p *overlapProvider) ListDNSRecords(ctx context.Context, zone string) ([]cloudprovider.Record, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return p.countingProvider.ListDNSRecords(ctx, zone)
}

func testApp(t *testing.T, ip string, provider cloudprovider.Provider) *app {
	t.Helper()
	dir := fs.NewDir(t, "ddns")
	s := &syncer.Syncer{
		Target:           config.Target{Name: "home.example.com", Type: "A"},
		TTL:              1,
		CacheExpiryHours: 24,
		Resolver:         staticResolver(ip),
		Store:            cache.NewStore(dir.Join("cache.json"), logr.Discard()),
		Provider:         provider,
		Log:              logr.Discard(),
	}
	return newApp(s, logr.Discard())
}

func TestExecute_MissingConfiguration(t *testing.T) {
	err := Execute(context.Background(), nil, func(string) string { return "" })
	var cfgErr *config.Error
	assert.Assert(t, errors.As(err, &cfgErr))
}

func TestExecute_Help(t *testing.T) {
	err := Execute(context.Background(), []string{"--help"}, func(string) string { return "" })
	assert.NilError(t, err)
}

func TestCreateCloudProvider(t *testing.T) {
	cfg := config.Default()
	cfg.APIToken = "token"
	cfg.ZoneID = "zone"

	provider, err := createCloudProvider(context.Background(), &cfg, http.DefaultClient, logr.Discard())
	assert.NilError(t, err)
	_, ok := provider.(*cloudflare.CloudflareProvider)
	assert.Assert(t, ok)

	cfg.CloudProvider = "bind"
	_, err = createCloudProvider(context.Background(), &cfg, http.DefaultClient, logr.Discard())
	var cfgErr *config.Error
	assert.Assert(t, errors.As(err, &cfgErr))
}

func TestRunOnce_RemembersIP(t *testing.T) {
	provider := &countingProvider{records: []cloudprovider.Record{{ID: "a", Name: "home.example.com", Type: "A", Content: "203.0.113.5"}}}
	a := testApp(t, "198.51.100.9", provider)

	result, err := a.runOnce(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, result.Outcome, syncer.OutcomeUpdated)
	assert.Equal(t, a.currentIP(), "198.51.100.9")
}

func TestServerless(t *testing.T) {
	provider := &countingProvider{records: []cloudprovider.Record{{ID: "a", Name: "home.example.com", Type: "A", Content: "203.0.113.5"}}}
	a := testApp(t, "203.0.113.5", provider)

	rec := httptest.NewRecorder()
	a.StartServerless(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, rec.Body.String(), string(syncer.OutcomeUpToDate))

	rec = httptest.NewRecorder()
	a.StartServerless(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, rec.Body.String(), string(syncer.OutcomeCacheHit))
	assert.Equal(t, provider.lists, 1)
	assert.Equal(t, provider.updates, 0)
}

func TestServerless_Failure(t *testing.T) {
	a := testApp(t, "203.0.113.5", &countingProvider{err: errors.New("boom")})

	rec := httptest.NewRecorder()
	a.StartServerless(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, rec.Code, http.StatusInternalServerError)
}

func TestTrafficRoutes(t *testing.T) {
	a := testApp(t, "192.0.2.7", &countingProvider{})
	health, traffic := a.servers()

	rec := httptest.NewRecorder()
	traffic.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/get", nil))
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, rec.Body.String(), "192.0.2.7")

	rec = httptest.NewRecorder()
	traffic.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync", nil))
	assert.Equal(t, rec.Code, http.StatusAccepted)
	assert.Equal(t, len(a.trigger), 1)

	// a second trigger while one is pending is dropped
	rec = httptest.NewRecorder()
	traffic.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync", nil))
	assert.Equal(t, rec.Code, http.StatusAccepted)
	assert.Equal(t, len(a.trigger), 1)

	for _, path := range []string{"/health/ready", "/health/alive", "/metrics"} {
		rec = httptest.NewRecorder()
		health.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, rec.Code, http.StatusOK, path)
	}
}

func TestServerless_ConcurrentRequestsRunOneAtATime(t *testing.T) {
	provider := &overlapProvider{countingProvider: countingProvider{
		records: []cloudprovider.Record{{ID: "a", Name: "home.example.com", Type: "A", Content: "203.0.113.5"}},
	}}
	a := testApp(t, "203.0.113.5", provider)
	a.syncer.CacheExpiryHours = 0

	const requests = 8
	codes := make([]int, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := httptest.NewRecorder()
			a.StartServerless(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	for _, code := range codes {
		assert.Equal(t, code, http.StatusOK)
	}
	assert.Equal(t, provider.lists, requests)
	assert.Equal(t, provider.peak.Load(), int32(1))
}
