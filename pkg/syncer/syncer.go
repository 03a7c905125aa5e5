package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/cache"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/cloudprovider"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/config"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/metrics"
)

// Outcome is the terminal state a successful run ended in.
type Outcome string

const (
	// OutcomeCacheHit means the cache vouched for the current address and
	// the provider was not contacted.
	OutcomeCacheHit Outcome = "cache_hit"
	// OutcomeUpToDate means the provider already held the current address.
	OutcomeUpToDate Outcome = "up_to_date"
	// OutcomeUpdated means the record was rewritten with the current address.
	OutcomeUpdated Outcome = "updated"
)

type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

type Store interface {
	Load() *cache.Snapshot
	Save(snapshot *cache.Snapshot) error
}

// Result describes a successful run.
type Result struct {
	Outcome Outcome
	IP      string
	// Record is the remote record as last seen; nil on a cache hit.
	Record *cloudprovider.Record
}

// Syncer decides, from the cached snapshot and the current public
// address, whether the provider has to be queried or updated.
type Syncer struct {
	Target           config.Target
	TTL              int
	CacheExpiryHours float64

	Resolver Resolver
	Store    Store
	Provider cloudprovider.Provider
	Log      logr.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func New(cfg *config.Config, resolver Resolver, store Store, provider cloudprovider.Provider, log logr.Logger) *Syncer {
	return &Syncer{
		Target:           cfg.Target,
		TTL:              cfg.TTL,
		CacheExpiryHours: cfg.CacheExpiryHours,
		Resolver:         resolver,
		Store:            store,
		Provider:         provider,
		Log:              log,
	}
}

func (s *Syncer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run performs one sync. Any returned error is fatal for the run; cache
// write failures are only logged.
func (s *Syncer) Run(ctx context.Context) (Result, error) {
	currentIP, err := s.Resolver.Resolve(ctx)
	if err != nil {
		return Result{}, err
	}
	s.Log.Info("current public ip", "ip", currentIP)

	now := s.now()
	snapshot := s.Store.Load()
	if snapshot != nil {
		switch {
		case !snapshot.MatchesConfig(s.Target.Name, s.Target.Type):
			s.Log.Info("cache config mismatch, checking provider",
				"cachedName", snapshot.RecordName, "cachedType", snapshot.RecordType)
		case snapshot.IsExpired(now, s.CacheExpiryHours):
			s.Log.Info("cache expired, checking provider", "expiryHours", s.CacheExpiryHours, "lastChecked", snapshot.LastChecked)
		case snapshot.IPAddress == currentIP:
			s.Log.Info("cache hit, ip unchanged, skipping provider call", "ip", currentIP, "lastChecked", snapshot.LastChecked)
			return s.finish(Result{Outcome: OutcomeCacheHit, IP: currentIP}), nil
		default:
			s.Log.Info("cache hit but ip changed", "cachedIP", snapshot.IPAddress, "ip", currentIP)
		}
	}

	remote, err := s.findRecord(ctx)
	if err != nil {
		return Result{}, err
	}
	s.Log.Info("found dns record", "name", remote.Name, "content", remote.Content, "ttl", remote.TTL)

	if snapshot != nil && snapshot.MatchesConfig(s.Target.Name, s.Target.Type) {
		snapshot.Touch(now)
	} else {
		snapshot = cache.New(s.Target.Name, s.Target.Type, remote.Content, now)
	}

	if remote.Content == currentIP {
		s.Log.Info("dns record is already up to date", "ip", currentIP)
		if snapshot.IPAddress != currentIP {
			snapshot.SetIP(currentIP, now)
		}
		s.save(snapshot)
		return s.finish(Result{Outcome: OutcomeUpToDate, IP: currentIP, Record: remote}), nil
	}

	s.Log.Info("updating dns record", "from", remote.Content, "to", currentIP)
	updated, err := s.Provider.UpdateDNSRecord(ctx, remote.ID, cloudprovider.RecordParams{
		Type:    s.Target.Type,
		Name:    s.Target.Name,
		Content: currentIP,
		TTL:     s.TTL,
	})
	if err != nil {
		return Result{}, fmt.Errorf("unable to update record %s: %w", s.Target.Name, err)
	}
	s.Log.Info("successfully updated dns record", "name", s.Target.Name, "type", s.Target.Type, "ip", currentIP, "ttl", s.TTL)

	snapshot.SetIP(currentIP, now)
	s.save(snapshot)
	return s.finish(Result{Outcome: OutcomeUpdated, IP: currentIP, Record: updated}), nil
}

// findRecord returns the first listed record of the target type.
func (s *Syncer) findRecord(ctx context.Context) (*cloudprovider.Record, error) {
	s.Log.V(1).Info("fetching dns records", "provider", s.Provider.GetProviderName(), "name", s.Target.Name)
	records, err := s.Provider.ListDNSRecords(ctx, s.Target.Name)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve record %s: %w", s.Target.Name, err)
	}
	if len(records) == 0 {
		return nil, &cloudprovider.ProviderError{Msg: fmt.Sprintf("no DNS record found with name '%s'", s.Target.Name)}
	}
	for i := range records {
		if records[i].Type == s.Target.Type {
			return &records[i], nil
		}
	}
	return nil, &cloudprovider.ProviderError{Msg: fmt.Sprintf("no %s record found with name '%s'", s.Target.Type, s.Target.Name)}
}

func (s *Syncer) save(snapshot *cache.Snapshot) {
	if err := s.Store.Save(snapshot); err != nil {
		s.Log.Error(err, "failed to save cache")
	}
}

func (s *Syncer) finish(result Result) Result {
	metrics.IncrementOutcome(string(result.Outcome))
	return result
}
