package ddns

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/cache"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/cloudprovider"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/cloudprovider/cloudflare"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/cloudprovider/route53"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/config"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/ipprovider"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/metrics"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/syncer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	healthAddr  = ":8080"
	trafficAddr = ":9000"
)

type app struct {
	syncer  *syncer.Syncer
	log     logr.Logger
	trigger chan struct{}

	// runMu serializes syncs; concurrent runs would race on the record
	// and the cache file.
	runMu sync.Mutex

	mu     sync.Mutex
	lastIP string
}

type HealthHandler struct{}
type SyncHandler struct{ app *app }
type ExternalHandler struct{ app *app }

func (handle *HealthHandler) alive(w http.ResponseWriter, r *http.Request) {
	metrics.IncrementReqs(r)
	w.WriteHeader(http.StatusOK)
}

func (handle *HealthHandler) ready(w http.ResponseWriter, r *http.Request) {
	metrics.IncrementReqs(r)
	w.WriteHeader(http.StatusOK)
}

// do queues a sync on the daemon loop without waiting for it.
func (handle *SyncHandler) do(w http.ResponseWriter, r *http.Request) {
	metrics.IncrementReqs(r)
	select {
	case handle.app.trigger <- struct{}{}:
	default:
	}
	w.WriteHeader(http.StatusAccepted)
}

func (handle *ExternalHandler) get(w http.ResponseWriter, r *http.Request) {
	metrics.IncrementReqs(r)
	ip := handle.app.currentIP()
	if ip == "" {
		resolved, err := handle.app.syncer.Resolver.Resolve(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		ip = resolved
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(ip))
}

// Execute is the process entry point. It returns nil on any terminal sync
// outcome and the fatal error otherwise.
func Execute(ctx context.Context, args []string, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg, err := config.Load(args, getenv)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	log, flush, err := newLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("unable to create logger: %w", err)
	}
	defer flush()

	client := &http.Client{Timeout: cfg.HTTPTimeout}
	provider, err := createCloudProvider(ctx, cfg, client, log)
	if err != nil {
		return err
	}
	resolver := ipprovider.NewResolver(client, log.WithName("ipprovider"), metrics.IncrementProvider)
	store := cache.NewStore(cfg.CacheFile, log.WithName("cache"))
	log.V(1).Info("configured", "provider", provider.GetProviderName(), "record", cfg.Target.Name, "type", cfg.Target.Type, "cache", store.Path())

	a := newApp(syncer.New(cfg, resolver, store, provider, log.WithName("syncer")), log)

	switch {
	case getenv("MODE") == "serverless":
		log.Info("running in serverless mode")
		return a.serveServerless(ctx)
	case cfg.Interval > 0:
		return a.daemon(ctx, cfg.Interval)
	default:
		_, err := a.runOnce(ctx)
		return err
	}
}

func newApp(s *syncer.Syncer, log logr.Logger) *app {
	return &app{syncer: s, log: log, trigger: make(chan struct{}, 1)}
}

func newLogger(verbose bool) (logr.Logger, func(), error) {
	zc := zap.NewProductionConfig()
	if verbose {
		zc = zap.NewDevelopmentConfig()
	}
	zapLog, err := zc.Build()
	if err != nil {
		return logr.Discard(), func() {}, err
	}
	return zapr.NewLogger(zapLog), func() { _ = zapLog.Sync() }, nil
}

func createCloudProvider(ctx context.Context, cfg *config.Config, client *http.Client, log logr.Logger) (cloudprovider.Provider, error) {
	switch cfg.CloudProvider {
	case config.ProviderRoute53:
		provider, err := route53.NewRoute53Provider(ctx, cfg.ZoneID, log.WithName("route53"))
		if err != nil {
			return nil, err
		}
		return provider, nil
	case config.ProviderCloudflare:
		provider, err := cloudflare.NewCloudflareProvider(cloudflare.Configuration{
			CloudflareToken: cfg.APIToken,
			ZoneID:          cfg.ZoneID,
			Client:          client,
		}, log.WithName("cloudflare"))
		if err != nil {
			return nil, err
		}
		return provider, nil
	default:
		return nil, &config.Error{Problems: []string{fmt.Sprintf("unsupported cloud provider %q", cfg.CloudProvider)}}
	}
}

func (a *app) runOnce(ctx context.Context) (syncer.Result, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	result, err := a.syncer.Run(ctx)
	if err != nil {
		return result, err
	}
	a.mu.Lock()
	a.lastIP = result.IP
	a.mu.Unlock()
	a.log.Info("sync finished", "outcome", string(result.Outcome), "ip", result.IP)
	return result, nil
}

func (a *app) currentIP() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastIP
}

// daemon syncs immediately and then on every tick or trigger until a
// termination signal arrives. Failed runs are logged and retried on the
// next tick.
func (a *app) daemon(ctx context.Context, interval time.Duration) error {
	metrics.InitMetrics()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthServer, trafficServer := a.servers()
	errs := make(chan error, 2)
	for _, srv := range []*http.Server{healthServer, trafficServer} {
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errs <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}(srv)
	}
	a.log.Info("server started", "health", healthServer.Addr, "traffic", trafficServer.Addr, "interval", interval.String())

	go a.loop(ctx, interval)

	var err error
	select {
	case <-ctx.Done():
	case err = <-errs:
	}
	stopServers(a.log, healthServer, trafficServer)
	return err
}

func (a *app) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.runOnce(ctx); err != nil {
			a.log.Error(err, "sync failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-a.trigger:
		}
	}
}

func (a *app) servers() (*http.Server, *http.Server) {
	health := new(HealthHandler)
	syncNow := &SyncHandler{app: a}
	ddnsApi := &ExternalHandler{app: a}
	healthRouter := http.NewServeMux()
	trafficRouter := http.NewServeMux()

	healthRouter.Handle("/metrics", promhttp.Handler())
	healthRouter.HandleFunc("/health/ready", health.ready)
	healthRouter.HandleFunc("/health/alive", health.alive)
	trafficRouter.HandleFunc("/v1/sync", syncNow.do)
	trafficRouter.HandleFunc("/v1/get", ddnsApi.get)

	return &http.Server{Addr: healthAddr, Handler: healthRouter},
		&http.Server{Addr: trafficAddr, Handler: trafficRouter}
}

func (a *app) serveServerless(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	router := http.NewServeMux()
	router.HandleFunc("/", a.StartServerless)
	srv := &http.Server{Addr: trafficAddr, Handler: router}

	errs := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- fmt.Errorf("listen serverless server: %w", err)
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errs:
	}
	stopServers(a.log, srv)
	return err
}

// StartServerless runs one sync per request.
func (a *app) StartServerless(w http.ResponseWriter, r *http.Request) {
	metrics.IncrementReqs(r)
	result, err := a.runOnce(r.Context())
	if err != nil {
		a.log.Error(err, "DNS update failed")
		http.Error(w, "DNS update failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(string(result.Outcome)))
}

func stopServers(log logr.Logger, servers ...*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			log.Error(err, "server unable to shutdown", "addr", srv.Addr)
		}
	}
	log.Info("servers stopped gracefully")
}
