package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.yaml.in/yaml/v3"
)

const (
	ProviderCloudflare = "cloudflare"
	ProviderRoute53    = "route53"
)

// Target identifies the single record kept in sync.
type Target struct {
	Name string
	Type string
}

type Config struct {
	APIToken         string
	ZoneID           string
	Target           Target
	TTL              int
	CacheExpiryHours float64
	CacheFile        string
	CloudProvider    string
	Interval         time.Duration
	HTTPTimeout      time.Duration
	Verbose          bool
}

// Error reports configuration that is missing or unusable.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func Default() Config {
	return Config{
		Target:           Target{Type: "A"},
		TTL:              1,
		CacheExpiryHours: 24,
		CacheFile:        "./cache.json",
		CloudProvider:    ProviderCloudflare,
		HTTPTimeout:      15 * time.Second,
	}
}

// fileConfig mirrors Config in the optional YAML file.
type fileConfig struct {
	APIToken         string   `yaml:"api_token"`
	ZoneID           string   `yaml:"zone_id"`
	RecordName       string   `yaml:"record_name"`
	RecordType       string   `yaml:"record_type"`
	TTL              *int     `yaml:"ttl"`
	CacheExpiryHours *float64 `yaml:"cache_expiry_hours"`
	CacheFile        string   `yaml:"cache_file"`
	CloudProvider    string   `yaml:"cloud_provider"`
	Interval         string   `yaml:"interval"`
	HTTPTimeout      string   `yaml:"http_timeout"`
	Verbose          *bool    `yaml:"verbose"`
}

// Load builds the configuration from, in increasing precedence, defaults,
// the optional YAML file, the environment and command line flags.
func Load(args []string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()

	var flagValues Config
	var configPath string
	fs := pflag.NewFlagSet("ddns", pflag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "path to an optional yaml configuration file.")
	fs.StringVar(&flagValues.APIToken, "api-token", "", "cloudflare api token.")
	fs.StringVar(&flagValues.ZoneID, "zone-id", "", "set this to the zone identifier holding the record.")
	fs.StringVar(&flagValues.Target.Name, "record-name", "", "set this to the record in which you want to keep in sync.")
	fs.StringVar(&flagValues.Target.Type, "record-type", cfg.Target.Type, "type of the record, `A` or `AAAA`.")
	fs.IntVar(&flagValues.TTL, "ttl", cfg.TTL, "ttl sent on update, 1 means automatic.")
	fs.Float64Var(&flagValues.CacheExpiryHours, "cache-expiry-hours", cfg.CacheExpiryHours, "hours before the cache forces a provider check.")
	fs.StringVar(&flagValues.CacheFile, "cache-file", cfg.CacheFile, "location of the cache file.")
	fs.StringVar(&flagValues.CloudProvider, "cloud-provider", cfg.CloudProvider, "dns provider holding the record: cloudflare or route53.")
	fs.DurationVar(&flagValues.Interval, "interval", 0, "run continuously, syncing at this interval. 0 runs once and exits.")
	fs.DurationVar(&flagValues.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "timeout for every outgoing http request.")
	fs.BoolVarP(&flagValues.Verbose, "verbose", "v", false, "enable verbose logging.")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if configPath == "" {
		configPath = getenv("DDNS_CONFIG")
	}
	if configPath != "" {
		if err := applyFile(&cfg, configPath); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg, getenv)
	applyFlags(&cfg, &flagValues, fs)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	setString(&cfg.APIToken, fc.APIToken)
	setString(&cfg.ZoneID, fc.ZoneID)
	setString(&cfg.Target.Name, fc.RecordName)
	setString(&cfg.Target.Type, fc.RecordType)
	setString(&cfg.CacheFile, fc.CacheFile)
	setString(&cfg.CloudProvider, fc.CloudProvider)
	if fc.TTL != nil {
		cfg.TTL = *fc.TTL
	}
	if fc.CacheExpiryHours != nil {
		cfg.CacheExpiryHours = *fc.CacheExpiryHours
	}
	if fc.Verbose != nil {
		cfg.Verbose = *fc.Verbose
	}
	if fc.Interval != "" {
		d, err := time.ParseDuration(fc.Interval)
		if err != nil {
			return fmt.Errorf("parsing config file: interval: %w", err)
		}
		cfg.Interval = d
	}
	if fc.HTTPTimeout != "" {
		d, err := time.ParseDuration(fc.HTTPTimeout)
		if err != nil {
			return fmt.Errorf("parsing config file: http_timeout: %w", err)
		}
		cfg.HTTPTimeout = d
	}
	return nil
}

// applyEnv overlays environment variables. Numeric values that do not
// parse are ignored and the previous value is kept.
func applyEnv(cfg *Config, getenv func(string) string) {
	setString(&cfg.APIToken, getenv("CLOUDFLARE_API_TOKEN"))
	setString(&cfg.ZoneID, getenv("CLOUDFLARE_ZONE_ID"))
	setString(&cfg.Target.Name, getenv("DNS_RECORD_NAME"))
	setString(&cfg.Target.Type, getenv("DNS_RECORD_TYPE"))
	setString(&cfg.CacheFile, getenv("DDNS_CACHE_FILE"))
	setString(&cfg.CloudProvider, getenv("DDNS_CLOUD_PROVIDER"))

	if v, err := strconv.Atoi(getenv("DNS_RECORD_TTL")); err == nil {
		cfg.TTL = v
	}
	if v, err := strconv.ParseFloat(getenv("CACHE_EXPIRY_HOURS"), 64); err == nil {
		cfg.CacheExpiryHours = v
	}
	if v, err := time.ParseDuration(getenv("DDNS_INTERVAL")); err == nil {
		cfg.Interval = v
	}
	if v, err := time.ParseDuration(getenv("DDNS_HTTP_TIMEOUT")); err == nil {
		cfg.HTTPTimeout = v
	}
	if v, err := strconv.ParseBool(getenv("DDNS_VERBOSE")); err == nil {
		cfg.Verbose = v
	}
}

func applyFlags(cfg *Config, values *Config, fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "api-token":
			cfg.APIToken = values.APIToken
		case "zone-id":
			cfg.ZoneID = values.ZoneID
		case "record-name":
			cfg.Target.Name = values.Target.Name
		case "record-type":
			cfg.Target.Type = values.Target.Type
		case "ttl":
			cfg.TTL = values.TTL
		case "cache-expiry-hours":
			cfg.CacheExpiryHours = values.CacheExpiryHours
		case "cache-file":
			cfg.CacheFile = values.CacheFile
		case "cloud-provider":
			cfg.CloudProvider = values.CloudProvider
		case "interval":
			cfg.Interval = values.Interval
		case "http-timeout":
			cfg.HTTPTimeout = values.HTTPTimeout
		case "verbose":
			cfg.Verbose = values.Verbose
		}
	})
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate checks that everything needed before any network activity is present.
func (c *Config) Validate() error {
	var problems []string
	switch c.CloudProvider {
	case ProviderCloudflare:
		if c.APIToken == "" {
			problems = append(problems, "api token is required (CLOUDFLARE_API_TOKEN or --api-token)")
		}
	case ProviderRoute53:
	default:
		problems = append(problems, fmt.Sprintf("unsupported cloud provider %q", c.CloudProvider))
	}
	if c.ZoneID == "" {
		problems = append(problems, "zone id is required (CLOUDFLARE_ZONE_ID or --zone-id)")
	}
	if c.Target.Name == "" {
		problems = append(problems, "record name is required (DNS_RECORD_NAME or --record-name)")
	}
	if c.Target.Type == "" {
		problems = append(problems, "record type must not be empty")
	}
	if math.IsNaN(c.CacheExpiryHours) {
		problems = append(problems, "cache expiry hours must be a number")
	}
	if c.TTL < 1 {
		problems = append(problems, fmt.Sprintf("ttl must be at least 1, got %d", c.TTL))
	}
	if c.Interval < 0 {
		problems = append(problems, "interval must not be negative")
	}
	if c.HTTPTimeout <= 0 {
		problems = append(problems, "http timeout must be positive")
	}
	if len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}
