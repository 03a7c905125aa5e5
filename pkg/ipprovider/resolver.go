package ipprovider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
)

// ResolutionError is returned when every configured source failed.
type ResolutionError struct {
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unable to determine public ip: %v", e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Resolver walks Sources in order and returns the first address one of
// them reports. Fallback is tried last, once every source has failed.
type Resolver struct {
	Sources   []Provider
	Fallback  Provider
	Increment IncrementFunc
	Log       logr.Logger
}

// DefaultSources are the JSON echo services queried before the fallback.
func DefaultSources(client *http.Client) []Provider {
	return []Provider{
		&JSONSource{Name: "ipify", BaseUrl: "https://api.ipify.org?format=json", Client: client},
		&JSONSource{Name: "myip", BaseUrl: "https://api.myip.com", Client: client},
		&JSONSource{Name: "ifconfig.co", BaseUrl: "https://ifconfig.co/json", Client: client},
	}
}

// DefaultFallback is the plain text service used when all JSON sources fail.
func DefaultFallback(client *http.Client) Provider {
	return &TextSource{Name: "ipinfo", BaseUrl: "https://ipinfo.io/ip", Client: client}
}

func NewResolver(client *http.Client, log logr.Logger, increment IncrementFunc) *Resolver {
	return &Resolver{
		Sources:   DefaultSources(client),
		Fallback:  DefaultFallback(client),
		Increment: increment,
		Log:       log,
	}
}

func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	var result *multierror.Error

	providers := r.Sources
	if r.Fallback != nil {
		providers = append(providers[:len(providers):len(providers)], r.Fallback)
	}
	if len(providers) == 0 {
		return "", &ResolutionError{Err: errors.New("no ip providers configured")}
	}

	for _, provider := range providers {
		ip, err := GetCurrentIP(ctx, provider, r.Increment)
		if err == nil {
			r.Log.V(1).Info("resolved public ip", "provider", provider.GetProviderName(), "ip", ip)
			return ip, nil
		}
		r.Log.V(1).Info("ip provider failed", "provider", provider.GetProviderName(), "error", err.Error())
		result = multierror.Append(result, fmt.Errorf("%s: %w", provider.GetProviderName(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", &ResolutionError{Err: result.ErrorOrNil()}
}
