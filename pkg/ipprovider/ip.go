package ipprovider

import "context"

type Provider interface {
	GetCurrentIP(ctx context.Context) (string, error)
	GetProviderName() string
}
