package ipprovider

import (
	"context"
	"net/http"
)

// TextSource queries an echo service that answers with the bare address
// as plain text.
type TextSource struct {
	Name    string
	BaseUrl string
	Client  *http.Client
}

func (i *TextSource) GetProviderName() string {
	return i.Name
}

func (i *TextSource) GetCurrentIP(ctx context.Context) (string, error) {
	body, err := fetch(ctx, i.Client, i.BaseUrl)
	if err != nil {
		return "", err
	}
	return parseIP(string(body))
}
