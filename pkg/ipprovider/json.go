package ipprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// JSONSource queries an echo service that answers with a JSON object
// carrying the caller's address in an "ip" field.
type JSONSource struct {
	Name    string
	BaseUrl string
	Client  *http.Client
}

type IpInfo struct {
	Ip string `json:"ip"`
}

func (i *JSONSource) GetProviderName() string {
	return i.Name
}

func (i *JSONSource) GetCurrentIP(ctx context.Context) (string, error) {
	body, err := fetch(ctx, i.Client, i.BaseUrl)
	if err != nil {
		return "", err
	}

	ipInfo := IpInfo{}
	if err := json.Unmarshal(body, &ipInfo); err != nil {
		return "", fmt.Errorf("decoding response from %s: %w", i.Name, err)
	}
	if ipInfo.Ip == "" {
		return "", errors.New("response has no ip field")
	}
	return parseIP(ipInfo.Ip)
}
