package cloudprovider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAPIResponseFailure is wrapped by every ProviderError.
var ErrAPIResponseFailure = errors.New("API response indicates failure")

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e APIError) String() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// ProviderError describes a response the provider rejected or that could
// not be used, including lookups that found no suitable record.
type ProviderError struct {
	Op     string
	Errors []APIError
	Msg    string
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if len(e.Errors) > 0 {
		details := make([]string, 0, len(e.Errors))
		for _, apiErr := range e.Errors {
			details = append(details, apiErr.String())
		}
		if e.Msg != "" {
			b.WriteString(": ")
		}
		b.WriteString(strings.Join(details, ", "))
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return ErrAPIResponseFailure
}
