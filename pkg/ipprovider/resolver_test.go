package ipprovider_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
	"github.com/larivierec/cloudflare-ddns-sync/pkg/ipprovider"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestJSONSource(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"ip":"203.0.113.5"}`)
	src := &ipprovider.JSONSource{Name: "test", BaseUrl: srv.URL}

	ip, err := src.GetCurrentIP(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, ip, "203.0.113.5")
}

func TestJSONSource_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"not json", http.StatusOK, "203.0.113.5"},
		{"missing field", http.StatusOK, `{"origin":"203.0.113.5"}`},
		{"not an address", http.StatusOK, `{"ip":"localhost"}`},
		{"server error", http.StatusBadGateway, `{"ip":"203.0.113.5"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := serve(t, tc.status, tc.body)
			src := &ipprovider.JSONSource{Name: "test", BaseUrl: srv.URL}
			_, err := src.GetCurrentIP(context.Background())
			assert.Assert(t, err != nil)
		})
	}
}

func TestTextSource_TrimsWhitespace(t *testing.T) {
	srv := serve(t, http.StatusOK, "  2001:db8::1\n")
	src := &ipprovider.TextSource{Name: "text", BaseUrl: srv.URL}

	ip, err := src.GetCurrentIP(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, ip, "2001:db8::1")
}

func TestResolve_SkipsFailedSources(t *testing.T) {
	broken := serve(t, http.StatusOK, "not json")
	good := serve(t, http.StatusOK, `{"ip":"198.51.100.9"}`)

	var calls []string
	r := &ipprovider.Resolver{
		Sources: []ipprovider.Provider{
			&ipprovider.JSONSource{Name: "broken", BaseUrl: broken.URL},
			&ipprovider.JSONSource{Name: "good", BaseUrl: good.URL},
		},
		Fallback:  &ipprovider.TextSource{Name: "fallback", BaseUrl: good.URL},
		Increment: func(name string) { calls = append(calls, name) },
		Log:       logr.Discard(),
	}

	ip, err := r.Resolve(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, ip, "198.51.100.9")
	assert.DeepEqual(t, calls, []string{"broken", "good"})
}

func TestResolve_UsesFallback(t *testing.T) {
	broken := serve(t, http.StatusInternalServerError, "")
	text := serve(t, http.StatusOK, "203.0.113.5\n")

	r := &ipprovider.Resolver{
		Sources: []ipprovider.Provider{
			&ipprovider.JSONSource{Name: "one", BaseUrl: broken.URL},
			&ipprovider.JSONSource{Name: "two", BaseUrl: broken.URL},
		},
		Fallback: &ipprovider.TextSource{Name: "fallback", BaseUrl: text.URL},
		Log:      logr.Discard(),
	}

	ip, err := r.Resolve(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, ip, "203.0.113.5")
}

func TestResolve_AllFail(t *testing.T) {
	broken := serve(t, http.StatusServiceUnavailable, "")
	srv := httptest.NewServer(http.NotFoundHandler())
	closedURL := srv.URL
	srv.Close()

	r := &ipprovider.Resolver{
		Sources:  []ipprovider.Provider{&ipprovider.JSONSource{Name: "one", BaseUrl: broken.URL}},
		Fallback: &ipprovider.TextSource{Name: "fallback", BaseUrl: closedURL},
		Log:      logr.Discard(),
	}

	_, err := r.Resolve(context.Background())
	var resErr *ipprovider.ResolutionError
	assert.Assert(t, errors.As(err, &resErr))
	assert.Check(t, is.Contains(err.Error(), "one"))
	assert.Check(t, is.Contains(err.Error(), "fallback"))
}

func TestResolve_NoProviders(t *testing.T) {
	r := &ipprovider.Resolver{}
	_, err := r.Resolve(context.Background())
	var resErr *ipprovider.ResolutionError
	assert.Assert(t, errors.As(err, &resErr))
}

func TestGetCurrentIP_CountsRequests(t *testing.T) {
	srv := serve(t, http.StatusOK, "192.0.2.1")
	count := 0
	ip, err := ipprovider.GetCurrentIP(context.Background(),
		&ipprovider.TextSource{Name: "text", BaseUrl: srv.URL},
		func(string) { count++ })
	assert.NilError(t, err)
	assert.Equal(t, ip, "192.0.2.1")
	assert.Equal(t, count, 1)
}
