package client

import (
	"context"
	"net/http"
	"time"

	"livetv-hub/work/config"
)

// HeaderSettingClient wraps http.Client to stamp every outbound request with
// the configured User-Agent, Origin and Referer headers. Stream sources often
// gate on these, so they are applied centrally instead of at each call site.
type HeaderSettingClient struct {
	Client *http.Client
	config *config.Config
}

// NewHeaderSettingClient builds the shared outbound client. There is no
// overall timeout because live streams are long-lived; only the response
// header wait is bounded.
func NewHeaderSettingClient(cfg *config.Config) *HeaderSettingClient {
	client := &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}

	return &HeaderSettingClient{
		Client: client,
		config: cfg,
	}
}

// Do executes the request with the standard headers applied.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

// Get is a convenience wrapper for header-stamped GET requests.
func (hsc *HeaderSettingClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return hsc.Do(req)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", hsc.config.UserAgent)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Accept", "*/*")

	if hsc.config.ReqOrigin != "" {
		req.Header.Set("Origin", hsc.config.ReqOrigin)
	}
	if hsc.config.ReqReferrer != "" {
		req.Header.Set("Referer", hsc.config.ReqReferrer)
	}
}
