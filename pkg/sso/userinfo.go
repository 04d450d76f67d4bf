package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// maxUserinfoBytes bounds the userinfo response body
const maxUserinfoBytes = 1 << 20

// HTTPUserinfoFetcher calls userinfo endpoints over HTTP
type HTTPUserinfoFetcher struct {
	client *http.Client
	logger *observability.Logger
}

// NewHTTPUserinfoFetcher creates a fetcher. The client's timeout bounds
// each call; a nil client gets an instrumented one with a 10s timeout.
func NewHTTPUserinfoFetcher(client *http.Client, logger *observability.Logger) *HTTPUserinfoFetcher {
	if client == nil {
		client = observability.NewHTTPClient(defaultHTTPTimeout)
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &HTTPUserinfoFetcher{client: client, logger: logger}
}

// FetchUserinfo GETs the endpoint with the access token as bearer credential
func (f *HTTPUserinfoFetcher) FetchUserinfo(ctx context.Context, endpoint, accessToken string) (map[string]interface{}, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.client)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	client.Timeout = f.client.Timeout

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		f.logger.WithError(err).Debug("userinfo request failed")
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.logger.WithField("status", resp.StatusCode).Debug("userinfo endpoint returned non-200")
		return nil, fmt.Errorf("userinfo endpoint returned status %d", resp.StatusCode)
	}

	var claims map[string]interface{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserinfoBytes)).Decode(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo response: %w", err)
	}
	return claims, nil
}
