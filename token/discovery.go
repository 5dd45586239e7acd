package token

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Discovery resolves and remembers token endpoints from OpenID issuer metadata.
type Discovery struct {
	httpClient *http.Client

	mu        sync.RWMutex
	endpoints map[string]string // issuer -> token endpoint
}

func NewDiscovery(httpClient *http.Client) *Discovery {
	return &Discovery{
		httpClient: httpClient,
		endpoints:  make(map[string]string),
	}
}

func (d *Discovery) TokenURL(ctx context.Context, issuer string) (string, error) {
	d.mu.RLock()
	tokenURL, exists := d.endpoints[issuer]
	d.mu.RUnlock()
	if exists {
		return tokenURL, nil
	}

	if d.httpClient != nil {
		ctx = oidc.ClientContext(ctx, d.httpClient)
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", fmt.Errorf("[Discovery TokenURL] failed to discover %s: %w", issuer, err)
	}

	tokenURL = provider.Endpoint().TokenURL
	if tokenURL == "" {
		return "", fmt.Errorf("[Discovery TokenURL] issuer %s advertises no token endpoint", issuer)
	}

	d.mu.Lock()
	d.endpoints[issuer] = tokenURL
	d.mu.Unlock()

	return tokenURL, nil
}
