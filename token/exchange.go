package token

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jrsteele09/tenant-insights/internal/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCredentialsExchanger exchanges a Credential for a token using the
// OAuth2 client-credentials grant.
type ClientCredentialsExchanger struct {
	httpClient *http.Client
	discovery  *Discovery
}

var _ Exchanger = (*ClientCredentialsExchanger)(nil)

func NewClientCredentialsExchanger(httpClient *http.Client) *ClientCredentialsExchanger {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &ClientCredentialsExchanger{
		httpClient: httpClient,
		discovery:  NewDiscovery(httpClient),
	}
}

func (e *ClientCredentialsExchanger) Exchange(ctx context.Context, cred Credential) (*Grant, error) {
	tokenURL := cred.TokenURL
	if tokenURL == "" {
		discovered, err := e.discovery.TokenURL(ctx, cred.Issuer)
		if err != nil {
			return nil, &errors.AuthError{Err: err}
		}
		tokenURL = discovered
	}

	cc := clientcredentials.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       cred.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, e.httpClient))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			return nil, &errors.AuthError{Status: status, Body: string(re.Body), Err: err}
		}
		if isTimeout(err) {
			return nil, &errors.TimeoutError{Path: tokenURL, Err: err}
		}
		return nil, &errors.AuthError{Err: err}
	}

	return &Grant{AccessToken: tok.AccessToken, ExpiresIn: expiresIn(tok)}, nil
}

// expiresIn prefers the wire expires_in value so the cache can compute expiry
// against its own clock; it falls back to the library's computed Expiry.
func expiresIn(tok *oauth2.Token) time.Duration {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return time.Duration(v) * time.Second
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.Duration(n) * time.Second
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	if !tok.Expiry.IsZero() {
		return time.Until(tok.Expiry)
	}
	return 0
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
