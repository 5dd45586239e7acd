package token

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jrsteele09/tenant-insights/internal/errors"
)

// Credential is the client-credentials material for one external service account.
// Either TokenURL or Issuer must be set; with only an Issuer the token endpoint is
// discovered from the issuer's OpenID configuration.
type Credential struct {
	ID           string   // Cache key; derived from the other fields when empty
	ClientID     string   // OAuth2 client id
	ClientSecret string   // OAuth2 client secret
	TokenURL     string   // e.g. "https://login.microsoftonline.com/{tenant}/oauth2/v2.0/token"
	Issuer       string   // e.g. "https://rmm.example.com"
	Scopes       []string // e.g. ["https://graph.microsoft.com/.default"]
}

// Key identifies the credential in the token cache.
func (c Credential) Key() string {
	if c.ID != "" {
		return c.ID
	}
	h := sha256.Sum256([]byte(strings.Join([]string{
		c.TokenURL, c.Issuer, c.ClientID, strings.Join(c.Scopes, " "),
	}, "|")))
	return hex.EncodeToString(h[:8])
}

func (c Credential) Validate() error {
	if c.ClientID == "" {
		return errors.Wrapf(errors.ErrMissingCredential, "client id")
	}
	if c.TokenURL == "" && c.Issuer == "" {
		return errors.Wrapf(errors.ErrMissingCredential, "token url or issuer")
	}
	return nil
}

// String never includes the secret.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{id=%s client=%s}", c.Key(), c.ClientID)
}

// AccessToken is a bearer token and the time it stops being valid.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// FreshAt reports whether the token still has more than margin of life at now.
func (t AccessToken) FreshAt(now time.Time, margin time.Duration) bool {
	return t.Value != "" && now.Add(margin).Before(t.ExpiresAt)
}
