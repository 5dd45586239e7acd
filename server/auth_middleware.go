package server

import (
	"context"
	"net/http"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeySubject stores the authenticated caller
	ContextKeySubject ContextKey = "subject"
	// ContextKeyCapabilities stores the caller's capability set
	ContextKeyCapabilities ContextKey = "capabilities"
)

type Capability string

const (
	CapScoresRead         Capability = "scores:read"
	CapScoresInvalidate   Capability = "scores:invalidate"
	CapLicensesRead       Capability = "licenses:read"
	CapLicensesInvalidate Capability = "licenses:invalidate"
	CapFleetRead          Capability = "fleet:read"
	CapDevicesAct         Capability = "devices:act"
	CapTenantsRead        Capability = "tenants:read"
	CapTenantsManage      Capability = "tenants:manage"
)

// roleCapabilities maps the roles claim to capabilities. Unknown roles grant nothing.
var roleCapabilities = map[string][]Capability{
	"viewer": {CapScoresRead, CapLicensesRead, CapFleetRead, CapTenantsRead},
	"technician": {
		CapScoresRead, CapLicensesRead, CapFleetRead, CapTenantsRead,
		CapDevicesAct,
	},
	"admin": {
		CapScoresRead, CapLicensesRead, CapFleetRead, CapTenantsRead,
		CapDevicesAct, CapScoresInvalidate, CapLicensesInvalidate, CapTenantsManage,
	},
}

// Claims are the access token claims the API reads.
type Claims struct {
	Roles []string `json:"roles"`
	jwtlib.RegisteredClaims
}

func capabilitiesFor(roles []string) map[Capability]bool {
	caps := make(map[Capability]bool)
	for _, role := range roles {
		for _, c := range roleCapabilities[strings.ToLower(role)] {
			caps[c] = true
		}
	}
	return caps
}

// RequireAuth is middleware that validates an HS256 Bearer access token
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	parserOpts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithExpirationRequired(),
	}
	if issuer := s.config.GetJWTIssuer(); issuer != "" {
		parserOpts = append(parserOpts, jwtlib.WithIssuer(issuer))
	}
	parser := jwtlib.NewParser(parserOpts...)

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, "unauthorized", "Missing Authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
				writeJSONError(w, "unauthorized", "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(parts[1], claims, func(*jwtlib.Token) (interface{}, error) {
				return s.jwtKey, nil
			})
			if err != nil || !token.Valid {
				writeJSONError(w, "unauthorized", "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySubject, claims.Subject)
			ctx = context.WithValue(ctx, ContextKeyCapabilities, capabilitiesFor(claims.Roles))
			next(w, r.WithContext(ctx))
		}
	}
}

// RequireCapability must be chained after RequireAuth
func (s *Server) RequireCapability(required Capability) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			caps, _ := r.Context().Value(ContextKeyCapabilities).(map[Capability]bool)
			if !caps[required] {
				writeJSONError(w, "forbidden", "Missing capability: "+string(required), http.StatusForbidden)
				return
			}
			next(w, r)
		}
	}
}

func subjectFrom(ctx context.Context) string {
	sub, _ := ctx.Value(ContextKeySubject).(string)
	return sub
}
