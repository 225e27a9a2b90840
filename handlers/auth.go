package handlers

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/Nerzal/gocloak/v13"
)

type Principal struct {
	Subject string
	Method  string
}

const (
	AuthAPIKey   = "api_key"
	AuthKeycloak = "keycloak"
)

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller authenticated for this request, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type AuthHandler struct {
	keycloak *gocloak.GoCloak
	realm    string
	apiKey   string
}

// NewAuthHandler accepts requests carrying apiKey in x-api-key, and Keycloak
// bearer tokens when keycloak is not nil.
func NewAuthHandler(keycloak *gocloak.GoCloak, realm, apiKey string) *AuthHandler {
	return &AuthHandler{
		keycloak: keycloak,
		realm:    realm,
		apiKey:   apiKey,
	}
}

func (h *AuthHandler) Authorize(ctx context.Context, keyHeader, authHeader string) Result {
	if keyHeader != "" {
		if h.apiKey != "" && subtle.ConstantTimeCompare([]byte(keyHeader), []byte(h.apiKey)) == 1 {
			return Ok(Principal{Subject: "api-key", Method: AuthAPIKey})
		}
		return Unauthorized("Invalid API key")
	}

	if authHeader == "" {
		return Unauthorized("Missing authorization header")
	}
	if h.keycloak == nil {
		return Unauthorized("Bearer tokens are not accepted")
	}

	return h.principalFromAuthHeader(ctx, authHeader)
}

func (h *AuthHandler) principalFromAuthHeader(ctx context.Context, authHeader string) Result {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return Unauthorized("Invalid authorization header format")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")

	if _, _, err := h.keycloak.DecodeAccessToken(ctx, token, h.realm); err != nil {
		return Unauthorized("Invalid token")
	}

	userInfo, err := h.keycloak.GetUserInfo(ctx, token, h.realm)
	if err != nil {
		return InternalError(err, "Failed to get user info")
	}
	if userInfo == nil || userInfo.Sub == nil {
		return Unauthorized("User not found")
	}

	return Ok(Principal{Subject: *userInfo.Sub, Method: AuthKeycloak})
}
