package authz

import (
	"github.com/golang-jwt/jwt/v5"
)

// identityClaims is the internal claims type used for token parsing.
type identityClaims struct {
	jwt.RegisteredClaims
	Groups []string `json:"groups"`
}

// TokenGroups verifies proxy-injected identity tokens. The credential is an
// HMAC-signed JWT whose `sub` claim names the user and whose `groups` claim
// lists group memberships. Anything that fails verification resolves to the
// anonymous identity.
type TokenGroups struct {
	secret []byte
}

// NewTokenGroups builds a token verifier for the shared secret. An empty
// secret disables verification; every credential then resolves to anonymous.
func NewTokenGroups(secret string) *TokenGroups {
	return &TokenGroups{secret: []byte(secret)}
}

// Identify parses and verifies the credential as an identity token.
func (t *TokenGroups) Identify(credential string) Identity {
	if credential == "" || len(t.secret) == 0 {
		return Anonymous()
	}

	var claims identityClaims
	_, err := jwt.ParseWithClaims(credential, &claims, func(_ *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil || claims.Subject == "" {
		return Anonymous()
	}

	return Identity{
		User:   claims.Subject,
		Groups: append([]string(nil), claims.Groups...),
	}
}

// Groups returns the group claims carried by the credential.
func (t *TokenGroups) Groups(credential string) []string {
	return t.Identify(credential).Groups
}

// IsUserInGroup reports whether the credential carries the group claim.
func (t *TokenGroups) IsUserInGroup(credential, group string) bool {
	for _, held := range t.Groups(credential) {
		if held == group {
			return true
		}
	}
	return false
}
