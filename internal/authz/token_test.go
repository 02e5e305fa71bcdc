package authz

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-identity-secret"

// signToken signs claims with the given method and secret.
func signToken(t *testing.T, method jwt.SigningMethod, secret string, claims jwt.MapClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

// TestTokenGroupsIdentifiesValidToken ensures sub and groups claims map onto
// the identity.
func TestTokenGroupsIdentifiesValidToken(t *testing.T) {
	source := NewTokenGroups(testSecret)
	credential := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub":    "ada",
		"groups": []string{"staff", "operators"},
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	identity := source.Identify(credential)
	if identity.User != "ada" {
		t.Fatalf("user = %q, want %q", identity.User, "ada")
	}
	if len(identity.Groups) != 2 || identity.Groups[0] != "staff" || identity.Groups[1] != "operators" {
		t.Fatalf("groups = %v, want [staff operators]", identity.Groups)
	}

	if !source.IsUserInGroup(credential, "operators") {
		t.Error("expected operators membership")
	}
	if source.IsUserInGroup(credential, "admins") {
		t.Error("unexpected admins membership")
	}
}

// TestTokenGroupsFallsBackToAnonymous ensures every verification failure
// resolves to the anonymous identity instead of an error.
func TestTokenGroupsFallsBackToAnonymous(t *testing.T) {
	source := NewTokenGroups(testSecret)

	tests := []struct {
		name       string
		credential string
	}{
		{name: "empty credential", credential: ""},
		{name: "garbage credential", credential: "not-a-token"},
		{
			name: "wrong secret",
			credential: signToken(t, jwt.SigningMethodHS256, "other-secret", jwt.MapClaims{
				"sub": "ada",
				"exp": time.Now().Add(time.Hour).Unix(),
			}),
		},
		{
			name: "expired token",
			credential: signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
				"sub": "ada",
				"exp": time.Now().Add(-time.Hour).Unix(),
			}),
		},
		{
			name: "missing subject",
			credential: signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
				"groups": []string{"staff"},
				"exp":    time.Now().Add(time.Hour).Unix(),
			}),
		},
		{
			name: "disallowed signing method",
			credential: signToken(t, jwt.SigningMethodHS384, testSecret, jwt.MapClaims{
				"sub": "ada",
				"exp": time.Now().Add(time.Hour).Unix(),
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity := source.Identify(tt.credential)
			if identity.User != AnonymousUser {
				t.Fatalf("user = %q, want %q", identity.User, AnonymousUser)
			}
			if len(identity.Groups) != 0 {
				t.Fatalf("groups = %v, want none", identity.Groups)
			}
		})
	}
}

// TestTokenGroupsWithoutSecret ensures identification is disabled without a
// configured secret.
func TestTokenGroupsWithoutSecret(t *testing.T) {
	source := NewTokenGroups("")
	credential := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub": "ada",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if identity := source.Identify(credential); identity.User != AnonymousUser {
		t.Fatalf("user = %q, want %q", identity.User, AnonymousUser)
	}
}

// TestStaticGroups ensures the static source maps users to configured groups.
func TestStaticGroups(t *testing.T) {
	source := StaticGroups{
		"ada":   {"staff", "operators"},
		"grace": {"staff"},
	}

	if !source.IsUserInGroup("ada", "operators") {
		t.Error("expected ada in operators")
	}
	if source.IsUserInGroup("grace", "operators") {
		t.Error("unexpected grace in operators")
	}
	if groups := source.Groups("ada"); len(groups) != 2 {
		t.Fatalf("groups = %v, want 2 entries", groups)
	}
	if groups := source.Groups("unknown"); len(groups) != 0 {
		t.Fatalf("groups = %v, want none", groups)
	}

	identity := source.Identify("grace")
	if identity.User != "grace" || len(identity.Groups) != 1 {
		t.Fatalf("identity = %+v, want grace with one group", identity)
	}
	if anonymous := source.Identify(""); anonymous.User != AnonymousUser {
		t.Fatalf("empty credential user = %q, want %q", anonymous.User, AnonymousUser)
	}
}
